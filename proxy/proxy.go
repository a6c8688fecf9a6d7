package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mohamedbeat/yeet/logger"
	"github.com/mohamedbeat/yeet/redirect"
)

type Option func(*Proxy)

func WithTimeout(d time.Duration) Option {
	return func(p *Proxy) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithRootCA enables MITM for CONNECT tunnels using ca to sign leaf certificates.
func WithRootCA(ca *tls.Certificate) Option {
	return func(p *Proxy) { p.rootCA = ca }
}

// WithUpstreamTLS sets the client config used to reach MITM'd origins.
func WithUpstreamTLS(cfg *tls.Config) Option {
	return func(p *Proxy) { p.upstreamTLS = cfg }
}

func WithObserver(o Observer) Option {
	return func(p *Proxy) {
		if o != nil {
			p.observer = o
		}
	}
}

func New(logger *zap.Logger, opts ...Option) *Proxy {
	p := &Proxy{
		Logger:      logger,
		timeout:     defaultTimeout,
		upstreamTLS: &tls.Config{MinVersion: tls.VersionTLS12},
		observer:    nopObserver{},
		certs:       make(map[string]tls.Certificate),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// LoadRootCA reads a PEM key pair and makes sure its leaf is parsed.
func LoadRootCA(certFile, keyFile string) (*tls.Certificate, error) {
	ca, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load root CA: %w", err)
	}
	if ca.Leaf == nil {
		leaf, err := x509.ParseCertificate(ca.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("failed to parse root CA: %w", err)
		}
		ca.Leaf = leaf
	}
	return &ca, nil
}

// Start runs the proxy server
func (p *Proxy) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return p.Serve(listener)
}

// Serve accepts connections on listener until Shutdown is called.
func (p *Proxy) Serve(listener net.Listener) error {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		listener.Close()
		return nil
	}
	p.listener = listener
	p.mu.Unlock()
	defer listener.Close()

	p.Logger.Info("Proxy server started",
		zap.String("addr", listener.Addr().String()),
		zap.Bool("mitm", p.rootCA != nil))

	for {
		conn, err := listener.Accept()
		if err != nil {
			p.mu.Lock()
			closing := p.closing
			p.mu.Unlock()
			if closing || errors.Is(err, net.ErrClosed) {
				return nil
			}
			p.Logger.Error("Error accepting connection", zap.Error(err))
			continue
		}

		p.mu.Lock()
		if p.closing {
			p.mu.Unlock()
			conn.Close()
			return nil
		}
		p.wg.Add(1)
		p.mu.Unlock()

		go func() {
			defer p.wg.Done()
			p.handleConnection(conn)
		}()
	}
}

// Shutdown stops accepting and waits for in-flight connections.
func (p *Proxy) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closing = true
	if p.listener != nil {
		p.listener.Close()
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.Logger.Info("Proxy server stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// handleConnection routes the connection to appropriate handler
func (p *Proxy) handleConnection(conn net.Conn) {
	defer conn.Close()
	client := newIdleConn(conn, p.timeout)

	reader := bufio.NewReader(client)
	peek, err := reader.Peek(7)
	if err != nil {
		p.Logger.Debug("Error peeking connection", zap.Error(err))
		return
	}

	if string(peek) == "CONNECT" {
		p.handleHTTPS(client, reader)
	} else {
		p.handleHTTP(client, reader)
	}
}

// intercept runs the redirect decision for target and answers the client
// when it matches. It reports whether the request was consumed.
func (p *Proxy) intercept(client net.Conn, target string) bool {
	d := redirect.Intercept(target)
	p.observer.Observe(d.Outcome)

	if !d.Redirect() {
		p.Logger.Debug("Request not intercepted",
			zap.String("url", target),
			zap.Stringer("outcome", d.Outcome))
		return false
	}

	p.Logger.Info("Request redirected",
		zap.String("url", target),
		zap.String("location", d.Location),
		zap.String("client", client.RemoteAddr().String()))

	p.sendRedirectResponse(client, d)
	return true
}

func (p *Proxy) sendRedirectResponse(client net.Conn, d redirect.Decision) {
	response := fmt.Sprintf(redirectResponseTemplate, d.Status, http.StatusText(d.Status), d.Location)
	if _, err := client.Write([]byte(response)); err != nil {
		p.Logger.Error("Failed to send redirect response", zap.Error(err))
	}
}

func (p *Proxy) sendBadGateway(client net.Conn) {
	if _, err := client.Write([]byte(badGatewayResponse)); err != nil {
		p.Logger.Debug("Failed to send 502 response", zap.Error(err))
	}
}

// parseRequest reads the request line and headers. Hop-by-hop connection
// headers are dropped and replaced with Connection: close so the origin
// ends the exchange after one response.
func (p *Proxy) parseRequest(reader *bufio.Reader, defaultPort string) (*HTTPRequest, error) {
	req := &HTTPRequest{Port: defaultPort}
	var raw strings.Builder

	// Read request line
	firstLine, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	raw.WriteString(firstLine)

	parts := strings.Split(strings.TrimSpace(firstLine), " ")
	if len(parts) < 3 {
		return nil, fmt.Errorf("malformed request line")
	}

	req.Method = parts[0]
	req.Path = parts[1]
	req.Protocol = parts[2]

	// Read headers
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}

		if line == "\r\n" || line == "\n" {
			break
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			raw.WriteString(line)
			continue
		}

		key := http.CanonicalHeaderKey(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])

		switch key {
		case "Connection", "Proxy-Connection":
			continue
		case "Host":
			req.Authority = value
			if host, port, err := net.SplitHostPort(value); err == nil {
				req.Host, req.Port = host, port
			} else {
				req.Host = value
			}
		case "Content-Length":
			n, err := strconv.ParseInt(value, 10, 64)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid Content-Length %q", value)
			}
			req.ContentLength = n
		case "Transfer-Encoding":
			req.Chunked = strings.Contains(strings.ToLower(value), "chunked")
		}
		raw.WriteString(line)
	}

	// An absolute-form target names the origin and wins over Host.
	if strings.HasPrefix(req.Path, "http://") || strings.HasPrefix(req.Path, "https://") {
		u, err := url.Parse(req.Path)
		if err != nil || u.Hostname() == "" {
			return nil, fmt.Errorf("malformed request target %q", req.Path)
		}
		req.Authority = u.Host
		req.Host = u.Hostname()
		req.Port = u.Port()
		if req.Port == "" {
			req.Port = "80"
			if u.Scheme == "https" {
				req.Port = "443"
			}
		}
	}

	if req.Host == "" {
		return nil, fmt.Errorf("missing Host header")
	}

	raw.WriteString("Connection: close\r\n\r\n")
	req.Raw = raw.String()
	return req, nil
}

// forwardRequest writes the request head and body to the origin.
func (p *Proxy) forwardRequest(server net.Conn, reader *bufio.Reader, req *HTTPRequest) error {
	if _, err := server.Write([]byte(req.Raw)); err != nil {
		return fmt.Errorf("error forwarding request: %w", err)
	}

	switch {
	case req.ContentLength > 0:
		if _, err := io.CopyN(server, reader, req.ContentLength); err != nil {
			return fmt.Errorf("error forwarding body: %w", err)
		}
	case req.Chunked:
		// The chunk framing is relayed as-is; the client side closes the copy.
		go io.Copy(server, reader)
	}
	return nil
}

// forwardResponse relays the origin response head, then streams the body
// until the origin closes.
func (p *Proxy) forwardResponse(client net.Conn, server net.Conn) error {
	serverReader := bufio.NewReader(server)
	resp, err := p.parseResponse(serverReader)
	if err != nil {
		return err
	}

	p.Logger.Debug("HTTP response",
		zap.String("proto", resp.Proto),
		zap.Int("status", resp.StatusCode),
		zap.String("reason", resp.Status))

	if _, err := client.Write(resp.RawHeader); err != nil {
		return fmt.Errorf("failed writing headers: %w", err)
	}

	n, err := io.Copy(client, serverReader)
	p.Logger.Debug("Response body relayed", zap.String("size", logger.HumanizeBytes(n)))
	if err != nil {
		return fmt.Errorf("streaming error: %w", err)
	}
	return nil
}

// parseResponse parses an HTTP response head from the server
func (p *Proxy) parseResponse(reader *bufio.Reader) (*HTTPResponse, error) {
	resp := &HTTPResponse{}
	var buf strings.Builder

	// Status line
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	buf.WriteString(statusLine)

	parts := strings.Split(strings.TrimSpace(statusLine), " ")
	if len(parts) < 2 {
		return nil, fmt.Errorf("malformed status line")
	}

	resp.Proto = parts[0]
	resp.StatusCode, _ = strconv.Atoi(parts[1])
	if len(parts) > 2 {
		resp.Status = strings.Join(parts[2:], " ")
	}

	// Headers
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, err
		}
		buf.WriteString(line)

		if line == "\r\n" || line == "\n" {
			break
		}
	}

	resp.RawHeader = []byte(buf.String())
	return resp, nil
}
