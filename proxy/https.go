package proxy

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"io"
	"math/big"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mohamedbeat/yeet/redirect"
)

func (p *Proxy) handleHTTPS(client net.Conn, reader *bufio.Reader) {
	target, domain, err := p.processConnectRequest(reader)
	if err != nil {
		p.Logger.Error("Failed to process CONNECT request", zap.Error(err))
		return
	}

	if _, err := client.Write([]byte(connectEstablished)); err != nil {
		p.Logger.Error("Failed to send 200 response", zap.Error(err))
		return
	}

	conn := &bufferedConn{Conn: client, r: reader}

	if p.rootCA == nil {
		p.observer.Observe(redirect.Skipped)
		p.observer.BlindTunnel()
		if err := p.blindTunnel(conn, target); err != nil {
			p.Logger.Error("Tunneling failed", zap.String("target", target), zap.Error(err))
		}
		return
	}

	if err := p.establishMITMTunnel(conn, target, domain); err != nil {
		p.Logger.Error("MITM tunneling failed", zap.String("target", target), zap.Error(err))
	}
}

// Connection Request Handling
func (p *Proxy) processConnectRequest(reader *bufio.Reader) (string, string, error) {
	target, err := p.readConnectRequest(reader)
	if err != nil {
		return "", "", fmt.Errorf("error reading CONNECT request: %w", err)
	}

	domain, _, err := net.SplitHostPort(target)
	if err != nil {
		// Add default port if missing
		domain = strings.Trim(target, "[]")
		target = net.JoinHostPort(domain, "443")
	}
	return target, domain, nil
}

func (p *Proxy) readConnectRequest(reader *bufio.Reader) (string, error) {
	var request strings.Builder
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", err
		}
		request.WriteString(line)
		if line == "\r\n" || line == "\n" {
			break
		}
	}

	firstLine, _, _ := strings.Cut(request.String(), "\n")
	parts := strings.Split(strings.TrimSpace(firstLine), " ")
	if len(parts) < 3 {
		return "", fmt.Errorf("malformed CONNECT request")
	}

	return parts[1], nil
}

// blindTunnel relays bytes without inspection; the URLs inside are invisible.
func (p *Proxy) blindTunnel(client net.Conn, target string) error {
	conn, err := net.DialTimeout("tcp", target, p.timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to target: %w", err)
	}
	defer conn.Close()

	p.tunnelConnections(client, newIdleConn(conn, p.timeout))
	return nil
}

// MITM Tunneling
func (p *Proxy) establishMITMTunnel(client net.Conn, target, domain string) error {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			name := hello.ServerName
			if name == "" {
				name = domain
			}
			cert, err := p.certificateFor(name)
			if err != nil {
				return nil, err
			}
			return &cert, nil
		},
	}

	clientTLS := tls.Server(client, tlsConfig)
	if err := clientTLS.Handshake(); err != nil {
		return fmt.Errorf("TLS handshake failed: %w", err)
	}
	defer clientTLS.Close()

	reader := bufio.NewReader(clientTLS)
	req, err := p.parseRequest(reader, "443")
	if err != nil {
		return fmt.Errorf("error parsing tunneled request: %w", err)
	}

	if p.intercept(clientTLS, req.AbsoluteURL("https")) {
		return nil
	}

	p.Logger.Info("HTTPS request",
		zap.String("method", req.Method),
		zap.String("host", req.Host),
		zap.String("path", req.Path),
		zap.String("clientRemoteAddr", client.RemoteAddr().String()))

	upstream := p.upstreamTLS.Clone()
	if upstream.ServerName == "" {
		upstream.ServerName = domain
	}
	conn, err := net.DialTimeout("tcp", target, p.timeout)
	if err != nil {
		p.sendBadGateway(clientTLS)
		return fmt.Errorf("failed to connect to target: %w", err)
	}
	defer conn.Close()

	serverTLS := tls.Client(newIdleConn(conn, p.timeout), upstream)
	if err := serverTLS.Handshake(); err != nil {
		p.sendBadGateway(clientTLS)
		return fmt.Errorf("upstream TLS handshake failed: %w", err)
	}
	defer serverTLS.Close()

	if err := p.forwardRequest(serverTLS, reader, req); err != nil {
		return err
	}
	return p.forwardResponse(clientTLS, serverTLS)
}

// certificateFor returns a cached leaf for domain, signing a new one on a miss.
func (p *Proxy) certificateFor(domain string) (tls.Certificate, error) {
	p.certMu.Lock()
	defer p.certMu.Unlock()

	if cert, ok := p.certs[domain]; ok && time.Now().Before(cert.Leaf.NotAfter.Add(-time.Minute)) {
		return cert, nil
	}

	cert, err := p.generateCertificate(domain, p.rootCA)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("certificate generation failed: %w", err)
	}
	p.certs[domain] = cert
	return cert, nil
}

// Certificate Generation
func (p *Proxy) generateCertificate(domain string, rootCA *tls.Certificate) (tls.Certificate, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	cleanDomain := strings.Trim(domain, "[]")
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte(time.Now().Format(time.RFC3339Nano)))
	serial := new(big.Int).SetBytes(h.Sum(nil)[:16])

	template := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: cleanDomain,
		},
		NotBefore:             time.Now().Add(-5 * time.Minute),
		NotAfter:              time.Now().Add(2 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  false,
	}
	if ip := net.ParseIP(cleanDomain); ip != nil {
		template.IPAddresses = []net.IP{ip}
	} else {
		template.DNSNames = []string{cleanDomain, "*." + cleanDomain}
	}

	signedCert, err := x509.CreateCertificate(
		rand.Reader,
		&template,
		rootCA.Leaf,
		&privateKey.PublicKey,
		rootCA.PrivateKey,
	)
	if err != nil {
		return tls.Certificate{}, err
	}

	leaf, err := x509.ParseCertificate(signedCert)
	if err != nil {
		return tls.Certificate{}, err
	}

	return tls.Certificate{
		Certificate: [][]byte{signedCert},
		PrivateKey:  privateKey,
		Leaf:        leaf,
	}, nil
}

// Connection Tunneling
func (p *Proxy) tunnelConnections(client, server net.Conn) {
	var wg sync.WaitGroup
	var up, down int64
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer server.Close()
		up, _ = io.Copy(server, client)
	}()

	go func() {
		defer wg.Done()
		defer client.Close()
		down, _ = io.Copy(client, server)
	}()

	wg.Wait()
	p.Logger.Debug("Tunnel closed",
		zap.Int64("bytesUp", up),
		zap.Int64("bytesDown", down))
}
