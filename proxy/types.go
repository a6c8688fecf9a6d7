package proxy

import (
	"bufio"
	"crypto/tls"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mohamedbeat/yeet/redirect"
)

type HTTPRequest struct {
	Method        string
	Path          string
	Protocol      string
	Port          string
	Host          string
	Authority     string
	ContentLength int64
	Chunked       bool
	Raw           string
}

// AbsoluteURL returns the full URL the client asked for. Absolute-form
// targets are returned untouched; origin-form targets are joined with the
// Host header.
func (r *HTTPRequest) AbsoluteURL(scheme string) string {
	if strings.HasPrefix(r.Path, "http://") || strings.HasPrefix(r.Path, "https://") {
		return r.Path
	}
	return scheme + "://" + r.Authority + r.Path
}

type HTTPResponse struct {
	Proto      string
	StatusCode int
	Status     string
	RawHeader  []byte
}

// Observer receives every interception outcome.
type Observer interface {
	Observe(redirect.Outcome)
	BlindTunnel()
}

type nopObserver struct{}

func (nopObserver) Observe(redirect.Outcome) {}
func (nopObserver) BlindTunnel()             {}

type Proxy struct {
	Logger *zap.Logger

	timeout     time.Duration
	rootCA      *tls.Certificate
	upstreamTLS *tls.Config
	observer    Observer

	mu       sync.Mutex
	listener net.Listener
	closing  bool
	wg       sync.WaitGroup

	certMu sync.Mutex
	certs  map[string]tls.Certificate
}

// bufferedConn reads through the bufio.Reader that already consumed the
// CONNECT head, so no buffered client bytes are lost.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(p []byte) (int, error) {
	return c.r.Read(p)
}

// idleConn pushes the deadline forward on every read and write, so a
// connection only times out after it has been quiet for timeout.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func newIdleConn(conn net.Conn, timeout time.Duration) *idleConn {
	conn.SetDeadline(time.Now().Add(timeout))
	return &idleConn{Conn: conn, timeout: timeout}
}

func (c *idleConn) Read(p []byte) (int, error) {
	c.Conn.SetDeadline(time.Now().Add(c.timeout))
	return c.Conn.Read(p)
}

func (c *idleConn) Write(p []byte) (int, error) {
	c.Conn.SetDeadline(time.Now().Add(c.timeout))
	return c.Conn.Write(p)
}
