package proxy

import (
	"crypto/tls"
	"net/http"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"

	"github.com/mohamedbeat/yeet/redirect"
)

// Goproxy is the goproxy-backed engine. It applies the same decision as
// Proxy but leaves HTTP framing to net/http.
type Goproxy struct {
	server   *goproxy.ProxyHttpServer
	logger   *zap.Logger
	observer Observer
}

// NewGoproxy builds the engine. With a non-nil ca, CONNECT tunnels are
// decrypted with leaves signed by ca so the requests inside can be
// intercepted.
func NewGoproxy(logger *zap.Logger, ca *tls.Certificate, observer Observer) *Goproxy {
	if observer == nil {
		observer = nopObserver{}
	}

	g := &Goproxy{
		server:   goproxy.NewProxyHttpServer(),
		logger:   logger,
		observer: observer,
	}
	g.server.Logger = zap.NewStdLog(logger.Named("goproxy"))

	if ca != nil {
		mitm := &goproxy.ConnectAction{
			Action:    goproxy.ConnectMitm,
			TLSConfig: goproxy.TLSConfigFromCA(ca),
		}
		g.server.OnRequest().HandleConnectFunc(func(host string, _ *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
			return mitm, host
		})
	} else {
		g.server.OnRequest().HandleConnectFunc(func(host string, _ *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
			g.observer.Observe(redirect.Skipped)
			g.observer.BlindTunnel()
			return goproxy.OkConnect, host
		})
	}
	g.server.OnRequest().DoFunc(g.onRequest)

	logger.Info("goproxy engine initialized", zap.Bool("mitm", ca != nil))
	return g
}

func (g *Goproxy) onRequest(req *http.Request, _ *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	target := req.URL.String()
	d := redirect.Intercept(target)
	g.observer.Observe(d.Outcome)

	if !d.Redirect() {
		g.logger.Debug("Request not intercepted",
			zap.String("url", target),
			zap.Stringer("outcome", d.Outcome))
		return req, nil
	}

	g.logger.Info("Request redirected",
		zap.String("url", target),
		zap.String("location", d.Location),
		zap.String("client", req.RemoteAddr))

	resp := goproxy.NewResponse(req, goproxy.ContentTypeText, d.Status, "")
	resp.Header.Set("Location", d.Location)
	return req, resp
}

func (g *Goproxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.server.ServeHTTP(w, r)
}
