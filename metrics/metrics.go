package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mohamedbeat/yeet/redirect"
)

const namespace = "yeet"

// Recorder counts interception decisions on its own registry.
type Recorder struct {
	registry  *prometheus.Registry
	decisions *prometheus.CounterVec
	tunnels   prometheus.Counter
}

// NewRecorder registers the runtime collectors and the yeet counters.
func NewRecorder() (*Recorder, error) {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Interception decisions by outcome.",
		}, []string{"outcome"}),
		tunnels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blind_tunnels_total",
			Help:      "CONNECT tunnels relayed without inspection.",
		}),
	}

	for _, c := range []prometheus.Collector{
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
		r.decisions,
		r.tunnels,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	// Pre-create every label so rate() works from the first scrape.
	for _, o := range []redirect.Outcome{redirect.Skipped, redirect.PassThrough, redirect.Redirected} {
		r.decisions.WithLabelValues(o.String())
	}
	return r, nil
}

// Observe records one decision.
func (r *Recorder) Observe(o redirect.Outcome) {
	r.decisions.WithLabelValues(o.String()).Inc()
}

// BlindTunnel records a CONNECT tunnel that could not be inspected.
func (r *Recorder) BlindTunnel() {
	r.tunnels.Inc()
}

func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Server is the admin HTTP surface: /metrics and /healthz.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

func NewServer(addr string, rec *Recorder, logger *zap.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(rec.Registry(), promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Serve blocks until the listener fails or Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Admin server started", zap.String("addr", ln.Addr().String()))
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down admin server")
	return s.server.Shutdown(ctx)
}
