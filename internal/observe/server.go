package observe

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// readHeaderTimeout bounds how long the metrics server waits for request headers.
const readHeaderTimeout = 5 * time.Second

// Routes is implemented by handlers that mount additional endpoints on the
// observability mux (for example the health handler).
type Routes interface {
	Register(mux *http.ServeMux)
}

// ServerOption configures a [Server].
type ServerOption func(*Server)

// WithGatherer serves metrics from g instead of [prometheus.DefaultGatherer].
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) { s.gatherer = g }
}

// WithRoutes mounts r's endpoints next to /metrics.
func WithRoutes(r Routes) ServerOption {
	return func(s *Server) { s.routes = append(s.routes, r) }
}

// Server exposes /metrics (and any extra [Routes]) over HTTP. Every request
// is traced, timed and logged.
type Server struct {
	addr     string
	metrics  *Metrics
	gatherer prometheus.Gatherer
	routes   []Routes
	srv      *http.Server
}

// NewServer builds a metrics server listening on addr once [Server.Serve] is called.
func NewServer(addr string, m *Metrics, opts ...ServerOption) *Server {
	s := &Server{addr: addr, metrics: m, gatherer: prometheus.DefaultGatherer}
	for _, o := range opts {
		o(s)
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler returns the instrumented mux serving /metrics and the extra routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	for _, r := range s.routes {
		r.Register(mux)
	}
	return instrument(s.metrics, mux)
}

// Serve listens on the configured address and blocks until ctx is cancelled,
// then shuts the server down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("metrics server listening", "addr", ln.Addr().String())
		errCh <- s.srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
