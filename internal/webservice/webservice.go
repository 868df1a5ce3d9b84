// Package webservice provides the HTTP server exposing the reports and their statistics.
package webservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ubuntu/ais-insights/internal/common/metrics"
	"github.com/ubuntu/ais-insights/internal/models"
	"github.com/ubuntu/ais-insights/internal/query"
	"github.com/ubuntu/ais-insights/internal/webservice/handlers"
	webmetrics "github.com/ubuntu/ais-insights/internal/webservice/metrics"
)

// Server serves the query API and its metrics on two listeners.
type Server struct {
	httpServer    *http.Server
	metricsServer *metrics.Server
	sm            dSnapshotManager

	// ctx interrupts everything. It is the parent of gracefulCtx.
	ctx    context.Context
	cancel context.CancelFunc

	// gracefulCtx lets in-flight requests complete.
	gracefulCtx    context.Context
	gracefulCancel context.CancelFunc

	mu   sync.RWMutex
	addr net.Addr
}

// StaticConfig holds the configuration of the server that cannot change while it runs.
type StaticConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	MaxHeaderBytes int

	ListenHost string
	ListenPort int

	MetricsHost string
	MetricsPort int
}

type dSnapshotManager interface {
	Watch(context.Context) (<-chan struct{}, <-chan error, error)
	Snapshot() ([]models.Report, error)
}

// Routes served by the web service.
const (
	RouteReports = "/api/reports"
	// RouteData is the path used by the dashboard for the reports.
	RouteData    = "/api/data"
	RouteStats   = "/api/stats"
	RouteVersion = "/version"
)

// New creates a Server answering from the snapshot kept by sm, with its metrics registered on reg.
func New(ctx context.Context, sm dSnapshotManager, sc StaticConfig, reg *prometheus.Registry) (*Server, error) {
	if sc.RequestTimeout <= 0 {
		return nil, fmt.Errorf("request timeout must be positive, got %s", sc.RequestTimeout)
	}

	ctx, cancel := context.WithCancel(ctx)
	gCtx, gCancel := context.WithCancel(ctx)

	q := query.New(sm)
	reportsHandler := handlers.NewReports(q)
	endpoints := webmetrics.NewEndpointMiddleware(reg)

	mux := http.NewServeMux()
	mux.Handle("GET "+RouteReports, endpoints.Wrap("reports", reportsHandler))
	mux.Handle("GET "+RouteData, endpoints.Wrap("data", reportsHandler))
	mux.Handle("GET "+RouteStats, endpoints.Wrap("stats", handlers.NewStats(q)))
	mux.Handle("GET "+RouteVersion, endpoints.Wrap("version", http.HandlerFunc(handlers.VersionHandler)))
	mux.Handle("/", handlers.NotFoundHandler(RouteReports, RouteData, RouteStats, RouteVersion))

	return &Server{
		httpServer: &http.Server{
			Addr:           net.JoinHostPort(sc.ListenHost, strconv.Itoa(sc.ListenPort)),
			ReadTimeout:    sc.ReadTimeout,
			WriteTimeout:   sc.WriteTimeout,
			Handler:        http.TimeoutHandler(webmetrics.NewMuxMiddleware(reg).Wrap("api", mux), sc.RequestTimeout, `{"error":"request timed out"}`),
			MaxHeaderBytes: sc.MaxHeaderBytes,
		},
		metricsServer: metrics.New(metrics.Config{
			Host:         sc.MetricsHost,
			Port:         sc.MetricsPort,
			ReadTimeout:  sc.ReadTimeout,
			WriteTimeout: sc.WriteTimeout,
		}, reg),
		sm: sm,

		ctx:            ctx,
		cancel:         cancel,
		gracefulCtx:    gCtx,
		gracefulCancel: gCancel,
	}, nil
}

// Run watches the snapshot file and serves requests until Quit is called or an unrecoverable error occurs.
func (s *Server) Run() error {
	select {
	case <-s.gracefulCtx.Done():
		return errors.New("server is already shutting down")
	default:
	}
	defer s.cancel()

	_, watchErr, err := s.sm.Watch(s.gracefulCtx)
	if err != nil {
		return fmt.Errorf("failed to start watching snapshot: %v", err)
	}

	l, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %v", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.addr = l.Addr()
	s.mu.Unlock()
	slog.Info("Starting server", "addr", l.Addr().String())

	serverErr := make(chan error, 1)
	go func() {
		defer close(serverErr)
		if err := s.httpServer.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	metricsErr := make(chan error, 1)
	go func() {
		defer close(metricsErr)
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			metricsErr <- err
		}
	}()

	select {
	case <-s.gracefulCtx.Done():
		return s.shutdown()

	case err := <-serverErr:
		slog.Error("Server stopped", "err", err)
		return errors.Join(err, s.metricsServer.Close())

	case err := <-metricsErr:
		slog.Error("Metrics server stopped", "err", err)
		return errors.Join(fmt.Errorf("metrics server error: %v", err), s.httpServer.Close())

	case err, ok := <-watchErr:
		if !ok {
			// The watcher also stops when we are asked to quit.
			if s.gracefulCtx.Err() != nil {
				return s.shutdown()
			}
			err = errors.New("snapshot watcher stopped unexpectedly")
		}
		slog.Error("Snapshot watcher encountered an unrecoverable error", "err", err)
		return errors.Join(err, s.httpServer.Close(), s.metricsServer.Close())
	}
}

// shutdown drains both servers. A forced Quit interrupts it through ctx.
func (s *Server) shutdown() error {
	slog.Info("Graceful shutdown initiated")
	if err := errors.Join(s.httpServer.Shutdown(s.ctx), s.metricsServer.Shutdown(s.ctx)); err != nil {
		slog.Error("Graceful shutdown failed", "err", err)
		return err
	}
	slog.Info("Server shut down gracefully")
	return nil
}

// Quit stops the server. With force, in-flight requests are interrupted.
func (s *Server) Quit(force bool) {
	if force {
		s.cancel()
		_ = s.httpServer.Close()
		_ = s.metricsServer.Close()
	} else {
		s.gracefulCancel()
	}
	slog.Info("Server quit", "force", force)
}

// Addr returns the address the API listens on, or an empty string before Run listens.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// MetricsAddr returns the address the metrics are served on, or an empty string before Run listens.
func (s *Server) MetricsAddr() string {
	return s.metricsServer.Addr()
}
