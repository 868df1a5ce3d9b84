// Package ingest runs the ingest service: the broker listener and its metrics endpoint.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Service keeps the report store fed from the broker until it is asked to stop.
type Service struct {
	listener      Listener
	metricsServer MetricsServer

	// ctx interrupts everything, including blocking shutdowns. It is the parent of gracefulCtx.
	ctx    context.Context
	cancel context.CancelFunc

	// gracefulCtx stops the listener and drains the metrics server.
	gracefulCtx    context.Context
	gracefulCancel context.CancelFunc

	maxDegradedDuration time.Duration

	// running is closed when Run returns. Run replaces it, so it is guarded by mu.
	mu      sync.Mutex
	running chan struct{}
}

// Listener receives reports until its context is canceled.
type Listener interface {
	Run(ctx context.Context) error
}

// MetricsServer serves the Prometheus metrics of the service.
type MetricsServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
	Close() error
}

type options struct {
	maxDegradedDuration time.Duration
}

// Option is a function which tweaks the creation of the Service.
type Option func(*options)

var (
	errServiceClosed = errors.New("service closed")

	// ErrTeardownTimeout is returned when one part of the service did not stop in time after the other one did.
	// A forced Quit may be needed to release it.
	ErrTeardownTimeout = errors.New("service teardown timed out")
)

// New creates an ingest service running listener and metricsServer.
func New(ctx context.Context, listener Listener, metricsServer MetricsServer, args ...Option) *Service {
	opts := options{
		maxDegradedDuration: 2 * time.Minute,
	}
	for _, arg := range args {
		arg(&opts)
	}

	ctx, cancel := context.WithCancel(ctx)
	gCtx, gCancel := context.WithCancel(ctx)

	// Quit must not block when Run was never called.
	running := make(chan struct{})
	close(running)

	return &Service{
		listener:      listener,
		metricsServer: metricsServer,

		ctx:            ctx,
		cancel:         cancel,
		gracefulCtx:    gCtx,
		gracefulCancel: gCancel,

		maxDegradedDuration: opts.maxDegradedDuration,

		running: running,
	}
}

// Run starts the listener and the metrics server and blocks until both are stopped.
//
// When one of them stops, the other one is stopped gracefully. If it does not stop within the
// degraded duration, Run gives up on it and the result includes ErrTeardownTimeout.
func (s *Service) Run() error {
	// The closed check and the swap happen under the same lock as the read in Quit:
	// a Quit canceling before this point makes Run return, one canceling after it waits.
	s.mu.Lock()
	select {
	case <-s.gracefulCtx.Done():
		s.mu.Unlock()
		return fmt.Errorf("%w: %w", errServiceClosed, context.Cause(s.gracefulCtx))
	default:
	}
	running := make(chan struct{})
	s.running = running
	s.mu.Unlock()

	slog.Info("Ingest service started")
	defer close(running)
	defer s.cancel()

	results := make(chan error, 2)
	go func() { results <- s.runListener() }()
	go func() { results <- s.runMetrics() }()

	err := <-results
	slog.Info("Waiting for ingest service components to stop")

	timeout := time.NewTimer(s.maxDegradedDuration)
	defer timeout.Stop()
	select {
	case other := <-results:
		err = errors.Join(err, other)
	case <-timeout.C:
		slog.Warn("Ingest service teardown timed out")
		err = errors.Join(err, ErrTeardownTimeout)
	}

	if err != nil {
		return err
	}
	slog.Info("Ingest service stopped")
	return nil
}

func (s *Service) runListener() error {
	defer s.gracefulCancel()

	slog.Info("Starting listener")
	err := s.listener.Run(s.gracefulCtx)
	if err != nil && !errors.Is(err, s.gracefulCtx.Err()) {
		slog.Error("Listener stopped with an error", "err", err)
		return fmt.Errorf("listener error: %w", err)
	}
	slog.Info("Listener stopped")
	return nil
}

func (s *Service) runMetrics() error {
	defer s.gracefulCancel()

	slog.Info("Starting metrics server")
	serveErr := make(chan error, 1)
	go func() {
		defer close(serveErr)
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err, ok := <-serveErr:
		if !ok {
			return nil
		}
		slog.Error("Metrics server stopped with an error", "err", err)
		return fmt.Errorf("metrics server error: %v", err)

	case <-s.gracefulCtx.Done():
		// gracefulCtx is also done when ctx is: a forced stop must not wait for a drain.
		if s.ctx.Err() != nil {
			slog.Info("Closing metrics server", "reason", s.ctx.Err())
			_ = s.metricsServer.Close()
			return nil
		}

		slog.Info("Shutting down metrics server")
		if err := s.metricsServer.Shutdown(s.ctx); err != nil {
			slog.Error("Metrics server shutdown failed", "err", err)
			return fmt.Errorf("metrics server shutdown error: %v", err)
		}
		slog.Info("Metrics server stopped")
		return nil
	}
}

// Quit stops the service and waits for Run to return.
// With force, in-flight work is interrupted and the metrics server is closed instead of drained.
func (s *Service) Quit(force bool) {
	slog.Info("Stopping ingest service", "force", force)

	if force {
		s.cancel()
		_ = s.metricsServer.Close()
	} else {
		s.gracefulCancel()
	}

	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	<-running
}
