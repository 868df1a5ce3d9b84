// Package listener drives messages from the broker through validation, storage and persistence.
package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/ubuntu/ais-insights/internal/ingest/validator"
	"github.com/ubuntu/ais-insights/internal/models"
)

// State is the connection state of the Listener.
type State int32

const (
	// Disconnected means no connection to the broker is established.
	Disconnected State = iota
	// Connecting means a connection and subscription are being attempted.
	Connecting
	// Subscribed means the listener waits for messages on the topic.
	Subscribed
	// Processing means a message is being validated, stored and persisted.
	Processing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Processing:
		return "processing"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// ErrTransport is returned by Run when the broker cannot be reached anymore.
var ErrTransport = errors.New("transport failure")

// Transport is a message broker connection delivering the payloads of a single topic.
type Transport interface {
	// Connect establishes the connection to the broker.
	Connect(ctx context.Context) error
	// Subscribe starts delivering the messages published on topic.
	Subscribe(ctx context.Context, topic string) (<-chan []byte, error)
	// Lost is signaled when an established connection drops.
	Lost() <-chan error
	// Disconnect closes the connection. It is safe to call when not connected.
	Disconnect()
}

type dValidator interface {
	Validate(raw []byte) (models.Report, error)
}

type dStore interface {
	Insert(r models.Report) (evicted bool)
	Snapshot() []models.Report
	Len() int
}

type dPersister interface {
	Persist(reports []models.Report) error
}

// Config holds the configuration of the Listener.
type Config struct {
	Topic string

	// BaseBackoff and MaxBackoff bound the jittered delay between connection attempts.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// MaxConnectAttempts is the number of consecutive failed connection attempts
	// after which Run gives up. 0 means never.
	MaxConnectAttempts int
}

// Listener receives reports from a Transport and keeps the store and its snapshot file up to date.
type Listener struct {
	cfg Config

	transport Transport
	validator dValidator
	store     dStore
	persister dPersister

	state   atomic.Int32
	metrics *listenerMetrics
}

// New creates a Listener with the provided collaborators, registering its metrics on reg.
func New(cfg Config, transport Transport, v dValidator, s dStore, p dPersister, reg prometheus.Registerer) (*Listener, error) {
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic must not be empty")
	}
	if cfg.BaseBackoff <= 0 {
		return nil, fmt.Errorf("base backoff must be positive, got %s", cfg.BaseBackoff)
	}
	if cfg.MaxBackoff < cfg.BaseBackoff {
		return nil, fmt.Errorf("max backoff %s is lower than base backoff %s", cfg.MaxBackoff, cfg.BaseBackoff)
	}
	if cfg.MaxConnectAttempts < 0 {
		return nil, fmt.Errorf("max connect attempts must not be negative, got %d", cfg.MaxConnectAttempts)
	}

	m, err := newListenerMetrics(reg)
	if err != nil {
		return nil, err
	}
	// The store may have been restored from a previous snapshot.
	m.storeReports.Set(float64(s.Len()))

	return &Listener{
		cfg:       cfg,
		transport: transport,
		validator: v,
		store:     s,
		persister: p,
		metrics:   m,
	}, nil
}

// State returns the current state of the Listener.
func (l *Listener) State() State {
	return State(l.state.Load())
}

func (l *Listener) setState(s State) {
	l.state.Store(int32(s))
	l.metrics.state.Set(float64(s))
}

// Run connects to the broker and processes messages until ctx is canceled or the broker
// cannot be reached after the configured number of attempts.
//
// A lost connection is reestablished with a jittered exponential backoff.
//
// Always returns a non-nil error, which is either a context error or wraps ErrTransport.
func (l *Listener) Run(ctx context.Context) error {
	slog.Info("Listener started", "topic", l.cfg.Topic)
	defer l.setState(Disconnected)

	backoff := l.cfg.BaseBackoff
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msgs, err := l.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			failures++
			slog.Warn("Could not subscribe to broker", "attempt", failures, "err", err)
			if l.cfg.MaxConnectAttempts > 0 && failures >= l.cfg.MaxConnectAttempts {
				l.transport.Disconnect()
				return fmt.Errorf("%w: giving up after %d attempts: %v", ErrTransport, failures, err)
			}

			// #nosec:G404 We don't need cryptographic randomness.
			sleep := time.Duration(rand.Int63n(int64(backoff)))
			select {
			case <-time.After(sleep):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff = min(backoff*2, l.cfg.MaxBackoff)
			continue
		}

		failures = 0
		backoff = l.cfg.BaseBackoff

		err = l.consume(ctx, msgs)
		l.transport.Disconnect()
		l.setState(Disconnected)
		if ctx.Err() != nil {
			slog.Info("Listener stopped")
			return ctx.Err()
		}
		slog.Warn("Connection to broker lost, reconnecting", "err", err)
	}
}

// connect moves from Disconnected to Subscribed, or back to Disconnected on failure.
func (l *Listener) connect(ctx context.Context) (<-chan []byte, error) {
	l.setState(Connecting)

	if err := l.transport.Connect(ctx); err != nil {
		l.setState(Disconnected)
		return nil, fmt.Errorf("connect failed: %v", err)
	}

	msgs, err := l.transport.Subscribe(ctx, l.cfg.Topic)
	if err != nil {
		l.transport.Disconnect()
		l.setState(Disconnected)
		return nil, fmt.Errorf("subscribe to %q failed: %v", l.cfg.Topic, err)
	}

	l.setState(Subscribed)
	slog.Info("Subscribed to topic", "topic", l.cfg.Topic)
	return msgs, nil
}

// consume handles messages until the context is done or the connection drops.
func (l *Listener) consume(ctx context.Context, msgs <-chan []byte) error {
	lost := l.transport.Lost()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-lost:
			return fmt.Errorf("%w: %v", ErrTransport, err)
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("%w: message channel closed", ErrTransport)
			}
			l.handle(msg)
		}
	}
}

// handle admits one message. Failures are logged and never stop the listener.
func (l *Listener) handle(msg []byte) {
	l.setState(Processing)
	defer l.setState(Subscribed)

	l.metrics.received.Inc()

	r, err := l.validator.Validate(msg)
	if err != nil {
		reason := "decode"
		if errors.Is(err, validator.ErrMissingField) {
			reason = "missing_field"
		}
		l.metrics.rejected.WithLabelValues(reason).Inc()
		slog.Warn("Rejected message", "reason", reason, "err", err)
		return
	}

	evicted := l.store.Insert(r)
	l.metrics.admitted.Inc()
	l.metrics.storeReports.Set(float64(l.store.Len()))
	slog.Info("Received report", "mmsi", r.MMSI, "type", r.Fields[models.FieldMessageType], "latitude", r.Latitude, "longitude", r.Longitude)
	if evicted {
		slog.Debug("Evicted oldest report")
	}

	// The report stays in the store even if the snapshot cannot be written.
	if err := l.persister.Persist(l.store.Snapshot()); err != nil {
		l.metrics.persistFailures.Inc()
		slog.Error("Failed to persist snapshot", "err", err)
	}
}
