package listener

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	// messageBuffer is the number of payloads queued between the client and the listener.
	messageBuffer = 256
	// disconnectQuiesce is how long, in milliseconds, the client may finish pending work on Disconnect.
	disconnectQuiesce = 250
)

// MQTTConfig holds the broker connection settings.
type MQTTConfig struct {
	Host     string
	Port     int
	ClientID string
	Username string
	Password string

	QoS            byte
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
}

// MQTTTransport is a Transport over an MQTT broker.
//
// Automatic reconnection of the client is disabled: reconnecting is left to the Listener.
type MQTTTransport struct {
	cfg    MQTTConfig
	broker string

	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu     sync.Mutex
	client mqtt.Client
	lost   chan error
	done   chan struct{}
}

// NewMQTTTransport returns an unconnected MQTTTransport.
// An empty client ID is replaced by a random one.
func NewMQTTTransport(cfg MQTTConfig) (*MQTTTransport, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("broker host must not be empty")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid broker port %d", cfg.Port)
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("invalid QoS %d", cfg.QoS)
	}
	if cfg.ClientID == "" {
		// MQTT 3.1 brokers may refuse client IDs longer than 23 characters.
		cfg.ClientID = "ais-insights-" + uuid.NewString()[:8]
	}

	return &MQTTTransport{
		cfg:       cfg,
		broker:    "tcp://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		newClient: mqtt.NewClient,
	}, nil
}

// Connect implements Transport.
func (t *MQTTTransport) Connect(ctx context.Context) error {
	lost := make(chan error, 1)

	opts := mqtt.NewClientOptions().
		AddBroker(t.broker).
		SetClientID(t.cfg.ClientID).
		SetUsername(t.cfg.Username).
		SetPassword(t.cfg.Password).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(t.cfg.ConnectTimeout).
		SetKeepAlive(t.cfg.KeepAlive).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			select {
			case lost <- err:
			default:
			}
		})

	client := t.newClient(opts)
	slog.Debug("Connecting to broker", "broker", t.broker, "client_id", t.cfg.ClientID)
	if err := wait(ctx, client.Connect()); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("could not connect to %s: %w", t.broker, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.client = client
	t.lost = lost
	t.done = make(chan struct{})

	slog.Info("Connected to broker", "broker", t.broker)
	return nil
}

// Subscribe implements Transport.
func (t *MQTTTransport) Subscribe(ctx context.Context, topic string) (<-chan []byte, error) {
	t.mu.Lock()
	client, done := t.client, t.done
	t.mu.Unlock()

	if client == nil {
		return nil, fmt.Errorf("not connected")
	}

	msgs := make(chan []byte, messageBuffer)
	handler := func(_ mqtt.Client, m mqtt.Message) {
		select {
		case msgs <- m.Payload():
		case <-done:
		}
	}

	if err := wait(ctx, client.Subscribe(topic, t.cfg.QoS, handler)); err != nil {
		return nil, fmt.Errorf("could not subscribe to %q: %w", topic, err)
	}
	return msgs, nil
}

// Lost implements Transport.
func (t *MQTTTransport) Lost() <-chan error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lost
}

// Disconnect implements Transport.
func (t *MQTTTransport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.client == nil {
		return
	}
	close(t.done)
	t.client.Disconnect(disconnectQuiesce)
	t.client = nil
	slog.Info("Disconnected from broker", "broker", t.broker)
}

// wait blocks until tok completes or ctx is done.
func wait(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
