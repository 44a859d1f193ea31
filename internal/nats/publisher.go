package nats

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/smazurov/srtrelay/internal/events"
)

// Publisher forwards bus events to NATS. Without a connection every publish
// is a no-op.
type Publisher struct {
	url       string
	relay     string
	conn      *nats.Conn
	logger    *slog.Logger
	mu        sync.RWMutex
	connected bool
}

// NewPublisher creates a publisher for relay that will connect to url.
func NewPublisher(url, relay string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		url:    url,
		relay:  relay,
		logger: logger.With("component", "nats-publisher"),
	}
}

// Connect dials the broker. On failure the publisher stays offline and the
// error is returned for logging only.
func (p *Publisher) Connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	conn, err := nats.Connect(p.url,
		nats.Name("srtrelay-"+p.relay),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			p.setConnected(false)
			if err != nil {
				p.logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			p.setConnected(true)
			p.logger.Info("NATS reconnected")
		}),
	)
	if err != nil {
		p.logger.Warn("Failed to connect to NATS, telemetry stays local", "url", p.url, "error", err)
		return err
	}

	p.conn = conn
	p.connected = true
	p.logger.Info("Connected to NATS", "url", p.url)
	return nil
}

func (p *Publisher) setConnected(connected bool) {
	p.mu.Lock()
	p.connected = connected
	p.mu.Unlock()
}

// Attach subscribes the publisher to the telemetry events of bus and returns
// a function removing the subscriptions.
func (p *Publisher) Attach(bus *events.Bus) func() {
	unsubscribers := []func(){
		bus.Subscribe(func(e events.StatsSampledEvent) { p.Publish(e) }),
		bus.Subscribe(func(e events.StatsDecodeFailedEvent) { p.Publish(e) }),
		bus.Subscribe(func(e events.PipelineStateEvent) { p.Publish(e) }),
		bus.Subscribe(func(e events.RouteBoundEvent) { p.Publish(e) }),
		bus.Subscribe(func(e events.RouteDegradedEvent) { p.Publish(e) }),
		bus.Subscribe(func(e events.CallerConnectedEvent) { p.Publish(e) }),
	}
	return func() {
		for _, unsub := range unsubscribers {
			unsub()
		}
	}
}

// Publish sends ev on its subject. Events without a subject are ignored.
func (p *Publisher) Publish(ev events.Event) {
	kind, ok := kindOf(ev)
	if !ok {
		return
	}

	p.mu.RLock()
	conn, connected := p.conn, p.connected
	p.mu.RUnlock()
	if conn == nil || !connected {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		p.logger.Warn("Failed to marshal event", "kind", kind, "error", err)
		return
	}
	if err := conn.Publish(Subject(p.relay, kind), data); err != nil {
		p.logger.Warn("Failed to publish event", "kind", kind, "error", err)
	}
}

// IsConnected returns true if connected to NATS.
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connected && p.conn != nil
}

// Close flushes pending messages and closes the connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn != nil {
		_ = p.conn.FlushTimeout(time.Second)
		p.conn.Close()
		p.conn = nil
	}
	p.connected = false
}
