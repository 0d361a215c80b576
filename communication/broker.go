package communication

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// SubjectPrefix namespaces every published event.
const SubjectPrefix = "nfaclaw.events."

// NATSBroker encapsulates a NATS connection.
type NATSBroker struct {
	Conn   *nats.Conn
	logger *zap.Logger
}

// NewNATSBroker creates a new NATSBroker connected to the provided URL.
func NewNATSBroker(url string, logger *zap.Logger) (*NATSBroker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("nfaclaw-agent"),
		nats.Timeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &NATSBroker{Conn: nc, logger: logger}, nil
}

// Subject maps an event type to its NATS subject.
func Subject(eventType string) string {
	return SubjectPrefix + strings.ToLower(eventType)
}

// Publish sends data on the provided subject.
func (b *NATSBroker) Publish(subject string, data []byte) error {
	return b.Conn.Publish(subject, data)
}

// Emit publishes the event as JSON. Failures are logged, not returned.
func (b *NATSBroker) Emit(eventType string, payload interface{}) {
	data, err := json.Marshal(Event{Type: eventType, Payload: payload})
	if err != nil {
		b.logger.Error("failed to encode event", zap.String("type", eventType), zap.Error(err))
		return
	}
	if err := b.Publish(Subject(eventType), data); err != nil {
		b.logger.Warn("failed to publish event", zap.String("type", eventType), zap.Error(err))
	}
}

// Subscribe registers a callback for a specific subject.
func (b *NATSBroker) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return b.Conn.Subscribe(subject, cb)
}

// Close flushes pending messages and closes the connection.
func (b *NATSBroker) Close() {
	if err := b.Conn.Flush(); err != nil {
		b.logger.Warn("failed to flush NATS connection", zap.Error(err))
	}
	b.Conn.Close()
}
