package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/yagsothebrand/waitlist-api/pkg/logger"
)

type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
	Close() error
}

type Subscriber interface {
	Subscribe(subject string, handler func(msg *Message)) error
	QueueSubscribe(subject, queue string, handler func(msg *Message)) error
	Close() error
}

type EventBus interface {
	Publisher
	Subscriber
}

type Message struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	ID        string
}

type NATSEventBus struct {
	conn *nats.Conn
}

func NewNATSEventBus(url string) (*NATSEventBus, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &NATSEventBus{conn: conn}, nil
}

func (n *NATSEventBus) Publish(ctx context.Context, subject string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}

	logger.DebugContext(ctx, "Publishing event", "subject", subject, "data", string(payload))

	return n.conn.Publish(subject, payload)
}

func (n *NATSEventBus) Subscribe(subject string, handler func(msg *Message)) error {
	_, err := n.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) QueueSubscribe(subject, queue string, handler func(msg *Message)) error {
	_, err := n.conn.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		handler(&Message{
			Subject:   msg.Subject,
			Data:      msg.Data,
			Timestamp: time.Now(),
			ID:        fmt.Sprintf("%d", time.Now().UnixNano()),
		})
	})
	return err
}

func (n *NATSEventBus) Close() error {
	n.conn.Close()
	return nil
}

// NoopEventBus discards everything. Used when NATS is not configured and in
// tests.
type NoopEventBus struct{}

func (NoopEventBus) Publish(context.Context, string, interface{}) error { return nil }
func (NoopEventBus) Subscribe(string, func(msg *Message)) error         { return nil }
func (NoopEventBus) QueueSubscribe(string, string, func(msg *Message)) error {
	return nil
}
func (NoopEventBus) Close() error { return nil }

// Event subjects
const (
	AccessRequested = "waitlist.access.requested"
	EmailSent       = "waitlist.email.sent"
	AccessGranted   = "waitlist.access.granted"
)

// Event payloads
type AccessRequestedEvent struct {
	TokenID      string    `json:"token_id"`
	Email        string    `json:"email"`
	IsExisting   bool      `json:"is_existing"`
	GrantForever bool      `json:"grant_forever"`
	RequestedAt  time.Time `json:"requested_at"`
}

type EmailSentEvent struct {
	TokenID  string    `json:"token_id"`
	Email    string    `json:"email"`
	IsResend bool      `json:"is_resend"`
	SentAt   time.Time `json:"sent_at"`
}

type AccessGrantedEvent struct {
	TokenID   string    `json:"token_id"`
	Email     string    `json:"email"`
	GrantedAt time.Time `json:"granted_at"`
}
