package domain

import (
	"context"
)

// EventBus carries transaction lifecycle events between the API and the
// background worker. Delivery is at-most-once on every implementation.
type EventBus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)
	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler is invoked once per delivered message.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message is the envelope around an event payload. Metadata carries the
// publisher's trace id under "trace_id" when one was present.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

type Subscription interface {
	Unsubscribe() error
	Topic() string
}

// EventBusConfig selects and tunes the event bus.
type EventBusConfig struct {
	Type string `mapstructure:"type"` // "channel" or "nats"

	// ChannelBufferSize is the per-subscriber queue depth of the in-process bus.
	ChannelBufferSize int `mapstructure:"channel_buffer_size"`

	NATSUrl           string `mapstructure:"nats_url"`
	NATSToken         string `mapstructure:"nats_token"`
	NATSMaxReconnects int    `mapstructure:"nats_max_reconnects"`
	NATSReconnectWait int    `mapstructure:"nats_reconnect_wait"` // seconds
}

// Topic names for transaction lifecycle events.
const (
	TopicTransactionCreated  = "kestrel.transaction.created"
	TopicTransactionDisposed = "kestrel.transaction.disposed"
)

// TransactionEvent is the payload published on lifecycle topics.
type TransactionEvent struct {
	TxID        string      `json:"txId"`
	RiskLevel   RiskLevel   `json:"riskLevel"`
	Disposition Disposition `json:"disposition"`
	TraceID     string      `json:"traceId,omitempty"`
}
