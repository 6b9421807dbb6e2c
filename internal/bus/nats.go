package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Envelope fields travel as NATS headers so the payload stays the raw event JSON.
const (
	headerMessageID = "Kestrel-Message-Id"
	headerTimestamp = "Kestrel-Timestamp"
	headerTraceID   = "Kestrel-Trace-Id"
)

// NATSBus delivers lifecycle events over a NATS connection.
type NATSBus struct {
	conn *nats.Conn

	mu     sync.Mutex
	active map[string]*natsSubscription
}

type natsSubscription struct {
	id    string
	topic string
	sub   *nats.Subscription
	owner *NATSBus
}

// NewNATSBus dials the configured server, retrying the initial connect.
func NewNATSBus(cfg domain.EventBusConfig) (*NATSBus, error) {
	url := cfg.NATSUrl
	if url == "" {
		url = nats.DefaultURL
	}
	attempts := cfg.NATSMaxReconnects
	if attempts <= 0 {
		attempts = 10
	}
	wait := time.Duration(cfg.NATSReconnectWait) * time.Second
	if wait <= 0 {
		wait = 5 * time.Second
	}

	opts := connOptions(attempts, wait)
	if cfg.NATSToken != "" {
		opts = append(opts, nats.Token(cfg.NATSToken))
	}

	var (
		conn *nats.Conn
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		if conn, err = nats.Connect(url, opts...); err == nil {
			break
		}
		slog.Warn("event bus connect failed", "url", url, "attempt", attempt, "of", attempts, "error", err)
		if attempt < attempts {
			time.Sleep(wait)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}

	slog.Info("event bus connected", "url", conn.ConnectedUrl(), "server_id", conn.ConnectedServerId())
	return &NATSBus{conn: conn, active: make(map[string]*natsSubscription)}, nil
}

func connOptions(attempts int, wait time.Duration) []nats.Option {
	return []nats.Option{
		nats.Name("kestrel"),
		nats.MaxReconnects(attempts),
		nats.ReconnectWait(wait),
		nats.ReconnectBufSize(8 << 20),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			slog.Warn("event bus disconnected", "error", err, "closed", nc.IsClosed())
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("event bus reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			var subject string
			if sub != nil {
				subject = sub.Subject
			}
			slog.Error("event bus async error", "subject", subject, "error", err)
		}),
	}
}

// Publish sends payload on the subject named by topic.
func (b *NATSBus) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := newMessage(ctx, topic, payload)

	out := nats.NewMsg(topic)
	out.Data = msg.Payload
	out.Header.Set(headerMessageID, msg.ID)
	out.Header.Set(headerTimestamp, strconv.FormatInt(msg.Timestamp, 10))
	if traceID := msg.Metadata["trace_id"]; traceID != "" {
		out.Header.Set(headerTraceID, traceID)
	}

	if err := b.conn.PublishMsg(out); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Subscribe runs handler for each message on topic. Handler errors are logged
// and do not stop delivery.
func (b *NATSBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	ns, err := b.conn.Subscribe(topic, func(in *nats.Msg) {
		msg := fromNATS(in)
		if err := handler(ctx, msg); err != nil {
			slog.Error("event handler failed", "topic", msg.Topic, "message_id", msg.ID, "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	sub := &natsSubscription{id: uuid.NewString(), topic: topic, sub: ns, owner: b}
	b.mu.Lock()
	b.active[sub.id] = sub
	b.mu.Unlock()
	return sub, nil
}

func fromNATS(in *nats.Msg) *domain.Message {
	msg := &domain.Message{
		ID:       in.Header.Get(headerMessageID),
		Topic:    in.Subject,
		Payload:  in.Data,
		Metadata: make(map[string]string),
	}
	if ts, err := strconv.ParseInt(in.Header.Get(headerTimestamp), 10, 64); err == nil {
		msg.Timestamp = ts
	}
	if traceID := in.Header.Get(headerTraceID); traceID != "" {
		msg.Metadata["trace_id"] = traceID
	}
	return msg
}

// Ping round-trips to the server.
func (b *NATSBus) Ping(ctx context.Context) error {
	if !b.conn.IsConnected() {
		return errors.New("event bus not connected")
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drops every subscription and closes the connection.
func (b *NATSBus) Close() error {
	b.mu.Lock()
	for id, s := range b.active {
		_ = s.sub.Unsubscribe()
		delete(b.active, id)
	}
	b.mu.Unlock()

	b.conn.Close()
	return nil
}

// Stats exposes the connection counters.
func (b *NATSBus) Stats() nats.Statistics {
	return b.conn.Stats()
}

func (s *natsSubscription) Unsubscribe() error {
	s.owner.mu.Lock()
	delete(s.owner.active, s.id)
	s.owner.mu.Unlock()
	return s.sub.Unsubscribe()
}

func (s *natsSubscription) Topic() string { return s.topic }
