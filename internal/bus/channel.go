// Package bus delivers transaction lifecycle events between the API and the
// background worker, in-process or over NATS.
package bus

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrBusClosed is returned by operations on a closed bus.
var ErrBusClosed = errors.New("bus is closed")

const defaultQueueDepth = 1000

// ChannelBus is the in-process bus: one buffered queue and goroutine per
// subscriber. A full subscriber queue drops the message.
type ChannelBus struct {
	depth   int
	dropped atomic.Int64

	mu     sync.RWMutex
	topics map[string][]*channelSubscription
	closed bool
}

type channelSubscription struct {
	id      string
	topic   string
	queue   chan *domain.Message
	stop    chan struct{}
	once    sync.Once
	handler domain.MessageHandler
	owner   *ChannelBus
}

// NewChannelBus returns a bus whose subscribers each queue up to depth messages.
func NewChannelBus(depth int) *ChannelBus {
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	return &ChannelBus{depth: depth, topics: make(map[string][]*channelSubscription)}
}

// Publish fans payload out to the topic's subscribers without blocking.
func (b *ChannelBus) Publish(ctx context.Context, topic string, payload []byte) error {
	msg := newMessage(ctx, topic, payload)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	for _, s := range b.topics[topic] {
		select {
		case s.queue <- msg:
		default:
			b.dropped.Add(1)
			slog.Warn("subscriber queue full, message dropped", "topic", topic, "subscription", s.id)
		}
	}
	return nil
}

// Subscribe starts a delivery goroutine for handler. It stops on Unsubscribe,
// on Close, or when ctx is done.
func (b *ChannelBus) Subscribe(ctx context.Context, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	s := &channelSubscription{
		id:      uuid.NewString(),
		topic:   topic,
		queue:   make(chan *domain.Message, b.depth),
		stop:    make(chan struct{}),
		handler: handler,
		owner:   b,
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	b.topics[topic] = append(b.topics[topic], s)
	b.mu.Unlock()

	go s.deliver(ctx)
	return s, nil
}

func (s *channelSubscription) deliver(ctx context.Context) {
	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case msg := <-s.queue:
			if err := s.handler(ctx, msg); err != nil {
				slog.Error("event handler failed", "topic", msg.Topic, "message_id", msg.ID, "error", err)
			}
		}
	}
}

func (b *ChannelBus) Ping(context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	return nil
}

// Close stops every subscriber. Queued messages are discarded. Closing twice is a no-op.
func (b *ChannelBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for topic, subs := range b.topics {
		for _, s := range subs {
			s.halt()
		}
		delete(b.topics, topic)
	}
	return nil
}

// Dropped reports how many deliveries were skipped because a queue was full.
func (b *ChannelBus) Dropped() int64 {
	return b.dropped.Load()
}

func (s *channelSubscription) halt() {
	s.once.Do(func() { close(s.stop) })
}

func (s *channelSubscription) Unsubscribe() error {
	s.halt()

	b := s.owner
	b.mu.Lock()
	b.topics[s.topic] = slices.DeleteFunc(b.topics[s.topic], func(o *channelSubscription) bool { return o == s })
	b.mu.Unlock()
	return nil
}

func (s *channelSubscription) Topic() string { return s.topic }
