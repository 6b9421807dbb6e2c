package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		received := make(chan *domain.Message, 1)

		_, err := bus.Subscribe(ctx, domain.TopicTransactionCreated, func(ctx context.Context, msg *domain.Message) error {
			received <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		err = bus.Publish(ctx, domain.TopicTransactionCreated, []byte("hello"))
		if err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case msg := <-received:
			if string(msg.Payload) != "hello" {
				t.Errorf("expected payload 'hello', got '%s'", string(msg.Payload))
			}
			if msg.Topic != domain.TopicTransactionCreated {
				t.Errorf("expected topic %s, got %s", domain.TopicTransactionCreated, msg.Topic)
			}
			if msg.ID == "" {
				t.Error("expected message ID to be set")
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("TopicIsolation", func(t *testing.T) {
		var count atomic.Int32

		_, err := bus.Subscribe(ctx, "isolation.a", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		_ = bus.Publish(ctx, "isolation.b", []byte("other"))
		time.Sleep(20 * time.Millisecond)

		if count.Load() != 0 {
			t.Errorf("expected no messages on isolation.a, got %d", count.Load())
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(3)

		for i := 0; i < 3; i++ {
			_, err := bus.Subscribe(ctx, "fanout", func(ctx context.Context, msg *domain.Message) error {
				wg.Done()
				return nil
			})
			if err != nil {
				t.Fatalf("subscribe failed: %v", err)
			}
		}

		_ = bus.Publish(ctx, "fanout", []byte("x"))

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("not all subscribers received the message")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, err := bus.Subscribe(ctx, "unsub", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}
		if sub.Topic() != "unsub" {
			t.Errorf("expected topic 'unsub', got %s", sub.Topic())
		}

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}

		_ = bus.Publish(ctx, "unsub", []byte("late"))
		time.Sleep(20 * time.Millisecond)

		if count.Load() != 0 {
			t.Errorf("expected no messages after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("TraceIDPropagation", func(t *testing.T) {
		received := make(chan *domain.Message, 1)
		_, _ = bus.Subscribe(ctx, "traced", func(ctx context.Context, msg *domain.Message) error {
			received <- msg
			return nil
		})

		traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
		spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
		sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
		tctx := trace.ContextWithSpanContext(ctx, sc)

		_ = bus.Publish(tctx, "traced", nil)

		select {
		case msg := <-received:
			if msg.Metadata["trace_id"] != traceID.String() {
				t.Errorf("expected trace_id %s, got %q", traceID, msg.Metadata["trace_id"])
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(10)
	ctx := context.Background()

	_, _ = bus.Subscribe(ctx, "t", func(ctx context.Context, msg *domain.Message) error { return nil })

	if err := bus.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close should be a no-op, got %v", err)
	}

	if err := bus.Publish(ctx, "t", nil); err != ErrBusClosed {
		t.Errorf("expected ErrBusClosed on publish, got %v", err)
	}
	if _, err := bus.Subscribe(ctx, "t", nil); err != ErrBusClosed {
		t.Errorf("expected ErrBusClosed on subscribe, got %v", err)
	}
	if err := bus.Ping(ctx); err != ErrBusClosed {
		t.Errorf("expected ErrBusClosed on ping, got %v", err)
	}
}

func TestNewBus(t *testing.T) {
	b, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 10})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer b.Close()

	if _, ok := b.(*ChannelBus); !ok {
		t.Errorf("expected *ChannelBus, got %T", b)
	}

	if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
		t.Error("expected error for unsupported bus type")
	}
}

func TestChannelBusDropsWhenQueueFull(t *testing.T) {
	bus := NewChannelBus(1)
	defer bus.Close()
	ctx := context.Background()

	release := make(chan struct{})
	defer close(release)
	_, _ = bus.Subscribe(ctx, "slow", func(ctx context.Context, msg *domain.Message) error {
		<-release
		return nil
	})

	for i := 0; i < 3; i++ {
		if err := bus.Publish(ctx, "slow", []byte("x")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	if bus.Dropped() == 0 {
		t.Error("expected at least one dropped delivery")
	}
}

func TestChannelBusStopsWithContext(t *testing.T) {
	bus := NewChannelBus(10)
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var received atomic.Int32
	_, _ = bus.Subscribe(ctx, "t", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		return nil
	})

	cancel()
	time.Sleep(20 * time.Millisecond)

	_ = bus.Publish(context.Background(), "t", []byte("late"))
	time.Sleep(20 * time.Millisecond)

	if n := received.Load(); n != 0 {
		t.Errorf("expected no delivery after context cancel, got %d", n)
	}
}
