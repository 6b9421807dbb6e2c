package worker

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

type fixture struct {
	bus    *bus.ChannelBus
	repo   domain.Repository
	cache  *cache.LRUCache
	engine *scoring.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "kestrel-worker-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() {
		os.Remove(tmpPath)
		os.Remove(tmpPath + "-wal")
		os.Remove(tmpPath + "-shm")
	})

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	engine, err := scoring.NewEngine(domain.DefaultScoringConfig())
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	return &fixture{
		bus:    eventBus,
		repo:   repo,
		cache:  cache.NewLRUCache(100),
		engine: engine,
	}
}

func (f *fixture) publish(t *testing.T, topic string, event domain.TransactionEvent) {
	t.Helper()
	payload, _ := json.Marshal(event)
	if err := f.bus.Publish(context.Background(), topic, payload); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWorkerStartAndStop(t *testing.T) {
	f := newFixture(t)
	w := NewWorker(f.bus, f.repo, f.cache, f.engine, Config{})

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stats := w.GetStats()
	if stats.SubscriptionCount != 2 {
		t.Errorf("expected 2 subscriptions, got %d", stats.SubscriptionCount)
	}

	if err := w.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if stats := w.GetStats(); stats.SubscriptionCount != 0 {
		t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
	}
}

func TestWorkerWarmsDetailOnCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w := NewWorker(f.bus, f.repo, f.cache, f.engine, Config{DetailTTL: time.Minute})
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	in := scoring.Input{
		Amount:     2500,
		Payee:      "Unknown Co",
		Reference:  "URGENT transfer",
		Timestamp:  time.Date(2025, 1, 15, 22, 5, 0, 0, time.UTC),
		PayeeIsNew: true,
	}
	result := f.engine.Score(in)

	tx := &domain.Transaction{
		ID:         "tx-warm",
		Amount:     in.Amount,
		Payee:      in.Payee,
		Reference:  in.Reference,
		Timestamp:  in.Timestamp,
		PayeeIsNew: in.PayeeIsNew,
		RiskScore:  result.Score,
		RiskLevel:  result.Level,
		Factors:    result.Factors,
		CreatedAt:  time.Now().UTC(),
	}
	if err := f.repo.CreateTransaction(ctx, tx, domain.AuditEntry{Action: domain.AuditCreated, Details: "created"}); err != nil {
		t.Fatalf("CreateTransaction failed: %v", err)
	}

	f.publish(t, domain.TopicTransactionCreated, domain.TransactionEvent{TxID: tx.ID, RiskLevel: tx.RiskLevel})

	var detail *domain.TransactionDetail
	waitFor(t, func() bool {
		detail, _ = cache.GetDetail(ctx, f.cache, *tx)
		return detail != nil
	})

	if detail.RiskLevel != domain.RiskHigh {
		t.Errorf("expected high risk, got %s", detail.RiskLevel)
	}
	if len(detail.RiskFactors) != 4 {
		t.Errorf("expected 4 risk factors, got %d", len(detail.RiskFactors))
	}
	if detail.RecommendedAction == "" {
		t.Error("expected a recommended action")
	}
}

func TestWorkerEvictsDetailOnDisposition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w := NewWorker(f.bus, f.repo, f.cache, f.engine, Config{})
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	detail := &domain.TransactionDetail{Transaction: domain.Transaction{ID: "tx-evict"}}
	if err := cache.SetDetail(ctx, f.cache, detail, time.Minute); err != nil {
		t.Fatalf("SetDetail failed: %v", err)
	}

	f.publish(t, domain.TopicTransactionDisposed, domain.TransactionEvent{
		TxID:        "tx-evict",
		Disposition: domain.DispositionApproved,
	})

	waitFor(t, func() bool {
		d, _ := cache.GetDetail(ctx, f.cache, domain.Transaction{ID: "tx-evict"})
		return d == nil
	})
}

func TestWorkerIgnoresUnknownTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	w := NewWorker(f.bus, f.repo, f.cache, f.engine, Config{})
	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	f.publish(t, domain.TopicTransactionCreated, domain.TransactionEvent{TxID: "missing"})
	time.Sleep(50 * time.Millisecond)

	if d, _ := cache.GetDetail(ctx, f.cache, domain.Transaction{ID: "missing"}); d != nil {
		t.Error("expected no cached detail for an unknown transaction")
	}
}
