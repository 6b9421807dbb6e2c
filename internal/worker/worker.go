// Package worker keeps the transaction detail cache in step with lifecycle events.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/kestrel/internal/cache"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Worker consumes transaction lifecycle events from the EventBus.
// On creation it renders and caches the detail view; on disposition it
// evicts the cached view so the next read reflects the new status.
type Worker struct {
	bus       domain.EventBus
	repo      domain.Repository
	cache     domain.Cache
	engine    *scoring.Engine
	detailTTL time.Duration
	logger    *slog.Logger

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// DetailTTL bounds how long a warmed detail stays cached.
	DetailTTL time.Duration

	Logger *slog.Logger
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, repo domain.Repository, c domain.Cache, engine *scoring.Engine, cfg Config) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := cfg.DetailTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Worker{
		bus:       bus,
		repo:      repo,
		cache:     c,
		engine:    engine,
		detailTTL: ttl,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start subscribes to the lifecycle topics.
func (w *Worker) Start() error {
	handlers := map[string]domain.MessageHandler{
		domain.TopicTransactionCreated:  w.handleCreated,
		domain.TopicTransactionDisposed: w.handleDisposed,
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, topic := range []string{domain.TopicTransactionCreated, domain.TopicTransactionDisposed} {
		sub, err := w.bus.Subscribe(w.ctx, topic, handlers[topic])
		if err != nil {
			for _, s := range w.subscriptions {
				_ = s.Unsubscribe()
			}
			w.subscriptions = nil
			return err
		}
		w.subscriptions = append(w.subscriptions, sub)
	}

	w.logger.Info("worker started", "topics", len(w.subscriptions))
	return nil
}

// handleCreated pre-computes the detail view of a new transaction.
func (w *Worker) handleCreated(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	event, err := decodeEvent(msg)
	if err != nil {
		w.logger.Error("failed to parse transaction event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	tx, err := w.repo.GetTransaction(ctx, event.TxID)
	if err != nil {
		w.logger.Error("failed to load transaction",
			"tx_id", event.TxID,
			"error", err,
		)
		return err
	}

	detail := w.engine.Explain(*tx)
	if err := cache.SetDetail(ctx, w.cache, &detail, w.detailTTL); err != nil {
		w.logger.Error("failed to cache detail",
			"tx_id", event.TxID,
			"error", err,
		)
		return err
	}

	w.logger.Debug("detail warmed",
		"tx_id", event.TxID,
		"risk_level", tx.RiskLevel,
		"trace_id", msg.Metadata["trace_id"],
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// handleDisposed evicts the cached detail of a disposed transaction.
func (w *Worker) handleDisposed(ctx context.Context, msg *domain.Message) error {
	event, err := decodeEvent(msg)
	if err != nil {
		w.logger.Error("failed to parse transaction event",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if err := cache.InvalidateDetail(ctx, w.cache, event.TxID); err != nil {
		w.logger.Error("failed to evict detail",
			"tx_id", event.TxID,
			"error", err,
		)
		return err
	}

	w.logger.Info("detail evicted",
		"tx_id", event.TxID,
		"disposition", event.Disposition,
	)
	return nil
}

func decodeEvent(msg *domain.Message) (domain.TransactionEvent, error) {
	var event domain.TransactionEvent
	err := json.Unmarshal(msg.Payload, &event)
	return event, err
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.logger.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
