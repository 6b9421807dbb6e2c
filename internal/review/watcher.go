package review

import (
	"context"
	"log/slog"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultRefreshInterval is the polling period of the collection view.
const DefaultRefreshInterval = 30 * time.Second

// Lister fetches the transaction collection.
type Lister interface {
	ListTransactions(ctx context.Context, page, pageSize int) (*domain.Page, error)
}

// Snapshot is one refresh result. Err is set when the fetch failed, which
// callers must show differently from an empty collection.
type Snapshot struct {
	Transactions []domain.Transaction
	Err          error
	FetchedAt    time.Time
}

// Watcher polls a Lister on a fixed interval.
type Watcher struct {
	lister   Lister
	interval time.Duration
	pageSize int
	logger   *slog.Logger
}

// NewWatcher creates a watcher. Non-positive values fall back to
// DefaultRefreshInterval and a page size of 100.
func NewWatcher(lister Lister, interval time.Duration, pageSize int, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		lister:   lister,
		interval: interval,
		pageSize: pageSize,
		logger:   logger,
	}
}

// Fetch loads the first page of the collection once.
func (w *Watcher) Fetch(ctx context.Context) Snapshot {
	page, err := w.lister.ListTransactions(ctx, 1, w.pageSize)
	snap := Snapshot{FetchedAt: time.Now()}
	if err != nil {
		w.logger.Warn("failed to refresh transactions", "error", err)
		snap.Err = err
		return snap
	}
	if page != nil {
		snap.Transactions = page.Items
	}
	return snap
}

// Run fetches immediately and then every interval, handing each snapshot to
// onSnapshot. It returns when ctx is done.
func (w *Watcher) Run(ctx context.Context, onSnapshot func(Snapshot)) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	onSnapshot(w.Fetch(ctx))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			onSnapshot(w.Fetch(ctx))
		}
	}
}
