package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// explanation is the part of a detail derived from fields fixed at creation.
// Disposition and other mutable row state are never cached.
type explanation struct {
	Confidence        int      `json:"confidence"`
	Explanation       string   `json:"explanation"`
	RiskFactors       []string `json:"risk_factors"`
	RecommendedAction string   `json:"recommended_action"`
}

// DetailKey is the cache key of a transaction's explanation.
func DetailKey(txID string) string {
	return "explanation:" + txID
}

// GetDetail overlays the cached explanation for tx.ID on tx, which callers
// load fresh from the repository. It returns nil on a miss.
func GetDetail(ctx context.Context, c domain.Cache, tx domain.Transaction) (*domain.TransactionDetail, error) {
	data, err := c.Get(ctx, DetailKey(tx.ID))
	if err != nil || data == nil {
		return nil, err
	}

	var e explanation
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &domain.TransactionDetail{
		Transaction:       tx,
		Confidence:        e.Confidence,
		Explanation:       e.Explanation,
		RiskFactors:       e.RiskFactors,
		RecommendedAction: e.RecommendedAction,
	}, nil
}

// SetDetail caches the explanation fields of d under d.ID.
func SetDetail(ctx context.Context, c domain.Cache, d *domain.TransactionDetail, ttl time.Duration) error {
	data, err := json.Marshal(explanation{
		Confidence:        d.Confidence,
		Explanation:       d.Explanation,
		RiskFactors:       d.RiskFactors,
		RecommendedAction: d.RecommendedAction,
	})
	if err != nil {
		return err
	}
	return c.Set(ctx, DetailKey(d.ID), data, ttl)
}

// InvalidateDetail drops the cached explanation for txID.
func InvalidateDetail(ctx context.Context, c domain.Cache, txID string) error {
	return c.Delete(ctx, DetailKey(txID))
}
