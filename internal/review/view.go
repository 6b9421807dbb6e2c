// Package review derives the filtered collection view and its summary
// statistics, and keeps the collection fresh by polling persistence.
package review

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// RiskFilter restricts the view to one risk tier, or none for FilterAll.
type RiskFilter string

const (
	FilterAll    RiskFilter = "all"
	FilterHigh   RiskFilter = RiskFilter(domain.RiskHigh)
	FilterMedium RiskFilter = RiskFilter(domain.RiskMedium)
	FilterLow    RiskFilter = RiskFilter(domain.RiskLow)
)

// ParseRiskFilter parses "all", "high", "medium" or "low". An empty string is FilterAll.
func ParseRiskFilter(s string) (RiskFilter, error) {
	switch f := RiskFilter(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FilterAll:
		return FilterAll, nil
	case FilterHigh, FilterMedium, FilterLow:
		return f, nil
	default:
		return "", fmt.Errorf("unknown risk filter %q", s)
	}
}

// Stats summarizes a view.
type Stats struct {
	Total  int
	High   int
	Medium int
	Low    int

	// AtRisk is the exact sum of high-risk amounts.
	AtRisk decimal.Decimal
}

// FraudRate is the share of high-risk transactions as a whole percentage,
// or 0 for an empty view.
func (s Stats) FraudRate() int {
	if s.Total == 0 {
		return 0
	}
	return int(math.Round(float64(s.High) / float64(s.Total) * 100))
}

// View is the filtered, severity-sorted collection plus its statistics.
type View struct {
	Transactions []domain.Transaction
	Stats        Stats
}

var severity = map[domain.RiskLevel]int{
	domain.RiskHigh:   0,
	domain.RiskMedium: 1,
	domain.RiskLow:    2,
}

func rank(l domain.RiskLevel) int {
	if r, ok := severity[l]; ok {
		return r
	}
	return len(severity)
}

// DeriveView filters txs by risk tier and a case-insensitive substring of
// payee or reference, then stable-sorts the result by severity. Statistics
// cover the filtered view. txs is never modified.
func DeriveView(txs []domain.Transaction, query string, filter RiskFilter) View {
	q := strings.ToLower(query)

	out := make([]domain.Transaction, 0, len(txs))
	for _, tx := range txs {
		if filter != FilterAll && filter != "" && RiskFilter(tx.RiskLevel) != filter {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(tx.Payee), q) &&
			!strings.Contains(strings.ToLower(tx.Reference), q) {
			continue
		}
		out = append(out, tx)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i].RiskLevel) < rank(out[j].RiskLevel)
	})

	return View{Transactions: out, Stats: Summarize(out)}
}

// Summarize counts txs per tier and totals the high-risk amount.
func Summarize(txs []domain.Transaction) Stats {
	s := Stats{Total: len(txs), AtRisk: decimal.Zero}
	for _, tx := range txs {
		switch tx.RiskLevel {
		case domain.RiskHigh:
			s.High++
			s.AtRisk = s.AtRisk.Add(decimal.NewFromFloat(tx.Amount))
		case domain.RiskMedium:
			s.Medium++
		case domain.RiskLow:
			s.Low++
		}
	}
	return s
}
