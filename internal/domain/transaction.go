package domain

import (
	"time"
)

// RiskLevel is the coarse risk tier assigned by the scorer.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

// Valid reports whether l is one of the known tiers.
func (l RiskLevel) Valid() bool {
	switch l {
	case RiskHigh, RiskMedium, RiskLow:
		return true
	}
	return false
}

// Disposition is the reviewer's final judgment on a transaction.
// A transaction starts pending and is terminal once approved or rejected.
type Disposition string

const (
	DispositionPending  Disposition = "pending"
	DispositionApproved Disposition = "approved"
	DispositionRejected Disposition = "rejected"
)

// Terminal reports whether no further disposition is allowed.
func (d Disposition) Terminal() bool {
	return d == DispositionApproved || d == DispositionRejected
}

// Transaction is a scored transaction as held by persistence.
type Transaction struct {
	ID         string      `json:"id"`
	Amount     float64     `json:"amount"`
	Payee      string      `json:"payee"`
	Reference  string      `json:"reference"`
	Timestamp  time.Time   `json:"timestamp"`
	PayeeIsNew bool        `json:"payee_is_new"`
	RiskScore  float64     `json:"risk_score"`
	RiskLevel  RiskLevel   `json:"risk_level"`
	Status     Disposition `json:"status,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`

	// Factors holds the triggered factor codes. Only the scorer reads them.
	Factors []string `json:"-"`
}

// TransactionDetail is a Transaction with the scorer's explanation.
type TransactionDetail struct {
	Transaction

	Confidence        int      `json:"confidence"`
	Explanation       string   `json:"explanation"`
	RiskFactors       []string `json:"risk_factors"`
	RecommendedAction string   `json:"recommended_action"`
}

// CanonicalRecord is a validated import row, shaped as the create request body.
type CanonicalRecord struct {
	Amount     float64   `json:"amount" validate:"gt=0"`
	Payee      string    `json:"payee" validate:"required,max=255"`
	Reference  string    `json:"reference" validate:"required,max=100"`
	Timestamp  time.Time `json:"timestamp" validate:"required"`
	PayeeIsNew bool      `json:"payee_is_new"`
}

// Page is one page of the transaction collection.
type Page struct {
	Items      []Transaction `json:"items"`
	Total      int           `json:"total"`
	Page       int           `json:"page"`
	PageSize   int           `json:"page_size"`
	TotalPages int           `json:"total_pages"`
}

// NewPage builds a Page, deriving TotalPages from total and pageSize.
func NewPage(items []Transaction, total, page, pageSize int) *Page {
	totalPages := 0
	if total > 0 && pageSize > 0 {
		totalPages = (total + pageSize - 1) / pageSize
	}
	if items == nil {
		items = []Transaction{}
	}
	return &Page{
		Items:      items,
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: totalPages,
	}
}
