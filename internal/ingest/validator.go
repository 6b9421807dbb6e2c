// Package ingest turns raw CSV batches into transactions on the persistence API.
package ingest

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Column names of the import format.
const (
	ColAmount     = "amount"
	ColPayee      = "payee"
	ColReference  = "reference"
	ColTimestamp  = "timestamp"
	ColPayeeIsNew = "payee_is_new"
)

// RequiredColumns is the canonical order used when reporting missing columns.
var RequiredColumns = []string{ColAmount, ColPayee, ColReference, ColTimestamp}

// timestampLayouts are tried in order. Layouts without a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Validate converts a raw field mapping into a CanonicalRecord.
// Rules are checked in order and the first failure is returned as a
// *ValidationError wrapping one of ErrInvalidAmount, ErrMissingPayee,
// ErrMissingReference or ErrInvalidTimestamp.
func Validate(row map[string]string) (domain.CanonicalRecord, error) {
	var rec domain.CanonicalRecord

	rawAmount := strings.TrimSpace(row[ColAmount])
	amount, err := decimal.NewFromString(rawAmount)
	if err != nil || !amount.IsPositive() {
		return rec, &ValidationError{Field: ColAmount, Value: rawAmount, Err: ErrInvalidAmount}
	}

	payee := strings.TrimSpace(row[ColPayee])
	if payee == "" {
		return rec, &ValidationError{Field: ColPayee, Err: ErrMissingPayee}
	}

	reference := strings.TrimSpace(row[ColReference])
	if reference == "" {
		return rec, &ValidationError{Field: ColReference, Err: ErrMissingReference}
	}

	rawTimestamp := strings.TrimSpace(row[ColTimestamp])
	ts, ok := parseTimestamp(rawTimestamp)
	if !ok {
		return rec, &ValidationError{Field: ColTimestamp, Value: rawTimestamp, Err: ErrInvalidTimestamp}
	}

	rec.Amount = amount.InexactFloat64()
	rec.Payee = payee
	rec.Reference = reference
	rec.Timestamp = ts
	rec.PayeeIsNew = strings.EqualFold(strings.TrimSpace(row[ColPayeeIsNew]), "true")
	return rec, nil
}

func parseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
