package ingest

import (
	"errors"
	"fmt"
	"strings"
)

// Structural errors abort a batch before any record is submitted.
var (
	// ErrEmptyFile is returned when the payload has no header or no data rows.
	ErrEmptyFile = errors.New("file must contain a header row and at least one data row")

	// ErrMissingColumns is wrapped by MissingColumnsError.
	ErrMissingColumns = errors.New("missing required columns")

	// ErrNoValidRows is returned when every data row failed validation.
	ErrNoValidRows = errors.New("no valid rows to import")
)

// Per-row validation errors. Validate wraps them in a ValidationError.
var (
	ErrInvalidAmount    = errors.New("amount must be a number greater than 0")
	ErrMissingPayee     = errors.New("payee is required")
	ErrMissingReference = errors.New("reference is required")
	ErrInvalidTimestamp = errors.New("timestamp is not a valid date/time")
)

// ValidationError describes why a single raw row was rejected.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v (got %q)", e.Field, e.Err, e.Value)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// MissingColumnsError lists the required header columns that were absent,
// in the order amount, payee, reference, timestamp.
type MissingColumnsError struct {
	Columns []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("%v: %s", ErrMissingColumns, strings.Join(e.Columns, ", "))
}

func (e *MissingColumnsError) Unwrap() error {
	return ErrMissingColumns
}

// RowFailure attributes an error to a line of the input. Line is 1-based and
// counts every physical line, so line 1 is the header.
type RowFailure struct {
	Line int
	Err  error
}

func (f RowFailure) Error() string {
	return fmt.Sprintf("line %d: %v", f.Line, f.Err)
}

func (f RowFailure) Unwrap() error {
	return f.Err
}
