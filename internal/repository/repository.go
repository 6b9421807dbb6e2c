// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound         = errors.New("record not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrAlreadyDisposed  = errors.New("transaction already disposed")
	ErrInvalidPageRange = errors.New("invalid page range")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// CreateTransaction stores a scored transaction together with its first audit entry.
func (r *SQLRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction, audit domain.AuditEntry) error {
	if tx == nil || tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}
	if tx.Status == "" {
		tx.Status = domain.DispositionPending
	}

	factors, err := json.Marshal(nonNil(tx.Factors))
	if err != nil {
		return fmt.Errorf("failed to encode factors: %w", err)
	}

	return r.inTx(ctx, func(sqlTx *sql.Tx) error {
		query := `
			INSERT INTO transactions (
				id, amount, payee, reference, timestamp, payee_is_new,
				risk_score, risk_level, factors, status, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := sqlTx.ExecContext(ctx, r.rebind(query),
			tx.ID, tx.Amount, tx.Payee, tx.Reference,
			tx.Timestamp.UTC(), tx.PayeeIsNew,
			tx.RiskScore, string(tx.RiskLevel), string(factors),
			string(tx.Status), tx.CreatedAt.UTC(), tx.CreatedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert transaction: %w", err)
		}
		return r.insertAudit(ctx, sqlTx, tx.ID, audit)
	})
}

const selectTransaction = `
	SELECT id, amount, payee, reference, timestamp, payee_is_new,
		   risk_score, risk_level, factors, status, created_at
	FROM transactions
`

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(selectTransaction+` WHERE id = ?`), txID)

	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// ListTransactions returns one window of transactions, newest first, and the total count.
func (r *SQLRepository) ListTransactions(ctx context.Context, offset, limit int) ([]domain.Transaction, int, error) {
	if offset < 0 || limit < 1 {
		return nil, 0, fmt.Errorf("%w: offset=%d limit=%d", ErrInvalidPageRange, offset, limit)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query := selectTransaction + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	txs := make([]domain.Transaction, 0, limit)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		txs = append(txs, *tx)
	}
	return txs, total, rows.Err()
}

// SetDisposition moves a pending transaction to a terminal disposition and
// appends the audit entry atomically.
func (r *SQLRepository) SetDisposition(ctx context.Context, txID string, to domain.Disposition, audit domain.AuditEntry) error {
	if !to.Terminal() {
		return fmt.Errorf("%w: disposition %q is not terminal", ErrInvalidInput, to)
	}

	return r.inTx(ctx, func(sqlTx *sql.Tx) error {
		query := `UPDATE transactions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
		result, err := sqlTx.ExecContext(ctx, r.rebind(query),
			string(to), time.Now().UTC(), txID, string(domain.DispositionPending))
		if err != nil {
			return fmt.Errorf("failed to update status: %w", err)
		}

		affected, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			var status string
			err := sqlTx.QueryRowContext(ctx, r.rebind(`SELECT status FROM transactions WHERE id = ?`), txID).Scan(&status)
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("%w: status is %s", ErrAlreadyDisposed, status)
		}

		return r.insertAudit(ctx, sqlTx, txID, audit)
	})
}

// AppendAudit adds an entry to an existing transaction's audit trail.
func (r *SQLRepository) AppendAudit(ctx context.Context, txID string, entry domain.AuditEntry) error {
	if err := r.exists(ctx, txID); err != nil {
		return err
	}
	return r.insertAudit(ctx, r.db, txID, entry)
}

// AuditTrail returns the audit entries of a transaction, oldest first.
func (r *SQLRepository) AuditTrail(ctx context.Context, txID string) ([]domain.AuditEntry, error) {
	if err := r.exists(ctx, txID); err != nil {
		return nil, err
	}

	query := `
		SELECT action, details, created_at
		FROM audit_logs
		WHERE transaction_id = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.QueryContext(ctx, r.rebind(query), txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []domain.AuditEntry{}
	for rows.Next() {
		var e domain.AuditEntry
		var action string
		if err := rows.Scan(&action, &e.Details, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Action = domain.AuditAction(action)
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (r *SQLRepository) insertAudit(ctx context.Context, db execer, txID string, entry domain.AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	query := `INSERT INTO audit_logs (id, transaction_id, action, details, created_at) VALUES (?, ?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, r.rebind(query),
		uuid.New().String(), txID, string(entry.Action), entry.Details, entry.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (r *SQLRepository) exists(ctx context.Context, txID string) error {
	var one int
	err := r.db.QueryRowContext(ctx, r.rebind(`SELECT 1 FROM transactions WHERE id = ?`), txID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *SQLRepository) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(sqlTx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	return sqlTx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransaction(s scanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var level, status, factors string

	err := s.Scan(
		&tx.ID, &tx.Amount, &tx.Payee, &tx.Reference, &tx.Timestamp, &tx.PayeeIsNew,
		&tx.RiskScore, &level, &factors, &status, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.RiskLevel = domain.RiskLevel(level)
	tx.Status = domain.Disposition(status)
	tx.Timestamp = tx.Timestamp.UTC()
	tx.CreatedAt = tx.CreatedAt.UTC()
	if err := json.Unmarshal([]byte(factors), &tx.Factors); err != nil {
		return nil, fmt.Errorf("failed to decode factors: %w", err)
	}
	return &tx, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = strconv.AppendInt(result, int64(n), 10)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
