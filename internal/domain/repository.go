// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for transaction and audit persistence.
type Repository interface {
	// Transaction operations
	CreateTransaction(ctx context.Context, tx *Transaction, audit AuditEntry) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	ListTransactions(ctx context.Context, offset, limit int) ([]Transaction, int, error)

	// SetDisposition moves a pending transaction to a terminal disposition
	// and appends the audit entry in the same unit of work.
	SetDisposition(ctx context.Context, txID string, to Disposition, audit AuditEntry) error

	// Audit trail operations
	AppendAudit(ctx context.Context, txID string, entry AuditEntry) error
	AuditTrail(ctx context.Context, txID string) ([]AuditEntry, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
