package repository

import (
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// sqlitePragmas trade a little durability for concurrent readers during imports.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
	"foreign_keys(ON)",
}

// openDB opens and pings the database selected by cfg.Driver.
func openDB(cfg domain.RepositoryConfig) (*sql.DB, error) {
	var (
		driverName, dsn string
		err             error
	)
	switch cfg.Driver {
	case "sqlite":
		driverName = "sqlite"
		dsn, err = sqliteDSN(cfg.SQLitePath)
	case "postgres":
		driverName = "postgres"
		dsn = postgresDSN(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	return db, nil
}

// sqliteDSN creates the parent directory of path if needed. The modernc
// driver is pure Go, so no cgo toolchain is involved.
func sqliteDSN(path string) (string, error) {
	if path == "" {
		path = "./kestrel.db"
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create database directory: %w", err)
		}
	}

	q := make([]string, len(sqlitePragmas))
	for i, p := range sqlitePragmas {
		q[i] = "_pragma=" + p
	}
	return "file:" + path + "?" + strings.Join(q, "&"), nil
}

// postgresDSN renders a postgres:// URL so credentials with spaces or quotes
// survive intact.
func postgresDSN(cfg domain.RepositoryConfig) string {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	name := cfg.PostgresDB
	if name == "" {
		name = "kestrel"
	}
	sslMode := cfg.PostgresSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(host, strconv.Itoa(port)),
		Path:     "/" + name,
		RawQuery: url.Values{"sslmode": {sslMode}}.Encode(),
	}
	if cfg.PostgresUser != "" {
		u.User = url.UserPassword(cfg.PostgresUser, cfg.PostgresPassword)
	}
	return u.String()
}
