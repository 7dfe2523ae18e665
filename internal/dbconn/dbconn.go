// Package dbconn opens database/sql handles for every backend the engine
// supports and maps DSNs onto dialects.
package dbconn

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/marcboeker/go-duckdb/v2"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/sijms/go-ora/v2"

	"github.com/rowport/rowport/internal/engine"
)

type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// DriverName returns the registered database/sql driver for a dialect.
func DriverName(dialect engine.Dialect) string {
	switch dialect {
	case engine.DialectPostgres:
		return "pgx"
	case engine.DialectMySQL:
		return "mysql"
	case engine.DialectSQLServer:
		return "sqlserver"
	case engine.DialectOracle:
		return "oracle"
	case engine.DialectSQLite:
		return "sqlite3"
	case engine.DialectDuckDB:
		return "duckdb"
	default:
		return ""
	}
}

// DetectDialect maps a DSN onto a dialect by scheme or well-known prefix.
func DetectDialect(dsn string) (engine.Dialect, error) {
	lowered := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lowered, "postgres://"), strings.HasPrefix(lowered, "postgresql://"):
		return engine.DialectPostgres, nil
	case strings.HasPrefix(lowered, "mysql://"), strings.HasPrefix(lowered, "mariadb://"):
		return engine.DialectMySQL, nil
	case strings.HasPrefix(lowered, "sqlserver://"), strings.HasPrefix(lowered, "mssql://"):
		return engine.DialectSQLServer, nil
	case strings.HasPrefix(lowered, "oracle://"):
		return engine.DialectOracle, nil
	case strings.HasPrefix(lowered, "sqlite://"), strings.HasSuffix(lowered, ".sqlite"), strings.HasSuffix(lowered, ".sqlite3"), strings.HasSuffix(lowered, ".db"):
		return engine.DialectSQLite, nil
	case strings.HasPrefix(lowered, "duckdb://"), strings.HasSuffix(lowered, ".duckdb"):
		return engine.DialectDuckDB, nil
	default:
		return 0, fmt.Errorf("cannot detect dialect from dsn %q", redact(dsn))
	}
}

// Open opens and verifies a handle for the given dialect. The mysql DSN keeps
// its scheme-less driver format; scheme-style DSNs are trimmed for drivers
// that do not accept them.
func Open(ctx context.Context, dialect engine.Dialect, cfg Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	driver := DriverName(dialect)
	if driver == "" {
		return nil, fmt.Errorf("unsupported dialect %v", dialect)
	}

	db, err := sql.Open(driver, normalizeDSN(dialect, cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", dialect, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingTimeout := cfg.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", dialect, err)
	}

	return db, nil
}

func normalizeDSN(dialect engine.Dialect, dsn string) string {
	trimmed := strings.TrimSpace(dsn)
	switch dialect {
	case engine.DialectMySQL:
		return strings.TrimPrefix(strings.TrimPrefix(trimmed, "mysql://"), "mariadb://")
	case engine.DialectSQLite:
		return strings.TrimPrefix(trimmed, "sqlite://")
	case engine.DialectDuckDB:
		return strings.TrimPrefix(trimmed, "duckdb://")
	default:
		return trimmed
	}
}

// redact strips credentials from a DSN before it lands in an error message.
func redact(dsn string) string {
	atIndex := strings.LastIndex(dsn, "@")
	schemeIndex := strings.Index(dsn, "://")
	if atIndex == -1 || schemeIndex == -1 || atIndex < schemeIndex {
		return dsn
	}
	return dsn[:schemeIndex+3] + "***" + dsn[atIndex:]
}
