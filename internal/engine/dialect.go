package engine

import (
	"fmt"
	"strings"

	"github.com/rowport/rowport/internal/splitter"
)

// Dialect identifies the backend family a script is executed against. The set
// is closed: execution strategy, splitter rules, and retry signatures are all
// selected by exhaustive switches, so adding a backend is a compile-time
// concern.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectMySQL
	DialectSQLServer
	DialectOracle
	DialectSQLite
	DialectDuckDB
)

func (d Dialect) String() string {
	switch d {
	case DialectPostgres:
		return "postgres"
	case DialectMySQL:
		return "mysql"
	case DialectSQLServer:
		return "sqlserver"
	case DialectOracle:
		return "oracle"
	case DialectSQLite:
		return "sqlite"
	case DialectDuckDB:
		return "duckdb"
	default:
		return "unknown"
	}
}

func ParseDialect(raw string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "postgresql":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "sqlserver", "mssql":
		return DialectSQLServer, nil
	case "oracle":
		return DialectOracle, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "duckdb":
		return DialectDuckDB, nil
	default:
		return 0, fmt.Errorf("unknown dialect %q", raw)
	}
}

// SupportsMultiResultSets reports whether the backend can walk sequential
// result sets produced by one batch on a single cursor.
func (d Dialect) SupportsMultiResultSets() bool {
	return d == DialectSQLServer
}

// SplitterOptions returns the lexical rules the statement splitter applies
// for this backend.
func (d Dialect) SplitterOptions() splitter.Options {
	switch d {
	case DialectMySQL:
		return splitter.Options{BackslashEscapes: true, HashComments: true, Backticks: true}
	case DialectPostgres, DialectDuckDB:
		return splitter.Options{DollarQuotes: true}
	case DialectSQLServer, DialectOracle, DialectSQLite:
		return splitter.Options{}
	default:
		return splitter.Options{}
	}
}
