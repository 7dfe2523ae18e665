package engine

import "strings"

// Retryable driver failures: lock-timeout, deadlock-victim, and
// serialization-failure classes. Matching is substring-based against the
// lower-cased driver message, which is how these conditions actually surface
// through database/sql drivers.
var retryableSignatures = map[Dialect][]string{
	DialectPostgres: {
		"deadlock detected",
		"could not serialize access",
		"sqlstate 40001",
		"sqlstate 40p01",
	},
	DialectMySQL: {
		"deadlock found when trying to get lock",
		"lock wait timeout exceeded",
		"error 1213",
		"error 1205",
	},
	DialectSQLServer: {
		"deadlock victim",
		"lock request time out",
	},
	DialectOracle: {
		"ora-00060",
		"ora-00054",
		"ora-30006",
	},
	DialectSQLite: {
		"database is locked",
		"database table is locked",
		"sqlite_busy",
	},
	DialectDuckDB: {
		"write-write conflict",
		"transaction conflict",
	},
}

// Driver-reported statement timeouts, distinct from the watchdog-driven
// deadline. These are reclassified as QueryTimeout instead of being retried.
var timeoutSignatures = map[Dialect][]string{
	DialectPostgres: {
		"canceling statement due to statement timeout",
		"sqlstate 57014",
	},
	DialectMySQL: {
		"query execution was interrupted",
		"max_execution_time exceeded",
		"error 3024",
	},
	DialectSQLServer: {
		"timeout expired",
		"query timeout",
	},
	DialectOracle: {
		"ora-01013",
	},
	DialectSQLite: {
		"interrupted",
	},
	DialectDuckDB: {
		"interrupted",
	},
}

func matchesRetryable(dialect Dialect, message string) bool {
	return matchesAny(retryableSignatures[dialect], message)
}

func matchesDriverTimeout(dialect Dialect, message string) bool {
	return matchesAny(timeoutSignatures[dialect], message)
}

func matchesAny(signatures []string, message string) bool {
	lowered := strings.ToLower(message)
	for _, signature := range signatures {
		if strings.Contains(lowered, signature) {
			return true
		}
	}
	return false
}
