// Package engine executes SQL scripts against relational backends under a
// per-attempt time budget and an external cancellation token, and classifies
// every failure into a small set of typed conditions.
package engine

import (
	"fmt"
	"time"

	"github.com/rowport/rowport/internal/guard"
)

// Request describes one execution run. It is immutable once created and owned
// by the caller for the lifetime of the run.
type Request struct {
	SQL     string
	Dialect Dialect
	// Timeout bounds the database phase of a single attempt. Zero means
	// unbounded. Each retry attempt gets a fresh full budget.
	Timeout time.Duration
	Token   *guard.Token
}

// Result is the materialized output of one successful attempt. Column count
// equals the arity of every row; duplicate column names pass through.
type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

// DriverError is an opaque backend failure. The backend's original message is
// preserved verbatim for diagnostics.
type DriverError struct {
	Dialect Dialect
	Err     error
}

func (e *DriverError) Error() string {
	return fmt.Sprintf("%s driver error: %v", e.Dialect, e.Err)
}

func (e *DriverError) Unwrap() error {
	return e.Err
}

// Message returns the backend's original error text.
func (e *DriverError) Message() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}
