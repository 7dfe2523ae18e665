package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rowport/rowport/internal/guard"
)

// DefaultMaxAttempts is the total attempt ceiling, including the first run.
const DefaultMaxAttempts = 3

// AttemptRunner is what the Coordinator retries. Satisfied by *Runner.
type AttemptRunner interface {
	Run(ctx context.Context, db *sql.DB, req Request) (Result, error)
}

// Coordinator wraps a Runner with deadlock/serialization retry. UserCancelled
// and QueryTimeout propagate on first occurrence; only driver failures whose
// message matches a known transient signature are retried, with a fresh full
// deadline per attempt.
type Coordinator struct {
	Runner      AttemptRunner
	MaxAttempts int
	Sleep       func(time.Duration)
	Logger      *slog.Logger
}

// The retry loop is an explicit state machine so the backoff schedule is
// testable in isolation from any I/O.
type retryState int

const (
	stateAttempting retryState = iota
	stateBackoff
	stateSucceeded
	stateFailed
)

func (c *Coordinator) Execute(ctx context.Context, db *sql.DB, req Request) (Result, error) {
	if c.Runner == nil {
		return Result{}, fmt.Errorf("runner is required")
	}

	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	state := stateAttempting
	attempt := 0
	var result Result
	var err error

	for {
		switch state {
		case stateAttempting:
			attempt++
			result, err = c.Runner.Run(ctx, db, req)
			state = c.classify(err, req, attempt, maxAttempts)
			if state == stateFailed {
				err = c.reclassify(err, req)
			}

		case stateBackoff:
			delay := time.Duration(1<<uint(attempt)) * time.Second
			queryRetriesTotal.WithLabelValues(req.Dialect.String()).Inc()
			if c.Logger != nil {
				c.Logger.WarnContext(ctx, "transient driver failure, retrying",
					slog.Int("attempt", attempt),
					slog.Duration("backoff", delay),
					slog.Any("error", err))
			}
			c.sleep(delay)
			state = stateAttempting

		case stateSucceeded:
			return result, nil

		case stateFailed:
			return Result{}, err
		}
	}
}

func (c *Coordinator) classify(err error, req Request, attempt, maxAttempts int) retryState {
	if err == nil {
		return stateSucceeded
	}
	if errors.Is(err, guard.ErrCancelled) || guard.IsTimeout(err) {
		return stateFailed
	}
	var driverErr *DriverError
	if !errors.As(err, &driverErr) {
		return stateFailed
	}
	message := driverErr.Message()
	if matchesDriverTimeout(req.Dialect, message) {
		return stateFailed
	}
	if attempt < maxAttempts && matchesRetryable(req.Dialect, message) {
		return stateBackoff
	}
	return stateFailed
}

// reclassify turns a driver-reported statement timeout into QueryTimeout so
// callers see one timeout condition regardless of which side enforced it. The
// driver's original text is kept in the error chain.
func (c *Coordinator) reclassify(err error, req Request) error {
	var driverErr *DriverError
	if !errors.As(err, &driverErr) {
		return err
	}
	if !matchesDriverTimeout(req.Dialect, driverErr.Message()) {
		return err
	}
	timeout := &guard.TimeoutError{Phase: "query", Budget: req.Timeout}
	return fmt.Errorf("%w (driver reported: %s)", timeout, driverErr.Message())
}

func (c *Coordinator) sleep(d time.Duration) {
	if c.Sleep != nil {
		c.Sleep(d)
		return
	}
	time.Sleep(d)
}
