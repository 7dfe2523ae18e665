package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rowport/rowport/internal/guard"
	"github.com/rowport/rowport/internal/splitter"
)

const (
	// DefaultFetchBatchRows is how many rows are scanned between
	// cancellation/deadline checks while draining a result set.
	DefaultFetchBatchRows = 2000
	// DefaultCancelGrace is how long the canceller waits for the main task
	// to return on its own before forcing a driver-level cancel.
	DefaultCancelGrace = 250 * time.Millisecond
)

// Runner owns one execution attempt against one backend connection. Retry
// policy lives in Coordinator.
type Runner struct {
	FetchBatchRows int
	CancelGrace    time.Duration
	Clock          func() time.Time
	Logger         *slog.Logger
}

type attemptOutcome struct {
	result Result
	err    error
}

// Run performs one attempt. The main work executes on its own goroutine and
// sends exactly one terminal message; the watchdog and canceller goroutines
// only ever cancel the attempt context and record which condition fired, so
// no result state is shared between tasks. Failure classification order is
// cancelled, then timed out, then driver error.
func (r *Runner) Run(ctx context.Context, db *sql.DB, req Request) (Result, error) {
	if db == nil {
		return Result{}, fmt.Errorf("db handle is required")
	}
	if strings.TrimSpace(req.SQL) == "" {
		return Result{}, fmt.Errorf("sql is required")
	}

	clock := r.clock()
	start := clock()
	deadline := guard.After(req.Timeout, clock)

	attemptCtx, cancelAttempt := context.WithCancel(ctx)
	defer cancelAttempt()

	// Done-latch: closed only after the main task fully exits, so the
	// helper tasks never race past a result that is still being assembled.
	done := make(chan struct{})
	terminal := make(chan attemptOutcome, 1)
	var timedOut, cancelled atomic.Bool

	if remaining, bounded := deadline.Remaining(clock()); bounded {
		go func() {
			timer := time.NewTimer(remaining)
			defer timer.Stop()
			select {
			case <-done:
			case <-timer.C:
				timedOut.Store(true)
				cancelAttempt()
			}
		}()
	}

	if req.Token != nil {
		go func() {
			select {
			case <-done:
			case <-req.Token.Done():
				cancelled.Store(true)
				grace := time.NewTimer(r.cancelGrace())
				defer grace.Stop()
				select {
				case <-done:
				case <-grace.C:
					cancelAttempt()
				}
			}
		}()
	}

	go func() {
		result, err := r.execute(attemptCtx, db, req, deadline)
		terminal <- attemptOutcome{result: result, err: err}
		close(done)
	}()

	out := <-terminal
	elapsed := clock().Sub(start)

	switch {
	case cancelled.Load() || errors.Is(out.err, guard.ErrCancelled):
		queryAttemptsTotal.WithLabelValues(req.Dialect.String(), "cancelled").Inc()
		return Result{}, cancelledError(out.err)
	case timedOut.Load() || guard.IsTimeout(out.err):
		queryAttemptsTotal.WithLabelValues(req.Dialect.String(), "timeout").Inc()
		return Result{}, timeoutError(out.err, req.Timeout)
	case out.err != nil:
		queryAttemptsTotal.WithLabelValues(req.Dialect.String(), "error").Inc()
		return Result{}, &DriverError{Dialect: req.Dialect, Err: out.err}
	}

	queryAttemptsTotal.WithLabelValues(req.Dialect.String(), "ok").Inc()
	out.result.Duration = elapsed
	return out.result, nil
}

// cancelledError reports UserCancelled while keeping whatever the driver
// surfaced when the attempt was torn down.
func cancelledError(cause error) error {
	if cause == nil || errors.Is(cause, guard.ErrCancelled) || errors.Is(cause, context.Canceled) {
		return guard.ErrCancelled
	}
	return fmt.Errorf("%w (driver reported: %v)", guard.ErrCancelled, cause)
}

func timeoutError(cause error, budget time.Duration) error {
	timeout := &guard.TimeoutError{Phase: "query", Budget: budget}
	if cause == nil || guard.IsTimeout(cause) || errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return timeout
	}
	return fmt.Errorf("%w (driver reported: %v)", timeout, cause)
}

// execute selects the dialect strategy and runs the whole database phase on
// one exclusively owned session.
func (r *Runner) execute(ctx context.Context, db *sql.DB, req Request, deadline guard.Deadline) (Result, error) {
	conn, err := db.Conn(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	statements := splitter.Split(req.SQL, req.Dialect.SplitterOptions())
	if len(statements) == 0 {
		return Result{}, fmt.Errorf("script holds no statements")
	}

	switch {
	case len(statements) == 1:
		// Single-statement scripts bypass batch handling entirely.
		return r.runDirect(ctx, conn, req, statements[0], deadline)
	case req.Dialect.SupportsMultiResultSets():
		return r.runBatch(ctx, conn, req, deadline)
	default:
		return r.runSequential(ctx, conn, req, statements, deadline)
	}
}

// runBatch submits the entire script as one execution unit and walks the
// result sets; the last result set that produced rows wins, matching the
// expectation that a script's final SELECT is what gets exported.
func (r *Runner) runBatch(ctx context.Context, conn *sql.Conn, req Request, deadline guard.Deadline) (Result, error) {
	rows, err := conn.QueryContext(ctx, req.SQL)
	if err != nil {
		return Result{}, fmt.Errorf("execute batch: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var best Result
	haveRows := false
	for {
		columns, data, err := r.drainResultSet(rows, req.Token, deadline)
		if err != nil {
			return Result{}, err
		}
		if len(data) > 0 {
			best = Result{Columns: columns, Rows: data}
			haveRows = true
		} else if !haveRows && len(columns) > 0 {
			best = Result{Columns: columns, Rows: data}
		}
		if !rows.NextResultSet() {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("walk result sets: %w", err)
	}
	return best, nil
}

// runSequential executes split statements one at a time on the session,
// keeping rows and columns only from the last statement that returned rows.
func (r *Runner) runSequential(ctx context.Context, conn *sql.Conn, req Request, statements []string, deadline guard.Deadline) (Result, error) {
	var best Result
	haveRows := false

	for index, statement := range statements {
		if err := guard.Check(deadline, req.Token, r.clock(), "query"); err != nil {
			return Result{}, err
		}

		rows, err := conn.QueryContext(ctx, statement)
		if err != nil {
			return Result{}, fmt.Errorf("execute statement %d: %w", index+1, err)
		}
		columns, data, err := r.drainResultSet(rows, req.Token, deadline)
		closeErr := rows.Close()
		if err != nil {
			return Result{}, err
		}
		if closeErr != nil {
			return Result{}, fmt.Errorf("close statement %d: %w", index+1, closeErr)
		}

		if len(data) > 0 {
			best = Result{Columns: columns, Rows: data}
			haveRows = true
		} else if !haveRows && len(columns) > 0 {
			best = Result{Columns: columns, Rows: data}
		}
	}

	// Best-effort session commit; backends running in autocommit reject it
	// and that is fine.
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil && r.Logger != nil {
		r.Logger.DebugContext(ctx, "session commit declined", slog.Any("error", err))
	}

	return best, nil
}

func (r *Runner) runDirect(ctx context.Context, conn *sql.Conn, req Request, statement string, deadline guard.Deadline) (Result, error) {
	rows, err := conn.QueryContext(ctx, statement)
	if err != nil {
		return Result{}, fmt.Errorf("execute statement: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, data, err := r.drainResultSet(rows, req.Token, deadline)
	if err != nil {
		return Result{}, err
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	return Result{Columns: columns, Rows: data}, nil
}

// drainResultSet fetches the current result set row by row, polling the token
// and deadline every FetchBatchRows rows so a stop request never has to wait
// for the whole set to materialize.
func (r *Runner) drainResultSet(rows *sql.Rows, token *guard.Token, deadline guard.Deadline) ([]string, [][]any, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("read columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, nil, nil
	}

	batch := r.fetchBatchRows()
	data := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		data = append(data, normalizeValues(values))

		if len(data)%batch == 0 {
			if err := guard.Check(deadline, token, r.clock(), "query"); err != nil {
				return nil, nil, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}
	return columns, data, nil
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func (r *Runner) fetchBatchRows() int {
	if r.FetchBatchRows > 0 {
		return r.FetchBatchRows
	}
	return DefaultFetchBatchRows
}

func (r *Runner) cancelGrace() time.Duration {
	if r.CancelGrace > 0 {
		return r.CancelGrace
	}
	return DefaultCancelGrace
}

func (r *Runner) clock() func() time.Time {
	if r.Clock != nil {
		return r.Clock
	}
	return time.Now
}
