// Package guard holds the cancellation token and deadline primitives shared
// by the query engine and the export writers.
package guard

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCancelled reports an operator-requested stop. It is never treated as an
// anomaly by callers.
var ErrCancelled = errors.New("cancelled by user")

// TimeoutError reports an exceeded phase budget. Phase is "query" or "export"
// so callers can offer phase-specific guidance.
type TimeoutError struct {
	Phase  string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Budget > 0 {
		return fmt.Sprintf("%s phase exceeded budget of %s", e.Phase, e.Budget)
	}
	return fmt.Sprintf("%s phase timed out", e.Phase)
}

// IsTimeout reports whether err is a TimeoutError for any phase.
func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}

// Token is a one-shot cancellation latch. It is set at most once, read many
// times, and never reset. Safe for concurrent use.
type Token struct {
	once sync.Once
	done chan struct{}
}

func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Cancel trips the latch. Calling it more than once is harmless.
func (t *Token) Cancel() {
	t.once.Do(func() { close(t.done) })
}

// Done returns a channel closed once the token is cancelled.
func (t *Token) Done() <-chan struct{} {
	return t.done
}

func (t *Token) Cancelled() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Deadline is an absolute point in time derived from "now + budget" at
// attempt start. The zero value means unbounded.
type Deadline struct {
	at     time.Time
	budget time.Duration
}

// After derives a deadline from a budget. A zero or negative budget yields an
// unbounded deadline.
func After(budget time.Duration, clock func() time.Time) Deadline {
	if budget <= 0 {
		return Deadline{}
	}
	if clock == nil {
		clock = time.Now
	}
	return Deadline{at: clock().Add(budget), budget: budget}
}

func (d Deadline) Unbounded() bool {
	return d.at.IsZero()
}

func (d Deadline) Budget() time.Duration {
	return d.budget
}

func (d Deadline) Expired(now time.Time) bool {
	return !d.at.IsZero() && !now.Before(d.at)
}

// Remaining returns the time left until the deadline and whether the deadline
// is bounded at all.
func (d Deadline) Remaining(now time.Time) (time.Duration, bool) {
	if d.at.IsZero() {
		return 0, false
	}
	return d.at.Sub(now), true
}

// Check is the shared poll point: cancellation wins over an expired deadline,
// so a user stop is never misreported as a timeout.
func Check(d Deadline, token *Token, clock func() time.Time, phase string) error {
	if token != nil && token.Cancelled() {
		return ErrCancelled
	}
	if clock == nil {
		clock = time.Now
	}
	if d.Expired(clock()) {
		return &TimeoutError{Phase: phase, Budget: d.budget}
	}
	return nil
}
