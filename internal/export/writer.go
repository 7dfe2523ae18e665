package export

import (
	"fmt"
	"os"
	"time"

	"github.com/rowport/rowport/internal/guard"
)

const (
	// DefaultCheckEveryRows is the poll cadence for data rows.
	DefaultCheckEveryRows = 100
	// headerCheckEveryColumns is the poll cadence while writing wide
	// template headers cell by cell.
	headerCheckEveryColumns = 50
)

// IOError reports an unwritable or unreadable destination, carrying the
// offending path.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("io failure on %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// removeOnFailure deletes the partially written artifact so callers never
// observe a half-written file that looks complete.
func removeOnFailure(path string, err error) error {
	if err == nil {
		return nil
	}
	_ = os.Remove(path)
	return err
}

func clockOrNow(clock func() time.Time) func() time.Time {
	if clock != nil {
		return clock
	}
	return time.Now
}

func checkExport(deadline guard.Deadline, token *guard.Token, clock func() time.Time) error {
	return guard.Check(deadline, token, clock, "export")
}
