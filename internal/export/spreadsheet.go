package export

import (
	"fmt"
	"os"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rowport/rowport/internal/guard"
)

// SpreadsheetWriter materializes a result set as a fresh single-sheet
// workbook using append-only streaming.
type SpreadsheetWriter struct {
	SheetName      string
	CheckEveryRows int
	Clock          func() time.Time
}

const defaultSheetName = "Sheet1"

// Write runs the capacity pre-check, streams header and data rows, and saves
// the workbook. The destination is removed on any failure.
func (w *SpreadsheetWriter) Write(path string, columns []string, rows [][]any, deadline guard.Deadline, token *guard.Token) error {
	clock := clockOrNow(w.Clock)
	start := clock()

	if err := CheckCapacity(len(rows), len(columns), 1, 1, 1); err != nil {
		return err
	}
	// SaveAs truncates, so exclusive creation is enforced up front to match
	// the other writers.
	if _, err := os.Stat(path); err == nil {
		return &IOError{Path: path, Err: os.ErrExist}
	}

	err := w.writeWorkbook(path, columns, rows, deadline, token, clock)
	if err != nil {
		return removeOnFailure(path, err)
	}

	exportDurationSeconds.WithLabelValues("spreadsheet").Observe(clock().Sub(start).Seconds())
	exportRowsTotal.WithLabelValues("spreadsheet").Add(float64(len(rows)))
	return nil
}

func (w *SpreadsheetWriter) writeWorkbook(path string, columns []string, rows [][]any, deadline guard.Deadline, token *guard.Token, clock func() time.Time) error {
	sheet := w.SheetName
	if sheet == "" {
		sheet = defaultSheetName
	}

	workbook := excelize.NewFile()
	defer func() { _ = workbook.Close() }()
	if sheet != defaultSheetName {
		if err := workbook.SetSheetName(defaultSheetName, sheet); err != nil {
			return fmt.Errorf("name sheet %q: %w", sheet, err)
		}
	}

	stream, err := workbook.NewStreamWriter(sheet)
	if err != nil {
		return fmt.Errorf("open stream writer: %w", err)
	}

	header := make([]any, len(columns))
	for i, column := range columns {
		header[i] = column
	}
	if err := w.setRow(stream, 1, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	checkEvery := w.CheckEveryRows
	if checkEvery <= 0 {
		checkEvery = DefaultCheckEveryRows
	}

	for index, row := range rows {
		if index%checkEvery == 0 {
			if err := checkExport(deadline, token, clock); err != nil {
				return err
			}
		}
		if len(row) != len(columns) {
			return fmt.Errorf("row %d arity %d does not match %d columns", index+1, len(row), len(columns))
		}
		if err := w.setRow(stream, index+2, row); err != nil {
			return fmt.Errorf("write row %d: %w", index+1, err)
		}
	}

	if err := stream.Flush(); err != nil {
		return fmt.Errorf("flush workbook stream: %w", err)
	}
	if err := workbook.SaveAs(path); err != nil {
		return &IOError{Path: path, Err: err}
	}
	return nil
}

func (w *SpreadsheetWriter) setRow(stream *excelize.StreamWriter, rowNumber int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNumber)
	if err != nil {
		return err
	}
	return stream.SetRow(cell, values)
}
