package export

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rowport/rowport/internal/guard"
)

// SheetTarget names where template-based export lands: which template file,
// which sheet inside it, and the 1-based cell the first value goes to.
type SheetTarget struct {
	TemplatePath  string
	SheetName     string
	StartCell     string
	IncludeHeader bool
}

// SheetMissingError reports that the requested sheet does not exist in the
// template workbook.
type SheetMissingError struct {
	Sheet string
}

func (e *SheetMissingError) Error() string {
	return fmt.Sprintf("sheet %q not found in template", e.Sheet)
}

// TemplateWriter fills a copy of an existing workbook with the result set.
type TemplateWriter struct {
	Target         SheetTarget
	CheckEveryRows int
	Clock          func() time.Time
}

// Write copies the template byte for byte to path first, so the destination
// always starts as a faithful copy. With zero rows the copy is the final
// artifact and the workbook is never opened; otherwise the sheet is verified,
// the optional header and the data are written from the start cell, and the
// workbook is saved in place. Deadline and cancellation are honored on every
// path, including the no-row one, and the destination is removed on failure.
func (w *TemplateWriter) Write(path string, columns []string, rows [][]any, deadline guard.Deadline, token *guard.Token) error {
	clock := clockOrNow(w.Clock)
	start := clock()

	if err := checkExport(deadline, token, clock); err != nil {
		// Nothing was created yet; fail without touching the destination.
		return err
	}

	if err := copyFile(w.Target.TemplatePath, path); err != nil {
		return err
	}

	if len(rows) == 0 {
		if err := checkExport(deadline, token, clock); err != nil {
			return removeOnFailure(path, err)
		}
		exportDurationSeconds.WithLabelValues("template").Observe(clock().Sub(start).Seconds())
		return nil
	}

	if err := w.fillWorkbook(path, columns, rows, deadline, token, clock); err != nil {
		return removeOnFailure(path, err)
	}

	exportDurationSeconds.WithLabelValues("template").Observe(clock().Sub(start).Seconds())
	exportRowsTotal.WithLabelValues("template").Add(float64(len(rows)))
	return nil
}

func (w *TemplateWriter) fillWorkbook(path string, columns []string, rows [][]any, deadline guard.Deadline, token *guard.Token, clock func() time.Time) error {
	if err := checkExport(deadline, token, clock); err != nil {
		return err
	}

	startColumn, startRow, err := excelize.CellNameToCoordinates(w.startCell())
	if err != nil {
		return fmt.Errorf("parse start cell %q: %w", w.startCell(), err)
	}

	headerRows := 0
	if w.Target.IncludeHeader {
		headerRows = 1
	}
	if err := CheckCapacity(len(rows), len(columns), headerRows, startRow, startColumn); err != nil {
		return err
	}

	workbook, err := excelize.OpenFile(path)
	if err != nil {
		return fmt.Errorf("open template copy: %w", err)
	}
	defer func() { _ = workbook.Close() }()

	sheet := w.Target.SheetName
	if index, err := workbook.GetSheetIndex(sheet); err != nil || index < 0 {
		return &SheetMissingError{Sheet: sheet}
	}

	checkEvery := w.CheckEveryRows
	if checkEvery <= 0 {
		checkEvery = DefaultCheckEveryRows
	}

	dataRow := startRow
	if w.Target.IncludeHeader {
		for i, column := range columns {
			if i%headerCheckEveryColumns == 0 {
				if err := checkExport(deadline, token, clock); err != nil {
					return err
				}
			}
			if err := w.setCell(workbook, sheet, startColumn+i, startRow, column); err != nil {
				return err
			}
		}
		dataRow++
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
		for i, value := range row {
			if err := w.setCell(workbook, sheet, startColumn+i, dataRow+index, value); err != nil {
				return err
			}
		}
	}

	if err := workbook.Save(); err != nil {
		return &IOError{Path: path, Err: err}
	}
	// The deadline is re-checked after the save so a slow flush cannot slip
	// past the budget unreported.
	if err := checkExport(deadline, token, clock); err != nil {
		return err
	}
	return nil
}

func (w *TemplateWriter) setCell(workbook *excelize.File, sheet string, column, row int, value any) error {
	cell, err := excelize.CoordinatesToCellName(column, row)
	if err != nil {
		return err
	}
	if err := workbook.SetCellValue(sheet, cell, value); err != nil {
		return fmt.Errorf("set cell %s: %w", cell, err)
	}
	return nil
}

func (w *TemplateWriter) startCell() string {
	if w.Target.StartCell == "" {
		return "A1"
	}
	return w.Target.StartCell
}

// copyFile copies the template byte for byte; the destination must not exist.
func copyFile(source, destination string) error {
	in, err := os.Open(source)
	if err != nil {
		return &IOError{Path: source, Err: err}
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return &IOError{Path: destination, Err: err}
	}

	_, copyErr := io.Copy(out, in)
	closeErr := out.Close()
	if copyErr != nil {
		return removeOnFailure(destination, &IOError{Path: destination, Err: copyErr})
	}
	if closeErr != nil {
		return removeOnFailure(destination, &IOError{Path: destination, Err: closeErr})
	}
	return nil
}
