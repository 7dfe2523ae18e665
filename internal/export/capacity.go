package export

import "fmt"

// Spreadsheet engine ceilings (xlsx worksheet format).
const (
	MaxSheetRows    = 1_048_576
	MaxSheetColumns = 16_384
)

// SizingError reports a result set that cannot fit the spreadsheet grid. It
// names both the required and the allowed extents.
type SizingError struct {
	RequiredRows    int
	RequiredColumns int
	MaxRows         int
	MaxColumns      int
}

func (e *SizingError) Error() string {
	return fmt.Sprintf("result does not fit spreadsheet: needs %d rows x %d columns, limit is %d x %d",
		e.RequiredRows, e.RequiredColumns, e.MaxRows, e.MaxColumns)
}

// CheckCapacity computes the furthest written cell and validates it against
// the sheet ceiling. Start coordinates are 1-based; values below 1 are
// treated as 1. Pure; called before any bytes are written.
func CheckCapacity(dataRows, columns, headerRows, startRow, startColumn int) error {
	if startRow < 1 {
		startRow = 1
	}
	if startColumn < 1 {
		startColumn = 1
	}
	lastRow := startRow + headerRows + dataRows - 1
	lastColumn := startColumn + columns - 1
	if lastRow > MaxSheetRows || lastColumn > MaxSheetColumns {
		return &SizingError{
			RequiredRows:    lastRow,
			RequiredColumns: lastColumn,
			MaxRows:         MaxSheetRows,
			MaxColumns:      MaxSheetColumns,
		}
	}
	return nil
}
