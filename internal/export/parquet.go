package export

import (
	"fmt"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/rowport/rowport/internal/guard"
)

// ParquetWriter materializes a result set as a parquet file. The schema is
// inferred from the column names and the first row; later rows of a
// different shape are stringified to keep the file self-consistent.
type ParquetWriter struct {
	CheckEveryRows int
	Clock          func() time.Time
}

// Write streams rows in bounded chunks, polling cancellation and the deadline
// between chunks, and removes the destination on any failure.
func (w *ParquetWriter) Write(path string, columns []string, rows [][]any, deadline guard.Deadline, token *guard.Token) error {
	clock := clockOrNow(w.Clock)
	start := clock()

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return &IOError{Path: path, Err: err}
	}

	err = w.writeRows(file, columns, rows, deadline, token, clock)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = &IOError{Path: path, Err: closeErr}
	}
	if err != nil {
		return removeOnFailure(path, err)
	}

	exportDurationSeconds.WithLabelValues("parquet").Observe(clock().Sub(start).Seconds())
	exportRowsTotal.WithLabelValues("parquet").Add(float64(len(rows)))
	return nil
}

func (w *ParquetWriter) writeRows(file *os.File, columns []string, rows [][]any, deadline guard.Deadline, token *guard.Token, clock func() time.Time) error {
	fields := uniqueFieldNames(columns)

	group := parquet.Group{}
	for i, field := range fields {
		var sample any
		if len(rows) > 0 && i < len(rows[0]) {
			sample = rows[0][i]
		}
		group[field] = parquet.Optional(nodeForValue(sample))
	}
	schema := parquet.NewSchema("result", group)
	writer := parquet.NewGenericWriter[map[string]any](file, schema)

	checkEvery := w.CheckEveryRows
	if checkEvery <= 0 {
		checkEvery = DefaultCheckEveryRows
	}

	chunk := make([]map[string]any, 0, checkEvery)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if _, err := writer.Write(chunk); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
		chunk = chunk[:0]
		return nil
	}

	for index, row := range rows {
		if index%checkEvery == 0 {
			if err := checkExport(deadline, token, clock); err != nil {
				return err
			}
			if err := flush(); err != nil {
				return err
			}
		}
		if len(row) != len(fields) {
			return fmt.Errorf("row %d arity %d does not match %d columns", index+1, len(row), len(fields))
		}
		record := make(map[string]any, len(fields))
		for i, field := range fields {
			record[field] = parquetValue(group[field], row[i])
		}
		chunk = append(chunk, record)
	}
	if err := flush(); err != nil {
		return err
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// uniqueFieldNames disambiguates duplicate column names, which the result
// model allows but a parquet schema cannot represent.
func uniqueFieldNames(columns []string) []string {
	seen := make(map[string]int, len(columns))
	fields := make([]string, len(columns))
	for i, column := range columns {
		name := column
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if count := seen[name]; count > 0 {
			name = fmt.Sprintf("%s_%d", name, count+1)
		}
		seen[column]++
		fields[i] = name
	}
	return fields
}

func nodeForValue(value any) parquet.Node {
	switch value.(type) {
	case int, int32, int64:
		return parquet.Int(64)
	case float32, float64:
		return parquet.Leaf(parquet.DoubleType)
	case bool:
		return parquet.Leaf(parquet.BooleanType)
	default:
		return parquet.String()
	}
}

// parquetValue coerces a database value into the leaf type inferred from the
// first row. Drivers keep column types stable across rows apart from NULLs,
// so the coercion is a formality; a genuinely mixed column degrades to the
// field's zero value instead of failing the whole export.
func parquetValue(node parquet.Node, value any) any {
	if value == nil {
		return nil
	}
	switch node.Type().Kind() {
	case parquet.Int64:
		switch typed := value.(type) {
		case int:
			return int64(typed)
		case int32:
			return int64(typed)
		case int64:
			return typed
		case float32:
			return int64(typed)
		case float64:
			return int64(typed)
		}
		return int64(0)
	case parquet.Double:
		switch typed := value.(type) {
		case float32:
			return float64(typed)
		case float64:
			return typed
		case int:
			return float64(typed)
		case int32:
			return float64(typed)
		case int64:
			return float64(typed)
		}
		return float64(0)
	case parquet.Boolean:
		if typed, ok := value.(bool); ok {
			return typed
		}
		return false
	default:
		switch typed := value.(type) {
		case string:
			return typed
		case []byte:
			return string(typed)
		case time.Time:
			return typed.UTC().Format(time.RFC3339Nano)
		default:
			return fmt.Sprintf("%v", typed)
		}
	}
}
