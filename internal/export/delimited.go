package export

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"

	"github.com/rowport/rowport/internal/guard"
)

// DelimitedWriter materializes a result set as a delimited-text file
// according to a Profile.
type DelimitedWriter struct {
	Profile        Profile
	CheckEveryRows int
	Clock          func() time.Time
}

// Write creates path exclusively, writes the header and data rows, and
// removes the file again on any failure. Cancellation and the deadline are
// polled every CheckEveryRows data rows.
func (w *DelimitedWriter) Write(path string, columns []string, rows [][]any, deadline guard.Deadline, token *guard.Token) error {
	clock := clockOrNow(w.Clock)
	start := clock()

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return &IOError{Path: path, Err: err}
	}

	err = w.writeAll(file, columns, rows, deadline, token, clock)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = &IOError{Path: path, Err: closeErr}
	}
	if err != nil {
		return removeOnFailure(path, err)
	}

	exportDurationSeconds.WithLabelValues("delimited").Observe(clock().Sub(start).Seconds())
	exportRowsTotal.WithLabelValues("delimited").Add(float64(len(rows)))
	return nil
}

func (w *DelimitedWriter) writeAll(file io.Writer, columns []string, rows [][]any, deadline guard.Deadline, token *guard.Token, clock func() time.Time) error {
	sink, err := w.encodedWriter(file)
	if err != nil {
		return err
	}
	buffered := bufio.NewWriter(sink)

	profile := w.Profile
	terminator := profile.LineTerminator
	if terminator == "" {
		terminator = "\r\n"
	}

	header := make([]string, len(columns))
	for i, column := range columns {
		header[i] = profile.encodeField(profile.replaceDelimiter(column), false)
	}
	if _, err := buffered.WriteString(strings.Join(header, string(profile.Delimiter)) + terminator); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	checkEvery := w.CheckEveryRows
	if checkEvery <= 0 {
		checkEvery = DefaultCheckEveryRows
	}

	fields := make([]string, len(columns))
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
			text, numeric := profile.formatField(value)
			fields[i] = profile.encodeField(text, numeric)
		}
		if _, err := buffered.WriteString(strings.Join(fields, string(profile.Delimiter)) + terminator); err != nil {
			return fmt.Errorf("write row %d: %w", index+1, err)
		}
	}

	if err := buffered.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	if closer, ok := sink.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			return fmt.Errorf("finish encoding: %w", err)
		}
	}
	return nil
}

// encodedWriter wraps the file in a charset transformer when the profile
// names a non-UTF-8 encoding.
func (w *DelimitedWriter) encodedWriter(file io.Writer) (io.Writer, error) {
	name := strings.TrimSpace(w.Profile.Encoding)
	if name == "" || strings.EqualFold(name, "utf-8") || strings.EqualFold(name, "utf8") {
		return file, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unknown encoding %q", name)
	}
	return transform.NewWriter(file, enc.NewEncoder()), nil
}
