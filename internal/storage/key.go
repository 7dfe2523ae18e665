package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"
)

var runIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildArtifactKey places an uploaded artifact under a date partition and
// the identifier of the run that produced it.
func BuildArtifactKey(runID, filename string, producedAt time.Time) (string, error) {
	if !runIDPattern.MatchString(runID) {
		return "", fmt.Errorf("invalid run id: %q", runID)
	}
	if err := validateFilename(filename); err != nil {
		return "", err
	}

	ts := producedAt.UTC()
	return path.Join(
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		runID,
		filename,
	), nil
}

// validateFilename keeps artifact names to a single path component. Spaces
// and bracketed stamps are fine, separators and traversal are not.
func validateFilename(filename string) error {
	if strings.TrimSpace(filename) == "" {
		return fmt.Errorf("artifact filename is required")
	}
	if strings.ContainsAny(filename, `/\`) {
		return fmt.Errorf("invalid artifact filename: %q", filename)
	}
	if filename == "." || filename == ".." {
		return fmt.Errorf("invalid artifact filename: %q", filename)
	}
	for _, r := range filename {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("invalid artifact filename: %q", filename)
		}
	}
	return nil
}
