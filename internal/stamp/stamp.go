// Package stamp renders date/time stamps into export filenames.
package stamp

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Placement selects where the rendered stamp lands in the filename.
type Placement int

const (
	// Suffix inserts the stamp between the base name and the extension.
	Suffix Placement = iota
	// Prefix prepends the stamp to the filename.
	Prefix
)

// ParsePlacement maps a configuration string to a Placement.
func ParsePlacement(value string) (Placement, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "suffix":
		return Suffix, nil
	case "prefix":
		return Prefix, nil
	default:
		return Suffix, fmt.Errorf("unknown stamp placement %q", value)
	}
}

// Stamper applies a configured filename stamp. A blank pattern disables
// stamping entirely.
type Stamper struct {
	Pattern string
	Place   Placement
	Clock   func() time.Time
}

// Apply returns the stamped filename. The extension is preserved for suffix
// placement, and whitespace at the pattern edges survives as the separator
// between stamp and name.
func (s *Stamper) Apply(filename string) string {
	if strings.TrimSpace(s.Pattern) == "" {
		return filename
	}
	clock := s.Clock
	if clock == nil {
		clock = time.Now
	}
	stamp := sanitize(Render(s.Pattern, clock()))
	if strings.TrimSpace(stamp) == "" {
		return filename
	}
	if s.Place == Prefix {
		return stamp + filename
	}
	extension := filepath.Ext(filename)
	return strings.TrimSuffix(filename, extension) + stamp + extension
}

// Render substitutes the YYYY, MM, DD, hh, mm and ss tokens with zero-padded
// values from at. Everything else in the pattern passes through unchanged.
func Render(pattern string, at time.Time) string {
	replacer := strings.NewReplacer(
		"YYYY", fmt.Sprintf("%04d", at.Year()),
		"MM", fmt.Sprintf("%02d", int(at.Month())),
		"DD", fmt.Sprintf("%02d", at.Day()),
		"hh", fmt.Sprintf("%02d", at.Hour()),
		"mm", fmt.Sprintf("%02d", at.Minute()),
		"ss", fmt.Sprintf("%02d", at.Second()),
	)
	return replacer.Replace(pattern)
}

// sanitize strips characters Windows forbids in filenames along with control
// characters. Spaces are kept.
func sanitize(stamp string) string {
	var builder strings.Builder
	builder.Grow(len(stamp))
	for _, r := range stamp {
		if r < 0x20 || r == 0x7f {
			continue
		}
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			continue
		}
		builder.WriteRune(r)
	}
	return builder.String()
}
