// Package export materializes query results as delimited-text, spreadsheet,
// template-spreadsheet, and parquet files under an export-phase deadline and
// a cancellation token. On any failure the partially written artifact is
// removed before the error propagates.
package export

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// QuoteStrategy selects when delimited-text fields are wrapped in the quote
// character.
type QuoteStrategy int

const (
	QuoteMinimal QuoteStrategy = iota
	QuoteAll
	QuoteNonNumeric
	QuoteNone
)

func ParseQuoteStrategy(raw string) (QuoteStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "minimal":
		return QuoteMinimal, nil
	case "all":
		return QuoteAll, nil
	case "nonnumeric", "non-numeric":
		return QuoteNonNumeric, nil
	case "none":
		return QuoteNone, nil
	default:
		return 0, fmt.Errorf("unknown quote strategy %q", raw)
	}
}

// Profile configures the delimited-text writer. Supplied whole by the caller
// and never mutated.
type Profile struct {
	// Encoding is an IANA charset name; empty means UTF-8 passthrough.
	Encoding  string
	Delimiter rune
	// DelimiterReplacement, when non-empty, is substituted for every
	// occurrence of Delimiter in every string field. The replacement is
	// global so the output never depends on quoting for correctness.
	DelimiterReplacement string
	DecimalSeparator     rune
	Quote                rune
	Quoting              QuoteStrategy
	Escape               rune
	DoubleQuote          bool
	LineTerminator       string
	// DateFormat is a Go reference layout applied to time values.
	DateFormat string
}

func DefaultProfile() Profile {
	return Profile{
		Delimiter:        ';',
		DecimalSeparator: '.',
		Quote:            '"',
		Quoting:          QuoteMinimal,
		DoubleQuote:      true,
		LineTerminator:   "\r\n",
		DateFormat:       "2006-01-02 15:04:05",
	}
}

// formatField renders one value as text and reports whether it is numeric
// (which drives the NonNumeric quoting strategy).
func (p Profile) formatField(value any) (string, bool) {
	switch typed := value.(type) {
	case nil:
		return "", false
	case string:
		return p.replaceDelimiter(typed), false
	case []byte:
		return p.replaceDelimiter(string(typed)), false
	case bool:
		return strconv.FormatBool(typed), false
	case int:
		return strconv.FormatInt(int64(typed), 10), true
	case int32:
		return strconv.FormatInt(int64(typed), 10), true
	case int64:
		return strconv.FormatInt(typed, 10), true
	case float32:
		return p.replaceDecimalSeparator(strconv.FormatFloat(float64(typed), 'f', -1, 32)), true
	case float64:
		return p.replaceDecimalSeparator(strconv.FormatFloat(typed, 'f', -1, 64)), true
	case time.Time:
		layout := p.DateFormat
		if layout == "" {
			layout = "2006-01-02 15:04:05"
		}
		return typed.Format(layout), false
	default:
		return p.replaceDelimiter(fmt.Sprintf("%v", typed)), false
	}
}

func (p Profile) replaceDelimiter(text string) string {
	if p.Delimiter == 0 || p.DelimiterReplacement == "" {
		return text
	}
	return strings.ReplaceAll(text, string(p.Delimiter), p.DelimiterReplacement)
}

func (p Profile) replaceDecimalSeparator(text string) string {
	if p.DecimalSeparator == 0 || p.DecimalSeparator == '.' {
		return text
	}
	return strings.ReplaceAll(text, ".", string(p.DecimalSeparator))
}

// encodeField applies the quoting strategy to a rendered field.
func (p Profile) encodeField(text string, numeric bool) string {
	quote := p.Quote
	if quote == 0 {
		quote = '"'
	}

	quoted := false
	switch p.Quoting {
	case QuoteAll:
		quoted = true
	case QuoteNonNumeric:
		quoted = !numeric
	case QuoteMinimal:
		quoted = strings.ContainsAny(text, string(quote)+string(p.Delimiter)+"\r\n")
	case QuoteNone:
		quoted = false
	}

	if !quoted {
		if p.Quoting == QuoteNone && p.Escape != 0 {
			return p.escapeUnquoted(text, quote)
		}
		return text
	}

	inner := text
	if p.DoubleQuote || p.Escape == 0 {
		inner = strings.ReplaceAll(inner, string(quote), string(quote)+string(quote))
	} else {
		inner = strings.ReplaceAll(inner, string(quote), string(p.Escape)+string(quote))
	}
	return string(quote) + inner + string(quote)
}

// escapeUnquoted protects special characters when quoting is disabled.
func (p Profile) escapeUnquoted(text string, quote rune) string {
	var b strings.Builder
	for _, r := range text {
		if r == p.Delimiter || r == quote || r == '\r' || r == '\n' || r == p.Escape {
			b.WriteRune(p.Escape)
		}
		b.WriteRune(r)
	}
	return b.String()
}
