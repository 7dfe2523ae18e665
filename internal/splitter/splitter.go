// Package splitter segments a SQL script into top-level statements without
// executing or validating them. Malformed input degrades to best-effort
// segmentation rather than failing.
package splitter

import "strings"

// Options select the lexical rules that differ between dialect families.
type Options struct {
	// BackslashEscapes treats a backslash inside a quoted string as escaping
	// the next character (MySQL-style string literals).
	BackslashEscapes bool
	// HashComments treats "#" as starting a line comment.
	HashComments bool
	// Backticks treats "`" as an identifier quote with its own lexical state.
	Backticks bool
	// DollarQuotes enables $tag$...$tag$ and $$...$$ quoting; semicolons
	// inside a dollar-quoted block are inert.
	DollarQuotes bool
}

type state int

const (
	stateNone state = iota
	stateSingleQuote
	stateDoubleQuote
	stateBacktick
	stateLineComment
	stateBlockComment
	stateDollarQuote
)

// Split scans the script left to right and returns the ordered non-empty
// statements. A semicolon encountered outside every quoted, commented, and
// dollar-quoted region ends the current statement; trailing text after the
// last semicolon becomes a final statement.
func Split(script string, opts Options) []string {
	var statements []string
	var current strings.Builder
	st := stateNone
	dollarTag := ""

	flush := func() {
		trimmed := strings.TrimSpace(current.String())
		if trimmed != "" {
			statements = append(statements, trimmed)
		}
		current.Reset()
	}

	for i := 0; i < len(script); i++ {
		c := script[i]

		switch st {
		case stateNone:
			switch {
			case c == ';':
				flush()
				continue
			case c == '\'':
				st = stateSingleQuote
			case c == '"':
				st = stateDoubleQuote
			case c == '`' && opts.Backticks:
				st = stateBacktick
			case c == '-' && i+1 < len(script) && script[i+1] == '-':
				st = stateLineComment
			case c == '#' && opts.HashComments:
				st = stateLineComment
			case c == '/' && i+1 < len(script) && script[i+1] == '*':
				st = stateBlockComment
				current.WriteByte(c)
				current.WriteByte(script[i+1])
				i++
				continue
			case c == '$' && opts.DollarQuotes:
				if tag, ok := scanDollarTag(script[i:]); ok {
					st = stateDollarQuote
					dollarTag = tag
					current.WriteString(tag)
					i += len(tag) - 1
					continue
				}
			}
			current.WriteByte(c)

		case stateSingleQuote:
			current.WriteByte(c)
			switch {
			case c == '\\' && opts.BackslashEscapes && i+1 < len(script):
				current.WriteByte(script[i+1])
				i++
			case c == '\'':
				// Doubled quote escapes itself without leaving the string.
				if i+1 < len(script) && script[i+1] == '\'' {
					current.WriteByte(script[i+1])
					i++
				} else {
					st = stateNone
				}
			}

		case stateDoubleQuote:
			current.WriteByte(c)
			switch {
			case c == '\\' && opts.BackslashEscapes && i+1 < len(script):
				current.WriteByte(script[i+1])
				i++
			case c == '"':
				if i+1 < len(script) && script[i+1] == '"' {
					current.WriteByte(script[i+1])
					i++
				} else {
					st = stateNone
				}
			}

		case stateBacktick:
			current.WriteByte(c)
			if c == '`' {
				st = stateNone
			}

		case stateLineComment:
			current.WriteByte(c)
			if c == '\n' {
				st = stateNone
			}

		case stateBlockComment:
			current.WriteByte(c)
			if c == '*' && i+1 < len(script) && script[i+1] == '/' {
				current.WriteByte(script[i+1])
				i++
				st = stateNone
			}

		case stateDollarQuote:
			if c == '$' && strings.HasPrefix(script[i:], dollarTag) {
				current.WriteString(dollarTag)
				i += len(dollarTag) - 1
				st = stateNone
				dollarTag = ""
				continue
			}
			current.WriteByte(c)
		}
	}

	flush()
	return statements
}

// Count returns how many non-empty top-level statements the script holds.
func Count(script string, opts Options) int {
	return len(Split(script, opts))
}

// scanDollarTag recognizes a dollar-quote opener at the start of s: "$$" or
// "$word$". It returns the full tag including both dollar signs.
func scanDollarTag(s string) (string, bool) {
	if len(s) < 2 || s[0] != '$' {
		return "", false
	}
	if s[1] == '$' {
		return "$$", true
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c == '$' {
			return s[:i+1], true
		}
		if !isTagChar(c) {
			return "", false
		}
	}
	return "", false
}

func isTagChar(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
		return true
	default:
		return false
	}
}
