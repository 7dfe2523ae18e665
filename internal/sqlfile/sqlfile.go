// Package sqlfile validates that a script file handed to the engine is
// actually text SQL and not a binary artifact picked by mistake.
package sqlfile

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// probeSize bounds how much of the file is inspected.
const probeSize = 8192

var blockedExtensions = map[string]struct{}{
	".xlsx":    {},
	".xls":     {},
	".xlsm":    {},
	".ods":     {},
	".zip":     {},
	".db":      {},
	".sqlite":  {},
	".sqlite3": {},
}

var (
	zipMagic    = []byte{0x50, 0x4b, 0x03, 0x04}
	sqliteMagic = []byte("SQLite format 3\x00")
	bomUTF8     = []byte{0xef, 0xbb, 0xbf}
	bomUTF16LE  = []byte{0xff, 0xfe}
	bomUTF16BE  = []byte{0xfe, 0xff}
)

// Validate rejects files that are clearly not SQL text. UTF-8 and UTF-16
// content (with or without BOM) is allowed; known binary container formats
// and NUL-riddled content are not.
func Validate(path string) error {
	extension := strings.ToLower(filepath.Ext(path))
	if _, blocked := blockedExtensions[extension]; blocked {
		return fmt.Errorf("%s: %q files are not SQL scripts", path, extension)
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open script %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	probe := make([]byte, probeSize)
	n, err := file.Read(probe)
	if err != nil && err != io.EOF {
		return fmt.Errorf("read script %s: %w", path, err)
	}
	probe = probe[:n]

	if bytes.HasPrefix(probe, zipMagic) {
		return fmt.Errorf("%s: file is a ZIP container, not a SQL script", path)
	}
	if bytes.HasPrefix(probe, sqliteMagic) {
		return fmt.Errorf("%s: file is a SQLite database, not a SQL script", path)
	}
	if !looksLikeText(probe) {
		return fmt.Errorf("%s: file content is binary, not a SQL script", path)
	}
	return nil
}

// looksLikeText accepts UTF-8 (BOM optional) and UTF-16 (BOM optional, judged
// by NUL distribution) content.
func looksLikeText(probe []byte) bool {
	if len(probe) == 0 {
		return true
	}
	if bytes.HasPrefix(probe, bomUTF8) {
		return !bytes.Contains(probe[len(bomUTF8):], []byte{0x00})
	}
	if bytes.HasPrefix(probe, bomUTF16LE) || bytes.HasPrefix(probe, bomUTF16BE) {
		return true
	}

	evenNuls, oddNuls := nulParity(probe)
	nulCount := evenNuls + oddNuls
	if nulCount == 0 {
		return true
	}
	// UTF-16 without a BOM: ASCII-heavy SQL shows a NUL in every other
	// byte, so nearly all NULs sit on one parity. Anything else with NULs
	// is treated as binary.
	dominant := evenNuls
	if oddNuls > dominant {
		dominant = oddNuls
	}
	ratio := float64(nulCount) / float64(len(probe))
	return ratio > 0.3 && ratio < 0.7 && float64(dominant) >= 0.9*float64(nulCount)
}

func nulParity(data []byte) (even, odd int) {
	for i, b := range data {
		if b != 0x00 {
			continue
		}
		if i%2 == 0 {
			even++
		} else {
			odd++
		}
	}
	return even, odd
}

// Read validates the script file and returns its content decoded to UTF-8.
// UTF-16 is recognized by BOM or, failing that, by NUL byte parity.
func Read(path string) (string, error) {
	if err := Validate(path); err != nil {
		return "", err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read script %s: %w", path, err)
	}
	return decodeScript(path, raw)
}

func decodeScript(path string, raw []byte) (string, error) {
	var decoder *encoding.Decoder

	switch {
	case bytes.HasPrefix(raw, bomUTF8):
		return string(raw[len(bomUTF8):]), nil
	case bytes.HasPrefix(raw, bomUTF16LE):
		decoder = unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
	case bytes.HasPrefix(raw, bomUTF16BE):
		decoder = unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
	default:
		even, odd := nulParity(raw)
		total := even + odd
		switch {
		case total == 0:
			return string(raw), nil
		case float64(odd) >= 0.9*float64(total):
			decoder = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewDecoder()
		case float64(even) >= 0.9*float64(total):
			decoder = unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
		default:
			return string(raw), nil
		}
	}

	decoded, err := decoder.Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("decode script %s: %w", path, err)
	}
	return string(decoded), nil
}
