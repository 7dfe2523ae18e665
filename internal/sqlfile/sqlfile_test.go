package sqlfile

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func utf16le(text string) []byte {
	out := []byte{0xff, 0xfe}
	for _, r := range text {
		out = append(out, byte(r), 0x00)
	}
	return out
}

func TestValidateAllowsPlainSQL(t *testing.T) {
	path := writeFile(t, "query.sql", []byte("SELECT 1;\nSELECT 2;\n"))
	if err := Validate(path); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateAllowsUTF8BOM(t *testing.T) {
	content := append([]byte{0xef, 0xbb, 0xbf}, []byte("SELECT 'zażółć';")...)
	path := writeFile(t, "query.sql", content)
	if err := Validate(path); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateAllowsUTF16WithBOM(t *testing.T) {
	path := writeFile(t, "query.sql", utf16le("SELECT 1;"))
	if err := Validate(path); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateAllowsUTF16WithoutBOM(t *testing.T) {
	content := utf16le("SELECT id, name FROM users WHERE id > 100;")[2:]
	path := writeFile(t, "query.sql", content)
	if err := Validate(path); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateBlocksZipMagic(t *testing.T) {
	content := append([]byte{0x50, 0x4b, 0x03, 0x04}, []byte("rest of archive")...)
	path := writeFile(t, "query.sql", content)
	if err := Validate(path); err == nil {
		t.Fatal("expected error for ZIP content")
	}
}

func TestValidateBlocksSQLiteMagic(t *testing.T) {
	content := append([]byte("SQLite format 3\x00"), make([]byte, 64)...)
	path := writeFile(t, "query.sql", content)
	if err := Validate(path); err == nil {
		t.Fatal("expected error for SQLite database content")
	}
}

func TestValidateBlocksSpreadsheetExtension(t *testing.T) {
	path := writeFile(t, "report.xlsx", []byte("SELECT 1;"))
	if err := Validate(path); err == nil {
		t.Fatal("expected error for spreadsheet extension")
	}
}

func TestValidateAllowsCSVExtension(t *testing.T) {
	path := writeFile(t, "query.csv", []byte("SELECT 1;"))
	if err := Validate(path); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestValidateBlocksObviousBinary(t *testing.T) {
	content := []byte{0x7f, 'E', 'L', 'F', 0x02, 0x01, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}
	path := writeFile(t, "query.sql", content)
	if err := Validate(path); err == nil {
		t.Fatal("expected error for binary content")
	}
}

func TestReadDecodesUTF8BOM(t *testing.T) {
	content := append([]byte{0xef, 0xbb, 0xbf}, []byte("SELECT 1;")...)
	path := writeFile(t, "query.sql", content)
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got != "SELECT 1;" {
		t.Fatalf("Read() = %q", got)
	}
}

func TestReadDecodesUTF16WithBOM(t *testing.T) {
	path := writeFile(t, "query.sql", utf16le("SELECT 'ü';"))
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got != "SELECT 'ü';" {
		t.Fatalf("Read() = %q", got)
	}
}

func TestReadDecodesUTF16WithoutBOM(t *testing.T) {
	content := utf16le("SELECT id FROM users;")[2:]
	path := writeFile(t, "query.sql", content)
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got != "SELECT id FROM users;" {
		t.Fatalf("Read() = %q", got)
	}
}

func TestReadPassesThroughPlainText(t *testing.T) {
	path := writeFile(t, "query.sql", []byte("SELECT 1;\n"))
	got, err := Read(path)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got != "SELECT 1;\n" {
		t.Fatalf("Read() = %q", got)
	}
}

func TestReadRejectsBinary(t *testing.T) {
	content := append([]byte{0x50, 0x4b, 0x03, 0x04}, []byte("zip")...)
	path := writeFile(t, "query.sql", content)
	if _, err := Read(path); err == nil {
		t.Fatal("expected error for binary content")
	}
}

func TestValidateAllowsEmptyFile(t *testing.T) {
	path := writeFile(t, "empty.sql", nil)
	if err := Validate(path); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}
