package export

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rowport/rowport/internal/guard"
)

func buildTemplate(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "template.xlsx")
	workbook := excelize.NewFile()
	if _, err := workbook.NewSheet("Data"); err != nil {
		t.Fatalf("NewSheet() error = %v", err)
	}
	if err := workbook.SetCellValue("Data", "A1", "report"); err != nil {
		t.Fatalf("SetCellValue() error = %v", err)
	}
	if err := workbook.SaveAs(path); err != nil {
		t.Fatalf("SaveAs() error = %v", err)
	}
	_ = workbook.Close()
	return path
}

func TestTemplateWriterZeroRowsIsByteCopy(t *testing.T) {
	dir := t.TempDir()
	template := buildTemplate(t, dir)
	destination := filepath.Join(dir, "out.xlsx")

	writer := &TemplateWriter{Target: SheetTarget{
		TemplatePath: template,
		// A bogus sheet name proves the workbook is never opened when
		// there is nothing to write.
		SheetName: "DoesNotExist",
		StartCell: "A1",
	}}
	err := writer.Write(destination, []string{"v"}, nil, guard.Deadline{}, guard.NewToken())
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	want, _ := os.ReadFile(template)
	got, _ := os.ReadFile(destination)
	if !bytes.Equal(want, got) {
		t.Fatal("zero-row export should be a byte-for-byte template copy")
	}
}

func TestTemplateWriterMissingSheetRemovesDestination(t *testing.T) {
	dir := t.TempDir()
	template := buildTemplate(t, dir)
	destination := filepath.Join(dir, "out.xlsx")

	writer := &TemplateWriter{Target: SheetTarget{
		TemplatePath: template,
		SheetName:    "Missing",
		StartCell:    "A1",
	}}
	err := writer.Write(destination, []string{"v"}, [][]any{{int64(1)}}, guard.Deadline{}, guard.NewToken())
	var missingErr *SheetMissingError
	if !errors.As(err, &missingErr) {
		t.Fatalf("Write() error = %v, want SheetMissingError", err)
	}
	if missingErr.Sheet != "Missing" {
		t.Fatalf("Sheet = %q", missingErr.Sheet)
	}
	if _, statErr := os.Stat(destination); !os.IsNotExist(statErr) {
		t.Fatal("destination should have been removed")
	}
}

func TestTemplateWriterHeaderAndDataFromStartCell(t *testing.T) {
	dir := t.TempDir()
	template := buildTemplate(t, dir)
	destination := filepath.Join(dir, "out.xlsx")

	writer := &TemplateWriter{Target: SheetTarget{
		TemplatePath:  template,
		SheetName:     "Data",
		StartCell:     "B3",
		IncludeHeader: true,
	}}
	err := writer.Write(destination,
		[]string{"id", "name"},
		[][]any{
			{int64(1), "ada"},
			{int64(2), "grace"},
		},
		guard.Deadline{}, guard.NewToken())
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	workbook, err := excelize.OpenFile(destination)
	if err != nil {
		t.Fatalf("OpenFile() error = %v", err)
	}
	defer func() { _ = workbook.Close() }()

	if got, _ := workbook.GetCellValue("Data", "A1"); got != "report" {
		t.Fatalf("A1 = %q, template content should survive", got)
	}
	if got, _ := workbook.GetCellValue("Data", "B3"); got != "id" {
		t.Fatalf("B3 = %q, want header id", got)
	}
	if got, _ := workbook.GetCellValue("Data", "C5"); got != "grace" {
		t.Fatalf("C5 = %q, want grace", got)
	}
}

func TestTemplateWriterNoHeaderStartsDataAtStartCell(t *testing.T) {
	dir := t.TempDir()
	template := buildTemplate(t, dir)
	destination := filepath.Join(dir, "out.xlsx")

	writer := &TemplateWriter{Target: SheetTarget{
		TemplatePath: template,
		SheetName:    "Data",
		StartCell:    "A2",
	}}
	err := writer.Write(destination, []string{"v"}, [][]any{{"first"}}, guard.Deadline{}, guard.NewToken())
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	workbook, _ := excelize.OpenFile(destination)
	defer func() { _ = workbook.Close() }()
	if got, _ := workbook.GetCellValue("Data", "A2"); got != "first" {
		t.Fatalf("A2 = %q, want first", got)
	}
}

func TestTemplateWriterCancelBeforeCopyCreatesNothing(t *testing.T) {
	dir := t.TempDir()
	template := buildTemplate(t, dir)
	destination := filepath.Join(dir, "out.xlsx")
	token := guard.NewToken()
	token.Cancel()

	writer := &TemplateWriter{Target: SheetTarget{TemplatePath: template, SheetName: "Data"}}
	err := writer.Write(destination, []string{"v"}, [][]any{{int64(1)}}, guard.Deadline{}, token)
	if !errors.Is(err, guard.ErrCancelled) {
		t.Fatalf("Write() error = %v, want ErrCancelled", err)
	}
	if _, statErr := os.Stat(destination); !os.IsNotExist(statErr) {
		t.Fatal("destination should never have been created")
	}
}

func TestTemplateWriterDeadlineCheckedEvenWithNoRows(t *testing.T) {
	dir := t.TempDir()
	template := buildTemplate(t, dir)
	destination := filepath.Join(dir, "out.xlsx")

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	deadline := guard.After(time.Second, func() time.Time { return base })
	calls := 0
	clock := func() time.Time {
		// The start stamp and the pre-copy check pass; the post-copy
		// check sees an expired deadline.
		calls++
		if calls <= 2 {
			return base
		}
		return base.Add(time.Minute)
	}

	writer := &TemplateWriter{Target: SheetTarget{TemplatePath: template, SheetName: "Data"}, Clock: clock}
	err := writer.Write(destination, []string{"v"}, nil, deadline, guard.NewToken())
	var timeoutErr *guard.TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("Write() error = %v, want TimeoutError", err)
	}
	if _, statErr := os.Stat(destination); !os.IsNotExist(statErr) {
		t.Fatal("copied file should have been removed on timeout")
	}
}

func TestTemplateWriterCapacityCheckedAgainstStartCell(t *testing.T) {
	dir := t.TempDir()
	template := buildTemplate(t, dir)
	destination := filepath.Join(dir, "out.xlsx")

	writer := &TemplateWriter{Target: SheetTarget{
		TemplatePath: template,
		SheetName:    "Data",
		StartCell:    "XFD1", // last allowed column
	}}
	err := writer.Write(destination,
		[]string{"a", "b"},
		[][]any{{int64(1), int64(2)}},
		guard.Deadline{}, guard.NewToken())
	var sizingErr *SizingError
	if !errors.As(err, &sizingErr) {
		t.Fatalf("Write() error = %v, want SizingError", err)
	}
	if _, statErr := os.Stat(destination); !os.IsNotExist(statErr) {
		t.Fatal("destination should have been removed")
	}
}
