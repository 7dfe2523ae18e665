package rowport

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/rowport/rowport/internal/config"
	"github.com/rowport/rowport/internal/dbconn"
	"github.com/rowport/rowport/internal/engine"
	"github.com/rowport/rowport/internal/storage"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("rowport", func(string) (string, bool) { return "", false })
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return cfg
}

func writeScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "query.sql")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func openStub(db *sql.DB) func(context.Context, engine.Dialect, dbconn.Config) (*sql.DB, error) {
	return func(context.Context, engine.Dialect, dbconn.Config) (*sql.DB, error) {
		return db, nil
	}
}

func TestRunWritesDelimitedArtifact(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	mock.ExpectQuery("SELECT id, name FROM users").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "ada").AddRow(int64(2), "grace"))

	script := writeScript(t, "SELECT id, name FROM users;")
	out := filepath.Join(t.TempDir(), "report.csv")

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"-script", script,
		"-out", out,
		"-dsn", "local.sqlite",
	}, Options{
		Config: testConfig(t),
		Stdout: &stdout,
		Stderr: &stderr,
		OpenDB: openStub(db),
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stdout.String(), "saved 2 rows") {
		t.Fatalf("stdout = %q", stdout.String())
	}

	content, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(content) != "id;name\r\n1;ada\r\n2;grace\r\n" {
		t.Fatalf("artifact = %q", string(content))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestRunZeroRowsWithExistingDestinationSavesNothing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	mock.ExpectQuery("SELECT id FROM empty").WillReturnRows(sqlmock.NewRows([]string{"id"}))

	script := writeScript(t, "SELECT id FROM empty;")
	out := filepath.Join(t.TempDir(), "report.csv")
	if err := os.WriteFile(out, []byte("previous run"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{
		"-script", script,
		"-out", out,
		"-dsn", "local.sqlite",
	}, Options{
		Config: testConfig(t),
		Stdout: &stdout,
		OpenDB: openStub(db),
	})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), "nothing saved") {
		t.Fatalf("stdout = %q", stdout.String())
	}
	content, _ := os.ReadFile(out)
	if string(content) != "previous run" {
		t.Fatalf("existing artifact was modified: %q", string(content))
	}
}

func TestRunZeroRowsWithoutDestinationWritesHeaderOnly(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	mock.ExpectQuery("SELECT id, name FROM empty").WillReturnRows(sqlmock.NewRows([]string{"id", "name"}))

	script := writeScript(t, "SELECT id, name FROM empty;")
	out := filepath.Join(t.TempDir(), "report.csv")

	code := Run(context.Background(), []string{
		"-script", script,
		"-out", out,
		"-dsn", "local.sqlite",
	}, Options{
		Config: testConfig(t),
		OpenDB: openStub(db),
	})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	content, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(content) != "id;name\r\n" {
		t.Fatalf("artifact = %q", string(content))
	}
}

func TestRunRequiresScriptAndOut(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), nil, Options{Config: testConfig(t), Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected usage output")
	}
}

func TestRunRejectsUnknownDestinationExtension(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(int64(1)))

	script := writeScript(t, "SELECT 1;")
	out := filepath.Join(t.TempDir(), "report.unknown")

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"-script", script,
		"-out", out,
		"-dsn", "local.sqlite",
	}, Options{
		Config: testConfig(t),
		Stderr: &stderr,
		OpenDB: openStub(db),
	})
	if code != 2 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
}

type recordingStore struct {
	lastKey string
}

func (r *recordingStore) Put(_ context.Context, key string, body io.Reader, size int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	r.lastKey = key
	_, _ = io.Copy(io.Discard, body)
	return storage.ObjectInfo{Key: key, Size: size}, nil
}

func (r *recordingStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{Key: key}, nil
}

func TestRunDeliversArtifactWhenRequested(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(int64(1)))

	script := writeScript(t, "SELECT 1;")
	out := filepath.Join(t.TempDir(), "report.csv")
	store := &recordingStore{}

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{
		"-script", script,
		"-out", out,
		"-dsn", "local.sqlite",
		"-deliver",
	}, Options{
		Config: testConfig(t),
		Stdout: &stdout,
		OpenDB: openStub(db),
		Store:  store,
		Clock:  func() time.Time { return time.Date(2026, 2, 19, 9, 0, 0, 0, time.UTC) },
	})
	if code != 0 {
		t.Fatalf("exit code = %d, stdout=%s", code, stdout.String())
	}
	if !strings.HasPrefix(store.lastKey, "date=2026-02-19/") || !strings.HasSuffix(store.lastKey, "/report.csv") {
		t.Fatalf("delivered key = %q", store.lastKey)
	}
	if !strings.Contains(stdout.String(), "delivered ") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestStampedDestinationAppliesSuffix(t *testing.T) {
	cfg := config.StampConfig{Pattern: " [YYYY-MM-DD]", Place: "suffix"}
	clock := func() time.Time { return time.Date(2026, 2, 17, 8, 9, 0, 0, time.UTC) }
	got := stampedDestination(filepath.Join("exports", "report.xlsx"), cfg, clock)
	want := filepath.Join("exports", "report [2026-02-17].xlsx")
	if got != want {
		t.Fatalf("stampedDestination() = %q, want %q", got, want)
	}
}

func TestResolveDialect(t *testing.T) {
	dialect, err := resolveDialect("", "postgres://user:pw@host/db")
	if err != nil || dialect != engine.DialectPostgres {
		t.Fatalf("resolveDialect = %v, %v", dialect, err)
	}
	dialect, err = resolveDialect("duckdb", "whatever")
	if err != nil || dialect != engine.DialectDuckDB {
		t.Fatalf("resolveDialect = %v, %v", dialect, err)
	}
	if _, err := resolveDialect("", "unknown://x"); err == nil {
		t.Fatal("expected detection error")
	}
}
