// Package rowport drives one script-to-artifact run from the command line:
// validate and read the SQL script, execute it with the query budget, write
// the artifact with the export budget, then optionally deliver it.
package rowport

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rowport/rowport/internal/config"
	"github.com/rowport/rowport/internal/dbconn"
	"github.com/rowport/rowport/internal/delivery"
	"github.com/rowport/rowport/internal/engine"
	"github.com/rowport/rowport/internal/export"
	"github.com/rowport/rowport/internal/guard"
	"github.com/rowport/rowport/internal/observability"
	"github.com/rowport/rowport/internal/sqlfile"
	"github.com/rowport/rowport/internal/stamp"
	"github.com/rowport/rowport/internal/storage"
	s3store "github.com/rowport/rowport/internal/storage/s3"
)

type Options struct {
	Config config.Config
	Logger *slog.Logger
	Stdout io.Writer
	Stderr io.Writer

	// Token lets tests drive cancellation directly; Run creates one when nil.
	Token *guard.Token
	// OpenDB defaults to dbconn.Open.
	OpenDB func(ctx context.Context, dialect engine.Dialect, cfg dbconn.Config) (*sql.DB, error)
	// Store overrides the delivery object store; when nil and delivery is
	// enabled, an S3 store is built from the configuration.
	Store storage.ObjectStore
	Clock func() time.Time
}

// Run executes one export run and returns a process exit code: 0 on success,
// 2 on usage errors, 130 when the operator cancelled, 1 otherwise.
func Run(ctx context.Context, args []string, opts Options) int {
	stdout := opts.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	cfg := opts.Config

	fs := flag.NewFlagSet("rowport", flag.ContinueOnError)
	fs.SetOutput(stderr)

	scriptPath := fs.String("script", "", "path to the SQL script file (required)")
	out := fs.String("out", "", "destination artifact path (required)")
	dsn := fs.String("dsn", cfg.Database.DSN, "database DSN")
	dialectName := fs.String("dialect", cfg.Database.Dialect, "force a dialect instead of detecting it from the DSN")
	format := fs.String("format", "", "artifact format (csv, xlsx, parquet); default derives from the destination extension")
	templatePath := fs.String("template", "", "spreadsheet template to fill instead of creating a blank workbook")
	sheetName := fs.String("sheet", cfg.Export.SheetName, "sheet name for spreadsheet output")
	startCell := fs.String("start-cell", "A1", "top-left cell for template output")
	includeHeader := fs.Bool("header", false, "write column headers into the template sheet")
	queryTimeout := fs.Duration("query-timeout", cfg.Query.Timeout, "query phase budget (0 = unbounded)")
	exportTimeout := fs.Duration("export-timeout", cfg.Export.Timeout, "export phase budget (0 = unbounded)")
	deliver := fs.Bool("deliver", cfg.Delivery.Enabled, "upload the finished artifact to the object store")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if strings.TrimSpace(*scriptPath) == "" || strings.TrimSpace(*out) == "" {
		_, _ = fmt.Fprintln(stderr, "both -script and -out are required")
		fs.Usage()
		return 2
	}
	if strings.TrimSpace(*dsn) == "" {
		_, _ = fmt.Fprintln(stderr, "a DSN is required (flag -dsn or ROWPORT_DATABASE_DSN)")
		return 2
	}

	runID := observability.NewRunID()
	ctx = observability.ContextWithRunID(ctx, runID)
	logger = logger.With(slog.String("run_id", runID))

	token := opts.Token
	if token == nil {
		token = guard.NewToken()
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	// First signal asks the run to stop cooperatively; a second one tears
	// the attempt context down without waiting.
	signals := make(chan os.Signal, 2)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		select {
		case <-runCtx.Done():
			return
		case <-signals:
			logger.WarnContext(runCtx, "stop requested, cancelling run")
			token.Cancel()
		}
		select {
		case <-runCtx.Done():
		case <-signals:
			logger.ErrorContext(runCtx, "second stop request, aborting")
			cancelRun()
		}
	}()

	script, err := sqlfile.Read(*scriptPath)
	if err != nil {
		logger.ErrorContext(runCtx, "script rejected", slog.Any("error", err))
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}

	dialect, err := resolveDialect(*dialectName, *dsn)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}

	openDB := opts.OpenDB
	if openDB == nil {
		openDB = dbconn.Open
	}
	db, err := openDB(runCtx, dialect, dbconn.Config{
		DSN:             *dsn,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		PingTimeout:     cfg.Database.PingTimeout,
	})
	if err != nil {
		logger.ErrorContext(runCtx, "database connection failed", slog.Any("error", err))
		_, _ = fmt.Fprintln(stderr, err)
		return 1
	}
	defer func() { _ = db.Close() }()

	coordinator := &engine.Coordinator{
		Runner: &engine.Runner{
			FetchBatchRows: cfg.Query.FetchBatchRows,
			CancelGrace:    cfg.Query.CancelGrace,
			Clock:          clock,
			Logger:         logger,
		},
		MaxAttempts: cfg.Query.MaxAttempts,
		Logger:      logger,
	}
	result, err := coordinator.Execute(runCtx, db, engine.Request{
		SQL:     script,
		Dialect: dialect,
		Timeout: *queryTimeout,
		Token:   token,
	})
	if err != nil {
		return reportFailure(runCtx, logger, stderr, "query failed", err)
	}
	logger.InfoContext(runCtx, "query finished",
		slog.Int("rows", len(result.Rows)),
		slog.Int("columns", len(result.Columns)),
		slog.Duration("duration", result.Duration))

	destination := stampedDestination(*out, cfg.Stamp, clock)

	if len(result.Rows) == 0 {
		if _, statErr := os.Stat(destination); statErr == nil {
			logger.InfoContext(runCtx, "nothing saved", slog.String("path", destination))
			_, _ = fmt.Fprintf(stdout, "nothing saved: query returned no rows and %s already exists\n", destination)
			return 0
		}
	}

	writer, err := newWriter(writerSpec{
		format:        *format,
		destination:   destination,
		templatePath:  *templatePath,
		sheetName:     *sheetName,
		startCell:     *startCell,
		includeHeader: *includeHeader,
		export:        cfg.Export,
		clock:         clock,
	})
	if err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		return 2
	}

	exportDeadline := guard.After(*exportTimeout, clock)
	if err := writer.Write(destination, result.Columns, result.Rows, exportDeadline, token); err != nil {
		return reportFailure(runCtx, logger, stderr, "export failed", err)
	}
	logger.InfoContext(runCtx, "artifact written",
		slog.String("path", destination),
		slog.Int("rows", len(result.Rows)))
	_, _ = fmt.Fprintf(stdout, "saved %d rows to %s\n", len(result.Rows), destination)

	if *deliver {
		store := opts.Store
		if store == nil {
			store, err = s3store.New(runCtx, s3store.Config{
				Endpoint:         cfg.ObjectStore.Endpoint,
				Region:           cfg.ObjectStore.Region,
				Bucket:           cfg.ObjectStore.Bucket,
				AccessKeyID:      cfg.ObjectStore.AccessKeyID,
				SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
				UseSSL:           cfg.ObjectStore.UseSSL,
				Prefix:           cfg.ObjectStore.Prefix,
				AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
			})
			if err != nil {
				logger.ErrorContext(runCtx, "object store unavailable, artifact kept locally", slog.Any("error", err))
				_, _ = fmt.Fprintln(stderr, err)
				return 1
			}
		}
		uploader := &delivery.Uploader{Store: store, Logger: logger, Clock: clock}
		info, err := uploader.Deliver(runCtx, runID, destination)
		if err != nil {
			logger.ErrorContext(runCtx, "delivery failed, artifact kept locally", slog.Any("error", err))
			_, _ = fmt.Fprintln(stderr, err)
			return 1
		}
		_, _ = fmt.Fprintf(stdout, "delivered %s\n", info.Key)
	}

	return 0
}

// reportFailure logs the error and maps it to an exit code: 130 for an
// operator cancel, 1 for everything else.
func reportFailure(ctx context.Context, logger *slog.Logger, stderr io.Writer, message string, err error) int {
	logger.ErrorContext(ctx, message, slog.Any("error", err))
	_, _ = fmt.Fprintf(stderr, "%s: %v\n", message, err)
	if errors.Is(err, guard.ErrCancelled) {
		return 130
	}
	return 1
}

func resolveDialect(name, dsn string) (engine.Dialect, error) {
	if strings.TrimSpace(name) != "" {
		return engine.ParseDialect(name)
	}
	return dbconn.DetectDialect(dsn)
}

// stampedDestination applies the configured filename stamp to the base name
// while leaving the directory untouched.
func stampedDestination(out string, cfg config.StampConfig, clock func() time.Time) string {
	place, err := stamp.ParsePlacement(cfg.Place)
	if err != nil {
		place = stamp.Suffix
	}
	stamper := &stamp.Stamper{Pattern: cfg.Pattern, Place: place, Clock: clock}
	return filepath.Join(filepath.Dir(out), stamper.Apply(filepath.Base(out)))
}

type artifactWriter interface {
	Write(path string, columns []string, rows [][]any, deadline guard.Deadline, token *guard.Token) error
}

type writerSpec struct {
	format        string
	destination   string
	templatePath  string
	sheetName     string
	startCell     string
	includeHeader bool
	export        config.ExportConfig
	clock         func() time.Time
}

func newWriter(spec writerSpec) (artifactWriter, error) {
	if spec.templatePath != "" {
		return &export.TemplateWriter{
			Target: export.SheetTarget{
				TemplatePath:  spec.templatePath,
				SheetName:     spec.sheetName,
				StartCell:     spec.startCell,
				IncludeHeader: spec.includeHeader,
			},
			CheckEveryRows: spec.export.CheckEveryRows,
			Clock:          spec.clock,
		}, nil
	}

	format := strings.ToLower(strings.TrimSpace(spec.format))
	if format == "" {
		switch strings.ToLower(filepath.Ext(spec.destination)) {
		case ".csv", ".txt":
			format = "csv"
		case ".xlsx":
			format = "xlsx"
		case ".parquet":
			format = "parquet"
		default:
			return nil, fmt.Errorf("cannot derive format from destination %q; pass -format", spec.destination)
		}
	}

	switch format {
	case "csv", "delimited":
		profile, err := delimitedProfile(spec.export)
		if err != nil {
			return nil, err
		}
		return &export.DelimitedWriter{Profile: profile, CheckEveryRows: spec.export.CheckEveryRows, Clock: spec.clock}, nil
	case "xlsx", "spreadsheet":
		return &export.SpreadsheetWriter{
			SheetName:      spec.sheetName,
			CheckEveryRows: spec.export.CheckEveryRows,
			Clock:          spec.clock,
		}, nil
	case "parquet":
		return &export.ParquetWriter{CheckEveryRows: spec.export.CheckEveryRows, Clock: spec.clock}, nil
	default:
		return nil, fmt.Errorf("unknown format %q", spec.format)
	}
}

func delimitedProfile(cfg config.ExportConfig) (export.Profile, error) {
	profile := export.DefaultProfile()
	if cfg.Encoding != "" && !strings.EqualFold(cfg.Encoding, "utf-8") {
		profile.Encoding = cfg.Encoding
	}
	if cfg.Delimiter != "" {
		runes := []rune(cfg.Delimiter)
		if len(runes) != 1 {
			return export.Profile{}, fmt.Errorf("delimiter must be a single character, got %q", cfg.Delimiter)
		}
		profile.Delimiter = runes[0]
	}
	quoting, err := export.ParseQuoteStrategy(cfg.Quoting)
	if err != nil {
		return export.Profile{}, err
	}
	profile.Quoting = quoting
	return profile, nil
}
