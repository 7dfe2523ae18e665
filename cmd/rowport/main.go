package main

import (
	"context"
	"log/slog"
	"os"

	rowportcli "github.com/rowport/rowport/internal/cli/rowport"
	"github.com/rowport/rowport/internal/config"
	"github.com/rowport/rowport/internal/observability"
)

func main() {
	cfg, err := config.LoadFromEnv("rowport")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stderr)

	code := rowportcli.Run(context.Background(), os.Args[1:], rowportcli.Options{
		Config: cfg,
		Logger: logger,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	os.Exit(code)
}
