package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	Database      DatabaseConfig
	Query         QueryConfig
	Export        ExportConfig
	Stamp         StampConfig
	ObjectStore   ObjectStoreConfig
	Delivery      DeliveryConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type DatabaseConfig struct {
	DSN             string
	Dialect         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

type QueryConfig struct {
	// Timeout bounds a whole query run. Zero means unbounded.
	Timeout        time.Duration
	MaxAttempts    int
	FetchBatchRows int
	CancelGrace    time.Duration
}

type ExportConfig struct {
	// Timeout bounds the export phase. Zero means unbounded.
	Timeout        time.Duration
	CheckEveryRows int
	Encoding       string
	Delimiter      string
	Quoting        string
	SheetName      string
}

type StampConfig struct {
	Pattern string
	Place   string
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type DeliveryConfig struct {
	Enabled bool
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("ROWPORT_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid ROWPORT_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	if err := applyString(lookup, "ROWPORT_SERVICE_NAME", &cfg.Service.Name); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ROWPORT_DATABASE_DSN", &cfg.Database.DSN); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ROWPORT_DATABASE_DIALECT", &cfg.Database.Dialect); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ROWPORT_DATABASE_MAX_OPEN_CONNS", &cfg.Database.MaxOpenConns); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ROWPORT_DATABASE_MAX_IDLE_CONNS", &cfg.Database.MaxIdleConns); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ROWPORT_DATABASE_CONN_MAX_IDLE_TIME", &cfg.Database.ConnMaxIdleTime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ROWPORT_DATABASE_CONN_MAX_LIFETIME", &cfg.Database.ConnMaxLifetime); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ROWPORT_DATABASE_PING_TIMEOUT", &cfg.Database.PingTimeout); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ROWPORT_QUERY_TIMEOUT", &cfg.Query.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ROWPORT_QUERY_MAX_ATTEMPTS", &cfg.Query.MaxAttempts); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ROWPORT_QUERY_FETCH_BATCH_ROWS", &cfg.Query.FetchBatchRows); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ROWPORT_QUERY_CANCEL_GRACE", &cfg.Query.CancelGrace); err != nil {
		return Config{}, err
	}
	if err := applyDuration(lookup, "ROWPORT_EXPORT_TIMEOUT", &cfg.Export.Timeout); err != nil {
		return Config{}, err
	}
	if err := applyInt(lookup, "ROWPORT_EXPORT_CHECK_EVERY_ROWS", &cfg.Export.CheckEveryRows); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ROWPORT_EXPORT_ENCODING", &cfg.Export.Encoding); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ROWPORT_EXPORT_DELIMITER", &cfg.Export.Delimiter); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ROWPORT_EXPORT_QUOTING", &cfg.Export.Quoting); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ROWPORT_EXPORT_SHEET_NAME", &cfg.Export.SheetName); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ROWPORT_STAMP_PATTERN", &cfg.Stamp.Pattern); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ROWPORT_STAMP_PLACE", &cfg.Stamp.Place); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ROWPORT_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ROWPORT_OBJECTSTORE_REGION", &cfg.ObjectStore.Region); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ROWPORT_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ROWPORT_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ROWPORT_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ROWPORT_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL); err != nil {
		return Config{}, err
	}
	if err := applyString(lookup, "ROWPORT_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ROWPORT_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ROWPORT_DELIVERY_ENABLED", &cfg.Delivery.Enabled); err != nil {
		return Config{}, err
	}
	if err := applyBool(lookup, "ROWPORT_LOG_JSON", &cfg.Observability.LogJSON); err != nil {
		return Config{}, err
	}
	if err := applyLogLevel(lookup, "ROWPORT_LOG_LEVEL", &cfg.Observability.LogLevel); err != nil {
		return Config{}, err
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.Query.MaxAttempts < 1 {
		return Config{}, fmt.Errorf("ROWPORT_QUERY_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.Query.FetchBatchRows < 1 {
		return Config{}, fmt.Errorf("ROWPORT_QUERY_FETCH_BATCH_ROWS must be at least 1")
	}
	if cfg.Export.CheckEveryRows < 1 {
		return Config{}, fmt.Errorf("ROWPORT_EXPORT_CHECK_EVERY_ROWS must be at least 1")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "rowport"},
		Database: DatabaseConfig{
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
			PingTimeout:     5 * time.Second,
		},
		Query: QueryConfig{
			Timeout:        0,
			MaxAttempts:    3,
			FetchBatchRows: 2000,
			CancelGrace:    250 * time.Millisecond,
		},
		Export: ExportConfig{
			Timeout:        0,
			CheckEveryRows: 100,
			Encoding:       "utf-8",
			Delimiter:      ";",
			Quoting:        "minimal",
			SheetName:      "Sheet1",
		},
		Stamp: StampConfig{
			Pattern: "",
			Place:   "suffix",
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "rowport",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			Prefix:           "",
			AutoCreateBucket: true,
		},
		Delivery: DeliveryConfig{Enabled: false},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
