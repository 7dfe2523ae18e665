//go:build integration

package s3

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rowport/rowport/internal/storage"
)

func TestStoreRoundTripAgainstMinIO(t *testing.T) {
	endpoint := envOr("ROWPORT_TEST_S3_ENDPOINT", "")
	if endpoint == "" {
		t.Skip("ROWPORT_TEST_S3_ENDPOINT is not set")
	}

	cfg := Config{
		Endpoint:         endpoint,
		Region:           envOr("ROWPORT_TEST_S3_REGION", "us-east-1"),
		Bucket:           envOr("ROWPORT_TEST_S3_BUCKET", "rowport-it"),
		AccessKeyID:      envOr("ROWPORT_TEST_S3_ACCESS_KEY", "minio"),
		SecretAccessKey:  envOr("ROWPORT_TEST_S3_SECRET_KEY", "miniostorage"),
		UseSSL:           false,
		Prefix:           "integration-tests",
		AutoCreateBucket: true,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	store, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	key := "date=2026-02-19/run-1/roundtrip.csv"
	payload := []byte("id;name\r\n1;ada\r\n")

	if _, err := store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), storage.PutOptions{ContentType: "text/csv"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	stat, err := store.Stat(ctx, key)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if stat.Size != int64(len(payload)) {
		t.Fatalf("Stat().Size = %d, want %d", stat.Size, len(payload))
	}
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
