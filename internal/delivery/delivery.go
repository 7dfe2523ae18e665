// Package delivery uploads finished export artifacts to an object store.
// Delivery is strictly best effort for the local artifact: a failed upload
// never touches the file on disk.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rowport/rowport/internal/storage"
)

type Uploader struct {
	Store  storage.ObjectStore
	Logger *slog.Logger
	Clock  func() time.Time
}

// Deliver uploads the artifact at path under a date-partitioned key derived
// from the run identifier and returns the stored object info.
func (u *Uploader) Deliver(ctx context.Context, runID, path string) (storage.ObjectInfo, error) {
	clock := u.Clock
	if clock == nil {
		clock = time.Now
	}
	key, err := storage.BuildArtifactKey(runID, filepath.Base(path), clock())
	if err != nil {
		return storage.ObjectInfo{}, err
	}

	file, err := os.Open(path)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("open artifact %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("stat artifact %s: %w", path, err)
	}

	info, err := u.Store.Put(ctx, key, file, stat.Size(), storage.PutOptions{
		ContentType: contentTypeFor(path),
	})
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("upload artifact %s: %w", path, err)
	}

	if u.Logger != nil {
		u.Logger.InfoContext(ctx, "artifact_delivered",
			slog.String("key", info.Key),
			slog.Int64("bytes", info.Size),
		)
	}
	return info, nil
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		return "text/csv"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}
