// Package backup takes point-in-time copies of the run ledger and prunes old
// copies according to a retention policy.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	filePrefix = "rmpgen-ledger-"
	fileSuffix = ".db"

	// nameLayout sorts lexically in creation order.
	nameLayout = "20060102-150405.000000"
)

// Snapshotter writes a consistent copy of a database to a new file.
type Snapshotter interface {
	SnapshotTo(ctx context.Context, dest string) error
}

// FileName returns the backup file name for a snapshot taken at t.
func FileName(t time.Time) string {
	return filePrefix + t.UTC().Format(nameLayout) + fileSuffix
}

// parseFileName extracts the creation time embedded in a backup file name.
func parseFileName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	t, err := time.Parse(nameLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Create snapshots src into dir and returns the new file's path.
func Create(ctx context.Context, src Snapshotter, dir string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("failed to create backup directory: %w", err)
	}

	path := filepath.Join(dir, FileName(now))
	if err := src.SnapshotTo(ctx, path); err != nil {
		return "", err
	}
	if err := os.Chmod(path, 0600); err != nil {
		return "", fmt.Errorf("failed to restrict backup permissions: %w", err)
	}
	return path, nil
}
