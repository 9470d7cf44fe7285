package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Snapshot is one ledger copy found in a backup directory.
type Snapshot struct {
	Path    string
	Size    int64
	TakenAt time.Time
}

// Retention says which ledger snapshots survive a prune. A snapshot is kept
// when it is among the Keep newest or younger than MaxAge. Zero disables a
// rule; with both rules disabled nothing is pruned. The newest snapshot is
// never pruned.
type Retention struct {
	Keep   int
	MaxAge time.Duration
}

// Enabled reports whether the retention prunes anything at all.
func (r Retention) Enabled() bool {
	return r.Keep > 0 || r.MaxAge > 0
}

// Select splits snaps, which must be ordered newest first, into the ones to
// keep and the ones to drop as of now.
func (r Retention) Select(snaps []Snapshot, now time.Time) (keep, drop []Snapshot) {
	if !r.Enabled() {
		return snaps, nil
	}
	cutoff := now.Add(-r.MaxAge)
	for i, s := range snaps {
		switch {
		case i == 0,
			i < r.Keep,
			r.MaxAge > 0 && s.TakenAt.After(cutoff):
			keep = append(keep, s)
		default:
			drop = append(drop, s)
		}
	}
	return keep, drop
}

// Snapshots lists the ledger snapshots in dir, newest first. Files that do
// not carry a snapshot name are ignored and a missing dir holds none.
func Snapshots(dir string) ([]Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var snaps []Snapshot
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		taken, ok := parseFileName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		snaps = append(snaps, Snapshot{
			Path:    filepath.Join(dir, e.Name()),
			Size:    info.Size(),
			TakenAt: taken,
		})
	}
	slices.SortFunc(snaps, func(a, b Snapshot) int {
		return b.TakenAt.Compare(a.TakenAt)
	})
	return snaps, nil
}

// Prune removes the snapshots in dir that r drops and returns their paths.
func Prune(dir string, r Retention, now time.Time) ([]string, error) {
	snaps, err := Snapshots(dir)
	if err != nil {
		return nil, err
	}
	_, drop := r.Select(snaps, now)

	var removed []string
	for _, s := range drop {
		if err := os.Remove(s.Path); err != nil {
			return removed, fmt.Errorf("failed to remove snapshot %s: %w", filepath.Base(s.Path), err)
		}
		removed = append(removed, s.Path)
	}
	return removed, nil
}

// ParseAge reads a snapshot age limit. It takes Go durations ("720h") and
// whole days or weeks ("30d", "2w").
func ParseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		if d < 0 {
			return 0, fmt.Errorf("negative age %q", s)
		}
		return d, nil
	}

	var unit time.Duration
	var digits string
	switch {
	case strings.HasSuffix(s, "d"):
		unit, digits = 24*time.Hour, strings.TrimSuffix(s, "d")
	case strings.HasSuffix(s, "w"):
		unit, digits = 7*24*time.Hour, strings.TrimSuffix(s, "w")
	default:
		return 0, fmt.Errorf("invalid age %q: want a duration such as 720h, 30d or 2w", s)
	}
	n, err := strconv.ParseUint(digits, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid age %q: %w", s, err)
	}
	return time.Duration(n) * unit, nil
}
