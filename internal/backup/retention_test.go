package backup

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

var epoch = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

// hoursAgo builds snapshots taken the given number of hours before epoch,
// in the order given.
func hoursAgo(hours ...int) []Snapshot {
	snaps := make([]Snapshot, len(hours))
	for i, h := range hours {
		at := epoch.Add(-time.Duration(h) * time.Hour)
		snaps[i] = Snapshot{Path: FileName(at), TakenAt: at}
	}
	return snaps
}

func paths(snaps []Snapshot) []string {
	var out []string
	for _, s := range snaps {
		out = append(out, s.Path)
	}
	return out
}

func TestRetention_Select(t *testing.T) {
	snaps := hoursAgo(1, 5, 30, 50, 200)

	tests := []struct {
		name     string
		r        Retention
		wantKeep int
	}{
		{"disabled keeps all", Retention{}, 5},
		{"count only", Retention{Keep: 2}, 2},
		{"count larger than set", Retention{Keep: 10}, 5},
		{"age only", Retention{MaxAge: 24 * time.Hour}, 2},
		{"count or age", Retention{Keep: 3, MaxAge: 24 * time.Hour}, 3},
		{"age wider than count", Retention{Keep: 1, MaxAge: 72 * time.Hour}, 4},
		{"newest survives an expired age", Retention{MaxAge: time.Minute}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keep, drop := tt.r.Select(snaps, epoch)
			if len(keep) != tt.wantKeep {
				t.Fatalf("kept %d, want %d", len(keep), tt.wantKeep)
			}
			if len(keep)+len(drop) != len(snaps) {
				t.Errorf("kept %d + dropped %d != %d", len(keep), len(drop), len(snaps))
			}
			if !reflect.DeepEqual(paths(keep), paths(snaps[:tt.wantKeep])) {
				t.Errorf("kept %v, want the %d newest", paths(keep), tt.wantKeep)
			}
		})
	}
}

func writeSnapshots(t *testing.T, dir string, times ...time.Time) {
	t.Helper()
	for _, at := range times {
		if err := os.WriteFile(filepath.Join(dir, FileName(at)), []byte("x"), 0600); err != nil {
			t.Fatal(err)
		}
	}
}

func TestSnapshots(t *testing.T) {
	dir := t.TempDir()
	writeSnapshots(t, dir, epoch, epoch.Add(2*time.Hour), epoch.Add(time.Hour))
	for name, body := range map[string]string{"rmpgen-ledger.db": "live", "notes.txt": "x", "rmpgen-ledger-bad.db": "x"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0600); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, FileName(epoch.Add(5*time.Hour))), 0700); err != nil {
		t.Fatal(err)
	}

	snaps, err := Snapshots(dir)
	if err != nil {
		t.Fatalf("Snapshots() error = %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("Snapshots() = %d entries, want 3", len(snaps))
	}
	for i, want := range []time.Time{epoch.Add(2 * time.Hour), epoch.Add(time.Hour), epoch} {
		if !snaps[i].TakenAt.Equal(want) {
			t.Errorf("snaps[%d].TakenAt = %v, want %v", i, snaps[i].TakenAt, want)
		}
	}
	if snaps[0].Size != 1 {
		t.Errorf("Size = %d, want 1", snaps[0].Size)
	}

	missing, err := Snapshots(filepath.Join(dir, "missing"))
	if err != nil || missing != nil {
		t.Errorf("missing directory: %v, %v", missing, err)
	}
}

func TestPrune(t *testing.T) {
	dir := t.TempDir()
	writeSnapshots(t, dir, epoch, epoch.Add(time.Hour), epoch.Add(2*time.Hour), epoch.Add(3*time.Hour))

	removed, err := Prune(dir, Retention{Keep: 2}, epoch.Add(4*time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	want := []string{filepath.Join(dir, FileName(epoch.Add(time.Hour))), filepath.Join(dir, FileName(epoch))}
	if !reflect.DeepEqual(removed, want) {
		t.Errorf("removed %v, want %v", removed, want)
	}

	remaining, _ := Snapshots(dir)
	if len(remaining) != 2 || !remaining[1].TakenAt.Equal(epoch.Add(2*time.Hour)) {
		t.Errorf("remaining = %v", remaining)
	}
}

func TestPrune_DisabledRetentionRemovesNothing(t *testing.T) {
	dir := t.TempDir()
	writeSnapshots(t, dir, epoch, epoch.Add(time.Hour))

	removed, err := Prune(dir, Retention{}, epoch.Add(1000*time.Hour))
	if err != nil || len(removed) != 0 {
		t.Errorf("Prune() = %v, %v, want nothing removed", removed, err)
	}
}

func TestParseAge(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"720h", 720 * time.Hour, false},
		{"90m", 90 * time.Minute, false},
		{"30d", 30 * 24 * time.Hour, false},
		{" 2w ", 14 * 24 * time.Hour, false},
		{"", 0, true},
		{"d", 0, true},
		{"-3d", 0, true},
		{"-1h", 0, true},
		{"5y", 0, true},
		{"xd", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseAge(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAge(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseAge(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
