package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunsCommandsReadLedger(t *testing.T) {
	requireShell(t)
	dir := writeBatchDir(t, failingBatchYAML)

	if code, _, stderr := runCLI(t, dir); code != exitOK {
		t.Fatalf("batch: exit code = %d (stderr %q)", code, stderr)
	}

	code, stdout, stderr := runCLI(t, "runs", "list", dir)
	if code != exitOK {
		t.Fatalf("runs list: exit code = %d (stderr %q)", code, stderr)
	}
	if !strings.Contains(stdout, "completed=2 failed=1 pending=0") {
		t.Errorf("runs list output:\n%s", stdout)
	}

	code, stdout, _ = runCLI(t, "runs", "failed", dir)
	if code != exitOK {
		t.Fatalf("runs failed: exit code = %d", code)
	}
	replay := strings.TrimSpace(stdout)
	if !strings.HasPrefix(replay, "-seedList=") || strings.Contains(replay, ",") {
		t.Errorf("runs failed = %q, want a single seed", replay)
	}

	code, stdout, _ = runCLI(t, "runs", "show", dir, "latest", "--json")
	if code != exitOK {
		t.Fatalf("runs show: exit code = %d", code)
	}
	var shown struct {
		Batch struct {
			ID   string `json:"id"`
			Runs int    `json:"runs"`
		} `json:"batch"`
		Runs []struct {
			Seed        int64  `json:"seed"`
			Status      string `json:"status"`
			FailedStage string `json:"failed_stage"`
		} `json:"runs"`
	}
	if err := json.Unmarshal([]byte(stdout), &shown); err != nil {
		t.Fatalf("decoding runs show: %v\n%s", err, stdout)
	}
	if shown.Batch.Runs != 3 || len(shown.Runs) != 3 {
		t.Fatalf("runs show = %+v, want 3 runs", shown)
	}
	if shown.Runs[1].FailedStage != "contact-map" {
		t.Errorf("run 1 failed stage = %q, want contact-map", shown.Runs[1].FailedStage)
	}
	if replay != seedListLiteral([]int64{shown.Runs[1].Seed}) {
		t.Errorf("runs failed = %q, does not match run 1 seed %d", replay, shown.Runs[1].Seed)
	}

	// A batch id prefix resolves to the same batch.
	code, stdout, _ = runCLI(t, "runs", "failed", dir, shown.Batch.ID[:8])
	if code != exitOK || strings.TrimSpace(stdout) != replay {
		t.Errorf("runs failed by prefix: code %d, output %q", code, stdout)
	}
}

func TestRunsWithoutLedger(t *testing.T) {
	dir := writeBatchDir(t, "num_runs: 1\n")
	code, _, stderr := runCLI(t, "runs", "list", dir)
	if code != exitError {
		t.Fatalf("exit code = %d, want %d", code, exitError)
	}
	if !strings.Contains(stderr, "no run ledger") {
		t.Errorf("stderr = %q", stderr)
	}
}

func TestRunsUnknownBatch(t *testing.T) {
	requireShell(t)
	dir := writeBatchDir(t, failingBatchYAML)
	if code, _, stderr := runCLI(t, dir, "1"); code != exitOK {
		t.Fatalf("batch: exit code = %d (stderr %q)", code, stderr)
	}
	code, _, _ := runCLI(t, "runs", "show", dir, "no-such-batch")
	if code != exitError {
		t.Errorf("exit code = %d, want %d", code, exitError)
	}
}

func TestRunsBackup(t *testing.T) {
	requireShell(t)
	dir := writeBatchDir(t, failingBatchYAML)
	if code, _, stderr := runCLI(t, dir); code != exitOK {
		t.Fatalf("batch: exit code = %d (stderr %q)", code, stderr)
	}

	backups := filepath.Join(t.TempDir(), "snapshots")
	for i := 0; i < 3; i++ {
		code, _, stderr := runCLI(t, "runs", "backup", dir, "--dir", backups, "--keep", "2")
		if code != exitOK {
			t.Fatalf("runs backup #%d: exit code = %d (stderr %q)", i, code, stderr)
		}
	}

	entries, err := os.ReadDir(backups)
	if err != nil {
		t.Fatalf("reading backup dir: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("backups kept = %d, want 2", len(entries))
	}
}
