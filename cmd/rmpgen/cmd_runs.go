package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/rmpgen/internal/backup"
	"github.com/nvandessel/rmpgen/internal/config"
	"github.com/nvandessel/rmpgen/internal/constants"
	"github.com/nvandessel/rmpgen/internal/store"
)

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Query the run ledger of a property directory",
	}
	cmd.AddCommand(
		newRunsListCmd(),
		newRunsShowCmd(),
		newRunsFailedCmd(),
		newRunsBackupCmd(),
	)
	return cmd
}

// openLedger opens the existing ledger of a property directory. It never
// creates one.
func openLedger(cmd *cobra.Command, propDir string) (store.Ledger, error) {
	cfg, err := loadConfig(cmd, propDir)
	if err != nil {
		return nil, err
	}
	return openLedgerOf(cfg)
}

func openLedgerOf(cfg *config.BatchConfig) (store.Ledger, error) {
	path := store.LedgerPath(cfg.BaseDir, cfg.Ledger.Path)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("no run ledger at %s: %w", path, err)
	}
	ledger, err := store.NewSQLiteLedger(path)
	if err != nil {
		return nil, err
	}
	return ledger, nil
}

func batchRef(args []string) string {
	if len(args) > 1 {
		return args[1]
	}
	return store.LatestRef
}

func newRunsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list PROP_FILE_DIRECTORY",
		Short: "List recorded batches, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			limit, _ := cmd.Flags().GetInt("limit")

			ledger, err := openLedger(cmd, args[0])
			if err != nil {
				return err
			}
			defer ledger.Close()

			batches, err := ledger.ListBatches(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("failed to list batches: %w", err)
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"batches": batches,
					"count":   len(batches),
				})
			}
			if len(batches) == 0 {
				fmt.Fprintln(out, "No batches recorded.")
				return nil
			}
			for _, b := range batches {
				printBatchLine(out, b)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "Maximum number of batches to list (0 for all)")
	return cmd
}

func newRunsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show PROP_FILE_DIRECTORY [BATCH]",
		Short: "Show every run of a batch (default: latest)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			ledger, err := openLedger(cmd, args[0])
			if err != nil {
				return err
			}
			defer ledger.Close()

			b, err := ledger.GetBatch(cmd.Context(), batchRef(args))
			if err != nil {
				return err
			}
			runs, err := ledger.Runs(cmd.Context(), b.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"batch": b,
					"runs":  runs,
				})
			}

			printBatchLine(out, *b)
			for _, r := range runs {
				line := fmt.Sprintf("  %4d  %20d  %-9s", r.Index, r.Seed, r.Status)
				if r.StartedAt != nil && r.FinishedAt != nil {
					line += fmt.Sprintf("  %s", r.FinishedAt.Sub(*r.StartedAt).Round(time.Millisecond))
				}
				if r.FailedStage != "" {
					line += fmt.Sprintf("  [%s] %s", r.FailedStage, r.Error)
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func newRunsFailedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "failed PROP_FILE_DIRECTORY [BATCH]",
		Short: "Print failed and pending seeds of a batch as a -seedList= argument",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")

			ledger, err := openLedger(cmd, args[0])
			if err != nil {
				return err
			}
			defer ledger.Close()

			b, err := ledger.GetBatch(cmd.Context(), batchRef(args))
			if err != nil {
				return err
			}
			unfinished, err := ledger.UnfinishedSeeds(cmd.Context(), b.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"batch_id": b.ID,
					"seeds":    unfinished,
				})
			}
			if len(unfinished) == 0 {
				fmt.Fprintf(out, "Batch %s has no failed or pending runs.\n", b.ID)
				return nil
			}
			fmt.Fprintln(out, seedListLiteral(unfinished))
			return nil
		},
	}
}

func newRunsBackupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup PROP_FILE_DIRECTORY",
		Short: "Snapshot the run ledger and prune old snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jsonOut, _ := cmd.Flags().GetBool("json")
			dir, _ := cmd.Flags().GetString("dir")
			keep, _ := cmd.Flags().GetInt("keep")
			maxAgeStr, _ := cmd.Flags().GetString("max-age")

			retention := backup.Retention{Keep: keep}
			if maxAgeStr != "" {
				maxAge, err := backup.ParseAge(maxAgeStr)
				if err != nil {
					return fmt.Errorf("invalid --max-age: %w", err)
				}
				retention.MaxAge = maxAge
			}

			cfg, err := loadConfig(cmd, args[0])
			if err != nil {
				return err
			}
			if dir == "" {
				dir = filepath.Join(cfg.BaseDir, constants.BackupDirName)
			}

			ledger, err := openLedgerOf(cfg)
			if err != nil {
				return err
			}
			defer ledger.Close()

			now := time.Now()
			path, err := backup.Create(cmd.Context(), ledger, dir, now)
			if err != nil {
				return err
			}

			deleted, err := backup.Prune(dir, retention, now)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut {
				return json.NewEncoder(out).Encode(map[string]interface{}{
					"backup":  path,
					"deleted": deleted,
				})
			}
			fmt.Fprintf(out, "Ledger backed up to %s\n", path)
			if len(deleted) > 0 {
				fmt.Fprintf(out, "Removed %d old backup(s)\n", len(deleted))
			}
			return nil
		},
	}
	cmd.Flags().String("dir", "", "Backup directory (default: <PROP_FILE_DIRECTORY>/rmpgen-backups)")
	cmd.Flags().Int("keep", 10, "Number of most recent backups to keep (0 disables count pruning)")
	cmd.Flags().String("max-age", "", "Also keep backups newer than this age (e.g. 30d, 2w, 720h)")
	return cmd
}

func printBatchLine(w io.Writer, b store.BatchRecord) {
	state := "running"
	switch {
	case b.TimedOut:
		state = "timed out"
	case b.Finished():
		state = "finished"
	}
	fmt.Fprintf(w, "%s  %s  %-9s  runs=%d completed=%d failed=%d pending=%d workers=%d stages=%s\n",
		b.ID, b.StartedAt.Local().Format(time.DateTime), state, b.Runs, b.Completed, b.Failed, b.Pending,
		b.Workers, b.Stages)
}
