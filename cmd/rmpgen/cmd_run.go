package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvandessel/rmpgen/internal/batch"
	"github.com/nvandessel/rmpgen/internal/config"
	"github.com/nvandessel/rmpgen/internal/constants"
	"github.com/nvandessel/rmpgen/internal/locmap"
	"github.com/nvandessel/rmpgen/internal/logging"
	"github.com/nvandessel/rmpgen/internal/models"
	"github.com/nvandessel/rmpgen/internal/pipeline"
	"github.com/nvandessel/rmpgen/internal/runctx"
	"github.com/nvandessel/rmpgen/internal/seeds"
	"github.com/nvandessel/rmpgen/internal/stage"
	"github.com/nvandessel/rmpgen/internal/store"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run PROP_FILE_DIRECTORY [GEN_SETTING]",
		Short: "Run a batch (same as the root form)",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runBatch,
	}
	addRunFlags(cmd)
	return cmd
}

// addSeedFlags adds the flags that select the batch's seeds.
func addSeedFlags(cmd *cobra.Command) {
	cmd.Flags().String("seed-list", "", "Explicit comma separated seeds (legacy -seedList=)")
	cmd.Flags().String("gen-seed", "", "Derive seeds as BASE,COUNT (legacy -genSeed=)")
}

func addRunFlags(cmd *cobra.Command) {
	addSeedFlags(cmd)
	cmd.Flags().Int("parallelism", 0, "Number of workers (overrides PARALLELISM)")
	cmd.Flags().Duration("timeout", 0, "Batch wait ceiling (overrides BATCH_TIMEOUT)")
	cmd.Flags().String("stages", "", "Comma separated stages to run, instead of GEN_SETTING")
	cmd.Flags().Bool("no-ledger", false, "Do not record the batch in the SQLite ledger")
	cmd.Flags().Bool("interrupt-on-timeout", false, "Cancel outstanding runs when the timeout elapses")
}

// loadConfig reads the property directory and applies command line
// overrides that every subcommand shares.
func loadConfig(cmd *cobra.Command, propDir string) (*config.BatchConfig, error) {
	cfg, err := config.LoadDir(propDir)
	if err != nil {
		return nil, err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

// applyRunFlags copies explicitly set run flags over the configuration.
func applyRunFlags(cmd *cobra.Command, cfg *config.BatchConfig) {
	flags := cmd.Flags()
	if flags.Changed("parallelism") {
		p, _ := flags.GetInt("parallelism")
		cfg.Parallelism = &p
	}
	if flags.Changed("timeout") {
		cfg.BatchTimeout, _ = flags.GetDuration("timeout")
	}
	if flags.Changed("interrupt-on-timeout") {
		cfg.InterruptOnTimeout, _ = flags.GetBool("interrupt-on-timeout")
	}
	if noLedger, _ := flags.GetBool("no-ledger"); noLedger {
		cfg.Ledger.Enabled = false
	}
}

// resolveStages turns GEN_SETTING or --stages into the enabled stage set.
func resolveStages(cmd *cobra.Command, args []string) (models.StageSet, error) {
	named, _ := cmd.Flags().GetString("stages")
	if cmd.Flags().Changed("stages") {
		if len(args) > 1 {
			return models.StageSet{}, models.NewConfigurationError("GEN_SETTING", "cannot combine GEN_SETTING with --stages")
		}
		return models.ParseStageSet(named)
	}

	mask := constants.DefaultGenSetting
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return models.StageSet{}, models.WrapConfigurationError("GEN_SETTING", fmt.Sprintf("%q is not an integer", args[1]), err)
		}
		mask = n
	}
	return models.StageSetFromMask(mask)
}

// resolveSeeds applies the seed precedence: --seed-list, then --gen-seed,
// then BASE_SEED/NUM_RUNS from the configuration.
func resolveSeeds(cmd *cobra.Command, cfg *config.BatchConfig) (seeds.Resolution, error) {
	req := seeds.Request{
		ConfigBase:  cfg.BaseSeed,
		ConfigCount: cfg.NumRuns,
	}

	if list, _ := cmd.Flags().GetString("seed-list"); list != "" {
		parsed, err := seeds.ParseList(list)
		if err != nil {
			return seeds.Resolution{}, err
		}
		req.Explicit = parsed
	}
	if spec, _ := cmd.Flags().GetString("gen-seed"); spec != "" {
		base, count, err := seeds.ParseGenSpec(spec)
		if err != nil {
			return seeds.Resolution{}, err
		}
		req.GenBase, req.GenCount = base, count
	}
	return seeds.Resolve(req)
}

// buildRegistry creates one command executor per configured stage.
func buildRegistry(cfg *config.BatchConfig, logger *slog.Logger) (*stage.Registry, error) {
	specs, err := cfg.CommandSpecs()
	if err != nil {
		return nil, err
	}
	execs := make([]stage.Executor, 0, len(specs))
	for _, spec := range specs {
		c, err := stage.NewCommand(spec, logger)
		if err != nil {
			return nil, err
		}
		execs = append(execs, c)
	}
	return stage.NewRegistry(execs...)
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	jsonOut, _ := cmd.Flags().GetBool("json")

	cfg, err := loadConfig(cmd, args[0])
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	enabled, err := resolveStages(cmd, args)
	if err != nil {
		return err
	}
	resolution, err := resolveSeeds(cmd, cfg)
	if err != nil {
		return err
	}

	logger := logging.NewLogger(cfg.Logging.Level, cmd.ErrOrStderr())
	events := logging.NewEventLogger(cfg.BaseDir, cfg.Logging.Level)
	defer events.Close()

	shared := runctx.Shared{
		BaseDir:         cfg.BaseDir,
		LocationMapPath: cfg.LocationMapPath,
		Props:           cfg.Props,
	}
	if cfg.LocationMapPath != "" {
		m, err := locmap.Load(cfg.LocationMapPath)
		if err != nil {
			return err
		}
		shared.LocationMap = m
		stats := m.Stats()
		logger.Info("location map loaded", "path", cfg.LocationMapPath, "nodes", stats.Nodes,
			"connections", stats.Connections, "away", stats.AwayEntries)
	}

	registry, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}
	runner := pipeline.New(registry, logger, pipeline.WithEventLogger(events))
	plan, err := runner.Plan(enabled, shared.InitialSlots())
	if err != nil {
		return err
	}

	sched := &batch.Scheduler{
		Runner:             runner,
		Plan:               plan,
		Parallelism:        cfg.Workers(len(resolution.Seeds)),
		Timeout:            cfg.Timeout(),
		InterruptOnTimeout: cfg.InterruptOnTimeout,
		Logger:             logger,
	}

	if cfg.Ledger.Enabled {
		path := store.LedgerPath(cfg.BaseDir, cfg.Ledger.Path)
		ledger, err := store.NewSQLiteLedger(path)
		if err != nil {
			logger.Warn("run ledger unavailable, continuing without it", "path", path, "error", err)
		} else {
			defer ledger.Close()
			sched.Recorder = ledger
		}
	}

	logger.Info("seeds resolved", "source", string(resolution.Source), "count", len(resolution.Seeds),
		"base_seed", resolution.BaseSeed)
	for i, seed := range resolution.Seeds {
		logger.Info("run seed", "run", i, "seed", seed)
	}

	report, err := sched.Run(ctx, resolution.Seeds, shared)
	if err != nil {
		return err
	}

	if jsonOut {
		if err := writeReportJSON(cmd.OutOrStdout(), report, resolution); err != nil {
			return err
		}
	} else {
		writeReportText(cmd.OutOrStdout(), report)
	}

	if report.TimedOut() {
		logger.Info("waiting for runs still in flight after the batch timeout",
			"pending", len(report.Warning.Pending))
		report.Wait()
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("batch interrupted: %w", ctxErr)
	}
	return nil
}

type runJSON struct {
	Index       int              `json:"index"`
	Seed        int64            `json:"seed"`
	Status      models.RunStatus `json:"status"`
	FailedStage string           `json:"failed_stage,omitempty"`
	Error       string           `json:"error,omitempty"`
	Duration    string           `json:"duration,omitempty"`
}

type reportJSON struct {
	BatchID  string       `json:"batch_id"`
	Source   seeds.Source `json:"source"`
	BaseSeed int64        `json:"base_seed,omitempty"`
	Stages   string       `json:"stages"`
	Workers  int          `json:"workers"`
	Elapsed  string       `json:"elapsed"`
	Counts   batch.Counts `json:"counts"`
	TimedOut bool         `json:"timed_out"`
	Pending  []int64      `json:"pending,omitempty"`
	Runs     []runJSON    `json:"runs"`
	Replay   string       `json:"replay,omitempty"`
}

func writeReportJSON(w io.Writer, report *batch.Report, resolution seeds.Resolution) error {
	out := reportJSON{
		BatchID:  report.BatchID,
		Source:   resolution.Source,
		BaseSeed: resolution.BaseSeed,
		Stages:   report.Enabled.String(),
		Workers:  report.Workers,
		Elapsed:  report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond).String(),
		Counts:   report.Counts(),
		TimedOut: report.TimedOut(),
	}
	if report.Warning != nil {
		out.Pending = report.Warning.Pending
	}
	for _, o := range report.Outcomes {
		r := runJSON{Index: o.Index, Seed: o.Seed, Status: o.Status, Error: o.ErrorMessage()}
		if st, ok := o.FailedStage(); ok {
			r.FailedStage = st.String()
		}
		if d := o.Duration(); d > 0 {
			r.Duration = d.Round(time.Millisecond).String()
		}
		out.Runs = append(out.Runs, r)
	}
	if unfinished := report.Unfinished(); len(unfinished) > 0 {
		out.Replay = seedListLiteral(unfinished)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeReportText(w io.Writer, report *batch.Report) {
	for _, o := range report.Failed() {
		stageName := "?"
		if st, ok := o.FailedStage(); ok {
			stageName = st.String()
		}
		fmt.Fprintf(w, "run %d (seed %d) failed in %s: %v\n", o.Index, o.Seed, stageName, o.Err)
	}
	if report.Warning != nil {
		fmt.Fprintf(w, "warning: %v; pending seeds: %s\n", report.Warning, seeds.FormatList(report.Warning.Pending))
	}

	c := report.Counts()
	fmt.Fprintf(w, "batch %s: %d completed, %d failed, %d pending (%d runs, %d workers, stages %s, %s)\n",
		report.BatchID, c.Completed, c.Failed, c.Pending, len(report.Outcomes), report.Workers,
		report.Enabled.String(), report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))

	if unfinished := report.Unfinished(); len(unfinished) > 0 {
		fmt.Fprintf(w, "replay with: %s\n", seedListLiteral(unfinished))
	}
}

// seedListLiteral formats seeds in the legacy flag form accepted on input.
func seedListLiteral(list []int64) string {
	return "-seedList=" + seeds.FormatList(list)
}
