// Package config loads the batch configuration from a property directory.
// It supports an rmpgen.yaml file, the legacy XML property file and
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/rmpgen/internal/constants"
	"github.com/nvandessel/rmpgen/internal/models"
	"github.com/nvandessel/rmpgen/internal/runctx"
	"github.com/nvandessel/rmpgen/internal/stage"
)

// BatchConfig contains everything a batch needs besides the seeds.
type BatchConfig struct {
	// BaseDir is the property directory; artifacts are written under it.
	BaseDir string `json:"base_dir" yaml:"-"`

	// Source is the file the configuration was read from.
	Source string `json:"source" yaml:"-"`

	// NumRuns is the number of seeds to derive when no explicit list is given.
	NumRuns int `json:"num_runs" yaml:"num_runs"`

	// BaseSeed seeds the derivation. Nil when not configured.
	BaseSeed *int64 `json:"base_seed,omitempty" yaml:"base_seed,omitempty"`

	// Parallelism is the worker count. Nil means one worker per seed.
	Parallelism *int `json:"parallelism,omitempty" yaml:"parallelism,omitempty"`

	// LocationMapPath points at the connections file of the location map.
	// Relative paths are resolved against BaseDir. Empty disables the map.
	LocationMapPath string `json:"location_map_path,omitempty" yaml:"location_map_path,omitempty"`

	// BatchTimeout bounds how long a parallel batch waits for its runs.
	BatchTimeout time.Duration `json:"batch_timeout" yaml:"batch_timeout,omitempty"`

	// InterruptOnTimeout cancels outstanding runs when BatchTimeout elapses.
	InterruptOnTimeout bool `json:"interrupt_on_timeout" yaml:"interrupt_on_timeout"`

	// Stages maps a stage name to the external command implementing it.
	Stages map[string]StageConfig `json:"stages,omitempty" yaml:"stages,omitempty"`

	Logging LoggingConfig `json:"logging" yaml:"logging"`
	Ledger  LedgerConfig  `json:"ledger" yaml:"ledger"`

	// Props are passed through to every run context.
	Props map[string]string `json:"props,omitempty" yaml:"props,omitempty"`
}

// StageConfig describes the command for one stage.
type StageConfig struct {
	Command  CommandLine       `json:"command" yaml:"command"`
	Requires []string          `json:"requires,omitempty" yaml:"requires,omitempty"`
	Env      map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
}

// CommandLine is an argument vector. In YAML it may be written either as a
// sequence or as a single string split on whitespace.
type CommandLine []string

// UnmarshalYAML accepts a scalar or a sequence.
func (c *CommandLine) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*c = strings.Fields(node.Value)
		return nil
	case yaml.SequenceNode:
		var argv []string
		if err := node.Decode(&argv); err != nil {
			return err
		}
		*c = argv
		return nil
	default:
		return fmt.Errorf("line %d: command must be a string or a list of strings", node.Line)
	}
}

// LoggingConfig configures rmpgen's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", "trace",
	// "warn" or "error". "debug" enables run events in rmpgen-events.jsonl.
	Level string `json:"level" yaml:"level"`
}

// LedgerConfig configures the SQLite run ledger.
type LedgerConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Path overrides the ledger location; relative to BaseDir.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Default returns a BatchConfig with sensible defaults.
func Default() *BatchConfig {
	return &BatchConfig{
		BatchTimeout: constants.DefaultBatchTimeout,
		Logging: LoggingConfig{
			Level: "info",
		},
		Ledger: LedgerConfig{
			Enabled: true,
		},
	}
}

// LoadDir loads the configuration of a property directory.
// Order: defaults -> rmpgen.yaml (or the legacy property file) -> environment
// variables.
func LoadDir(dir string) (*BatchConfig, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, models.WrapConfigurationError("PROP_FILE_DIRECTORY", "cannot read property directory", err)
	}
	if !info.IsDir() {
		return nil, models.NewConfigurationError("PROP_FILE_DIRECTORY", fmt.Sprintf("%s is not a directory", dir))
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", dir, err)
	}

	var cfg *BatchConfig
	yamlPath := filepath.Join(absDir, constants.ConfigFileYAML)
	propPath := filepath.Join(absDir, constants.ConfigFileProp)
	switch {
	case fileExists(yamlPath):
		cfg, err = LoadFromFile(yamlPath)
	case fileExists(propPath):
		cfg, err = LoadPropFile(propPath)
	default:
		return nil, models.NewConfigurationError("PROP_FILE_DIRECTORY",
			fmt.Sprintf("no %s or %s in %s", constants.ConfigFileYAML, constants.ConfigFileProp, absDir))
	}
	if err != nil {
		return nil, err
	}

	cfg.BaseDir = absDir
	if cfg.LocationMapPath != "" && !filepath.IsAbs(cfg.LocationMapPath) {
		cfg.LocationMapPath = filepath.Join(absDir, cfg.LocationMapPath)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*BatchConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, models.WrapConfigurationError(filepath.Base(path), "reading config file", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, models.WrapConfigurationError(filepath.Base(path), "parsing config file", err)
	}
	config.Source = path

	config.LocationMapPath = expandEnvVars(config.LocationMapPath)
	for name, sc := range config.Stages {
		for i, arg := range sc.Command {
			sc.Command[i] = expandEnvVars(arg)
		}
		config.Stages[name] = sc
	}

	return config, nil
}

// Validate checks that the configuration is valid. Every problem is a
// models.ConfigurationError.
func (c *BatchConfig) Validate() error {
	if c.NumRuns < 0 {
		return models.NewConfigurationError("NUM_RUNS", fmt.Sprintf("must be non-negative, got %d", c.NumRuns))
	}

	if c.Parallelism != nil && *c.Parallelism < 0 {
		return models.NewConfigurationError("PARALLELISM", fmt.Sprintf("must be non-negative, got %d", *c.Parallelism))
	}

	if c.BatchTimeout < 0 {
		return models.NewConfigurationError("BATCH_TIMEOUT", fmt.Sprintf("must be non-negative, got %v", c.BatchTimeout))
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true, "warn": true, "warning": true, "error": true}
	if c.Logging.Level != "" && !validLevels[strings.ToLower(c.Logging.Level)] {
		return models.NewConfigurationError("LOG_LEVEL",
			fmt.Sprintf("invalid log level: %s (valid: info, debug, trace, warn, error, or empty for default)", c.Logging.Level))
	}

	if _, err := c.CommandSpecs(); err != nil {
		return err
	}
	return nil
}

// Timeout returns the batch wait ceiling, falling back to the default.
func (c *BatchConfig) Timeout() time.Duration {
	if c.BatchTimeout <= 0 {
		return constants.DefaultBatchTimeout
	}
	return c.BatchTimeout
}

// Workers returns the requested parallelism for a batch of n seeds. When
// PARALLELISM is not configured every seed gets its own worker.
func (c *BatchConfig) Workers(n int) int {
	if c.Parallelism == nil {
		return n
	}
	return *c.Parallelism
}

// CommandSpecs turns the configured stage commands into executor specs in
// pipeline order.
func (c *BatchConfig) CommandSpecs() ([]stage.CommandSpec, error) {
	names := make([]string, 0, len(c.Stages))
	for name := range c.Stages {
		names = append(names, name)
	}
	sort.Strings(names)

	byStage := make(map[models.Stage]stage.CommandSpec, len(names))
	for _, name := range names {
		sc := c.Stages[name]
		st, err := models.ParseStage(name)
		if err != nil {
			return nil, models.WrapConfigurationError("stages", fmt.Sprintf("unknown stage %q", name), err)
		}
		if _, dup := byStage[st]; dup {
			return nil, models.NewConfigurationError("stages", fmt.Sprintf("stage %s configured twice", st))
		}
		if len(sc.Command) == 0 {
			return nil, models.NewConfigurationError(stageKey(st, "COMMAND"), "command is empty")
		}

		spec := stage.CommandSpec{
			Stage: st,
			Argv:  append([]string(nil), sc.Command...),
			Env:   sc.Env,
		}
		for _, r := range sc.Requires {
			slot, err := runctx.ParseSlot(r)
			if err != nil {
				return nil, models.WrapConfigurationError(stageKey(st, "REQUIRES"), "invalid requirement", err)
			}
			spec.Requires = append(spec.Requires, slot)
		}
		byStage[st] = spec
	}

	var specs []stage.CommandSpec
	for _, st := range models.PipelineOrder {
		if spec, ok := byStage[st]; ok {
			specs = append(specs, spec)
		}
	}
	return specs, nil
}

// stageKey returns the property key for a stage setting, e.g.
// STAGE_CONTACT_MAP_COMMAND.
func stageKey(st models.Stage, suffix string) string {
	return "STAGE_" + strings.ToUpper(strings.ReplaceAll(st.String(), "-", "_")) + "_" + suffix
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *BatchConfig) {
	if v := os.Getenv("RMPGEN_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Parallelism = &n
		}
	}

	if v := os.Getenv("RMPGEN_BATCH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.BatchTimeout = d
		}
	}

	if v := os.Getenv("RMPGEN_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}

	if v := os.Getenv("RMPGEN_LEDGER"); v != "" {
		config.Ledger.Enabled = v == "true" || v == "1"
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
