package stage

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/nvandessel/rmpgen/internal/constants"
	"github.com/nvandessel/rmpgen/internal/models"
	"github.com/nvandessel/rmpgen/internal/runctx"
)

// ArtifactPrefix marks a stdout line through which an external command
// reports an artifact path, e.g. "artifact: pop_42.csv".
const ArtifactPrefix = "artifact:"

// maxStderrTail bounds how much stderr is quoted in a failure message.
const maxStderrTail = 2048

// CommandSpec describes an external generator invoked for one stage.
//
// Argv elements may contain the placeholders {seed}, {run}, {stage},
// {base_dir} and {location_map}; they are expanded per run.
type CommandSpec struct {
	Stage    models.Stage
	Argv     []string
	Requires []runctx.Slot
	Env      map[string]string
}

// Command runs an external program as a stage executor. The program runs in
// the run's base directory and receives the seed and paths through both
// placeholders and RMPGEN_* environment variables.
type Command struct {
	spec   CommandSpec
	logger *slog.Logger
}

// NewCommand validates spec and returns a Command executor.
func NewCommand(spec CommandSpec, logger *slog.Logger) (*Command, error) {
	if !spec.Stage.Valid() {
		return nil, models.NewConfigurationError("stages", fmt.Sprintf("invalid stage %v", spec.Stage))
	}
	if len(spec.Argv) == 0 || strings.TrimSpace(spec.Argv[0]) == "" {
		return nil, models.NewConfigurationError("stages", fmt.Sprintf("stage %s has an empty command", spec.Stage))
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Command{
		spec:   spec,
		logger: logger.With("component", "stage", "stage", spec.Stage.String()),
	}, nil
}

func (c *Command) Stage() models.Stage { return c.spec.Stage }

// Requires always includes the base directory the command runs in.
func (c *Command) Requires() []runctx.Slot {
	out := []runctx.Slot{runctx.SlotBaseDir}
	for _, s := range c.spec.Requires {
		if s != runctx.SlotBaseDir {
			out = append(out, s)
		}
	}
	return out
}

func (c *Command) Provides() []runctx.Slot { return nil }

// Args returns the argument vector expanded for one run.
func (c *Command) Args(seed int64, rc *runctx.RunContext) []string {
	r := strings.NewReplacer(
		"{seed}", strconv.FormatInt(seed, 10),
		"{run}", strconv.Itoa(rc.Index),
		"{stage}", c.spec.Stage.String(),
		"{base_dir}", rc.BaseDir,
		"{location_map}", rc.LocationMapPath,
	)
	out := make([]string, len(c.spec.Argv))
	for i, a := range c.spec.Argv {
		out[i] = r.Replace(a)
	}
	return out
}

// Execute runs the command and waits for it. A non-zero exit status is
// returned as an error quoting the tail of stderr. Artifact lines printed on
// stdout are published into rc once the command succeeds.
func (c *Command) Execute(ctx context.Context, seed int64, rc *runctx.RunContext) error {
	argv := c.Args(seed, rc)
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = rc.BaseDir
	cmd.Env = append(os.Environ(),
		constants.EnvSeed+"="+strconv.FormatInt(seed, 10),
		constants.EnvStage+"="+c.spec.Stage.String(),
		constants.EnvBaseDir+"="+rc.BaseDir,
		constants.EnvLocationMap+"="+rc.LocationMapPath,
		constants.EnvRunIndex+"="+strconv.Itoa(rc.Index),
	)
	for k, v := range c.spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	c.logger.Debug("starting stage command", "seed", seed, "run", rc.Index, "argv", argv)
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s interrupted: %w", argv[0], ctxErr)
		}
		return fmt.Errorf("%s: %w%s", argv[0], err, formatStderr(stderr.Bytes()))
	}

	artifacts := parseArtifacts(stdout.String())
	if len(artifacts) > 0 {
		rc.PublishArtifacts(c.spec.Stage, artifacts...)
	}
	c.logger.Debug("stage command finished", "seed", seed, "run", rc.Index, "artifacts", len(artifacts))
	return nil
}

// parseArtifacts collects artifact lines from captured stdout. Lines of any
// length are accepted.
func parseArtifacts(stdout string) []string {
	var out []string
	for line := range strings.Lines(stdout) {
		line = strings.TrimSpace(line)
		if path, ok := strings.CutPrefix(line, ArtifactPrefix); ok {
			if path = strings.TrimSpace(path); path != "" {
				out = append(out, path)
			}
		}
	}
	return out
}

func formatStderr(b []byte) string {
	msg := strings.TrimSpace(string(b))
	if msg == "" {
		return ""
	}
	if len(msg) > maxStderrTail {
		msg = "..." + msg[len(msg)-maxStderrTail:]
	}
	return ": " + msg
}
