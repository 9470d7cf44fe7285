package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0-dev"
	commit  = "none"
	date    = "unknown"
)

const (
	exitOK          = 0
	exitError       = 1
	exitInterrupted = 130
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signalContext(context.Background())
	defer stop()

	rootCmd := newRootCmd()
	rootCmd.SetArgs(normalizeArgs(args))
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "error:", err)
		if errors.Is(err, context.Canceled) {
			return exitInterrupted
		}
		return exitError
	}
	return exitOK
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rmpgen PROP_FILE_DIRECTORY [GEN_SETTING]",
		Short: "Reproducible batch generator for population and contact-network artifacts",
		Long: `rmpgen derives one seed per run from a base configuration and executes the
demographic, contact map and casual partnership stages for every run,
sequentially or on a bounded worker pool.

GEN_SETTING is a bitmask of the stages to run: 1 demographic, 2 contact map,
4 casual partnership. It defaults to 7 (all stages).

The legacy flags -seedList=1,2,3 and -genSeed=BASE,COUNT are accepted.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBatch,
	}

	// Global flags
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info, debug, trace, warn, error (overrides configuration)")

	addRunFlags(rootCmd)

	rootCmd.AddCommand(
		newRunCmd(),
		newSeedsCmd(),
		newMapCmd(),
		newRunsCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// legacyFlags maps the single-dash flags of the legacy command line to their
// cobra spelling.
var legacyFlags = map[string]string{
	"-seedList": "--seed-list",
	"-genSeed":  "--gen-seed",
}

// normalizeArgs rewrites legacy single-dash flags so cobra can parse them.
// "-seedList=1,2" becomes "--seed-list=1,2"; other arguments are untouched.
func normalizeArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = a
		name, value, hasValue := strings.Cut(a, "=")
		if repl, ok := legacyFlags[name]; ok {
			if hasValue {
				out[i] = repl + "=" + value
			} else {
				out[i] = repl
			}
		}
	}
	return out
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	notifySignals(sigCh)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
