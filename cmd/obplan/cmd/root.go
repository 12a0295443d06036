// Package cmd provides the CLI commands for obplan.
package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/obplan/internal/config"
	obperrors "github.com/Aman-CERP/obplan/internal/errors"
	"github.com/Aman-CERP/obplan/internal/logging"
	"github.com/Aman-CERP/obplan/internal/output"
	"github.com/Aman-CERP/obplan/internal/transport"
	"github.com/Aman-CERP/obplan/internal/ui"
	"github.com/Aman-CERP/obplan/pkg/version"
)

// Exit codes.
const (
	ExitOK = 0
	// ExitError means the run could not complete.
	ExitError = 1
	// ExitCheckFailed means the run completed and at least one item failed.
	ExitCheckFailed = 2
)

// errCheckFailed is returned by commands whose ledger holds a failure. The
// report has already been printed.
var errCheckFailed = errors.New("preflight check failed")

// app carries the flags and loaded configuration of one invocation.
type app struct {
	configDir string
	debug     bool
	jsonOut   bool
	verbose   bool
	noColor   bool

	cfg            *config.Config
	loggingCleanup func()

	// newExecutor builds the transport for a run and a function that
	// closes it.
	newExecutor func(transport.SSHConfig) (transport.Executor, func() error)
}

// NewRootCmd creates the root command for obplan CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&app{newExecutor: defaultExecutor})
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "obplan",
		Short: "Capacity planning and preflight checks for OceanBase deployments",
		Long: `obplan probes the hosts of a deployment topology, plans the memory,
disk and credential parameters the operator left unset, and checks the
final configuration against live host state before anything is installed.

Start with 'obplan init' to write a sample topology, then run
'obplan check topology.yaml'.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetVersionTemplate("obplan version {{.Version}}\n")

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.configDir, "config-dir", ".", "Directory holding .obplan.yaml and .env")
	pf.BoolVar(&a.debug, "debug", false, "Enable debug logging to ~/.obplan/logs/")
	pf.BoolVar(&a.jsonOut, "json", false, "Output as JSON")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "Show passing items and warnings")
	pf.BoolVar(&a.noColor, "no-color", false, "Disable colored output")

	cmd.PersistentPreRunE = a.setup
	cmd.PersistentPostRunE = a.teardown

	cmd.AddCommand(newCheckCmd(a))
	cmd.AddCommand(newPlanCmd(a))
	cmd.AddCommand(newProbeCmd(a))
	cmd.AddCommand(newInitCmd(a))
	cmd.AddCommand(newVersionCmd(a))

	return cmd
}

// setup loads configuration and starts logging.
func (a *app) setup(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configDir)
	if err != nil {
		return obperrors.ConfigError("failed to load configuration", err).
			WithSuggestion("Fix " + config.ProjectConfigName + " or the OBPLAN_* environment variables")
	}
	if a.jsonOut {
		cfg.Output.Format = config.FormatJSON
	}
	if a.verbose {
		cfg.Output.Verbose = true
	}
	a.cfg = cfg

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Output.LogLevel
	if a.debug {
		logCfg = logging.DebugConfig()
	}
	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	a.loggingCleanup = cleanup

	if a.debug {
		slog.Info("debug_logging_enabled",
			slog.String("log_file", logCfg.FilePath),
			slog.String("version", version.Version))
	}
	return nil
}

// teardown stops logging.
func (a *app) teardown(_ *cobra.Command, _ []string) error {
	if a.loggingCleanup != nil {
		a.loggingCleanup()
		a.loggingCleanup = nil
	}
	return nil
}

// ui returns the renderer configuration for cmd's output.
func (a *app) ui(cmd *cobra.Command) ui.Config {
	opts := []ui.ConfigOption{ui.WithVerbose(a.cfg.Output.Verbose)}
	if a.noColor {
		opts = append(opts, ui.WithNoColor(true))
	}
	return ui.NewConfig(cmd.OutOrStdout(), opts...)
}

// status returns a writer for status lines. They go to stderr so that
// stdout stays parseable.
func (a *app) status(cmd *cobra.Command) *output.Writer {
	opts := []ui.ConfigOption{}
	if a.noColor {
		opts = append(opts, ui.WithNoColor(true))
	}
	return output.New(ui.NewConfig(cmd.ErrOrStderr(), opts...))
}

func (a *app) json() bool {
	return a.cfg.Output.Format == config.FormatJSON
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	return run(NewRootCmd(), os.Stderr)
}

func run(cmd *cobra.Command, stderr io.Writer) int {
	err := cmd.Execute()
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, errCheckFailed):
		return ExitCheckFailed
	default:
		_, _ = fmt.Fprint(stderr, obperrors.FormatForCLI(err))
		return ExitError
	}
}
