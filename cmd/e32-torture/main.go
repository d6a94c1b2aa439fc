// Command e32-torture runs the combinatorial elf2e32 torture suites and
// maintains their reference fingerprint corpus.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/lattice-substrate/e32-torture/harness"
	"github.com/lattice-substrate/e32-torture/runtime/executil"
	"github.com/lattice-substrate/e32-torture/tortureerr"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	return newApp(stdout, stderr, executil.OSRunner{}).execute(args)
}

// app carries the state shared by every subcommand of one invocation.
type app struct {
	stdout, stderr io.Writer
	exec           executil.CommandRunner

	configPath string
	verbose    bool
	logger     *zap.Logger
	exitCode   int
}

func newApp(stdout, stderr io.Writer, exec executil.CommandRunner) *app {
	return &app{stdout: stdout, stderr: stderr, exec: exec, logger: zap.NewNop()}
}

func (a *app) execute(args []string) int {
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	err := root.Execute()
	_ = a.logger.Sync()
	if err == nil {
		return a.exitCode
	}
	if writeErr := writef(a.stderr, "error: %v\n", err); writeErr != nil {
		return 1
	}
	var terr *tortureerr.Error
	if errors.As(err, &terr) {
		return terr.Class.ExitCode()
	}
	return 2
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "e32-torture",
		Short: "Combinatorial differential torture harness for elf2e32",
		Long: `e32-torture enumerates every combination of the elf2e32 torture flags,
builds each one with the tool under test and verifies the produced DSO and
E32 image fingerprints against the reference corpus.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(a.stderr, a.verbose)
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			a.logger = logger
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "run configuration YAML (default: built-in suites)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		a.runCommand(),
		a.listCommand(),
		a.configCommand(),
		a.auditCommand(),
		a.promoteCommand(),
		a.verifyReportCommand(),
	)
	return root
}

// newLogger builds the production JSON logger on w; verbose lowers the level
// to debug.
func newLogger(w io.Writer, verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(config.EncoderConfig),
		zapcore.AddSync(w),
		config.Level,
	)
	return zap.New(core), nil
}

func (a *app) loadConfig() (*harness.Config, error) {
	if a.configPath == "" {
		return harness.DefaultConfig(), nil
	}
	cfg, err := harness.LoadConfig(a.configPath)
	if err != nil {
		return nil, tortureerr.Wrap(tortureerr.ConfigMismatch, "", "load "+a.configPath, err)
	}
	return cfg, nil
}

func addSuiteFlag(fs *pflag.FlagSet, dst *[]string, usage string) {
	fs.StringSliceVarP(dst, "suite", "s", nil, usage)
}

// allSuites names every configured suite, on-demand ones included.
func allSuites(cfg *harness.Config) []string {
	names := make([]string, 0, len(cfg.Suites))
	for _, sc := range cfg.Suites {
		names = append(names, sc.Name)
	}
	return names
}

func usageError(format string, args ...any) error {
	return tortureerr.Newf(tortureerr.CLIUsage, "", format, args...)
}

func writeLine(w io.Writer, msg string) error {
	return writef(w, "%s\n", msg)
}

func writef(w io.Writer, format string, args ...any) error {
	if _, err := fmt.Fprintf(w, format, args...); err != nil {
		return fmt.Errorf("write stream: %w", err)
	}
	return nil
}
