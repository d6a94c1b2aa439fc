// Command torture-gate runs the repository's verification steps in order and
// optionally finishes with a full torture run against a built elf2e32.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/spf13/pflag"
)

type gateStep struct {
	label string
	args  []string
}

type commandRunner interface {
	Run(ctx context.Context, name string, args []string, stdout io.Writer, stderr io.Writer) error
}

type realRunner struct{}

var requiredGateSteps = []gateStep{
	{label: "go vet", args: []string{"vet", "./..."}},
	{label: "unit tests", args: []string{"test", "./...", "-count=1", "-timeout=10m"}},
	{label: "race tests", args: []string{"test", "./...", "-race", "-count=1", "-timeout=15m"}},
	{label: "suite tables", args: []string{"run", "./cmd/e32-torture", "list"}},
}

func tortureStep(configPath, reportPath string) gateStep {
	args := []string{"run", "./cmd/e32-torture", "run", "--report", reportPath}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	return gateStep{label: "torture run", args: args}
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, realRunner{}))
}

func run(args []string, stdout, stderr io.Writer, runner commandRunner) int {
	steps := append([]gateStep(nil), requiredGateSteps...)
	var (
		torture    bool
		configPath string
		reportPath string
	)
	fs := pflag.NewFlagSet("torture-gate", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.BoolVar(&torture, "torture", false, "finish with a full torture run")
	fs.StringVar(&configPath, "config", "", "torture run config file")
	fs.StringVar(&reportPath, "report", "torture-report.json", "torture run report path")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			if err := writeUsage(stdout); err != nil {
				return 1
			}
			return 0
		}
		return usageFailure(stderr, err.Error())
	}
	if fs.NArg() != 0 {
		return usageFailure(stderr, fmt.Sprintf("unknown argument %q", fs.Arg(0)))
	}
	if !torture && (fs.Changed("config") || fs.Changed("report")) {
		if err := writeLine(stderr, "error: --config and --report require --torture"); err != nil {
			return 1
		}
		return 2
	}
	if torture {
		steps = append(steps, tortureStep(configPath, reportPath))
	}

	ctx := context.Background()
	for i, step := range steps {
		if err := writef(stdout, "[%d/%d] %s\n", i+1, len(steps), step.label); err != nil {
			return 1
		}
		if err := runner.Run(ctx, "go", step.args, stdout, stderr); err != nil {
			if writeErr := writef(stderr, "gate failed: %s: %v\n", step.label, err); writeErr != nil {
				return 1
			}
			return 1
		}
	}

	if err := writeLine(stdout, "all gates passed"); err != nil {
		return 1
	}
	return 0
}

func (realRunner) Run(ctx context.Context, name string, args []string, stdout io.Writer, stderr io.Writer) error {
	// #nosec G204 -- command and args are fixed repository gate invocations.
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %v: %w", name, args, err)
	}
	return nil
}

func usageFailure(w io.Writer, msg string) int {
	if err := writef(w, "error: %s\n", msg); err != nil {
		return 1
	}
	if err := writeUsage(w); err != nil {
		return 1
	}
	return 2
}

func writeUsage(w io.Writer) error {
	if err := writeLine(w, "usage: go run ./cmd/torture-gate [--torture [--config FILE] [--report FILE]] [--help]"); err != nil {
		return err
	}
	if err := writeLine(w, "runs: vet, tests, race, suite tables"); err != nil {
		return err
	}
	return writeLine(w, "--torture adds a full torture run; the configured elf2e32 must already be built")
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
