package main

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lattice-substrate/e32-torture/harness"
	"github.com/lattice-substrate/e32-torture/journal"
	"github.com/lattice-substrate/e32-torture/tortureerr"
)

type runFlags struct {
	suites     []string
	tool       string
	reportPath string
	journalDir string
	resume     bool
	checkFiles bool
}

func (a *app) runCommand() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the selected torture suites",
		Long: `Run builds every combination of the selected suites with the tool under
test. Without --suite every suite not marked on_demand runs. The exit status
is 0 when every attempted case passed and no combination lacked a
classification, 1 otherwise.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runSuites(ctx, f)
		},
	}
	fs := cmd.Flags()
	addSuiteFlag(fs, &f.suites, "suite to run (repeatable)")
	fs.StringVar(&f.tool, "tool", "", "override the tool under test")
	fs.StringVar(&f.reportPath, "report", "", "write the JSON run report to this file")
	fs.StringVar(&f.journalDir, "journal", "", "persist finished cases in this directory")
	fs.BoolVar(&f.resume, "resume", false, "skip cases already recorded in --journal")
	fs.BoolVar(&f.checkFiles, "check-files", true, "require every reference file to exist before running")
	return cmd
}

func (a *app) runSuites(ctx context.Context, f runFlags) error {
	if f.resume && f.journalDir == "" {
		return usageError("--resume requires --journal")
	}
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if f.tool != "" {
		cfg.Tool = f.tool
	}
	suites, err := harness.BuildSuites(cfg, f.suites, harness.BuildOptions{CheckFiles: f.checkFiles})
	if err != nil {
		return err
	}
	configSHA, err := cfg.Digest()
	if err != nil {
		return tortureerr.Wrap(tortureerr.InternalIO, "", "digest config", err)
	}

	opts := harness.RunOptions{
		Tool:         cfg.Tool,
		ToolSHA256:   a.toolDigest(cfg, cfg.Tool),
		ConfigSHA256: configSHA,
	}
	for _, s := range suites {
		if s.Config.UseReferenceTool {
			opts.ReferenceTool = cfg.ReferenceTool
			opts.ReferenceToolSHA256 = a.toolDigest(cfg, cfg.ReferenceTool)
			break
		}
	}

	runID := uuid.NewString()
	runner := harness.NewRunner(cfg, a.exec, a.logger)
	runner.NewID = func() string { return runID }

	if f.journalDir != "" {
		j, err := journal.Open(f.journalDir, a.logger)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := j.Close(); cerr != nil {
				a.logger.Warn("close journal", zap.Error(cerr))
			}
		}()
		meta := journal.Meta{RunID: runID, ToolSHA256: opts.ToolSHA256, ConfigSHA256: configSHA}
		if err := j.Bind(meta, f.resume); err != nil {
			return err
		}
		runner.Journal = j
	}

	report, err := runner.Run(ctx, suites, opts)
	if err != nil {
		return err
	}
	if f.reportPath != "" {
		if err := harness.WriteReport(f.reportPath, report); err != nil {
			return tortureerr.Wrap(tortureerr.InternalIO, "", "write report", err)
		}
	}
	if err := harness.WriteText(a.stdout, report); err != nil {
		return tortureerr.Wrap(tortureerr.InternalIO, "", "write summary", err)
	}
	a.exitCode = report.ExitCode()
	return nil
}

// toolDigest hashes the tool binary. A tool that cannot be located is
// recorded without a digest; the run itself reports its invocation failures.
func (a *app) toolDigest(cfg *harness.Config, tool string) string {
	path := tool
	if strings.ContainsRune(tool, filepath.Separator) || strings.ContainsRune(tool, '/') {
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.Workdir, filepath.FromSlash(tool))
		}
	} else if found, err := exec.LookPath(tool); err == nil {
		path = found
	}
	sum, err := harness.FileSHA256(path)
	if err != nil {
		a.logger.Warn("tool not hashed", zap.String("tool", tool), zap.Error(err))
		return ""
	}
	return sum
}
