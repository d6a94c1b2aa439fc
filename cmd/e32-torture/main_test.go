package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lattice-substrate/e32-torture/harness"
	"github.com/lattice-substrate/e32-torture/runtime/executil"
)

// buildingTool writes every output file named on its command line and exits
// with exitCode.
type buildingTool struct {
	t        *testing.T
	exitCode int
	calls    int
}

func (b *buildingTool) Run(_ context.Context, argv []string, opts executil.Options) (executil.Result, error) {
	b.calls++
	if b.exitCode != 0 {
		return executil.Result{ExitCode: b.exitCode, Output: "elf2e32 : Error: E1036: Symbol lala Missing from ELF File"}, nil
	}
	for _, a := range argv[1:] {
		for _, prefix := range []string{"--dso=", "--output=", "--defoutput="} {
			if !strings.HasPrefix(a, prefix) {
				continue
			}
			p := filepath.Join(opts.Dir, filepath.FromSlash(strings.TrimPrefix(a, prefix)))
			require.NoError(b.t, os.MkdirAll(filepath.Dir(p), 0o755))
			require.NoError(b.t, os.WriteFile(p, []byte(a), 0o600))
		}
	}
	return executil.Result{ExitCode: 0, Output: "ok"}, nil
}

func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := harness.DefaultConfig()
	cfg.Workdir = dir
	cfg.Tool = "elf2e32-under-test"
	data, err := harness.MarshalConfig(cfg)
	require.NoError(t, err)
	path := filepath.Join(dir, "torture.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return dir, path
}

func execute(t *testing.T, tool executil.CommandRunner, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := newApp(&stdout, &stderr, tool).execute(args)
	return code, stdout.String(), stderr.String()
}

func TestRunHelp(t *testing.T) {
	var out, errOut bytes.Buffer
	code := run([]string{"--help"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(out.String(), "e32-torture") || !strings.Contains(out.String(), "verify-report") {
		t.Fatalf("unexpected usage output: %q", out.String())
	}
}

func TestRunUnknownSubcommand(t *testing.T) {
	code, _, stderr := execute(t, &buildingTool{t: t}, "nope")
	if code != 2 {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !strings.Contains(stderr, "unknown command") {
		t.Fatalf("unexpected stderr: %q", stderr)
	}
}

func TestRunPassingSuiteWritesReport(t *testing.T) {
	dir, cfgPath := writeConfig(t)
	report := filepath.Join(dir, "report.json")
	tool := &buildingTool{t: t}

	code, stdout, stderr := execute(t, tool, "run", "--config", cfgPath, "--suite", "library-validate",
		"--check-files=false", "--report", report)
	require.Equal(t, 0, code, stderr)
	require.Equal(t, 31, tool.calls)
	require.Contains(t, stdout, "All torture tests passed (31 attempted).")

	r, err := harness.LoadReport(report)
	require.NoError(t, err)
	require.NoError(t, harness.VerifyReport(r))
	require.Equal(t, "elf2e32-under-test", r.Tool)
	require.Empty(t, r.ToolSHA256, "an unlocatable tool is not hashed")
	require.NotEmpty(t, r.ConfigSHA256)

	code, stdout, _ = execute(t, tool, "verify-report", report)
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "ok outcome_sha256="+r.OutcomeSHA256)
}

func TestRunFailuresExitOne(t *testing.T) {
	dir, cfgPath := writeConfig(t)
	report := filepath.Join(dir, "report.json")
	code, stdout, _ := execute(t, &buildingTool{t: t, exitCode: 1}, "run", "-c", cfgPath, "-s", "library-validate",
		"--check-files=false", "--report", report)
	require.Equal(t, 1, code)
	require.Contains(t, stdout, "Tests failed: 31/31")

	good := filepath.Join(dir, "good.json")
	code, _, _ = execute(t, &buildingTool{t: t}, "run", "-c", cfgPath, "-s", "library-validate",
		"--check-files=false", "--report", good)
	require.Equal(t, 0, code)

	code, _, stderr := execute(t, nil, "verify-report", report, good)
	require.Equal(t, 1, code)
	require.Contains(t, stderr, "outcome digest drift")
}

func TestRunResumesFromJournal(t *testing.T) {
	dir, cfgPath := writeConfig(t)
	journalDir := filepath.Join(dir, "journal")
	args := []string{"run", "-c", cfgPath, "-s", "library-validate", "--check-files=false", "--journal", journalDir}

	first := &buildingTool{t: t}
	code, _, stderr := execute(t, first, args...)
	require.Equal(t, 0, code, stderr)
	require.Equal(t, 31, first.calls)

	second := &buildingTool{t: t}
	code, stdout, stderr := execute(t, second, append(args, "--resume")...)
	require.Equal(t, 0, code, stderr)
	require.Zero(t, second.calls)
	require.Contains(t, stdout, "resumed 31 recorded outcomes")

	third := &buildingTool{t: t}
	code, _, _ = execute(t, third, args...)
	require.Equal(t, 0, code)
	require.Equal(t, 31, third.calls, "without --resume the journal starts over")
}

func TestRunRejectsBadInvocations(t *testing.T) {
	_, cfgPath := writeConfig(t)
	cases := []struct {
		name string
		args []string
		want string
	}{
		{name: "resume without journal", args: []string{"run", "--resume"}, want: "--resume requires --journal"},
		{name: "unknown suite", args: []string{"run", "-c", cfgPath, "-s", "nope"}, want: "nope"},
		{name: "missing config", args: []string{"list", "-c", filepath.Join(t.TempDir(), "absent.yaml")}, want: "absent.yaml"},
		{name: "missing corpus", args: []string{"run", "-c", cfgPath, "-s", "library-validate"}, want: "reference"},
		{name: "audit without source", args: []string{"audit"}, want: "exactly one of --report or --scan"},
		{name: "promote without report", args: []string{"promote"}, want: "requires --report"},
		{name: "bad flag", args: []string{"run", "--nope"}, want: "unknown flag"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tool := &buildingTool{t: t}
			code, _, stderr := execute(t, tool, tc.args...)
			require.Equal(t, 2, code, stderr)
			require.Contains(t, stderr, tc.want)
			require.Zero(t, tool.calls)
		})
	}
}

func TestListAndConfig(t *testing.T) {
	code, stdout, _ := execute(t, nil, "list", "-s", "plugin-torture")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "suite plugin-torture: target plugin, table plugin-torture, 63 combinations")

	code, stdout, _ = execute(t, nil, "list")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "suite library-deduce:")

	code, stdout, _ = execute(t, nil, "config")
	require.Equal(t, 0, code)
	cfg, err := harness.ParseConfig([]byte(stdout))
	require.NoError(t, err)
	require.Len(t, cfg.Suites, len(harness.DefaultConfig().Suites))
}

func TestAuditAfterRun(t *testing.T) {
	dir, cfgPath := writeConfig(t)
	report := filepath.Join(dir, "report.json")
	code, _, stderr := execute(t, &buildingTool{t: t}, "run", "-c", cfgPath, "-s", "library-validate",
		"--check-files=false", "--report", report)
	require.Equal(t, 0, code, stderr)

	code, stdout, stderr := execute(t, nil, "audit", "-c", cfgPath, "--report", report, "--strict")
	require.Equal(t, 0, code, stderr)
	require.Contains(t, stdout, "suite library-validate: audited 0 fingerprint files")

	code, stdout, _ = execute(t, nil, "audit", "-c", cfgPath, "-s", "library-validate", "--scan", "tmp")
	require.Equal(t, 0, code)
	require.Contains(t, stdout, "no fingerprint is shared between classes")
}
