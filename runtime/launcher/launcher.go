// Package launcher runs the tool under test through a wrapper command such as
// wine, qemu-user or a container exec.
package launcher

import (
	"context"
	"fmt"

	"github.com/lattice-substrate/e32-torture/runtime/executil"
)

// Environment exported to the launcher so wrapper scripts can map paths.
const (
	EnvTool    = "E32_TORTURE_TOOL"
	EnvWorkdir = "E32_TORTURE_WORKDIR"
)

// Runner prefixes every invocation with a launcher argv.
type Runner struct {
	next   executil.CommandRunner
	prefix []string
}

// Wrap returns next unchanged when prefix is empty.
func Wrap(next executil.CommandRunner, prefix []string) executil.CommandRunner {
	if next == nil {
		next = executil.OSRunner{}
	}
	if len(prefix) == 0 {
		return next
	}
	return &Runner{next: next, prefix: append([]string(nil), prefix...)}
}

// Prefix returns the launcher argv.
func (r *Runner) Prefix() []string { return append([]string(nil), r.prefix...) }

// Run executes prefix + argv through the wrapped runner.
func (r *Runner) Run(ctx context.Context, argv []string, opts executil.Options) (executil.Result, error) {
	if len(argv) == 0 {
		return executil.Result{ExitCode: -1}, fmt.Errorf("launcher %s: empty argv", r.prefix[0])
	}
	full := make([]string, 0, len(r.prefix)+len(argv))
	full = append(full, r.prefix...)
	full = append(full, argv...)
	opts.Env = commandEnv(opts, argv[0])
	res, err := r.next.Run(ctx, full, opts)
	if err != nil {
		return res, fmt.Errorf("launcher %s: %w", r.prefix[0], err)
	}
	return res, nil
}

func commandEnv(opts executil.Options, tool string) map[string]string {
	env := make(map[string]string, len(opts.Env)+2)
	for k, v := range opts.Env {
		env[k] = v
	}
	env[EnvTool] = tool
	if opts.Dir != "" {
		env[EnvWorkdir] = opts.Dir
	}
	return env
}
