// Package executil runs the tool under test as a host process.
package executil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"time"
)

// waitDelay bounds how long a killed process may keep its output pipe open.
const waitDelay = 2 * time.Second

// Options controls one invocation.
type Options struct {
	// Dir is the working directory; empty means the current one.
	Dir string
	// Env is merged over the inherited environment.
	Env map[string]string
	// Timeout bounds the invocation; zero means no limit beyond ctx.
	Timeout time.Duration
}

// Result is the observable outcome of a finished process.
type Result struct {
	ExitCode int
	Output   string
	Duration time.Duration
	TimedOut bool
}

// CommandRunner abstracts command execution so tests can stand in for the tool.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, opts Options) (Result, error)
}

// OSRunner executes commands on the host.
type OSRunner struct{}

// Run executes argv with combined stdout/stderr capture.
//
// A process that starts and exits non-zero is not an error: the exit code is
// reported in Result. err is non-nil only when the process could not be run
// to completion (not found, killed by the deadline).
func (OSRunner) Run(ctx context.Context, argv []string, opts Options) (Result, error) {
	if len(argv) == 0 {
		return Result{ExitCode: -1}, fmt.Errorf("empty argv")
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	// #nosec G204 -- argv comes from the operator's suite configuration.
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = opts.Dir
	cmd.WaitDelay = waitDelay
	if len(opts.Env) != 0 {
		cmd.Env = MergeEnv(cmd.Environ(), opts.Env)
	}
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	res := Result{Output: out.String(), Duration: time.Since(start)}
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		res.ExitCode = -1
		res.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
		return res, fmt.Errorf("run %q interrupted: %w", argv, ctx.Err())
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	res.ExitCode = -1
	return res, fmt.Errorf("run %q failed: %w", argv, err)
}

// MergeEnv appends env to base as KEY=VALUE pairs in key order. Later entries
// win when the process environment is resolved.
func MergeEnv(base []string, env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	merged := append([]string(nil), base...)
	for _, k := range keys {
		merged = append(merged, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return merged
}
