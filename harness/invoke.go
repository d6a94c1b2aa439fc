package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/lattice-substrate/e32-torture/oracle"
	"github.com/lattice-substrate/e32-torture/runtime/executil"
	"github.com/lattice-substrate/e32-torture/tortureerr"
)

// Invoker runs one test case through the tool and settles its artifacts.
type Invoker struct {
	Exec            executil.CommandRunner
	Options         executil.Options
	FingerprintTool string
	Verify          VerifyMode
	Logger          *zap.Logger
}

// NewInvoker binds an invoker to the work directory and verify mode of s.
func NewInvoker(s *Suite, exec executil.CommandRunner, env map[string]string, timeout time.Duration, logger *zap.Logger) *Invoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invoker{
		Exec:            exec,
		Options:         executil.Options{Dir: s.Workdir, Env: env, Timeout: timeout},
		FingerprintTool: s.FingerprintTool,
		Verify:          s.Config.Verify,
		Logger:          logger,
	}
}

// Invoke builds tc and verifies it. It never returns an error: every problem
// is recorded in the outcome so one case cannot stop the batch.
func (inv *Invoker) Invoke(ctx context.Context, tc *TestCase) Outcome {
	o := Outcome{
		Suite:      tc.Suite,
		Ordinal:    tc.Combination.Ordinal,
		Code:       tc.Code(),
		References: tc.References,
	}
	start := time.Now()
	defer func() { o.DurationMS = time.Since(start).Milliseconds() }()

	drainer := Drainer{Dir: inv.Options.Dir, DefaultDSO: tc.DefaultDSO}
	if stale := drainer.Pending(); len(stale) != 0 {
		inv.Logger.Warn("default output not drained before build", zap.Strings("paths", stale))
		if err := drainer.Discard(); err != nil {
			inv.fail(&o, tortureerr.Wrap(tortureerr.InternalIO, tc.Code(), "drain stale default output", err))
			return o
		}
	}

	inv.Logger.Debug("invoke", zap.String("suite", tc.Suite), zap.String("code", tc.Code()), zap.Strings("argv", tc.Argv))
	res, err := inv.Exec.Run(ctx, tc.Argv, inv.Options)
	o.ExitCode = res.ExitCode
	if err != nil || res.ExitCode != 0 {
		if derr := drainer.Discard(); derr != nil {
			inv.Logger.Warn("discard partial output", zap.String("code", tc.Code()), zap.Error(derr))
		}
		switch {
		case tc.CrashExpected:
			o.Status = StatusExpectedCrash
			o.Class = tortureerr.ExpectedCrash
			o.Message = fmt.Sprintf("predicted crash reproduced (%s)", describeExit(res, err))
		case err == nil && ValidationFailed(res.Output):
			inv.fail(&o, tortureerr.New(tortureerr.FingerprintMismatch, tc.Code(), lastLine(res.Output)))
		default:
			inv.fail(&o, tortureerr.New(tortureerr.InvocationFailure, tc.Code(), describeExit(res, err)))
		}
		return o
	}

	moved, err := drainer.Drain(tc.DSO)
	o.Artifacts = append(o.Artifacts, moved...)
	if tc.CrashExpected {
		inv.fail(&o, tortureerr.New(tortureerr.CrashNotReproduced, tc.Code(),
			"predicted crash did not happen: the pinned behavior of the reference tool changed"))
		return o
	}
	if err != nil {
		if derr := drainer.Discard(); derr != nil {
			inv.Logger.Warn("discard undrained output", zap.String("code", tc.Code()), zap.Error(derr))
		}
		inv.fail(&o, asCaseError(tc.Code(), err))
		return o
	}
	for _, p := range []string{tc.Image, tc.Def} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(resolve(inv.Options.Dir, p)); err != nil {
			inv.fail(&o, tortureerr.Newf(tortureerr.MissingArtifact, tc.Code(), "declared artifact %s was not written", p))
			return o
		}
		o.Artifacts = append(o.Artifacts, p)
	}

	if inv.Verify == VerifyPostBuild || inv.Verify == VerifyGenerate {
		if err := inv.fingerprint(ctx, tc, &o); err != nil {
			inv.fail(&o, asCaseError(tc.Code(), err))
			return o
		}
	}
	o.Status = StatusPass
	return o
}

func (inv *Invoker) fingerprint(ctx context.Context, tc *TestCase, o *Outcome) error {
	fp := Fingerprinter{Exec: inv.Exec, Tool: inv.FingerprintTool, Options: inv.Options}
	expected := make(map[oracle.Kind]oracle.Reference, len(tc.References))
	for _, ref := range tc.References {
		expected[ref.Kind] = ref
	}
	artifacts := map[oracle.Kind]string{oracle.KindDSO: tc.DSO, oracle.KindImage: tc.Image}
	for _, kind := range oracle.Kinds() {
		produced, err := fp.Generate(ctx, kind, artifacts[kind])
		if err != nil {
			return err
		}
		o.Artifacts = appendUnique(o.Artifacts, produced)
		ref, ok := expected[kind]
		if inv.Verify != VerifyPostBuild || !ok {
			continue
		}
		if err := CompareFingerprint(inv.Options.Dir, produced, ref.Path); err != nil {
			return err
		}
	}
	return nil
}

func (inv *Invoker) fail(o *Outcome, err *tortureerr.Error) {
	o.Status = StatusFail
	o.Class = err.Class
	o.Message = err.Message
	if err.Cause != nil {
		o.Message += ": " + err.Cause.Error()
	}
	inv.Logger.Warn("case failed",
		zap.String("suite", o.Suite),
		zap.String("code", o.Code),
		zap.String("class", string(err.Class)),
		zap.String("message", o.Message))
}

func asCaseError(code string, err error) *tortureerr.Error {
	var terr *tortureerr.Error
	if errors.As(err, &terr) {
		out := *terr
		out.Code = code
		return &out
	}
	return tortureerr.Wrap(tortureerr.InternalIO, code, "settle artifacts", err)
}

func describeExit(res executil.Result, err error) string {
	switch {
	case res.TimedOut:
		return "timed out"
	case err != nil:
		return err.Error()
	case res.Output != "":
		return fmt.Sprintf("exit %d: %s", res.ExitCode, lastLine(res.Output))
	default:
		return fmt.Sprintf("exit %d", res.ExitCode)
	}
}

func appendUnique(list []string, p string) []string {
	for _, existing := range list {
		if existing == p {
			return list
		}
	}
	return append(list, p)
}
