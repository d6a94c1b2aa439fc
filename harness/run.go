package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lattice-substrate/e32-torture/runtime/executil"
	"github.com/lattice-substrate/e32-torture/runtime/launcher"
	"github.com/lattice-substrate/e32-torture/tortureerr"
)

// Journal persists finished cases so an interrupted run can resume.
type Journal interface {
	Lookup(suite, code string) (Outcome, bool, error)
	Record(o Outcome) error
}

// Runner executes suites sequentially.
type Runner struct {
	Exec    executil.CommandRunner
	Logger  *zap.Logger
	Journal Journal
	Env     map[string]string
	Timeout time.Duration
	Now     func() time.Time
	NewID   func() string
}

// RunOptions carries the identity of a run into its report.
type RunOptions struct {
	Tool                string
	ToolSHA256          string
	ReferenceTool       string
	ReferenceToolSHA256 string
	ConfigSHA256        string
}

// NewRunner returns a Runner for cfg. exec defaults to the host process
// runner and is wrapped in the configured launcher.
func NewRunner(cfg *Config, exec executil.CommandRunner, logger *zap.Logger) *Runner {
	return &Runner{
		Exec:    launcher.Wrap(exec, cfg.Launcher),
		Logger:  logger,
		Env:     cfg.Env,
		Timeout: cfg.Timeout.Duration,
	}
}

// Run executes every suite in order and returns the sealed report. A
// cancelled ctx stops the run after the case in flight; the partial report is
// returned with Interrupted set.
func (r *Runner) Run(ctx context.Context, suites []*Suite, opts RunOptions) (*Report, error) {
	if r.Exec == nil {
		return nil, fmt.Errorf("command runner is required")
	}
	now := r.Now
	if now == nil {
		now = wallClockNow
	}
	newID := r.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	report := &Report{
		SchemaVersion:       ReportSchemaVersion,
		RunID:               newID(),
		GeneratedAtUTC:      now().UTC().Format(time.RFC3339Nano),
		Tool:                opts.Tool,
		ToolSHA256:          opts.ToolSHA256,
		ReferenceTool:       opts.ReferenceTool,
		ReferenceToolSHA256: opts.ReferenceToolSHA256,
		ConfigSHA256:        opts.ConfigSHA256,
	}
	log := r.logger().With(zap.String("run_id", report.RunID))
	for _, s := range suites {
		sr, err := r.RunSuite(ctx, s)
		report.Suites = append(report.Suites, sr)
		if err == nil {
			continue
		}
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			log.Warn("run interrupted", zap.String("suite", s.Name()))
			report.Interrupted = true
			break
		}
		return nil, err
	}
	if err := report.Seal(); err != nil {
		return nil, tortureerr.Wrap(tortureerr.InternalIO, "", "seal report", err)
	}
	log.Info("run finished",
		zap.Int("attempted", report.Totals.Attempted),
		zap.Int("failed", report.Totals.Failed),
		zap.Int("unknown", report.Totals.Unknown),
		zap.String("outcome_sha256", report.OutcomeSHA256))
	return report, nil
}

// RunSuite traverses one suite. The returned error is either ctx's error or
// a fatal INTERNAL_IO journal failure; per-case problems live in the outcomes.
func (r *Runner) RunSuite(ctx context.Context, s *Suite) (SuiteReport, error) {
	sr := SuiteReport{Summary: Summary{Suite: s.Name()}}
	plan, err := s.Plan()
	if err != nil {
		return sr, err
	}
	log := r.logger().With(zap.String("suite", s.Name()))
	log.Info("suite started",
		zap.String("table", s.Config.Table),
		zap.Int("combinations", len(plan)),
		zap.Int("skip_policy", s.Skip.Len()),
		zap.Int("crash_policy", s.Crash.Len()))
	if s.Config.Verify != VerifyGenerate {
		digest, err := s.Oracle.Corpus().Digest(s.Workdir)
		if err != nil {
			log.Warn("corpus not digested", zap.Error(err))
		}
		sr.CorpusSHA256 = digest
	}
	inv := NewInvoker(s, r.Exec, r.Env, r.Timeout, log)

	for _, pc := range plan {
		o := Outcome{Suite: s.Name(), Ordinal: pc.Combination.Ordinal, Code: pc.Combination.Code}
		switch pc.Verdict {
		case VerdictSkip:
			o.Status = StatusSkipped
		case VerdictUnknown:
			o.Status = StatusUnknown
			o.Class = tortureerr.UnknownClassification
			o.Message = pc.Err.Error()
			log.Warn("unclassified combination", zap.String("code", o.Code))
		default:
			if err := ctx.Err(); err != nil {
				return sr, err
			}
			recorded, err := r.execute(ctx, inv, pc.Case)
			if err != nil {
				return sr, err
			}
			o = recorded
		}
		sr.Outcomes = append(sr.Outcomes, o)
		sr.Summary.Add(o)
	}
	log.Info("suite finished",
		zap.Int("attempted", sr.Summary.Attempted),
		zap.Int("passed", sr.Summary.Passed),
		zap.Int("expected_crashes", sr.Summary.ExpectedCrashes),
		zap.Int("failed", sr.Summary.Failed))
	return sr, nil
}

func (r *Runner) execute(ctx context.Context, inv *Invoker, tc *TestCase) (Outcome, error) {
	if r.Journal != nil {
		prev, ok, err := r.Journal.Lookup(tc.Suite, tc.Code())
		if err != nil {
			return Outcome{}, tortureerr.Wrap(tortureerr.InternalIO, tc.Code(), "read journal", err)
		}
		if ok {
			prev.Resumed = true
			return prev, nil
		}
	}
	// The case in flight finishes even when the run is being cancelled.
	o := inv.Invoke(context.WithoutCancel(ctx), tc)
	if r.Journal != nil {
		if err := r.Journal.Record(o); err != nil {
			return Outcome{}, tortureerr.Wrap(tortureerr.InternalIO, tc.Code(), "write journal", err)
		}
	}
	return o, nil
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

//nolint:forbidigo // default runtime clock when none is injected.
func wallClockNow() time.Time {
	return time.Now()
}
