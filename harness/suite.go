package harness

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/lattice-substrate/e32-torture/optspace"
	"github.com/lattice-substrate/e32-torture/oracle"
	"github.com/lattice-substrate/e32-torture/tortureerr"
)

// Suite is a validated, ready-to-run traversal of one universe.
type Suite struct {
	Config   SuiteConfig
	Universe *optspace.Universe
	Oracle   *oracle.Oracle
	Crash    *oracle.Policy
	Skip     *oracle.Policy
	// Tool builds the artifacts; FingerprintTool generates fingerprints.
	Tool            string
	FingerprintTool string
	Workdir         string
}

// Name returns the suite name.
func (s *Suite) Name() string { return s.Config.Name }

// BuildOptions tunes suite construction.
type BuildOptions struct {
	// CheckFiles requires every reference file to exist under the work directory.
	CheckFiles bool
}

// BuildSuite resolves the universe, table, corpus and policies of sc and
// checks that they agree. Every inconsistency is a CONFIG_MISMATCH.
func BuildSuite(cfg *Config, sc SuiteConfig, opts BuildOptions) (*Suite, error) {
	u, err := optspace.UniverseFor(optspace.TargetKind(sc.Target))
	if err != nil {
		return nil, configMismatch(sc.Name, err)
	}
	table, err := oracle.BuiltinTable(sc.Table)
	if err != nil {
		return nil, configMismatch(sc.Name, err)
	}
	if table.Universe().Kind() != u.Kind() {
		return nil, configMismatch(sc.Name, fmt.Errorf("table %s classifies the %s universe, suite targets %s",
			table.Name(), table.Universe().Kind(), u.Kind()))
	}

	refs := oracle.DefaultReferences(sc.Table)
	if len(sc.References) != 0 {
		refs = make(map[oracle.Kind]map[oracle.Class]string, len(sc.References))
		for kind, byClass := range sc.References {
			m := make(map[oracle.Class]string, len(byClass))
			for class, p := range byClass {
				m[oracle.Class(class)] = p
			}
			refs[oracle.Kind(kind)] = m
		}
	}
	corpus := oracle.NewCorpus(cfg.CorpusRoot, refs)
	o, err := oracle.New(table, corpus)
	if err != nil {
		return nil, configMismatch(sc.Name, err)
	}

	crash, err := policy(sc.CrashPolicy, sc.CrashCodes, u)
	if err != nil {
		return nil, configMismatch(sc.Name, fmt.Errorf("crash policy: %w", err))
	}
	skip, err := policy(sc.SkipPolicy, sc.SkipCodes, u)
	if err != nil {
		return nil, configMismatch(sc.Name, fmt.Errorf("skip policy: %w", err))
	}

	workdir := cfg.Workdir
	if workdir == "" {
		workdir = "."
	}
	if opts.CheckFiles && sc.Verify != VerifyGenerate {
		if err := corpus.CheckFiles(workdir); err != nil {
			return nil, configMismatch(sc.Name, err)
		}
	}

	tool := cfg.Tool
	if sc.UseReferenceTool {
		tool = cfg.ReferenceTool
	}
	return &Suite{
		Config:          sc,
		Universe:        u,
		Oracle:          o,
		Crash:           crash,
		Skip:            skip,
		Tool:            tool,
		FingerprintTool: cfg.Tool,
		Workdir:         workdir,
	}, nil
}

// BuildSuites builds every selected suite, stopping at the first mismatch.
func BuildSuites(cfg *Config, names []string, opts BuildOptions) ([]*Suite, error) {
	selected, err := cfg.SelectSuites(names)
	if err != nil {
		return nil, tortureerr.Wrap(tortureerr.CLIUsage, "", "select suites", err)
	}
	out := make([]*Suite, 0, len(selected))
	for _, sc := range selected {
		s, err := BuildSuite(cfg, sc, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func policy(name string, codes []string, u *optspace.Universe) (*oracle.Policy, error) {
	p, err := oracle.BuiltinPolicy(name, u)
	if err != nil {
		return nil, err
	}
	if len(codes) == 0 {
		return p, nil
	}
	return p.WithCodes(codes...)
}

func configMismatch(suite string, err error) error {
	var terr *tortureerr.Error
	if errors.As(err, &terr) && terr.Class == tortureerr.ConfigMismatch {
		return tortureerr.Wrap(tortureerr.ConfigMismatch, terr.Code, "suite "+suite+": "+terr.Message, terr.Cause)
	}
	return tortureerr.Wrap(tortureerr.ConfigMismatch, "", "suite "+suite, err)
}

// Verdict is the planning decision for one combination.
type Verdict string

const (
	VerdictRun     Verdict = "run"
	VerdictCrash   Verdict = "crash"
	VerdictSkip    Verdict = "skip"
	VerdictUnknown Verdict = "unknown"
)

// TestCase is one fully materialized build.
type TestCase struct {
	Suite         string
	Combination   optspace.Combination
	Argv          []string
	DefaultDSO    string
	DSO           string
	Image         string
	Def           string
	References    []oracle.Reference
	CrashExpected bool
}

// Code returns the canonical code of the case.
func (tc *TestCase) Code() string { return tc.Combination.Code }

// PlannedCase is the plan entry for one combination of the universe.
type PlannedCase struct {
	Combination optspace.Combination
	Verdict     Verdict
	// Case is nil for skipped and unknown combinations.
	Case *TestCase
	// Err explains an unknown classification.
	Err error
}

// Plan classifies every combination in enumeration order. Skipping wins
// over everything else; an unclassified combination is never invoked.
func (s *Suite) Plan() ([]PlannedCase, error) {
	combos := s.Universe.Enumerate()
	out := make([]PlannedCase, 0, len(combos))
	for _, c := range combos {
		pc := PlannedCase{Combination: c}
		if s.Skip.Contains(c.Set) {
			pc.Verdict = VerdictSkip
			out = append(out, pc)
			continue
		}
		refs, err := s.Oracle.References(c.Set)
		if err != nil {
			pc.Verdict = VerdictUnknown
			pc.Err = err
			out = append(out, pc)
			continue
		}
		tc, err := s.testCase(c, refs)
		if err != nil {
			return nil, err
		}
		pc.Case = tc
		pc.Verdict = VerdictRun
		if tc.CrashExpected {
			pc.Verdict = VerdictCrash
		}
		out = append(out, pc)
	}
	return out, nil
}

func (s *Suite) testCase(c optspace.Combination, refs []oracle.Reference) (*TestCase, error) {
	sc := s.Config
	argv := []string{s.Tool}
	for _, a := range sc.Args {
		argv = append(argv, Expand(a, c))
	}
	if sc.Verify == VerifyInline {
		argv = append(argv, "--filecrc="+oracle.JoinPaths(refs))
	}
	flagArgs, err := s.Universe.Args(c.Set, map[optspace.Flag]string{optspace.DefInput: sc.DefFile})
	if err != nil {
		return nil, configMismatch(sc.Name, err)
	}
	argv = append(argv, flagArgs...)
	return &TestCase{
		Suite:         sc.Name,
		Combination:   c,
		Argv:          argv,
		DefaultDSO:    filepath.FromSlash(sc.Layout.DefaultDSO),
		DSO:           filepath.FromSlash(Expand(sc.Layout.DSO, c)),
		Image:         filepath.FromSlash(Expand(sc.Layout.Image, c)),
		Def:           filepath.FromSlash(Expand(sc.Layout.Def, c)),
		References:    refs,
		CrashExpected: s.Crash.Contains(c.Set),
	}, nil
}
