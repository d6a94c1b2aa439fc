package harness

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	cyberphone "github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"

	"github.com/lattice-substrate/e32-torture/oracle"
	"github.com/lattice-substrate/e32-torture/tortureerr"
)

// ReportSchemaVersion identifies the JSON run report layout.
const ReportSchemaVersion = "torture-report.v1"

// Status is the final state of one combination.
type Status string

const (
	StatusPass          Status = "pass"
	StatusFail          Status = "fail"
	StatusExpectedCrash Status = "expected-crash"
	StatusSkipped       Status = "skipped"
	StatusUnknown       Status = "unknown"
)

// Outcome is the result of one combination.
type Outcome struct {
	Suite      string                  `json:"suite"`
	Ordinal    int                     `json:"ordinal"`
	Code       string                  `json:"code"`
	Status     Status                  `json:"status"`
	Class      tortureerr.FailureClass `json:"failure_class,omitempty"`
	Message    string                  `json:"message,omitempty"`
	ExitCode   int                     `json:"exit_code"`
	References []oracle.Reference      `json:"references,omitempty"`
	Artifacts  []string                `json:"artifacts,omitempty"`
	DurationMS int64                   `json:"duration_ms"`
	Resumed    bool                    `json:"resumed,omitempty"`
}

// Failed reports whether o counts against the run.
func (o Outcome) Failed() bool {
	return o.Status == StatusFail
}

// Summary is the result accumulator of one suite or of a whole run.
type Summary struct {
	Suite           string   `json:"suite,omitempty"`
	Combinations    int      `json:"combinations"`
	Attempted       int      `json:"attempted"`
	Passed          int      `json:"passed"`
	ExpectedCrashes int      `json:"expected_crashes"`
	Skipped         int      `json:"skipped"`
	Failed          int      `json:"failed"`
	Unknown         int      `json:"unknown"`
	Resumed         int      `json:"resumed,omitempty"`
	FailedCodes     []string `json:"failed_codes,omitempty"`
	UnknownCodes    []string `json:"unknown_codes,omitempty"`
}

// Add folds one outcome into s. Skipped and unclassified combinations are
// never attempted.
func (s *Summary) Add(o Outcome) {
	s.Combinations++
	if o.Resumed {
		s.Resumed++
	}
	switch o.Status {
	case StatusSkipped:
		s.Skipped++
		return
	case StatusUnknown:
		s.Unknown++
		s.UnknownCodes = append(s.UnknownCodes, qualified(s.Suite, o))
		return
	}
	s.Attempted++
	switch o.Status {
	case StatusPass:
		s.Passed++
	case StatusExpectedCrash:
		s.ExpectedCrashes++
	case StatusFail:
		s.Failed++
		s.FailedCodes = append(s.FailedCodes, qualified(s.Suite, o))
	}
}

// Merge adds other's counters to s.
func (s Summary) Merge(other Summary) Summary {
	s.Combinations += other.Combinations
	s.Attempted += other.Attempted
	s.Passed += other.Passed
	s.ExpectedCrashes += other.ExpectedCrashes
	s.Skipped += other.Skipped
	s.Failed += other.Failed
	s.Unknown += other.Unknown
	s.Resumed += other.Resumed
	s.FailedCodes = append(append([]string(nil), s.FailedCodes...), prefixed(s.Suite, other.Suite, other.FailedCodes)...)
	s.UnknownCodes = append(append([]string(nil), s.UnknownCodes...), prefixed(s.Suite, other.Suite, other.UnknownCodes)...)
	return s
}

// prefixed qualifies suite-local codes when they move into a run-wide summary.
func prefixed(into, from string, codes []string) []string {
	if into != "" || from == "" {
		return codes
	}
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		out = append(out, from+"/"+c)
	}
	return out
}

// OK reports a clean run: no failures and no classification gaps.
func (s Summary) OK() bool { return s.Failed == 0 && s.Unknown == 0 }

// qualified names a code inside a run-wide summary.
func qualified(suite string, o Outcome) string {
	if suite == "" {
		return o.Suite + "/" + o.Code
	}
	return o.Code
}

// SuiteReport is the report section of one suite.
type SuiteReport struct {
	Summary Summary `json:"summary"`
	// CorpusSHA256 identifies the reference files the suite verified against.
	CorpusSHA256 string    `json:"corpus_sha256,omitempty"`
	Outcomes     []Outcome `json:"outcomes"`
}

// Report is the machine-consumed run output.
type Report struct {
	SchemaVersion       string        `json:"schema_version"`
	RunID               string        `json:"run_id"`
	GeneratedAtUTC      string        `json:"generated_at_utc"`
	Tool                string        `json:"tool"`
	ToolSHA256          string        `json:"tool_sha256"`
	ReferenceTool       string        `json:"reference_tool,omitempty"`
	ReferenceToolSHA256 string        `json:"reference_tool_sha256,omitempty"`
	ConfigSHA256        string        `json:"config_sha256"`
	Interrupted         bool          `json:"interrupted,omitempty"`
	Suites              []SuiteReport `json:"suites"`
	Totals              Summary       `json:"totals"`
	OutcomeSHA256       string        `json:"outcome_sha256"`
}

// ExitCode maps the totals to the process exit status.
func (r *Report) ExitCode() int {
	if r.Totals.OK() && !r.Interrupted {
		return 0
	}
	return 1
}

// Outcomes flattens the outcomes of every suite.
func (r *Report) Outcomes() []Outcome {
	var out []Outcome
	for _, s := range r.Suites {
		out = append(out, s.Outcomes...)
	}
	return out
}

// Suite returns the section of the named suite.
func (r *Report) Suite(name string) (SuiteReport, bool) {
	for _, s := range r.Suites {
		if s.Summary.Suite == name {
			return s, true
		}
	}
	return SuiteReport{}, false
}

// digestEntry is the run-independent projection of an Outcome. Messages,
// durations and resume markers vary between identical runs.
type digestEntry struct {
	Suite      string                  `json:"suite"`
	Ordinal    int                     `json:"ordinal"`
	Code       string                  `json:"code"`
	Status     Status                  `json:"status"`
	Class      tortureerr.FailureClass `json:"failure_class"`
	ExitCode   int                     `json:"exit_code"`
	References []oracle.Reference      `json:"references"`
}

// OutcomeDigest is the SHA-256 of the canonical JSON of the outcomes.
func OutcomeDigest(outcomes []Outcome) (string, error) {
	entries := make([]digestEntry, 0, len(outcomes))
	for _, o := range outcomes {
		refs := o.References
		if refs == nil {
			refs = []oracle.Reference{}
		}
		entries = append(entries, digestEntry{
			Suite:      o.Suite,
			Ordinal:    o.Ordinal,
			Code:       o.Code,
			Status:     o.Status,
			Class:      o.Class,
			ExitCode:   o.ExitCode,
			References: refs,
		})
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("marshal outcomes: %w", err)
	}
	canon, err := cyberphone.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize outcomes: %w", err)
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// Seal recomputes the totals and the outcome digest.
func (r *Report) Seal() error {
	totals := Summary{}
	for _, s := range r.Suites {
		totals = totals.Merge(s.Summary)
	}
	r.Totals = totals
	digest, err := OutcomeDigest(r.Outcomes())
	if err != nil {
		return err
	}
	r.OutcomeSHA256 = digest
	return nil
}

// WriteReport writes r as indented JSON.
func WriteReport(path string, r *Report) error {
	if r == nil {
		return fmt.Errorf("report is nil")
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write report file: %w", err)
	}
	return nil
}

// LoadReport reads a JSON run report.
//
//nolint:gosec // report path is explicit operator input.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read report: %w", err)
	}
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	if r.SchemaVersion != ReportSchemaVersion {
		return nil, fmt.Errorf("unsupported schema_version %q", r.SchemaVersion)
	}
	return &r, nil
}

// VerifyReport recomputes the digest of r and checks the recorded one.
func VerifyReport(r *Report) error {
	digest, err := OutcomeDigest(r.Outcomes())
	if err != nil {
		return err
	}
	if digest != r.OutcomeSHA256 {
		return fmt.Errorf("outcome digest mismatch: recorded %s, computed %s", r.OutcomeSHA256, digest)
	}
	return nil
}

// CompareReports checks that two runs observed the same outcomes.
func CompareReports(a, b *Report) error {
	for _, r := range []*Report{a, b} {
		if err := VerifyReport(r); err != nil {
			return fmt.Errorf("run %s: %w", r.RunID, err)
		}
	}
	if a.OutcomeSHA256 == b.OutcomeSHA256 {
		return nil
	}
	byKey := make(map[string]Outcome)
	for _, o := range a.Outcomes() {
		byKey[o.Suite+"/"+o.Code] = o
	}
	var drift []string
	for _, o := range b.Outcomes() {
		prev, ok := byKey[o.Suite+"/"+o.Code]
		switch {
		case !ok:
			drift = append(drift, o.Suite+"/"+o.Code+" only in "+b.RunID)
		case prev.Status != o.Status || prev.Class != o.Class || prev.ExitCode != o.ExitCode:
			drift = append(drift, fmt.Sprintf("%s/%s %s(%s) -> %s(%s)", o.Suite, o.Code, prev.Status, prev.Class, o.Status, o.Class))
		}
		delete(byKey, o.Suite+"/"+o.Code)
	}
	for key := range byKey {
		drift = append(drift, key+" only in "+a.RunID)
	}
	if len(drift) == 0 {
		drift = append(drift, "reference or ordinal drift")
	}
	return fmt.Errorf("outcome digest drift: %s", strings.Join(drift, "; "))
}

type textStyles struct {
	title, pass, fail, warn, dim lipgloss.Style
}

func newTextStyles(w io.Writer) textStyles {
	r := lipgloss.NewRenderer(w)
	return textStyles{
		title: r.NewStyle().Bold(true),
		pass:  r.NewStyle().Foreground(lipgloss.Color("2")),
		fail:  r.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
		warn:  r.NewStyle().Foreground(lipgloss.Color("3")),
		dim:   r.NewStyle().Faint(true),
	}
}

// WriteText renders the CI summary of r. Colors only appear when w is a
// terminal.
func WriteText(w io.Writer, r *Report) error {
	st := newTextStyles(w)
	if err := writeLine(w, st.title.Render("elf2e32 torture run "+r.RunID)); err != nil {
		return err
	}
	for _, s := range r.Suites {
		sum := s.Summary
		line := fmt.Sprintf("%-18s attempted %3d  passed %3d  expected-crash %2d  skipped %2d  unknown %2d  failed %2d",
			sum.Suite, sum.Attempted, sum.Passed, sum.ExpectedCrashes, sum.Skipped, sum.Unknown, sum.Failed)
		style := st.pass
		switch {
		case sum.Failed > 0:
			style = st.fail
		case sum.Unknown > 0:
			style = st.warn
		}
		if err := writeLine(w, style.Render(line)); err != nil {
			return err
		}
	}
	t := r.Totals
	if t.Resumed > 0 {
		if err := writeLine(w, st.dim.Render(fmt.Sprintf("resumed %d recorded outcomes", t.Resumed))); err != nil {
			return err
		}
	}
	if r.Interrupted {
		if err := writeLine(w, st.warn.Render("run interrupted before every case finished")); err != nil {
			return err
		}
	}
	if t.Unknown > 0 {
		if err := writeLine(w, st.warn.Render("Unclassified codes: "+strings.Join(t.UnknownCodes, " "))); err != nil {
			return err
		}
	}
	if t.Failed > 0 {
		if err := writeLine(w, st.fail.Render(fmt.Sprintf("Tests failed: %d/%d", t.Failed, t.Attempted))); err != nil {
			return err
		}
		return writeLine(w, st.fail.Render(strings.Join(t.FailedCodes, " ")))
	}
	if t.Unknown > 0 {
		return nil
	}
	return writeLine(w, st.pass.Render(fmt.Sprintf("All torture tests passed (%d attempted).", t.Attempted)))
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
