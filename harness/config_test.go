package harness

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/lattice-substrate/e32-torture/optspace"
	"github.com/lattice-substrate/e32-torture/oracle"
	"github.com/lattice-substrate/e32-torture/tortureerr"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := ValidateConfig(cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	selected, err := cfg.SelectSuites(nil)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	var names []string
	for _, s := range selected {
		names = append(names, s.Name)
	}
	want := []string{SuitePluginTorture, SuitePluginValidate, SuiteLibraryValidate}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("default suites (-want +got):\n%s", diff)
	}
}

func TestConfigYAMLRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = Duration{90 * time.Second}
	cfg.Launcher = []string{"wine"}
	data, err := MarshalConfig(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), "timeout: 1m30s") {
		t.Fatalf("timeout not rendered as duration:\n%s", data)
	}
	if !strings.Contains(string(data), "- wine") {
		t.Fatalf("launcher not rendered:\n%s", data)
	}
	path := filepath.Join(t.TempDir(), "torture.yaml")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Fatalf("round trip (-want +got):\n%s", diff)
	}

	d1, err := cfg.Digest()
	if err != nil {
		t.Fatal(err)
	}
	d2, err := got.Digest()
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 || len(d1) != 64 {
		t.Fatalf("digest mismatch %s %s", d1, d2)
	}
}

func TestParseConfigIsStrict(t *testing.T) {
	base := `version: torture.v1
tool: elf2e32
suites:
  - name: lib
    target: library
    table: library
    verify: inline
    def_file: libcryptou.def
    args: ["--targettype=STDDLL"]
    layout:
      default_dso: tmp/libcrypto{000a0000}.dso
      dso: tmp/out_{code}.dso
`
	if _, err := ParseConfig([]byte(base)); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := map[string]string{
		"unknown field":    base + "colour: red\n",
		"trailing doc":     base + "---\nversion: torture.v1\n",
		"bad version":      strings.Replace(base, "torture.v1", "torture.v0", 1),
		"bad target":       strings.Replace(base, "target: library", "target: kernel", 1),
		"bad table":        strings.Replace(base, "table: library", "table: nope", 1),
		"bad verify":       strings.Replace(base, "verify: inline", "verify: maybe", 1),
		"untemplated dso":  strings.Replace(base, "out_{code}", "out", 1),
		"missing tool":     strings.Replace(base, "tool: elf2e32\n", "", 1),
		"negative timeout": base + "timeout: -1s\n",
		"bad duration":     base + "timeout: soon\n",
		"empty launcher":   base + "launcher: [\"\"]\n",
		"post-build image": strings.Replace(base, "verify: inline", "verify: post-build", 1),
		"reference tool":   strings.Replace(base, "verify: inline", "verify: inline\n    use_reference_tool: true", 1),
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseConfig([]byte(doc)); err == nil {
				t.Fatalf("expected %s to be rejected", name)
			}
		})
	}
}

func TestSelectSuites(t *testing.T) {
	cfg := DefaultConfig()
	got, err := cfg.SelectSuites([]string{SuiteLibraryDeduce})
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(got) != 1 || !got[0].UseReferenceTool {
		t.Fatalf("unexpected selection %+v", got)
	}
	if _, err := cfg.SelectSuites([]string{"nope"}); err == nil {
		t.Fatal("expected unknown suite error")
	}
}

func TestExpand(t *testing.T) {
	u, err := optspace.UniverseFor(optspace.Plugin)
	if err != nil {
		t.Fatal(err)
	}
	c, ok := u.Combination(optspace.Of(optspace.Unfrozen, optspace.DefInput))
	if !ok {
		t.Fatal("combination missing")
	}
	got := Expand("tmp/AR_({ordinal})_{code}.dso", c)
	if got != "tmp/AR_(11)_UDi.dso" {
		t.Fatalf("Expand = %q", got)
	}
	if Expand("--linkas=libcrypto{000a0000}.dll", c) != "--linkas=libcrypto{000a0000}.dll" {
		t.Fatal("unrelated braces must survive expansion")
	}
}

func TestBuildSuiteRejectsMismatches(t *testing.T) {
	cases := map[string]func(*SuiteConfig){
		"target and table disagree": func(s *SuiteConfig) { s.Target = "library"; s.Table = oracle.TablePlugin },
		"stale skip code":           func(s *SuiteConfig) { s.SkipCodes = []string{"UX"} },
		"unknown crash policy":      func(s *SuiteConfig) { s.CrashPolicy = "everything" },
		"corpus misses a class": func(s *SuiteConfig) {
			s.References = map[string]map[string]string{
				"dso":   {"unfrozen-baseline": "a.dcrc", "ignorenoncallable": "b.dcrc"},
				"image": {"unfrozen-baseline": "a.crc"},
			}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			sc, _ := cfg.Suite(SuitePluginValidate)
			mutate(&sc)
			_, err := BuildSuite(cfg, sc, BuildOptions{})
			var terr *tortureerr.Error
			if !errors.As(err, &terr) || terr.Class != tortureerr.ConfigMismatch {
				t.Fatalf("expected CONFIG_MISMATCH, got %v", err)
			}
			if terr.Class.ExitCode() != 2 {
				t.Fatalf("config mismatch must exit 2")
			}
		})
	}
}

func TestBuildSuiteChecksReferenceFiles(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workdir = t.TempDir()
	sc, _ := cfg.Suite(SuiteLibraryValidate)
	if _, err := BuildSuite(cfg, sc, BuildOptions{CheckFiles: true}); err == nil {
		t.Fatal("expected missing reference files to fail setup")
	}
	writeCorpus(t, cfg.Workdir, oracle.TableLibrary)
	if _, err := BuildSuite(cfg, sc, BuildOptions{CheckFiles: true}); err != nil {
		t.Fatalf("setup with corpus: %v", err)
	}
	// Generate suites write references instead of reading them.
	deduce, _ := cfg.Suite(SuitePluginDeduce)
	if _, err := BuildSuite(cfg, deduce, BuildOptions{CheckFiles: true}); err != nil {
		t.Fatalf("generate suite setup: %v", err)
	}
}

func TestPlanVerdicts(t *testing.T) {
	cfg := DefaultConfig()
	sc, _ := cfg.Suite(SuiteLibraryDeduce)
	s, err := BuildSuite(cfg, sc, BuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	plan, err := s.Plan()
	if err != nil {
		t.Fatal(err)
	}
	if len(plan) != 31 {
		t.Fatalf("plan has %d entries", len(plan))
	}
	counts := map[Verdict]int{}
	for _, pc := range plan {
		counts[pc.Verdict]++
		if pc.Combination.Code == "NDi" {
			if pc.Verdict != VerdictCrash || !pc.Case.CrashExpected {
				t.Fatalf("NDi must be a predicted crash: %+v", pc)
			}
			argv := strings.Join(pc.Case.Argv, " ")
			if !strings.HasPrefix(argv, cfg.ReferenceTool+" ") {
				t.Fatalf("deduce builds with the reference tool: %s", argv)
			}
			if !strings.HasSuffix(argv, "--namedlookup --definput=libcryptou.def") {
				t.Fatalf("flag args out of order: %s", argv)
			}
			if pc.Case.DSO != filepath.FromSlash("tmp/out_(15)_NDi.dso") {
				t.Fatalf("dso = %s", pc.Case.DSO)
			}
		}
	}
	if counts[VerdictCrash] != 8 || counts[VerdictRun] != 23 {
		t.Fatalf("verdicts %v", counts)
	}
}
