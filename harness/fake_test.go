package harness

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lattice-substrate/e32-torture/optspace"
	"github.com/lattice-substrate/e32-torture/oracle"
	"github.com/lattice-substrate/e32-torture/runtime/executil"
)

const (
	fakeTool          = "elf2e32-under-test"
	fakeReferenceTool = "elf2e32-reference"
)

// fingerprintText is what the fake tool writes for a class. Reference files
// hold the same text, so a correct build verifies.
func fingerprintText(kind oracle.Kind, class oracle.Class) string {
	return revisedText(kind, class, 0)
}

// revisedText is the fingerprint of a class after the tool changed its output
// revision times.
func revisedText(kind oracle.Kind, class oracle.Class, revision int) string {
	name := "E32_checksum"
	if kind == oracle.KindDSO {
		name = "DSO_checksum"
	}
	seed := string(kind) + "/" + string(class)
	if revision > 0 {
		seed += fmt.Sprintf("/r%d", revision)
	}
	return fmt.Sprintf("%s = 0x%08x\n", name, crc32.ChecksumIEEE([]byte(seed)))
}

// fakeElf2e32 stands in for the tool: it derives the combination from argv,
// classifies it with table and writes artifacts carrying the class
// fingerprint. Per-code behaviors inject faults.
type fakeElf2e32 struct {
	t     *testing.T
	table *oracle.Table
	// crash makes the reference tool die on matching combinations.
	crash func(optspace.Set) bool
	// behavior maps a code to "fail", "missing-dso", "missing-image" or "partial".
	behavior map[string]string
	// revision changes every artifact the builds write.
	revision int
	// cancelAfter cancels after that many build invocations.
	cancelAfter int
	cancel      context.CancelFunc

	builds []string
	calls  [][]string
}

func (f *fakeElf2e32) Run(_ context.Context, argv []string, opts executil.Options) (executil.Result, error) {
	f.calls = append(f.calls, append([]string(nil), argv...))
	if hasArg(argv, "--filecrc") {
		return f.generate(argv, opts)
	}
	return f.build(argv, opts)
}

func (f *fakeElf2e32) build(argv []string, opts executil.Options) (executil.Result, error) {
	u := f.table.Universe()
	var s optspace.Set
	for _, fl := range u.Flags() {
		for _, a := range argv[1:] {
			if a == fl.Option() || strings.HasPrefix(a, fl.Option()+"=") {
				s = s.With(fl)
			}
		}
	}
	code := u.Encode(s)
	f.builds = append(f.builds, code)
	if f.cancelAfter > 0 && len(f.builds) == f.cancelAfter && f.cancel != nil {
		f.cancel()
	}

	dso := argValue(argv, "--dso=")
	image := argValue(argv, "--output=")
	def := argValue(argv, "--defoutput=")
	classes := f.table.Classify(s)

	if argv[0] == fakeReferenceTool && f.crash != nil && f.crash(s) {
		f.write(opts.Dir, dso, "partial")
		return executil.Result{ExitCode: -1073741819, Output: "access violation"}, nil
	}
	switch f.behavior[code] {
	case "fail":
		f.write(opts.Dir, dso, "partial")
		return executil.Result{ExitCode: 1, Output: "elf2e32 : Error: E1036: Symbol lala Missing from ELF File"}, nil
	case "partial":
		f.write(opts.Dir, dso, "partial")
		f.write(opts.Dir, withExt(dso, ".dcrc"), "partial")
		return executil.Result{ExitCode: 1, Output: "elf2e32 : Error: E1000: out of memory"}, nil
	}

	if refs := argValue(argv, "--filecrc="); refs != "" {
		paths := strings.Split(refs, oracle.ReferenceSeparator)
		i := 0
		for _, kind := range oracle.Kinds() {
			class, ok := classes[kind]
			if !ok {
				continue
			}
			if i >= len(paths) {
				return executil.Result{ExitCode: 1, Output: "too few references"}, nil
			}
			data, err := os.ReadFile(resolve(opts.Dir, paths[i]))
			if err != nil || string(data) != f.text(kind, class) {
				return executil.Result{ExitCode: 1, Output: "Reading checksums from file\nelf2e32 : Error: CRC32 validation failed!"}, nil
			}
			i++
		}
		f.write(opts.Dir, withExt(dso, ".dcrc"), f.text(oracle.KindDSO, classes[oracle.KindDSO]))
		f.write(opts.Dir, withExt(dso, ".crc"), f.text(oracle.KindImage, classes[oracle.KindImage]))
	}

	if f.behavior[code] != "missing-dso" {
		f.write(opts.Dir, dso, f.text(oracle.KindDSO, classes[oracle.KindDSO]))
	}
	if f.behavior[code] != "missing-image" {
		f.write(opts.Dir, image, f.text(oracle.KindImage, classes[oracle.KindImage]))
	}
	f.write(opts.Dir, def, "EXPORTS\n")
	return executil.Result{ExitCode: 0, Output: "ok"}, nil
}

func (f *fakeElf2e32) text(kind oracle.Kind, class oracle.Class) string {
	return revisedText(kind, class, f.revision)
}

// generate copies the artifact text into its fingerprint file. Like the real
// tool it validates against a fingerprint file that already exists instead of
// rewriting it.
func (f *fakeElf2e32) generate(argv []string, opts executil.Options) (executil.Result, error) {
	src, ext := argValue(argv, "--dso="), ".dcrc"
	if src == "" {
		src, ext = argValue(argv, "--e32input="), ".crc"
	}
	data, err := os.ReadFile(resolve(opts.Dir, src))
	if err != nil {
		return executil.Result{ExitCode: 1, Output: "cannot open " + src}, nil
	}
	out := withExt(src, ext)
	if existing, err := os.ReadFile(resolve(opts.Dir, out)); err == nil {
		if string(existing) != string(data) {
			return executil.Result{ExitCode: 1, Output: "Reading checksums from file\nelf2e32 : Error: CRC32 validation failed!"}, nil
		}
		return executil.Result{ExitCode: 0}, nil
	}
	f.write(opts.Dir, out, string(data))
	return executil.Result{ExitCode: 0}, nil
}

func (f *fakeElf2e32) write(dir, rel, content string) {
	f.t.Helper()
	if rel == "" {
		return
	}
	p := resolve(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		f.t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		f.t.Fatalf("write %s: %v", p, err)
	}
}

func (f *fakeElf2e32) built(code string) bool {
	for _, c := range f.builds {
		if c == code {
			return true
		}
	}
	return false
}

func hasArg(argv []string, want string) bool {
	for _, a := range argv {
		if a == want {
			return true
		}
	}
	return false
}

func argValue(argv []string, prefix string) string {
	for _, a := range argv {
		if strings.HasPrefix(a, prefix) {
			return strings.TrimPrefix(a, prefix)
		}
	}
	return ""
}

// testConfig returns the default suites rooted in a fresh work directory
// populated with a correct reference corpus.
func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Workdir = t.TempDir()
	cfg.Tool = fakeTool
	cfg.ReferenceTool = fakeReferenceTool
	for _, name := range oracle.BuiltinTableNames() {
		writeCorpus(t, cfg.Workdir, name)
	}
	return cfg
}

func writeCorpus(t *testing.T, dir, table string) {
	t.Helper()
	for kind, byClass := range oracle.DefaultReferences(table) {
		for class, rel := range byClass {
			p := filepath.Join(dir, filepath.FromSlash(rel))
			if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
				t.Fatalf("mkdir: %v", err)
			}
			if err := os.WriteFile(p, []byte(fingerprintText(kind, class)), 0o600); err != nil {
				t.Fatalf("write reference: %v", err)
			}
		}
	}
}

func mustSuite(t *testing.T, cfg *Config, name string) *Suite {
	t.Helper()
	sc, ok := cfg.Suite(name)
	if !ok {
		t.Fatalf("no suite %s", name)
	}
	s, err := BuildSuite(cfg, sc, BuildOptions{CheckFiles: true})
	if err != nil {
		t.Fatalf("build suite %s: %v", name, err)
	}
	return s
}

func newFake(t *testing.T, s *Suite) *fakeElf2e32 {
	return &fakeElf2e32{t: t, table: s.Oracle.Table(), behavior: map[string]string{}}
}
