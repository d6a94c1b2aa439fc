package harness

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lattice-substrate/e32-torture/oracle"
	"github.com/lattice-substrate/e32-torture/tortureerr"
)

// OriginReference marks a fingerprint that comes from the corpus.
const OriginReference = "reference"

// Fingerprint is one fingerprint file attributed to a class.
type Fingerprint struct {
	Kind   oracle.Kind  `json:"kind"`
	Class  oracle.Class `json:"class"`
	Origin string       `json:"origin"`
	Path   string       `json:"path"`
}

// KindOf maps a fingerprint file name to its kind.
func KindOf(path string) (oracle.Kind, bool) {
	ext := filepath.Ext(path)
	for _, k := range oracle.Kinds() {
		if k.Ext() == ext {
			return k, true
		}
	}
	return "", false
}

// CollectFingerprints attributes the fingerprint artifacts of passed outcomes
// through their references and adds every corpus file of s.
func CollectFingerprints(s *Suite, outcomes []Outcome) []Fingerprint {
	var out []Fingerprint
	for _, o := range outcomes {
		if o.Suite != s.Name() || o.Status != StatusPass {
			continue
		}
		classes := make(map[oracle.Kind]oracle.Class, len(o.References))
		for _, ref := range o.References {
			classes[ref.Kind] = ref.Class
		}
		for _, a := range o.Artifacts {
			kind, ok := KindOf(a)
			if !ok {
				continue
			}
			class, ok := classes[kind]
			if !ok {
				continue
			}
			out = append(out, Fingerprint{Kind: kind, Class: class, Origin: o.Suite + "/" + o.Code, Path: a})
		}
	}
	return append(out, referenceFingerprints(s)...)
}

// ScanFingerprints attributes every fingerprint file in dir that carries the
// name prefix of the suite layout and ends in "_<code>", then adds the corpus
// files of s.
func ScanFingerprints(s *Suite, dir string) ([]Fingerprint, error) {
	entries, err := os.ReadDir(resolve(s.Workdir, dir))
	if err != nil {
		return nil, tortureerr.Wrap(tortureerr.InternalIO, "", "scan "+dir, err)
	}
	prefix := layoutPrefix(s.Config.Layout.DSO)
	var out []Fingerprint
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		kind, ok := KindOf(e.Name())
		if !ok {
			continue
		}
		code := CodeFromName(e.Name())
		set, err := s.Universe.Parse(code)
		if err != nil {
			continue
		}
		class, ok := s.Oracle.Table().Classify(set)[kind]
		if !ok {
			continue
		}
		out = append(out, Fingerprint{Kind: kind, Class: class, Origin: s.Name() + "/" + code, Path: filepath.Join(dir, e.Name())})
	}
	return append(out, referenceFingerprints(s)...), nil
}

// layoutPrefix is the literal file name part of a layout template before its
// first token.
func layoutPrefix(tmpl string) string {
	base := path.Base(tmpl)
	if i := strings.Index(base, "{"); i >= 0 {
		return base[:i]
	}
	return ""
}

// CodeFromName extracts the canonical code from a code-qualified file name.
func CodeFromName(name string) string {
	stem := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if i := strings.LastIndex(stem, "_"); i >= 0 {
		return stem[i+1:]
	}
	return stem
}

func referenceFingerprints(s *Suite) []Fingerprint {
	var out []Fingerprint
	for _, e := range s.Oracle.Corpus().Entries() {
		out = append(out, Fingerprint{Kind: e.Kind, Class: e.Class, Origin: OriginReference, Path: e.Path})
	}
	return out
}

// DuplicateGroup is a set of identical fingerprint files that spans classes.
type DuplicateGroup struct {
	Kind    oracle.Kind    `json:"kind"`
	SHA256  string         `json:"sha256"`
	Classes []oracle.Class `json:"classes"`
	Members []Fingerprint  `json:"members"`
}

// AuditResult is the outcome of a duplicate-fingerprint audit.
type AuditResult struct {
	Files      int              `json:"files"`
	Missing    []string         `json:"missing,omitempty"`
	Duplicates []DuplicateGroup `json:"duplicates"`
}

// Audit hashes every fingerprint and reports identical contents claimed by
// more than one class: two classes that fingerprint the same are candidates
// for merging, or a sign the table splits on a flag that has no effect.
// Paths resolve against dir; a path seen twice is hashed once.
func Audit(dir string, fps []Fingerprint) (*AuditResult, error) {
	type key struct {
		kind oracle.Kind
		sum  string
	}
	res := &AuditResult{}
	groups := make(map[key][]Fingerprint)
	seen := make(map[string]struct{})
	for _, fp := range fps {
		clean := filepath.Clean(fp.Path)
		if _, ok := seen[clean]; ok {
			continue
		}
		seen[clean] = struct{}{}
		sum, err := fileSHA256(resolve(dir, clean))
		if err != nil {
			if os.IsNotExist(err) {
				res.Missing = append(res.Missing, fp.Path)
				continue
			}
			return nil, tortureerr.Wrap(tortureerr.InternalIO, "", "hash "+fp.Path, err)
		}
		res.Files++
		k := key{kind: fp.Kind, sum: sum}
		groups[k] = append(groups[k], fp)
	}
	for k, members := range groups {
		classes := distinctClasses(members)
		if len(classes) < 2 {
			continue
		}
		sort.Slice(members, func(i, j int) bool { return members[i].Path < members[j].Path })
		res.Duplicates = append(res.Duplicates, DuplicateGroup{Kind: k.kind, SHA256: k.sum, Classes: classes, Members: members})
	}
	sort.Slice(res.Duplicates, func(i, j int) bool {
		a, b := res.Duplicates[i], res.Duplicates[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.SHA256 < b.SHA256
	})
	sort.Strings(res.Missing)
	return res, nil
}

func distinctClasses(fps []Fingerprint) []oracle.Class {
	set := make(map[oracle.Class]struct{})
	for _, fp := range fps {
		set[fp.Class] = struct{}{}
	}
	out := make([]oracle.Class, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// WriteAudit renders res for humans.
func WriteAudit(w io.Writer, res *AuditResult) error {
	if err := writef(w, "audited %d fingerprint files\n", res.Files); err != nil {
		return err
	}
	for _, p := range res.Missing {
		if err := writef(w, "missing: %s\n", p); err != nil {
			return err
		}
	}
	if len(res.Duplicates) == 0 {
		return writeLine(w, "no fingerprint is shared between classes")
	}
	for _, g := range res.Duplicates {
		classes := make([]string, 0, len(g.Classes))
		for _, c := range g.Classes {
			classes = append(classes, string(c))
		}
		if err := writef(w, "%s %s shared by %s\n", g.Kind, g.SHA256[:12], strings.Join(classes, ", ")); err != nil {
			return err
		}
		for _, m := range g.Members {
			if err := writef(w, "  %-14s %-40s %s\n", m.Class, m.Origin, m.Path); err != nil {
				return err
			}
		}
	}
	return nil
}

// FileSHA256 returns the hex SHA-256 of a file.
func FileSHA256(path string) (string, error) {
	return fileSHA256(path)
}

//nolint:gosec // fingerprint and tool paths come from the run configuration.
func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
