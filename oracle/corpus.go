package oracle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lattice-substrate/e32-torture/tortureerr"
)

// Corpus maps classes to checked-in reference fingerprint files.
type Corpus struct {
	root  string
	paths map[Kind]map[Class]string
}

// Entry is one reference file of a corpus.
type Entry struct {
	Kind  Kind
	Class Class
	Path  string
}

// NewCorpus copies paths; each path is relative to root unless absolute.
func NewCorpus(root string, paths map[Kind]map[Class]string) *Corpus {
	c := &Corpus{root: root, paths: make(map[Kind]map[Class]string, len(paths))}
	for kind, byClass := range paths {
		m := make(map[Class]string, len(byClass))
		for class, p := range byClass {
			m[class] = p
		}
		c.paths[kind] = m
	}
	return c
}

// Root returns the corpus directory.
func (c *Corpus) Root() string { return c.root }

// Path resolves the reference file of class for kind.
func (c *Corpus) Path(kind Kind, class Class) (string, bool) {
	p, ok := c.paths[kind][class]
	if !ok || p == "" {
		return "", false
	}
	if filepath.IsAbs(p) || c.root == "" {
		return p, true
	}
	return filepath.Join(c.root, p), true
}

// Entries lists every reference sorted by kind then class.
func (c *Corpus) Entries() []Entry {
	var out []Entry
	for _, kind := range Kinds() {
		for class := range c.paths[kind] {
			p, _ := c.Path(kind, class)
			out = append(out, Entry{Kind: kind, Class: class, Path: p})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Class < out[j].Class
	})
	return out
}

// Validate checks that the corpus covers exactly the classes t can produce.
// Both directions are configuration defects: an unreferenced class can never
// be verified and a stale entry means the table and corpus drifted apart.
func (c *Corpus) Validate(t *Table) error {
	var problems []string
	for _, kind := range Kinds() {
		reachable := make(map[Class]struct{})
		for _, class := range t.Classes(kind) {
			reachable[class] = struct{}{}
			if _, ok := c.Path(kind, class); !ok {
				problems = append(problems, fmt.Sprintf("%s class %q has no reference file", kind, class))
			}
		}
		for class := range c.paths[kind] {
			if _, ok := reachable[class]; !ok {
				problems = append(problems, fmt.Sprintf("%s reference for %q names a class table %s never produces", kind, class, t.Name()))
			}
		}
	}
	for kind := range c.paths {
		if kind != KindDSO && kind != KindImage {
			problems = append(problems, fmt.Sprintf("unknown fingerprint kind %q", kind))
		}
	}
	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return tortureerr.New(tortureerr.ConfigMismatch, "", fmt.Sprintf("corpus for table %s: %s", t.Name(), strings.Join(problems, "; ")))
}

// CheckFiles verifies every reference exists; relative paths resolve against base.
func (c *Corpus) CheckFiles(base string) error {
	var missing []string
	for _, e := range c.Entries() {
		p := e.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		info, err := os.Stat(p)
		if err != nil || info.IsDir() {
			missing = append(missing, e.Path)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return tortureerr.New(tortureerr.ConfigMismatch, "", "missing reference files: "+strings.Join(missing, ", "))
}

// Digest hashes every reference file and then the sorted "kind class sha256"
// lines, so two corpora with the same digest verify identically. Relative
// paths resolve against base.
//
//nolint:gosec // reference paths come from the run configuration.
func (c *Corpus) Digest(base string) (string, error) {
	h := sha256.New()
	for _, e := range c.Entries() {
		p := e.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(base, p)
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return "", fmt.Errorf("read reference %s: %w", e.Path, err)
		}
		sum := sha256.Sum256(data)
		fmt.Fprintf(h, "%s %s %s\n", e.Kind, e.Class, hex.EncodeToString(sum[:]))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
