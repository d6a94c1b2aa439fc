package harness

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/lattice-substrate/e32-torture/oracle"
	"github.com/lattice-substrate/e32-torture/tortureerr"
)

// Promotion is one reference file written from a deduce run.
type Promotion struct {
	Kind    oracle.Kind  `json:"kind"`
	Class   oracle.Class `json:"class"`
	Source  string       `json:"source"`
	Target  string       `json:"target"`
	Members int          `json:"members"`
	Changed bool         `json:"changed"`
}

// PromoteResult summarizes a promotion.
type PromoteResult struct {
	Promoted  []Promotion `json:"promoted"`
	Conflicts []string    `json:"conflicts,omitempty"`
	// Uncovered lists classes no passed case produced.
	Uncovered []string `json:"uncovered,omitempty"`
}

// Promote turns the fingerprints of a deduce run into the corpus of s. Every
// member of a class must agree byte for byte; a class with disagreeing
// members is reported and left untouched.
func Promote(s *Suite, outcomes []Outcome, dryRun bool) (*PromoteResult, error) {
	type key struct {
		kind  oracle.Kind
		class oracle.Class
	}
	members := make(map[key][]Fingerprint)
	for _, fp := range CollectFingerprints(s, outcomes) {
		if fp.Origin == OriginReference {
			continue
		}
		k := key{kind: fp.Kind, class: fp.Class}
		members[k] = append(members[k], fp)
	}

	res := &PromoteResult{}
	for _, kind := range oracle.Kinds() {
		for _, class := range s.Oracle.Table().Classes(kind) {
			k := key{kind: kind, class: class}
			fps := members[k]
			if len(fps) == 0 {
				res.Uncovered = append(res.Uncovered, fmt.Sprintf("%s/%s", kind, class))
				continue
			}
			sort.Slice(fps, func(i, j int) bool { return fps[i].Path < fps[j].Path })
			data, conflict, err := agree(s.Workdir, fps)
			if err != nil {
				return nil, err
			}
			if conflict != "" {
				res.Conflicts = append(res.Conflicts, fmt.Sprintf("%s/%s: %s", kind, class, conflict))
				continue
			}
			target, ok := s.Oracle.Corpus().Path(kind, class)
			if !ok {
				return nil, tortureerr.Newf(tortureerr.ConfigMismatch, "", "%s class %q has no reference path", kind, class)
			}
			p := Promotion{Kind: kind, Class: class, Source: fps[0].Path, Target: target, Members: len(fps)}
			current, err := os.ReadFile(resolve(s.Workdir, target))
			p.Changed = err != nil || !bytes.Equal(current, data)
			if p.Changed && !dryRun {
				if err := writeFileAtomic(resolve(s.Workdir, target), data); err != nil {
					return nil, tortureerr.Wrap(tortureerr.InternalIO, "", "promote "+target, err)
				}
			}
			res.Promoted = append(res.Promoted, p)
		}
	}
	return res, nil
}

func agree(dir string, fps []Fingerprint) ([]byte, string, error) {
	var first []byte
	for i, fp := range fps {
		data, err := os.ReadFile(resolve(dir, fp.Path))
		if err != nil {
			return nil, "", tortureerr.Wrap(tortureerr.InternalIO, "", "read "+fp.Path, err)
		}
		if i == 0 {
			first = data
			continue
		}
		if !bytes.Equal(first, data) {
			return nil, fmt.Sprintf("%s and %s differ", fps[0].Origin, fp.Origin), nil
		}
	}
	return first, "", nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".promote-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		_ = os.Remove(name)
		return fmt.Errorf("rename temp: %w", err)
	}
	return nil
}

// WritePromotion renders res for humans.
func WritePromotion(w io.Writer, res *PromoteResult, dryRun bool) error {
	verb := "promoted"
	if dryRun {
		verb = "would promote"
	}
	for _, p := range res.Promoted {
		state := "unchanged"
		if p.Changed {
			state = verb
		}
		if err := writef(w, "%-9s %s/%s <- %s (%d members)\n", state, p.Kind, p.Class, p.Source, p.Members); err != nil {
			return err
		}
	}
	for _, c := range res.Conflicts {
		if err := writef(w, "conflict  %s\n", c); err != nil {
			return err
		}
	}
	for _, u := range res.Uncovered {
		if err := writef(w, "uncovered %s\n", u); err != nil {
			return err
		}
	}
	return nil
}
