package oracle

import (
	"fmt"
	"strings"

	"github.com/lattice-substrate/e32-torture/optspace"
	"github.com/lattice-substrate/e32-torture/tortureerr"
)

// ReferenceSeparator joins reference paths in one --filecrc argument.
const ReferenceSeparator = ";"

// Reference is the expected fingerprint file for one kind of output.
type Reference struct {
	Kind  Kind   `json:"kind"`
	Class Class  `json:"class"`
	Path  string `json:"path"`
}

// Oracle resolves canonical codes to reference fingerprints.
type Oracle struct {
	table  *Table
	corpus *Corpus
}

// New binds a table to its corpus after checking they agree.
func New(t *Table, c *Corpus) (*Oracle, error) {
	if t == nil || c == nil {
		return nil, fmt.Errorf("table and corpus are required")
	}
	if err := c.Validate(t); err != nil {
		return nil, err
	}
	return &Oracle{table: t, corpus: c}, nil
}

// Table returns the classification table.
func (o *Oracle) Table() *Table { return o.table }

// Corpus returns the reference corpus.
func (o *Oracle) Corpus() *Corpus { return o.corpus }

// Lookup returns the references for code, DSO first. A code without any
// classification yields an UNKNOWN_CLASSIFICATION error.
func (o *Oracle) Lookup(code string) ([]Reference, error) {
	s, err := o.table.Universe().Parse(code)
	if err != nil {
		return nil, tortureerr.Wrap(tortureerr.UnknownClassification, code, "code does not parse", err)
	}
	return o.References(s)
}

// References is Lookup for an already decoded combination.
func (o *Oracle) References(s optspace.Set) ([]Reference, error) {
	code := o.table.Universe().Encode(s)
	classes := o.table.Classify(s)
	if len(classes) == 0 {
		return nil, tortureerr.Newf(tortureerr.UnknownClassification, code, "table %s has no entry", o.table.Name())
	}
	refs := make([]Reference, 0, len(classes))
	for _, kind := range Kinds() {
		class, ok := classes[kind]
		if !ok {
			continue
		}
		p, ok := o.corpus.Path(kind, class)
		if !ok {
			return nil, tortureerr.Newf(tortureerr.UnknownClassification, code, "%s class %q has no reference file", kind, class)
		}
		refs = append(refs, Reference{Kind: kind, Class: class, Path: p})
	}
	return refs, nil
}

// JoinPaths renders refs in the form --filecrc expects.
func JoinPaths(refs []Reference) string {
	paths := make([]string, 0, len(refs))
	for _, r := range refs {
		paths = append(paths, r.Path)
	}
	return strings.Join(paths, ReferenceSeparator)
}
