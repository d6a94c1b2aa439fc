package oracle

import (
	"fmt"
	"sort"

	"github.com/lattice-substrate/e32-torture/optspace"
)

// Kind distinguishes the two fingerprints elf2e32 keeps for a build.
type Kind string

const (
	// KindDSO is the import library fingerprint (.dcrc).
	KindDSO Kind = "dso"
	// KindImage is the E32 image fingerprint (.crc).
	KindImage Kind = "image"
)

// Kinds lists the fingerprint kinds in the order elf2e32 expects them in
// --filecrc.
func Kinds() []Kind { return []Kind{KindDSO, KindImage} }

// Ext is the file extension elf2e32 uses for a fingerprint of this kind.
func (k Kind) Ext() string {
	switch k {
	case KindDSO:
		return ".dcrc"
	case KindImage:
		return ".crc"
	default:
		return ""
	}
}

// Class names an equivalence class of expected output within one table.
type Class string

// Rule classifies a combination for one fingerprint kind. ok is false when the
// kind has no expectation for s.
type Rule func(s optspace.Set) (class Class, ok bool)

// Table is the classification of one universe's combinations.
type Table struct {
	name     string
	universe *optspace.Universe
	rules    map[Kind]Rule
}

// NewTable builds a table. A nil rule means the kind is never checked.
func NewTable(name string, u *optspace.Universe, dso, image Rule) *Table {
	rules := make(map[Kind]Rule, 2)
	if dso != nil {
		rules[KindDSO] = dso
	}
	if image != nil {
		rules[KindImage] = image
	}
	return &Table{name: name, universe: u, rules: rules}
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// Universe returns the universe the table classifies.
func (t *Table) Universe() *optspace.Universe { return t.universe }

// Classify returns the class of s for each kind that has an expectation.
func (t *Table) Classify(s optspace.Set) map[Kind]Class {
	out := make(map[Kind]Class, len(t.rules))
	if !t.universe.Contains(s) {
		return out
	}
	for _, k := range Kinds() {
		rule, ok := t.rules[k]
		if !ok {
			continue
		}
		if c, ok := rule(s); ok {
			out[k] = c
		}
	}
	return out
}

// Classes lists every class of kind reachable over the universe, sorted.
func (t *Table) Classes(kind Kind) []Class {
	seen := make(map[Class]struct{})
	for _, c := range t.universe.Enumerate() {
		if cls, ok := t.Classify(c.Set)[kind]; ok {
			seen[cls] = struct{}{}
		}
	}
	out := make([]Class, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Members lists the codes classified into class for kind, in enumeration order.
func (t *Table) Members(kind Kind, class Class) []string {
	var out []string
	for _, c := range t.universe.Enumerate() {
		if got, ok := t.Classify(c.Set)[kind]; ok && got == class {
			out = append(out, c.Code)
		}
	}
	return out
}

// Unclassified lists the codes of the universe with no expectation at all.
func (t *Table) Unclassified() []string {
	var out []string
	for _, c := range t.universe.Enumerate() {
		if len(t.Classify(c.Set)) == 0 {
			out = append(out, c.Code)
		}
	}
	return out
}

var builtinTables = map[string]func() (*Table, error){
	TableLibrary:       libraryTable,
	TablePlugin:        pluginTable,
	TablePluginTorture: pluginTortureTable,
}

// BuiltinTable returns a table by name.
func BuiltinTable(name string) (*Table, error) {
	build, ok := builtinTables[name]
	if !ok {
		return nil, fmt.Errorf("unknown classification table %q", name)
	}
	return build()
}

// BuiltinTableNames lists the built-in tables, sorted.
func BuiltinTableNames() []string {
	out := make([]string, 0, len(builtinTables))
	for name := range builtinTables {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
