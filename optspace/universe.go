package optspace

import (
	"fmt"
	"strings"
)

// TargetKind is the class of binary elf2e32 produces for a suite.
type TargetKind string

const (
	// Library is a shared library with writable static data (STDDLL).
	Library TargetKind = "library"
	// Plugin is an ECOM plugin (PLUGIN).
	Plugin TargetKind = "plugin"
)

// Universe is the ordered set of flags varied for one target kind. The order
// is the one used to build canonical codes.
type Universe struct {
	kind  TargetKind
	flags []Flag
	mask  Set
	codes map[string]Set
	sets  []Combination
}

// Combination is one member of the option space with its canonical code and
// its 1-based position in the full enumeration.
type Combination struct {
	Set     Set
	Code    string
	Ordinal int
}

// NewUniverse validates flags and precomputes the option space.
func NewUniverse(kind TargetKind, flags ...Flag) (*Universe, error) {
	if kind == "" {
		return nil, fmt.Errorf("universe target kind is required")
	}
	if len(flags) == 0 {
		return nil, fmt.Errorf("universe %s: at least one flag is required", kind)
	}
	u := &Universe{kind: kind, flags: append([]Flag(nil), flags...)}
	seenCode := make(map[string]Flag, len(flags))
	for _, f := range flags {
		if !f.Valid() {
			return nil, fmt.Errorf("universe %s: invalid flag %d", kind, f)
		}
		if u.mask.Has(f) {
			return nil, fmt.Errorf("universe %s: duplicate flag %s", kind, f)
		}
		if prev, ok := seenCode[f.Code()]; ok {
			return nil, fmt.Errorf("universe %s: flags %s and %s share code %q", kind, prev, f, f.Code())
		}
		seenCode[f.Code()] = f
		u.mask = u.mask.With(f)
	}

	u.sets = u.enumerate()
	u.codes = make(map[string]Set, len(u.sets))
	for _, c := range u.sets {
		if prev, ok := u.codes[c.Code]; ok {
			return nil, fmt.Errorf("universe %s: code %q is ambiguous between %v and %v", kind, c.Code, prev.Flags(), c.Set.Flags())
		}
		u.codes[c.Code] = c.Set
	}
	return u, nil
}

// UniverseFor returns the built-in universe of a target kind. The library
// target always passes --dlldata in its command template, so DllData is not
// varied there.
func UniverseFor(kind TargetKind) (*Universe, error) {
	switch kind {
	case Library:
		return NewUniverse(kind, Unfrozen, IgnoreNonCallable, ExcludeUnwantedExports, NamedLookup, DefInput)
	case Plugin:
		return NewUniverse(kind, Unfrozen, IgnoreNonCallable, DllData, ExcludeUnwantedExports, NamedLookup, DefInput)
	default:
		return nil, fmt.Errorf("unknown target kind %q", kind)
	}
}

// Kind returns the target kind.
func (u *Universe) Kind() TargetKind { return u.kind }

// Flags returns the members in code order.
func (u *Universe) Flags() []Flag { return append([]Flag(nil), u.flags...) }

// Size is the number of flags.
func (u *Universe) Size() int { return len(u.flags) }

// Mask is the Set of every flag in the universe.
func (u *Universe) Mask() Set { return u.mask }

// Has reports whether f belongs to the universe.
func (u *Universe) Has(f Flag) bool { return u.mask.Has(f) }

// Contains reports whether s is a non-empty combination of this universe.
func (u *Universe) Contains(s Set) bool { return !s.Empty() && s.SubsetOf(u.mask) }

// Encode returns the canonical code of s: the codes of its members appended in
// universe order. Flags outside the universe do not contribute.
func (u *Universe) Encode(s Set) string {
	var b strings.Builder
	for _, f := range u.flags {
		if s.Has(f) {
			b.WriteString(f.Code())
		}
	}
	return b.String()
}

// Parse is the inverse of Encode over the universe's combinations.
func (u *Universe) Parse(code string) (Set, error) {
	s, ok := u.codes[code]
	if !ok {
		return 0, fmt.Errorf("code %q is not a combination of the %s universe (%s)", code, u.kind, u.describe())
	}
	return s, nil
}

// Enumerate returns every non-empty combination, smallest first and
// lexicographic by universe position within a size.
func (u *Universe) Enumerate() []Combination {
	return append([]Combination(nil), u.sets...)
}

// Combination returns the enumerated entry for s.
func (u *Universe) Combination(s Set) (Combination, bool) {
	if !u.Contains(s) {
		return Combination{}, false
	}
	code := u.Encode(s)
	for _, c := range u.sets {
		if c.Code == code {
			return c, true
		}
	}
	return Combination{}, false
}

// Args renders the command-line options of s in universe order. Flags that
// take a value read it from values.
func (u *Universe) Args(s Set, values map[Flag]string) ([]string, error) {
	if !u.Contains(s) {
		return nil, fmt.Errorf("set %v is not a combination of the %s universe", s.Flags(), u.kind)
	}
	args := make([]string, 0, s.Len())
	for _, f := range u.flags {
		if !s.Has(f) {
			continue
		}
		if !f.TakesValue() {
			args = append(args, f.Option())
			continue
		}
		v := values[f]
		if v == "" {
			return nil, fmt.Errorf("flag %s needs a value", f)
		}
		args = append(args, f.Option()+"="+v)
	}
	return args, nil
}

func (u *Universe) enumerate() []Combination {
	n := len(u.flags)
	out := make([]Combination, 0, 1<<n-1)
	idx := make([]int, 0, n)
	for k := 1; k <= n; k++ {
		idx = idx[:k]
		for i := range idx {
			idx[i] = i
		}
		for {
			var s Set
			for _, i := range idx {
				s = s.With(u.flags[i])
			}
			out = append(out, Combination{Set: s, Code: u.Encode(s), Ordinal: len(out) + 1})

			// Advance to the next k-combination of n positions.
			i := k - 1
			for i >= 0 && idx[i] == n-k+i {
				i--
			}
			if i < 0 {
				break
			}
			idx[i]++
			for j := i + 1; j < k; j++ {
				idx[j] = idx[j-1] + 1
			}
		}
	}
	return out
}

func (u *Universe) describe() string {
	codes := make([]string, 0, len(u.flags))
	for _, f := range u.flags {
		codes = append(codes, f.Code())
	}
	return strings.Join(codes, " ")
}
