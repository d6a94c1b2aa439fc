// Package oracle holds the fixed knowledge the torture harness scores against:
// which combinations crash the reference elf2e32, which are redundant, and
// which reference fingerprints each surviving combination must reproduce.
package oracle

import (
	"fmt"
	"sort"

	"github.com/lattice-substrate/e32-torture/optspace"
)

// Built-in policy names.
const (
	// PolicyNamedLookupDefInput: the legacy elf2e32 dies when --namedlookup is
	// combined with --definput. Pinned as observed behavior, not as intent.
	PolicyNamedLookupDefInput = "named-lookup-def-input"
	// PolicyFrozenWithoutDef: frozen builds without a DEF file only repeat
	// E1036 "Symbol Missing from ELF File" and add no coverage.
	PolicyFrozenWithoutDef = "frozen-without-def"
	// PolicyFrozenExports: with a --sysdef naming a missing export only
	// unfrozen builds can succeed.
	PolicyFrozenExports = "frozen-exports"
)

// Policy is a named, finite set of combinations of one universe.
type Policy struct {
	name     string
	universe *optspace.Universe
	members  map[optspace.Set]struct{}
}

// NewPolicy materializes pred over every combination of u.
func NewPolicy(name string, u *optspace.Universe, pred func(optspace.Set) bool) *Policy {
	p := &Policy{name: name, universe: u, members: make(map[optspace.Set]struct{})}
	if pred == nil {
		return p
	}
	for _, c := range u.Enumerate() {
		if pred(c.Set) {
			p.members[c.Set] = struct{}{}
		}
	}
	return p
}

// EmptyPolicy matches nothing.
func EmptyPolicy(u *optspace.Universe) *Policy {
	return NewPolicy("none", u, nil)
}

// BuiltinPolicy returns a named policy over u. An empty name yields the empty
// policy.
func BuiltinPolicy(name string, u *optspace.Universe) (*Policy, error) {
	switch name {
	case "", "none":
		return EmptyPolicy(u), nil
	case PolicyNamedLookupDefInput:
		return NewPolicy(name, u, func(s optspace.Set) bool {
			return s.Has(optspace.NamedLookup) && s.Has(optspace.DefInput)
		}), nil
	case PolicyFrozenWithoutDef:
		return NewPolicy(name, u, func(s optspace.Set) bool {
			return !s.Has(optspace.Unfrozen) && !s.Has(optspace.DefInput)
		}), nil
	case PolicyFrozenExports:
		return NewPolicy(name, u, func(s optspace.Set) bool {
			return !s.Has(optspace.Unfrozen)
		}), nil
	default:
		return nil, fmt.Errorf("unknown policy %q", name)
	}
}

// WithCodes returns a copy of p extended by explicit canonical codes. A code
// that is not a combination of the universe is an error.
func (p *Policy) WithCodes(codes ...string) (*Policy, error) {
	out := &Policy{name: p.name, universe: p.universe, members: make(map[optspace.Set]struct{}, len(p.members)+len(codes))}
	for s := range p.members {
		out.members[s] = struct{}{}
	}
	for _, code := range codes {
		s, err := p.universe.Parse(code)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", p.name, err)
		}
		out.members[s] = struct{}{}
	}
	return out, nil
}

// Name returns the policy name.
func (p *Policy) Name() string {
	if p == nil {
		return "none"
	}
	return p.name
}

// Contains reports membership of s. A nil policy matches nothing.
func (p *Policy) Contains(s optspace.Set) bool {
	if p == nil {
		return false
	}
	_, ok := p.members[s]
	return ok
}

// Match reports membership of a canonical code.
func (p *Policy) Match(code string) bool {
	if p == nil {
		return false
	}
	s, err := p.universe.Parse(code)
	if err != nil {
		return false
	}
	return p.Contains(s)
}

// Len is the number of members.
func (p *Policy) Len() int {
	if p == nil {
		return 0
	}
	return len(p.members)
}

// Codes lists the members in enumeration order.
func (p *Policy) Codes() []string {
	if p == nil {
		return nil
	}
	combos := p.universe.Enumerate()
	out := make([]string, 0, len(p.members))
	for _, c := range combos {
		if p.Contains(c.Set) {
			out = append(out, c.Code)
		}
	}
	return out
}

// SortedCodes lists the members sorted lexically, for stable diagnostics.
func (p *Policy) SortedCodes() []string {
	out := p.Codes()
	sort.Strings(out)
	return out
}
