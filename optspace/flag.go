// Package optspace enumerates the boolean option space exercised by the
// elf2e32 torture suites and names each combination with a canonical code.
package optspace

import "math/bits"

// Flag is one boolean elf2e32 option that changes the export bitmap, export
// table or relocation sections of the produced image.
type Flag uint8

const (
	Unfrozen Flag = iota
	IgnoreNonCallable
	DllData
	ExcludeUnwantedExports
	NamedLookup
	DefInput

	flagCount
)

var flagInfo = [flagCount]struct {
	code   string
	option string
	name   string
	value  bool
}{
	Unfrozen:               {code: "U", option: "--unfrozen", name: "unfrozen"},
	IgnoreNonCallable:      {code: "I", option: "--ignorenoncallable", name: "ignorenoncallable"},
	DllData:                {code: "D", option: "--dlldata", name: "dlldata"},
	ExcludeUnwantedExports: {code: "E", option: "--excludeunwantedexports", name: "excludeunwantedexports"},
	NamedLookup:            {code: "N", option: "--namedlookup", name: "namedlookup"},
	DefInput:               {code: "Di", option: "--definput", name: "definput", value: true},
}

// AllFlags returns every flag in canonical order.
func AllFlags() []Flag {
	out := make([]Flag, 0, flagCount)
	for f := Flag(0); f < flagCount; f++ {
		out = append(out, f)
	}
	return out
}

// FlagByCode resolves a short code such as "Di".
func FlagByCode(code string) (Flag, bool) {
	for f := Flag(0); f < flagCount; f++ {
		if flagInfo[f].code == code {
			return f, true
		}
	}
	return 0, false
}

// Valid reports whether f is a known flag.
func (f Flag) Valid() bool { return f < flagCount }

// Code returns the short code used in canonical codes.
func (f Flag) Code() string {
	if !f.Valid() {
		return "?"
	}
	return flagInfo[f].code
}

// Option returns the long command-line option, without any value.
func (f Flag) Option() string {
	if !f.Valid() {
		return ""
	}
	return flagInfo[f].option
}

// TakesValue reports whether the option needs an argument (--definput=FILE).
func (f Flag) TakesValue() bool {
	return f.Valid() && flagInfo[f].value
}

func (f Flag) String() string {
	if !f.Valid() {
		return "invalid"
	}
	return flagInfo[f].name
}

// Set is a combination of flags as a bitmask. Membership, not construction
// order, determines its value.
type Set uint8

// Of builds a Set from flags in any order.
func Of(flags ...Flag) Set {
	var s Set
	for _, f := range flags {
		s = s.With(f)
	}
	return s
}

// With returns s with f added.
func (s Set) With(f Flag) Set { return s | 1<<f }

// Without returns s with f removed.
func (s Set) Without(f Flag) Set { return s &^ (1 << f) }

// Has reports whether f is a member of s.
func (s Set) Has(f Flag) bool { return s&(1<<f) != 0 }

// Len is the number of members.
func (s Set) Len() int { return bits.OnesCount8(uint8(s)) }

// Empty reports whether s has no members.
func (s Set) Empty() bool { return s == 0 }

// SubsetOf reports whether every member of s is also in other.
func (s Set) SubsetOf(other Set) bool { return s&^other == 0 }

// Flags lists the members in canonical order.
func (s Set) Flags() []Flag {
	out := make([]Flag, 0, s.Len())
	for f := Flag(0); f < flagCount; f++ {
		if s.Has(f) {
			out = append(out, f)
		}
	}
	return out
}
