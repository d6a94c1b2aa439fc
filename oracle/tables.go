package oracle

import (
	"github.com/lattice-substrate/e32-torture/optspace"
)

// Built-in table names.
const (
	TableLibrary       = "library"
	TablePlugin        = "plugin"
	TablePluginTorture = "plugin-torture"
)

// Classes shared by several tables.
const (
	ClassUnfrozenBaseline Class = "unfrozen-baseline"
	ClassNamedLookup      Class = "namedlookup"
)

// Library classes (libcrypto, STDDLL with --dlldata).
const (
	ClassFrozenDef         Class = "frozen-def"
	ClassFrozenNamedLookup Class = "frozen-namedlookup"
)

// Plugin classes (AlternateReaderRecog ECOM plugin).
const (
	ClassIgnoreNonCallable            Class = "ignorenoncallable"
	ClassIgnoreNonCallableNamedLookup Class = "ignorenoncallable-namedlookup"
)

// Plugin torture classes (--sysdef naming a missing export).
const (
	ClassTortureUnfrozen                     Class = "torture-unfrozen"
	ClassTortureNamedLookup                  Class = "torture-namedlookup"
	ClassTortureIgnoreNonCallable            Class = "torture-ignorenoncallable"
	ClassTortureIgnoreNonCallableNamedLookup Class = "torture-ignorenoncallable-namedlookup"
)

// A DEF file freezes the export table: the DSO only changes with it, the image
// also changes with the named lookup section. Without a DEF file every build is
// effectively unfrozen.
func libraryTable() (*Table, error) {
	u, err := optspace.UniverseFor(optspace.Library)
	if err != nil {
		return nil, err
	}
	dso := func(s optspace.Set) (Class, bool) {
		if s.Has(optspace.DefInput) {
			return ClassFrozenDef, true
		}
		return ClassUnfrozenBaseline, true
	}
	image := func(s optspace.Set) (Class, bool) {
		switch def, named := s.Has(optspace.DefInput), s.Has(optspace.NamedLookup); {
		case def && named:
			return ClassFrozenNamedLookup, true
		case def:
			return ClassFrozenDef, true
		case named:
			return ClassNamedLookup, true
		default:
			return ClassUnfrozenBaseline, true
		}
	}
	return NewTable(TableLibrary, u, dso, image), nil
}

// The plugin has no writable static data and a single export, so --dlldata,
// --excludeunwantedexports and the DEF file leave its output untouched; only
// --ignorenoncallable and --namedlookup split classes.
func pluginTable() (*Table, error) {
	u, err := optspace.UniverseFor(optspace.Plugin)
	if err != nil {
		return nil, err
	}
	dso := func(s optspace.Set) (Class, bool) {
		if s.Has(optspace.IgnoreNonCallable) {
			return ClassIgnoreNonCallable, true
		}
		return ClassUnfrozenBaseline, true
	}
	image := func(s optspace.Set) (Class, bool) {
		return byCallableAndLookup(s,
			ClassUnfrozenBaseline, ClassNamedLookup,
			ClassIgnoreNonCallable, ClassIgnoreNonCallableNamedLookup), true
	}
	return NewTable(TablePlugin, u, dso, image), nil
}

// Only unfrozen builds survive the missing sysdef export, so every rule is
// undefined without --unfrozen.
func pluginTortureTable() (*Table, error) {
	u, err := optspace.UniverseFor(optspace.Plugin)
	if err != nil {
		return nil, err
	}
	dso := func(s optspace.Set) (Class, bool) {
		if !s.Has(optspace.Unfrozen) {
			return "", false
		}
		if s.Has(optspace.IgnoreNonCallable) {
			return ClassTortureIgnoreNonCallable, true
		}
		return ClassTortureUnfrozen, true
	}
	image := func(s optspace.Set) (Class, bool) {
		if !s.Has(optspace.Unfrozen) {
			return "", false
		}
		return byCallableAndLookup(s,
			ClassTortureUnfrozen, ClassTortureNamedLookup,
			ClassTortureIgnoreNonCallable, ClassTortureIgnoreNonCallableNamedLookup), true
	}
	return NewTable(TablePluginTorture, u, dso, image), nil
}

func byCallableAndLookup(s optspace.Set, neither, named, callable, both Class) Class {
	switch ignore, lookup := s.Has(optspace.IgnoreNonCallable), s.Has(optspace.NamedLookup); {
	case ignore && lookup:
		return both
	case ignore:
		return callable
	case lookup:
		return named
	default:
		return neither
	}
}

// DefaultReferences returns the reference file of every built-in class,
// relative to the corpus root.
func DefaultReferences(table string) map[Kind]map[Class]string {
	switch table {
	case TableLibrary:
		return map[Kind]map[Class]string{
			KindDSO: {
				ClassUnfrozenBaseline: "testing_CRCs/libcrypto_unfrozen.dcrc",
				ClassFrozenDef:        "libcrypto{000a0000}.dcrc",
			},
			KindImage: {
				ClassUnfrozenBaseline:  "testing_CRCs/libcrypto_unfrozen.crc",
				ClassFrozenDef:         "libcrypto-2.4.5.SDK.crc",
				ClassNamedLookup:       "testing_CRCs/libcrypto_namedlookup.crc",
				ClassFrozenNamedLookup: "testing_CRCs/libcrypto_frozen_namedlookup.crc",
			},
		}
	case TablePlugin:
		return map[Kind]map[Class]string{
			KindDSO: {
				ClassUnfrozenBaseline:  "testing_CRCs/ECOM.dcrc",
				ClassIgnoreNonCallable: "AlternateReaderRecog.SDK.dcrc",
			},
			KindImage: {
				ClassUnfrozenBaseline:             "testing_CRCs/ECOM.crc",
				ClassNamedLookup:                  "testing_CRCs/ECOM_N.crc",
				ClassIgnoreNonCallable:            "AlternateReaderRecog.SDK.crc",
				ClassIgnoreNonCallableNamedLookup: "testing_CRCs/ECOM_IN.crc",
			},
		}
	case TablePluginTorture:
		return map[Kind]map[Class]string{
			KindDSO: {
				ClassTortureUnfrozen:          "testing_CRCs/AR_torture_ECOM_I.dcrc",
				ClassTortureIgnoreNonCallable: "testing_CRCs/AR_torture_ECOM.dcrc",
			},
			KindImage: {
				ClassTortureUnfrozen:                     "testing_CRCs/AR_torture_ECOM_U.crc",
				ClassTortureNamedLookup:                  "testing_CRCs/AR_torture_ECOM_UN.crc",
				ClassTortureIgnoreNonCallable:            "testing_CRCs/AR_torture_ECOM_UI.crc",
				ClassTortureIgnoreNonCallableNamedLookup: "testing_CRCs/AR_torture_ECOM_UIN.crc",
			},
		}
	default:
		return nil
	}
}
