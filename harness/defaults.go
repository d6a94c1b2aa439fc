package harness

import (
	"github.com/lattice-substrate/e32-torture/oracle"
)

// Default suite names.
const (
	SuitePluginTorture   = "plugin-torture"
	SuitePluginValidate  = "plugin-validate"
	SuiteLibraryValidate = "library-validate"
	SuiteLibraryDeduce   = "library-deduce"
	SuitePluginDeduce    = "plugin-deduce"
)

// Raised max heap matches the SDK tool's historical default.
var commonArgs = []string{
	"--libpath=SDK_libs",
	"--fpu=softvfp",
	"--heap=0x1000,0x100000",
}

func libcryptoArgs(stem string) []string {
	args := []string{
		"--uid1=0x10000079",
		"--uid2=0x20004c45",
		"--uid3=0x00000000",
		"--capability=All-TCB",
		"--targettype=STDDLL",
		"--elfinput=libcrypto.dll",
		"--linkas=libcrypto{000a0000}.dll",
		"--defoutput=tmp/" + stem + ".def",
		"--output=tmp/" + stem + ".dll",
		"--dso=tmp/libcrypto{000a0000}.dso",
	}
	args = append(args, commonArgs...)
	return append(args, "--dlldata")
}

func areaderArgs(stem string) []string {
	args := []string{
		"--capability=ProtServ",
		"--defoutput=tmp/" + stem + ".def",
		"--elfinput=AlternateReaderRecog.dll",
		"--output=tmp/" + stem + ".dll",
		"--linkas=AlternateReaderRecog{000a0000}[101ff1ec].dll",
		"--dso=tmp/AlternateReaderRecog{000a0000}.dso",
		"--uid1=0x10000079",
		"--uid2=0x10009d8d",
		"--uid3=0x101ff1ec",
		"--targettype=PLUGIN",
		"--sid=0x101ff1ec",
		"--version=10.0",
	}
	return append(args, commonArgs...)
}

func layout(defaultDSO, stem string) Layout {
	return Layout{
		DefaultDSO: "tmp/" + defaultDSO,
		DSO:        "tmp/" + stem + ".dso",
		Image:      "tmp/" + stem + ".dll",
		Def:        "tmp/" + stem + ".def",
	}
}

// DefaultConfig returns the suites of the characterized elf2e32 corpus. The
// deduce suites build with the reference tool and only run on demand.
func DefaultConfig() *Config {
	const (
		libDSO    = "libcrypto{000a0000}.dso"
		pluginDSO = "AlternateReaderRecog{000a0000}.dso"
		libDef    = "libcryptou.def"
		pluginDef = "AlternateReaderRecog{000a0000}.def"
	)
	return &Config{
		Version:       ConfigVersion,
		Tool:          "../bin/Release/elf2e32",
		ReferenceTool: "elf2e32_belle",
		Workdir:       ".",
		CorpusRoot:    ".",
		Suites: []SuiteConfig{
			{
				// The sysdef names an export missing from the ELF file, so
				// only unfrozen builds can succeed.
				Name:       SuitePluginTorture,
				Target:     "plugin",
				Table:      oracle.TablePluginTorture,
				Verify:     VerifyInline,
				SkipPolicy: oracle.PolicyFrozenExports,
				DefFile:    pluginDef,
				Args:       append(areaderArgs("AR_({ordinal})_{code}"), "--sysdef=_Z24ImplementationGroupProxyRi,1;lala,2;"),
				Layout:     layout(pluginDSO, "AR_({ordinal})_{code}"),
			},
			{
				Name:    SuitePluginValidate,
				Target:  "plugin",
				Table:   oracle.TablePlugin,
				Verify:  VerifyInline,
				DefFile: pluginDef,
				Args:    append(areaderArgs("ECOM_({ordinal})_{code}"), "--sysdef=_Z24ImplementationGroupProxyRi,1;"),
				Layout:  layout(pluginDSO, "ECOM_({ordinal})_{code}"),
			},
			{
				Name:    SuiteLibraryValidate,
				Target:  "library",
				Table:   oracle.TableLibrary,
				Verify:  VerifyInline,
				DefFile: libDef,
				Args:    libcryptoArgs("frzn_({ordinal})_{code}"),
				Layout:  layout(libDSO, "frzn_({ordinal})_{code}"),
			},
			{
				Name:             SuiteLibraryDeduce,
				Target:           "library",
				Table:            oracle.TableLibrary,
				Verify:           VerifyGenerate,
				UseReferenceTool: true,
				OnDemand:         true,
				CrashPolicy:      oracle.PolicyNamedLookupDefInput,
				DefFile:          libDef,
				Args:             append([]string{"--uncompressed"}, libcryptoArgs("out_({ordinal})_{code}")...),
				Layout:           layout(libDSO, "out_({ordinal})_{code}"),
			},
			{
				// Frozen builds without a DEF file only repeat E1036.
				Name:             SuitePluginDeduce,
				Target:           "plugin",
				Table:            oracle.TablePlugin,
				Verify:           VerifyGenerate,
				UseReferenceTool: true,
				OnDemand:         true,
				SkipPolicy:       oracle.PolicyFrozenWithoutDef,
				DefFile:          pluginDef,
				Args:             areaderArgs("AR_({ordinal})_{code}"),
				Layout:           layout(pluginDSO, "AR_({ordinal})_{code}"),
			},
		},
	}
}
