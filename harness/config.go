// Package harness drives elf2e32 through every combination of its torture
// flags and scores each build against the reference fingerprint corpus.
package harness

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lattice-substrate/e32-torture/optspace"
	"github.com/lattice-substrate/e32-torture/oracle"
)

// ConfigVersion is the only configuration schema this package accepts.
const ConfigVersion = "torture.v1"

// Config is a torture run configuration.
type Config struct {
	Version       string `yaml:"version"`
	Tool          string `yaml:"tool"`
	ReferenceTool string `yaml:"reference_tool,omitempty"`
	Workdir       string `yaml:"workdir,omitempty"`
	CorpusRoot    string `yaml:"corpus_root,omitempty"`
	// Launcher prefixes every tool invocation, e.g. [wine] for a Windows build.
	Launcher []string          `yaml:"launcher,omitempty"`
	Timeout  Duration          `yaml:"timeout,omitempty"`
	Env      map[string]string `yaml:"env,omitempty"`
	Suites   []SuiteConfig     `yaml:"suites"`
}

// SuiteConfig describes one traversal of a universe.
type SuiteConfig struct {
	Name   string     `yaml:"name"`
	Target string     `yaml:"target"`
	Table  string     `yaml:"table"`
	Verify VerifyMode `yaml:"verify"`
	// UseReferenceTool builds with the reference elf2e32 instead of the tool
	// under test. Fingerprints are always generated by the tool under test.
	UseReferenceTool bool `yaml:"use_reference_tool,omitempty"`
	// OnDemand suites only run when selected by name.
	OnDemand    bool     `yaml:"on_demand,omitempty"`
	CrashPolicy string   `yaml:"crash_policy,omitempty"`
	CrashCodes  []string `yaml:"crash_codes,omitempty"`
	SkipPolicy  string   `yaml:"skip_policy,omitempty"`
	SkipCodes   []string `yaml:"skip_codes,omitempty"`
	DefFile     string   `yaml:"def_file,omitempty"`
	Args        []string `yaml:"args"`
	Layout      Layout   `yaml:"layout"`
	// References overrides the built-in corpus of Table: kind -> class -> path.
	References map[string]map[string]string `yaml:"references,omitempty"`
}

// Layout names the files a build writes. Every path may carry the {ordinal}
// and {code} tokens and is relative to the work directory.
type Layout struct {
	// DefaultDSO is where the tool writes the import library regardless of
	// options. It must be drained after every build.
	DefaultDSO string `yaml:"default_dso"`
	DSO        string `yaml:"dso"`
	Image      string `yaml:"image,omitempty"`
	Def        string `yaml:"def,omitempty"`
}

// VerifyMode selects how a build's fingerprints are checked.
type VerifyMode string

const (
	// VerifyInline passes the references to the build via --filecrc=.
	VerifyInline VerifyMode = "inline"
	// VerifyPostBuild generates fingerprints after the build and compares
	// them with the references byte for byte.
	VerifyPostBuild VerifyMode = "post-build"
	// VerifyGenerate only generates fingerprints, for promotion into the corpus.
	VerifyGenerate VerifyMode = "generate"
)

// Template tokens substituted in Args and Layout.
const (
	TokenOrdinal = "{ordinal}"
	TokenCode    = "{code}"
)

// Duration is a time.Duration written as a Go duration string.
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", value.Line)
	}
	if strings.TrimSpace(value.Value) == "" {
		d.Duration = 0
		return nil
	}
	v, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	d.Duration = v
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// IsZero lets omitempty drop an unset timeout.
func (d Duration) IsZero() bool { return d.Duration == 0 }

// LoadConfig reads, decodes, and validates a run configuration.
//
//nolint:gosec // config path is explicit operator input.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes one strict YAML document and validates it.
func ParseConfig(data []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var c Config
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("decode config yaml: %w", err)
	}
	if err := ensureSingleYAMLDocument(dec); err != nil {
		return nil, fmt.Errorf("decode config yaml: %w", err)
	}
	if err := ValidateConfig(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func ensureSingleYAMLDocument(dec *yaml.Decoder) error {
	var trailing yaml.Node
	if err := dec.Decode(&trailing); !errors.Is(err, io.EOF) {
		if err == nil {
			return fmt.Errorf("unexpected trailing yaml document")
		}
		return fmt.Errorf("decode trailing yaml document: %w", err)
	}
	return nil
}

// ValidateConfig checks the configuration before any suite is built.
//
//nolint:gocyclo,cyclop // validation stays flat so each failure names its field.
func ValidateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if c.Version != ConfigVersion {
		return fmt.Errorf("unsupported config version %q (want %q)", c.Version, ConfigVersion)
	}
	if strings.TrimSpace(c.Tool) == "" {
		return fmt.Errorf("tool is required")
	}
	if len(c.Launcher) > 0 && strings.TrimSpace(c.Launcher[0]) == "" {
		return fmt.Errorf("launcher command is empty")
	}
	if c.Timeout.Duration < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if len(c.Suites) == 0 {
		return fmt.Errorf("config must include at least one suite")
	}
	seen := make(map[string]struct{}, len(c.Suites))
	for i := range c.Suites {
		s := &c.Suites[i]
		if s.Name == "" {
			return fmt.Errorf("suite[%d] name is required", i)
		}
		if _, ok := seen[s.Name]; ok {
			return fmt.Errorf("duplicate suite name: %s", s.Name)
		}
		seen[s.Name] = struct{}{}

		switch optspace.TargetKind(s.Target) {
		case optspace.Library, optspace.Plugin:
		default:
			return fmt.Errorf("suite %s: invalid target %q", s.Name, s.Target)
		}
		if _, err := oracle.BuiltinTable(s.Table); err != nil {
			return fmt.Errorf("suite %s: %w", s.Name, err)
		}
		switch s.Verify {
		case VerifyInline:
		case VerifyPostBuild, VerifyGenerate:
			if s.Layout.Image == "" {
				return fmt.Errorf("suite %s: layout.image is required for %s verification", s.Name, s.Verify)
			}
		default:
			return fmt.Errorf("suite %s: invalid verify mode %q", s.Name, s.Verify)
		}
		if s.UseReferenceTool && strings.TrimSpace(c.ReferenceTool) == "" {
			return fmt.Errorf("suite %s: reference_tool is required", s.Name)
		}
		if s.Layout.DefaultDSO == "" {
			return fmt.Errorf("suite %s: layout.default_dso is required", s.Name)
		}
		if !strings.Contains(s.Layout.DSO, TokenCode) {
			return fmt.Errorf("suite %s: layout.dso must contain %s", s.Name, TokenCode)
		}
		if s.Layout.Image != "" && !strings.Contains(s.Layout.Image, TokenCode) {
			return fmt.Errorf("suite %s: layout.image must contain %s", s.Name, TokenCode)
		}
		if strings.Contains(s.Layout.DefaultDSO, TokenCode) || strings.Contains(s.Layout.DefaultDSO, TokenOrdinal) {
			return fmt.Errorf("suite %s: layout.default_dso cannot be templated", s.Name)
		}
		if len(s.Args) == 0 {
			return fmt.Errorf("suite %s: args are required", s.Name)
		}
		if s.DefFile == "" {
			return fmt.Errorf("suite %s: def_file is required for %s", s.Name, optspace.DefInput.Option())
		}
		for kind := range s.References {
			if kind != string(oracle.KindDSO) && kind != string(oracle.KindImage) {
				return fmt.Errorf("suite %s: unknown reference kind %q", s.Name, kind)
			}
		}
	}
	return nil
}

// Suite returns the named suite configuration.
func (c *Config) Suite(name string) (SuiteConfig, bool) {
	for _, s := range c.Suites {
		if s.Name == name {
			return s, true
		}
	}
	return SuiteConfig{}, false
}

// SelectSuites resolves names in order; no names selects every suite that is
// not on demand.
func (c *Config) SelectSuites(names []string) ([]SuiteConfig, error) {
	if len(names) == 0 {
		var out []SuiteConfig
		for _, s := range c.Suites {
			if !s.OnDemand {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("no suite runs by default; select one by name")
		}
		return out, nil
	}
	out := make([]SuiteConfig, 0, len(names))
	for _, name := range names {
		s, ok := c.Suite(name)
		if !ok {
			return nil, fmt.Errorf("unknown suite %q", name)
		}
		out = append(out, s)
	}
	return out, nil
}

// Digest is the SHA-256 of the configuration's canonical YAML encoding.
func (c *Config) Digest() (string, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("marshal config: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// MarshalConfig renders c as YAML.
func MarshalConfig(c *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode config yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config yaml: %w", err)
	}
	return buf.Bytes(), nil
}

// Expand substitutes the template tokens for one combination.
func Expand(tmpl string, c optspace.Combination) string {
	if tmpl == "" {
		return ""
	}
	r := strings.NewReplacer(TokenOrdinal, fmt.Sprintf("%02d", c.Ordinal), TokenCode, c.Code)
	return r.Replace(tmpl)
}
