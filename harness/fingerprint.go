package harness

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/lattice-substrate/e32-torture/oracle"
	"github.com/lattice-substrate/e32-torture/runtime/executil"
	"github.com/lattice-substrate/e32-torture/tortureerr"
)

// ValidationFailedMarker is what elf2e32 prints when --filecrc= disagrees
// with the build.
const ValidationFailedMarker = "CRC32 validation failed"

// ValidationFailed reports whether tool output carries the mismatch marker.
func ValidationFailed(output string) bool {
	return strings.Contains(output, ValidationFailedMarker)
}

// Record is one "name = 0xHEX" line of a fingerprint file.
type Record struct {
	Name  string
	Value uint32
}

func (r Record) String() string { return fmt.Sprintf("%s = 0x%08x", r.Name, r.Value) }

// ParseFingerprint decodes a fingerprint file. Blank lines are ignored and the
// value may omit its 0x prefix.
func ParseFingerprint(data []byte) ([]Record, error) {
	var out []Record
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		name, value, ok := strings.Cut(text, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: delimiter '=' not found", line)
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if name == "" {
			return nil, fmt.Errorf("line %d: empty checksum name", line)
		}
		value = strings.TrimPrefix(strings.TrimPrefix(value, "0x"), "0X")
		v, err := strconv.ParseUint(value, 16, 32)
		if err != nil {
			return nil, fmt.Errorf("line %d: checksum %q: %w", line, value, err)
		}
		out = append(out, Record{Name: name, Value: uint32(v)})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan fingerprint: %w", err)
	}
	return out, nil
}

// Fingerprinter generates fingerprint files with the tool's --filecrc mode.
type Fingerprinter struct {
	Exec    executil.CommandRunner
	Tool    string
	Options executil.Options
}

// Generate writes the fingerprint of artifact beside it and returns its path.
// An existing file at that path is removed first: the tool validates against a
// fingerprint file it finds instead of rewriting it.
func (f Fingerprinter) Generate(ctx context.Context, kind oracle.Kind, artifact string) (string, error) {
	var input string
	switch kind {
	case oracle.KindDSO:
		input = "--dso=" + artifact
	case oracle.KindImage:
		input = "--e32input=" + artifact
	default:
		return "", fmt.Errorf("unknown fingerprint kind %q", kind)
	}
	out := withExt(artifact, kind.Ext())
	if err := os.Remove(resolve(f.Options.Dir, out)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", tortureerr.Wrap(tortureerr.InternalIO, "", "remove stale fingerprint "+out, err)
	}
	res, err := f.Exec.Run(ctx, []string{f.Tool, "--filecrc", input}, f.Options)
	if err != nil {
		return "", tortureerr.Wrap(tortureerr.InvocationFailure, "", "generate "+string(kind)+" fingerprint", err)
	}
	if res.ExitCode != 0 {
		return "", tortureerr.Newf(tortureerr.InvocationFailure, "", "generate %s fingerprint: exit %d: %s", kind, res.ExitCode, lastLine(res.Output))
	}
	if _, err := os.Stat(resolve(f.Options.Dir, out)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", tortureerr.Newf(tortureerr.MissingArtifact, "", "%s fingerprint %s was not written", kind, out)
		}
		return "", fmt.Errorf("stat fingerprint: %w", err)
	}
	return out, nil
}

// CompareFingerprint checks produced against reference for byte identity.
// Paths resolve against dir.
func CompareFingerprint(dir, produced, reference string) error {
	got, err := os.ReadFile(resolve(dir, produced))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return tortureerr.Newf(tortureerr.MissingArtifact, "", "fingerprint %s is missing", produced)
		}
		return fmt.Errorf("read fingerprint: %w", err)
	}
	want, err := os.ReadFile(resolve(dir, reference))
	if err != nil {
		return tortureerr.Wrap(tortureerr.ConfigMismatch, "", "read reference "+reference, err)
	}
	if bytes.Equal(got, want) {
		return nil
	}
	return tortureerr.New(tortureerr.FingerprintMismatch, "", fmt.Sprintf("%s differs from %s: %s", produced, reference, describeDiff(got, want)))
}

func describeDiff(got, want []byte) string {
	g, gerr := ParseFingerprint(got)
	w, werr := ParseFingerprint(want)
	if gerr != nil || werr != nil {
		return "unparsable fingerprint content"
	}
	byName := make(map[string]uint32, len(w))
	for _, r := range w {
		byName[r.Name] = r.Value
	}
	var diffs []string
	for _, r := range g {
		v, ok := byName[r.Name]
		switch {
		case !ok:
			diffs = append(diffs, "unexpected "+r.Name)
		case v != r.Value:
			diffs = append(diffs, fmt.Sprintf("%s 0x%08x != 0x%08x", r.Name, r.Value, v))
		}
		delete(byName, r.Name)
	}
	for _, r := range w {
		if _, ok := byName[r.Name]; ok {
			diffs = append(diffs, "missing "+r.Name)
		}
	}
	if len(diffs) == 0 {
		return "records equal, bytes differ"
	}
	return strings.Join(diffs, ", ")
}

func lastLine(output string) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
