package harness

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/lattice-substrate/e32-torture/oracle"
	"github.com/lattice-substrate/e32-torture/tortureerr"
)

// Drainer owns the default DSO path. elf2e32 writes the import library and its
// fingerprints there whatever the options, so the path must be empty again
// before the next build starts.
type Drainer struct {
	Dir        string
	DefaultDSO string
}

// Drain moves the default DSO to dest, replacing any stale file, and takes the
// fingerprint files written beside it along when present. A fingerprint left at
// dest by an earlier build is removed when this build wrote none. It returns
// the destinations relative to Dir.
func (d Drainer) Drain(dest string) ([]string, error) {
	src := d.DefaultDSO
	if _, err := os.Stat(d.abs(src)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, tortureerr.Newf(tortureerr.MissingArtifact, "", "default DSO %s was not written", src)
		}
		return nil, fmt.Errorf("stat default DSO: %w", err)
	}
	if err := d.move(src, dest); err != nil {
		return nil, err
	}
	moved := []string{dest}
	for _, kind := range oracle.Kinds() {
		from := withExt(src, kind.Ext())
		to := withExt(dest, kind.Ext())
		if _, err := os.Stat(d.abs(from)); err != nil {
			if err := os.Remove(d.abs(to)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return moved, fmt.Errorf("remove stale %s: %w", to, err)
			}
			continue
		}
		if err := d.move(from, to); err != nil {
			return moved, err
		}
		moved = append(moved, to)
	}
	return moved, nil
}

// Discard removes whatever a failed build left at the default path.
func (d Drainer) Discard() error {
	var errs []error
	for _, p := range d.defaults() {
		if err := os.Remove(d.abs(p)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pending lists the default outputs currently present.
func (d Drainer) Pending() []string {
	var out []string
	for _, p := range d.defaults() {
		if _, err := os.Stat(d.abs(p)); err == nil {
			out = append(out, p)
		}
	}
	return out
}

func (d Drainer) defaults() []string {
	out := []string{d.DefaultDSO}
	for _, kind := range oracle.Kinds() {
		out = append(out, withExt(d.DefaultDSO, kind.Ext()))
	}
	return out
}

func (d Drainer) move(from, to string) error {
	dst := d.abs(to)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create destination dir: %w", err)
	}
	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove stale %s: %w", to, err)
	}
	if err := os.Rename(d.abs(from), dst); err != nil {
		return fmt.Errorf("move %s to %s: %w", from, to, err)
	}
	return nil
}

func (d Drainer) abs(p string) string {
	return resolve(d.Dir, p)
}

func resolve(dir, p string) string {
	if filepath.IsAbs(p) || dir == "" {
		return p
	}
	return filepath.Join(dir, p)
}

func withExt(p, ext string) string {
	return strings.TrimSuffix(p, filepath.Ext(p)) + ext
}
