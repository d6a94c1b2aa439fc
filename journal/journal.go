// Package journal persists finished torture cases so an interrupted run can
// resume where it stopped.
package journal

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/timshannon/badgerhold/v4"
	"go.uber.org/zap"

	"github.com/lattice-substrate/e32-torture/harness"
	"github.com/lattice-substrate/e32-torture/tortureerr"
)

const metaKey = "meta"

// Meta identifies the run a journal belongs to. Recorded outcomes are only
// valid for the same tool binary and configuration.
type Meta struct {
	RunID        string
	ToolSHA256   string
	ConfigSHA256 string
	CreatedAt    time.Time
}

type entry struct {
	Key        string
	Outcome    harness.Outcome
	RecordedAt time.Time
}

// Journal is a badgerhold-backed harness.Journal.
type Journal struct {
	store  *badgerhold.Store
	logger *zap.Logger
	dir    string
	now    func() time.Time
}

var _ harness.Journal = (*Journal)(nil)

// Open opens or creates the journal stored in dir.
func Open(dir string, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, tortureerr.Wrap(tortureerr.InternalIO, "", "create journal directory", err)
	}

	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, tortureerr.Wrap(tortureerr.InternalIO, "", "open journal "+dir, err)
	}
	logger.Debug("journal opened", zap.String("dir", dir))
	return &Journal{store: store, logger: logger, dir: dir, now: time.Now}, nil
}

// Close releases the store.
func (j *Journal) Close() error {
	if j.store == nil {
		return nil
	}
	if err := j.store.Close(); err != nil {
		return tortureerr.Wrap(tortureerr.InternalIO, "", "close journal", err)
	}
	return nil
}

// Bind attaches the journal to a run. Without resume every recorded outcome
// is dropped. With resume the stored meta must match m; a journal written by
// another tool binary or configuration is refused.
func (j *Journal) Bind(m Meta, resume bool) error {
	var stored Meta
	err := j.store.Get(metaKey, &stored)
	switch {
	case errors.Is(err, badgerhold.ErrNotFound):
	case err != nil:
		return tortureerr.Wrap(tortureerr.InternalIO, "", "read journal meta", err)
	case resume:
		if stored.ToolSHA256 != m.ToolSHA256 {
			return tortureerr.Newf(tortureerr.ConfigMismatch, "",
				"journal %s was recorded for tool %s, not %s", j.dir, short(stored.ToolSHA256), short(m.ToolSHA256))
		}
		if stored.ConfigSHA256 != m.ConfigSHA256 {
			return tortureerr.Newf(tortureerr.ConfigMismatch, "",
				"journal %s was recorded for config %s, not %s", j.dir, short(stored.ConfigSHA256), short(m.ConfigSHA256))
		}
		n, err := j.Len()
		if err != nil {
			return err
		}
		j.logger.Info("resuming journal", zap.String("dir", j.dir), zap.String("run_id", stored.RunID), zap.Int("recorded", n))
		return nil
	}

	if !resume {
		if err := j.Reset(); err != nil {
			return err
		}
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = j.now().UTC()
	}
	if err := j.store.Upsert(metaKey, m); err != nil {
		return tortureerr.Wrap(tortureerr.InternalIO, "", "write journal meta", err)
	}
	return nil
}

// Lookup returns the recorded outcome of suite/code.
func (j *Journal) Lookup(suite, code string) (harness.Outcome, bool, error) {
	var e entry
	err := j.store.Get(key(suite, code), &e)
	if errors.Is(err, badgerhold.ErrNotFound) {
		return harness.Outcome{}, false, nil
	}
	if err != nil {
		return harness.Outcome{}, false, tortureerr.Wrap(tortureerr.InternalIO, code, "read journal entry", err)
	}
	return e.Outcome, true, nil
}

// Record stores o, replacing an earlier outcome of the same case.
func (j *Journal) Record(o harness.Outcome) error {
	k := key(o.Suite, o.Code)
	o.Resumed = false
	if err := j.store.Upsert(k, entry{Key: k, Outcome: o, RecordedAt: j.now().UTC()}); err != nil {
		return tortureerr.Wrap(tortureerr.InternalIO, o.Code, "write journal entry", err)
	}
	return nil
}

// Len counts the recorded outcomes.
func (j *Journal) Len() (int, error) {
	n, err := j.store.Count(&entry{}, nil)
	if err != nil {
		return 0, tortureerr.Wrap(tortureerr.InternalIO, "", "count journal entries", err)
	}
	return int(n), nil
}

// Outcomes returns every recorded outcome ordered by key.
func (j *Journal) Outcomes() ([]harness.Outcome, error) {
	var entries []entry
	if err := j.store.Find(&entries, badgerhold.Where("Key").Ne("").SortBy("Key")); err != nil {
		return nil, tortureerr.Wrap(tortureerr.InternalIO, "", "list journal entries", err)
	}
	out := make([]harness.Outcome, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Outcome)
	}
	return out, nil
}

// Reset drops every recorded outcome.
func (j *Journal) Reset() error {
	if err := j.store.DeleteMatching(&entry{}, nil); err != nil {
		return tortureerr.Wrap(tortureerr.InternalIO, "", "reset journal", err)
	}
	return nil
}

func key(suite, code string) string {
	return fmt.Sprintf("%s/%s", suite, code)
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	if sum == "" {
		return "(none)"
	}
	return sum
}
