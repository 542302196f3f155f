// Package state owns the durable record behind the watcher: the last observed
// value, the subscriber set and the update targets.
//
// Drivers:
//   - "file": JSON document replaced with write-temp-then-rename
//   - "sqlite": single-row table in a SQLite database file
//   - "postgres": single-row table in Postgres (pgx)
//   - "s3": one JSON object in an S3-compatible bucket
//
// Every driver either replaces the whole record or fails; partial writes are
// never visible to the next Load.
package state

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// ErrCorruptState is returned (wrapped) by Load when the backing data cannot
// be decoded. Callers start from an empty record and log a warning.
var ErrCorruptState = errors.New("state: corrupt record")

// PersistenceError reports a save that could not be committed.
type PersistenceError struct {
	Driver string
	Op     string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("state %s %s: %v", e.Driver, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Config selects and configures a driver.
type Config struct {
	Driver string

	// file, sqlite
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// postgres
	DSN string

	// s3
	Bucket    string
	Key       string
	Region    string
	Endpoint  string
	PathStyle bool
}

// Record is the persisted state. LastValue == "" means nothing observed yet.
type Record struct {
	LastValue   string    `json:"last_value,omitempty"`
	ChangedAt   time.Time `json:"changed_at,omitzero"`
	Subscribers []string  `json:"subscribers"`
	Targets     []string  `json:"targets"`
}

// Clone returns a deep copy so callers never alias the manager's slices.
func (r Record) Clone() Record {
	cp := r
	cp.Subscribers = slices.Clone(r.Subscribers)
	cp.Targets = slices.Clone(r.Targets)
	if cp.Subscribers == nil {
		cp.Subscribers = []string{}
	}
	if cp.Targets == nil {
		cp.Targets = []string{}
	}
	return cp
}

// normalize enforces set semantics on subscribers (sorted, unique, no blanks).
// Targets keep operator order and duplicates.
func (r Record) normalize() Record {
	out := r.Clone()
	subs := make([]string, 0, len(out.Subscribers))
	for _, s := range out.Subscribers {
		if s != "" {
			subs = append(subs, s)
		}
	}
	slices.Sort(subs)
	out.Subscribers = slices.Compact(subs)
	return out
}

// HasSubscriber reports set membership.
func (r Record) HasSubscriber(id string) bool {
	_, ok := slices.BinarySearch(r.Subscribers, id)
	return ok
}
