package state

import (
	"context"
	"errors"
	"slices"
	"sync"

	logx "ipwatch/pkg/logx"
)

// Manager owns the in-memory Record and is the only writer of the Store.
//
// All reads and mutations go through one mutex. A mutation is acknowledged
// only after the Store accepted it; on failure the in-memory copy is rolled
// back so memory never runs ahead of disk.
type Manager struct {
	mu    sync.Mutex
	store Store
	rec   Record
	log   logx.Logger
}

func NewManager(store Store, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{store: store, rec: Record{}.Clone(), log: log}
}

// Load reads the record once at startup. Corrupt data starts from an empty
// record with a warning; any other error is returned.
func (m *Manager) Load(ctx context.Context) error {
	rec, err := m.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, ErrCorruptState) {
			return err
		}
		m.log.Warn("state record is corrupt; starting empty", logx.Err(err))
		rec = Record{}.Clone()
	}
	m.mu.Lock()
	m.rec = rec.normalize()
	m.mu.Unlock()
	m.log.Info("state loaded",
		logx.String("last_value", rec.LastValue),
		logx.Int("subscribers", len(rec.Subscribers)),
		logx.Int("targets", len(rec.Targets)),
	)
	return nil
}

// Snapshot returns a deep copy of the current record.
func (m *Manager) Snapshot() Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.Clone()
}

func (m *Manager) LastValue() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rec.LastValue
}

func (m *Manager) Subscribers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.rec.Subscribers)
}

func (m *Manager) Targets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.rec.Targets)
}

// Update applies fn to a copy of the record under the lock. If fn reports a
// change, the copy is saved and only then becomes current. fn must not block.
func (m *Manager) Update(ctx context.Context, fn func(r *Record) bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.rec.Clone()
	if !fn(&next) {
		return nil
	}
	next = next.normalize()
	if err := m.store.Save(ctx, next); err != nil {
		var pe *PersistenceError
		if !errors.As(err, &pe) {
			err = &PersistenceError{Driver: "unknown", Op: "save", Err: err}
		}
		return err
	}
	m.rec = next
	return nil
}

// SeedTargets replaces the persisted target list with the operator's
// configured list when it differs. An empty list keeps what is stored.
func (m *Manager) SeedTargets(ctx context.Context, targets []string) error {
	if len(targets) == 0 {
		return nil
	}
	return m.Update(ctx, func(r *Record) bool {
		if slices.Equal(r.Targets, targets) {
			return false
		}
		r.Targets = slices.Clone(targets)
		return true
	})
}
