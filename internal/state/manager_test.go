package state

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "ipwatch/pkg/logx"
)

// memStore is an in-memory Store with switchable failures.
type memStore struct {
	mu      sync.Mutex
	rec     Record
	loadErr error
	saveErr error
	saves   int
}

func (s *memStore) Load(context.Context) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return Record{}, s.loadErr
	}
	return s.rec.Clone(), nil
}

func (s *memStore) Save(_ context.Context, r Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saves++
	s.rec = r.Clone()
	return nil
}

func (s *memStore) Close() error { return nil }

func TestManagerLoadCorruptStartsEmpty(t *testing.T) {
	t.Parallel()
	st := &memStore{loadErr: errors.Join(ErrCorruptState, errors.New("bad byte"))}
	m := NewManager(st, logx.Nop())
	require.NoError(t, m.Load(context.Background()))
	assert.Empty(t, m.LastValue())
}

func TestManagerLoadIOErrorIsReturned(t *testing.T) {
	t.Parallel()
	st := &memStore{loadErr: errors.New("permission denied")}
	m := NewManager(st, logx.Nop())
	assert.Error(t, m.Load(context.Background()))
}

func TestManagerUpdateRollsBackOnSaveFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := &memStore{rec: Record{LastValue: "1.1.1.1"}}
	m := NewManager(st, logx.Nop())
	require.NoError(t, m.Load(ctx))

	st.saveErr = &PersistenceError{Driver: "mem", Op: "save", Err: errors.New("disk full")}
	err := m.Update(ctx, func(r *Record) bool {
		r.LastValue = "2.2.2.2"
		return true
	})
	var pe *PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "1.1.1.1", m.LastValue())

	st.saveErr = errors.New("untyped")
	err = m.Update(ctx, func(r *Record) bool {
		r.LastValue = "3.3.3.3"
		return true
	})
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "1.1.1.1", m.LastValue())
}

func TestManagerUpdateNoChangeSkipsSave(t *testing.T) {
	t.Parallel()
	st := &memStore{}
	m := NewManager(st, logx.Nop())
	require.NoError(t, m.Update(context.Background(), func(*Record) bool { return false }))
	assert.Zero(t, st.saves)
}

func TestManagerSnapshotIsACopy(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := NewManager(&memStore{}, logx.Nop())
	require.NoError(t, m.Update(ctx, func(r *Record) bool {
		r.Subscribers = append(r.Subscribers, "b", "a")
		return true
	}))
	snap := m.Snapshot()
	snap.Subscribers[0] = "mutated"
	assert.Equal(t, []string{"a", "b"}, m.Subscribers())
}

func TestManagerSeedTargets(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := &memStore{rec: Record{Targets: []string{"old"}}}
	m := NewManager(st, logx.Nop())
	require.NoError(t, m.Load(ctx))

	require.NoError(t, m.SeedTargets(ctx, nil))
	assert.Equal(t, []string{"old"}, m.Targets())

	require.NoError(t, m.SeedTargets(ctx, []string{"r1", "r2", "r1"}))
	assert.Equal(t, []string{"r1", "r2", "r1"}, m.Targets())
	assert.Equal(t, 1, st.saves)

	require.NoError(t, m.SeedTargets(ctx, []string{"r1", "r2", "r1"}))
	assert.Equal(t, 1, st.saves)
}
