package subscription

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ipwatch/internal/state"
	logx "ipwatch/pkg/logx"
)

type flakyStore struct {
	state.Store
	fail bool
}

func (f *flakyStore) Save(ctx context.Context, r state.Record) error {
	if f.fail {
		return &state.PersistenceError{Driver: "test", Op: "save", Err: errors.New("read-only filesystem")}
	}
	return f.Store.Save(ctx, r)
}

func newRegistry(t *testing.T) (*Registry, *flakyStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	st, err := state.Open(context.Background(), state.Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	fs := &flakyStore{Store: st}
	m := state.NewManager(fs, logx.Nop())
	require.NoError(t, m.Load(context.Background()))
	return New(m, logx.Nop()), fs, path
}

func reload(t *testing.T, path string) state.Record {
	t.Helper()
	st, err := state.Open(context.Background(), state.Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	rec, err := st.Load(context.Background())
	require.NoError(t, err)
	return rec
}

func TestSubscribeIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, _, path := newRegistry(t)

	already, err := reg.Subscribe(ctx, "42")
	require.NoError(t, err)
	assert.False(t, already)

	already, err = reg.Subscribe(ctx, "42")
	require.NoError(t, err)
	assert.True(t, already)

	assert.Equal(t, []string{"42"}, reg.List())
	assert.Equal(t, []string{"42"}, reload(t, path).Subscribers)
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, _, path := newRegistry(t)
	_, err := reg.Subscribe(ctx, "1")
	require.NoError(t, err)

	removed, err := reg.Unsubscribe(ctx, "2")
	require.NoError(t, err)
	assert.False(t, removed)
	assert.Equal(t, []string{"1"}, reg.List())

	removed, err = reg.Unsubscribe(ctx, "1")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, reg.List())
	assert.Empty(t, reload(t, path).Subscribers)
}

func TestMutationFailsWhenPersistFails(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, fs, _ := newRegistry(t)
	fs.fail = true

	_, err := reg.Subscribe(ctx, "9")
	var pe *state.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Empty(t, reg.List())
}

func TestPrune(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	reg, _, path := newRegistry(t)
	for _, id := range []string{"1", "2", "3"} {
		_, err := reg.Subscribe(ctx, id)
		require.NoError(t, err)
	}

	n, err := reg.Prune(ctx, []string{"2", "404"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"1", "3"}, reg.List())
	assert.Equal(t, []string{"1", "3"}, reload(t, path).Subscribers)

	n, err = reg.Prune(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEmptyID(t *testing.T) {
	t.Parallel()
	reg, _, _ := newRegistry(t)
	_, err := reg.Subscribe(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyID)
}
