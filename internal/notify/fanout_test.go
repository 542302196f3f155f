package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "ipwatch/pkg/logx"
)

type fakeDirect struct {
	mu    sync.Mutex
	sent  []string
	fails map[string]error
}

func (f *fakeDirect) SendDirect(ctx context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fails[to]; err != nil {
		return err
	}
	f.sent = append(f.sent, to)
	return nil
}

type fakeChannel struct {
	posts []string
	err   error
}

func (f *fakeChannel) Broadcast(ctx context.Context, text string) error {
	if f.err != nil {
		return f.err
	}
	f.posts = append(f.posts, text)
	return nil
}

type fakePruner struct {
	got [][]string
	err error
}

func (f *fakePruner) Prune(ctx context.Context, ids []string) (int, error) {
	f.got = append(f.got, append([]string(nil), ids...))
	if f.err != nil {
		return 0, f.err
	}
	return len(ids), nil
}

func TestClassification(t *testing.T) {
	t.Parallel()
	base := errors.New("chat not found")
	assert.True(t, IsPermanent(Permanent(base)))
	assert.False(t, IsPermanent(Transient(base)))
	assert.False(t, IsPermanent(base))
	assert.ErrorIs(t, Permanent(base), base)
	assert.Nil(t, Permanent(nil))
	assert.Contains(t, Permanent(base).Error(), "permanent")
}

func TestDeliverIsolatesPartialFailure(t *testing.T) {
	t.Parallel()
	direct := &fakeDirect{fails: map[string]error{"2": Permanent(errors.New("user deactivated"))}}
	channel := &fakeChannel{}
	pruner := &fakePruner{}
	f := NewFanout(Config{RatePerSec: 1000}, direct, channel, pruner, logx.Nop())

	rep := f.Deliver(context.Background(), []string{"1", "2", "3"}, "changed")

	assert.Equal(t, []string{"1", "3"}, direct.sent)
	assert.Equal(t, []string{"2"}, rep.Pruned)
	assert.Equal(t, [][]string{{"2"}}, pruner.got)
	assert.Equal(t, 3, rep.Attempted)
	assert.Equal(t, 2, rep.Delivered)
	assert.Equal(t, 1, rep.Failed)
	assert.True(t, rep.Broadcast)
	assert.Equal(t, []string{"changed"}, channel.posts)
}

func TestDeliverTransientFailureIsNotPruned(t *testing.T) {
	t.Parallel()
	direct := &fakeDirect{fails: map[string]error{"1": errors.New("timeout")}}
	pruner := &fakePruner{}
	f := NewFanout(Config{RatePerSec: 1000}, direct, nil, pruner, logx.Nop())

	rep := f.Deliver(context.Background(), []string{"1", "2"}, "x")
	assert.Empty(t, pruner.got)
	assert.Empty(t, rep.Pruned)
	assert.Equal(t, 1, rep.Delivered)
	assert.False(t, rep.Broadcast)
}

func TestDeliverBroadcastFailureDoesNotAffectSubscribers(t *testing.T) {
	t.Parallel()
	direct := &fakeDirect{}
	channel := &fakeChannel{err: Permanent(errors.New("chat not found"))}
	f := NewFanout(Config{RatePerSec: 1000}, direct, channel, nil, logx.Nop())

	rep := f.Deliver(context.Background(), []string{"1", "2"}, "x")
	assert.Equal(t, 2, rep.Delivered)
	require.Error(t, rep.BroadcastErr)
	assert.False(t, rep.Broadcast)
}

func TestDeliverPruneFailureIsReported(t *testing.T) {
	t.Parallel()
	direct := &fakeDirect{fails: map[string]error{"1": Permanent(errors.New("blocked"))}}
	pruner := &fakePruner{err: errors.New("disk full")}
	f := NewFanout(Config{RatePerSec: 1000}, direct, nil, pruner, logx.Nop())

	rep := f.Deliver(context.Background(), []string{"1"}, "x")
	assert.Error(t, rep.PruneErr)
	assert.Empty(t, rep.Pruned)
}

type slowDirect struct{}

func (slowDirect) SendDirect(ctx context.Context, to, text string) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestDeliverBoundsEachSend(t *testing.T) {
	t.Parallel()
	f := NewFanout(Config{Timeout: 20 * time.Millisecond, RatePerSec: 1000}, slowDirect{}, nil, nil, logx.Nop())

	start := time.Now()
	rep := f.Deliver(context.Background(), []string{"1", "2"}, "x")
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 2, rep.Failed)
}

// hangingDirect blocks each send until its context ends and records who was tried.
type hangingDirect struct {
	mu    sync.Mutex
	tried []string
}

func (h *hangingDirect) SendDirect(ctx context.Context, to, text string) error {
	h.mu.Lock()
	h.tried = append(h.tried, to)
	h.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func TestDeliverOutlivesCallerDeadline(t *testing.T) {
	t.Parallel()
	direct := &hangingDirect{}
	ch := &fakeChannel{}
	f := NewFanout(Config{Timeout: 30 * time.Millisecond, RatePerSec: 1000}, direct, ch, nil, logx.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	rep := f.Deliver(ctx, []string{"1", "2", "3", "4", "5"}, "x")

	require.Error(t, ctx.Err())
	assert.Equal(t, []string{"1", "2", "3", "4", "5"}, direct.tried)
	assert.Equal(t, 5, rep.Attempted)
	assert.Equal(t, 5, rep.Failed)
	assert.True(t, rep.Broadcast)
	assert.Equal(t, []string{"x"}, ch.posts)
}

func TestDeliverWithCancelledCaller(t *testing.T) {
	t.Parallel()
	direct := &fakeDirect{}
	ch := &fakeChannel{}
	f := NewFanout(Config{RatePerSec: 1000}, direct, ch, nil, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rep := f.Deliver(ctx, []string{"1", "2"}, "x")
	assert.Equal(t, []string{"1", "2"}, direct.sent)
	assert.Equal(t, 2, rep.Delivered)
	assert.True(t, rep.Broadcast)
}
