// Package subscription is the set of identities that receive direct change
// notifications. The set lives in the state record; every edit is persisted
// before the call returns.
package subscription

import (
	"context"
	"errors"
	"slices"
	"strings"

	"ipwatch/internal/state"
	logx "ipwatch/pkg/logx"
)

var ErrEmptyID = errors.New("subscription: empty subscriber id")

type Registry struct {
	state *state.Manager
	log   logx.Logger
}

func New(m *state.Manager, log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{state: m, log: log}
}

// Subscribe adds id. already is true when id was a member; the set and the
// store are left untouched in that case.
func (r *Registry) Subscribe(ctx context.Context, id string) (already bool, err error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, ErrEmptyID
	}
	err = r.state.Update(ctx, func(rec *state.Record) bool {
		if rec.HasSubscriber(id) {
			already = true
			return false
		}
		rec.Subscribers = append(rec.Subscribers, id)
		return true
	})
	if err != nil {
		return false, err
	}
	if !already {
		r.log.Info("subscriber added", logx.String("id", id))
	}
	return already, nil
}

// Unsubscribe removes id. removed is false when id was not a member.
func (r *Registry) Unsubscribe(ctx context.Context, id string) (removed bool, err error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, ErrEmptyID
	}
	err = r.state.Update(ctx, func(rec *state.Record) bool {
		i, ok := slices.BinarySearch(rec.Subscribers, id)
		if !ok {
			return false
		}
		rec.Subscribers = slices.Delete(rec.Subscribers, i, i+1)
		removed = true
		return true
	})
	if err != nil {
		return false, err
	}
	if removed {
		r.log.Info("subscriber removed", logx.String("id", id))
	}
	return removed, nil
}

// List returns the current members in stable (sorted) order.
func (r *Registry) List() []string {
	return r.state.Subscribers()
}

// Prune drops every id in invalid that is still a member, in one write.
func (r *Registry) Prune(ctx context.Context, invalid []string) (int, error) {
	if len(invalid) == 0 {
		return 0, nil
	}
	drop := make(map[string]struct{}, len(invalid))
	for _, id := range invalid {
		drop[id] = struct{}{}
	}
	n := 0
	err := r.state.Update(ctx, func(rec *state.Record) bool {
		before := len(rec.Subscribers)
		rec.Subscribers = slices.DeleteFunc(rec.Subscribers, func(id string) bool {
			_, ok := drop[id]
			return ok
		})
		n = before - len(rec.Subscribers)
		return n > 0
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.log.Warn("pruned unreachable subscribers", logx.Int("count", n), logx.Strings("ids", invalid))
	}
	return n, nil
}
