// Package target keeps remote records in sync with the observed value.
//
// Targets have no notion of "gone": every failure is reported and logged by
// the caller, and the next change tries again.
package target

import (
	"context"
	"fmt"
)

// Applier writes value into the remote record identified by id.
type Applier interface {
	Apply(ctx context.Context, id, value string) error
}

// Stage names the half of the read-then-write pair that failed.
type Stage string

const (
	StageRead  Stage = "read"
	StageWrite Stage = "write"
)

// UpdateError reports one failed target.
type UpdateError struct {
	ID    string
	Stage Stage
	Err   error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("target %s: %s: %v", e.ID, e.Stage, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }

// Nop accepts every update. Used when no provider is configured.
type Nop struct{}

func (Nop) Apply(context.Context, string, string) error { return nil }
