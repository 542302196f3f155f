// Package detector runs one poll, compare, persist, notify, update cycle.
package detector

import (
	"time"

	"ipwatch/internal/notify"
)

// Phase is the position of the running cycle.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseResolving
	PhaseComparing
	PhasePersisting
	PhaseNotifying
	PhaseUpdating
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseResolving:
		return "resolving"
	case PhaseComparing:
		return "comparing"
	case PhasePersisting:
		return "persisting"
	case PhaseNotifying:
		return "notifying"
	case PhaseUpdating:
		return "updating"
	default:
		return "unknown"
	}
}

// Outcome is how a cycle ended.
type Outcome string

const (
	OutcomeUnchanged     Outcome = "unchanged"
	OutcomeChanged       Outcome = "changed"
	OutcomeResolveFailed Outcome = "resolve_failed"
	OutcomePersistFailed Outcome = "persist_failed"
)

// ChangeEvent describes a durably recorded change. Old is empty on the first
// observation.
type ChangeEvent struct {
	Old string
	New string
	At  time.Time
}

func (e ChangeEvent) First() bool { return e.Old == "" }

// Result summarizes one cycle.
type Result struct {
	ID      string
	Outcome Outcome
	Value   string
	Event   *ChangeEvent
	// Err is the error that ended the cycle early, if any.
	Err error

	Delivery      notify.Report
	TargetsOK     int
	TargetsFailed int

	Took time.Duration
}
