// Package notify delivers change messages to subscribers and the broadcast
// channel, classifying each failure as permanent (recipient gone) or
// transient.
package notify

import (
	"context"
	"errors"
	"fmt"
)

// DirectSink sends a message to one subscriber.
type DirectSink interface {
	SendDirect(ctx context.Context, to, text string) error
}

// ChannelSink posts a message to the configured broadcast channel.
type ChannelSink interface {
	Broadcast(ctx context.Context, text string) error
}

// Pruner removes subscribers that can no longer be reached.
type Pruner interface {
	Prune(ctx context.Context, ids []string) (int, error)
}

// DeliveryError is a classified sink failure. Permanent means the recipient
// no longer exists and should be removed from the subscriber set.
type DeliveryError struct {
	Permanent bool
	Err       error
}

func (e *DeliveryError) Error() string {
	kind := "transient"
	if e.Permanent {
		kind = "permanent"
	}
	if e.Err == nil {
		return kind + " delivery failure"
	}
	return fmt.Sprintf("%s delivery failure: %v", kind, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Permanent marks err as a recipient-gone failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &DeliveryError{Permanent: true, Err: err}
}

// Transient marks err as a retry-next-time failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &DeliveryError{Err: err}
}

// IsPermanent reports whether err carries a permanent classification.
// Unclassified errors are transient.
func IsPermanent(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Permanent
}
