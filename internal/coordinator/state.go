package coordinator

import (
	"fmt"

	"github.com/roach88/labelcache/internal/model"
)

// State is one step of the per-event state machine.
type State string

const (
	StateResolving   State = "RESOLVING_FINGERPRINT"
	StateChecking    State = "CHECKING_CACHE"
	StateCacheHit    State = "CACHE_HIT"
	StateClassifying State = "CLASSIFYING"
	StatePersisting  State = "PERSISTING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// Status summarizes how an event finished.
type Status string

const (
	// StatusClassified means this attempt classified the content and won the insert.
	StatusClassified Status = "classified"
	// StatusCacheHit means a stored record answered without a labeling call.
	StatusCacheHit Status = "cache_hit"
	// StatusConverged means this attempt classified but lost the insert race
	// and adopted the stored record.
	StatusConverged Status = "converged"
	// StatusVanished means the object was gone; the event is acknowledged.
	StatusVanished Status = "vanished"
	// StatusRejected means the content is not a decodable image.
	StatusRejected Status = "rejected"
	// StatusFailed means a transient or invariant failure.
	StatusFailed Status = "failed"
)

// Action tells the event source what to do with a delivery.
type Action int

const (
	// Ack acknowledges the event; nothing more to do.
	Ack Action = iota
	// Drop acknowledges a terminal failure without retrying.
	Drop
	// Retry asks the event source to redeliver.
	Retry
	// Escalate reports a should-never-happen failure to the platform.
	Escalate
)

// String implements fmt.Stringer.
func (a Action) String() string {
	switch a {
	case Ack:
		return "ack"
	case Drop:
		return "drop"
	case Retry:
		return "retry"
	case Escalate:
		return "escalate"
	default:
		return fmt.Sprintf("Action(%d)", int(a))
	}
}

// Disposition maps a Process error onto an Action.
func Disposition(err error) Action {
	switch model.KindOf(err) {
	case "", model.KindNotFound:
		return Ack
	case model.KindMalformedContent:
		return Drop
	case model.KindInvariant:
		return Escalate
	default:
		return Retry
	}
}

// statusFor picks the final status of a failed event.
func statusFor(err error) Status {
	if model.IsMalformed(err) {
		return StatusRejected
	}
	return StatusFailed
}
