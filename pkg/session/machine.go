package session

// ItemState is the per-item review state. The session-level Finished flag is
// separate; it is reached when an advance finds an empty queue.
type ItemState int

const (
	// StateIdle awaits a keep/unfollow selection for the current item.
	StateIdle ItemState = iota

	// StatePendingUnfollow awaits confirmation (or undo) of an unfollow.
	StatePendingUnfollow

	// StatePendingKeep awaits confirmation (or undo) of a keep.
	StatePendingKeep

	// StateTransitioning is the window between commit and the next item
	// becoming current; further input on the item is ignored.
	StateTransitioning
)

// String implements fmt.Stringer.
func (s ItemState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePendingUnfollow:
		return "pending_unfollow"
	case StatePendingKeep:
		return "pending_keep"
	case StateTransitioning:
		return "transitioning"
	default:
		return "unknown"
	}
}
