package domain

import "fmt"

type Status string

const (
	Pending    Status = "pending"
	InProgress Status = "in_progress"
	Completed  Status = "completed"
	Failed     Status = "failed"
)

// CanTransition reports whether a job may move between the given states.
// InProgress -> Pending is the quota-backpressure revert; it is the only
// way a job leaves InProgress without reaching a terminal state.
func CanTransition(from, to Status) bool {
	switch from {
	case Pending:
		return to == InProgress
	case InProgress:
		return to == Completed || to == Failed || to == Pending
	case Completed:
		return false
	case Failed:
		return false
	default:
		return false
	}
}

func ValidateTransition(from, to Status) error {
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid transition: %s -> %s", from, to)
	}
	return nil
}
