package transfer

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
)

// State is the lifecycle position of a transfer.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

var validTransitions = map[State][]State{
	StatePending:   {StateRunning},
	StateRunning:   {StateCompleted, StateFailed},
	StateCompleted: {},
	StateFailed:    {},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s State) CanTransitionTo(next State) bool {
	return slices.Contains(validTransitions[s], next)
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

func (s State) rank() int {
	switch s {
	case StatePending:
		return 0
	case StateRunning:
		return 1
	case StateCompleted, StateFailed:
		return 2
	default:
		return -1
	}
}

// Transfer is an immutable record of one request's progress through the scheduler.
type Transfer struct {
	ID       uuid.UUID `json:"id"`
	State    State     `json:"state"`
	Progress int       `json:"progress"`
	File     File      `json:"file"`
	Request  Request   `json:"request"`
}

func newTransfer(req Request) Transfer {
	return Transfer{
		ID:      req.ID,
		State:   StatePending,
		File:    req.File,
		Request: req,
	}
}

// IsFinished reports whether the transfer reached a terminal state.
func (t Transfer) IsFinished() bool {
	return t.State.IsTerminal()
}

// Direction is the direction of the originating request.
func (t Transfer) Direction() Direction {
	return t.Request.Direction
}

// After reports whether t is strictly later in the lifecycle than other.
// Two records of the same id never move backwards; this lets observers drop stale replays.
func (t Transfer) After(other Transfer) bool {
	if t.State.rank() != other.State.rank() {
		return t.State.rank() > other.State.rank()
	}

	return t.State == StateRunning && t.Progress > other.Progress
}

func (t Transfer) transition(next State) Transfer {
	if !t.State.CanTransitionTo(next) {
		panic(fmt.Errorf("%w: transfer %s cannot move from %s to %s", ErrInvalidState, t.ID, t.State, next))
	}

	t.State = next

	return t
}

func (t Transfer) withProgress(p int) Transfer {
	t.Progress = max(0, min(100, p))

	return t
}

func (t Transfer) withFile(f File) Transfer {
	t.File = f

	return t
}

// Status is a snapshot of the three registry queues.
type Status struct {
	Pending   []Transfer `json:"pending"`
	Running   []Transfer `json:"running"`
	Completed []Transfer `json:"completed"`
}
