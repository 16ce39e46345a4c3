package stream

import (
	"fmt"
	"time"
)

type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	AwaitingRetry
	Cancelled
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case AwaitingRetry:
		return "awaiting_retry"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Transition records one state change of a Channel.
type Transition struct {
	From  State
	To    State
	At    time.Time
	Err   error
	Delay time.Duration // set when entering AwaitingRetry
}

var allowed = map[State][]State{
	Disconnected:  {Connecting, Cancelled},
	Connecting:    {Connected, AwaitingRetry, Cancelled},
	Connected:     {AwaitingRetry, Cancelled},
	AwaitingRetry: {Connecting, Cancelled},
}

// CanTransition reports whether the state machine permits moving from one state to another.
// Cancelled is terminal.
func CanTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}
