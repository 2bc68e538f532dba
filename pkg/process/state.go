package process

// State is the phase of the turn a session is working on
type State string

const (
	// StateIdle indicates no turn in flight
	StateIdle State = ""

	// StateSending indicates the conversation is being sent to the model
	StateSending State = "sending"

	// StateReceiving indicates the reply is streaming in
	StateReceiving State = "receiving"

	// StateWriting indicates file blocks are being written
	StateWriting State = "writing"

	// StateExecuting indicates the reply's commands are running
	StateExecuting State = "executing"
)

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// GetIcon returns the appropriate icon for a given process state
func (s State) GetIcon() string {
	switch s {
	case StateSending:
		return "↑"
	case StateReceiving:
		return "↓"
	case StateWriting:
		return "✎"
	case StateExecuting:
		return "🔨"
	default:
		return ""
	}
}

// GetDisplayName returns a human-readable name for the state
func (s State) GetDisplayName() string {
	switch s {
	case StateSending:
		return "Sending"
	case StateReceiving:
		return "Receiving"
	case StateWriting:
		return "Writing files"
	case StateExecuting:
		return "Running commands"
	case StateIdle:
		return "Idle"
	default:
		return ""
	}
}

// Busy reports whether a turn is in flight
func (s State) Busy() bool {
	return s != StateIdle
}
