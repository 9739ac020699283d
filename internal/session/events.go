package session

import "time"

// EventType names what happened.
type EventType int

const (
	EventStateChange EventType = iota
	EventProgress
	EventCountdown
	EventDurationExpired
)

func (t EventType) String() string {
	switch t {
	case EventStateChange:
		return "state_change"
	case EventProgress:
		return "progress"
	case EventCountdown:
		return "countdown"
	case EventDurationExpired:
		return "duration_expired"
	default:
		return "unknown"
	}
}

// Event is published to subscribers on every transition and tick.
type Event struct {
	Type      EventType
	SessionID string
	State     State
	// Remaining is the recording time left, or the countdown left for
	// EventCountdown.
	Remaining time.Duration
	At        time.Time
	// Result is set on the state change into Complete or Failed.
	Result *Result
}
