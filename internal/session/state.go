package session

// State is the lifecycle position of a recording session.
type State int

const (
	StateIdle State = iota
	StateCountingDown
	StateRecording
	StatePaused
	StateStopping
	StateFinalizing
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCountingDown:
		return "counting_down"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateFinalizing:
		return "finalizing"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Active reports whether a session is in progress.
func (s State) Active() bool {
	return s != StateIdle && s != StateComplete && s != StateFailed
}

// Terminal reports whether the session has a result.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateFailed
}

// StopReason records what ended a recording.
type StopReason string

const (
	StopManual          StopReason = "manual"
	StopDurationExpired StopReason = "duration_expired"
)
