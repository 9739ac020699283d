package session

import "time"

// Timeline tracks events during recording
type Timeline struct {
	Events []TimelineEvent
}

// TimelineEvent represents a single event in the timeline
type TimelineEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

func (t *Timeline) add(at time.Time, eventType string, data map[string]interface{}) {
	t.Events = append(t.Events, TimelineEvent{
		Timestamp: at,
		Type:      eventType,
		Data:      data,
	})
}

func (t *Timeline) snapshot() []TimelineEvent {
	out := make([]TimelineEvent, len(t.Events))
	copy(out, t.Events)
	return out
}
