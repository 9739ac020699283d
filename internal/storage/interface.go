package storage

import (
	"context"
	"time"
)

// Archive defines the remote copy of finished recordings
type Archive interface {
	// UploadRecording streams a local recording file and returns its key
	UploadRecording(ctx context.Context, sessionID, localPath string) (string, error)

	// WriteMetadata writes session metadata JSON
	WriteMetadata(ctx context.Context, sessionID string, metadata *RecordingMetadata) error

	// WriteTimeline writes timeline events JSON
	WriteTimeline(ctx context.Context, sessionID string, timeline *Timeline) error

	// FinalizeRecording marks an archived recording as complete
	FinalizeRecording(ctx context.Context, sessionID string) error

	// ListRecordings returns completed recordings, newest first
	ListRecordings(ctx context.Context) ([]RemoteRecording, error)

	// Health checks storage connectivity
	Health(ctx context.Context) error
}

// RecordingMetadata contains information about a recording session
type RecordingMetadata struct {
	SessionID        string          `json:"session_id"`
	StartTime        time.Time       `json:"start_time"`
	RecordingStarted *time.Time      `json:"recording_started,omitempty"`
	EndTime          time.Time       `json:"end_time"`
	Status           string          `json:"status"` // "complete", "failed"
	StopReason       string          `json:"stop_reason,omitempty"`
	FileName         string          `json:"file_name"`
	LocalPath        string          `json:"local_path"`
	Transcoded       bool            `json:"transcoded"`
	TranscodeError   string          `json:"transcode_error,omitempty"`
	Stats            *RecordingStats `json:"stats,omitempty"`
	Host             string          `json:"host,omitempty"`
}

// RecordingStats contains recording statistics
type RecordingStats struct {
	ConfiguredMs int64 `json:"configured_ms"`
	RecordedMs   int64 `json:"recorded_ms"`
	PausedMs     int64 `json:"paused_ms"`
	TotalBytes   int64 `json:"total_bytes"`
}

// Timeline contains chronological events during recording
type Timeline struct {
	SessionID string          `json:"session_id"`
	Events    []TimelineEvent `json:"events"`
}

// TimelineEvent represents a single timeline event
type TimelineEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	Type      string                 `json:"type"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// RemoteRecording is one archived session.
type RemoteRecording struct {
	SessionID   string
	CompletedAt time.Time
}
