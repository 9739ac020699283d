package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/brollyhub/screenrec/internal/session"
	"github.com/brollyhub/screenrec/internal/storage"
	"go.uber.org/zap"
)

// archive uploads a completed recording with its metadata and timeline,
// then marks it complete. The local file is never touched.
func (r *Recorder) archive(ctx context.Context, res session.Result) (string, error) {
	if r.app.Archive == nil {
		return "", nil
	}
	if timeout := r.app.Config.Archive.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logger := r.logger.With(zap.String("session_id", res.SessionID))

	key, err := r.app.Archive.UploadRecording(ctx, res.SessionID, res.Path)
	if err != nil {
		return "", fmt.Errorf("failed to upload recording: %w", err)
	}

	// Write metadata
	if err := r.app.Archive.WriteMetadata(ctx, res.SessionID, buildMetadata(res)); err != nil {
		logger.Error("Failed to write metadata", zap.Error(err))
	}

	// Write timeline
	if err := r.app.Archive.WriteTimeline(ctx, res.SessionID, buildTimeline(res)); err != nil {
		logger.Error("Failed to write timeline", zap.Error(err))
	}

	if err := r.app.Archive.FinalizeRecording(ctx, res.SessionID); err != nil {
		return key, fmt.Errorf("failed to finalize archived recording: %w", err)
	}

	logger.Info("Recording archived", zap.String("key", key))
	return key, nil
}

func buildMetadata(res session.Result) *storage.RecordingMetadata {
	md := &storage.RecordingMetadata{
		SessionID:  res.SessionID,
		StartTime:  res.StartedAt,
		EndTime:    res.EndedAt,
		Status:     res.State.String(),
		StopReason: string(res.StopReason),
		FileName:   filepath.Base(res.Path),
		LocalPath:  res.Path,
		Transcoded: res.Transcoded,
		Stats: &storage.RecordingStats{
			ConfiguredMs: res.Configured.Milliseconds(),
			RecordedMs:   res.Recorded.Milliseconds(),
			PausedMs:     res.Paused.Milliseconds(),
			TotalBytes:   res.Bytes,
		},
	}
	if !res.RecordingStartedAt.IsZero() {
		started := res.RecordingStartedAt
		md.RecordingStarted = &started
	}
	if res.TranscodeErr != nil {
		md.TranscodeError = res.TranscodeErr.Error()
	}
	if host, err := os.Hostname(); err == nil {
		md.Host = host
	}
	return md
}

func buildTimeline(res session.Result) *storage.Timeline {
	events := make([]storage.TimelineEvent, 0, len(res.Timeline))
	for _, ev := range res.Timeline {
		events = append(events, storage.TimelineEvent{
			Timestamp: ev.Timestamp,
			Type:      ev.Type,
			Data:      ev.Data,
		})
	}
	return &storage.Timeline{
		SessionID: res.SessionID,
		Events:    events,
	}
}
