package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/brollyhub/screenrec/internal/capture"
	"github.com/brollyhub/screenrec/internal/encoder"
	"github.com/brollyhub/screenrec/internal/finalize"
	"github.com/brollyhub/screenrec/internal/lock"
	"github.com/brollyhub/screenrec/internal/notify"
	"github.com/brollyhub/screenrec/internal/session"
	"go.uber.org/zap"
)

// RecordOptions overrides the collaborators a Recorder would otherwise
// build from the configuration.
type RecordOptions struct {
	Prompter   finalize.Prompter
	Source     capture.Source
	Transcoder finalize.Transcoder
	Notifier   session.Notifier
}

// Report is the outcome of one recording run.
type Report struct {
	session.Result
	ArchiveKey string
	ArchiveErr error
}

// Recorder owns the single session of a `record` invocation. It holds the
// process lock from NewRecorder until Close.
type Recorder struct {
	app    *App
	lock   *lock.Lock
	ctrl   *session.Controller
	logger *zap.Logger
}

// NewRecorder takes the recorder lock and wires a session controller.
func (a *App) NewRecorder(opts RecordOptions) (*Recorder, error) {
	cfg := a.Config

	l, err := lock.Acquire(cfg.Recording.LockPath)
	if err != nil {
		return nil, err
	}

	source := opts.Source
	if source == nil {
		source = capture.NewFFmpegSource(capture.FFmpegSourceConfig{
			FFmpegPath:  cfg.Capture.FFmpegPath,
			TempDir:     cfg.Capture.TempDir,
			StopTimeout: cfg.Capture.StopTimeout,
			Logger:      a.Logger,
		})
	}

	transcoder := opts.Transcoder
	if transcoder == nil {
		transcoder = encoder.NewFFmpegTranscoder(encoder.Config{
			FFmpegPath: cfg.Encoder.FFmpegPath,
			Encoders:   cfg.Encoder.Encoders,
			Preset:     cfg.Encoder.Preset,
			CRF:        cfg.Encoder.CRF,
			Threads:    cfg.Encoder.Threads,
			Timeout:    cfg.Encoder.Timeout,
			Logger:     a.Logger,
		})
	}

	notifier := opts.Notifier
	if notifier == nil {
		multi := notify.Multi{a.Webhook}
		if cfg.Notify.Desktop {
			multi = append(multi, notify.NewDesktop())
		}
		notifier = multi
	}

	fin := finalize.New(finalize.Config{
		Dir:        cfg.Output.Dir,
		Prefix:     cfg.Output.Prefix,
		Prompter:   opts.Prompter,
		Transcoder: transcoder,
		Logger:     a.Logger,
	})

	ctrl, err := session.New(session.Options{
		Duration:         cfg.Recording.Duration,
		Countdown:        cfg.Recording.Countdown,
		TickInterval:     cfg.Recording.TickInterval,
		AlertRepetitions: cfg.Recording.AlertRepetitions,
		AlertInterval:    cfg.Recording.AlertInterval,
		AlertDelay:       cfg.Recording.AlertDelay,
		Source:           source,
		Selector: capture.Selector{
			Display:    cfg.Capture.Display,
			Microphone: cfg.Capture.Microphone,
			Webcam:     cfg.Capture.Webcam,
			FrameRate:  cfg.Capture.FrameRate,
			WebcamSize: cfg.Capture.WebcamSize,
		},
		Finalizer: fin,
		Notifier:  notifier,
		Logger:    a.Logger,
	})
	if err != nil {
		l.Release()
		return nil, fmt.Errorf("failed to create session controller: %w", err)
	}

	return &Recorder{
		app:    a,
		lock:   l,
		ctrl:   ctrl,
		logger: a.Logger,
	}, nil
}

func (r *Recorder) Pause() error               { return r.ctrl.Pause() }
func (r *Recorder) Resume() error              { return r.ctrl.Resume() }
func (r *Recorder) Stop() error                { return r.ctrl.Stop() }
func (r *Recorder) Snapshot() session.Snapshot { return r.ctrl.Snapshot() }

// Subscribe returns a channel of controller events.
func (r *Recorder) Subscribe(buffer int) <-chan session.Event {
	return r.ctrl.Subscribe(buffer)
}

// TogglePause pauses a recording session or resumes a paused one.
func (r *Recorder) TogglePause() error {
	if r.ctrl.Snapshot().State == session.StatePaused {
		return r.ctrl.Resume()
	}
	return r.ctrl.Pause()
}

// Run records one session to completion, then archives it and posts the
// completion webhook. Cancelling ctx aborts capture; finalization of an
// already stopped capture still runs.
func (r *Recorder) Run(ctx context.Context) (Report, error) {
	go r.app.Metrics.Run(ctx, r.ctrl.Subscribe(64))

	if err := r.ctrl.Begin(ctx); err != nil && !errors.Is(err, session.ErrCaptureStart) {
		return Report{}, err
	}

	res, err := r.ctrl.Wait(ctx)
	report := Report{Result: res}
	if errors.Is(err, session.ErrCancelled) || errors.Is(err, context.Canceled) {
		return report, err
	}

	if res.State == session.StateComplete {
		report.ArchiveKey, report.ArchiveErr = r.archive(context.WithoutCancel(ctx), res)
		if report.ArchiveErr != nil {
			r.logger.Error("Failed to archive recording",
				zap.String("session_id", res.SessionID),
				zap.Error(report.ArchiveErr))
		}
	}

	if werr := r.app.Webhook.Completed(context.WithoutCancel(ctx), completion(report)); werr != nil {
		r.logger.Warn("Failed to post completion webhook", zap.Error(werr))
	}

	return report, err
}

// Close releases the controller and the recorder lock.
func (r *Recorder) Close() error {
	r.ctrl.Close()
	return r.lock.Release()
}

func completion(rep Report) notify.Completion {
	c := notify.Completion{
		SessionID:  rep.SessionID,
		State:      rep.State.String(),
		StopReason: string(rep.StopReason),
		Path:       rep.Path,
		Transcoded: rep.Transcoded,
		RecordedMs: rep.Recorded.Milliseconds(),
		PausedMs:   rep.Paused.Milliseconds(),
		ArchiveKey: rep.ArchiveKey,
	}
	if rep.Err != nil {
		c.Error = rep.Err.Error()
	}
	return c
}
