package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/brollyhub/screenrec/internal/app"
	"github.com/brollyhub/screenrec/internal/config"
	"github.com/brollyhub/screenrec/internal/finalize"
	"github.com/brollyhub/screenrec/internal/output"
	"github.com/brollyhub/screenrec/internal/session"
)

type recordFlags struct {
	minutes   int
	duration  time.Duration
	countdown time.Duration
	fps       int
	display   string
	mic       string
	webcam    string
	output    string
	prompt    bool
	noControl bool
}

func NewRecordCmd(deps *Dependencies) *cobra.Command {
	var flags recordFlags

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Start a timed screen recording",
		Long: "Record the screen until the duration runs out or you stop it.\n" +
			"While recording, type p + Enter to pause or resume and s + Enter to stop.\n" +
			"Ctrl+C stops and saves; a second Ctrl+C aborts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyRecordFlags(cmd, deps.App.Config, flags); err != nil {
				return err
			}
			return runRecord(cmd, deps.App, flags)
		},
	}

	cmd.Flags().IntVarP(&flags.minutes, "minutes", "m", 0, "Recording duration in minutes")
	cmd.Flags().DurationVarP(&flags.duration, "duration", "d", 0, "Recording duration (e.g. 90s, 5m)")
	cmd.Flags().DurationVar(&flags.countdown, "countdown", 0, "Delay before capture starts")
	cmd.Flags().IntVar(&flags.fps, "fps", 0, "Capture frame rate")
	cmd.Flags().StringVar(&flags.display, "display", "", "Display to capture (platform specific)")
	cmd.Flags().StringVar(&flags.mic, "mic", "", "Microphone device to record")
	cmd.Flags().StringVar(&flags.webcam, "webcam", "", "Webcam device to overlay")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "Save to this file or directory")
	cmd.Flags().BoolVar(&flags.prompt, "prompt", false, "Ask where to save when recording ends")
	cmd.Flags().BoolVar(&flags.noControl, "no-control", false, "Do not serve the control API")

	return cmd
}

func applyRecordFlags(cmd *cobra.Command, cfg *config.Config, flags recordFlags) error {
	changed := cmd.Flags().Changed

	if changed("minutes") {
		cfg.Recording.Duration = config.DurationFromMinutes(flags.minutes)
	}
	if changed("duration") {
		if flags.duration <= 0 {
			return fmt.Errorf("--duration must be positive")
		}
		cfg.Recording.Duration = flags.duration
	}
	if changed("countdown") {
		if flags.countdown < 0 {
			return fmt.Errorf("--countdown must not be negative")
		}
		cfg.Recording.Countdown = flags.countdown
	}
	if changed("fps") {
		if flags.fps <= 0 {
			return fmt.Errorf("--fps must be positive")
		}
		cfg.Capture.FrameRate = flags.fps
	}
	if changed("display") {
		cfg.Capture.Display = flags.display
	}
	if changed("mic") {
		cfg.Capture.Microphone = flags.mic
	}
	if changed("webcam") {
		cfg.Capture.Webcam = flags.webcam
	}
	if changed("prompt") {
		cfg.Output.Prompt = flags.prompt
	}
	if flags.noControl {
		cfg.Control.Enabled = false
	}
	return nil
}

func runRecord(cmd *cobra.Command, a *app.App, flags recordFlags) error {
	f := output.NewFormatter(cmd.OutOrStdout())

	lines := finalize.ReadLines(cmd.InOrStdin())
	promptLines := make(chan string, 1)

	var prompter finalize.Prompter = finalize.NoPrompt{}
	switch {
	case flags.output != "":
		prompter = finalize.FixedPrompter{Path: flags.output}
	case a.Config.Output.Prompt:
		prompter = &finalize.TerminalPrompter{
			Lines:   promptLines,
			Out:     cmd.OutOrStdout(),
			Timeout: a.Config.Output.PromptTimeout,
		}
	}

	rec, err := a.NewRecorder(app.RecordOptions{Prompter: prompter})
	if err != nil {
		return err
	}
	defer rec.Close()

	stopServers := rec.StartServers()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		stopServers(ctx)
	}()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	go renderEvents(f, rec.Subscribe(64), a.Config.Recording.Duration)
	go routeInput(lines, rec, promptLines, f)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		received := 0
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigChan:
				received++
				if received > 1 {
					a.Logger.Warn("Aborting recording", zap.String("signal", sig.String()))
					cancel()
					return
				}
				f.Info("Stopping... press Ctrl+C again to abort")
				if err := rec.Stop(); err != nil {
					a.Logger.Debug("Stop on signal", zap.Error(err))
				}
			}
		}
	}()

	report, err := rec.Run(ctx)
	switch {
	case errors.Is(err, session.ErrCancelled):
		f.Info("Recording cancelled before it started")
		return nil
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("recording aborted")
	}

	if err != nil {
		return err
	}

	f.RecordingSaved(report.Path, report.Transcoded)
	if report.TranscodeErr != nil {
		f.Warning(fmt.Sprintf("Could not convert to MP4, kept the raw recording: %v", report.TranscodeErr))
	}
	if report.ArchiveKey != "" {
		f.Archived(report.ArchiveKey)
	} else if report.ArchiveErr != nil {
		f.Warning(fmt.Sprintf("Upload failed: %v", report.ArchiveErr))
	}
	return nil
}

// routeInput treats lines as keys while a session is live and hands them
// to the save prompt once it has stopped.
func routeInput(lines <-chan string, rec *app.Recorder, prompt chan<- string, f *output.Formatter) {
	defer close(prompt)
	for line := range lines {
		switch rec.Snapshot().State {
		case session.StateCountingDown, session.StateRecording, session.StatePaused:
			handleKey(strings.ToLower(strings.TrimSpace(line)), rec, f)
		default:
			select {
			case prompt <- line:
			default:
			}
		}
	}
}

func handleKey(key string, rec *app.Recorder, f *output.Formatter) {
	switch key {
	case "p":
		if err := rec.TogglePause(); err != nil {
			f.Warning(err.Error())
		}
	case "s", "q":
		if err := rec.Stop(); err != nil {
			f.Warning(err.Error())
		}
	}
}

func renderEvents(f *output.Formatter, events <-chan session.Event, configured time.Duration) {
	prev := session.StateIdle
	lastShown := time.Duration(-1)
	expired := false

	for ev := range events {
		switch ev.Type {
		case session.EventCountdown:
			f.Countdown(ev.Remaining)
		case session.EventProgress:
			shown := ev.Remaining.Round(time.Second)
			if shown != lastShown {
				lastShown = shown
				f.Progress(ev.Remaining, false)
			}
		case session.EventDurationExpired:
			expired = true
		case session.EventStateChange:
			switch ev.State {
			case session.StateRecording:
				if prev == session.StatePaused {
					f.Resumed()
				} else {
					f.RecordingStarted(configured)
				}
			case session.StatePaused:
				f.Paused()
				f.Progress(ev.Remaining, true)
			case session.StateStopping:
				if prev == session.StateRecording || prev == session.StatePaused {
					f.RecordingStopped(configured-ev.Remaining, expired)
				}
			case session.StateFinalizing:
				f.Finalizing()
			}
			prev = ev.State
		}
	}
}
