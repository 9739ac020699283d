package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brollyhub/screenrec/internal/capture"
	"github.com/brollyhub/screenrec/internal/finalize"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Finalizer persists a stopped capture and takes ownership of it.
type Finalizer interface {
	Finalize(ctx context.Context, artifact capture.Artifact) (finalize.Output, error)
}

// Notifier delivers alerts. Its errors never affect the session.
type Notifier interface {
	Notify(title, message string) error
	Alert(repetitions int, interval time.Duration) error
}

// Options configures a Controller.
type Options struct {
	Duration time.Duration
	// Countdown before capture begins. Zero starts capture inside Begin.
	Countdown        time.Duration
	TickInterval     time.Duration
	AlertRepetitions int
	AlertInterval    time.Duration
	AlertDelay       time.Duration

	Source    capture.Source
	Selector  capture.Selector
	Finalizer Finalizer
	Notifier  Notifier
	Logger    *zap.Logger
	Clock     Clock
}

// Result is what a finished session reports.
type Result struct {
	SessionID string
	// State is Complete, Failed, or Idle for a session cancelled during
	// the countdown.
	State              State
	StopReason         StopReason
	Path               string
	RawPath            string
	Transcoded         bool
	Bytes              int64
	TranscodeErr       error
	Err                error
	Reason             string
	StartedAt          time.Time
	RecordingStartedAt time.Time
	EndedAt            time.Time
	Configured         time.Duration
	Recorded           time.Duration
	Paused             time.Duration
	Timeline           []TimelineEvent
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	SessionID  string
	State      State
	Configured time.Duration
	Remaining  time.Duration
	Recorded   time.Duration
	Paused     time.Duration
	Countdown  time.Duration
	StartedAt  time.Time
	StopReason StopReason
}

// Controller drives one recording session at a time through
// Idle → CountingDown → Recording ⇄ Paused → Stopping → Finalizing →
// Complete | Failed, and back to Idle once Wait has reported the result.
type Controller struct {
	mu     sync.Mutex
	opts   Options
	clock  Clock
	logger *zap.Logger
	log    *zap.Logger

	id         string
	gen        uint64
	state      State
	configured time.Duration
	remaining  time.Duration

	lastTickAt  time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	startedAt   time.Time
	recordingAt time.Time
	stopReason  StopReason

	stream          capture.Stream
	stopTick        chan struct{}
	cancelCountdown chan struct{}
	countdownLeft   time.Duration
	ctx             context.Context

	timeline    Timeline
	run         *sessionRun
	subscribers []chan Event
}

// sessionRun ties a session's result to the channel that announces it, so a
// waiter always reads the session it waited on.
type sessionRun struct {
	done   chan struct{}
	result *Result
}

func (r *sessionRun) finish(res *Result) {
	r.result = res
	close(r.done)
}

// New creates an idle Controller.
func New(opts Options) (*Controller, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("capture source is required")
	}
	if opts.Finalizer == nil {
		return nil, fmt.Errorf("finalizer is required")
	}
	if opts.Duration <= 0 {
		opts.Duration = 30 * time.Minute
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 100 * time.Millisecond
	}
	if opts.AlertRepetitions < 0 {
		opts.AlertRepetitions = 0
	}
	if opts.AlertInterval <= 0 {
		opts.AlertInterval = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}

	return &Controller{
		opts:       opts,
		clock:      opts.Clock,
		logger:     opts.Logger,
		log:        opts.Logger,
		state:      StateIdle,
		configured: opts.Duration,
		remaining:  opts.Duration,
	}, nil
}

// Subscribe registers a new observer channel. Slow observers miss events
// rather than blocking the controller.
func (c *Controller) Subscribe(buffer int) <-chan Event {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	c.mu.Lock()
	c.subscribers = append(c.subscribers, ch)
	c.mu.Unlock()
	return ch
}

// Begin starts the countdown. When the countdown is zero, capture starts
// before Begin returns and a capture failure is returned directly.
func (c *Controller) Begin(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		err := invalidTransition("begin", c.state)
		c.mu.Unlock()
		return err
	}

	c.gen++
	gen := c.gen
	now := c.clock.Now()

	c.id = uuid.New().String()
	c.log = c.logger.With(zap.String("session_id", c.id))
	c.ctx = context.WithoutCancel(ctx)
	c.startedAt = now
	c.recordingAt = time.Time{}
	c.remaining = c.configured
	c.pausedTotal = 0
	c.stopReason = ""
	c.timeline = Timeline{}
	c.run = &sessionRun{done: make(chan struct{})}

	c.timeline.add(now, "session_begun", map[string]interface{}{
		"configured_ms": c.configured.Milliseconds(),
		"countdown_ms":  c.opts.Countdown.Milliseconds(),
	})
	c.setStateLocked(StateCountingDown, nil)

	delay := c.opts.Countdown
	if delay <= 0 {
		c.mu.Unlock()
		return c.startRecording(ctx, gen)
	}

	cancel := make(chan struct{})
	c.cancelCountdown = cancel
	c.countdownLeft = delay
	c.emitLocked(Event{Type: EventCountdown, Remaining: delay})
	c.mu.Unlock()

	go c.runCountdown(ctx, gen, delay, cancel)
	return nil
}

func (c *Controller) runCountdown(ctx context.Context, gen uint64, delay time.Duration, cancel <-chan struct{}) {
	left := delay
	for left > 0 {
		step := time.Second
		if left < step {
			step = left
		}
		timer := time.NewTimer(step)
		select {
		case <-cancel:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			c.mu.Lock()
			if c.gen == gen && c.state == StateCountingDown {
				c.cancelToIdleLocked()
			}
			c.mu.Unlock()
			return
		case <-timer.C:
		}

		left -= step
		c.mu.Lock()
		if c.gen != gen || c.state != StateCountingDown {
			c.mu.Unlock()
			return
		}
		c.countdownLeft = left
		if left > 0 {
			c.emitLocked(Event{Type: EventCountdown, Remaining: left})
		}
		c.mu.Unlock()
	}

	if err := c.startRecording(ctx, gen); err != nil {
		c.logger.Debug("Countdown ended without recording", zap.Error(err))
	}
}

// startRecording is the countdownElapsed transition. The lock is released
// while the capture source starts.
func (c *Controller) startRecording(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	if c.gen != gen || c.state != StateCountingDown {
		c.mu.Unlock()
		return nil
	}
	c.cancelCountdown = nil
	c.countdownLeft = 0
	c.mu.Unlock()

	stream, err := c.opts.Source.Begin(ctx, c.opts.Selector)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen || c.state != StateCountingDown {
		// stopped while the capture was starting
		if err == nil {
			go c.discard(c.ctx, stream)
		}
		return nil
	}
	if err != nil {
		serr := &Error{Kind: KindCaptureStart, Op: "begin", State: StateCountingDown, Err: err}
		c.finishLocked(StateFailed, serr, "capture could not start", nil)
		return serr
	}

	now := c.clock.Now()
	c.stream = stream
	c.remaining = c.configured
	c.lastTickAt = now
	c.recordingAt = now
	c.timeline.add(now, "recording_started", nil)
	c.setStateLocked(StateRecording, nil)
	c.startTickLocked()

	c.log.Info("Recording started", zap.Duration("duration", c.configured))
	return nil
}

// Pause freezes the countdown. Only valid while recording.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording {
		return invalidTransition("pause", c.state)
	}

	now := c.clock.Now()
	c.stopTickLocked()
	c.pausedAt = now
	if p, ok := c.stream.(capture.Pauser); ok {
		if err := p.Pause(); err != nil {
			c.log.Warn("Capture keeps running while paused", zap.Error(err))
		}
	}
	c.timeline.add(now, "paused", map[string]interface{}{
		"remaining_ms": c.remaining.Milliseconds(),
	})
	c.setStateLocked(StatePaused, nil)

	c.log.Info("Recording paused", zap.Duration("remaining", c.remaining))
	return nil
}

// Resume restarts the countdown. The paused interval is added to
// lastTickAt so it is never charged against the remaining time.
func (c *Controller) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePaused {
		return invalidTransition("resume", c.state)
	}

	now := c.clock.Now()
	paused := now.Sub(c.pausedAt)
	if paused < 0 {
		paused = 0
	}
	c.lastTickAt = c.lastTickAt.Add(paused)
	c.pausedTotal += paused

	if p, ok := c.stream.(capture.Pauser); ok {
		if err := p.Resume(); err != nil {
			c.log.Warn("Failed to resume capture", zap.Error(err))
		}
	}
	c.timeline.add(now, "resumed", map[string]interface{}{
		"paused_ms": paused.Milliseconds(),
	})
	c.setStateLocked(StateRecording, nil)
	c.startTickLocked()

	c.log.Info("Recording resumed", zap.Duration("paused", paused))
	return nil
}

// Stop ends the recording. It is a no-op once a stop is under way or the
// session has finished. Stopping during the countdown returns to Idle.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateIdle:
		return invalidTransition("stop", c.state)
	case StateCountingDown:
		c.cancelToIdleLocked()
		return nil
	case StateRecording, StatePaused:
		c.requestStopLocked(StopManual)
		return nil
	default:
		return nil
	}
}

// Tick charges the time since the previous tick against the remaining
// duration and auto-stops at zero. Ticks outside Recording are ignored.
func (c *Controller) Tick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording {
		return
	}

	now := c.clock.Now()
	c.advanceLocked(now)
	c.emitLocked(Event{Type: EventProgress, Remaining: c.remaining})

	if c.remaining == 0 {
		c.timeline.add(now, "duration_expired", nil)
		c.emitLocked(Event{Type: EventDurationExpired})
		c.log.Info("Recording duration reached, stopping")
		c.requestStopLocked(StopDurationExpired)
	}
}

// SetDuration changes the configured duration. Only allowed while idle.
func (c *Controller) SetDuration(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("duration must be positive, got %s", d)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateIdle {
		return invalidTransition("change duration", c.state)
	}
	c.configured = d
	c.remaining = d
	c.emitLocked(Event{Type: EventProgress, Remaining: d})
	return nil
}

// Snapshot returns the current session view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	paused := c.pausedTotal
	if c.state == StatePaused {
		paused += c.clock.Now().Sub(c.pausedAt)
	}
	return Snapshot{
		SessionID:  c.id,
		State:      c.state,
		Configured: c.configured,
		Remaining:  c.remaining,
		Recorded:   c.recordedLocked(),
		Paused:     paused,
		Countdown:  c.countdownLeft,
		StartedAt:  c.startedAt,
		StopReason: c.stopReason,
	}
}

// Wait blocks until the current session finishes and returns its result.
// A Complete or Failed session is returned to Idle once reported. The
// error is the session failure, if any.
func (c *Controller) Wait(ctx context.Context) (Result, error) {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()

	if r == nil {
		return Result{}, ErrNoSession
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	res := *r.result
	if c.run == r {
		c.run = nil
		if c.state.Terminal() {
			c.remaining = c.configured
			c.setStateLocked(StateIdle, nil)
		}
	}
	return res, res.Err
}

// Close stops timers and closes subscriber channels.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopTickLocked()
	if c.cancelCountdown != nil {
		close(c.cancelCountdown)
		c.cancelCountdown = nil
	}
	for _, ch := range c.subscribers {
		close(ch)
	}
	c.subscribers = nil
}

func (c *Controller) requestStopLocked(reason StopReason) {
	now := c.clock.Now()
	switch c.state {
	case StateRecording:
		c.advanceLocked(now)
	case StatePaused:
		c.pausedTotal += now.Sub(c.pausedAt)
	}
	c.stopTickLocked()

	c.stopReason = reason
	stream := c.stream
	c.stream = nil

	c.timeline.add(now, "stop_requested", map[string]interface{}{
		"reason":       string(reason),
		"remaining_ms": c.remaining.Milliseconds(),
	})
	c.setStateLocked(StateStopping, nil)

	c.log.Info("Stopping recording",
		zap.String("reason", string(reason)),
		zap.Duration("recorded", c.recordedLocked()))

	go c.finish(c.ctx, stream, reason == StopDurationExpired, c.configured)
}

// finish runs once per session: capture stop, then finalization.
func (c *Controller) finish(ctx context.Context, stream capture.Stream, auto bool, configured time.Duration) {
	type stopResult struct {
		artifact capture.Artifact
		err      error
	}
	stopped := make(chan stopResult, 1)
	go func() {
		a, err := stream.Stop(ctx)
		stopped <- stopResult{a, err}
	}()

	if auto {
		c.alert(configured)
	}

	res := <-stopped
	if res.err != nil {
		c.mu.Lock()
		c.finishLocked(StateFailed, &Error{Kind: KindCaptureStop, Op: "stop", State: StateStopping, Err: res.err},
			"capture could not be stopped", nil)
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	c.timeline.add(c.clock.Now(), "capture_finalized", map[string]interface{}{
		"bytes": res.artifact.Size(),
	})
	c.setStateLocked(StateFinalizing, nil)
	c.mu.Unlock()

	out, err := c.opts.Finalizer.Finalize(ctx, res.artifact)

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.finishLocked(StateFailed, &Error{Kind: KindStorageWrite, Op: "save", State: StateFinalizing, Err: err},
			"recording could not be saved", nil)
		return
	}
	c.finishLocked(StateComplete, nil, "", &out)
}

// alert notifies the user and plays the beep sequence in the background.
func (c *Controller) alert(configured time.Duration) {
	n := c.opts.Notifier
	if n == nil {
		return
	}
	log := c.log
	reps, interval, delay := c.opts.AlertRepetitions, c.opts.AlertInterval, c.opts.AlertDelay

	go func() {
		if err := n.Notify("Recording stopped", "Recording stopped automatically after "+humanDuration(configured)); err != nil {
			log.Warn("Notification failed", zap.Error(err))
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		if reps > 0 {
			if err := n.Alert(reps, interval); err != nil {
				log.Warn("Alert failed", zap.Error(err))
			}
		}
	}()
}

func (c *Controller) finishLocked(state State, err error, reason string, out *finalize.Output) {
	now := c.clock.Now()
	c.stopTickLocked()

	r := &Result{
		SessionID:          c.id,
		State:              state,
		StopReason:         c.stopReason,
		Err:                err,
		Reason:             reason,
		StartedAt:          c.startedAt,
		RecordingStartedAt: c.recordingAt,
		EndedAt:            now,
		Configured:         c.configured,
		Recorded:           c.recordedLocked(),
		Paused:             c.pausedTotal,
	}
	if out != nil {
		r.Path = out.Path
		r.RawPath = out.RawPath
		r.Transcoded = out.Transcoded
		r.Bytes = out.Bytes
		if out.TranscodeErr != nil {
			r.TranscodeErr = &Error{Kind: KindTranscode, Op: "transcode", State: StateFinalizing, Err: out.TranscodeErr}
		}
	}

	if state == StateComplete {
		c.timeline.add(now, "completed", map[string]interface{}{
			"path":       r.Path,
			"transcoded": r.Transcoded,
		})
		c.log.Info("Recording completed",
			zap.String("path", r.Path),
			zap.Bool("transcoded", r.Transcoded),
			zap.Duration("recorded", r.Recorded))
	} else {
		c.timeline.add(now, "failed", map[string]interface{}{
			"error": err.Error(),
		})
		c.log.Error("Recording failed", zap.String("reason", reason), zap.Error(err))
	}
	r.Timeline = c.timeline.snapshot()

	c.setStateLocked(state, r)
	c.run.finish(r)
}

func (c *Controller) cancelToIdleLocked() {
	if c.cancelCountdown != nil {
		close(c.cancelCountdown)
		c.cancelCountdown = nil
	}
	now := c.clock.Now()
	c.countdownLeft = 0
	c.timeline.add(now, "cancelled", nil)

	res := &Result{
		SessionID:  c.id,
		State:      StateIdle,
		Err:        ErrCancelled,
		Reason:     "stopped during countdown",
		StartedAt:  c.startedAt,
		EndedAt:    now,
		Configured: c.configured,
		Timeline:   c.timeline.snapshot(),
	}
	c.remaining = c.configured
	c.setStateLocked(StateIdle, nil)
	c.run.finish(res)

	c.log.Info("Recording cancelled during countdown")
}

func (c *Controller) discard(ctx context.Context, stream capture.Stream) {
	a, err := stream.Stop(ctx)
	if err != nil {
		c.logger.Warn("Failed to stop discarded capture", zap.Error(err))
		return
	}
	if err := a.Release(); err != nil {
		c.logger.Warn("Failed to release discarded capture", zap.Error(err))
	}
}

func (c *Controller) advanceLocked(now time.Time) {
	elapsed := now.Sub(c.lastTickAt)
	if elapsed < 0 {
		elapsed = 0
	}
	c.remaining -= elapsed
	if c.remaining < 0 {
		c.remaining = 0
	}
	c.lastTickAt = now
}

func (c *Controller) recordedLocked() time.Duration {
	if c.recordingAt.IsZero() {
		return 0
	}
	return c.configured - c.remaining
}

func (c *Controller) startTickLocked() {
	stop := make(chan struct{})
	c.stopTick = stop
	go c.runTicker(stop, c.opts.TickInterval)
}

func (c *Controller) stopTickLocked() {
	if c.stopTick != nil {
		close(c.stopTick)
		c.stopTick = nil
	}
}

func (c *Controller) runTicker(stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Tick()
		}
	}
}

func (c *Controller) setStateLocked(state State, result *Result) {
	prev := c.state
	c.state = state
	c.log.Debug("State changed", zap.Stringer("from", prev), zap.Stringer("to", state))
	c.emitLocked(Event{Type: EventStateChange, Remaining: c.remaining, Result: result})
}

func (c *Controller) emitLocked(ev Event) {
	ev.SessionID = c.id
	ev.State = c.state
	if ev.At.IsZero() {
		ev.At = c.clock.Now()
	}
	for _, ch := range c.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func humanDuration(d time.Duration) string {
	if d%time.Minute == 0 {
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return d.String()
}
