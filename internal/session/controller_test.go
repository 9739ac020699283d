package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brollyhub/screenrec/internal/capture"
	"github.com/brollyhub/screenrec/internal/finalize"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeArtifact struct{}

func (fakeArtifact) Open() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader("raw")), nil }
func (fakeArtifact) Ext() string                  { return ".mkv" }
func (fakeArtifact) Size() int64                  { return 3 }
func (fakeArtifact) Release() error               { return nil }

type fakeStream struct {
	src *fakeSource
}

func (s *fakeStream) Stop(ctx context.Context) (capture.Artifact, error) {
	s.src.mu.Lock()
	s.src.stops++
	hold := s.src.holdStop
	err := s.src.stopErr
	s.src.mu.Unlock()

	if hold != nil {
		<-hold
	}
	if err != nil {
		return nil, err
	}
	return fakeArtifact{}, nil
}

func (s *fakeStream) Pause() error {
	s.src.mu.Lock()
	s.src.pauses++
	s.src.mu.Unlock()
	return nil
}

func (s *fakeStream) Resume() error {
	s.src.mu.Lock()
	s.src.resumes++
	s.src.mu.Unlock()
	return nil
}

type fakeSource struct {
	mu       sync.Mutex
	begins   int
	stops    int
	pauses   int
	resumes  int
	beginErr error
	stopErr  error
	holdStop chan struct{}
}

func (s *fakeSource) Begin(context.Context, capture.Selector) (capture.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begins++
	if s.beginErr != nil {
		return nil, s.beginErr
	}
	return &fakeStream{src: s}, nil
}

func (s *fakeSource) counts() (begins, stops int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.begins, s.stops
}

type fakeFinalizer struct {
	mu            sync.Mutex
	calls         int
	err           error
	transcodeFail bool
}

func (f *fakeFinalizer) Finalize(_ context.Context, a capture.Artifact) (finalize.Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	a.Release()
	if f.err != nil {
		return finalize.Output{}, f.err
	}
	if f.transcodeFail {
		return finalize.Output{Path: "/videos/rec.mkv", RawPath: "/videos/rec.mkv", TranscodeErr: errors.New("no encoder")}, nil
	}
	return finalize.Output{Path: "/videos/rec.mp4", RawPath: "/videos/rec.mkv", Transcoded: true}, nil
}

func (f *fakeFinalizer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeNotifier struct {
	mu       sync.Mutex
	alerts   int
	messages []string
}

func (n *fakeNotifier) Notify(title, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
	return nil
}

func (n *fakeNotifier) Alert(int, time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts++
	return nil
}

func (n *fakeNotifier) alertCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.alerts
}

type harness struct {
	ctrl     *Controller
	clock    *fakeClock
	source   *fakeSource
	final    *fakeFinalizer
	notifier *fakeNotifier
}

// newHarness builds a controller whose ticker never fires on its own;
// tests drive time with the fake clock and explicit Tick calls.
func newHarness(t *testing.T, duration time.Duration) *harness {
	t.Helper()
	h := &harness{
		clock:    newFakeClock(),
		source:   &fakeSource{},
		final:    &fakeFinalizer{},
		notifier: &fakeNotifier{},
	}
	ctrl, err := New(Options{
		Duration:         duration,
		TickInterval:     time.Hour,
		AlertRepetitions: 3,
		Source:           h.source,
		Finalizer:        h.final,
		Notifier:         h.notifier,
		Logger:           zaptest.NewLogger(t),
		Clock:            h.clock,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.ctrl = ctrl
	t.Cleanup(ctrl.Close)
	return h
}

func (h *harness) wait(t *testing.T) (Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := h.ctrl.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("session did not finish, state %s", h.ctrl.Snapshot().State)
	}
	return res, err
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Snapshot().State == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for state %s, got %s", want, c.Snapshot().State)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func TestPausedTimeIsNotCounted(t *testing.T) {
	h := newHarness(t, 5*time.Second)

	if err := h.ctrl.Begin(context.Background()); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if got := h.ctrl.Snapshot(); got.State != StateRecording || got.Remaining != 5*time.Second {
		t.Fatalf("after begin: %+v", got)
	}

	if err := h.ctrl.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	h.clock.Advance(10 * time.Second)
	h.ctrl.Tick() // ignored while paused
	if err := h.ctrl.Resume(); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	h.ctrl.Tick()
	if got := h.ctrl.Snapshot().Remaining; got != 5*time.Second {
		t.Fatalf("remaining after resume = %s, want 5s", got)
	}

	h.clock.Advance(4 * time.Second)
	h.ctrl.Tick()
	if got := h.ctrl.Snapshot().Remaining; got != time.Second {
		t.Fatalf("remaining = %s, want 1s", got)
	}

	h.clock.Advance(time.Second)
	h.ctrl.Tick()

	res, err := h.wait(t)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.State != StateComplete || res.StopReason != StopDurationExpired {
		t.Fatalf("result = %+v", res)
	}
	if res.Recorded != 5*time.Second || res.Paused != 10*time.Second {
		t.Fatalf("recorded = %s paused = %s", res.Recorded, res.Paused)
	}
	if _, stops := h.source.counts(); stops != 1 {
		t.Fatalf("capture stops = %d, want 1", stops)
	}
	if h.ctrl.Snapshot().State != StateIdle {
		t.Fatalf("controller should be idle after Wait, got %s", h.ctrl.Snapshot().State)
	}
}

func TestResumeKeepsTimeAccruedBeforePause(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	if err := h.ctrl.Begin(context.Background()); err != nil {
		t.Fatal(err)
	}

	h.clock.Advance(300 * time.Millisecond)
	h.ctrl.Tick()
	h.clock.Advance(50 * time.Millisecond)
	h.ctrl.Pause()
	h.clock.Advance(time.Second)
	h.ctrl.Resume()
	h.clock.Advance(50 * time.Millisecond)
	h.ctrl.Tick()

	// 300 + 50 before the pause, 50 after it
	if got := h.ctrl.Snapshot().Remaining; got != 4600*time.Millisecond {
		t.Fatalf("remaining = %s, want 4.6s", got)
	}
}

func TestRepeatedPauseResumeMatchesRecordingTime(t *testing.T) {
	h := newHarness(t, time.Minute)
	if err := h.ctrl.Begin(context.Background()); err != nil {
		t.Fatal(err)
	}

	var recording time.Duration
	for i := 0; i < 20; i++ {
		step := time.Duration(37+i*11) * time.Millisecond
		h.clock.Advance(step)
		recording += step
		h.ctrl.Tick()

		h.clock.Advance(13 * time.Millisecond)
		recording += 13 * time.Millisecond
		h.ctrl.Pause()
		h.clock.Advance(time.Duration(i+1) * 250 * time.Millisecond)
		h.ctrl.Resume()
	}
	h.ctrl.Tick()

	snap := h.ctrl.Snapshot()
	if counted := time.Minute - snap.Remaining; counted != recording {
		t.Fatalf("counted %s of recording, want %s", counted, recording)
	}
}

func TestRemainingClampsAndAutoStopsOnce(t *testing.T) {
	h := newHarness(t, time.Second)
	events := h.ctrl.Subscribe(64)

	if err := h.ctrl.Begin(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(3 * time.Second)
	h.ctrl.Tick()
	h.ctrl.Tick()
	if err := h.ctrl.Stop(); err != nil {
		t.Fatalf("Stop after auto-stop should be a no-op, got %v", err)
	}

	if got := h.ctrl.Snapshot().Remaining; got != 0 {
		t.Fatalf("remaining = %s, want 0", got)
	}

	if _, err := h.wait(t); err != nil {
		t.Fatal(err)
	}

	expired := 0
	for len(events) > 0 {
		ev := <-events
		if ev.Remaining < 0 {
			t.Fatalf("negative remaining in event %+v", ev)
		}
		if ev.Type == EventDurationExpired {
			expired++
		}
	}
	if expired != 1 {
		t.Fatalf("duration expired events = %d, want 1", expired)
	}

	waitFor(t, "alert", func() bool { return h.notifier.alertCount() == 1 })
	time.Sleep(20 * time.Millisecond)
	if got := h.notifier.alertCount(); got != 1 {
		t.Fatalf("alerts = %d, want 1", got)
	}
	if _, stops := h.source.counts(); stops != 1 {
		t.Fatalf("capture stops = %d, want 1", stops)
	}
	if h.final.count() != 1 {
		t.Fatalf("finalize calls = %d, want 1", h.final.count())
	}
	if len(h.notifier.messages) != 1 || !strings.Contains(h.notifier.messages[0], "after 1s") {
		t.Fatalf("notification messages = %v", h.notifier.messages)
	}
}

func TestStopRacingAutoStopRunsOnce(t *testing.T) {
	h := newHarness(t, time.Second)
	hold := make(chan struct{})
	h.source.holdStop = hold

	if err := h.ctrl.Begin(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := h.ctrl.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	h.clock.Advance(2 * time.Second)
	h.ctrl.Tick()

	if got := h.ctrl.Snapshot().State; got != StateStopping {
		t.Fatalf("state = %s, want stopping", got)
	}
	close(hold)

	res, err := h.wait(t)
	if err != nil {
		t.Fatal(err)
	}
	if res.StopReason != StopManual {
		t.Fatalf("stop reason = %s", res.StopReason)
	}
	if _, stops := h.source.counts(); stops != 1 {
		t.Fatalf("capture stops = %d, want 1", stops)
	}
	if h.final.count() != 1 {
		t.Fatalf("finalize calls = %d, want 1", h.final.count())
	}
	time.Sleep(20 * time.Millisecond)
	if h.notifier.alertCount() != 0 {
		t.Fatal("manual stop must not play the alert")
	}
}

func TestFiveSecondScenario(t *testing.T) {
	h := newHarness(t, 5000*time.Millisecond)
	if err := h.ctrl.Begin(context.Background()); err != nil {
		t.Fatal(err)
	}

	h.ctrl.Pause()
	h.clock.Advance(10000 * time.Millisecond)
	h.ctrl.Resume()
	h.ctrl.Tick()
	if got := h.ctrl.Snapshot().Remaining; got != 5000*time.Millisecond {
		t.Fatalf("remaining = %s, want 5s", got)
	}

	for i := 0; i < 50; i++ {
		h.clock.Advance(100 * time.Millisecond)
		h.ctrl.Tick()
	}

	res, err := h.wait(t)
	if err != nil {
		t.Fatal(err)
	}
	if res.StopReason != StopDurationExpired {
		t.Fatalf("stop reason = %s", res.StopReason)
	}
	if _, stops := h.source.counts(); stops != 1 {
		t.Fatalf("capture stops = %d", stops)
	}
}

func TestInvalidTransitions(t *testing.T) {
	h := newHarness(t, time.Minute)

	for name, fn := range map[string]func() error{
		"pause idle":  h.ctrl.Pause,
		"resume idle": h.ctrl.Resume,
		"stop idle":   h.ctrl.Stop,
	} {
		if err := fn(); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s: err = %v, want ErrInvalidTransition", name, err)
		}
	}

	if err := h.ctrl.Begin(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := h.ctrl.Begin(context.Background()); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("begin while recording: %v", err)
	}
	if err := h.ctrl.Resume(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("resume while recording: %v", err)
	}
	if err := h.ctrl.SetDuration(time.Hour); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("set duration while recording: %v", err)
	}
	if got := h.ctrl.Snapshot(); got.State != StateRecording || got.Configured != time.Minute {
		t.Fatalf("state changed by rejected commands: %+v", got)
	}

	h.ctrl.Pause()
	if err := h.ctrl.Pause(); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pause while paused: %v", err)
	}

	var serr *Error
	err := h.ctrl.SetDuration(time.Hour)
	if !errors.As(err, &serr) || serr.Kind != KindInvalidTransition || serr.State != StatePaused {
		t.Fatalf("error = %#v", err)
	}
}

func TestSetDurationWhileIdle(t *testing.T) {
	h := newHarness(t, time.Minute)
	events := h.ctrl.Subscribe(4)

	if err := h.ctrl.SetDuration(90 * time.Second); err != nil {
		t.Fatal(err)
	}
	snap := h.ctrl.Snapshot()
	if snap.Configured != 90*time.Second || snap.Remaining != 90*time.Second {
		t.Fatalf("snapshot = %+v", snap)
	}
	ev := <-events
	if ev.Type != EventProgress || ev.Remaining != 90*time.Second {
		t.Fatalf("event = %+v", ev)
	}
	if err := h.ctrl.SetDuration(0); err == nil {
		t.Fatal("expected error for zero duration")
	}
}

func TestCaptureStopFailure(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.source.stopErr = errors.New("ffmpeg hung")

	h.ctrl.Begin(context.Background())
	h.ctrl.Stop()

	res, err := h.wait(t)
	if !errors.Is(err, ErrCaptureStop) {
		t.Fatalf("err = %v, want ErrCaptureStop", err)
	}
	if res.State != StateFailed || res.Reason == "" {
		t.Fatalf("result = %+v", res)
	}
	if h.final.count() != 0 {
		t.Fatal("finalizer must not run without an artifact")
	}
	if got := h.ctrl.Snapshot().State; got != StateIdle {
		t.Fatalf("state after Wait = %s", got)
	}
}

func TestStorageWriteFailure(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.final.err = errors.New("disk full")

	h.ctrl.Begin(context.Background())
	h.ctrl.Stop()

	res, err := h.wait(t)
	if !errors.Is(err, ErrStorageWrite) || res.State != StateFailed {
		t.Fatalf("err = %v state = %s", err, res.State)
	}
}

func TestTranscodeFailureStillCompletes(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.final.transcodeFail = true

	h.ctrl.Begin(context.Background())
	h.ctrl.Stop()

	res, err := h.wait(t)
	if err != nil {
		t.Fatalf("transcode failure must not fail the session: %v", err)
	}
	if res.State != StateComplete || res.Path != res.RawPath {
		t.Fatalf("result = %+v", res)
	}
	if !errors.Is(res.TranscodeErr, ErrTranscode) {
		t.Fatalf("transcode err = %v", res.TranscodeErr)
	}
}

func TestCaptureStartFailure(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.source.beginErr = errors.New("no display")

	err := h.ctrl.Begin(context.Background())
	if !errors.Is(err, ErrCaptureStart) {
		t.Fatalf("Begin err = %v", err)
	}
	res, werr := h.wait(t)
	if !errors.Is(werr, ErrCaptureStart) || res.State != StateFailed {
		t.Fatalf("Wait = %+v, %v", res, werr)
	}
}

func TestStopDuringCountdownReturnsToIdle(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.ctrl.opts.Countdown = time.Hour

	if err := h.ctrl.Begin(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := h.ctrl.Snapshot(); got.State != StateCountingDown || got.Countdown != time.Hour {
		t.Fatalf("snapshot = %+v", got)
	}
	if err := h.ctrl.Stop(); err != nil {
		t.Fatal(err)
	}

	res, err := h.wait(t)
	if !errors.Is(err, ErrCancelled) || res.State != StateIdle {
		t.Fatalf("Wait = %+v, %v", res, err)
	}
	if begins, _ := h.source.counts(); begins != 0 {
		t.Fatalf("capture begun %d times during a cancelled countdown", begins)
	}
	if err := h.ctrl.Begin(context.Background()); err != nil {
		t.Fatalf("Begin after cancel: %v", err)
	}
}

func TestWaitReportsItsOwnSessionAfterRestart(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.ctrl.opts.Countdown = time.Hour

	if err := h.ctrl.Begin(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		id := h.ctrl.Snapshot().SessionID

		type waited struct {
			res Result
			err error
		}
		got := make(chan waited, 1)
		go func() {
			res, err := h.ctrl.Wait(context.Background())
			got <- waited{res, err}
		}()
		time.Sleep(5 * time.Millisecond)

		if err := h.ctrl.Stop(); err != nil {
			t.Fatalf("Stop: %v", err)
		}
		if err := h.ctrl.Begin(context.Background()); err != nil {
			t.Fatalf("Begin after cancel: %v", err)
		}

		select {
		case w := <-got:
			if !errors.Is(w.err, ErrCancelled) || w.res.SessionID != id {
				t.Fatalf("Wait = %s, %v; want cancelled session %s", w.res.SessionID, w.err, id)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Wait did not return")
		}
		if h.ctrl.Snapshot().State != StateCountingDown {
			t.Fatalf("restarted session state = %s", h.ctrl.Snapshot().State)
		}
	}
}

func TestCountdownStartsRecording(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.ctrl.opts.Countdown = 20 * time.Millisecond
	events := h.ctrl.Subscribe(16)

	if err := h.ctrl.Begin(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitForState(t, h.ctrl, StateRecording)

	sawCountdown := false
	for len(events) > 0 {
		if ev := <-events; ev.Type == EventCountdown {
			sawCountdown = true
		}
	}
	if !sawCountdown {
		t.Fatal("expected a countdown event")
	}
}

func TestPauseSuspendsStream(t *testing.T) {
	h := newHarness(t, time.Minute)
	h.ctrl.Begin(context.Background())
	h.ctrl.Pause()
	h.ctrl.Resume()

	h.source.mu.Lock()
	defer h.source.mu.Unlock()
	if h.source.pauses != 1 || h.source.resumes != 1 {
		t.Fatalf("pauses = %d resumes = %d", h.source.pauses, h.source.resumes)
	}
}

func TestTimelineOrder(t *testing.T) {
	h := newHarness(t, time.Second)
	h.ctrl.Begin(context.Background())
	h.ctrl.Pause()
	h.ctrl.Resume()
	h.clock.Advance(time.Second)
	h.ctrl.Tick()

	res, err := h.wait(t)
	if err != nil {
		t.Fatal(err)
	}
	var types []string
	for _, ev := range res.Timeline {
		types = append(types, ev.Type)
	}
	want := "session_begun,recording_started,paused,resumed,duration_expired,stop_requested,capture_finalized,completed"
	if got := strings.Join(types, ","); got != want {
		t.Fatalf("timeline = %s\nwant     %s", got, want)
	}
}

func TestRealTickerAutoStops(t *testing.T) {
	src := &fakeSource{}
	ctrl, err := New(Options{
		Duration:     40 * time.Millisecond,
		TickInterval: 5 * time.Millisecond,
		Source:       src,
		Finalizer:    &fakeFinalizer{},
		Logger:       zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer ctrl.Close()

	if err := ctrl.Begin(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := ctrl.Wait(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.StopReason != StopDurationExpired || res.Recorded != 40*time.Millisecond {
		t.Fatalf("result = %+v", res)
	}
}

func TestWaitWithoutSession(t *testing.T) {
	h := newHarness(t, time.Minute)
	if _, err := h.ctrl.Wait(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Fatalf("err = %v", err)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Options{Finalizer: &fakeFinalizer{}}); err == nil {
		t.Fatal("expected error without source")
	}
	if _, err := New(Options{Source: &fakeSource{}}); err == nil {
		t.Fatal("expected error without finalizer")
	}
}

func TestHumanDuration(t *testing.T) {
	tests := map[time.Duration]string{
		30 * time.Minute:        "30 minutes",
		time.Minute:             "1 minute",
		90 * time.Second:        "1m30s",
		5000 * time.Millisecond: "5s",
	}
	for d, want := range tests {
		if got := humanDuration(d); got != want {
			t.Errorf("humanDuration(%s) = %q, want %q", d, got, want)
		}
	}
}
