package capture

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// FFmpegSource captures the screen by running an ffmpeg process that writes
// a temporary Matroska file.
type FFmpegSource struct {
	path        string
	tempDir     string
	stopTimeout time.Duration
	startGrace  time.Duration
	goos        string
	logger      *zap.Logger
}

// FFmpegSourceConfig holds configuration for the ffmpeg capture source
type FFmpegSourceConfig struct {
	FFmpegPath  string
	TempDir     string
	StopTimeout time.Duration
	// StartGrace is how long Begin watches for an immediate ffmpeg exit.
	StartGrace time.Duration
	Logger     *zap.Logger
}

// NewFFmpegSource creates a capture source for the current platform.
func NewFFmpegSource(cfg FFmpegSourceConfig) *FFmpegSource {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	if cfg.StartGrace <= 0 {
		cfg.StartGrace = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &FFmpegSource{
		path:        cfg.FFmpegPath,
		tempDir:     cfg.TempDir,
		stopTimeout: cfg.StopTimeout,
		startGrace:  cfg.StartGrace,
		goos:        runtime.GOOS,
		logger:      cfg.Logger,
	}
}

// Begin starts ffmpeg and returns once it is capturing.
func (s *FFmpegSource) Begin(ctx context.Context, sel Selector) (Stream, error) {
	outputPath := filepath.Join(s.tempDir, "screenrec-"+uuid.New().String()+".mkv")

	args, err := buildArgs(s.goos, sel, outputPath)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(s.path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open ffmpeg stdin: %w", err)
	}
	stderr := &tailBuffer{max: 4096}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	st := &ffmpegStream{
		cmd:         cmd,
		stdin:       stdin,
		stderr:      stderr,
		outputPath:  outputPath,
		stopTimeout: s.stopTimeout,
		done:        make(chan struct{}),
		logger:      s.logger.With(zap.String("capture_file", outputPath)),
	}
	go func() {
		st.waitErr = cmd.Wait()
		close(st.done)
	}()

	// ffmpeg exits at once on a bad device or missing permission
	timer := time.NewTimer(s.startGrace)
	defer timer.Stop()
	select {
	case <-st.done:
		os.Remove(outputPath)
		return nil, fmt.Errorf("ffmpeg exited during startup: %v\n%s", st.waitErr, stderr.String())
	case <-ctx.Done():
		st.kill()
		<-st.done
		os.Remove(outputPath)
		return nil, ctx.Err()
	case <-timer.C:
	}

	s.logger.Debug("Capture started",
		zap.String("output", outputPath),
		zap.Int("pid", cmd.Process.Pid),
		zap.Strings("args", args))

	return st, nil
}

type ffmpegStream struct {
	mu          sync.Mutex
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stderr      *tailBuffer
	outputPath  string
	stopTimeout time.Duration
	stopped     bool
	paused      bool
	done        chan struct{}
	waitErr     error
	logger      *zap.Logger
}

// Stop asks ffmpeg to finish by sending "q" on stdin, and kills it if it
// does not exit within the stop timeout.
func (st *ffmpegStream) Stop(ctx context.Context) (Artifact, error) {
	st.mu.Lock()
	if st.stopped {
		st.mu.Unlock()
		return nil, fmt.Errorf("capture already stopped")
	}
	st.stopped = true
	if st.paused {
		// a suspended process cannot read the quit key
		if err := resumeProcess(st.cmd.Process); err != nil {
			st.logger.Warn("Failed to resume capture before stop", zap.Error(err))
		}
		st.paused = false
	}
	st.mu.Unlock()

	if _, err := io.WriteString(st.stdin, "q\n"); err != nil {
		st.logger.Debug("Failed to send quit to ffmpeg", zap.Error(err))
	}
	st.stdin.Close()

	timer := time.NewTimer(st.stopTimeout)
	defer timer.Stop()
	select {
	case <-st.done:
	case <-timer.C:
		st.logger.Warn("ffmpeg did not exit in time, killing", zap.Duration("timeout", st.stopTimeout))
		st.kill()
		<-st.done
	case <-ctx.Done():
		st.kill()
		<-st.done
	}

	if st.waitErr != nil {
		st.logger.Warn("ffmpeg exited with error", zap.Error(st.waitErr), zap.String("stderr", st.stderr.String()))
	}

	artifact, err := NewFileArtifact(st.outputPath)
	if err != nil {
		os.Remove(st.outputPath)
		return nil, fmt.Errorf("capture did not produce output: %w\n%s", err, st.stderr.String())
	}
	return artifact, nil
}

func (st *ffmpegStream) Pause() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.stopped || st.paused {
		return nil
	}
	if err := suspendProcess(st.cmd.Process); err != nil {
		return err
	}
	st.paused = true
	return nil
}

func (st *ffmpegStream) Resume() error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.stopped || !st.paused {
		return nil
	}
	if err := resumeProcess(st.cmd.Process); err != nil {
		return err
	}
	st.paused = false
	return nil
}

func (st *ffmpegStream) kill() {
	if st.cmd.Process != nil {
		st.cmd.Process.Kill()
	}
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.max; over > 0 {
		b.buf = b.buf[over:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.TrimSpace(string(b.buf))
}
