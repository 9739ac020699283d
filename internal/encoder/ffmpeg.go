package encoder

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultEncoders is the fallback order: hardware encoders first, then
// software x264, which is always tried last.
var DefaultEncoders = []string{"h264_nvenc", "h264_qsv", "h264_videotoolbox", "libx264"}

// Runner executes a command and returns its combined output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// TranscodeError reports that no encoder could produce the output.
type TranscodeError struct {
	Input    string
	Attempts []Attempt
	Err      error
}

// Attempt is one encoder tried during a transcode.
type Attempt struct {
	Encoder string
	Err     error
}

func (e *TranscodeError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("transcode %s: %v", e.Input, e.Err)
	}
	names := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		names[i] = a.Encoder
	}
	return fmt.Sprintf("transcode %s: all encoders failed (%s): %v", e.Input, strings.Join(names, ", "), e.Err)
}

func (e *TranscodeError) Unwrap() error {
	return e.Err
}

// FFmpegTranscoder converts raw captures to MP4.
type FFmpegTranscoder struct {
	path     string
	encoders []string
	preset   string
	crf      int
	threads  int
	timeout  time.Duration
	run      Runner
	logger   *zap.Logger
}

// Config holds configuration for the transcoder
type Config struct {
	FFmpegPath string
	Encoders   []string
	Preset     string
	CRF        int
	Threads    int
	Timeout    time.Duration
	Runner     Runner
	Logger     *zap.Logger
}

// NewFFmpegTranscoder creates a transcoder. Unset fields take the defaults.
func NewFFmpegTranscoder(cfg Config) *FFmpegTranscoder {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if len(cfg.Encoders) == 0 {
		cfg.Encoders = DefaultEncoders
	}
	if cfg.Preset == "" {
		cfg.Preset = "ultrafast"
	}
	if cfg.CRF <= 0 {
		cfg.CRF = 17
	}
	if cfg.Threads <= 0 {
		cfg.Threads = 4
	}
	if cfg.Runner == nil {
		cfg.Runner = execRunner
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &FFmpegTranscoder{
		path:     cfg.FFmpegPath,
		encoders: cfg.Encoders,
		preset:   cfg.Preset,
		crf:      cfg.CRF,
		threads:  cfg.Threads,
		timeout:  cfg.Timeout,
		run:      cfg.Runner,
		logger:   cfg.Logger,
	}
}

// OutputPath returns where the transcoded file for input is written.
func OutputPath(input string) string {
	ext := filepath.Ext(input)
	base := strings.TrimSuffix(input, ext)
	if strings.EqualFold(ext, ".mp4") {
		return base + "-converted.mp4"
	}
	return base + ".mp4"
}

// Transcode converts input to MP4, walking the encoder list until one
// succeeds. Every failure is a *TranscodeError.
func (t *FFmpegTranscoder) Transcode(ctx context.Context, input string) (string, error) {
	if _, err := os.Stat(input); err != nil {
		return "", &TranscodeError{Input: input, Err: err}
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	output, err := reserveOutput(OutputPath(input))
	if err != nil {
		return "", &TranscodeError{Input: input, Err: err}
	}
	candidates := t.candidates(ctx)
	terr := &TranscodeError{Input: input}

	for _, enc := range candidates {
		start := time.Now()
		out, err := t.run(ctx, t.path, t.args(enc, input, output)...)
		if err == nil {
			t.logger.Info("Transcode completed",
				zap.String("encoder", enc),
				zap.String("output", output),
				zap.Duration("took", time.Since(start)))
			return output, nil
		}

		err = fmt.Errorf("%s: %w\n%s", enc, err, strings.TrimSpace(string(out)))
		terr.Attempts = append(terr.Attempts, Attempt{Encoder: enc, Err: err})
		terr.Err = err

		t.logger.Warn("Encoder failed, trying next",
			zap.String("encoder", enc),
			zap.Error(err))

		if ctx.Err() != nil {
			terr.Err = ctx.Err()
			break
		}
	}

	os.Remove(output)
	if terr.Err == nil {
		terr.Err = errors.New("no encoders configured")
	}
	return "", terr
}

// maxCollisions bounds the -N suffix search for a free output name.
const maxCollisions = 1000

// reserveOutput creates an empty file at target, or target-1, target-2, ...
// when taken, and returns the path it claimed.
func reserveOutput(target string) (string, error) {
	ext := filepath.Ext(target)
	base := strings.TrimSuffix(target, ext)

	path := target
	for i := 1; i <= maxCollisions; i++ {
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return path, file.Close()
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("failed to reserve %s: %w", path, err)
		}
		path = fmt.Sprintf("%s-%d%s", base, i, ext)
	}
	return "", fmt.Errorf("no free file name for %s", target)
}

// candidates filters the configured encoders by what ffmpeg reports. If
// probing fails the full list is used and failures surface per encoder.
func (t *FFmpegTranscoder) candidates(ctx context.Context) []string {
	available, err := listEncoders(ctx, t.run, t.path)
	if err != nil {
		t.logger.Debug("Encoder probe failed, trying all configured encoders", zap.Error(err))
		return t.encoders
	}

	var out []string
	for _, enc := range t.encoders {
		if available[enc] {
			out = append(out, enc)
		}
	}
	if len(out) == 0 {
		return t.encoders
	}
	return out
}

func (t *FFmpegTranscoder) args(enc, input, output string) []string {
	args := []string{"-hide_banner", "-y", "-i", input, "-c:v", enc}
	if enc == "libx264" {
		args = append(args,
			"-preset", t.preset,
			"-crf", strconv.Itoa(t.crf),
			"-tune", "zerolatency",
		)
	}
	args = append(args,
		"-c:a", "aac",
		"-threads", strconv.Itoa(t.threads),
		"-movflags", "+faststart",
		output,
	)
	return args
}

// CheckFFmpeg reports whether the ffmpeg binary can be found.
func CheckFFmpeg(path string) error {
	if path == "" {
		path = "ffmpeg"
	}
	if _, err := exec.LookPath(path); err != nil {
		return fmt.Errorf("ffmpeg not found. Install with: brew install ffmpeg (macOS), apt install ffmpeg (Debian/Ubuntu) or winget install ffmpeg (Windows)")
	}
	return nil
}

// AvailableEncoders lists the H.264 encoders this ffmpeg build provides.
func AvailableEncoders(ctx context.Context, path string) ([]string, error) {
	if path == "" {
		path = "ffmpeg"
	}
	available, err := listEncoders(ctx, execRunner, path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, enc := range DefaultEncoders {
		if available[enc] {
			out = append(out, enc)
		}
	}
	return out, nil
}

func listEncoders(ctx context.Context, run Runner, path string) (map[string]bool, error) {
	out, err := run(ctx, path, "-hide_banner", "-encoders")
	if err != nil {
		return nil, fmt.Errorf("listing encoders: %w", err)
	}
	return parseEncoders(out), nil
}

// parseEncoders reads `ffmpeg -encoders` output. Encoder lines look like
// " V....D libx264              libx264 H.264 / AVC ...".
func parseEncoders(out []byte) map[string]bool {
	found := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	pastHeader := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "------") {
			pastHeader = true
			continue
		}
		if !pastHeader {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			found[fields[1]] = true
		}
	}
	return found
}
