package finalize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brollyhub/screenrec/internal/capture"
	"go.uber.org/zap"
)

// ErrStorageWrite marks failures to persist the raw recording.
var ErrStorageWrite = errors.New("storage write failed")

// maxCollisions bounds the -N suffix search for a free file name.
const maxCollisions = 1000

// Transcoder converts a raw recording into a more portable format.
type Transcoder interface {
	Transcode(ctx context.Context, rawPath string) (string, error)
}

// Output describes the delivered recording.
type Output struct {
	// Path is the final artifact: the transcoded file, or the raw file
	// when transcoding failed.
	Path         string
	RawPath      string
	Transcoded   bool
	TranscodeErr error
	Bytes        int64
}

// Finalizer saves a raw capture and converts it.
type Finalizer struct {
	dir        string
	prefix     string
	prompter   Prompter
	transcoder Transcoder
	now        func() time.Time
	logger     *zap.Logger
}

// Config holds configuration for the finalizer
type Config struct {
	// Dir is the default save directory.
	Dir        string
	Prefix     string
	Prompter   Prompter
	Transcoder Transcoder
	Now        func() time.Time
	Logger     *zap.Logger
}

// New creates a Finalizer.
func New(cfg Config) *Finalizer {
	if cfg.Dir == "" {
		cfg.Dir = filepath.Join(".", "recordings")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "recording"
	}
	if cfg.Prompter == nil {
		cfg.Prompter = NoPrompt{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Finalizer{
		dir:        cfg.Dir,
		prefix:     cfg.Prefix,
		prompter:   cfg.Prompter,
		transcoder: cfg.Transcoder,
		now:        cfg.Now,
		logger:     cfg.Logger,
	}
}

// DefaultPath is where a recording goes when the user picks nothing.
func (f *Finalizer) DefaultPath(ext string) string {
	return filepath.Join(f.dir, fmt.Sprintf("%s-%d%s", f.prefix, f.now().UnixMilli(), ext))
}

// Finalize takes ownership of artifact, writes it once to the chosen
// destination and transcodes it. A transcode failure is not an error: the
// raw path is returned with Output.TranscodeErr set.
func (f *Finalizer) Finalize(ctx context.Context, artifact capture.Artifact) (Output, error) {
	defer func() {
		if err := artifact.Release(); err != nil {
			f.logger.Warn("Failed to release capture artifact", zap.Error(err))
		}
	}()

	target := f.resolveDestination(ctx, artifact.Ext())

	rawPath, written, err := f.writeRaw(target, artifact)
	if err != nil {
		return Output{}, err
	}

	f.logger.Info("Raw recording saved",
		zap.String("path", rawPath),
		zap.Int64("bytes", written))

	out := Output{Path: rawPath, RawPath: rawPath, Bytes: written}
	if f.transcoder == nil {
		return out, nil
	}

	finalPath, err := f.transcoder.Transcode(ctx, rawPath)
	if err != nil {
		f.logger.Warn("Transcode failed, keeping raw recording",
			zap.String("path", rawPath),
			zap.Error(err))
		out.TranscodeErr = err
		return out, nil
	}

	if err := os.Remove(rawPath); err != nil {
		f.logger.Warn("Failed to remove raw recording", zap.String("path", rawPath), zap.Error(err))
	}
	out.Path = finalPath
	out.Transcoded = true
	if info, err := os.Stat(finalPath); err == nil {
		out.Bytes = info.Size()
	}
	return out, nil
}

// resolveDestination asks the prompter and falls back to the default path
// on no answer, cancel or prompt error.
func (f *Finalizer) resolveDestination(ctx context.Context, ext string) string {
	def := f.DefaultPath(ext)

	path, ok, err := f.prompter.PromptSaveLocation(ctx, def)
	if err != nil {
		f.logger.Warn("Save prompt failed, using default location", zap.Error(err))
		return def
	}
	if !ok || strings.TrimSpace(path) == "" {
		return def
	}

	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return filepath.Join(path, filepath.Base(def))
	}
	// The raw file carries the capture's container; the transcoder then
	// produces the name the user typed.
	return strings.TrimSuffix(path, videoExt(path)) + ext
}

// videoExt returns path's extension if it names a video container.
func videoExt(path string) string {
	ext := filepath.Ext(path)
	switch strings.ToLower(ext) {
	case ".mp4", ".mkv", ".webm", ".mov", ".avi", ".m4v":
		return ext
	}
	return ""
}

func (f *Finalizer) writeRaw(target string, artifact capture.Artifact) (string, int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", 0, fmt.Errorf("%w: failed to create directory: %w", ErrStorageWrite, err)
	}

	file, path, err := createExclusive(target)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}

	src, err := artifact.Open()
	if err != nil {
		file.Close()
		os.Remove(path)
		return "", 0, fmt.Errorf("%w: failed to open capture: %w", ErrStorageWrite, err)
	}
	defer src.Close()

	n, err := io.Copy(file, src)
	if err == nil {
		err = file.Sync()
	}
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return "", 0, fmt.Errorf("%w: failed to write %s: %w", ErrStorageWrite, path, err)
	}
	return path, n, nil
}

// createExclusive creates target, or target-1, target-2, ... if taken.
func createExclusive(target string) (*os.File, string, error) {
	ext := filepath.Ext(target)
	base := strings.TrimSuffix(target, ext)

	path := target
	for i := 1; i <= maxCollisions; i++ {
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return file, path, nil
		}
		if !os.IsExist(err) {
			return nil, "", fmt.Errorf("failed to create %s: %w", path, err)
		}
		path = fmt.Sprintf("%s-%d%s", base, i, ext)
	}
	return nil, "", fmt.Errorf("no free file name for %s", target)
}
