package capture

import (
	"context"
	"errors"
	"io"
)

// ErrPauseUnsupported is returned by streams that cannot suspend capture.
var ErrPauseUnsupported = errors.New("pausing capture is not supported on this platform")

// Selector describes what to capture. Source selection itself happens
// outside the recorder; the selector only carries the result.
type Selector struct {
	Display    string
	Microphone string
	Webcam     string
	FrameRate  int
	WebcamSize int
}

// Source starts capture streams.
type Source interface {
	Begin(ctx context.Context, sel Selector) (Stream, error)
}

// Stream is a running capture. Stop flushes the capture and hands over
// the raw artifact.
type Stream interface {
	Stop(ctx context.Context) (Artifact, error)
}

// Pauser is implemented by streams that can suspend capture in place.
type Pauser interface {
	Pause() error
	Resume() error
}

// Artifact is the raw captured media. Whoever holds it must call Release
// once the data has been copied out.
type Artifact interface {
	Open() (io.ReadCloser, error)
	// Ext is the container extension including the dot, e.g. ".mkv".
	Ext() string
	Size() int64
	Release() error
}
