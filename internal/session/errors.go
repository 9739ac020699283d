package session

import (
	"errors"
	"fmt"
)

// ErrorKind classifies session errors.
type ErrorKind int

const (
	KindInvalidTransition ErrorKind = iota + 1
	KindCaptureStart
	KindCaptureStop
	KindStorageWrite
	KindTranscode
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrCaptureStart      = errors.New("capture start failed")
	ErrCaptureStop       = errors.New("capture stop failed")
	ErrStorageWrite      = errors.New("storage write failed")
	ErrTranscode         = errors.New("transcode failed")

	// ErrCancelled is returned by Wait when a session was stopped during
	// the countdown, before anything was captured.
	ErrCancelled = errors.New("recording cancelled before capture started")
	// ErrNoSession is returned by Wait when nothing was begun.
	ErrNoSession = errors.New("no recording session")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindInvalidTransition:
		return ErrInvalidTransition
	case KindCaptureStart:
		return ErrCaptureStart
	case KindCaptureStop:
		return ErrCaptureStop
	case KindStorageWrite:
		return ErrStorageWrite
	case KindTranscode:
		return ErrTranscode
	default:
		return nil
	}
}

func (k ErrorKind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	return "unknown error"
}

// Error is a session failure with its kind and the command that hit it.
type Error struct {
	Kind  ErrorKind
	Op    string
	State State
	Err   error
}

func (e *Error) Error() string {
	if e.Kind == KindInvalidTransition {
		return fmt.Sprintf("cannot %s while %s", e.Op, e.State)
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func invalidTransition(op string, state State) error {
	return &Error{Kind: KindInvalidTransition, Op: op, State: state}
}
