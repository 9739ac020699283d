package finalize

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultPromptTimeout is how long TerminalPrompter waits for an answer.
const DefaultPromptTimeout = 2 * time.Minute

// Prompter asks where to save a recording. ok=false means the user gave
// no answer and the default path should be used.
type Prompter interface {
	PromptSaveLocation(ctx context.Context, defaultPath string) (path string, ok bool, err error)
}

// NoPrompt always takes the default location.
type NoPrompt struct{}

func (NoPrompt) PromptSaveLocation(context.Context, string) (string, bool, error) {
	return "", false, nil
}

// FixedPrompter answers with a path chosen up front, e.g. from --output.
type FixedPrompter struct {
	Path string
}

func (p FixedPrompter) PromptSaveLocation(context.Context, string) (string, bool, error) {
	if p.Path == "" {
		return "", false, nil
	}
	return p.Path, true, nil
}

// TerminalPrompter asks on the terminal. It reads answers from Lines so
// that stdin can be shared with other readers; a closed channel counts as
// a cancel. No answer within Timeout also takes the default.
type TerminalPrompter struct {
	Lines   <-chan string
	Out     io.Writer
	Timeout time.Duration
}

func (p *TerminalPrompter) PromptSaveLocation(ctx context.Context, defaultPath string) (string, bool, error) {
	out := p.Out
	if out == nil {
		out = os.Stdout
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultPromptTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	fmt.Fprintf(out, "Save recording to [%s]: ", defaultPath)

	select {
	case line, open := <-p.Lines:
		if !open {
			fmt.Fprintln(out)
			return "", false, nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return "", false, nil
		}
		return expandTilde(line), true, nil
	case <-timer.C:
		fmt.Fprintln(out, "(no answer, using default)")
		return "", false, nil
	case <-ctx.Done():
		fmt.Fprintln(out)
		return "", false, ctx.Err()
	}
}

// ReadLines feeds lines from r into a channel that is closed at EOF.
func ReadLines(r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
