//go:build !windows

package capture

import (
	"fmt"
	"os"
	"syscall"
)

func suspendProcess(p *os.Process) error {
	if err := p.Signal(syscall.SIGSTOP); err != nil {
		return fmt.Errorf("failed to suspend ffmpeg: %w", err)
	}
	return nil
}

func resumeProcess(p *os.Process) error {
	if err := p.Signal(syscall.SIGCONT); err != nil {
		return fmt.Errorf("failed to resume ffmpeg: %w", err)
	}
	return nil
}
