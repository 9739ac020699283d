//go:build windows

package capture

import "os"

func suspendProcess(*os.Process) error {
	return ErrPauseUnsupported
}

func resumeProcess(*os.Process) error {
	return ErrPauseUnsupported
}
