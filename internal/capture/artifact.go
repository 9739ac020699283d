package capture

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileArtifact is a raw capture held in a temporary file.
type FileArtifact struct {
	path string
	size int64
}

// NewFileArtifact wraps an existing capture file. An empty or missing file
// is an error: it means the capture never flushed.
func NewFileArtifact(path string) (*FileArtifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat capture output: %w", err)
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("capture output %s is empty", path)
	}
	return &FileArtifact{path: path, size: info.Size()}, nil
}

// Path returns the temporary file location.
func (a *FileArtifact) Path() string {
	return a.path
}

func (a *FileArtifact) Open() (io.ReadCloser, error) {
	return os.Open(a.path)
}

func (a *FileArtifact) Ext() string {
	return filepath.Ext(a.path)
}

func (a *FileArtifact) Size() int64 {
	return a.size
}

// Release removes the temporary file. Releasing twice is harmless.
func (a *FileArtifact) Release() error {
	if err := os.Remove(a.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove capture file: %w", err)
	}
	return nil
}
