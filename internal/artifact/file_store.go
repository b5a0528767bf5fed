package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/spherical-ai/finsight/internal/domain"
)

// FileStore keeps artifacts as files in a directory.
type FileStore struct {
	dir       string
	writeFile func(name string, data []byte, perm os.FileMode) error
}

// NewFileStore creates a store rooted at dir, creating it if needed. An
// empty dir selects the OS temp directory.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &FileStore{dir: dir, writeFile: os.WriteFile}, nil
}

// Dir returns the root directory.
func (s *FileStore) Dir() string {
	return s.dir
}

type fileHandle struct {
	store    *FileStore
	name     string
	filename string
	path     string
	size     int64
	released atomic.Bool
}

func (h *fileHandle) Name() string     { return h.name }
func (h *fileHandle) Filename() string { return h.filename }
func (h *fileHandle) Size() int64      { return h.size }

// Path is the file location of the artifact.
func (h *fileHandle) Path() string { return h.path }

func (h *fileHandle) Bytes(ctx context.Context) ([]byte, error) {
	if h.released.Load() {
		return nil, ErrAlreadyReleased
	}
	return os.ReadFile(h.path)
}

// Materialize decodes the submission and writes it to disk.
func (s *FileStore) Materialize(ctx context.Context, runID string, sub domain.Submission) (Handle, error) {
	data, err := Decode(sub.Content)
	if err != nil {
		return nil, err
	}

	name := Name(runID, sub.Filename)
	p := filepath.Join(s.dir, name)
	if err := s.writeFile(p, data, 0o600); err != nil {
		// a short write leaves a partial file that no handle will release
		_ = os.Remove(p)
		return nil, domain.InternalError("persist artifact", err)
	}

	return &fileHandle{
		store:    s,
		name:     name,
		filename: sub.Filename,
		path:     p,
		size:     int64(len(data)),
	}, nil
}

// Release deletes the artifact file.
func (s *FileStore) Release(ctx context.Context, h Handle) error {
	fh, ok := h.(*fileHandle)
	if !ok || fh.store != s {
		return ErrForeignHandle
	}
	if !fh.released.CompareAndSwap(false, true) {
		return ErrAlreadyReleased
	}
	if err := os.Remove(fh.path); err != nil {
		return fmt.Errorf("remove artifact %s: %w", fh.name, err)
	}
	return nil
}
