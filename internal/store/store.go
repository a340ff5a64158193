// Package store persists the encrypted license record across an ordered list
// of storage backends. Reads take the first candidate that validates, writes
// go to every candidate, so the license survives a single unwritable or
// corrupted location.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Backend is a single storage location for an opaque license blob.
type Backend interface {
	Read() ([]byte, error)
	Write(data []byte) error
	Remove() error
	Path() string
}

// FileBackend stores the blob in a single file, creating parent directories
// as needed.
type FileBackend struct {
	path string
}

// NewFileBackend creates a file-based backend at path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

func (b *FileBackend) Read() ([]byte, error) {
	return os.ReadFile(b.path)
}

func (b *FileBackend) Write(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		return fmt.Errorf("create parent directory: %w", err)
	}
	return os.WriteFile(b.path, data, 0o600)
}

func (b *FileBackend) Remove() error {
	err := os.Remove(b.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}

func (b *FileBackend) Path() string {
	return b.path
}

// Multi is an ordered set of backends with a first-successful read strategy
// and a write-all, tolerate-individual-failures write strategy.
type Multi struct {
	backends []Backend
	logger   *slog.Logger
}

// NewMulti creates a multi-backend store. Backend order determines read
// preference; the first backend is the primary write target but all of them
// receive every write.
func NewMulti(logger *slog.Logger, backends ...Backend) *Multi {
	if logger == nil {
		logger = slog.Default()
	}
	return &Multi{
		backends: backends,
		logger:   logger.With(slog.String("component", "license_store")),
	}
}

// NewMultiFile is a convenience constructor over file paths.
func NewMultiFile(logger *slog.Logger, paths ...string) *Multi {
	backends := make([]Backend, 0, len(paths))
	for _, p := range paths {
		backends = append(backends, NewFileBackend(p))
	}
	return NewMulti(logger, backends...)
}

// ErrNotFound is returned by Load when no candidate holds a valid record.
var ErrNotFound = errors.New("store: no valid record in any candidate")

// Load returns the first candidate payload for which validate returns nil.
// Unreadable or invalid candidates are skipped with a debug log; only a
// fully empty result is an error.
func (m *Multi) Load(validate func(data []byte) error) ([]byte, error) {
	for _, b := range m.backends {
		data, err := b.Read()
		if err != nil {
			if !os.IsNotExist(err) {
				m.logger.Debug("license candidate unreadable",
					slog.String("path", b.Path()),
					slog.String("error", err.Error()))
			}
			continue
		}
		if err := validate(data); err != nil {
			m.logger.Debug("license candidate failed validation",
				slog.String("path", b.Path()),
				slog.String("error", err.Error()))
			continue
		}
		return data, nil
	}
	return nil, ErrNotFound
}

// Save writes data to every backend. Individual failures are logged and
// tolerated; Save fails only when no backend accepted the write.
func (m *Multi) Save(data []byte) error {
	var failures []error
	written := 0
	for _, b := range m.backends {
		if err := b.Write(data); err != nil {
			m.logger.Warn("license candidate write failed",
				slog.String("path", b.Path()),
				slog.String("error", err.Error()))
			failures = append(failures, fmt.Errorf("%s: %w", b.Path(), err))
			continue
		}
		written++
	}
	if written == 0 {
		return fmt.Errorf("store: all %d candidates failed: %w", len(m.backends), errors.Join(failures...))
	}
	m.logger.Debug("license record persisted",
		slog.Int("written", written),
		slog.Int("candidates", len(m.backends)))
	return nil
}

// RemoveAll deletes every candidate, best effort. It reports whether every
// existing candidate was removed.
func (m *Multi) RemoveAll() bool {
	ok := true
	for _, b := range m.backends {
		if err := b.Remove(); err != nil {
			m.logger.Warn("license candidate removal failed",
				slog.String("path", b.Path()),
				slog.String("error", err.Error()))
			ok = false
		}
	}
	return ok
}

// Paths returns the candidate paths in read-preference order.
func (m *Multi) Paths() []string {
	paths := make([]string, 0, len(m.backends))
	for _, b := range m.backends {
		paths = append(paths, b.Path())
	}
	return paths
}
