// Package audit provides durable audit sinks: a JSON Lines file with size
// rotation and a SQLite table.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/Sentinel-Gate/toolgate/internal/domain/audit"
)

var errStoreClosed = errors.New("audit store is closed")

// FileConfig holds configuration for the JSON Lines audit store.
type FileConfig struct {
	// Path is the active audit file. Rotated files get .1, .2, ... suffixes.
	Path string
	// MaxFileSizeMB is the size in megabytes that triggers rotation (default 100).
	MaxFileSizeMB int
	// MaxBackups is the number of rotated files to keep (default 5).
	MaxBackups int
}

// FileStore implements audit.Store as one JSON object per line.
type FileStore struct {
	path        string
	maxFileSize int64
	maxBackups  int
	file        *os.File
	size        int64
	mu          sync.Mutex
	logger      *slog.Logger
	closed      bool
}

// Compile-time interface verification.
var _ audit.Store = (*FileStore)(nil)

// NewFileStore opens (or creates) the audit file at cfg.Path, creating its
// directory with owner-only permissions.
func NewFileStore(cfg FileConfig, logger *slog.Logger) (*FileStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("audit file path is required")
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 100
	}
	if cfg.MaxBackups <= 0 {
		cfg.MaxBackups = 5
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}

	s := &FileStore{
		path:        cfg.Path,
		maxFileSize: int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		maxBackups:  cfg.MaxBackups,
		logger:      logger,
	}
	if err := s.openLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

// Append writes records as compact JSON lines, rotating first when the
// current file has reached its size cap.
func (s *FileStore) Append(_ context.Context, records ...audit.Record) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errStoreClosed
	}

	for _, rec := range records {
		if s.size >= s.maxFileSize {
			if err := s.rotateLocked(); err != nil {
				return fmt.Errorf("rotate audit file: %w", err)
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal audit record: %w", err)
		}
		n, err := s.file.Write(append(data, '\n'))
		s.size += int64(n)
		if err != nil {
			return fmt.Errorf("write audit record: %w", err)
		}
	}
	return nil
}

// Flush syncs the current file to disk.
func (s *FileStore) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file != nil {
		return s.file.Sync()
	}
	return nil
}

// Ping reports whether the active audit file is open and still present on
// disk. A file removed from under the store fails the check.
func (s *FileStore) Ping(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return errStoreClosed
	}
	if _, err := os.Stat(s.path); err != nil {
		return fmt.Errorf("audit file: %w", err)
	}
	return nil
}

// Close syncs and closes the current file. Safe to call more than once.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.file == nil {
		return nil
	}
	_ = s.file.Sync()
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *FileStore) openLocked() error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat audit file: %w", err)
	}
	s.file = f
	s.size = info.Size()
	return nil
}

// rotateLocked shifts path.N-1 to path.N down to path to path.1, dropping
// the oldest backup, then reopens path. Must be called with s.mu held.
func (s *FileStore) rotateLocked() error {
	if s.file != nil {
		_ = s.file.Sync()
		_ = s.file.Close()
		s.file = nil
	}

	oldest := backupName(s.path, s.maxBackups)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("audit rotation: failed to remove oldest backup", "file", oldest, "error", err)
	}
	for i := s.maxBackups - 1; i >= 1; i-- {
		from := backupName(s.path, i)
		if err := os.Rename(from, backupName(s.path, i+1)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	if err := os.Rename(s.path, backupName(s.path, 1)); err != nil && !os.IsNotExist(err) {
		return err
	}

	s.logger.Info("audit file rotated", "file", s.path)
	return s.openLocked()
}

func backupName(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}
