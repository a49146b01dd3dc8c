package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/starkops/scarb-sync/internal/model"
	"go.uber.org/zap"
)

// FileStore persists the versions file: lenient load, rename the previous
// file aside, then write sorted pretty-printed JSON.
type FileStore struct {
	path   string
	logger *zap.Logger
}

// NewFileStore creates a store for the versions file at path.
func NewFileStore(path string, logger *zap.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// Path returns the location of the versions file.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the currently persisted versions. A missing, unreadable or
// unparsable file yields an empty baseline; the problem is logged as a
// warning and never blocks a run, the next write replaces the damaged
// file after backing it up.
func (s *FileStore) Load() model.VersionsFile {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("no existing versions file", zap.String("path", s.path))
		} else {
			s.logger.Warn("failed to read existing versions file",
				zap.String("path", s.path), zap.Error(err))
		}
		return model.VersionsFile{}
	}

	var versions model.VersionsFile
	if err := json.Unmarshal(data, &versions); err != nil {
		s.logger.Warn("existing versions file is invalid, starting from empty",
			zap.String("path", s.path), zap.Error(err))
		return model.VersionsFile{}
	}
	if versions == nil {
		versions = model.VersionsFile{}
	}

	s.logger.Info("loaded existing versions",
		zap.String("path", s.path), zap.Int("count", len(versions)))
	return versions
}

// Write persists versions at the store's path, renaming any existing file
// aside to a timestamped backup first. The parent directory is created if
// needed.
func (s *FileStore) Write(versions model.VersionsFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create versions directory: %w", err)
	}

	if _, err := os.Stat(s.path); err == nil {
		backup := backupPath(s.path, time.Now())
		if err := os.Rename(s.path, backup); err != nil {
			return fmt.Errorf("failed to back up versions file: %w", err)
		}
		s.logger.Info("backed up existing versions file", zap.String("backup", backup))
	}

	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("failed to create versions file: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(versions); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode versions file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close versions file: %w", err)
	}

	s.logger.Info("wrote versions file",
		zap.String("path", s.path), zap.Int("count", len(versions)))
	return nil
}

// backupPath swaps the file extension for a timestamped backup suffix:
// versions.json becomes versions.json.bak-20240131_042918.
func backupPath(path string, now time.Time) string {
	ext := filepath.Ext(path)
	return path[:len(path)-len(ext)] + ".json.bak-" + now.Format("20060102_150405")
}

// Lock takes the single-instance lock next to the versions file, so two
// concurrent runs cannot interleave the backup and write sequence. The
// returned release func removes the lock file.
func (s *FileStore) Lock() (func(), error) {
	lockPath := s.path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create versions directory: %w", err)
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("lock file %s exists, another instance appears to be running", lockPath)
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()

	return func() {
		if err := os.Remove(lockPath); err != nil {
			s.logger.Warn("failed to remove lock file",
				zap.String("path", lockPath), zap.Error(err))
		}
	}, nil
}
