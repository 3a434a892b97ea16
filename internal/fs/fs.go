// Package fs provides file system operations for persisted service units
package fs

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio"

	"github.com/5gconnect/charmd/internal/config"
	"github.com/5gconnect/charmd/internal/log"
)

// UnitSuffix is appended to service names to form unit file names.
const UnitSuffix = ".service"

// Store persists rendered unit files in a single directory.
type Store struct {
	dir    string
	logger log.Logger
}

// NewStore creates a store rooted at dir.
func NewStore(dir string, logger log.Logger) *Store {
	return &Store{dir: dir, logger: logger}
}

// NewStoreFromConfig creates a store rooted at the configured unit directory.
func NewStoreFromConfig(configProvider config.Provider, logger log.Logger) *Store {
	return NewStore(configProvider.GetConfig().UnitDir, logger)
}

// Dir returns the directory unit files are stored in.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the full path for a service's unit file.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name+UnitSuffix)
}

// HasChanged checks if content differs from the stored unit file.
func (s *Store) HasChanged(name string, content []byte) bool {
	path := s.Path(name)
	existing, err := os.ReadFile(path) //nolint:gosec // Path is built from a validated service name
	if err != nil {
		return true
	}

	s.logger.Debug("Content hash comparison",
		"path", path,
		"existing", ContentHash(existing),
		"new", ContentHash(content))

	if string(existing) == string(content) {
		s.logger.Debug("Unit unchanged, skipping", "path", path)
		return false
	}
	return true
}

// Write atomically replaces the unit file for name. Readers see either the
// old content or the new content, never a partial file.
func (s *Store) Write(name string, content []byte) error {
	path := s.Path(name)
	s.logger.Debug("Writing unit file", "path", path)

	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return fmt.Errorf("failed to create unit directory: %w", err)
	}
	if err := renameio.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("failed to write unit file %s: %w", path, err)
	}
	return nil
}

// Read returns the stored unit file for name.
func (s *Store) Read(name string) ([]byte, error) {
	content, err := os.ReadFile(s.Path(name)) //nolint:gosec // Path is built from a validated service name
	if err != nil {
		return nil, fmt.Errorf("failed to read unit file for %s: %w", name, err)
	}
	return content, nil
}

// Remove deletes the unit file for name. A missing file is not an error.
func (s *Store) Remove(name string) error {
	path := s.Path(name)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove unit file %s: %w", path, err)
	}
	s.logger.Debug("Removed unit file", "path", path)
	return nil
}

// ContentHash calculates a SHA-256 hex digest for change tracking.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
