package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bryanchriswhite/WinOpacity/internal/logger"
	"github.com/spf13/afero"
)

// Store reads and writes the config file. It holds no state between calls:
// every Load reads the file fresh, since another process may have changed
// it since the last read.
type Store struct {
	fs   afero.Fs
	path string
}

// NewStore creates a store for the config file at path
func NewStore(fs afero.Fs, path string) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Store{fs: fs, path: path}
}

// DefaultPath returns $XDG_CONFIG_HOME/winopacity/config.json
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config directory: %w", err)
	}
	return filepath.Join(dir, "winopacity", "config.json"), nil
}

// Path returns the config file path
func (s *Store) Path() string {
	return s.path
}

// Fs returns the filesystem the store works on
func (s *Store) Fs() afero.Fs {
	return s.fs
}

// Load reads and parses the config file
func (s *Store) Load() (*Document, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigUnreadable, err)
	}

	doc, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}

	logger.WithComponent("config").Debug().
		Str("path", s.path).
		Int("rules", len(doc.Config.Windows)).
		Float64("poll_ms", doc.Config.PollInMilliseconds).
		Bool("kill", doc.Config.Kill).
		Msg("Config loaded")

	return doc, nil
}

// Save writes doc, indented the way prev was. prev is the text the caller
// last read from disk, normally doc.Raw. On success doc.Raw holds the new
// file contents.
func (s *Store) Save(prev []byte, doc *Document) error {
	data, err := Encode(prev, doc)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := s.writeAtomic(data); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", s.path).
			Msg("Failed to write config")
		return err
	}

	doc.Raw = data
	logger.WithComponent("config").Debug().
		Str("path", s.path).
		Strs("keys", doc.Keys()).
		Msg("Config saved")
	return nil
}

// writeAtomic writes to a temp file next to the config and renames it over
// the config, so a reader never sees a truncated file.
func (s *Store) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	mode := os.FileMode(0644)
	if info, err := s.fs.Stat(s.path); err == nil {
		mode = info.Mode().Perm()
	}

	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := s.fs.Chmod(tmpName, mode); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to set config permissions: %w", err)
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}
