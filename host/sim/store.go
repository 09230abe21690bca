package sim

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"matrixscan/core"
)

// FileStore persists settings of the simulated device in a YAML file. It
// follows the flash store contract: a record from another firmware version
// is reported and never migrated.
type FileStore struct {
	Path    string
	Version uint32
}

type fileRecord struct {
	Version  uint32            `yaml:"version"`
	Settings core.ScanSettings `yaml:"settings"`
}

// NewFileStore creates a store at path tagged with version
func NewFileStore(path string, version uint32) *FileStore {
	return &FileStore{Path: path, Version: version}
}

// LoadSettings reads the file. s is only modified when a valid record was
// found.
func (f *FileStore) LoadSettings(s *core.ScanSettings) error {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return core.ErrNoSettings
		}
		return fmt.Errorf("failed to read settings file: %w", err)
	}

	var rec fileRecord
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("%w: %v", core.ErrCorruptSettings, err)
	}
	if rec.Version != f.Version {
		return core.ErrVersionMismatch
	}
	if err := rec.Settings.Validate(); err != nil {
		return err
	}
	*s = rec.Settings
	return nil
}

// SaveSettings replaces the file atomically
func (f *FileStore) SaveSettings(s *core.ScanSettings) error {
	data, err := yaml.Marshal(fileRecord{Version: f.Version, Settings: *s})
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.Path), ".settings-*")
	if err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	return nil
}
