package fs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "buybot/internal/infra/log"
	"buybot/internal/settings"

	"go.uber.org/zap"
)

// DefaultSettingsFile matches the file name older deployments already have on disk.
const DefaultSettingsFile = "bot_settings.json"

// SettingsFile persists the settings blob as a JSON file.
type SettingsFile struct {
	path string
}

func NewSettingsFile(path string) *SettingsFile {
	if path == "" {
		path = DefaultSettingsFile
	}
	return &SettingsFile{path: path}
}

func (f *SettingsFile) Path() string { return f.path }

func (f *SettingsFile) Load(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		log.LogDebug("Settings file does not exist", zap.String("file", f.path))
		return nil, settings.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		log.LogDebug("Settings file is empty", zap.String("file", f.path))
		return nil, settings.ErrNotFound
	}
	return data, nil
}

// Save writes through a temporary file and a rename so a crash never leaves a half-written file.
func (f *SettingsFile) Save(_ context.Context, data []byte) error {
	if err := WriteFileAtomic(f.path, data); err != nil {
		return err
	}
	log.LogDebug("Saved settings file", zap.String("file", f.path), zap.Int("bytes", len(data)))
	return nil
}

func (f *SettingsFile) Close() error { return nil }

// WriteFileAtomic replaces path with data via path.tmp and os.Rename.
func WriteFileAtomic(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}
