/*
Copyright (c) 2025 Murmur Labs

Licensed under the AGPLv3 License.
This file is part of murmur-engine.
*/

// Package settings persists per-adapter engine selection as flat JSON
// documents in a user-writable directory. Each adapter owns one document;
// a missing or corrupt file falls back to defaults rather than failing,
// so first launch and damaged installs behave identically.
package settings

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"

	"github.com/murmurlabs/murmur-engine/internal/logging"
	"go.uber.org/zap"
)

const (
	remoteFileName = "remote.json"
	localFileName  = "local.json"
)

// RemoteSettings holds the persisted remote adapter configuration.
type RemoteSettings struct {
	EndpointURL   string `json:"endpointUrl"`
	APIKey        string `json:"apiKey"`
	SelectedModel string `json:"selectedModel"`
	Configured    bool   `json:"isConfigured"`
}

// LocalSettings holds the persisted local adapter configuration.
type LocalSettings struct {
	ActiveModelID string `json:"activeModelId"`
}

// Store persists adapter settings documents under one directory.
type Store struct {
	dir string
}

// NewStore creates a settings store rooted at dir. The directory is created
// lazily on first save.
func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the directory holding the settings documents.
func (s *Store) Dir() string {
	return s.dir
}

// LoadRemote reads the remote adapter settings, returning defaults when the
// file is missing or unreadable.
func (s *Store) LoadRemote(defaults RemoteSettings) RemoteSettings {
	var cfg RemoteSettings
	if !s.load(remoteFileName, &cfg) {
		return defaults
	}
	return cfg
}

// SaveRemote writes the remote adapter settings to disk.
func (s *Store) SaveRemote(cfg RemoteSettings) error {
	return s.save(remoteFileName, cfg)
}

// LoadLocal reads the local adapter settings, returning defaults when the
// file is missing or unreadable.
func (s *Store) LoadLocal(defaults LocalSettings) LocalSettings {
	var cfg LocalSettings
	if !s.load(localFileName, &cfg) {
		return defaults
	}
	return cfg
}

// SaveLocal writes the local adapter settings to disk.
func (s *Store) SaveLocal(cfg LocalSettings) error {
	return s.save(localFileName, cfg)
}

func (s *Store) load(name string, out interface{}) bool {
	path := filepath.Join(s.dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logging.LogWarn("Settings file unreadable, using defaults",
				zap.String("path", path), zap.Error(err))
		}
		return false
	}

	if err := json.Unmarshal(data, out); err != nil {
		logging.LogWarn("Settings file corrupt, using defaults",
			zap.String("path", path), zap.Error(err))
		return false
	}

	return true
}

// save writes the document via a temp file and rename so a crash mid-write
// never leaves a truncated document behind.
func (s *Store) save(name string, cfg interface{}) error {
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	return nil
}
