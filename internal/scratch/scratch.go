/*
Copyright (c) 2025 Murmur Labs

Licensed under the AGPLv3 License.
This file is part of murmur-engine.
*/

// Package scratch manages the ephemeral audio files written for each
// transcription request. Every file it hands out is expected to be removed
// before the request completes; SweepOrphans bounds disk usage across
// sessions that crashed before cleanup ran.
package scratch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/murmurlabs/murmur-engine/internal/logging"
	"go.uber.org/zap"
)

// filePrefix marks scratch files so the orphan sweep never touches
// unrelated files sharing the directory.
const filePrefix = "murmur-audio-"

// Dir hands out request-scoped audio files under one directory.
type Dir struct {
	path string
}

// NewDir creates a scratch area rooted at path. An empty path falls back to
// the system temp directory.
func NewDir(path string) *Dir {
	if path == "" {
		path = os.TempDir()
	}
	return &Dir{path: path}
}

// Path returns the scratch directory.
func (d *Dir) Path() string {
	return d.path
}

// WriteAudio writes audio bytes to a fresh scratch file and returns its
// path. ext is the file extension including the dot; an empty ext defaults
// to ".webm", the capture container.
func (d *Dir) WriteAudio(audio []byte, ext string) (string, error) {
	if ext == "" {
		ext = ".webm"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	if err := os.MkdirAll(d.path, 0o750); err != nil {
		return "", fmt.Errorf("creating scratch directory: %w", err)
	}

	f, err := os.CreateTemp(d.path, filePrefix+"*"+ext)
	if err != nil {
		return "", fmt.Errorf("creating scratch file: %w", err)
	}

	if _, err := f.Write(audio); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("writing scratch file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("closing scratch file: %w", err)
	}

	return f.Name(), nil
}

// Sibling returns a scratch path next to base with the given extension,
// used for conversion outputs. The file is not created.
func (d *Dir) Sibling(base, ext string) string {
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return strings.TrimSuffix(base, filepath.Ext(base)) + ext
}

// Remove deletes a scratch file, tolerating files already gone.
func (d *Dir) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logging.LogWarn("Failed to remove scratch file",
			zap.String("path", path), zap.Error(err))
	}
}

// SweepOrphans removes scratch files older than maxAge, left behind by
// sessions that crashed mid-request. Fresh files are untouched so an
// in-flight request in another instance is never disturbed. Returns the
// number of files removed.
func (d *Dir) SweepOrphans(maxAge time.Duration) int {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return 0
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), filePrefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}

		full := filepath.Join(d.path, entry.Name())
		if err := os.Remove(full); err == nil {
			removed++
		}
	}

	if removed > 0 {
		logging.LogWarn("Swept orphaned scratch files",
			zap.Int("count", removed), zap.String("dir", d.path))
	}

	return removed
}
