/*
Copyright (c) 2025 Murmur Labs

Licensed under the AGPLv3 License.
This file is part of murmur-engine.
*/

package engine

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// writeModelDir lays down a model directory with the given files. Content
// maps file name to bytes; nil bytes creates an empty file.
func writeModelDir(t *testing.T, baseDir, dirName string, content map[string][]byte) {
	t.Helper()

	dir := filepath.Join(baseDir, dirName)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	for name, data := range content {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func completeModelFiles() map[string][]byte {
	return map[string][]byte{
		"model.int8.onnx": []byte("weights"),
		"tokens.txt":      []byte("<blk>\n"),
	}
}

func TestResolveMissingModel(t *testing.T) {
	catalog := NewCatalog(t.TempDir())

	_, err := catalog.Resolve("parakeet-tdt-0.6b-v2-int8")
	if !errors.Is(err, ErrModelNotDownloaded) {
		t.Errorf("Resolve() error = %v, want ErrModelNotDownloaded", err)
	}
}

func TestResolveIncompleteModel(t *testing.T) {
	tests := []struct {
		name    string
		content map[string][]byte
	}{
		{"missing tokens", map[string][]byte{"model.int8.onnx": []byte("weights")}},
		{"missing weights", map[string][]byte{"tokens.txt": []byte("<blk>\n")}},
		{"empty weights", map[string][]byte{"model.int8.onnx": nil, "tokens.txt": []byte("<blk>\n")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			baseDir := t.TempDir()
			writeModelDir(t, baseDir, "parakeet-tdt-0.6b-v2-int8", tt.content)

			catalog := NewCatalog(baseDir)
			_, err := catalog.Resolve("parakeet-tdt-0.6b-v2-int8")
			if !errors.Is(err, ErrModelNotDownloaded) {
				t.Errorf("Resolve() error = %v, want ErrModelNotDownloaded", err)
			}
			if catalog.IsComplete("parakeet-tdt-0.6b-v2-int8") {
				t.Error("IsComplete() = true for a partial file set")
			}
		})
	}
}

func TestResolveCompleteModel(t *testing.T) {
	baseDir := t.TempDir()
	writeModelDir(t, baseDir, "parakeet-tdt-0.6b-v2-int8", completeModelFiles())

	catalog := NewCatalog(baseDir)
	files, err := catalog.Resolve("parakeet-tdt-0.6b-v2-int8")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if filepath.Base(files.Weights) != "model.int8.onnx" {
		t.Errorf("Weights = %q", files.Weights)
	}
	if filepath.Base(files.Tokens) != "tokens.txt" {
		t.Errorf("Tokens = %q", files.Tokens)
	}
}

func TestDirAcceptsUpstreamArchiveName(t *testing.T) {
	// Archives extract to the upstream directory name; the catalog must find
	// the model under either name.
	baseDir := t.TempDir()
	writeModelDir(t, baseDir, "sherpa-onnx-nemo-parakeet-tdt-0.6b-v2-int8", completeModelFiles())

	catalog := NewCatalog(baseDir)
	dir, ok := catalog.Dir("parakeet-tdt-0.6b-v2-int8")
	if !ok {
		t.Fatal("Dir() did not find the upstream-named directory")
	}
	if filepath.Base(dir) != "sherpa-onnx-nemo-parakeet-tdt-0.6b-v2-int8" {
		t.Errorf("Dir() = %q", dir)
	}
	if !catalog.IsComplete("parakeet-tdt-0.6b-v2-int8") {
		t.Error("IsComplete() = false for upstream-named directory")
	}
}

func TestDownloaded(t *testing.T) {
	baseDir := t.TempDir()
	writeModelDir(t, baseDir, "sherpa-onnx-nemo-parakeet-tdt-0.6b-v2-int8", completeModelFiles())
	writeModelDir(t, baseDir, "zz-custom-model", completeModelFiles())
	writeModelDir(t, baseDir, "parakeet-tdt-0.6b-v3-int8", map[string][]byte{
		"model.int8.onnx": []byte("weights"),
	})

	catalog := NewCatalog(baseDir)
	got := catalog.Downloaded()
	want := []string{"parakeet-tdt-0.6b-v2-int8", "zz-custom-model"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Downloaded() = %v, want %v", got, want)
	}
}

func TestDownloadedMissingBaseDir(t *testing.T) {
	catalog := NewCatalog(filepath.Join(t.TempDir(), "does-not-exist"))
	if got := catalog.Downloaded(); got != nil {
		t.Errorf("Downloaded() = %v, want nil", got)
	}
}

func TestLookup(t *testing.T) {
	catalog := NewCatalog(t.TempDir())

	if _, ok := catalog.Lookup("parakeet-tdt-0.6b-v3-int8"); !ok {
		t.Error("Lookup() did not find a known model")
	}
	if _, ok := catalog.Lookup("whisper-large-v3"); ok {
		t.Error("Lookup() found an unknown model")
	}
}
