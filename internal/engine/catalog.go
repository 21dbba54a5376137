/*
Copyright (c) 2025 Murmur Labs

Licensed under the AGPLv3 License.
This file is part of murmur-engine.
*/

package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// LocalModel describes one sidecar model's on-disk file set. A model is
// complete only when both the inference weights and the token vocabulary
// are present; the directory existing is not enough, since interrupted
// downloads leave partial trees behind.
type LocalModel struct {
	Name       string // sidecar name, without the shared-namespace prefix
	Label      string
	DirPrefix  string // alternate directory name used by upstream archives
	WeightsURL string
	TokensURL  string
}

// knownLocalModels are the Parakeet TDT builds the sidecar ships support
// for. Order here is display order.
var knownLocalModels = []LocalModel{
	{
		Name:       "parakeet-tdt-0.6b-v2-int8",
		Label:      "Parakeet English (int8)",
		DirPrefix:  "sherpa-onnx-nemo-parakeet-tdt-0.6b-v2-int8",
		WeightsURL: "https://huggingface.co/csukuangfj/sherpa-onnx-nemo-parakeet-tdt-0.6b-v2-int8/resolve/main/model.int8.onnx",
		TokensURL:  "https://huggingface.co/csukuangfj/sherpa-onnx-nemo-parakeet-tdt-0.6b-v2-int8/resolve/main/tokens.txt",
	},
	{
		Name:       "parakeet-tdt-0.6b-v3-int8",
		Label:      "Parakeet Multilingual (int8)",
		DirPrefix:  "sherpa-onnx-nemo-parakeet-tdt-0.6b-v3-int8",
		WeightsURL: "https://huggingface.co/csukuangfj/sherpa-onnx-nemo-parakeet-tdt-0.6b-v3-int8/resolve/main/model.int8.onnx",
		TokensURL:  "https://huggingface.co/csukuangfj/sherpa-onnx-nemo-parakeet-tdt-0.6b-v3-int8/resolve/main/tokens.txt",
	},
}

const (
	weightsFileName = "model.int8.onnx"
	tokensFileName  = "tokens.txt"
)

// ModelFiles holds resolved absolute paths for a complete model.
type ModelFiles struct {
	Dir     string
	Weights string
	Tokens  string
}

// Catalog resolves sidecar models under a base directory.
type Catalog struct {
	baseDir string
}

// NewCatalog creates a catalog over baseDir.
func NewCatalog(baseDir string) *Catalog {
	return &Catalog{baseDir: baseDir}
}

// BaseDir returns the model base directory.
func (c *Catalog) BaseDir() string {
	return c.baseDir
}

// Known returns the built-in model list.
func (c *Catalog) Known() []LocalModel {
	out := make([]LocalModel, len(knownLocalModels))
	copy(out, knownLocalModels)
	return out
}

// Lookup finds a known model by sidecar name.
func (c *Catalog) Lookup(name string) (LocalModel, bool) {
	for _, m := range knownLocalModels {
		if m.Name == name {
			return m, true
		}
	}
	return LocalModel{}, false
}

// Dir locates the model's directory on disk. Models may live under their
// plain name or under the upstream archive name.
func (c *Catalog) Dir(name string) (string, bool) {
	candidates := []string{filepath.Join(c.baseDir, name)}
	if m, ok := c.Lookup(name); ok && m.DirPrefix != "" {
		candidates = append(candidates, filepath.Join(c.baseDir, m.DirPrefix))
	}

	for _, dir := range candidates {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return dir, true
		}
	}
	return "", false
}

// Resolve returns the model's file set, or an error naming the first
// missing piece. Both weights and tokens must be regular non-empty files.
func (c *Catalog) Resolve(name string) (ModelFiles, error) {
	dir, ok := c.Dir(name)
	if !ok {
		return ModelFiles{}, fmt.Errorf("model %q not found under %s: %w", name, c.baseDir, ErrModelNotDownloaded)
	}

	files := ModelFiles{
		Dir:     dir,
		Weights: filepath.Join(dir, weightsFileName),
		Tokens:  filepath.Join(dir, tokensFileName),
	}

	for _, p := range []string{files.Weights, files.Tokens} {
		info, err := os.Stat(p)
		if err != nil || info.IsDir() || info.Size() == 0 {
			return ModelFiles{}, fmt.Errorf("model %q is incomplete, missing %s: %w",
				name, filepath.Base(p), ErrModelNotDownloaded)
		}
	}

	return files, nil
}

// IsComplete reports whether the model's full file set is on disk.
func (c *Catalog) IsComplete(name string) bool {
	_, err := c.Resolve(name)
	return err == nil
}

// Downloaded lists the names of models whose file sets are complete,
// including directories not in the known list, sorted for stable output.
func (c *Catalog) Downloaded() []string {
	entries, err := os.ReadDir(c.baseDir)
	if err != nil {
		return nil
	}

	seen := map[string]bool{}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := c.canonicalName(entry.Name())
		if seen[name] || !c.IsComplete(name) {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

// canonicalName maps an on-disk directory name back to the sidecar model
// name, stripping upstream archive prefixes.
func (c *Catalog) canonicalName(dirName string) string {
	for _, m := range knownLocalModels {
		if m.DirPrefix == dirName {
			return m.Name
		}
	}
	return dirName
}
