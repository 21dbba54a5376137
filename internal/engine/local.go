/*
Copyright (c) 2025 Murmur Labs

Licensed under the AGPLv3 License.
This file is part of murmur-engine.
*/

package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/murmurlabs/murmur-engine/internal/logging"
	"github.com/murmurlabs/murmur-engine/internal/settings"
	"github.com/murmurlabs/murmur-engine/internal/sidecar"
	"go.uber.org/zap"
)

// LocalConfig configures the local sidecar adapter.
type LocalConfig struct {
	BinaryName string
	InstallDir string // user-writable installed copy
	BundleDir  string // packaged resource location
	ModelDir   string
	Provider   string
	NumThreads int
	Timeout    time.Duration
}

// LocalAdapter wraps the bundled CLI inference engine, spawning it as a
// fresh subprocess per request. The adapter holds no child process between
// requests, so a crashed or wedged invocation never poisons the next one.
type LocalAdapter struct {
	cfg        LocalConfig
	store      *settings.Store
	catalog    *Catalog
	downloader *Downloader
	runner     sidecar.Runner

	activeModel string // namespaced id, persisted

	mu          sync.Mutex
	downloading map[string]bool
}

// NewLocalAdapter constructs the adapter, restoring the persisted model
// selection.
func NewLocalAdapter(cfg LocalConfig, store *settings.Store) *LocalAdapter {
	catalog := NewCatalog(cfg.ModelDir)
	persisted := store.LoadLocal(settings.LocalSettings{})

	return &LocalAdapter{
		cfg:         cfg,
		store:       store,
		catalog:     catalog,
		downloader:  NewDownloader(catalog),
		runner:      &sidecar.ExecRunner{},
		activeModel: persisted.ActiveModelID,
		downloading: make(map[string]bool),
	}
}

// Kind identifies this adapter.
func (a *LocalAdapter) Kind() AdapterKind {
	return KindLocal
}

// ActiveModel returns the persisted namespaced model selection, which may
// be empty on a fresh install.
func (a *LocalAdapter) ActiveModel() string {
	return a.activeModel
}

// Catalog exposes the model catalog for diagnostics.
func (a *LocalAdapter) Catalog() *Catalog {
	return a.catalog
}

// resolveBinary locates the sidecar CLI, trying the installed copy, the
// bundled resource location, then the development PATH, so the same build
// runs installed or from source.
func (a *LocalAdapter) resolveBinary() (string, error) {
	candidates := []string{}
	if a.cfg.InstallDir != "" {
		candidates = append(candidates, filepath.Join(a.cfg.InstallDir, a.cfg.BinaryName))
	}
	if a.cfg.BundleDir != "" {
		candidates = append(candidates, filepath.Join(a.cfg.BundleDir, a.cfg.BinaryName))
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	if path, err := exec.LookPath(a.cfg.BinaryName); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("%w: %q (searched install dir, bundle dir, PATH)", ErrBinaryNotFound, a.cfg.BinaryName)
}

// IsAvailable reports readiness: the binary must resolve and the active
// model's full file set must be on disk. When no model has been selected
// yet, any complete downloaded model counts.
func (a *LocalAdapter) IsAvailable(ctx context.Context) Availability {
	if _, err := a.resolveBinary(); err != nil {
		return Availability{Available: false, Error: err.Error()}
	}

	if a.activeModel != "" {
		if !a.catalog.IsComplete(LocalModelName(a.activeModel)) {
			return Availability{
				Available: false,
				Error:     fmt.Sprintf("model %q is not fully downloaded", a.activeModel),
			}
		}
		return Availability{Available: true}
	}

	if len(a.catalog.Downloaded()) == 0 {
		return Availability{Available: false, Error: "no local models downloaded"}
	}
	return Availability{Available: true}
}

// GetHealth computes the sidecar health snapshot on demand.
func (a *LocalAdapter) GetHealth(ctx context.Context) Health {
	availability := a.IsAvailable(ctx)

	state := "ready"
	if !availability.Available {
		state = "unavailable"
	}

	return Health{
		State:            state,
		ActiveModel:      a.activeModel,
		DownloadedModels: a.catalog.Downloaded(),
		Error:            availability.Error,
	}
}

// SwitchModel validates full download completeness before flipping the
// active selection; an incomplete model is rejected with no state change.
func (a *LocalAdapter) SwitchModel(ctx context.Context, modelID string) error {
	name := LocalModelName(modelID)
	if _, err := a.catalog.Resolve(name); err != nil {
		return newError(CategoryConfiguration, "local model switch", err)
	}

	cfg := settings.LocalSettings{ActiveModelID: modelID}
	if err := a.store.SaveLocal(cfg); err != nil {
		return newError(CategoryFilesystem, "persist local settings", err)
	}
	a.activeModel = modelID

	logging.LogModelSwitch(modelID, string(StateLoaded),
		zap.String("engine", KindLocal.String()))
	return nil
}

// ListModels merges the known catalog with whatever is on disk. The active
// model reports loaded, complete models available, known-but-missing models
// download, and in-flight fetches downloading.
func (a *LocalAdapter) ListModels(ctx context.Context) ([]ModelDescriptor, error) {
	a.mu.Lock()
	downloading := make(map[string]bool, len(a.downloading))
	for name := range a.downloading {
		downloading[name] = true
	}
	a.mu.Unlock()

	seen := map[string]bool{}
	var models []ModelDescriptor

	for _, known := range a.catalog.Known() {
		seen[known.Name] = true
		models = append(models, ModelDescriptor{
			ID:     LocalModelID(known.Name),
			Label:  known.Label,
			Group:  "local",
			State:  a.stateFor(known.Name, downloading),
			Detail: a.detailFor(known.Name),
		})
	}

	// Models dropped into the directory by hand still show up.
	for _, name := range a.catalog.Downloaded() {
		if seen[name] {
			continue
		}
		models = append(models, ModelDescriptor{
			ID:    LocalModelID(name),
			Label: name,
			Group: "local",
			State: a.stateFor(name, downloading),
		})
	}

	return models, nil
}

func (a *LocalAdapter) stateFor(name string, downloading map[string]bool) ModelState {
	switch {
	case downloading[name]:
		return StateDownloading
	case LocalModelID(name) == a.activeModel && a.catalog.IsComplete(name):
		return StateLoaded
	case a.catalog.IsComplete(name):
		return StateAvailable
	default:
		return StateDownload
	}
}

func (a *LocalAdapter) detailFor(name string) string {
	if dir, ok := a.catalog.Dir(name); ok && !a.catalog.IsComplete(name) {
		return fmt.Sprintf("incomplete download in %s", dir)
	}
	return ""
}

// DownloadModel fetches a known model's file set, streaming progress
// events. Lifecycle: download -> downloading -> available; a failed fetch
// reverts to download since the catalog only counts complete file sets.
func (a *LocalAdapter) DownloadModel(ctx context.Context, modelID string, progress chan<- DownloadProgress) error {
	name := LocalModelName(modelID)

	a.mu.Lock()
	if a.downloading[name] {
		a.mu.Unlock()
		return newError(CategoryConfiguration, "model download",
			fmt.Errorf("download of %q already in progress", modelID))
	}
	a.downloading[name] = true
	a.mu.Unlock()

	defer func() {
		a.mu.Lock()
		delete(a.downloading, name)
		a.mu.Unlock()
	}()

	if err := a.downloader.Download(ctx, name, progress); err != nil {
		return newError(CategoryConfiguration, "model download", err)
	}
	return nil
}

// Transcribe spawns the sidecar once for this request. The binary echoes
// the input path as its first stdout line; the transcript is the remaining
// output joined together.
func (a *LocalAdapter) Transcribe(ctx context.Context, audioPath string, opts Options) Result {
	start := time.Now()

	model := a.activeModel
	if opts.Model != "" && KindForModel(opts.Model) == KindLocal {
		model = opts.Model
	}

	fail := func(category ErrorCategory, err error) Result {
		return Result{
			Success:        false,
			ProcessingTime: time.Since(start),
			Engine:         KindLocal.String(),
			Model:          model,
			Language:       opts.Language,
			Error:          newError(category, "local transcription", err).Error(),
		}
	}

	if model == "" {
		return fail(CategoryConfiguration, errors.New("no local model selected"))
	}

	binary, err := a.resolveBinary()
	if err != nil {
		return fail(CategoryConfiguration, err)
	}

	files, err := a.catalog.Resolve(LocalModelName(model))
	if err != nil {
		return fail(CategoryConfiguration, err)
	}

	binDir := filepath.Dir(binary)
	spec := sidecar.Spec{
		Name: binary,
		Args: []string{
			"--model=" + files.Weights,
			"--tokens=" + files.Tokens,
			"--provider=" + a.cfg.Provider,
			fmt.Sprintf("--num-threads=%d", a.cfg.NumThreads),
			audioPath,
		},
		// Shared libraries ship next to the binary.
		Dir:     binDir,
		Env:     []string{"LD_LIBRARY_PATH=" + binDir},
		Timeout: a.cfg.Timeout,
	}

	result, runErr := a.runner.Run(ctx, spec)
	logging.LogSubprocess(binary, result.ExitCode,
		zap.Duration("duration", result.Duration),
		zap.Bool("timed_out", result.TimedOut))

	if runErr != nil {
		if result.TimedOut {
			return fail(CategorySubprocess,
				fmt.Errorf("inference timed out after %s", a.cfg.Timeout))
		}
		return fail(CategorySubprocess,
			fmt.Errorf("exit code %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr)))
	}

	text := parseSidecarOutput(result.Stdout, audioPath)

	processingTime := time.Since(start)
	logging.LogTranscription(KindLocal.String(), model,
		zap.Duration("processing_time", processingTime),
		zap.Int("text_length", len(text)))

	return Result{
		Success:        true,
		Text:           text,
		ProcessingTime: processingTime,
		Engine:         KindLocal.String(),
		Model:          model,
		Language:       opts.Language,
	}
}

// parseSidecarOutput extracts the transcript from sidecar stdout. The
// first line echoing the input path is skipped; leftover text on that line
// after the path is kept. When the echo never appears, the last non-empty
// line is taken as a fallback.
func parseSidecarOutput(stdout, audioPath string) string {
	lines := strings.Split(strings.TrimSpace(stdout), "\n")

	var parts []string
	foundEcho := false
	for _, line := range lines {
		if !foundEcho && strings.Contains(line, audioPath) {
			foundEcho = true
			after := strings.TrimSpace(line[strings.Index(line, audioPath)+len(audioPath):])
			if after != "" {
				parts = append(parts, after)
			}
			continue
		}
		if foundEcho {
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				parts = append(parts, trimmed)
			}
		}
	}

	if !foundEcho {
		for i := len(lines) - 1; i >= 0; i-- {
			if trimmed := strings.TrimSpace(lines[i]); trimmed != "" {
				return trimmed
			}
		}
		return ""
	}

	return strings.Join(parts, " ")
}
