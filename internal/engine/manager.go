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
	"sync"
	"time"

	"github.com/murmurlabs/murmur-engine/internal/audio"
	"github.com/murmurlabs/murmur-engine/internal/events"
	"github.com/murmurlabs/murmur-engine/internal/logging"
	"github.com/murmurlabs/murmur-engine/internal/scratch"
	"github.com/murmurlabs/murmur-engine/internal/settings"
	"go.uber.org/zap"
)

// orphanMaxAge bounds how long a scratch file may outlive its request
// before the startup sweep reclaims it. Generous enough that a legitimate
// in-flight transcription from another instance is never touched.
const orphanMaxAge = 5 * time.Minute

// Recorder persists transcription events. Implemented by the storage layer.
type Recorder interface {
	SaveTranscription(event *events.TranscriptionEvent) error
}

// Publisher emits engine lifecycle events to interested subscribers.
// Implemented by the messaging layer.
type Publisher interface {
	PublishTranscription(event *events.TranscriptionEvent) error
	PublishModelState(modelID string, state ModelState) error
}

// ManagerConfig holds manager-level settings.
type ManagerConfig struct {
	// DefaultModel is the compiled-in selection used when nothing has been
	// persisted yet.
	DefaultModel string
}

// Manager coordinates the backend adapters behind the uniform contract:
// adapter selection, request routing with format conversion, cross-adapter
// model switches, and merged model listings. It assumes a single logical
// caller; overlapping transcriptions are not guarded against.
type Manager struct {
	cfg       ManagerConfig
	remote    *RemoteAdapter
	local     *LocalAdapter
	converter *audio.Converter
	scratch   *scratch.Dir
	recorder  Recorder  // optional
	publisher Publisher // optional

	active       AdapterKind
	currentModel string

	mu         sync.RWMutex
	lastResult *Result
}

// NewManager wires the manager with constructor-injected adapters.
// recorder and publisher may be nil; the engine runs without persistence
// or messaging.
func NewManager(cfg ManagerConfig, remote *RemoteAdapter, local *LocalAdapter,
	converter *audio.Converter, scratchDir *scratch.Dir,
	recorder Recorder, publisher Publisher) *Manager {
	return &Manager{
		cfg:          cfg,
		remote:       remote,
		local:        local,
		converter:    converter,
		scratch:      scratchDir,
		recorder:     recorder,
		publisher:    publisher,
		active:       KindRemote,
		currentModel: cfg.DefaultModel,
	}
}

// Initialize selects the starting adapter and restores the persisted model
// selection. Preference order: a reachable remote service, then a ready
// local sidecar, then remote by default purely so the UI has something to
// configure. The persisted selection is applied last and may itself flip
// the active adapter. Finishes with a one-time sweep of orphaned scratch
// files from crashed sessions.
func (m *Manager) Initialize(ctx context.Context) {
	remoteAvail := m.remote.IsAvailable(ctx)
	switch {
	case remoteAvail.Available:
		m.active = KindRemote
	case m.local.IsAvailable(ctx).Available:
		m.active = KindLocal
	default:
		m.active = KindRemote
	}

	if cfg := m.remote.Config(); cfg.Configured && cfg.SelectedModel != "" {
		m.currentModel = cfg.SelectedModel
		m.active = KindForModel(cfg.SelectedModel)
	} else if persisted := m.local.ActiveModel(); persisted != "" {
		m.currentModel = persisted
		m.active = KindForModel(persisted)
	}

	swept := m.scratch.SweepOrphans(orphanMaxAge)

	logging.Sugar.Infow("Engine manager initialized",
		"adapter", m.active.String(),
		"model", m.currentModel,
		"remote_reachable", remoteAvail.Available,
		"orphans_swept", swept,
	)
}

// ActiveAdapter returns the currently active adapter kind.
func (m *Manager) ActiveAdapter() AdapterKind {
	return m.active
}

// CurrentModel returns the currently selected model id.
func (m *Manager) CurrentModel() string {
	return m.currentModel
}

// adapter returns the Port for a kind.
func (m *Manager) adapter(kind AdapterKind) Port {
	if kind == KindLocal {
		return m.local
	}
	return m.remote
}

// ProcessAudio runs one transcription: audio lands in a scratch file, is
// converted when the local engine needs a different format, and is handed
// to the active adapter. Every scratch file created here is deleted on
// every exit path. The returned error is non-nil only when the initial
// scratch write fails; all other failures are folded into the Result.
func (m *Manager) ProcessAudio(ctx context.Context, audioBytes []byte, opts Options) (Result, error) {
	inputPath, err := m.scratch.WriteAudio(audioBytes, "")
	if err != nil {
		return Result{}, newError(CategoryFilesystem, "write request audio", err)
	}

	convertedPath := ""
	defer func() {
		m.scratch.Remove(inputPath)
		m.scratch.Remove(convertedPath)
	}()

	active := m.adapter(m.active)
	transcribePath := inputPath

	if m.active == KindLocal && !audio.Conforms(audioBytes) {
		convertedPath = m.scratch.Sibling(inputPath, ".wav")
		if convErr := m.converter.Convert(ctx, inputPath, convertedPath); convErr != nil {
			result := Result{
				Success:  false,
				Engine:   m.active.String(),
				Model:    m.currentModel,
				Language: opts.Language,
				Error:    newError(CategoryConversion, "prepare audio", convErr).Error(),
			}
			m.finish(&result)
			return result, nil
		}
		transcribePath = convertedPath
	}

	result := active.Transcribe(ctx, transcribePath, opts)
	m.finish(&result)
	return result, nil
}

// finish records the outcome; a failed transcription is surfaced as-is,
// never silently retried on the other adapter.
func (m *Manager) finish(result *Result) {
	m.mu.Lock()
	m.lastResult = result
	m.mu.Unlock()

	event := events.NewTranscriptionEvent(result.Engine, result.Model)
	event.Language = result.Language
	event.ProcessingTime = result.ProcessingTime.Milliseconds()
	if result.Success {
		event.SetText(result.Text)
	} else {
		event.SetError(errors.New(result.Error))
	}

	if m.recorder != nil {
		if err := m.recorder.SaveTranscription(event); err != nil {
			logging.LogError(err, "Failed to persist transcription event")
		}
	}
	if m.publisher != nil {
		if err := m.publisher.PublishTranscription(event); err != nil {
			logging.LogError(err, "Failed to publish transcription event")
		}
	}
}

// SwitchModel dispatches on the model's namespace and flips the active
// adapter on success. On failure the previous adapter and model remain
// unchanged and the error is returned for structured reporting.
func (m *Manager) SwitchModel(ctx context.Context, modelID string) error {
	if modelID == "" {
		return newError(CategoryConfiguration, "model switch", errors.New("model id is required"))
	}

	kind := KindForModel(modelID)
	target := m.adapter(kind)

	m.publishModelState(modelID, StateSwitching)

	if err := target.SwitchModel(ctx, modelID); err != nil {
		m.publishModelState(modelID, StateAvailable)
		return err
	}

	m.active = kind
	m.currentModel = modelID
	m.publishModelState(modelID, StateLoaded)
	return nil
}

func (m *Manager) publishModelState(modelID string, state ModelState) {
	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishModelState(modelID, state); err != nil {
		logging.LogWarn("Failed to publish model state",
			zap.String("model_id", modelID), zap.Error(err))
	}
}

// ListModels queries both adapters concurrently and merges their
// descriptors. Only the active adapter's model is truly resident, so the
// inactive adapter's loaded entries are downgraded to available for
// display.
func (m *Manager) ListModels(ctx context.Context) []ModelDescriptor {
	var (
		wg         sync.WaitGroup
		remoteList []ModelDescriptor
		localList  []ModelDescriptor
		remoteErr  error
		localErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		remoteList, remoteErr = m.remote.ListModels(ctx)
	}()
	go func() {
		defer wg.Done()
		localList, localErr = m.local.ListModels(ctx)
	}()
	wg.Wait()

	if remoteErr != nil {
		logging.LogWarn("Remote model listing unavailable", zap.Error(remoteErr))
	}
	if localErr != nil {
		logging.LogWarn("Local model listing unavailable", zap.Error(localErr))
	}

	merged := make([]ModelDescriptor, 0, len(remoteList)+len(localList))
	merged = append(merged, m.demoteInactive(remoteList, KindRemote)...)
	merged = append(merged, m.demoteInactive(localList, KindLocal)...)
	return merged
}

// demoteInactive enforces the single-loaded-model invariant across the
// merged listing.
func (m *Manager) demoteInactive(models []ModelDescriptor, kind AdapterKind) []ModelDescriptor {
	for i := range models {
		if models[i].State == StateLoaded && (kind != m.active || models[i].ID != m.currentModel) {
			models[i].State = StateAvailable
		}
	}
	return models
}

// DownloadModel fetches a local model through the sidecar adapter. Ids
// outside the local namespace are rejected; remote models live on the
// server and are never downloaded here.
func (m *Manager) DownloadModel(ctx context.Context, modelID string, progress chan<- DownloadProgress) error {
	if KindForModel(modelID) != KindLocal {
		return newError(CategoryConfiguration, "model download",
			fmt.Errorf("%w: %q is not a local model", ErrUnknownModel, modelID))
	}

	m.publishModelState(modelID, StateDownloading)
	if err := m.local.DownloadModel(ctx, modelID, progress); err != nil {
		m.publishModelState(modelID, StateDownload)
		return err
	}
	m.publishModelState(modelID, StateAvailable)
	return nil
}

// GetStatus reports the active adapter, its reachability, health, and the
// selected model. Pure read apart from the on-demand probes.
func (m *Manager) GetStatus(ctx context.Context) Status {
	active := m.adapter(m.active)
	availability := active.IsAvailable(ctx)

	return Status{
		Adapter:   m.active.String(),
		Available: availability.Available,
		Model:     m.currentModel,
		Health:    active.GetHealth(ctx),
	}
}

// GetLastTranscription returns the most recent result, or nil before the
// first request. Pure read accessor for UI polling.
func (m *Manager) GetLastTranscription() *Result {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.lastResult == nil {
		return nil
	}
	copied := *m.lastResult
	return &copied
}

// Configure updates the remote adapter settings.
func (m *Manager) Configure(cfg settings.RemoteSettings) error {
	return m.remote.Configure(cfg)
}

// GetConfig returns the remote adapter settings.
func (m *Manager) GetConfig() settings.RemoteSettings {
	return m.remote.Config()
}

// TestConnection probes the configured remote endpoint.
func (m *Manager) TestConnection(ctx context.Context) Availability {
	return m.remote.TestConnection(ctx)
}
