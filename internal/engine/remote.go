/*
Copyright (c) 2025 Murmur Labs

Licensed under the AGPLv3 License.
This file is part of murmur-engine.
*/

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/murmurlabs/murmur-engine/internal/logging"
	"github.com/murmurlabs/murmur-engine/internal/settings"
	"go.uber.org/zap"
)

// RemoteTimeouts groups the per-operation bounds for the remote service.
// Health probes stay short so initialization never stalls; transcriptions
// may legitimately run long for large audio; model switches wait on a
// server-side GPU swap measured in seconds.
type RemoteTimeouts struct {
	Health     time.Duration
	Transcribe time.Duration
	Switch     time.Duration
}

// RemoteAdapter is the HTTP client for an OpenAI-compatible transcription
// service. Endpoint, key, and model selection persist through the settings
// store across restarts.
type RemoteAdapter struct {
	store      *settings.Store
	cfg        settings.RemoteSettings
	timeouts   RemoteTimeouts
	httpClient *http.Client
}

// NewRemoteAdapter constructs the adapter, loading persisted settings with
// the given defaults for first launch.
func NewRemoteAdapter(store *settings.Store, defaults settings.RemoteSettings, timeouts RemoteTimeouts) *RemoteAdapter {
	return &RemoteAdapter{
		store:    store,
		cfg:      store.LoadRemote(defaults),
		timeouts: timeouts,
		// Per-call deadlines come from contexts; the client itself stays
		// unbounded so long transcriptions are not cut short.
		httpClient: &http.Client{},
	}
}

// Kind identifies this adapter.
func (a *RemoteAdapter) Kind() AdapterKind {
	return KindRemote
}

// Config returns the current persisted settings.
func (a *RemoteAdapter) Config() settings.RemoteSettings {
	return a.cfg
}

// Configure updates and persists the adapter settings.
func (a *RemoteAdapter) Configure(cfg settings.RemoteSettings) error {
	cfg.Configured = cfg.EndpointURL != ""
	if err := a.store.SaveRemote(cfg); err != nil {
		return newError(CategoryFilesystem, "persist remote settings", err)
	}
	a.cfg = cfg
	return nil
}

// SelectedModel returns the persisted model selection.
func (a *RemoteAdapter) SelectedModel() string {
	return a.cfg.SelectedModel
}

// healthResponse is the liveness payload of the remote service.
type healthResponse struct {
	Status string `json:"status"`
	Device string `json:"device,omitempty"`
	Engine struct {
		ModelID string `json:"model_id"`
		State   string `json:"state"`
	} `json:"engine"`
}

// IsAvailable probes the liveness endpoint under the health timeout. It
// resolves for every outcome; an unreachable service is reported, not
// returned as an error.
func (a *RemoteAdapter) IsAvailable(ctx context.Context) Availability {
	ctx, cancel := context.WithTimeout(ctx, a.timeouts.Health)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.EndpointURL+"/health", nil)
	if err != nil {
		return Availability{Available: false, Error: err.Error()}
	}
	a.authorize(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Availability{Available: false, Error: "timeout"}
		}
		return Availability{Available: false, Error: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return Availability{Available: false, Error: fmt.Sprintf("health check returned status %d", resp.StatusCode)}
	}

	return Availability{Available: true}
}

// GetHealth reports the remote service state including device info.
func (a *RemoteAdapter) GetHealth(ctx context.Context) Health {
	ctx, cancel := context.WithTimeout(ctx, a.timeouts.Health)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.EndpointURL+"/health", nil)
	if err != nil {
		return Health{State: "unreachable", Error: err.Error()}
	}
	a.authorize(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Health{State: "unreachable", Error: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return Health{State: "unreachable", Error: fmt.Sprintf("status %d", resp.StatusCode)}
	}

	var payload healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Health{State: "unreachable", Error: err.Error()}
	}

	state := payload.Status
	if state == "" {
		state = "ok"
	}
	activeModel := payload.Engine.ModelID
	if activeModel == "" {
		activeModel = a.cfg.SelectedModel
	}

	return Health{
		State:       state,
		ActiveModel: activeModel,
		Device:      payload.Device,
	}
}

// transcriptionResponse is the OpenAI-compatible response body.
type transcriptionResponse struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Transcribe posts the audio file to the transcription endpoint. Every
// HTTP and network failure is folded into the Result.
func (a *RemoteAdapter) Transcribe(ctx context.Context, audioPath string, opts Options) Result {
	start := time.Now()
	model := opts.Model
	if model == "" {
		model = a.cfg.SelectedModel
	}

	fail := func(err error) Result {
		return Result{
			Success:        false,
			ProcessingTime: time.Since(start),
			Engine:         KindRemote.String(),
			Model:          model,
			Language:       opts.Language,
			Error:          newError(CategoryConnectivity, "remote transcription", err).Error(),
		}
	}

	body, contentType, err := buildMultipart(audioPath, model, opts.Language)
	if err != nil {
		r := fail(err)
		r.Error = newError(CategoryFilesystem, "remote transcription", err).Error()
		return r
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeouts.Transcribe)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.EndpointURL+"/v1/audio/transcriptions", body)
	if err != nil {
		return fail(err)
	}
	req.Header.Set("Content-Type", contentType)
	a.authorize(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fail(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fail(fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(detail)))
	}

	var payload transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fail(fmt.Errorf("parsing response: %w", err))
	}

	language := payload.Language
	if language == "" {
		language = opts.Language
	}

	processingTime := time.Since(start)
	logging.LogTranscription(KindRemote.String(), model,
		zap.Duration("processing_time", processingTime),
		zap.Int("text_length", len(payload.Text)))

	return Result{
		Success:        true,
		Text:           payload.Text,
		ProcessingTime: processingTime,
		Engine:         KindRemote.String(),
		Model:          model,
		Language:       language,
	}
}

// switchResponse is the acknowledgment of a server-side model swap.
type switchResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SwitchModel asks the remote service to load a different model and awaits
// acknowledgment. This is an intentionally slow path while the server
// reloads weights into GPU memory. On success the selection is persisted.
func (a *RemoteAdapter) SwitchModel(ctx context.Context, modelID string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeouts.Switch)
	defer cancel()

	payload, err := json.Marshal(map[string]string{"model_id": modelID})
	if err != nil {
		return newError(CategoryConnectivity, "model switch", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.cfg.EndpointURL+"/v1/models/switch", bytes.NewReader(payload))
	if err != nil {
		return newError(CategoryConnectivity, "model switch", err)
	}
	req.Header.Set("Content-Type", "application/json")
	a.authorize(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return newError(CategoryConnectivity, "model switch", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var ack switchResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil && resp.StatusCode == http.StatusOK {
		return newError(CategoryConnectivity, "model switch", fmt.Errorf("parsing acknowledgment: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		detail := ack.Error
		if detail == "" {
			detail = fmt.Sprintf("status %d", resp.StatusCode)
		}
		return newError(CategoryConnectivity, "model switch", errors.New(detail))
	}

	cfg := a.cfg
	cfg.SelectedModel = modelID
	if err := a.Configure(cfg); err != nil {
		return err
	}

	logging.LogModelSwitch(modelID, string(StateLoaded),
		zap.String("engine", KindRemote.String()))
	return nil
}

// modelsResponse is the OpenAI-compatible model listing.
type modelsResponse struct {
	Data []struct {
		ID     string `json:"id"`
		Label  string `json:"label"`
		Group  string `json:"group"`
		Active bool   `json:"active"`
	} `json:"data"`
}

// ListModels fetches the remote model listing. The active server-side
// model reports loaded; the rest report available.
func (a *RemoteAdapter) ListModels(ctx context.Context) ([]ModelDescriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeouts.Health)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.EndpointURL+"/v1/models", nil)
	if err != nil {
		return nil, newError(CategoryConnectivity, "list remote models", err)
	}
	a.authorize(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, newError(CategoryConnectivity, "list remote models", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, newError(CategoryConnectivity, "list remote models",
			fmt.Errorf("status %d", resp.StatusCode))
	}

	var payload modelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, newError(CategoryConnectivity, "list remote models", err)
	}

	models := make([]ModelDescriptor, 0, len(payload.Data))
	for _, m := range payload.Data {
		state := StateAvailable
		if m.Active {
			state = StateLoaded
		}
		label := m.Label
		if label == "" {
			label = m.ID
		}
		group := m.Group
		if group == "" {
			group = "gpu"
		}
		models = append(models, ModelDescriptor{
			ID:    m.ID,
			Label: label,
			Group: group,
			State: state,
		})
	}

	return models, nil
}

// TestConnection verifies the configured endpoint answers its health check.
func (a *RemoteAdapter) TestConnection(ctx context.Context) Availability {
	return a.IsAvailable(ctx)
}

// authorize attaches the API key when one is configured.
func (a *RemoteAdapter) authorize(req *http.Request) {
	if a.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	}
}

// buildMultipart assembles the transcription form body from the audio file.
func buildMultipart(audioPath, model, language string) (*bytes.Buffer, string, error) {
	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading audio file: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	fileWriter, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, "", err
	}
	if _, err := fileWriter.Write(audio); err != nil {
		return nil, "", err
	}

	_ = writer.WriteField("model", model)
	_ = writer.WriteField("language", language)
	_ = writer.WriteField("response_format", "json")
	_ = writer.WriteField("temperature", "0.0")

	contentType := writer.FormDataContentType()
	if err := writer.Close(); err != nil {
		return nil, "", err
	}

	return &body, contentType, nil
}
