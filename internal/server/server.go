/*
Copyright (c) 2025 Murmur Labs

Licensed under the AGPLv3 License.
This file is part of murmur-engine.
*/

// Package server exposes the engine manager's application-facing contract
// over a local HTTP/JSON API consumed by the desktop shell.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/murmurlabs/murmur-engine/internal/config"
	"github.com/murmurlabs/murmur-engine/internal/engine"
	"github.com/murmurlabs/murmur-engine/internal/events"
	"github.com/murmurlabs/murmur-engine/internal/logging"
	"github.com/murmurlabs/murmur-engine/internal/settings"
	"go.uber.org/zap"
)

// maxAudioUpload bounds one request's audio payload (dictation clips, not
// long recordings).
const maxAudioUpload = 64 << 20 // 64 MiB

// History reads persisted transcription events. Implemented by the storage
// layer; nil disables the history endpoints.
type History interface {
	List(limit, offset int) ([]*events.TranscriptionEvent, error)
	Last() (*events.TranscriptionEvent, error)
}

// Server hosts the engine API.
type Server struct {
	cfg     *config.Config
	mux     *http.ServeMux
	server  *http.Server
	manager *engine.Manager
	history History
}

// New creates the server around an initialized manager.
func New(cfg *config.Config, manager *engine.Manager, history History) *Server {
	mux := http.NewServeMux()

	s := &Server{
		cfg:     cfg,
		mux:     mux,
		manager: manager,
		history: history,
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.routes()
	return s
}

// routes sets up HTTP routing.
func (s *Server) routes() {
	s.mux.HandleFunc("/health", s.handleHealth)

	s.mux.HandleFunc("/api/transcriptions", s.handleTranscriptions)
	s.mux.HandleFunc("/api/transcriptions/last", s.handleLastTranscription)
	s.mux.HandleFunc("/api/models", s.handleModels)
	s.mux.HandleFunc("/api/models/switch", s.handleModelSwitch)
	s.mux.HandleFunc("/api/models/download", s.handleModelDownload)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/settings/remote", s.handleRemoteSettings)
	s.mux.HandleFunc("/api/settings/remote/test", s.handleRemoteTest)
}

// Start runs the HTTP server until Stop or a listener failure.
func (s *Server) Start() error {
	logging.Sugar.Infow("Engine API listening", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// handleHealth reports service liveness and the active adapter.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := s.manager.GetStatus(r.Context())
	payload := map[string]interface{}{
		"status":  "ok",
		"adapter": status.Adapter,
		"model":   status.Model,
	}
	if !status.Available {
		payload["status"] = "degraded"
	}

	writeJSON(w, http.StatusOK, payload)
}

// handleTranscriptions accepts a new transcription (POST multipart) or
// lists history (GET).
func (s *Server) handleTranscriptions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.processAudio(w, r)
	case http.MethodGet:
		s.listTranscriptions(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) processAudio(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAudioUpload)

	if err := r.ParseMultipartForm(maxAudioUpload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "audio file is required (field \"file\")")
		return
	}
	defer func() {
		_ = file.Close()
	}()

	audioBytes, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("reading audio: %v", err))
		return
	}
	if len(audioBytes) == 0 {
		writeError(w, http.StatusBadRequest, "audio file is empty")
		return
	}

	opts := engine.Options{
		Model:    r.FormValue("model"),
		Language: r.FormValue("language"),
	}

	result, err := s.manager.ProcessAudio(r.Context(), audioBytes, opts)
	if err != nil {
		// Only disk-level failures surface here; nothing useful could be
		// transcribed.
		logging.LogError(err, "Transcription request setup failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *Server) listTranscriptions(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history is not enabled")
		return
	}

	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)

	list, err := s.history.List(limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []*events.TranscriptionEvent{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transcriptions": list,
		"count":          len(list),
	})
}

// handleLastTranscription serves the most recent result; storage-backed so
// it survives restarts, falling back to the in-memory manager state.
func (s *Server) handleLastTranscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.history != nil {
		if event, err := s.history.Last(); err == nil {
			writeJSON(w, http.StatusOK, event)
			return
		}
	}

	if last := s.manager.GetLastTranscription(); last != nil {
		writeJSON(w, http.StatusOK, last)
		return
	}

	writeError(w, http.StatusNotFound, "no transcriptions yet")
}

// handleModels lists merged model descriptors from both adapters.
func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	models := s.manager.ListModels(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{"models": models})
}

// switchRequest is the model switch payload.
type switchRequest struct {
	ModelID string `json:"model_id"`
}

// handleModelSwitch executes a model switch; failures report why and leave
// the previous selection intact.
func (s *Server) handleModelSwitch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req switchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	if err := s.manager.SwitchModel(r.Context(), req.ModelID); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"model":   req.ModelID,
	})
}

// handleModelDownload starts fetching a local model in the background and
// returns immediately; progress surfaces through the event stream and the
// model listing's downloading state.
func (s *Server) handleModelDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req switchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	progress := make(chan engine.DownloadProgress, 16)
	go logDownloadProgress(req.ModelID, progress)

	// Detached from the request context: closing the settings panel must
	// not abort a multi-hundred-megabyte fetch.
	go func() {
		defer close(progress)
		if err := s.manager.DownloadModel(context.Background(), req.ModelID, progress); err != nil {
			logging.LogError(err, "Model download failed",
				zap.String("model_id", req.ModelID))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"model":   req.ModelID,
	})
}

// logDownloadProgress drains a progress stream, logging coarse milestones.
func logDownloadProgress(modelID string, progress <-chan engine.DownloadProgress) {
	var lastLogged int64
	for p := range progress {
		const step = 50 << 20 // every 50 MiB
		if p.Received-lastLogged < step && p.Received != p.Total {
			continue
		}
		lastLogged = p.Received
		logging.Sugar.Infow("Model download progress",
			"model_id", modelID,
			"file", p.File,
			"received", p.Received,
			"total", p.Total,
		)
	}
}

// handleStatus serves the manager status snapshot for UI polling.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := s.manager.GetStatus(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"adapter":   status.Adapter,
		"available": status.Available,
		"model":     status.Model,
		"health":    status.Health,
		"config":    redact(s.manager.GetConfig()),
	})
}

// handleRemoteSettings reads (GET) or updates (PUT) the remote adapter
// configuration.
func (s *Server) handleRemoteSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, redact(s.manager.GetConfig()))
	case http.MethodPut:
		var cfg settings.RemoteSettings
		if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
		if err := s.manager.Configure(cfg); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, redact(s.manager.GetConfig()))
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleRemoteTest probes the configured endpoint.
func (s *Server) handleRemoteTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, s.manager.TestConnection(r.Context()))
}

// redact masks the API key before settings leave the process.
func redact(cfg settings.RemoteSettings) settings.RemoteSettings {
	if cfg.APIKey != "" {
		cfg.APIKey = "********"
	}
	return cfg
}

func queryInt(r *http.Request, key string, fallback int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.LogError(err, "Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
