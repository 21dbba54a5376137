/*
Copyright (c) 2025 Murmur Labs

Licensed under the AGPLv3 License.
This file is part of murmur-engine.
*/

// Package engine orchestrates the interchangeable transcription backends: a
// remote GPU-hosted OpenAI-compatible HTTP service and a local sherpa-onnx
// CLI invoked as a fresh subprocess per request. The Manager selects the
// active adapter, routes requests through audio conversion when required,
// executes model switches across adapter boundaries, and merges model
// listings into one view.
package engine

import (
	"strings"
	"time"
)

// AdapterKind identifies which backend owns a model or handles a request.
type AdapterKind int

const (
	// KindRemote is the GPU-hosted HTTP transcription service.
	KindRemote AdapterKind = iota
	// KindLocal is the bundled CLI inference engine.
	KindLocal
)

// String returns the wire name of the adapter kind.
func (k AdapterKind) String() string {
	switch k {
	case KindLocal:
		return "local"
	default:
		return "remote"
	}
}

// localModelPrefix namespaces model ids owned by the local adapter. Display
// ids keep the prefix; KindForModel is the single place that interprets it.
const localModelPrefix = "local-"

// KindForModel maps a model id to the adapter that owns it.
func KindForModel(modelID string) AdapterKind {
	if strings.HasPrefix(modelID, localModelPrefix) {
		return KindLocal
	}
	return KindRemote
}

// LocalModelName strips the local namespace prefix, yielding the name the
// sidecar knows the model by.
func LocalModelName(modelID string) string {
	return strings.TrimPrefix(modelID, localModelPrefix)
}

// LocalModelID prefixes a sidecar model name into the shared id namespace.
func LocalModelID(name string) string {
	return localModelPrefix + name
}

// ModelState tracks the lifecycle of a model within its adapter.
type ModelState string

const (
	// StateLoaded means the model is resident and serving requests.
	StateLoaded ModelState = "loaded"
	// StateAvailable means the model is on disk (or server-side) and can be
	// switched to.
	StateAvailable ModelState = "available"
	// StateSwitching means a switch to this model is in progress.
	StateSwitching ModelState = "switching"
	// StateDownloading means the model's files are being fetched.
	StateDownloading ModelState = "downloading"
	// StateDownload means the model is known but not yet fetched.
	StateDownload ModelState = "download"
)

// ModelDescriptor describes one selectable model for listings.
type ModelDescriptor struct {
	ID     string     `json:"id"`
	Label  string     `json:"label"`
	Group  string     `json:"group"` // "gpu" or "local"
	State  ModelState `json:"state"`
	Detail string     `json:"detail,omitempty"`
}

// Options carries per-request transcription parameters.
type Options struct {
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
}

// Result is the uniform transcription outcome. Expected failures are folded
// into it rather than returned as errors, so callers always receive the
// engine and model context alongside the failure.
type Result struct {
	Success        bool          `json:"success"`
	Text           string        `json:"text"`
	ProcessingTime time.Duration `json:"processingTime"`
	Engine         string        `json:"engine"`
	Model          string        `json:"model"`
	Language       string        `json:"language,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// Availability is the outcome of a health probe. Probes resolve, never fail:
// an unreachable backend is a result, not an error.
type Availability struct {
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// Health is an on-demand adapter health snapshot. It is computed per call
// and never cached.
type Health struct {
	State            string   `json:"state"`
	ActiveModel      string   `json:"activeModel,omitempty"`
	DownloadedModels []string `json:"downloadedModels,omitempty"`
	Device           string   `json:"device,omitempty"`
	Error            string   `json:"error,omitempty"`
}

// Status is the manager-level view served to UI polling.
type Status struct {
	Adapter   string `json:"adapter"`
	Available bool   `json:"available"`
	Model     string `json:"model"`
	Health    Health `json:"health"`
}
