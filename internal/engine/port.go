/*
Copyright (c) 2025 Murmur Labs

Licensed under the AGPLv3 License.
This file is part of murmur-engine.
*/

package engine

import "context"

// Port is the uniform transcription contract every backend adapter
// implements. The Manager drives adapters exclusively through it.
type Port interface {
	// Kind identifies the backend.
	Kind() AdapterKind

	// Transcribe runs one transcription over an audio file already on disk.
	// Expected failures are folded into the Result, never returned as errors.
	Transcribe(ctx context.Context, audioPath string, opts Options) Result

	// IsAvailable probes backend readiness under a bounded timeout. It
	// resolves, never fails.
	IsAvailable(ctx context.Context) Availability

	// GetHealth computes an on-demand health snapshot.
	GetHealth(ctx context.Context) Health

	// SwitchModel activates the given model. On failure the previous
	// selection is left untouched.
	SwitchModel(ctx context.Context, modelID string) error

	// ListModels reports the adapter's model descriptors.
	ListModels(ctx context.Context) ([]ModelDescriptor, error)
}
