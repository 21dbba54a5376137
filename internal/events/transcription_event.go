/*
Copyright (c) 2025 Murmur Labs

Licensed under the AGPLv3 License.
This file is part of murmur-engine.
*/

// Package events defines the transcription event record shared by the
// storage and messaging layers.
package events

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TranscriptionEvent records one transcription request end to end: which
// engine and model served it, what came back, and how long it took.
type TranscriptionEvent struct {
	UUID      string    `json:"uuid" db:"uuid"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`

	Engine   string `json:"engine" db:"engine"`
	Model    string `json:"model" db:"model"`
	Language string `json:"language,omitempty" db:"language"`

	Text           string `json:"text" db:"text"`
	ProcessingTime int64  `json:"processing_time_ms" db:"processing_time_ms"`
	Success        bool   `json:"success" db:"success"`
	ErrorMessage   string `json:"error_message,omitempty" db:"error_message"`
}

// NewTranscriptionEvent creates an event with a generated UUID and current
// timestamp.
func NewTranscriptionEvent(engine, model string) *TranscriptionEvent {
	return &TranscriptionEvent{
		UUID:      uuid.NewString(),
		Timestamp: time.Now(),
		Engine:    engine,
		Model:     model,
		Success:   true,
	}
}

// SetText records a successful transcription.
func (e *TranscriptionEvent) SetText(text string) {
	e.Text = text
	e.Success = true
}

// SetError marks the event as failed.
func (e *TranscriptionEvent) SetError(err error) {
	e.Success = false
	e.ErrorMessage = err.Error()
}

// IsValid checks the event carries the fields storage requires.
func (e *TranscriptionEvent) IsValid() error {
	if e.UUID == "" {
		return fmt.Errorf("event UUID is required")
	}
	if e.Engine == "" {
		return fmt.Errorf("event engine is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("event timestamp is required")
	}
	return nil
}
