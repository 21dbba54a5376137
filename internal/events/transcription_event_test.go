/*
Copyright (c) 2025 Murmur Labs

Licensed under the AGPLv3 License.
This file is part of murmur-engine.
*/

package events

import (
	"errors"
	"testing"
	"time"
)

func TestNewTranscriptionEvent(t *testing.T) {
	event := NewTranscriptionEvent("remote", "parakeet-tdt-0.6b-v2")

	if event.UUID == "" {
		t.Error("UUID empty")
	}
	if event.Timestamp.IsZero() {
		t.Error("Timestamp zero")
	}
	if event.Engine != "remote" || event.Model != "parakeet-tdt-0.6b-v2" {
		t.Errorf("engine/model = %q/%q", event.Engine, event.Model)
	}
	if err := event.IsValid(); err != nil {
		t.Errorf("IsValid() error = %v", err)
	}
}

func TestSetError(t *testing.T) {
	event := NewTranscriptionEvent("local", "local-parakeet-tdt-0.6b-v2-int8")
	event.SetError(errors.New("exit code 2"))

	if event.Success {
		t.Error("Success = true after SetError")
	}
	if event.ErrorMessage != "exit code 2" {
		t.Errorf("ErrorMessage = %q", event.ErrorMessage)
	}
}

func TestIsValid(t *testing.T) {
	tests := []struct {
		name    string
		event   TranscriptionEvent
		wantErr bool
	}{
		{"complete", TranscriptionEvent{UUID: "u", Engine: "remote", Timestamp: time.Now()}, false},
		{"missing uuid", TranscriptionEvent{Engine: "remote", Timestamp: time.Now()}, true},
		{"missing engine", TranscriptionEvent{UUID: "u", Timestamp: time.Now()}, true},
		{"zero timestamp", TranscriptionEvent{UUID: "u", Engine: "remote"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.event.IsValid(); (err != nil) != tt.wantErr {
				t.Errorf("IsValid() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
