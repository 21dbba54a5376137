/*
Copyright (c) 2025 Murmur Labs

Licensed under the AGPLv3 License.
This file is part of murmur-engine.
*/

// Package messaging publishes engine lifecycle events over NATS so shell
// processes (tray, popups, settings panels) can react without polling.
package messaging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/murmurlabs/murmur-engine/internal/engine"
	"github.com/murmurlabs/murmur-engine/internal/events"
	"github.com/murmurlabs/murmur-engine/internal/logging"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATS subjects for engine events.
const (
	SubjectTranscriptions = "murmur.engine.transcriptions"
	SubjectModelState     = "murmur.engine.models.state"
)

// ModelStateEvent is the payload published on model lifecycle transitions.
type ModelStateEvent struct {
	ModelID   string `json:"model_id"`
	State     string `json:"state"`
	Timestamp int64  `json:"timestamp"`
}

// Config holds NATS connection settings.
type Config struct {
	URL           string
	MaxReconnect  int
	ReconnectWait time.Duration
}

// NATSService publishes engine events to NATS.
type NATSService struct {
	conn *nats.Conn
	cfg  Config
}

// NewNATSService creates a service; Connect must be called before use.
func NewNATSService(cfg Config) *NATSService {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	return &NATSService{cfg: cfg}
}

// Connect establishes the NATS connection with reconnect handling.
func (ns *NATSService) Connect() error {
	opts := []nats.Option{
		nats.Name("murmur-engine"),
		nats.ReconnectWait(ns.cfg.ReconnectWait),
		nats.MaxReconnects(ns.cfg.MaxReconnect),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logging.LogWarn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Sugar.Infow("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(ns.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	ns.conn = conn
	logging.Sugar.Infow("Connected to NATS", "url", conn.ConnectedUrl())
	return nil
}

// PublishTranscription publishes a completed transcription event.
func (ns *NATSService) PublishTranscription(event *events.TranscriptionEvent) error {
	return ns.publish(SubjectTranscriptions, event)
}

// PublishModelState publishes a model lifecycle transition.
func (ns *NATSService) PublishModelState(modelID string, state engine.ModelState) error {
	return ns.publish(SubjectModelState, ModelStateEvent{
		ModelID:   modelID,
		State:     string(state),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (ns *NATSService) publish(subject string, payload interface{}) error {
	if ns.conn == nil {
		return fmt.Errorf("NATS connection not established")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := ns.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	return nil
}

// Close drains and closes the connection.
func (ns *NATSService) Close() {
	if ns.conn != nil {
		ns.conn.Close()
		ns.conn = nil
	}
}
