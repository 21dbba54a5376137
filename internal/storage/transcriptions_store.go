/*
Copyright (c) 2025 Murmur Labs

Licensed under the AGPLv3 License.
This file is part of murmur-engine.
*/

package storage

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/murmurlabs/murmur-engine/internal/events"
)

// ErrNotFound indicates no matching transcription exists.
var ErrNotFound = errors.New("transcription not found")

// TranscriptionsStore handles database operations for transcription events.
type TranscriptionsStore struct {
	db *Database
}

// NewTranscriptionsStore creates a store over the shared database.
func NewTranscriptionsStore(db *Database) *TranscriptionsStore {
	return &TranscriptionsStore{db: db}
}

// SaveTranscription inserts one transcription event.
func (s *TranscriptionsStore) SaveTranscription(event *events.TranscriptionEvent) error {
	if err := event.IsValid(); err != nil {
		return fmt.Errorf("invalid transcription event: %w", err)
	}

	query := `
		INSERT INTO transcriptions (
			uuid, timestamp, engine, model, language,
			text, processing_time_ms, success, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.DB().Exec(query,
		event.UUID, event.Timestamp, event.Engine, event.Model, event.Language,
		event.Text, event.ProcessingTime, event.Success, event.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transcription: %w", err)
	}

	return nil
}

// GetByUUID retrieves one transcription event.
func (s *TranscriptionsStore) GetByUUID(uuid string) (*events.TranscriptionEvent, error) {
	query := selectColumns + ` WHERE uuid = ?`
	return s.scanOne(s.db.DB().QueryRow(query, uuid))
}

// Last retrieves the most recent transcription event, surviving restarts.
func (s *TranscriptionsStore) Last() (*events.TranscriptionEvent, error) {
	query := selectColumns + ` ORDER BY timestamp DESC, id DESC LIMIT 1`
	return s.scanOne(s.db.DB().QueryRow(query))
}

// List retrieves transcription events newest first.
func (s *TranscriptionsStore) List(limit, offset int) ([]*events.TranscriptionEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := selectColumns + ` ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := s.db.DB().Query(query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query transcriptions: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var results []*events.TranscriptionEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, event)
	}

	return results, rows.Err()
}

const selectColumns = `
	SELECT uuid, timestamp, engine, model, language,
	       text, processing_time_ms, success, error_message
	FROM transcriptions`

// rowScanner covers both sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *TranscriptionsStore) scanOne(row *sql.Row) (*events.TranscriptionEvent, error) {
	event, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return event, err
}

func scanEvent(row rowScanner) (*events.TranscriptionEvent, error) {
	var event events.TranscriptionEvent
	var language, text, errorMessage sql.NullString

	err := row.Scan(
		&event.UUID, &event.Timestamp, &event.Engine, &event.Model, &language,
		&text, &event.ProcessingTime, &event.Success, &errorMessage,
	)
	if err != nil {
		return nil, err
	}

	event.Language = language.String
	event.Text = text.String
	event.ErrorMessage = errorMessage.String
	return &event, nil
}
