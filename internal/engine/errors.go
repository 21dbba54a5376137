/*
Copyright (c) 2025 Murmur Labs

Licensed under the AGPLv3 License.
This file is part of murmur-engine.
*/

package engine

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies engine failures so the caller can render a
// specific message. Connectivity, configuration, subprocess, and conversion
// failures are always folded into results; only filesystem failures during
// request setup propagate as errors.
type ErrorCategory string

const (
	// CategoryConnectivity covers unreachable or timed-out remote calls.
	CategoryConnectivity ErrorCategory = "connectivity"
	// CategoryConfiguration covers missing binaries and undownloaded models.
	CategoryConfiguration ErrorCategory = "configuration"
	// CategorySubprocess covers spawn failures, non-zero exits, and timeouts.
	CategorySubprocess ErrorCategory = "subprocess"
	// CategoryConversion covers audio format tool failures. These signal an
	// environment or packaging defect, not a content problem.
	CategoryConversion ErrorCategory = "conversion"
	// CategoryFilesystem covers OS-level temp file failures.
	CategoryFilesystem ErrorCategory = "filesystem"
)

// Error is a categorized engine failure.
type Error struct {
	Category ErrorCategory
	Op       string
	Err      error
}

// Error formats the failure with its category tag.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failed", e.Category, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Category, e.Op, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// newError wraps err with a category and operation name.
func newError(category ErrorCategory, op string, err error) *Error {
	return &Error{Category: category, Op: op, Err: err}
}

// CategoryOf extracts the category from an engine error chain, or empty when
// the error carries no category.
func CategoryOf(err error) ErrorCategory {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}

// Sentinel errors for conditions callers branch on.
var (
	// ErrModelNotDownloaded indicates a local model switch was rejected
	// because the model's files are not fully present on disk.
	ErrModelNotDownloaded = errors.New("model not downloaded")

	// ErrBinaryNotFound indicates the sidecar CLI could not be resolved in
	// any known layout.
	ErrBinaryNotFound = errors.New("inference binary not found")

	// ErrUnknownModel indicates a model id that neither adapter recognizes.
	ErrUnknownModel = errors.New("unknown model")
)
