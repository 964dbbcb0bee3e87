// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package services

import (
	"errors"
	"fmt"

	"github.com/kachemak-ai/kachemak/store"
)

// =============================================================================
// Error Types
// =============================================================================

// ValidationError is returned when the incoming turn fails input validation
// (empty, oversized, or blocklisted content). Never retried; the message is
// safe to surface verbatim to the caller.
type ValidationError struct {
	Reason string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid input: %s", e.Reason)
}

// UpstreamError wraps a failure from an external collaborator (identity
// provider, embedding service, vector search, completion service, or the
// persistent store). The wrapped error is for logs; callers see a generic
// message only.
type UpstreamError struct {
	Stage string
	Err   error
}

// Error implements the error interface for UpstreamError.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

// Unwrap exposes the wrapped error for errors.Is/As.
func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Predicates
// =============================================================================

// IsValidation checks if an error is a ValidationError.
//
// Handlers use this to map errors to HTTP 400:
//
//	if services.IsValidation(err) {
//	    c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
//	}
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsSessionNotFound checks whether an error is the fail-closed ownership /
// missing-session answer. Maps to HTTP 404 with a generic body.
func IsSessionNotFound(err error) bool {
	return errors.Is(err, store.ErrSessionNotFound)
}

// IsUpstream checks if an error is an UpstreamError. Maps to HTTP 500 with
// a generic body; the details stay in the logs.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}
