// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the orchestrator service.
//
// This file contains the request and response types for the chat turn
// endpoint, together with the input validation that runs before any
// downstream work. For retrieval types see retrieval.go; for persisted
// session/message shapes see session.go.
package datatypes

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Validation Constants
// =============================================================================

const (
	// MaxChatMessageChars is the maximum length of a single chat turn's
	// user message. Longer input is rejected before any side effect.
	MaxChatMessageChars = 1000
)

// blockedSubstrings are obvious script-injection fragments rejected by
// input validation. Matching is case-insensitive.
var blockedSubstrings = []string{
	"<script",
	"</script",
	"javascript:",
	"onerror=",
	"onload=",
}

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("noscript", validateNoScript)
}

// validateNoScript rejects content containing any blocked injection substring.
//
// # Description
//
// Custom validator backing the `noscript` tag. The check is a plain
// case-insensitive substring scan; it is a guardrail against the obvious,
// not an HTML sanitizer.
//
// # Inputs
//
//   - fl: Validator field level containing the string to validate
//
// # Outputs
//
//   - bool: true if no blocked substring is present
func validateNoScript(fl validator.FieldLevel) bool {
	content := strings.ToLower(fl.Field().String())
	for _, blocked := range blockedSubstrings {
		if strings.Contains(content, blocked) {
			return false
		}
	}
	return true
}

// =============================================================================
// Chat Turn Request / Response
// =============================================================================

// ChatTurnRequest is the body of POST /v1/chat.
//
// # Fields
//
//   - Message: Required. The user's message for this turn. Bounded at
//     MaxChatMessageChars characters and screened for script injection.
//   - SessionID: Optional. Omitted on the first turn; the server creates a
//     session owned by the authenticated caller and returns its id.
//
// # Validation
//
// Uses go-playground/validator:
//   - Message: required, max 1000 chars, must pass the `noscript` blocklist
//   - SessionID: optional, UUID v4 when present
type ChatTurnRequest struct {
	Message   string `json:"message" validate:"required,max=1000,noscript"`
	SessionID string `json:"sessionId" validate:"omitempty,uuid4"`
}

// Validate validates the ChatTurnRequest fields.
//
// Returns a non-nil error naming the offending field when validation fails.
// Called by the turn service before any session or store access, so a
// failing request has zero side effects.
func (r *ChatTurnRequest) Validate() error {
	return chatValidate.Struct(r)
}

// ChatTurnResponse is the body returned by POST /v1/chat.
//
// Response carries the final assistant text (post-dispatch when a lookup
// directive ran), SessionID identifies the session the turn was appended to
// so the client can continue the thread.
type ChatTurnResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"sessionId"`
}

// Message is a single conversational message, either persisted in a session
// or assembled into a model prompt.
//
// Role is one of "user", "assistant" or "system". Persisted messages are
// immutable and totally ordered by CreatedAt within their session.
type Message struct {
	Role    string `json:"role" validate:"required,oneof=user assistant system"`
	Content string `json:"content" validate:"required"`
}

// Message role constants.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)
