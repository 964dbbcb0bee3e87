// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// Session is a persisted, owned conversation thread.
//
// A session is owned exclusively by the caller identity that created it.
// Every access asserts the owner; a session belonging to another caller is
// indistinguishable from a missing one.
type Session struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// StoredMessage is a persisted message row: a Message plus its parent
// session and creation timestamp (Unix ms). Append-only; never mutated.
type StoredMessage struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// SessionProperties is the property payload for creating a ChatSession
// object in Weaviate.
type SessionProperties struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Title     string `json:"title"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// ToMap converts SessionProperties to the map format required by the
// Weaviate client's WithProperties().
func (p *SessionProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"session_id": p.SessionID,
		"user_id":    p.UserID,
		"title":      p.Title,
		"created_at": p.CreatedAt,
		"updated_at": p.UpdatedAt,
	}
}

// MessageProperties is the property payload for creating a ChatMessage
// object in Weaviate.
type MessageProperties struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// ToMap converts MessageProperties to the map format required by the
// Weaviate client's WithProperties().
func (p *MessageProperties) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"session_id": p.SessionID,
		"role":       p.Role,
		"content":    p.Content,
		"created_at": p.CreatedAt,
	}
}
