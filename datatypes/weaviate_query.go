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

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// This generic function encapsulates the marshal/unmarshal pattern required to
// convert Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct. The target type T must have json tags matching
// the expected response shape.
//
// # Type Parameters
//
//   - T: The target struct type with json tags matching the response shape.
//
// # Inputs
//
//   - resp: The GraphQL response from the Weaviate client's Do() method.
//
// # Outputs
//
//   - *T: Pointer to the parsed struct.
//   - error: Non-nil if the response is nil or parsing fails.
//
// # Limitations
//
//   - Requires the target type to exactly match the expected response structure.
//   - Type mismatches result in zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Common Weaviate Response Types
// =============================================================================

// SessionQueryResponse is the shape of a GraphQL Get on the ChatSession class.
type SessionQueryResponse struct {
	Get struct {
		ChatSession []SessionResult `json:"ChatSession"`
	} `json:"Get"`
}

// SessionResult is a single session row from a query.
type SessionResult struct {
	SessionID  string `json:"session_id"`
	UserID     string `json:"user_id"`
	Title      string `json:"title"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
	Additional struct {
		ID string `json:"id"`
	} `json:"_additional"`
}

// MessageQueryResponse is the shape of a GraphQL Get on the ChatMessage class.
type MessageQueryResponse struct {
	Get struct {
		ChatMessage []MessageResult `json:"ChatMessage"`
	} `json:"Get"`
}

// MessageResult is a single message row from a query.
type MessageResult struct {
	SessionID string `json:"session_id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// DocumentQueryResponse is the shape of a GraphQL Get on the Document class.
type DocumentQueryResponse struct {
	Get struct {
		Document []DocumentResult `json:"Document"`
	} `json:"Get"`
}

// DocumentResult is a single document hit from a nearVector query.
type DocumentResult struct {
	Title      string `json:"title"`
	Content    string `json:"content"`
	Additional struct {
		ID        string   `json:"id"`
		Certainty *float64 `json:"certainty"`
	} `json:"_additional"`
}

// AggregateCountResponse is the shape of a GraphQL Aggregate meta count on
// either chat class. Only one of the two slices is populated per query.
type AggregateCountResponse struct {
	Aggregate struct {
		ChatSession []AggregateMeta `json:"ChatSession"`
		ChatMessage []AggregateMeta `json:"ChatMessage"`
	} `json:"Aggregate"`
}

// AggregateMeta carries the meta.count field of an Aggregate query.
type AggregateMeta struct {
	Meta struct {
		Count int `json:"count"`
	} `json:"meta"`
}
