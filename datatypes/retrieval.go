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

// Retrieval defaults. These govern the Context Assembler and the /v1/search
// endpoint when the caller does not override them.
const (
	// DefaultSimilarityThreshold is the minimum similarity (certainty in
	// [0,1]) a document must reach to be included in the grounding context.
	DefaultSimilarityThreshold = 0.7

	// DefaultSearchLimit caps the number of retrieved documents per turn.
	DefaultSearchLimit = 5
)

// RetrievedDocument is a single vector-search hit. Ephemeral: produced per
// turn or per search call, never persisted by the orchestrator.
//
// Similarity is in [0,1], higher is closer. Ordering is whatever the vector
// search service returned; the orchestrator does not re-sort.
type RetrievedDocument struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Content    string  `json:"content"`
	Similarity float64 `json:"similarity"`
}

// EmbedRequest is the body of POST /v1/embed.
type EmbedRequest struct {
	Text string `json:"text" validate:"required"`
}

// Validate validates the EmbedRequest fields.
func (r *EmbedRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EmbedResponse is the body returned by POST /v1/embed.
type EmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// SearchRequest is the body of POST /v1/search.
//
// Limit and Threshold are optional; zero values fall back to the retrieval
// defaults above.
type SearchRequest struct {
	Query     string  `json:"query" validate:"required"`
	Limit     int     `json:"limit" validate:"gte=0,lte=50"`
	Threshold float64 `json:"threshold" validate:"gte=0,lte=1"`
}

// Validate validates the SearchRequest fields.
func (r *SearchRequest) Validate() error {
	return chatValidate.Struct(r)
}

// EnsureDefaults populates the retrieval defaults for unset optional fields.
func (r *SearchRequest) EnsureDefaults() {
	if r.Limit == 0 {
		r.Limit = DefaultSearchLimit
	}
	if r.Threshold == 0 {
		r.Threshold = DefaultSimilarityThreshold
	}
}

// SearchResponse is the body returned by POST /v1/search.
type SearchResponse struct {
	Results []RetrievedDocument `json:"results"`
}
