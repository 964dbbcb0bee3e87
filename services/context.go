// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services provides the business logic of the orchestrator: context
// assembly from retrieval, the single-dispatch completion loop, and the turn
// coordinator that sequences a chat turn end to end.
//
// Services are designed to be:
//   - Testable: dependencies are injected via constructors as interfaces
//   - Composable: the turn service drives the assembler and the dispatcher
//   - Traceable: all methods accept context for distributed tracing
package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/kachemak-ai/kachemak/datatypes"
)

var contextTracer = otel.Tracer("kachemak.services.context")

// Embedder turns text into an embedding vector. Satisfied by the completion
// client; split out so tests can stub it deterministically.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// DocumentSearcher returns the nearest documents for a query vector, most
// similar first, already filtered to the given threshold and capped at
// limit. Ordering is the search service's own; callers must not re-sort.
type DocumentSearcher interface {
	Search(ctx context.Context, vector []float32, limit int, threshold float64) ([]datatypes.RetrievedDocument, error)
}

// =============================================================================
// Context Assembler
// =============================================================================

// ContextAssembler builds the grounding context for a chat turn: it embeds
// the user message, retrieves similar documents, and concatenates them into
// a single prompt section.
type ContextAssembler struct {
	embedder  Embedder
	searcher  DocumentSearcher
	limit     int
	threshold float64
}

// NewContextAssembler wires an assembler with the retrieval defaults.
func NewContextAssembler(embedder Embedder, searcher DocumentSearcher) *ContextAssembler {
	return &ContextAssembler{
		embedder:  embedder,
		searcher:  searcher,
		limit:     datatypes.DefaultSearchLimit,
		threshold: datatypes.DefaultSimilarityThreshold,
	}
}

// Embedder exposes the wired embedder for endpoints that only embed.
func (a *ContextAssembler) Embedder() Embedder {
	return a.embedder
}

// Assemble produces the grounding context string for the given message.
//
// The context is "Title\nContent" blocks joined by blank lines, most
// similar first. When retrieval yields nothing the context is the empty
// string and the system directive tells the model to say so rather than
// fabricate.
func (a *ContextAssembler) Assemble(ctx context.Context, message string) (string, []datatypes.RetrievedDocument, error) {
	ctx, span := contextTracer.Start(ctx, "ContextAssembler.Assemble")
	defer span.End()

	vector, err := a.embedder.Embed(ctx, message)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return "", nil, &UpstreamError{Stage: "embedding service", Err: err}
	}

	docs, err := a.searcher.Search(ctx, vector, a.limit, a.threshold)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "vector search failed")
		return "", nil, &UpstreamError{Stage: "vector search", Err: err}
	}

	span.SetAttributes(attribute.Int("retrieval.documents", len(docs)))
	if len(docs) == 0 {
		slog.Info("Retrieval returned no documents above threshold", "threshold", a.threshold)
		return "", nil, nil
	}

	blocks := make([]string, 0, len(docs))
	for _, doc := range docs {
		blocks = append(blocks, doc.Title+"\n"+doc.Content)
	}
	return strings.Join(blocks, "\n\n"), docs, nil
}

// Search embeds the query and runs a similarity search with the caller's
// own limit and threshold. Backs the /v1/search endpoint; the chat turn
// path uses Assemble with the fixed defaults instead.
func (a *ContextAssembler) Search(ctx context.Context, query string, limit int, threshold float64) ([]datatypes.RetrievedDocument, error) {
	ctx, span := contextTracer.Start(ctx, "ContextAssembler.Search")
	defer span.End()

	vector, err := a.embedder.Embed(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, &UpstreamError{Stage: "embedding service", Err: err}
	}

	docs, err := a.searcher.Search(ctx, vector, limit, threshold)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "vector search failed")
		return nil, &UpstreamError{Stage: "vector search", Err: err}
	}
	return docs, nil
}

// =============================================================================
// Weaviate Searcher
// =============================================================================

// WeaviateSearcher implements DocumentSearcher with a nearVector query on
// the Document class. Similarity is Weaviate's certainty, already in [0,1].
type WeaviateSearcher struct {
	client *weaviate.Client
}

// NewWeaviateSearcher wraps the given Weaviate client.
func NewWeaviateSearcher(client *weaviate.Client) *WeaviateSearcher {
	return &WeaviateSearcher{client: client}
}

// Search implements DocumentSearcher.
func (s *WeaviateSearcher) Search(ctx context.Context, vector []float32, limit int, threshold float64) ([]datatypes.RetrievedDocument, error) {
	ctx, span := contextTracer.Start(ctx, "WeaviateSearcher.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", limit), attribute.Float64("threshold", threshold))

	nearVector := s.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector).
		WithCertainty(float32(threshold))

	// Certainty is requested instead of distance: it is always in [0,1]
	// regardless of the configured distance metric.
	fields := []graphql.Field{
		{Name: "title"},
		{Name: "content"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "id"},
			{Name: "certainty"},
		}},
	}

	resp, err := s.client.GraphQL().Get().
		WithClassName("Document").
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(limit).
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "nearVector query failed")
		return nil, fmt.Errorf("weaviate search failed: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.DocumentQueryResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse search results: %w", err)
	}

	// Weaviate returns hits most-similar first; that ordering is kept as-is.
	docs := make([]datatypes.RetrievedDocument, 0, len(parsed.Get.Document))
	for _, row := range parsed.Get.Document {
		similarity := 0.0
		if row.Additional.Certainty != nil {
			similarity = *row.Additional.Certainty
		}
		docs = append(docs, datatypes.RetrievedDocument{
			ID:         row.Additional.ID,
			Title:      row.Title,
			Content:    row.Content,
			Similarity: similarity,
		})
	}

	span.SetAttributes(attribute.Int("results", len(docs)))
	return docs, nil
}

var _ DocumentSearcher = (*WeaviateSearcher)(nil)
