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
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kachemak-ai/kachemak/datatypes"
)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return f.vector, f.err
}

func TestAssemble_JoinsDocumentsWithBlankLines(t *testing.T) {
	docs := []datatypes.RetrievedDocument{
		{Title: "Refund Policy", Content: "Refunds are issued within 14 days.", Similarity: 0.92},
		{Title: "Shipping", Content: "Orders ship in 2 business days.", Similarity: 0.81},
	}
	a := NewContextAssembler(&fakeEmbedder{vector: []float32{0.5}}, &fakeSearcher{docs: docs})

	text, got, err := a.Assemble(context.Background(), "when do refunds arrive?")
	require.NoError(t, err)
	assert.Equal(t, docs, got)
	assert.Equal(t,
		"Refund Policy\nRefunds are issued within 14 days.\n\nShipping\nOrders ship in 2 business days.",
		text)
}

func TestAssemble_NoDocumentsIsNotAnError(t *testing.T) {
	a := NewContextAssembler(&fakeEmbedder{vector: []float32{0.5}}, &fakeSearcher{})

	text, docs, err := a.Assemble(context.Background(), "anything")
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.Empty(t, docs)
}

func TestAssemble_EmbeddingFailureIsUpstream(t *testing.T) {
	a := NewContextAssembler(&fakeEmbedder{err: errors.New("model cold")}, &fakeSearcher{})

	_, _, err := a.Assemble(context.Background(), "anything")
	require.Error(t, err)
	assert.True(t, IsUpstream(err))
	assert.Contains(t, err.Error(), "embedding service")
}

func TestAssemble_SearchFailureIsUpstream(t *testing.T) {
	a := NewContextAssembler(
		&fakeEmbedder{vector: []float32{0.5}},
		&fakeSearcher{searchErr: errors.New("weaviate 503")})

	_, _, err := a.Assemble(context.Background(), "anything")
	require.Error(t, err)
	assert.True(t, IsUpstream(err))
	assert.Contains(t, err.Error(), "vector search")
}

func TestSearch_PassesCallerLimits(t *testing.T) {
	var gotLimit int
	var gotThreshold float64
	searcher := &recordingSearcher{onSearch: func(limit int, threshold float64) {
		gotLimit = limit
		gotThreshold = threshold
	}}
	a := NewContextAssembler(&fakeEmbedder{vector: []float32{0.5}}, searcher)

	_, err := a.Search(context.Background(), "query", 3, 0.85)
	require.NoError(t, err)
	assert.Equal(t, 3, gotLimit)
	assert.Equal(t, 0.85, gotThreshold)
}

type recordingSearcher struct {
	onSearch func(limit int, threshold float64)
}

func (r *recordingSearcher) Search(_ context.Context, _ []float32, limit int, threshold float64) ([]datatypes.RetrievedDocument, error) {
	r.onSearch(limit, threshold)
	return nil, nil
}
