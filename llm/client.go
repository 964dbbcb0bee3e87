// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm abstracts the completion and embedding backend behind a small
// interface so services depend on behavior, not on a vendor SDK.
package llm

import (
	"context"

	"github.com/kachemak-ai/kachemak/datatypes"
)

// GenerationParams carries optional sampling overrides for a completion call.
type GenerationParams struct {
	Temperature *float32 `json:"temperature"`
	TopP        *float32 `json:"top_p"`
	MaxTokens   *int     `json:"max_tokens"`
	Stop        []string `json:"stop"`
}

// CompletionClient is the contract for the external completion/embedding
// service. The provider is a black box here: text in, text (or vector) out.
type CompletionClient interface {
	// Chat sends an ordered message list and returns the completion text.
	Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (string, error)

	// Embed returns the embedding vector for the given text. Deterministic
	// for identical input against a deterministic backend.
	Embed(ctx context.Context, text string) ([]float32, error)
}
