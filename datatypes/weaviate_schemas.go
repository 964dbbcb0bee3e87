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
	"context"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// GetSessionSchema returns the ChatSession class definition.
func GetSessionSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "ChatSession",
		Description: "An owned conversation thread grouping an ordered sequence of messages.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "Public session identifier (UUID v4).",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "user_id",
				DataType:        []string{"text"},
				Description:     "Identity of the caller that owns this session.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "title",
				DataType:    []string{"text"},
				Description: "Display title; placeholder until the first turn lands.",
			},
			{
				Name:            "created_at",
				DataType:        []string{"number"},
				Description:     "Creation timestamp (Unix ms).",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "updated_at",
				DataType:        []string{"number"},
				Description:     "Last-turn timestamp (Unix ms).",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// GetMessageSchema returns the ChatMessage class definition.
func GetMessageSchema() *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       "ChatMessage",
		Description: "An immutable message within a session, ordered by creation time.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:            "session_id",
				DataType:        []string{"text"},
				Description:     "Parent session identifier.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "role",
				DataType:        []string{"text"},
				Description:     "Message role: user, assistant or system.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:        "content",
				DataType:    []string{"text"},
				Description: "Message text.",
			},
			{
				Name:            "created_at",
				DataType:        []string{"number"},
				Description:     "Creation timestamp (Unix ms); total order within a session.",
				IndexFilterable: indexFilterable,
			},
		},
	}
}

// GetDocumentSchema returns the Document class definition used for retrieval.
// Vectors are computed client-side, so the vectorizer is "none".
func GetDocumentSchema() *models.Class {
	return &models.Class{
		Class:       "Document",
		Description: "A retrievable document with client-side embedding.",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{
				Name:        "title",
				DataType:    []string{"text"},
				Description: "Document title.",
			},
			{
				Name:         "content",
				DataType:     []string{"text"},
				Description:  "Document body.",
				Tokenization: "word",
			},
		},
	}
}

// EnsureWeaviateSchema creates the chat classes if they do not already exist.
//
// # Description
//
// Idempotent schema bootstrap run once at startup. Migration and seeding of
// documents is owned elsewhere; the orchestrator only makes sure the classes
// it reads and writes are present so a fresh instance can serve traffic.
//
// Creation failures are logged and skipped: an already-existing class is the
// common case and the server must still boot against a pre-seeded store.
func EnsureWeaviateSchema(client *weaviate.Client) {
	ctx := context.Background()

	for _, class := range []*models.Class{GetSessionSchema(), GetMessageSchema(), GetDocumentSchema()} {
		exists, err := client.Schema().ClassExistenceChecker().
			WithClassName(class.Class).
			Do(ctx)
		if err != nil {
			slog.Error("Failed to check Weaviate class existence", "class", class.Class, "error", err)
			continue
		}
		if exists {
			slog.Info("Weaviate class already exists", "class", class.Class)
			continue
		}

		if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
			slog.Error("Failed to create Weaviate class", "class", class.Class, "error", err)
			continue
		}
		slog.Info("Created Weaviate class", "class", class.Class)
	}
}
