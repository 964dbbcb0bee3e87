// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"

	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"

	"github.com/kachemak-ai/kachemak/datatypes"
)

// This file implements the LookupStore aggregates used by the directive
// dispatcher. All of them are read-only; none of them are session-scoped,
// they answer "what is in the store" questions the model may be asked about.

// RecentSessions implements LookupStore.
func (s *WeaviateStore) RecentSessions(ctx context.Context, limit int) ([]datatypes.Session, error) {
	ctx, span := storeTracer.Start(ctx, "WeaviateStore.RecentSessions")
	defer span.End()

	sortBy := graphql.Sort{
		Path:  []string{"updated_at"},
		Order: graphql.Desc,
	}
	fields := []graphql.Field{
		{Name: "session_id"},
		{Name: "user_id"},
		{Name: "title"},
		{Name: "created_at"},
		{Name: "updated_at"},
	}

	resp, err := s.client.GraphQL().Get().
		WithClassName("ChatSession").
		WithSort(sortBy).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("query recent sessions: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.SessionQueryResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("parse recent sessions: %w", err)
	}

	sessions := make([]datatypes.Session, 0, len(parsed.Get.ChatSession))
	for _, row := range parsed.Get.ChatSession {
		sessions = append(sessions, datatypes.Session{
			SessionID: row.SessionID,
			UserID:    row.UserID,
			Title:     row.Title,
			CreatedAt: row.CreatedAt,
			UpdatedAt: row.UpdatedAt,
		})
	}
	return sessions, nil
}

// RecentMessages implements LookupStore.
func (s *WeaviateStore) RecentMessages(ctx context.Context, limit int) ([]datatypes.StoredMessage, error) {
	ctx, span := storeTracer.Start(ctx, "WeaviateStore.RecentMessages")
	defer span.End()

	sortBy := graphql.Sort{
		Path:  []string{"created_at"},
		Order: graphql.Desc,
	}
	fields := []graphql.Field{
		{Name: "session_id"},
		{Name: "role"},
		{Name: "content"},
		{Name: "created_at"},
	}

	resp, err := s.client.GraphQL().Get().
		WithClassName("ChatMessage").
		WithSort(sortBy).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("query recent messages: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.MessageQueryResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("parse recent messages: %w", err)
	}

	messages := make([]datatypes.StoredMessage, 0, len(parsed.Get.ChatMessage))
	for _, row := range parsed.Get.ChatMessage {
		messages = append(messages, datatypes.StoredMessage{
			SessionID: row.SessionID,
			Role:      row.Role,
			Content:   row.Content,
			CreatedAt: row.CreatedAt,
		})
	}
	return messages, nil
}

// DistinctOwners implements LookupStore.
//
// Uses an Aggregate group-by on user_id; only the grouped value is read.
func (s *WeaviateStore) DistinctOwners(ctx context.Context) ([]string, error) {
	ctx, span := storeTracer.Start(ctx, "WeaviateStore.DistinctOwners")
	defer span.End()

	agg, err := s.client.GraphQL().Aggregate().
		WithClassName("ChatSession").
		WithGroupBy("user_id").
		WithFields(graphql.Field{
			Name:   "groupedBy",
			Fields: []graphql.Field{{Name: "value"}},
		}).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("aggregate distinct owners: %w", err)
	}

	var owners []string
	aggRoot, ok := agg.Data["Aggregate"].(map[string]interface{})
	if !ok {
		return owners, nil
	}
	groups, ok := aggRoot["ChatSession"].([]interface{})
	if !ok {
		return owners, nil
	}
	for _, groupItem := range groups {
		groupMap, ok := groupItem.(map[string]interface{})
		if !ok {
			continue
		}
		groupedBy, ok := groupMap["groupedBy"].(map[string]interface{})
		if !ok {
			continue
		}
		if value, ok := groupedBy["value"].(string); ok {
			owners = append(owners, value)
		}
	}
	return owners, nil
}

// Counts implements LookupStore.
func (s *WeaviateStore) Counts(ctx context.Context) (int, int, error) {
	ctx, span := storeTracer.Start(ctx, "WeaviateStore.Counts")
	defer span.End()

	sessions, err := s.countClass(ctx, "ChatSession")
	if err != nil {
		return 0, 0, err
	}
	messages, err := s.countClass(ctx, "ChatMessage")
	if err != nil {
		return 0, 0, err
	}
	return sessions, messages, nil
}

// countClass runs an Aggregate meta count for the given class.
func (s *WeaviateStore) countClass(ctx context.Context, className string) (int, error) {
	agg, err := s.client.GraphQL().Aggregate().
		WithClassName(className).
		WithFields(graphql.Field{
			Name:   "meta",
			Fields: []graphql.Field{{Name: "count"}},
		}).
		Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("aggregate count for %s: %w", className, err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.AggregateCountResponse](agg)
	if err != nil {
		return 0, fmt.Errorf("parse aggregate count for %s: %w", className, err)
	}

	switch className {
	case "ChatSession":
		if len(parsed.Aggregate.ChatSession) > 0 {
			return parsed.Aggregate.ChatSession[0].Meta.Count, nil
		}
	case "ChatMessage":
		if len(parsed.Aggregate.ChatMessage) > 0 {
			return parsed.Aggregate.ChatMessage[0].Meta.Count, nil
		}
	}
	return 0, nil
}
