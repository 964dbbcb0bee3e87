// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store adapts the persistent store (Weaviate) for session and
// message access.
//
// The adapter owns three concerns:
//   - session continuity: load-or-create with a fail-closed ownership check
//   - conversational grounding: bounded recent history in ascending order
//   - best-effort persistence: the user/assistant turn pair, appended after
//     the completion already went back to the caller
//
// It also exposes the read-only aggregates the directive dispatcher uses.
// Nothing here is an audit log and nothing is ever deleted.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/kachemak-ai/kachemak/datatypes"
)

var storeTracer = otel.Tracer("kachemak.store")

// ErrSessionNotFound is returned when a session does not exist or belongs
// to a different caller. The two cases are deliberately indistinguishable
// so existence is never leaked.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore is the adapter contract consumed by the turn service.
//
// Implementations must be safe for concurrent use.
type SessionStore interface {
	// LoadOrCreate fetches the session and asserts ownership, or creates a
	// new session owned by userID when sessionID is empty. A session owned
	// by another caller fails closed with ErrSessionNotFound.
	LoadOrCreate(ctx context.Context, sessionID, userID string) (*datatypes.Session, error)

	// RecentHistory returns up to limit most recent messages of the session
	// in ascending creation order, for conversational grounding only.
	RecentHistory(ctx context.Context, sessionID string, limit int) ([]datatypes.Message, error)

	// AppendTurn inserts the user/assistant message pair. Best-effort: a
	// failure is reported to the caller but the completion has already been
	// returned, so nothing is rolled back.
	AppendTurn(ctx context.Context, sessionID, userText, assistantText string) error

	LookupStore
}

// LookupStore is the read-only aggregate surface the directive handlers
// dispatch against.
type LookupStore interface {
	// RecentSessions returns the most recently updated sessions.
	RecentSessions(ctx context.Context, limit int) ([]datatypes.Session, error)

	// RecentMessages returns the most recently created messages across all
	// sessions, newest first.
	RecentMessages(ctx context.Context, limit int) ([]datatypes.StoredMessage, error)

	// DistinctOwners returns the distinct caller identities that own at
	// least one session.
	DistinctOwners(ctx context.Context) ([]string, error)

	// Counts returns the total number of sessions and messages.
	Counts(ctx context.Context) (sessions int, messages int, err error)
}

// =============================================================================
// Weaviate Implementation
// =============================================================================

// WeaviateStore implements SessionStore on a Weaviate instance using the
// ChatSession and ChatMessage classes.
type WeaviateStore struct {
	client *weaviate.Client
}

// NewWeaviateStore wraps the given Weaviate client. The client must not be nil.
func NewWeaviateStore(client *weaviate.Client) *WeaviateStore {
	return &WeaviateStore{client: client}
}

// sessionTitlePlaceholder is stored until the first turn provides a title.
const sessionTitlePlaceholder = "New conversation"

// maxTitleChars bounds the title derived from the first user message.
const maxTitleChars = 64

// LoadOrCreate implements SessionStore.
func (s *WeaviateStore) LoadOrCreate(ctx context.Context, sessionID, userID string) (*datatypes.Session, error) {
	ctx, span := storeTracer.Start(ctx, "WeaviateStore.LoadOrCreate")
	defer span.End()

	if sessionID == "" {
		return s.createSession(ctx, userID)
	}

	span.SetAttributes(attribute.String("session.id", sessionID))
	session, err := s.fetchSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil || session.UserID != userID {
		// Foreign ownership and absence are the same answer on purpose.
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// createSession inserts a new ChatSession owned by userID with a
// placeholder title.
func (s *WeaviateStore) createSession(ctx context.Context, userID string) (*datatypes.Session, error) {
	now := time.Now().UnixMilli()
	session := &datatypes.Session{
		SessionID: uuid.New().String(),
		UserID:    userID,
		Title:     sessionTitlePlaceholder,
		CreatedAt: now,
		UpdatedAt: now,
	}

	props := datatypes.SessionProperties{
		SessionID: session.SessionID,
		UserID:    session.UserID,
		Title:     session.Title,
		CreatedAt: session.CreatedAt,
		UpdatedAt: session.UpdatedAt,
	}
	_, err := s.client.Data().Creator().
		WithClassName("ChatSession").
		WithProperties(props.ToMap()).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("Created new session", "sessionId", session.SessionID, "userId", userID)
	return session, nil
}

// fetchSession loads a session row by its public id. Returns (nil, nil)
// when no row matches.
func (s *WeaviateStore) fetchSession(ctx context.Context, sessionID string) (*datatypes.Session, error) {
	where := filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueString(sessionID)

	fields := []graphql.Field{
		{Name: "session_id"},
		{Name: "user_id"},
		{Name: "title"},
		{Name: "created_at"},
		{Name: "updated_at"},
	}

	resp, err := s.client.GraphQL().Get().
		WithClassName("ChatSession").
		WithWhere(where).
		WithFields(fields...).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("error querying for session: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.SessionQueryResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("error parsing session query response: %w", err)
	}
	if len(parsed.Get.ChatSession) == 0 {
		return nil, nil
	}

	row := parsed.Get.ChatSession[0]
	return &datatypes.Session{
		SessionID: row.SessionID,
		UserID:    row.UserID,
		Title:     row.Title,
		CreatedAt: row.CreatedAt,
		UpdatedAt: row.UpdatedAt,
	}, nil
}

// RecentHistory implements SessionStore.
//
// The query fetches the newest rows (descending) bounded at limit, then the
// slice is reversed so callers receive ascending time order, oldest first.
func (s *WeaviateStore) RecentHistory(ctx context.Context, sessionID string, limit int) ([]datatypes.Message, error) {
	ctx, span := storeTracer.Start(ctx, "WeaviateStore.RecentHistory")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID), attribute.Int("limit", limit))

	where := filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueString(sessionID)

	sortBy := graphql.Sort{
		Path:  []string{"created_at"},
		Order: graphql.Desc,
	}

	fields := []graphql.Field{
		{Name: "role"},
		{Name: "content"},
		{Name: "created_at"},
	}

	resp, err := s.client.GraphQL().Get().
		WithClassName("ChatMessage").
		WithWhere(where).
		WithSort(sortBy).
		WithLimit(limit).
		WithFields(fields...).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("query session history: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.MessageQueryResponse](resp)
	if err != nil {
		return nil, fmt.Errorf("parse session history: %w", err)
	}

	return historyAscending(parsed.Get.ChatMessage), nil
}

// historyAscending converts a newest-first query result into the
// oldest-first message list the prompt builder expects.
func historyAscending(rows []datatypes.MessageResult) []datatypes.Message {
	history := make([]datatypes.Message, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		history = append(history, datatypes.Message{
			Role:    rows[i].Role,
			Content: rows[i].Content,
		})
	}
	return history
}

// AppendTurn implements SessionStore.
//
// Inserts the user message then the assistant message with distinct
// timestamps, and touches the parent session (updated_at, first-turn title).
// Any failure is returned for reporting; the caller decides whether that
// fails the turn (strict policy) or is only logged (best effort).
func (s *WeaviateStore) AppendTurn(ctx context.Context, sessionID, userText, assistantText string) error {
	ctx, span := storeTracer.Start(ctx, "WeaviateStore.AppendTurn")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	now := time.Now().UnixMilli()
	pair := []datatypes.MessageProperties{
		{SessionID: sessionID, Role: datatypes.RoleUser, Content: userText, CreatedAt: now},
		// +1ms keeps the pair totally ordered even within one clock tick.
		{SessionID: sessionID, Role: datatypes.RoleAssistant, Content: assistantText, CreatedAt: now + 1},
	}

	for _, props := range pair {
		_, err := s.client.Data().Creator().
			WithClassName("ChatMessage").
			WithProperties(props.ToMap()).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("failed to append %s message: %w", props.Role, err)
		}
	}

	if err := s.touchSession(ctx, sessionID, userText, now); err != nil {
		// The message pair landed; a stale title or updated_at is not worth
		// failing persistence over.
		slog.Warn("Failed to touch session after append", "sessionId", sessionID, "error", err)
	}

	return nil
}

// touchSession bumps updated_at and replaces the placeholder title with a
// truncation of the first user message.
func (s *WeaviateStore) touchSession(ctx context.Context, sessionID, userText string, now int64) error {
	session, err := s.fetchSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}

	title := session.Title
	if title == sessionTitlePlaceholder || title == "" {
		title = truncateTitle(userText)
	}

	objectID, err := s.sessionObjectID(ctx, sessionID)
	if err != nil {
		return err
	}

	props := datatypes.SessionProperties{
		SessionID: session.SessionID,
		UserID:    session.UserID,
		Title:     title,
		CreatedAt: session.CreatedAt,
		UpdatedAt: now,
	}
	return s.client.Data().Updater().
		WithClassName("ChatSession").
		WithID(objectID).
		WithProperties(props.ToMap()).
		Do(ctx)
}

// sessionObjectID resolves the Weaviate object UUID for a public session id.
func (s *WeaviateStore) sessionObjectID(ctx context.Context, sessionID string) (string, error) {
	where := filters.Where().
		WithPath([]string{"session_id"}).
		WithOperator(filters.Equal).
		WithValueString(sessionID)

	fields := []graphql.Field{
		{Name: "_additional", Fields: []graphql.Field{{Name: "id"}}},
	}

	resp, err := s.client.GraphQL().Get().
		WithClassName("ChatSession").
		WithWhere(where).
		WithFields(fields...).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return "", fmt.Errorf("error querying for session object id: %w", err)
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.SessionQueryResponse](resp)
	if err != nil {
		return "", fmt.Errorf("error parsing session object id response: %w", err)
	}
	if len(parsed.Get.ChatSession) == 0 {
		return "", ErrSessionNotFound
	}
	return parsed.Get.ChatSession[0].Additional.ID, nil
}

// truncateTitle bounds the derived session title at maxTitleChars runes.
func truncateTitle(text string) string {
	runes := []rune(text)
	if len(runes) <= maxTitleChars {
		return text
	}
	return string(runes[:maxTitleChars-3]) + "..."
}

var _ SessionStore = (*WeaviateStore)(nil)
