// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kachemak-ai/kachemak/auth"
	"github.com/kachemak-ai/kachemak/datatypes"
	"github.com/kachemak-ai/kachemak/llm"
	"github.com/kachemak-ai/kachemak/middleware"
	"github.com/kachemak-ai/kachemak/services"
	"github.com/kachemak-ai/kachemak/store"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// mockStore implements store.SessionStore for handler testing.
type mockStore struct {
	loadErr   error
	appendErr error
}

func (m *mockStore) LoadOrCreate(_ context.Context, sessionID, userID string) (*datatypes.Session, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if sessionID == "" {
		sessionID = "aaaaaaaa-bbbb-4ccc-8ddd-eeeeeeeeeeee"
	}
	return &datatypes.Session{SessionID: sessionID, UserID: userID}, nil
}

func (m *mockStore) RecentHistory(_ context.Context, _ string, _ int) ([]datatypes.Message, error) {
	return nil, nil
}

func (m *mockStore) AppendTurn(_ context.Context, _, _, _ string) error {
	return m.appendErr
}

func (m *mockStore) RecentSessions(_ context.Context, _ int) ([]datatypes.Session, error) {
	return nil, nil
}

func (m *mockStore) RecentMessages(_ context.Context, _ int) ([]datatypes.StoredMessage, error) {
	return nil, nil
}

func (m *mockStore) DistinctOwners(_ context.Context) ([]string, error) {
	return nil, nil
}

func (m *mockStore) Counts(_ context.Context) (int, int, error) {
	return 0, 0, nil
}

var _ store.SessionStore = (*mockStore)(nil)

// mockLLM implements llm.CompletionClient for handler testing.
type mockLLM struct {
	ChatResponse string
	ChatError    error
	EmbedError   error
}

func (m *mockLLM) Chat(_ context.Context, _ []datatypes.Message, _ llm.GenerationParams) (string, error) {
	return m.ChatResponse, m.ChatError
}

func (m *mockLLM) Embed(_ context.Context, _ string) ([]float32, error) {
	if m.EmbedError != nil {
		return nil, m.EmbedError
	}
	return []float32{0.1, 0.2}, nil
}

// mockSearcher implements services.DocumentSearcher for handler testing.
type mockSearcher struct {
	docs []datatypes.RetrievedDocument
	err  error
}

func (m *mockSearcher) Search(_ context.Context, _ []float32, _ int, _ float64) ([]datatypes.RetrievedDocument, error) {
	return m.docs, m.err
}

func newTurnService(st store.SessionStore, client llm.CompletionClient, searcher services.DocumentSearcher) *services.TurnService {
	assembler := services.NewContextAssembler(client.(services.Embedder), searcher)
	return services.NewTurnService(st, client, assembler).WithPersistPolicy(services.PersistBestEffort)
}

// chatRouter wires the chat handler behind an identity-injecting middleware.
func chatRouter(turns *services.TurnService, identity *auth.AuthInfo) *gin.Engine {
	router := gin.New()
	router.POST("/v1/chat", func(c *gin.Context) {
		if identity != nil {
			middleware.SetAuthInfo(c, identity)
		}
		c.Next()
	}, HandleChatTurn(turns))
	return router
}

func postJSON(router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			_ = json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// =============================================================================
// HandleChatTurn Tests
// =============================================================================

func TestHandleChatTurn_Success(t *testing.T) {
	turns := newTurnService(&mockStore{}, &mockLLM{ChatResponse: "Hi there!"}, &mockSearcher{})
	router := chatRouter(turns, &auth.AuthInfo{UserID: "user-1"})

	w := postJSON(router, "/v1/chat", datatypes.ChatTurnRequest{Message: "Hello"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.ChatTurnResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "Hi there!", resp.Response)
	assert.NotEmpty(t, resp.SessionID)
}

func TestHandleChatTurn_NoIdentity(t *testing.T) {
	turns := newTurnService(&mockStore{}, &mockLLM{ChatResponse: "x"}, &mockSearcher{})
	router := chatRouter(turns, nil)

	w := postJSON(router, "/v1/chat", datatypes.ChatTurnRequest{Message: "Hello"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandleChatTurn_InvalidJSON(t *testing.T) {
	turns := newTurnService(&mockStore{}, &mockLLM{ChatResponse: "x"}, &mockSearcher{})
	router := chatRouter(turns, &auth.AuthInfo{UserID: "user-1"})

	w := postJSON(router, "/v1/chat", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleChatTurn_ValidationFailure(t *testing.T) {
	turns := newTurnService(&mockStore{}, &mockLLM{ChatResponse: "x"}, &mockSearcher{})
	router := chatRouter(turns, &auth.AuthInfo{UserID: "user-1"})

	w := postJSON(router, "/v1/chat", datatypes.ChatTurnRequest{Message: ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleChatTurn_ForeignSessionIs404(t *testing.T) {
	turns := newTurnService(&mockStore{loadErr: store.ErrSessionNotFound}, &mockLLM{ChatResponse: "x"}, &mockSearcher{})
	router := chatRouter(turns, &auth.AuthInfo{UserID: "intruder"})

	w := postJSON(router, "/v1/chat", datatypes.ChatTurnRequest{
		Message:   "Hello",
		SessionID: "8b8f6f2e-5f3a-4b3a-9a2e-6b1f2c3d4e5f",
	})

	assert.Equal(t, http.StatusNotFound, w.Code)
	// Generic body: the response must not reveal whether the session exists.
	assert.JSONEq(t, `{"error":"session not found"}`, w.Body.String())
}

func TestHandleChatTurn_UpstreamFailureIsGeneric500(t *testing.T) {
	turns := newTurnService(&mockStore{}, &mockLLM{ChatError: errors.New("secret backend detail")}, &mockSearcher{})
	router := chatRouter(turns, &auth.AuthInfo{UserID: "user-1"})

	w := postJSON(router, "/v1/chat", datatypes.ChatTurnRequest{Message: "Hello"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "secret backend detail")
}
