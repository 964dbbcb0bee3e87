// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestProvider points an HTTPAuthProvider at a local identity stub.
func newTestProvider(baseURL string) *HTTPAuthProvider {
	return &HTTPAuthProvider{
		baseURL:    baseURL,
		serviceKey: "svc-key",
		httpClient: &http.Client{Timeout: 2 * time.Second},
	}
}

func TestHTTPAuthProvider_ValidToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/user", r.URL.Path)
		assert.Equal(t, "Bearer good-token", r.Header.Get("Authorization"))
		assert.Equal(t, "svc-key", r.Header.Get("apikey"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"user-123","email":"user@example.com"}`))
	}))
	defer srv.Close()

	provider := newTestProvider(srv.URL)
	info, err := provider.Validate(context.Background(), "good-token")
	require.NoError(t, err)
	assert.Equal(t, "user-123", info.UserID)
	assert.Equal(t, "user@example.com", info.Email)
}

func TestHTTPAuthProvider_EmptyTokenShortCircuits(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	provider := newTestProvider(srv.URL)
	_, err := provider.Validate(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.False(t, called, "blank token must not reach the identity provider")
}

func TestHTTPAuthProvider_RejectedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	provider := newTestProvider(srv.URL)
	_, err := provider.Validate(context.Background(), "expired")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestHTTPAuthProvider_MissingUserIDRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"email":"ghost@example.com"}`))
	}))
	defer srv.Close()

	provider := newTestProvider(srv.URL)
	_, err := provider.Validate(context.Background(), "token")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestHTTPAuthProvider_ProviderUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // immediately, so the address refuses connections

	provider := newTestProvider(srv.URL)
	_, err := provider.Validate(context.Background(), "token")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestHTTPAuthProvider_MalformedBodyRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	provider := newTestProvider(srv.URL)
	_, err := provider.Validate(context.Background(), "token")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNopAuthProvider(t *testing.T) {
	provider := &NopAuthProvider{}
	info, err := provider.Validate(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "local-user", info.UserID)
}
