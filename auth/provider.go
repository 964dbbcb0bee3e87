// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package auth verifies caller identity against an external identity provider.
//
// The orchestrator never issues credentials itself: it exchanges the bearer
// token from the request with the identity provider's userinfo endpoint and
// treats any failure - missing token, malformed token, provider error - as
// "no identity". Handlers decide whether an identity is required.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// ErrUnauthorized is returned when a credential is missing, malformed,
// expired, or rejected by the identity provider.
//
// Wrap it with additional context where useful:
//
//	return nil, fmt.Errorf("token expired: %w", auth.ErrUnauthorized)
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo contains identity information returned after successful
// verification.
//
// UserID is the only field guaranteed to be populated; it is the ownership
// key for sessions.
type AuthInfo struct {
	// UserID is the unique identifier for the authenticated caller.
	UserID string

	// Email is the caller's email address. May be empty.
	Email string
}

// AuthProvider validates bearer credentials and returns caller identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type AuthProvider interface {
	// Validate checks the token and returns the caller's identity.
	//
	// Returns ErrUnauthorized (possibly wrapped) for any invalid or
	// unverifiable credential. Other errors indicate provider failures;
	// the middleware treats both the same way and yields "no identity".
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// =============================================================================
// HTTP Provider
// =============================================================================

// HTTPAuthProvider verifies tokens against a REST identity provider.
//
// # Description
//
// Performs a GET on {baseURL}/auth/v1/user with the caller's bearer token and
// the service api key. A 200 with a user id is a valid identity; anything
// else is ErrUnauthorized. Provider internals are logged, never surfaced.
//
// # Thread Safety
//
// Safe for concurrent use; the embedded http.Client is shared and stateless.
type HTTPAuthProvider struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
}

// NewHTTPAuthProvider builds a provider from AUTH_SERVICE_URL and
// AUTH_SERVICE_KEY.
//
// Returns an error when the endpoint is not configured; callers may fall
// back to NopAuthProvider for local single-user deployments.
func NewHTTPAuthProvider() (*HTTPAuthProvider, error) {
	baseURL := strings.Trim(os.Getenv("AUTH_SERVICE_URL"), "\"' ")
	if baseURL == "" {
		return nil, fmt.Errorf("AUTH_SERVICE_URL environment variable not set")
	}
	serviceKey := strings.TrimSpace(os.Getenv("AUTH_SERVICE_KEY"))
	if serviceKey == "" {
		slog.Warn("AUTH_SERVICE_KEY not set; identity provider calls will be unauthenticated")
	}

	return &HTTPAuthProvider{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// userinfoResponse is the subset of the identity provider's userinfo body
// the orchestrator consumes.
type userinfoResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Validate implements AuthProvider.
func (p *HTTPAuthProvider) Validate(ctx context.Context, token string) (*AuthInfo, error) {
	if strings.TrimSpace(token) == "" {
		return nil, ErrUnauthorized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if p.serviceKey != "" {
		req.Header.Set("apikey", p.serviceKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		slog.Error("Identity provider call failed", "error", err)
		return nil, fmt.Errorf("identity provider unreachable: %w", ErrUnauthorized)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read userinfo response: %w", ErrUnauthorized)
	}

	if resp.StatusCode != http.StatusOK {
		slog.Warn("Identity provider rejected token", "status", resp.StatusCode)
		return nil, ErrUnauthorized
	}

	var user userinfoResponse
	if err := json.Unmarshal(body, &user); err != nil {
		slog.Error("Failed to parse userinfo response", "error", err)
		return nil, ErrUnauthorized
	}
	if user.ID == "" {
		return nil, ErrUnauthorized
	}

	return &AuthInfo{UserID: user.ID, Email: user.Email}, nil
}

// NewProviderFromEnv returns the HTTP provider when AUTH_SERVICE_URL is
// configured, otherwise the nop provider for local single-user use.
func NewProviderFromEnv() AuthProvider {
	provider, err := NewHTTPAuthProvider()
	if err != nil {
		slog.Warn("No identity provider configured; authenticating every caller as local-user")
		return &NopAuthProvider{}
	}
	return provider
}

// =============================================================================
// Nop Provider
// =============================================================================

// NopAuthProvider authenticates every request as a fixed local user.
//
// Used for local single-user deployments and in tests; it keeps the service
// functional without any identity infrastructure.
type NopAuthProvider struct{}

// Validate always returns the local user, ignoring the token.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{UserID: "local-user"}, nil
}

// Compile-time interface compliance checks.
var (
	_ AuthProvider = (*HTTPAuthProvider)(nil)
	_ AuthProvider = (*NopAuthProvider)(nil)
)
