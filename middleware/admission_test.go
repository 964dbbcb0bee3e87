// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newGateRouter(cfg AdmissionConfig, limiter *RateLimiter) *gin.Engine {
	router := gin.New()
	router.Use(Admission(cfg, limiter))
	router.POST("/v1/chat", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func testConfig() AdmissionConfig {
	return AdmissionConfig{
		AllowedOrigins: []string{"http://localhost:3000", "https://app.example.com"},
		Window:         time.Minute,
		MaxRequests:    10,
	}
}

// =============================================================================
// Rate Limiting
// =============================================================================

func TestAdmission_EleventhRequestRejected(t *testing.T) {
	cfg := testConfig()
	router := newGateRouter(cfg, NewRateLimiter(cfg.Window, cfg.MaxRequests))

	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code, "request %d should be admitted", i+1)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
	req.RemoteAddr = "203.0.113.7:1234"
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate limit")
	// Rejections still carry CORS headers.
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAdmission_CallersAreIsolated(t *testing.T) {
	cfg := testConfig()
	router := newGateRouter(cfg, NewRateLimiter(cfg.Window, cfg.MaxRequests))

	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		router.ServeHTTP(w, req)
	}

	// A different caller still has a full budget.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
	req.RemoteAddr = "198.51.100.9:5678"
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	limiter := NewRateLimiter(time.Minute, 2)
	current := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return current }

	assert.True(t, limiter.Allow("caller"))
	assert.True(t, limiter.Allow("caller"))
	assert.False(t, limiter.Allow("caller"))

	// 61 seconds later both admissions have aged out.
	current = current.Add(61 * time.Second)
	assert.True(t, limiter.Allow("caller"))
}

func TestRateLimiter_RejectionsDoNotExtendTheWindow(t *testing.T) {
	limiter := NewRateLimiter(time.Minute, 1)
	current := time.Unix(1_700_000_000, 0)
	limiter.now = func() time.Time { return current }

	assert.True(t, limiter.Allow("caller"))

	// Hammering while full records nothing.
	for i := 0; i < 5; i++ {
		current = current.Add(10 * time.Second)
		assert.False(t, limiter.Allow("caller"))
	}

	// 61s after the single admitted request the caller is clear, even
	// though rejected attempts happened in between.
	current = time.Unix(1_700_000_000, 0).Add(61 * time.Second)
	assert.True(t, limiter.Allow("caller"))
}

// =============================================================================
// Preflight
// =============================================================================

func TestAdmission_PreflightBypassesRateLimit(t *testing.T) {
	cfg := testConfig()
	router := gin.New()
	router.Use(Admission(cfg, NewRateLimiter(cfg.Window, 1)))
	router.OPTIONS("/v1/chat", func(c *gin.Context) {})
	router.POST("/v1/chat", func(c *gin.Context) { c.Status(http.StatusOK) })

	// Exhaust the budget.
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
	req.RemoteAddr = "203.0.113.7:1234"
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// Preflights keep working with no auth and an empty body.
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodOptions, "/v1/chat", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Body.String())
		assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
		assert.Equal(t, "Content-Type, Authorization", w.Header().Get("Access-Control-Allow-Headers"))
	}
}

// =============================================================================
// Origin Resolution
// =============================================================================

func TestResolveOrigin_ExactMatchEchoed(t *testing.T) {
	allowed := []string{"http://localhost:3000", "https://app.example.com"}
	assert.Equal(t, "https://app.example.com", ResolveOrigin("https://app.example.com", allowed))
}

func TestResolveOrigin_LoopbackAnyPort(t *testing.T) {
	allowed := []string{"https://app.example.com"}
	assert.Equal(t, "http://localhost:5173", ResolveOrigin("http://localhost:5173", allowed))
	assert.Equal(t, "http://127.0.0.1:8080", ResolveOrigin("http://127.0.0.1:8080", allowed))
}

func TestResolveOrigin_UnknownFallsBackToFirst(t *testing.T) {
	allowed := []string{"https://app.example.com", "https://other.example.com"}
	assert.Equal(t, "https://app.example.com", ResolveOrigin("https://evil.example.net", allowed))
	assert.Equal(t, "https://app.example.com", ResolveOrigin("", allowed))
}

func TestAdmission_HeadersOnEveryResponse(t *testing.T) {
	cfg := testConfig()
	router := newGateRouter(cfg, NewRateLimiter(cfg.Window, cfg.MaxRequests))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	router.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Authorization", w.Header().Get("Access-Control-Allow-Headers"))
}
