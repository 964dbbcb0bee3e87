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
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/kachemak-ai/kachemak/observability"
)

// =============================================================================
// Admission Configuration
// =============================================================================

// Rate limit defaults: 10 admitted requests per caller per rolling minute.
const (
	defaultRateWindow      = 60 * time.Second
	defaultRateMaxRequests = 10
)

// defaultAllowedOrigins is used when ALLOWED_ORIGINS is unset.
var defaultAllowedOrigins = []string{"http://localhost:3000"}

// AdmissionConfig holds the gate's CORS and rate-limit settings.
type AdmissionConfig struct {
	// AllowedOrigins are the origins echoed back in CORS headers. The first
	// entry is the fallback for requests whose Origin is absent or unknown.
	AllowedOrigins []string

	// Window is the rolling rate-limit window.
	Window time.Duration

	// MaxRequests is the number of admitted requests per caller per window.
	MaxRequests int

	// ExemptPaths skip the rate limiter (health probes, metric scrapes).
	// CORS headers are still applied.
	ExemptPaths []string
}

// AdmissionConfigFromEnv builds the gate config from ALLOWED_ORIGINS,
// RATE_LIMIT_WINDOW_SECONDS, and RATE_LIMIT_MAX_REQUESTS, logging a warning
// for each default taken.
func AdmissionConfigFromEnv() AdmissionConfig {
	cfg := AdmissionConfig{
		AllowedOrigins: defaultAllowedOrigins,
		Window:         defaultRateWindow,
		MaxRequests:    defaultRateMaxRequests,
		ExemptPaths:    []string{"/health", "/metrics"},
	}

	if raw := os.Getenv("ALLOWED_ORIGINS"); raw != "" {
		var origins []string
		for _, origin := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
		if len(origins) > 0 {
			cfg.AllowedOrigins = origins
		}
	} else {
		slog.Warn("ALLOWED_ORIGINS not set, using default", "origins", cfg.AllowedOrigins)
	}

	if raw := os.Getenv("RATE_LIMIT_WINDOW_SECONDS"); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			cfg.Window = time.Duration(seconds) * time.Second
		} else {
			slog.Warn("Invalid RATE_LIMIT_WINDOW_SECONDS, using default", "value", raw)
		}
	}

	if raw := os.Getenv("RATE_LIMIT_MAX_REQUESTS"); raw != "" {
		if max, err := strconv.Atoi(raw); err == nil && max > 0 {
			cfg.MaxRequests = max
		} else {
			slog.Warn("Invalid RATE_LIMIT_MAX_REQUESTS, using default", "value", raw)
		}
	}

	return cfg
}

// =============================================================================
// Origin Resolution
// =============================================================================

// ResolveOrigin picks the CORS origin to echo for a request.
//
// An exact match against the allow list wins. A loopback origin
// (http://localhost:* or http://127.0.0.1:*) is echoed back on any port so
// local frontend dev servers work without reconfiguring the service. Any
// other origin, or no origin at all, gets the first configured entry; the
// browser then refuses the response on the frontend's behalf.
func ResolveOrigin(requestOrigin string, allowed []string) string {
	if requestOrigin != "" {
		for _, origin := range allowed {
			if origin == requestOrigin {
				return requestOrigin
			}
		}
		if isLoopbackOrigin(requestOrigin) {
			return requestOrigin
		}
	}
	if len(allowed) > 0 {
		return allowed[0]
	}
	return defaultAllowedOrigins[0]
}

// isLoopbackOrigin reports whether origin points at localhost on any port.
func isLoopbackOrigin(origin string) bool {
	for _, prefix := range []string{
		"http://localhost:", "https://localhost:",
		"http://127.0.0.1:", "https://127.0.0.1:",
	} {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return origin == "http://localhost" || origin == "http://127.0.0.1"
}

// =============================================================================
// Rate Limiter
// =============================================================================

// RateLimiter is a sliding-window request counter keyed by caller.
//
// Only admitted requests count against the window: a caller hammering a
// full window does not push their own reset further out. Entries are pruned
// lazily on each Allow call, so the map stays proportional to recently
// active callers.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	callers map[string][]time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewRateLimiter builds a limiter admitting max requests per window.
func NewRateLimiter(window time.Duration, max int) *RateLimiter {
	return &RateLimiter{
		window:  window,
		max:     max,
		callers: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// Allow records and admits the request if the caller has capacity left in
// the current window. Returns false without recording when the caller is
// already at the limit.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cutoff := now.Add(-r.window)

	kept := r.callers[key][:0]
	for _, t := range r.callers[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= r.max {
		r.callers[key] = kept
		return false
	}

	r.callers[key] = append(kept, now)
	return true
}

// callerKey identifies the caller for rate limiting. When the client IP
// cannot be determined each request gets a fresh synthetic key, which
// admits it; the limiter never punishes one unknown caller for another's
// traffic.
func callerKey(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "anon-" + uuid.New().String()
}

// =============================================================================
// Admission Middleware
// =============================================================================

// applyCORS sets the three CORS headers on the response.
func applyCORS(c *gin.Context, cfg AdmissionConfig) {
	origin := ResolveOrigin(c.GetHeader("Origin"), cfg.AllowedOrigins)
	c.Header("Access-Control-Allow-Origin", origin)
	c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

// Admission creates the gate middleware: CORS headers on every response,
// preflight short-circuiting, and per-caller rate limiting.
//
// # Description
//
// Installed router-wide so every response carries the three CORS headers,
// including error responses and unmatched routes. OPTIONS requests are
// answered 200 with an empty body immediately, before the rate limiter
// runs, so preflights never consume a caller's budget and never require
// credentials. Paths in cfg.ExemptPaths (health probes, metric scrapes)
// skip the limiter so infrastructure traffic cannot starve out callers.
//
// # Inputs
//
//   - cfg: origin allow list, rate-limit settings, and exempt paths
//   - limiter: shared RateLimiter. Must not be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Thread Safety
//
// Thread-safe; the limiter serializes its own state.
func Admission(cfg AdmissionConfig, limiter *RateLimiter) gin.HandlerFunc {
	exempt := make(map[string]struct{}, len(cfg.ExemptPaths))
	for _, path := range cfg.ExemptPaths {
		exempt[path] = struct{}{}
	}

	return func(c *gin.Context) {
		applyCORS(c, cfg)

		// Preflights bypass rate limiting and authentication.
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}

		if _, ok := exempt[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		if !limiter.Allow(callerKey(c)) {
			observability.RecordAdmissionRejection("rate_limit")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded, try again later",
			})
			return
		}

		c.Next()
	}
}
