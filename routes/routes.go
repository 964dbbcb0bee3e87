// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kachemak-ai/kachemak/auth"
	"github.com/kachemak-ai/kachemak/handlers"
	"github.com/kachemak-ai/kachemak/middleware"
	"github.com/kachemak-ai/kachemak/services"
)

// SetupRoutes registers the orchestrator's endpoints.
//
// The admission gate is installed router-wide so every response, including
// preflights on unregistered method/path pairs, carries the CORS headers.
// Health and metrics are exempt from the rate limiter via cfg.ExemptPaths;
// chat and search additionally require a verified identity.
func SetupRoutes(router *gin.Engine, cfg middleware.AdmissionConfig, limiter *middleware.RateLimiter,
	provider auth.AuthProvider, turns *services.TurnService, assembler *services.ContextAssembler) {

	router.Use(middleware.Admission(cfg, limiter))

	router.GET("/health", handlers.HandleHealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		v1.POST("/embed", handlers.HandleEmbed(assembler.Embedder()))

		authed := v1.Group("")
		authed.Use(middleware.AuthMiddleware(provider))
		{
			authed.POST("/search", handlers.HandleSearch(assembler))
			authed.POST("/chat", handlers.HandleChatTurn(turns))
		}
	}
}

// SetupLightweightRoutes registers the endpoints that work without a vector
// store: health, metrics, and embedding. Used when WEAVIATE_SERVICE_URL is
// absent or malformed.
func SetupLightweightRoutes(router *gin.Engine, cfg middleware.AdmissionConfig,
	limiter *middleware.RateLimiter, embedder services.Embedder) {

	router.Use(middleware.Admission(cfg, limiter))

	router.GET("/health", handlers.HandleHealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.Group("/v1").POST("/embed", handlers.HandleEmbed(embedder))
}
