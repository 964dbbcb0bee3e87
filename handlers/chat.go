// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers contains the Gin HTTP handlers for the orchestrator.
// Handlers translate between HTTP and the service layer: they bind and
// sanity-check the payload, pull the caller identity from the request
// context, invoke the service, and map service errors onto status codes.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/kachemak-ai/kachemak/datatypes"
	"github.com/kachemak-ai/kachemak/middleware"
	"github.com/kachemak-ai/kachemak/observability"
	"github.com/kachemak-ai/kachemak/services"
)

var chatTracer = otel.Tracer("kachemak.handlers")

// HandleChatTurn processes one authenticated chat turn.
//
// Error mapping:
//   - malformed body or failed validation: 400 with the reason
//   - missing identity: 401
//   - session owned by someone else, or unknown: 404, same generic body
//     for both so the response never reveals that the session exists
//   - any upstream failure: 500 with a generic body, details in the logs
func HandleChatTurn(turns *services.TurnService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := chatTracer.Start(c.Request.Context(), "HandleChatTurn")
		defer span.End()

		caller := middleware.GetAuthInfo(c)
		if caller == nil {
			observability.RecordTurn("unauthorized")
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req datatypes.ChatTurnRequest
		if err := c.BindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			observability.RecordTurn("validation")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		resp, err := turns.Process(ctx, &req, caller)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			switch {
			case services.IsValidation(err):
				observability.RecordTurn("validation")
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			case services.IsSessionNotFound(err):
				observability.RecordTurn("not_found")
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			default:
				slog.Error("Chat turn failed", "error", err)
				observability.RecordTurn("upstream")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
			return
		}

		observability.RecordTurn("ok")
		c.JSON(http.StatusOK, resp)
	}
}
