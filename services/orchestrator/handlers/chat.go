// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers exposes the curator pipeline over HTTP and websockets.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/pipeline"
)

var tracer = otel.Tracer("aleutian.curator.handlers")

// TurnRunner runs one chat turn. *pipeline.Pipeline implements it.
type TurnRunner interface {
	Submit(ctx context.Context, sessionID, text string) (pipeline.Result, error)
}

var _ TurnRunner = (*pipeline.Pipeline)(nil)

// HandleChat handles POST /v1/chat.
//
// # Description
//
// Validates the request, assigns a session id when none was given and runs
// one turn. Every turn that ran answers 200, including refused and failed
// turns; the answer is then the refusal or apology text and Outcome says
// which. Only a request that never started a turn gets another status.
//
// # Inputs
//
//   - runner: The turn pipeline.
//
// # Outputs
//
//   - 200: datatypes.ChatResponse.
//   - 400: Malformed or invalid request.
//   - 503: The session stayed busy until the client went away.
func HandleChat(runner TurnRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "HandleChat")
		defer span.End()

		var req datatypes.ChatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid body")
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		if err := req.Validate(); err != nil {
			span.SetStatus(codes.Error, "validation failed")
			slog.Warn("Rejected chat request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": validationMessage(err)})
			return
		}
		if strings.TrimSpace(req.Message) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message must not be blank"})
			return
		}
		req.EnsureDefaults()
		span.SetAttributes(attribute.String("session.id", req.SessionID))

		res, err := runner.Submit(ctx, req.SessionID, req.Message)
		resp := responseFor(req.SessionID, res)
		if err != nil && !isTurnError(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "turn not started")
			c.JSON(http.StatusServiceUnavailable, resp)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

func responseFor(sessionID string, res pipeline.Result) *datatypes.ChatResponse {
	resp := datatypes.NewChatResponse(sessionID, res.TurnID, res.Answer)
	resp.Outcome = res.Outcome
	return resp
}

func isTurnError(err error) bool {
	var te *datatypes.TurnError
	return errors.As(err, &te)
}

// validationMessage names the offending field without Go type names.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	switch verrs[0].Field() {
	case "Message":
		return "message is required and must be at most 8KB"
	case "SessionID":
		return "session_id must be printable ASCII of at most 128 characters"
	}
	return "invalid " + strings.ToLower(verrs[0].Field())
}
