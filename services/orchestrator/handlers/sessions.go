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
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/memory"
)

// TurnReader reads the audit log of a session. *memory.AuditLog implements it.
type TurnReader interface {
	Turns(ctx context.Context, sessionID string) ([]datatypes.TurnRecord, error)
}

var _ TurnReader = (*memory.AuditLog)(nil)

// SessionHistory is the body of GET /v1/sessions/:sessionId/history.
type SessionHistory struct {
	SessionID string                 `json:"session_id"`
	Turns     []datatypes.TurnRecord `json:"turns"`
}

// GetSessionHistory returns every audited turn of a session in order. An
// unknown session has an empty history.
func GetSessionHistory(reader TurnReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracer.Start(c.Request.Context(), "GetSessionHistory")
		defer span.End()

		session := c.Param("sessionId")
		if session == "" || len(session) > datatypes.MaxSessionIDLength {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
			return
		}
		span.SetAttributes(attribute.String("session.id", session))

		turns, err := reader.Turns(ctx, session)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "audit read failed")
			slog.Error("Failed to read session history", "session_id", session, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read session history"})
			return
		}
		c.JSON(http.StatusOK, SessionHistory{SessionID: session, Turns: turns})
	}
}
