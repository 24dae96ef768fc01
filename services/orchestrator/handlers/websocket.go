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
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
)

// maxFrameBytes bounds one inbound websocket frame.
const maxFrameBytes = 2 * datatypes.MaxMessageContentBytes

// Websocket actions sent to the client outside of answers.
const (
	ActionSessionCreated = "session_created"
	ActionAnswer         = "answer"
	ActionError          = "error"
)

// WSRequest is one inbound websocket frame.
type WSRequest struct {
	Message string `json:"message"`
}

// WSResponse is one outbound websocket frame.
type WSResponse struct {
	Action    string `json:"action"`
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id,omitempty"`
	Answer    string `json:"answer,omitempty"`
	Outcome   string `json:"outcome,omitempty"`
	Error     string `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

func sendJSON(ws *websocket.Conn, v any) error {
	err := ws.WriteJSON(v)
	if err != nil {
		slog.Warn("Failed to write WebSocket JSON", "error", err)
	}
	return err
}

// HandleChatWebSocket handles GET /v1/chat/ws.
//
// # Description
//
// Each connection is one session. The session id is taken from the
// session_id query parameter to resume a conversation, or created on
// connect and announced with a session_created frame. Every {message} frame
// runs one turn; turns on a connection are answered in order.
//
// # Limitations
//
//   - A frame larger than maxFrameBytes closes the connection.
func HandleChatWebSocket(runner TurnRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionID := c.Query("session_id")
		check := datatypes.ChatRequest{SessionID: sessionID, Message: "-"}
		if err := check.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": validationMessage(err)})
			return
		}
		check.EnsureDefaults()
		sessionID = check.SessionID

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()
		ws.SetReadLimit(maxFrameBytes)

		logger := slog.With("session_id", sessionID)
		logger.Info("Websocket client connected")

		if err := sendJSON(ws, WSResponse{Action: ActionSessionCreated, SessionID: sessionID}); err != nil {
			return
		}

		for {
			var req WSRequest
			if err := ws.ReadJSON(&req); err != nil {
				logger.Info("Websocket client disconnected", "error", err.Error())
				return
			}

			turn := datatypes.ChatRequest{SessionID: sessionID, Message: req.Message}
			if err := turn.Validate(); err != nil || strings.TrimSpace(req.Message) == "" {
				msg := "message must not be blank"
				if err != nil {
					msg = validationMessage(err)
				}
				if sendJSON(ws, WSResponse{Action: ActionError, SessionID: sessionID, Error: msg}) != nil {
					return
				}
				continue
			}

			ctx, span := tracer.Start(c.Request.Context(), "HandleChatWebSocket.turn")
			res, err := runner.Submit(ctx, sessionID, req.Message)
			if err != nil {
				span.RecordError(err)
			}
			span.End()

			frame := WSResponse{
				Action:    ActionAnswer,
				SessionID: sessionID,
				TurnID:    res.TurnID,
				Answer:    res.Answer,
				Outcome:   res.Outcome,
			}
			if sendJSON(ws, frame) != nil {
				return
			}
		}
	}
}
