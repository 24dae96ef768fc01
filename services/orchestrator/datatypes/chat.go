// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures shared by the curator services.
//
// This file contains request and response types for the chat surface.
package datatypes

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// =============================================================================
// Constants for Security Compliance
// =============================================================================

const (
	// MaxMessageContentBytes is the maximum size of a single user message.
	MaxMessageContentBytes = 8 * 1024

	// MaxSessionIDLength bounds client supplied session identifiers.
	MaxSessionIDLength = 128
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// chatValidate is the validator instance for chat datatypes.
// Initialized in init() with custom validators.
var chatValidate *validator.Validate

func init() {
	chatValidate = validator.New()
	_ = chatValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes checks byte length, not rune count, against MaxMessageContentBytes.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// =============================================================================
// Chat Request / Response
// =============================================================================

// ChatRequest is the body of POST /v1/chat.
//
// # Description
//
// ChatRequest carries one user utterance for a session. A missing session id
// starts a new conversation; EnsureDefaults fills it in.
//
// # Validation
//
//   - SessionID: optional, at most 128 characters, printable ASCII.
//   - Message: required, at most 8KB.
type ChatRequest struct {
	SessionID string `json:"session_id" validate:"omitempty,max=128,printascii"`
	Message   string `json:"message" validate:"required,maxbytes"`
}

// EnsureDefaults assigns a session id if none was supplied.
func (r *ChatRequest) EnsureDefaults() {
	if r.SessionID == "" {
		r.SessionID = uuid.NewString()
	}
}

// Validate runs the struct validation rules.
func (r *ChatRequest) Validate() error {
	return chatValidate.Struct(r)
}

// ChatResponse is returned by POST /v1/chat and the websocket surface.
//
// Answer is always user-presentable, also when Outcome is OutcomeFailed.
type ChatResponse struct {
	SessionID string `json:"session_id"`
	TurnID    string `json:"turn_id,omitempty"`
	Answer    string `json:"answer"`
	Outcome   string `json:"outcome,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// NewChatResponse stamps a response with the current time.
func NewChatResponse(sessionID, turnID, answer string) *ChatResponse {
	return &ChatResponse{
		SessionID: sessionID,
		TurnID:    turnID,
		Answer:    answer,
		Timestamp: time.Now().UnixMilli(),
	}
}

// =============================================================================
// Turn Audit Record
// =============================================================================

// Turn outcomes recorded in TurnRecord.Outcome.
const (
	OutcomeAnswered = "answered"
	OutcomeRefused  = "refused"
	OutcomeFailed   = "failed"
)

// TurnRecord is the audit entry written for every completed turn.
type TurnRecord struct {
	SessionID   string           `json:"session_id"`
	TurnID      string           `json:"turn_id"`
	Sequence    uint64           `json:"sequence"`
	UserText    string           `json:"user_text"`
	Answer      string           `json:"answer"`
	Outcome     string           `json:"outcome"`
	ErrorKind   string           `json:"error_kind,omitempty"`
	ToolCalls   []ToolCall       `json:"tool_calls,omitempty"`
	ToolResults []ToolResult     `json:"tool_results,omitempty"`
	Evaluation  *EvaluationScore `json:"evaluation,omitempty"`
	Enhanced    bool             `json:"enhanced"`
	ModelCalls  int              `json:"model_calls"`
	StartedAt   time.Time        `json:"started_at"`
	Duration    time.Duration    `json:"duration_ns"`
}
