// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm provides model inference clients with tool calling support.
//
// The Client interface is a black box from the caller's point of view:
// a request holds the prompt and an optional tool catalog, a response holds
// either free text or a list of requested tool calls.
package llm

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for inference.
var (
	// ErrNoChoices indicates the backend returned no completion.
	ErrNoChoices = errors.New("model returned no choices")

	// ErrBackendStatus indicates a non-success HTTP status from the backend.
	ErrBackendStatus = errors.New("model backend returned error status")

	// ErrUnknownBackend indicates an unsupported backend name in configuration.
	ErrUnknownBackend = errors.New("unknown llm backend")
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolChoice controls whether the model may call tools.
type ToolChoice string

const (
	// ToolChoiceAuto lets the model decide.
	ToolChoiceAuto ToolChoice = "auto"

	// ToolChoiceNone forbids tool calls.
	ToolChoiceNone ToolChoice = "none"

	// ToolChoiceRequired forces at least one tool call.
	ToolChoiceRequired ToolChoice = "required"
)

// ToolDefinition advertises one callable operation to the model.
//
// Parameters is a JSON schema object ({"type":"object","properties":...}).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a tool invocation requested by the model.
//
// Arguments is the raw JSON object text as produced by the model.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one message of the model-facing conversation.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Request is a completion request.
//
// # Fields
//
//   - SystemPrompt: Sent first as a system message when non-empty.
//   - Messages: Conversation after the system prompt.
//   - Tools: Tool catalog. Empty disables tool calling.
//   - ToolChoice: Defaults to auto when tools are present.
//   - MaxTokens: Completion budget; 0 uses the backend default.
//   - Temperature: nil uses the backend default.
//   - JSONMode: Ask the backend to emit a single JSON object.
//   - ModelOverride: Use a different model for this request only.
type Request struct {
	SystemPrompt  string
	Messages      []Message
	Tools         []ToolDefinition
	ToolChoice    ToolChoice
	MaxTokens     int
	Temperature   *float32
	JSONMode      bool
	ModelOverride string
}

// Response is a completion result.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	StopReason   string
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
	Model        string
}

// HasToolCalls reports whether the model requested tool invocations.
func (r *Response) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Client is a model inference backend.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the evaluator issues
// several requests in parallel.
type Client interface {
	// Complete runs one inference. Blocks until the backend answers or ctx ends.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Name returns the backend name ("openai", "ollama", ...).
	Name() string

	// Model returns the default model identifier.
	Model() string
}

// Float32 returns a pointer to v, for Request.Temperature.
func Float32(v float32) *float32 {
	return &v
}
