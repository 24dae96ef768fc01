// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// Role identifies the author of a session message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of a conversation session.
//
// # Description
//
// Messages are immutable once appended to session memory. Assistant
// messages that requested tools carry the ToolCalls; tool messages carry
// the ToolCallID they answer.
//
// # Fields
//
//   - Role: user, assistant or tool.
//   - Content: The text content.
//   - ToolCalls: Tool invocations requested by an assistant message.
//   - ToolCallID: Correlation id for tool messages.
//   - Flagged: True when the guardrail refused this message. Flagged
//     messages stay in the log but are left out of prompt windows.
//   - Timestamp: When the message was created (UTC).
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Flagged    bool       `json:"flagged,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// NewUserMessage creates a user message stamped with the current time.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: time.Now().UTC()}
}

// NewAssistantMessage creates an assistant message stamped with the current time.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content, Timestamp: time.Now().UTC()}
}
