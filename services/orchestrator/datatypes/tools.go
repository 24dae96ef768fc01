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

// ToolCall is a structured request from the model to run a registered tool.
//
// # Fields
//
//   - ID: Correlation identifier, links the call to exactly one ToolResult.
//   - Name: Registered tool name.
//   - Arguments: Decoded argument object. Validated against the tool's
//     parameter schema before the handler runs.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// ToolResult is the outcome of one tool invocation.
//
// Text is always natural language, also on failure, so the model can use it
// directly in a reply.
type ToolResult struct {
	CallID  string        `json:"call_id"`
	Name    string        `json:"name"`
	Text    string        `json:"text"`
	Success bool          `json:"success"`
	Kind    ErrorKind     `json:"-"`
	Latency time.Duration `json:"latency_ns"`
}
