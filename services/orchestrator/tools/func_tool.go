// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import "context"

// HandlerFunc is the body of a tool.
type HandlerFunc func(ctx context.Context, args Args) Output

// FuncTool adapts a Definition and a HandlerFunc into a Tool.
//
// Adapters expose their operations this way instead of declaring one type
// per operation.
type FuncTool struct {
	def     Definition
	handler HandlerFunc
}

var _ Tool = (*FuncTool)(nil)

// NewFuncTool builds a FuncTool.
func NewFuncTool(def Definition, handler HandlerFunc) *FuncTool {
	return &FuncTool{def: def, handler: handler}
}

// Definition implements Tool.
func (t *FuncTool) Definition() Definition { return t.def }

// Execute implements Tool.
func (t *FuncTool) Execute(ctx context.Context, args Args) Output {
	return t.handler(ctx, args)
}
