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

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianCurator/services/llm"
)

var (
	// ErrDuplicateTool indicates a second tool was registered under a used name.
	ErrDuplicateTool = errors.New("tool already registered")

	// ErrInvalidTool indicates a nil tool or a tool without a name.
	ErrInvalidTool = errors.New("invalid tool")
)

// Registry maps operation names to tools.
//
// The registry is filled once at startup and then only read: it is used
// both to advertise the catalog to the model and to look tools up at
// dispatch time.
//
// Thread Safety:
//
//	Registry is fully thread-safe. All methods can be called concurrently.
type Registry struct {
	mu sync.RWMutex

	// byName maps tool names to tool instances.
	byName map[Name]Tool

	// byCategory maps categories to lists of tools.
	byCategory map[Category][]Tool
}

// NewRegistry creates a new empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:     make(map[Name]Tool),
		byCategory: make(map[Category][]Tool),
	}
}

// Register adds tools to the registry.
//
// # Description
//
// Registration is all-or-nothing per tool: a nil tool, an empty name or a
// name that is already taken is rejected, and the registry is left as it
// was for that tool.
//
// # Errors
//
//   - ErrInvalidTool for nil tools or empty names.
//   - ErrDuplicateTool when the name is already registered.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tool := range tools {
		if tool == nil {
			return fmt.Errorf("%w: nil tool", ErrInvalidTool)
		}
		def := tool.Definition()
		if def.Name == "" {
			return fmt.Errorf("%w: empty name", ErrInvalidTool)
		}
		if _, ok := r.byName[def.Name]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateTool, def.Name)
		}
		r.byName[def.Name] = tool
		r.byCategory[def.Category] = append(r.byCategory[def.Category], tool)
	}
	return nil
}

// MustRegister is Register for static wiring; it panics on error.
func (r *Registry) MustRegister(tools ...Tool) *Registry {
	if err := r.Register(tools...); err != nil {
		panic(err)
	}
	return r
}

// Get returns a tool by name.
//
// Thread Safety: This method is safe for concurrent use.
func (r *Registry) Get(name Name) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.byName[name]
	return tool, ok
}

// GetByCategory returns all tools in a category.
//
// Thread Safety: This method is safe for concurrent use.
func (r *Registry) GetByCategory(category Category) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools, ok := r.byCategory[category]
	if !ok {
		return nil
	}
	result := make([]Tool, len(tools))
	copy(result, tools)
	return result
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []Name {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]Name, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// GetDefinitions returns definitions for all registered tools.
//
// # Outputs
//
//   - []Definition: Sorted by priority (higher first), then name, so the
//     catalog the model sees is stable from turn to turn.
//
// Thread Safety: This method is safe for concurrent use.
func (r *Registry) GetDefinitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	definitions := make([]Definition, 0, len(r.byName))
	for _, tool := range r.byName {
		definitions = append(definitions, tool.Definition())
	}

	sort.Slice(definitions, func(i, j int) bool {
		if definitions[i].Priority != definitions[j].Priority {
			return definitions[i].Priority > definitions[j].Priority
		}
		return definitions[i].Name < definitions[j].Name
	})

	return definitions
}

// Schemas returns the catalog in the form attached to model requests.
func (r *Registry) Schemas() []llm.ToolDefinition {
	defs := r.GetDefinitions()
	out := make([]llm.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = d.Schema()
	}
	return out
}

// Catalog renders a short plain-text description of every tool, one per
// line, for the dynamic prompt segment.
//
// Example line:
//
//	- search_videos_by_topic(query, n_results?, ...): Find videos about a topic.
func (r *Registry) Catalog() string {
	var sb strings.Builder
	for _, d := range r.GetDefinitions() {
		params := make([]string, 0, len(d.Parameters))
		for name, p := range d.Parameters {
			if p.Required {
				params = append(params, name)
			} else {
				params = append(params, name+"?")
			}
		}
		sort.Slice(params, func(i, j int) bool {
			ri := !strings.HasSuffix(params[i], "?")
			rj := !strings.HasSuffix(params[j], "?")
			if ri != rj {
				return ri
			}
			return params[i] < params[j]
		})
		fmt.Fprintf(&sb, "- %s(%s): %s\n", d.Name, strings.Join(params, ", "), d.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}
