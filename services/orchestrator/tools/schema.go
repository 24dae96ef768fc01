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
	"sort"

	"github.com/AleutianAI/AleutianCurator/services/llm"
)

// Schema converts the definition into the JSON schema form the model
// backends accept.
func (d Definition) Schema() llm.ToolDefinition {
	properties := make(map[string]any, len(d.Parameters))
	required := make([]string, 0)
	for name, p := range d.Parameters {
		properties[name] = p.schema()
		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)

	return llm.ToolDefinition{
		Name:        string(d.Name),
		Description: d.Description,
		Parameters: map[string]any{
			"type":       "object",
			"properties": properties,
			"required":   required,
		},
	}
}

// RequiredParams returns the sorted names of required parameters.
func (d Definition) RequiredParams() []string {
	var required []string
	for name, p := range d.Parameters {
		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)
	return required
}

func (p ParamDef) schema() map[string]any {
	s := map[string]any{
		"type":        string(p.Type),
		"description": p.Description,
	}
	if p.Default != nil {
		s["default"] = p.Default
	}
	if len(p.Enum) > 0 {
		s["enum"] = p.Enum
	}
	if p.MinLength > 0 {
		s["minLength"] = p.MinLength
	}
	if p.MaxLength > 0 {
		s["maxLength"] = p.MaxLength
	}
	if p.Minimum != nil {
		s["minimum"] = *p.Minimum
	}
	if p.Maximum != nil {
		s["maximum"] = *p.Maximum
	}
	if p.Format != "" {
		s["format"] = p.Format
	}
	return s
}
