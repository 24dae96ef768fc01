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
	"fmt"
	"sort"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
)

// ValidationError describes one argument that does not match its ParamDef.
type ValidationError struct {
	Parameter string
	Message   string
	Expected  string
	Actual    string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Parameter, e.Message)
	if e.Expected != "" {
		msg += fmt.Sprintf(" (expected %s)", e.Expected)
	}
	if e.Actual != "" {
		msg += fmt.Sprintf(" (got %s)", e.Actual)
	}
	return msg
}

// Unwrap lets errors.Is match datatypes.ErrValidation.
func (e *ValidationError) Unwrap() error {
	return datatypes.ErrValidation
}

// ValidateArgs checks args against def.
//
// # Description
//
// Required parameters must be present and non-nil. Provided parameters must
// match their declared type, bounds and enum. Unknown parameters are
// ignored, because models occasionally add harmless extras.
//
// Parameters are checked in name order so the reported error is stable.
func ValidateArgs(def Definition, args Args) error {
	names := make([]string, 0, len(def.Parameters))
	for name := range def.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		p := def.Parameters[name]
		v, ok := args[name]
		if !ok || v == nil {
			if p.Required {
				return &ValidationError{Parameter: name, Message: "required parameter missing"}
			}
			continue
		}
		if err := validateParam(name, v, p); err != nil {
			return err
		}
	}
	return nil
}

// validateParam validates a single parameter value.
func validateParam(name string, value any, def ParamDef) error {
	switch def.Type {
	case ParamTypeString:
		str, ok := value.(string)
		if !ok {
			return &ValidationError{Parameter: name, Message: "expected string", Actual: fmt.Sprintf("%T", value)}
		}
		if def.MinLength > 0 && len(str) < def.MinLength {
			return &ValidationError{Parameter: name, Message: fmt.Sprintf("string length must be at least %d", def.MinLength)}
		}
		if def.MaxLength > 0 && len(str) > def.MaxLength {
			return &ValidationError{Parameter: name, Message: fmt.Sprintf("string length must be at most %d", def.MaxLength)}
		}

	case ParamTypeInt, ParamTypeFloat:
		var num float64
		switch v := value.(type) {
		case int:
			num = float64(v)
		case int64:
			num = float64(v)
		case float64:
			num = v
		default:
			return &ValidationError{Parameter: name, Message: "expected " + string(def.Type), Actual: fmt.Sprintf("%T", value)}
		}
		if def.Type == ParamTypeInt && !isIntegral(num) {
			return &ValidationError{Parameter: name, Message: "expected integer", Actual: fmt.Sprintf("%v", num)}
		}
		if def.Minimum != nil && num < *def.Minimum {
			return &ValidationError{Parameter: name, Message: fmt.Sprintf("value must be at least %v", *def.Minimum)}
		}
		if def.Maximum != nil && num > *def.Maximum {
			return &ValidationError{Parameter: name, Message: fmt.Sprintf("value must be at most %v", *def.Maximum)}
		}

	case ParamTypeBool:
		if _, ok := value.(bool); !ok {
			return &ValidationError{Parameter: name, Message: "expected boolean", Actual: fmt.Sprintf("%T", value)}
		}
	}

	if len(def.Enum) > 0 {
		for _, allowed := range def.Enum {
			if value == allowed {
				return nil
			}
		}
		return &ValidationError{
			Parameter: name,
			Message:   "value not in allowed enum",
			Expected:  fmt.Sprintf("%v", def.Enum),
			Actual:    fmt.Sprintf("%v", value),
		}
	}
	return nil
}
