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
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
)

// Args are the decoded arguments of one tool call.
//
// Numbers decoded from JSON arrive as float64; the accessors convert.
type Args map[string]any

// DecodeArgs parses the model's JSON argument string.
//
// An empty string decodes to an empty argument set.
func DecodeArgs(raw string) (Args, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "null" {
		return Args{}, nil
	}
	var args Args
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("%w: arguments are not a JSON object: %v", datatypes.ErrValidation, err)
	}
	if args == nil {
		args = Args{}
	}
	return args, nil
}

// String returns the trimmed string argument, or "" when absent.
func (a Args) String(name string) string {
	if v, ok := a[name].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// Int returns the integer argument, or def when absent or not numeric.
func (a Args) Int(name string, def int) int {
	switch v := a[name].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
	}
	return def
}

// Date parses a YYYY-MM-DD argument.
//
// # Outputs
//
//   - time.Time: The parsed date at midnight UTC; zero when absent.
//   - bool: True when the argument was present.
//   - error: Non-nil when present but malformed.
func (a Args) Date(name string) (time.Time, bool, error) {
	s := a.String(name)
	if s == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(datatypes.DateLayout, s)
	if err != nil {
		return time.Time{}, true, &ValidationError{
			Parameter: name,
			Message:   "must be a date in YYYY-MM-DD format",
			Actual:    s,
		}
	}
	return t, true, nil
}

// withDefaults returns a copy of a with parameter defaults filled in.
func (a Args) withDefaults(def Definition) Args {
	out := make(Args, len(a)+len(def.Parameters))
	for k, v := range a {
		out[k] = v
	}
	for name, p := range def.Parameters {
		if p.Default == nil {
			continue
		}
		if v, ok := out[name]; !ok || v == nil {
			out[name] = p.Default
		}
	}
	return out
}

// isIntegral reports whether v has no fractional part.
func isIntegral(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v == math.Trunc(v)
}
