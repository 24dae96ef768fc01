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

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// ChatRequest Validation Tests
// =============================================================================

func TestChatRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     ChatRequest
		wantErr bool
	}{
		{"valid with session", ChatRequest{SessionID: "abc-123", Message: "hello"}, false},
		{"valid without session", ChatRequest{Message: "hello"}, false},
		{"missing message", ChatRequest{SessionID: "abc"}, true},
		{"message too large", ChatRequest{Message: strings.Repeat("a", MaxMessageContentBytes+1)}, true},
		{"message at limit", ChatRequest{Message: strings.Repeat("a", MaxMessageContentBytes)}, false},
		{"session too long", ChatRequest{SessionID: strings.Repeat("s", MaxSessionIDLength+1), Message: "hi"}, true},
		{"session not printable", ChatRequest{SessionID: "bad\x00id", Message: "hi"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChatRequest_EnsureDefaults(t *testing.T) {
	t.Run("assigns uuid when empty", func(t *testing.T) {
		req := &ChatRequest{Message: "hi"}
		req.EnsureDefaults()
		_, err := uuid.Parse(req.SessionID)
		require.NoError(t, err)
	})

	t.Run("keeps supplied session", func(t *testing.T) {
		req := &ChatRequest{SessionID: "mine", Message: "hi"}
		req.EnsureDefaults()
		assert.Equal(t, "mine", req.SessionID)
	})
}

func TestNewChatResponse(t *testing.T) {
	resp := NewChatResponse("s1", "t1", "answer")
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, "t1", resp.TurnID)
	assert.Equal(t, "answer", resp.Answer)
	assert.Positive(t, resp.Timestamp)
}

// =============================================================================
// Pagination Tests
// =============================================================================

func TestPage_Exhausted(t *testing.T) {
	tests := []struct {
		name string
		page Page[Video]
		want bool
	}{
		{"empty results", Page[Video]{TotalCount: 10, HasMore: true}, true},
		{"has_more false", Page[Video]{Results: make([]Video, 2), TotalCount: 10, HasMore: false}, true},
		{"total reached", Page[Video]{Results: make([]Video, 5), TotalCount: 10, Offset: 5, HasMore: true}, true},
		{"more to come", Page[Video]{Results: make([]Video, 5), TotalCount: 10, Offset: 0, HasMore: true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.page.Exhausted())
		})
	}
}
