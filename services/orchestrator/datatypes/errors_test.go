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
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTurnError_IsMatchesKindAndCause(t *testing.T) {
	err := NewTurnError(KindModelInference, "infer", context.DeadlineExceeded)

	assert.ErrorIs(t, err, ErrModelInference)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrDispatchBoundExceeded)
	assert.Contains(t, err.Error(), "model_inference_failure in infer")
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, KindUnknown},
		{"plain", errors.New("boom"), KindUnknown},
		{"sentinel", fmt.Errorf("wrap: %w", ErrUpstreamUnavailable), KindUpstreamUnavailable},
		{"turn error", NewTurnError(KindDispatchBoundExceeded, "dispatch", nil), KindDispatchBoundExceeded},
		{"wrapped turn error", fmt.Errorf("outer: %w", NewTurnError(KindEvaluationFailure, "evaluate", nil)), KindEvaluationFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorKind_IsFatal(t *testing.T) {
	assert.True(t, KindDispatchBoundExceeded.IsFatal())
	assert.True(t, KindModelInference.IsFatal())
	assert.False(t, KindEvaluationFailure.IsFatal())
	assert.False(t, KindUpstreamUnavailable.IsFatal())
	assert.False(t, KindGuardrailViolation.IsFatal())
}
