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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
)

func TestValidateArgs(t *testing.T) {
	def := Definition{
		Name: SearchVideosByTopic,
		Parameters: map[string]ParamDef{
			"query":     {Type: ParamTypeString, Required: true, MinLength: 1, MaxLength: 20},
			"n_results": {Type: ParamTypeInt, Minimum: Float64(1), Maximum: Float64(50)},
			"score":     {Type: ParamTypeFloat, Minimum: Float64(0), Maximum: Float64(1)},
			"order":     {Type: ParamTypeString, Enum: []any{"asc", "desc"}},
			"verbose":   {Type: ParamTypeBool},
		},
	}

	tests := []struct {
		name      string
		args      Args
		wantParam string
	}{
		{"valid minimal", Args{"query": "ml"}, ""},
		{"valid full", Args{"query": "ml", "n_results": 5.0, "score": 0.5, "order": "asc", "verbose": true}, ""},
		{"unknown params ignored", Args{"query": "ml", "extra": 1}, ""},
		{"missing required", Args{}, "query"},
		{"nil required", Args{"query": nil}, "query"},
		{"wrong type", Args{"query": 3.0}, "query"},
		{"too long", Args{"query": "this query is far too long"}, "query"},
		{"fractional integer", Args{"query": "ml", "n_results": 2.5}, "n_results"},
		{"below minimum", Args{"query": "ml", "n_results": 0.0}, "n_results"},
		{"above maximum", Args{"query": "ml", "score": 1.5}, "score"},
		{"not in enum", Args{"query": "ml", "order": "sideways"}, "order"},
		{"bool type", Args{"query": "ml", "verbose": "yes"}, "verbose"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateArgs(def, tc.args)
			if tc.wantParam == "" {
				assert.NoError(t, err)
				return
			}
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.wantParam, ve.Parameter)
			assert.ErrorIs(t, err, datatypes.ErrValidation)
		})
	}
}

func TestArgs_Accessors(t *testing.T) {
	args, err := DecodeArgs(`{"query": "  cooking  ", "n": 7, "date_from": "2024-03-01", "bad_date": "March"}`)
	require.NoError(t, err)

	assert.Equal(t, "cooking", args.String("query"))
	assert.Equal(t, "", args.String("missing"))
	assert.Equal(t, 7, args.Int("n", 1))
	assert.Equal(t, 3, args.Int("missing", 3))

	d, ok, err := args.Date("date_from")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), d)

	_, ok, err = args.Date("date_to")
	assert.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = args.Date("bad_date")
	assert.True(t, ok)
	assert.ErrorIs(t, err, datatypes.ErrValidation)
}

func TestDecodeArgs(t *testing.T) {
	for _, raw := range []string{"", "  ", "null", "{}"} {
		args, err := DecodeArgs(raw)
		require.NoError(t, err, raw)
		assert.NotNil(t, args)
		assert.Empty(t, args)
	}

	_, err := DecodeArgs(`["not", "an", "object"]`)
	assert.ErrorIs(t, err, datatypes.ErrValidation)
}
