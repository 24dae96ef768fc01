// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package semantic

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCurator/services/llm"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/tools"
)

func runTool(t *testing.T, a *Adapter, name tools.Name, args string) datatypes.ToolResult {
	t.Helper()
	reg := tools.NewRegistry().MustRegister(a.Tools()...)
	batch := tools.NewDispatcher(reg).Dispatch(context.Background(), []llm.ToolCall{
		{ID: "call_1", Name: string(name), Arguments: args},
	})
	require.Len(t, batch.Results, 1)
	return batch.Results[0]
}

func newTestAdapter(store *memStore, emb *fakeEmbedder) *Adapter {
	a := NewAdapter(NewSearcher(emb, store))
	a.now = func() time.Time { return day0.AddDate(0, 0, 10) }
	return a
}

func TestSearchVideosByTopicTool(t *testing.T) {
	store, emb := newCorpus()
	a := newTestAdapter(store, emb)

	res := runTool(t, a, tools.SearchVideosByTopic, `{"query": "machine learning", "n_results": 3}`)
	require.True(t, res.Success, res.Text)
	lines := strings.Split(res.Text, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "I found 3 videos that match your search:", lines[0])
	assert.Equal(t, "1. Gradient Descent Explained from DeepLearn (watched 5 days ago) [relevance: 1.00]", lines[1])
	assert.Equal(t, "2. Intro to Neural Networks from DeepLearn (watched 1 week ago) [relevance: 1.00]", lines[2])
	assert.Equal(t, "3. Transformers from Scratch from CodeAcademy (watched 1 week ago) [relevance: 0.99]", lines[3])
}

func TestSearchVideosByTopicTool_Cases(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		setup   func(*memStore, *fakeEmbedder)
		success bool
		kind    datatypes.ErrorKind
		text    string
	}{
		{
			name:    "single hit",
			args:    `{"query": "machine learning", "channel_name": "CodeAcademy"}`,
			success: true,
			text:    "I found 1 video that matches your search:",
		},
		{
			name:    "no hits",
			args:    `{"query": "machine learning", "channel_id": "UC_Nobody"}`,
			success: true,
			text:    "I couldn't find any videos matching your search.",
		},
		{
			name: "missing query",
			args: `{}`,
			kind: datatypes.KindValidation,
		},
		{
			name: "bad date",
			args: `{"query": "cooking", "date_to": "last week"}`,
			kind: datatypes.KindValidation,
			text: "Please give dates as YYYY-MM-DD, for example 2024-03-01.",
		},
		{
			name: "reversed range",
			args: `{"query": "cooking", "date_from": "2024-06-09", "date_to": "2024-06-01"}`,
			kind: datatypes.KindValidation,
			text: "The start date comes after the end date. Could you check the date range?",
		},
		{
			name:  "embedding service down",
			args:  `{"query": "cooking"}`,
			setup: func(_ *memStore, e *fakeEmbedder) { e.err = datatypes.ErrUpstreamUnavailable },
			kind:  datatypes.KindUpstreamUnavailable,
			text:  unavailableText,
		},
		{
			name:  "store down",
			args:  `{"query": "cooking"}`,
			setup: func(s *memStore, _ *fakeEmbedder) { s.err = errors.New("connection refused") },
			kind:  datatypes.KindUpstreamUnavailable,
			text:  unavailableText,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store, emb := newCorpus()
			if tc.setup != nil {
				tc.setup(store, emb)
			}
			res := runTool(t, newTestAdapter(store, emb), tools.SearchVideosByTopic, tc.args)
			assert.Equal(t, tc.success, res.Success, res.Text)
			if !tc.success {
				assert.Equal(t, tc.kind, res.Kind)
			}
			if tc.text != "" {
				assert.True(t, strings.HasPrefix(res.Text, tc.text), res.Text)
			}
		})
	}
}

func TestFindSimilarVideosTool(t *testing.T) {
	store, emb := newCorpus()
	a := newTestAdapter(store, emb)

	res := runTool(t, a, tools.FindSimilarVideos, `{"video_id": "ck1"}`)
	require.True(t, res.Success, res.Text)
	assert.True(t, strings.HasPrefix(res.Text, "I found 4 videos similar to that one:\n1. Knife Skills from KitchenTV"), res.Text)
	assert.NotContains(t, res.Text, "Perfect Pasta")

	res = runTool(t, a, tools.FindSimilarVideos, `{"video_id": "zzz"}`)
	assert.False(t, res.Success)
	assert.Equal(t, datatypes.KindValidation, res.Kind)
	assert.Equal(t, "I couldn't find video zzz in the search index, so I can't look for similar videos.", res.Text)
}
