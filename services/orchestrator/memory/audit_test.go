// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
)

func openTestLog(t *testing.T) *AuditLog {
	t.Helper()
	a, err := OpenAuditLog(AuditConfig{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func record(session, text string) datatypes.TurnRecord {
	return datatypes.TurnRecord{
		SessionID: session,
		TurnID:    "turn-" + text,
		UserText:  text,
		Answer:    "answer to " + text,
		Outcome:   datatypes.OutcomeAnswered,
		StartedAt: time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestAuditLog_AppendAndReadInOrder(t *testing.T) {
	a := openTestLog(t)
	ctx := context.Background()

	for i := 1; i <= 12; i++ {
		seq, err := a.Append(ctx, record("s1", fmt.Sprintf("q%d", i)))
		require.NoError(t, err)
		assert.Equal(t, uint64(i), seq)
	}
	_, err := a.Append(ctx, record("s2", "other"))
	require.NoError(t, err)

	turns, err := a.Turns(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 12)
	for i, rec := range turns {
		assert.Equal(t, uint64(i+1), rec.Sequence)
		assert.Equal(t, fmt.Sprintf("q%d", i+1), rec.UserText, "numeric order, not lexical")
	}
}

func TestAuditLog_RecordRoundTrip(t *testing.T) {
	a := openTestLog(t)
	ctx := context.Background()

	score := datatypes.NewEvaluationScore([]datatypes.MetricScore{
		{Metric: datatypes.MetricToneFit, Score: 0.5, Rationale: "flat"},
	}, 0.7)
	rec := record("s1", "q")
	rec.ToolCalls = []datatypes.ToolCall{{ID: "c1", Name: "get_statistics"}}
	rec.ToolResults = []datatypes.ToolResult{{CallID: "c1", Name: "get_statistics", Text: "stats", Success: true}}
	rec.Evaluation = &score
	rec.Enhanced = true
	rec.ModelCalls = 3

	_, err := a.Append(ctx, rec)
	require.NoError(t, err)

	turns, err := a.Turns(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	got := turns[0]
	assert.Equal(t, "c1", got.ToolResults[0].CallID)
	require.NotNil(t, got.Evaluation)
	assert.True(t, got.Evaluation.NeedsEnhancement)
	assert.True(t, got.Enhanced)
	assert.Equal(t, 3, got.ModelCalls)
}

func TestAuditLog_SessionIsolation(t *testing.T) {
	a := openTestLog(t)
	ctx := context.Background()

	_, err := a.Append(ctx, record("a", "one"))
	require.NoError(t, err)
	_, err = a.Append(ctx, record("a/b", "two"))
	require.NoError(t, err)

	turns, err := a.Turns(ctx, "a")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "one", turns[0].UserText)

	seq, err := a.Append(ctx, record("a", "three"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), seq)

	empty, err := a.Turns(ctx, "missing")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestAuditLog_ConcurrentSessions(t *testing.T) {
	a := openTestLog(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for s := 0; s < 4; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < 5; i++ {
				_, err := a.Append(ctx, record(fmt.Sprintf("s%d", s), fmt.Sprintf("q%d", i)))
				assert.NoError(t, err)
			}
		}(s)
	}
	wg.Wait()

	for s := 0; s < 4; s++ {
		turns, err := a.Turns(ctx, fmt.Sprintf("s%d", s))
		require.NoError(t, err)
		assert.Len(t, turns, 5)
	}
}

func TestAuditLog_Validation(t *testing.T) {
	a := openTestLog(t)
	_, err := a.Append(context.Background(), datatypes.TurnRecord{})
	assert.Error(t, err)

	_, err = OpenAuditLog(AuditConfig{})
	assert.Error(t, err, "persistent mode needs a path")

	assert.True(t, DefaultAuditConfig("").InMemory)
	assert.Equal(t, defaultGCPeriod, DefaultAuditConfig("/var/lib/curator").GCInterval)
}

func TestAuditLog_Persistent(t *testing.T) {
	dir := t.TempDir()
	a, err := OpenAuditLog(AuditConfig{Path: dir})
	require.NoError(t, err)
	_, err = a.Append(context.Background(), record("s1", "q"))
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := OpenAuditLog(AuditConfig{Path: dir})
	require.NoError(t, err)
	defer b.Close()
	turns, err := b.Turns(context.Background(), "s1")
	require.NoError(t, err)
	assert.Len(t, turns, 1)
}
