// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aggregation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCurator/services/llm"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/adapters/semantic"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/tools"
)

// =============================================================================
// Test Doubles
// =============================================================================

type fakeSearcher struct {
	hits  []datatypes.SearchHit
	err   error
	lastQ semantic.Query
}

func (f *fakeSearcher) Search(_ context.Context, q semantic.Query) ([]datatypes.SearchHit, error) {
	f.lastQ = q
	return f.hits, f.err
}

type fakeChannels struct {
	mu       sync.Mutex
	channels map[string]datatypes.Channel
	fail     map[string]bool
	calls    atomic.Int32
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func (f *fakeChannels) GetChannel(_ context.Context, id string) (datatypes.Channel, error) {
	f.calls.Add(1)
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		old := f.maxSeen.Load()
		if n <= old || f.maxSeen.CompareAndSwap(old, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[id] {
		return datatypes.Channel{}, fmt.Errorf("%w: channel lookup", datatypes.ErrUpstreamUnavailable)
	}
	ch, ok := f.channels[id]
	if !ok {
		return datatypes.Channel{}, fmt.Errorf("not found: %s", id)
	}
	return ch, nil
}

func hit(id, channelID, channelName string, rel float64, watched time.Time) datatypes.SearchHit {
	return datatypes.SearchHit{
		VideoID: id, Title: "Title " + id, ChannelID: channelID, ChannelName: channelName,
		Relevance: rel, WatchedAt: watched,
	}
}

var (
	jan = time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	mar = time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
)

func cookingHits() []datatypes.SearchHit {
	return []datatypes.SearchHit{
		hit("v1", "UC_A", "Alpha Kitchen", 0.91, jan),
		hit("v2", "UC_B", "Bistro", 0.95, mar),
		hit("v3", "UC_A", "Alpha Kitchen", 0.80, mar),
		hit("v4", "UC_C", "Chef C", 0.70, jan),
		hit("v5", "UC_B", "Bistro", 0.60, jan),
		hit("v6", "UC_A", "Alpha Kitchen", 0.50, mar),
		hit("v7", "UC_D", "Dough", 0.70, mar),
	}
}

func newChannels() *fakeChannels {
	return &fakeChannels{
		channels: map[string]datatypes.Channel{
			"UC_A": {ChannelID: "UC_A", Name: "Alpha Kitchen", VideoCount: 40, SubscriberCount: 2_300_000},
			"UC_B": {ChannelID: "UC_B", Name: "Bistro", VideoCount: 12},
			"UC_C": {ChannelID: "UC_C", Name: "Chef C", VideoCount: 3},
			"UC_D": {ChannelID: "UC_D", Name: "Dough", VideoCount: 1},
		},
		fail: map[string]bool{},
	}
}

// =============================================================================
// Aggregator Tests
// =============================================================================

func TestRankChannels_GroupAndSort(t *testing.T) {
	s := &fakeSearcher{hits: cookingHits()}
	chans := newChannels()
	agg := NewAggregator(s, chans)

	r, err := agg.RankChannels(context.Background(), "cooking", 3, 50)
	require.NoError(t, err)
	assert.Equal(t, "cooking", s.lastQ.Text)
	assert.Equal(t, 50, s.lastQ.K)
	assert.False(t, r.Partial)
	assert.Equal(t, 7, r.Sampled)

	require.Len(t, r.Groups, 3)
	assert.Equal(t, "UC_A", r.Groups[0].ChannelID)
	assert.Equal(t, 3, r.Groups[0].Hits)
	assert.Equal(t, "Title v1", r.Groups[0].BestTitle)
	assert.Equal(t, "UC_B", r.Groups[1].ChannelID)
	// Chef C and Dough tie on hits and relevance; channel id breaks the tie.
	assert.Equal(t, "UC_C", r.Groups[2].ChannelID)
	require.NotNil(t, r.Groups[0].Channel)
	assert.Equal(t, 40, r.Groups[0].Channel.VideoCount)

	// Only the kept groups are joined.
	assert.Equal(t, int32(3), chans.calls.Load())
}

func TestRankChannels_TieOrderSurvivesRename(t *testing.T) {
	hits := []datatypes.SearchHit{
		hit("v1", "UC_X", "aardvark uploads", 0.8, jan),
		hit("v2", "UC_Y", "Baking Basics", 0.8, mar),
	}
	chans := &fakeChannels{
		channels: map[string]datatypes.Channel{
			"UC_X": {ChannelID: "UC_X", Name: "Zest Kitchen"},
			"UC_Y": {ChannelID: "UC_Y", Name: "Apron Hour"},
		},
		fail: map[string]bool{},
	}
	agg := NewAggregator(&fakeSearcher{hits: hits}, chans)

	for range 5 {
		r, err := agg.RankChannels(context.Background(), "baking", 5, 50)
		require.NoError(t, err)
		require.Len(t, r.Groups, 2)
		assert.Equal(t, []string{"UC_X", "UC_Y"}, []string{r.Groups[0].ChannelID, r.Groups[1].ChannelID})
		assert.Equal(t, "Zest Kitchen", r.Groups[0].ChannelName)
	}

	top, err := agg.RankChannels(context.Background(), "baking", 1, 50)
	require.NoError(t, err)
	require.Len(t, top.Groups, 1)
	assert.Equal(t, "UC_X", top.Groups[0].ChannelID, "the limit keeps the same channel the full ranking puts first")
}

func TestRankChannels_NoMatchesSkipsAggregation(t *testing.T) {
	chans := newChannels()
	agg := NewAggregator(&fakeSearcher{}, chans)

	_, err := agg.RankChannels(context.Background(), "underwater basket weaving", 5, 50)
	assert.ErrorIs(t, err, ErrNoMatches)
	assert.Zero(t, chans.calls.Load(), "no join may run over an empty set")
}

func TestRankChannels_JoinFailureIsPartial(t *testing.T) {
	chans := newChannels()
	chans.fail["UC_B"] = true
	agg := NewAggregator(&fakeSearcher{hits: cookingHits()}, chans)

	r, err := agg.RankChannels(context.Background(), "cooking", 5, 50)
	require.NoError(t, err)
	assert.True(t, r.Partial)
	require.Len(t, r.Groups, 4)
	assert.Nil(t, r.Groups[1].Channel)
	assert.Equal(t, "Bistro", r.Groups[1].ChannelName, "hit metadata is kept when the join fails")
	assert.NotNil(t, r.Groups[0].Channel)
}

func TestRankChannels_JoinIsBounded(t *testing.T) {
	var hits []datatypes.SearchHit
	chans := &fakeChannels{channels: map[string]datatypes.Channel{}, fail: map[string]bool{}}
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("UC_%02d", i)
		hits = append(hits, hit(fmt.Sprintf("v%d", i), id, id, 0.5, jan))
		chans.channels[id] = datatypes.Channel{ChannelID: id, Name: id}
	}
	agg := NewAggregator(&fakeSearcher{hits: hits}, chans)

	r, err := agg.RankChannels(context.Background(), "t", 12, 50)
	require.NoError(t, err)
	assert.Len(t, r.Groups, 12)
	assert.LessOrEqual(t, chans.maxSeen.Load(), int32(DefaultJoinParallelism))
}

func TestRankChannels_FilterFailure(t *testing.T) {
	agg := NewAggregator(&fakeSearcher{err: datatypes.ErrUpstreamUnavailable}, newChannels())
	_, err := agg.RankChannels(context.Background(), "cooking", 5, 50)
	assert.ErrorIs(t, err, datatypes.ErrUpstreamUnavailable)
	assert.NotErrorIs(t, err, ErrNoMatches)
}

func TestTimeline(t *testing.T) {
	agg := NewAggregator(&fakeSearcher{hits: cookingHits()}, nil)

	buckets, err := agg.Timeline(context.Background(), "cooking", 20)
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, time.January, buckets[0].Month.Month())
	assert.Equal(t, 3, buckets[0].Count)
	assert.Equal(t, time.March, buckets[1].Month.Month())
	assert.Equal(t, 4, buckets[1].Count)

	_, err = NewAggregator(&fakeSearcher{}, nil).Timeline(context.Background(), "x", 20)
	assert.ErrorIs(t, err, ErrNoMatches)
}

// =============================================================================
// Tool Tests
// =============================================================================

func runTool(t *testing.T, a *Adapter, name tools.Name, args string) datatypes.ToolResult {
	t.Helper()
	reg := tools.NewRegistry().MustRegister(a.Tools()...)
	batch := tools.NewDispatcher(reg).Dispatch(context.Background(), []llm.ToolCall{
		{ID: "call_1", Name: string(name), Arguments: args},
	})
	require.Len(t, batch.Results, 1)
	return batch.Results[0]
}

func TestTopChannelsTool(t *testing.T) {
	a := NewAdapter(NewAggregator(&fakeSearcher{hits: cookingHits()}, newChannels()))

	res := runTool(t, a, tools.TopChannelsForTopic, `{"topic": "cooking", "limit": 2}`)
	require.True(t, res.Success, res.Text)
	assert.Equal(t,
		"Among the 7 videos about cooking in your watch history, these channels come up most:\n"+
			"1. Alpha Kitchen: 3 videos on this topic (40 watched overall, 2.3 million subscribers), e.g. \"Title v1\"\n"+
			"2. Bistro: 2 videos on this topic (12 watched overall), e.g. \"Title v2\"",
		res.Text)
}

func TestTopChannelsTool_NoMatch(t *testing.T) {
	chans := newChannels()
	a := NewAdapter(NewAggregator(&fakeSearcher{}, chans))

	res := runTool(t, a, tools.TopChannelsForTopic, `{"topic": "quantum knitting"}`)
	assert.True(t, res.Success)
	assert.Equal(t, "I couldn't find any videos about quantum knitting in your watch history, so there is nothing to rank.", res.Text)
	assert.Zero(t, chans.calls.Load())
}

func TestTopChannelsTool_Partial(t *testing.T) {
	chans := newChannels()
	chans.fail["UC_A"] = true
	a := NewAdapter(NewAggregator(&fakeSearcher{hits: cookingHits()}, chans))

	res := runTool(t, a, tools.TopChannelsForTopic, `{"topic": "cooking"}`)
	require.True(t, res.Success)
	assert.True(t, strings.HasSuffix(res.Text, "\n"+PartialNote))
	assert.Contains(t, res.Text, "1. Alpha Kitchen: 3 videos on this topic, e.g.")
}

func TestTopChannelsTool_FilterUnavailable(t *testing.T) {
	a := NewAdapter(NewAggregator(&fakeSearcher{err: datatypes.ErrUpstreamUnavailable}, newChannels()))

	res := runTool(t, a, tools.TopChannelsForTopic, `{"topic": "cooking"}`)
	assert.False(t, res.Success)
	assert.Equal(t, datatypes.KindUpstreamUnavailable, res.Kind)
	assert.Equal(t, "I couldn't look up videos about cooking right now. Please try again later.", res.Text)
}

func TestTopicTimelineTool(t *testing.T) {
	a := NewAdapter(NewAggregator(&fakeSearcher{hits: cookingHits()}, nil))

	res := runTool(t, a, tools.TopicTimeline, `{"topic": "cooking"}`)
	require.True(t, res.Success, res.Text)
	assert.Equal(t,
		"Here is when you watched videos about cooking:\n"+
			"- January 2024: 3 videos\n"+
			"- March 2024: 4 videos\n"+
			"Your busiest month for this topic was March 2024.",
		res.Text)
}
