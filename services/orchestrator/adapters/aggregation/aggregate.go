// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package aggregation composes a semantic topic filter with grouping over
// record metadata, answering questions like "which channels do I watch most
// for cooking".
//
// # Description
//
// Every operation runs the same three steps:
//
//  1. Filter: a semantic search for the topic. Zero hits end the operation
//     with ErrNoMatches; nothing is aggregated over an empty set.
//  2. Join: hits are enriched with record service metadata. Join failures
//     never fail the operation; the result is marked Partial instead.
//  3. Group/sort: deterministic ordering of the groups.
package aggregation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/adapters/semantic"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("aleutian.curator.aggregation")

const (
	// DefaultSampleSize is how many topic hits feed one aggregation.
	DefaultSampleSize = 50

	// DefaultJoinParallelism bounds concurrent record service lookups.
	DefaultJoinParallelism = 4
)

// ErrNoMatches is returned when the topic filter finds nothing.
var ErrNoMatches = errors.New("no videos match the topic")

// TopicSearcher is the filter step.
type TopicSearcher interface {
	Search(ctx context.Context, q semantic.Query) ([]datatypes.SearchHit, error)
}

// ChannelSource is the join step.
type ChannelSource interface {
	GetChannel(ctx context.Context, channelID string) (datatypes.Channel, error)
}

var _ TopicSearcher = (*semantic.Searcher)(nil)

// ChannelGroup is one ranked channel within a topic.
type ChannelGroup struct {
	ChannelID     string
	ChannelName   string
	Hits          int
	BestRelevance float64
	BestTitle     string

	// Channel holds the joined metadata; nil when the join failed or was
	// not attempted.
	Channel *datatypes.Channel
}

// ChannelRanking is the result of RankChannels.
type ChannelRanking struct {
	Topic   string
	Sampled int
	Groups  []ChannelGroup
	Partial bool
}

// MonthBucket is one month of a topic timeline.
type MonthBucket struct {
	Month time.Time
	Count int
}

// Aggregator runs the filter, join and group steps.
type Aggregator struct {
	searcher    TopicSearcher
	channels    ChannelSource
	parallelism int
}

// NewAggregator creates an Aggregator. channels may be nil, in which case
// every ranking is built from hit metadata alone and marked Partial.
func NewAggregator(searcher TopicSearcher, channels ChannelSource) *Aggregator {
	return &Aggregator{searcher: searcher, channels: channels, parallelism: DefaultJoinParallelism}
}

func (a *Aggregator) filter(ctx context.Context, topic string, sample int) ([]datatypes.SearchHit, error) {
	if sample <= 0 {
		sample = DefaultSampleSize
	}
	hits, err := a.searcher.Search(ctx, semantic.Query{Text: topic, K: sample})
	if err != nil {
		return nil, fmt.Errorf("topic filter: %w", err)
	}
	if len(hits) == 0 {
		return nil, ErrNoMatches
	}
	return hits, nil
}

// RankChannels ranks the channels of the topic's hits by hit count.
//
// # Description
//
// Groups are sorted by hit count descending, then best relevance
// descending, then channel name. Only the top limit groups are joined with
// channel metadata, concurrently and bounded by the aggregator's
// parallelism.
//
// # Outputs
//
//   - ChannelRanking: Partial is true when any join failed.
//   - error: ErrNoMatches for an empty topic, or the filter step's error.
func (a *Aggregator) RankChannels(ctx context.Context, topic string, limit, sample int) (ChannelRanking, error) {
	ctx, span := tracer.Start(ctx, "Aggregator.RankChannels")
	defer span.End()

	hits, err := a.filter(ctx, topic, sample)
	if err != nil {
		return ChannelRanking{}, err
	}

	byKey := make(map[string]*ChannelGroup)
	for _, h := range hits {
		key := h.ChannelID
		if key == "" {
			key = "name:" + h.ChannelName
		}
		g, ok := byKey[key]
		if !ok {
			g = &ChannelGroup{ChannelID: h.ChannelID, ChannelName: h.ChannelName}
			byKey[key] = g
		}
		g.Hits++
		if h.Relevance > g.BestRelevance || g.BestTitle == "" {
			g.BestRelevance = h.Relevance
			g.BestTitle = h.Title
		}
	}

	groups := make([]ChannelGroup, 0, len(byKey))
	for _, g := range byKey {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Hits != groups[j].Hits {
			return groups[i].Hits > groups[j].Hits
		}
		if groups[i].BestRelevance != groups[j].BestRelevance {
			return groups[i].BestRelevance > groups[j].BestRelevance
		}
		// Ties break on the channel id; the join may rename groups.
		if groups[i].ChannelID != groups[j].ChannelID {
			return groups[i].ChannelID < groups[j].ChannelID
		}
		return groups[i].ChannelName < groups[j].ChannelName
	})
	if limit > 0 && len(groups) > limit {
		groups = groups[:limit]
	}

	partial := a.join(ctx, groups)
	span.SetAttributes(
		attribute.Int("aggregation.hits", len(hits)),
		attribute.Int("aggregation.groups", len(groups)),
		attribute.Bool("aggregation.partial", partial),
	)
	return ChannelRanking{Topic: topic, Sampled: len(hits), Groups: groups, Partial: partial}, nil
}

// join fills in Channel for each group and reports whether any lookup failed.
func (a *Aggregator) join(ctx context.Context, groups []ChannelGroup) bool {
	if a.channels == nil {
		return true
	}

	var (
		mu      sync.Mutex
		partial bool
		g       errgroup.Group
	)
	g.SetLimit(a.parallelism)
	for i := range groups {
		if groups[i].ChannelID == "" {
			mu.Lock()
			partial = true
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			ch, err := a.channels.GetChannel(ctx, groups[i].ChannelID)
			if err != nil {
				slog.Warn("Channel join failed, ranking will be partial",
					"channel_id", groups[i].ChannelID, "error", err)
				mu.Lock()
				partial = true
				mu.Unlock()
				return nil
			}
			groups[i].Channel = &ch
			if ch.Name != "" {
				groups[i].ChannelName = ch.Name
			}
			return nil
		})
	}
	_ = g.Wait()
	return partial
}

// Timeline buckets the topic's hits by watch month, oldest first.
// Hits without a watch time are skipped.
func (a *Aggregator) Timeline(ctx context.Context, topic string, sample int) ([]MonthBucket, error) {
	ctx, span := tracer.Start(ctx, "Aggregator.Timeline")
	defer span.End()

	hits, err := a.filter(ctx, topic, sample)
	if err != nil {
		return nil, err
	}

	counts := make(map[time.Time]int)
	for _, h := range hits {
		if h.WatchedAt.IsZero() {
			continue
		}
		w := h.WatchedAt.UTC()
		counts[time.Date(w.Year(), w.Month(), 1, 0, 0, 0, 0, time.UTC)]++
	}
	if len(counts) == 0 {
		return nil, ErrNoMatches
	}

	buckets := make([]MonthBucket, 0, len(counts))
	for m, c := range counts {
		buckets = append(buckets, MonthBucket{Month: m, Count: c})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Month.Before(buckets[j].Month) })
	span.SetAttributes(attribute.Int("aggregation.months", len(buckets)))
	return buckets, nil
}
