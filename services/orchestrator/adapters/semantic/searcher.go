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
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
)

const (
	// DefaultResults is the top-k used when a query does not say.
	DefaultResults = 10

	// MaxResults caps any single query.
	MaxResults = 50

	// overFetch multiplies k while a post-filter is active.
	overFetch = 2

	maxQueryLength = 2000
)

// Query is one topic search.
type Query struct {
	Text     string
	K        int
	Filter   Filter
	DateFrom time.Time
	DateTo   time.Time
}

// postFiltered reports whether dates must be checked after the store answers.
func (q Query) postFiltered() bool { return !q.DateFrom.IsZero() || !q.DateTo.IsZero() }

func (q Query) keep(h datatypes.SearchHit) bool {
	if !q.DateFrom.IsZero() && h.WatchedAt.Before(q.DateFrom) {
		return false
	}
	if !q.DateTo.IsZero() && !h.WatchedAt.Before(q.DateTo.AddDate(0, 0, 1)) {
		return false
	}
	return true
}

// Searcher combines an Embedder and a VectorStore.
type Searcher struct {
	embedder Embedder
	store    VectorStore
}

// NewSearcher creates a Searcher.
func NewSearcher(embedder Embedder, store VectorStore) *Searcher {
	return &Searcher{embedder: embedder, store: store}
}

// Search embeds q.Text and returns at most q.K hits in canonical order.
//
// # Description
//
// Channel predicates go to the store. Date bounds are applied afterwards on
// watched_at, so the store is asked for overFetch*K hits when they are set.
//
// # Outputs
//
//   - []datatypes.SearchHit: Sorted by SortHits. Empty (not nil) when
//     nothing matched.
//   - error: Embedding or store failure, wrapping
//     datatypes.ErrUpstreamUnavailable.
func (s *Searcher) Search(ctx context.Context, q Query) ([]datatypes.SearchHit, error) {
	ctx, span := tracer.Start(ctx, "Searcher.Search")
	defer span.End()

	q.K = clampK(q.K, DefaultResults)
	text := strings.TrimSpace(q.Text)
	if len(text) > maxQueryLength {
		text = text[:maxQueryLength]
	}
	span.SetAttributes(attribute.Int("search.k", q.K), attribute.Bool("search.date_filtered", q.postFiltered()))

	vector, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	fetch := q.K
	if q.postFiltered() {
		fetch = min(q.K*overFetch, MaxResults*overFetch)
	}
	hits, err := s.store.NearVector(ctx, vector, fetch, q.Filter)
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}

	kept := make([]datatypes.SearchHit, 0, len(hits))
	for _, h := range hits {
		if q.keep(h) {
			kept = append(kept, h)
		}
	}
	SortHits(kept)
	if len(kept) > q.K {
		kept = kept[:q.K]
	}
	slog.Debug("Semantic search complete", "fetched", len(hits), "returned", len(kept))
	return kept, nil
}

// Similar returns up to k videos closest to videoID, excluding videoID itself.
func (s *Searcher) Similar(ctx context.Context, videoID string, k int) ([]datatypes.SearchHit, error) {
	ctx, span := tracer.Start(ctx, "Searcher.Similar")
	defer span.End()

	k = clampK(k, 5)
	vector, err := s.store.VectorOf(ctx, videoID)
	if err != nil {
		return nil, err
	}
	hits, err := s.store.NearVector(ctx, vector, k+1, Filter{})
	if err != nil {
		return nil, fmt.Errorf("similarity query: %w", err)
	}

	out := make([]datatypes.SearchHit, 0, len(hits))
	for _, h := range hits {
		if h.VideoID != videoID {
			out = append(out, h)
		}
	}
	SortHits(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// SortHits orders hits by relevance descending, then watch time descending,
// then video id for a total order.
func SortHits(hits []datatypes.SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		if !a.WatchedAt.Equal(b.WatchedAt) {
			return a.WatchedAt.After(b.WatchedAt)
		}
		return a.VideoID < b.VideoID
	})
}

func clampK(k, def int) int {
	switch {
	case k <= 0:
		return def
	case k > MaxResults:
		return MaxResults
	default:
		return k
	}
}
