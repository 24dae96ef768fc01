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
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
)

// ErrNotIndexed is returned when a video has no object in the vector store.
var ErrNotIndexed = errors.New("video is not in the semantic index")

// Filter narrows a similarity query by metadata the store can match natively.
// Empty fields are ignored.
type Filter struct {
	ChannelID   string
	ChannelName string
}

func (f Filter) empty() bool { return f.ChannelID == "" && f.ChannelName == "" }

// VectorStore is a top-k similarity index over watched videos.
type VectorStore interface {
	// NearVector returns up to k hits closest to vector that satisfy f.
	// Hits carry Distance and Relevance; order is not guaranteed.
	NearVector(ctx context.Context, vector []float32, k int, f Filter) ([]datatypes.SearchHit, error)

	// VectorOf returns the stored vector of one video, or ErrNotIndexed.
	VectorOf(ctx context.Context, videoID string) ([]float32, error)
}

// WeaviateStore implements VectorStore over the watch history class.
//
// Thread Safety: safe for concurrent use; the client pools connections.
type WeaviateStore struct {
	client    *weaviate.Client
	className string
}

var _ VectorStore = (*WeaviateStore)(nil)

// NewWeaviateStore queries className through client.
func NewWeaviateStore(client *weaviate.Client, className string) *WeaviateStore {
	if className == "" {
		className = datatypes.DefaultWatchHistoryClass
	}
	return &WeaviateStore{client: client, className: className}
}

var hitFields = []graphql.Field{
	{Name: "video_id"},
	{Name: "title"},
	{Name: "channel_id"},
	{Name: "channel_name"},
	{Name: "watched_at"},
	{Name: "duration_seconds"},
	{Name: "_additional", Fields: []graphql.Field{
		{Name: "id"},
		{Name: "distance"},
	}},
}

// NearVector runs a nearVector Get query with the channel predicates pushed down.
func (s *WeaviateStore) NearVector(ctx context.Context, vector []float32, k int, f Filter) ([]datatypes.SearchHit, error) {
	ctx, span := tracer.Start(ctx, "WeaviateStore.NearVector")
	defer span.End()
	span.SetAttributes(attribute.Int("search.k", k), attribute.Bool("search.filtered", !f.empty()))

	query := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(hitFields...).
		WithNearVector(s.client.GraphQL().NearVectorArgBuilder().WithVector(vector)).
		WithLimit(k)
	if where := whereFor(f); where != nil {
		query = query.WithWhere(where)
	}

	results, err := s.run(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, err
	}

	hits := make([]datatypes.SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, r.ToSearchHit())
	}
	span.SetAttributes(attribute.Int("search.hits", len(hits)))
	return hits, nil
}

// VectorOf fetches the stored vector of videoID.
func (s *WeaviateStore) VectorOf(ctx context.Context, videoID string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "WeaviateStore.VectorOf")
	defer span.End()

	where := filters.Where().
		WithPath([]string{"video_id"}).
		WithOperator(filters.Equal).
		WithValueString(videoID)

	query := s.client.GraphQL().Get().
		WithClassName(s.className).
		WithFields(graphql.Field{Name: "video_id"}, graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "vector"}}}).
		WithWhere(where).
		WithLimit(1)

	results, err := s.run(ctx, query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "query failed")
		return nil, err
	}
	if len(results) == 0 || len(results[0].Additional.Vector) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotIndexed, videoID)
	}
	return results[0].Additional.Vector, nil
}

func (s *WeaviateStore) run(ctx context.Context, query *graphql.GetBuilder) ([]datatypes.WatchHistoryResult, error) {
	resp, err := query.Do(ctx)
	if err != nil {
		slog.Error("Weaviate query failed", "class", s.className, "error", err)
		return nil, fmt.Errorf("%w: weaviate query: %v", datatypes.ErrUpstreamUnavailable, err)
	}
	parsed, err := datatypes.ParseGraphQLResponse[datatypes.WatchHistoryQueryResponse](resp)
	if err != nil {
		slog.Error("Failed to parse weaviate response", "class", s.className, "error", err)
		return nil, fmt.Errorf("%w: %v", datatypes.ErrUpstreamUnavailable, err)
	}
	return parsed.Get[s.className], nil
}

// whereFor builds the channel predicate, or nil when f is empty.
func whereFor(f Filter) *filters.WhereBuilder {
	var operands []*filters.WhereBuilder
	if f.ChannelID != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"channel_id"}).
			WithOperator(filters.Equal).
			WithValueString(f.ChannelID))
	}
	if f.ChannelName != "" {
		operands = append(operands, filters.Where().
			WithPath([]string{"channel_name"}).
			WithOperator(filters.Equal).
			WithValueString(f.ChannelName))
	}
	switch len(operands) {
	case 0:
		return nil
	case 1:
		return operands[0]
	default:
		return filters.Where().WithOperator(filters.And).WithOperands(operands)
	}
}
