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
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-openapi/strfmt"
	"github.com/weaviate/weaviate/entities/models"
)

// =============================================================================
// Generic GraphQL Response Parser
// =============================================================================

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target type.
//
// # Description
//
// Converts Weaviate's dynamic response (map[string]models.JSONObject) into a
// strongly-typed Go struct by a marshal/unmarshal round trip. The target type
// T must carry json tags matching the expected response shape.
//
// # Limitations
//
//   - Type mismatches result in zero values, not errors.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 && resp.Errors[0] != nil {
		return nil, fmt.Errorf("graphql error: %s", resp.Errors[0].Message)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}

	return &result, nil
}

// =============================================================================
// Watch History Response Types
// =============================================================================

// WatchHistoryQueryResponse is the GraphQL Get response for the watch history class.
//
// The class name is dynamic, so results are keyed by class.
type WatchHistoryQueryResponse struct {
	Get map[string][]WatchHistoryResult `json:"Get"`
}

// WatchHistoryResult is one object of the watch history class.
type WatchHistoryResult struct {
	VideoID         string  `json:"video_id"`
	Title           string  `json:"title"`
	ChannelID       string  `json:"channel_id"`
	ChannelName     string  `json:"channel_name"`
	WatchedAt       float64 `json:"watched_at"`
	DurationSeconds int     `json:"duration_seconds"`
	Additional      struct {
		ID       strfmt.UUID `json:"id"`
		Distance float64     `json:"distance"`
		Vector   []float32   `json:"vector,omitempty"`
	} `json:"_additional"`
}

// ToSearchHit converts a result into a SearchHit. Relevance is 1-distance,
// clamped to [0,1].
func (r WatchHistoryResult) ToSearchHit() SearchHit {
	hit := SearchHit{
		VideoID:         r.VideoID,
		Title:           r.Title,
		ChannelID:       r.ChannelID,
		ChannelName:     r.ChannelName,
		DurationSeconds: r.DurationSeconds,
		Distance:        r.Additional.Distance,
		Relevance:       ClampScore(1 - r.Additional.Distance),
	}
	if r.WatchedAt > 0 {
		hit.WatchedAt = time.UnixMilli(int64(r.WatchedAt)).UTC()
	}
	if r.Additional.ID != "" {
		hit.Metadata = map[string]string{"object_id": r.Additional.ID.String()}
	}
	return hit
}
