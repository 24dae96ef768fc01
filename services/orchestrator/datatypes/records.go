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

import "time"

// =============================================================================
// Record Service Payloads
// =============================================================================

// DateLayout is the wire format for date filters (YYYY-MM-DD).
const DateLayout = "2006-01-02"

// Page is one page of a paginated record service listing.
//
// # Description
//
// The record service pages with limit/offset. For two consecutive pages
// with the same limit the next offset is offset+limit, and HasMore is false
// exactly when Offset+len(Results) >= TotalCount.
type Page[T any] struct {
	Results    []T  `json:"results"`
	TotalCount int  `json:"total_count"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"has_more"`
}

// Exhausted reports whether no further page should be requested.
func (p Page[T]) Exhausted() bool {
	return len(p.Results) == 0 || !p.HasMore || p.Offset+len(p.Results) >= p.TotalCount
}

// Video is a watched video as served by the record service.
type Video struct {
	VideoID           string    `json:"video_id"`
	Title             string    `json:"title"`
	ChannelID         string    `json:"channel_id"`
	ChannelName       string    `json:"channel_name"`
	Description       string    `json:"description,omitempty"`
	DurationSeconds   int       `json:"duration_seconds,omitempty"`
	DurationFormatted string    `json:"duration_formatted,omitempty"`
	PublishedAt       time.Time `json:"published_at,omitempty"`
	WatchedAt         time.Time `json:"watched_at,omitempty"`
	ViewCount         int64     `json:"view_count,omitempty"`
	LikeCount         int64     `json:"like_count,omitempty"`
}

// Channel is a channel the user watched videos from.
type Channel struct {
	ChannelID       string `json:"channel_id"`
	Name            string `json:"name"`
	Description     string `json:"description,omitempty"`
	VideoCount      int    `json:"video_count"`
	SubscriberCount int64  `json:"subscriber_count,omitempty"`
}

// Statistics summarises the whole watch history.
type Statistics struct {
	TotalVideos                 int       `json:"total_videos"`
	TotalChannels               int       `json:"total_channels"`
	TotalWatchEvents            int       `json:"total_watch_events"`
	TotalWatchTimeHours         float64   `json:"total_watch_time_hours"`
	AverageVideoDurationSeconds float64   `json:"average_video_duration_seconds"`
	OldestWatch                 time.Time `json:"oldest_watch,omitempty"`
	NewestWatch                 time.Time `json:"newest_watch,omitempty"`
}

// Transcript is the caption text of one video.
type Transcript struct {
	VideoID  string `json:"video_id"`
	Language string `json:"language"`
	Text     string `json:"transcript_text"`
}

// APIErrorBody is the error envelope of the record service.
type APIErrorBody struct {
	Detail    string `json:"detail"`
	ErrorType string `json:"error_type"`
}

// =============================================================================
// Semantic Search
// =============================================================================

// SearchHit is one ranked result of a similarity query.
//
// # Description
//
// Relevance is in [0,1], higher is more relevant. Lists of hits returned by
// the semantic adapter are ordered by Relevance descending, ties broken by
// WatchedAt descending.
type SearchHit struct {
	VideoID         string            `json:"video_id"`
	Title           string            `json:"title"`
	ChannelID       string            `json:"channel_id"`
	ChannelName     string            `json:"channel_name"`
	WatchedAt       time.Time         `json:"watched_at"`
	DurationSeconds int               `json:"duration_seconds,omitempty"`
	Distance        float64           `json:"distance"`
	Relevance       float64           `json:"relevance"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}
