// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tools is the tool registry and concurrent dispatcher used by the
// chat pipeline.
//
// Every retrieval operation the model may call is a Tool: a Definition that
// describes its arguments, and an Execute method that always returns
// natural-language text. Tools never return Go errors to the pipeline;
// failures are rendered as user-facing text and classified with an
// ErrorKind for logging and metrics.
//
// Thread Safety:
//
//	All types in this package are designed for concurrent use.
package tools

import (
	"context"
	"time"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
)

// Name identifies a registered operation.
//
// The set of operations is closed: every tool the pipeline knows about has
// a constant below, so a misspelled name fails to compile instead of failing
// at dispatch time.
type Name string

const (
	GetRecentVideos     Name = "get_recent_videos"
	GetVideoDetails     Name = "get_video_details"
	GetStatistics       Name = "get_statistics"
	GetChannelInfo      Name = "get_channel_info"
	GetVideoTranscript  Name = "get_video_transcript"
	SearchVideosByTopic Name = "search_videos_by_topic"
	FindSimilarVideos   Name = "find_similar_videos"
	TopChannelsForTopic Name = "top_channels_for_topic"
	TopicTimeline       Name = "topic_timeline"
)

// Category groups tools by the adapter that serves them.
type Category string

const (
	CategoryRecord      Category = "record"
	CategorySemantic    Category = "semantic"
	CategoryAggregation Category = "aggregation"
)

// ParamType is the JSON type of a tool parameter.
type ParamType string

const (
	ParamTypeString ParamType = "string"
	ParamTypeInt    ParamType = "integer"
	ParamTypeFloat  ParamType = "number"
	ParamTypeBool   ParamType = "boolean"
)

// ParamDef defines a single parameter for a tool.
type ParamDef struct {
	// Type is the parameter type.
	Type ParamType `json:"type"`

	// Description explains what the parameter is for.
	Description string `json:"description"`

	// Required indicates if the parameter must be provided.
	Required bool `json:"required"`

	// Default is applied before Execute when the argument is absent.
	Default any `json:"default,omitempty"`

	// Enum restricts values to a set of options.
	Enum []any `json:"enum,omitempty"`

	// MinLength is the minimum string length (for string type).
	MinLength int `json:"minLength,omitempty"`

	// MaxLength is the maximum string length (for string type).
	MaxLength int `json:"maxLength,omitempty"`

	// Minimum is the minimum value (for numeric types).
	Minimum *float64 `json:"minimum,omitempty"`

	// Maximum is the maximum value (for numeric types).
	Maximum *float64 `json:"maximum,omitempty"`

	// Format is an informational JSON schema format such as "date".
	Format string `json:"format,omitempty"`
}

// Definition describes a tool's interface for the model.
//
// # Description
//
// Definition is advertised to the model through Schema and used by the
// dispatcher to validate arguments before the tool runs. Description
// should tell the model when to call the tool, not how it works.
type Definition struct {
	Name        Name                `json:"name"`
	Description string              `json:"description"`
	Parameters  map[string]ParamDef `json:"parameters"`
	Category    Category            `json:"category"`

	// Priority orders the catalog (higher first).
	Priority int `json:"priority"`

	// Timeout overrides the dispatcher default when positive.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Tool is one callable retrieval operation.
//
// Implementations must be safe for concurrent use, must honour ctx, and
// must never panic or return structured data; the dispatcher recovers
// panics anyway.
type Tool interface {
	// Definition returns the tool's parameter schema.
	Definition() Definition

	// Execute runs the tool with validated, defaulted arguments.
	Execute(ctx context.Context, args Args) Output
}

// Output is what a tool hands back to the dispatcher.
//
// # Fields
//
//   - Text: Natural language for the model. Always set, also on failure.
//   - Failed: True when the operation could not do what was asked.
//   - Kind: Classification of the failure; KindUnknown when Failed is false.
type Output struct {
	Text   string
	Failed bool
	Kind   datatypes.ErrorKind
}

// Text builds a successful Output.
func Text(text string) Output {
	return Output{Text: text}
}

// Failure builds a failed Output with user-facing text.
func Failure(kind datatypes.ErrorKind, text string) Output {
	return Output{Text: text, Failed: true, Kind: kind}
}

// Float64 returns a pointer to v, for ParamDef bounds.
func Float64(v float64) *float64 {
	return &v
}
