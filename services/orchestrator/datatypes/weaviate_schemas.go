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
	"context"
	"fmt"
	"log/slog"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate/entities/models"
)

// DefaultWatchHistoryClass is the Weaviate class holding one object per watched video.
const DefaultWatchHistoryClass = "WatchHistory"

// GetWatchHistorySchema returns the class definition used by the ingestion job.
//
// Vectors are supplied by the ingestion job (Vectorizer "none"); the query
// side must embed with the same embedding service.
func GetWatchHistorySchema(className string) *models.Class {
	indexFilterable := new(bool)
	*indexFilterable = true

	return &models.Class{
		Class:       className,
		Description: "One watched video with its title, channel and watch time.",
		Vectorizer:  "none",
		InvertedIndexConfig: &models.InvertedIndexConfig{
			IndexNullState:  true,
			IndexTimestamps: true,
		},
		Properties: []*models.Property{
			{
				Name:            "video_id",
				DataType:        []string{"text"},
				Description:     "The record service video id.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:         "title",
				DataType:     []string{"text"},
				Description:  "Video title.",
				Tokenization: "word",
			},
			{
				Name:            "channel_id",
				DataType:        []string{"text"},
				Description:     "Owning channel id.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "channel_name",
				DataType:        []string{"text"},
				Description:     "Owning channel display name.",
				IndexFilterable: indexFilterable,
				Tokenization:    "field",
			},
			{
				Name:            "watched_at",
				DataType:        []string{"number"},
				Description:     "Unix milliseconds of the most recent watch.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:            "duration_seconds",
				DataType:        []string{"int"},
				Description:     "Video length in seconds.",
				IndexFilterable: indexFilterable,
			},
			{
				Name:         "document",
				DataType:     []string{"text"},
				Description:  "The text that was embedded (title, channel, description).",
				Tokenization: "word",
			},
		},
	}
}

// EnsureWeaviateSchema creates the watch history class when it is missing.
func EnsureWeaviateSchema(ctx context.Context, client *weaviate.Client, className string) error {
	class := GetWatchHistorySchema(className)
	slog.Info("Checking schema", "class", class.Class)

	// The client returns an error when the class does not exist.
	if _, err := client.Schema().ClassGetter().WithClassName(class.Class).Do(ctx); err == nil {
		slog.Info("Schema already exists", "class", class.Class)
		return nil
	}

	slog.Info("Schema not found, creating it", "class", class.Class)
	if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("create schema for class %s: %w", class.Class, err)
	}
	slog.Info("Successfully created schema", "class", class.Class)
	return nil
}
