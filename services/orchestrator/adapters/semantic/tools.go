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
	"strings"
	"time"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/adapters/record"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/tools"
)

const unavailableText = "I couldn't search your watch history right now. Please try again later."

// Adapter exposes the searcher as tools.
type Adapter struct {
	searcher *Searcher
	now      func() time.Time
}

// NewAdapter wraps searcher.
func NewAdapter(searcher *Searcher) *Adapter {
	return &Adapter{searcher: searcher, now: time.Now}
}

// Tools returns the semantic tools, ready for registration.
func (a *Adapter) Tools() []tools.Tool {
	return []tools.Tool{
		tools.NewFuncTool(tools.Definition{
			Name:        tools.SearchVideosByTopic,
			Description: "Search watched videos by topic or meaning. Use when the user asks about videos on a subject, e.g. 'videos about machine learning'.",
			Category:    tools.CategorySemantic,
			Priority:    80,
			Parameters: map[string]tools.ParamDef{
				"query":        {Type: tools.ParamTypeString, Description: "The topic to search for, in a few words", Required: true, MinLength: 1, MaxLength: maxQueryLength},
				"n_results":    {Type: tools.ParamTypeInt, Description: "How many videos to return", Default: float64(DefaultResults), Minimum: tools.Float64(1), Maximum: tools.Float64(MaxResults)},
				"date_from":    {Type: tools.ParamTypeString, Description: "Earliest watch date, YYYY-MM-DD", Format: "date"},
				"date_to":      {Type: tools.ParamTypeString, Description: "Latest watch date, YYYY-MM-DD", Format: "date"},
				"channel_id":   {Type: tools.ParamTypeString, Description: "Only videos from this channel id"},
				"channel_name": {Type: tools.ParamTypeString, Description: "Only videos from this channel name"},
			},
		}, a.searchByTopic),
		tools.NewFuncTool(tools.Definition{
			Name:        tools.FindSimilarVideos,
			Description: "Find watched videos similar to a given video. Use when the user asks for more videos like one they name by id.",
			Category:    tools.CategorySemantic,
			Priority:    30,
			Parameters: map[string]tools.ParamDef{
				"video_id":  {Type: tools.ParamTypeString, Description: "Id of the source video", Required: true, MinLength: 1},
				"n_results": {Type: tools.ParamTypeInt, Description: "How many similar videos to return", Default: 5.0, Minimum: tools.Float64(1), Maximum: tools.Float64(20)},
			},
		}, a.findSimilar),
	}
}

func (a *Adapter) searchByTopic(ctx context.Context, args tools.Args) tools.Output {
	q := Query{
		Text: args.String("query"),
		K:    args.Int("n_results", DefaultResults),
		Filter: Filter{
			ChannelID:   args.String("channel_id"),
			ChannelName: args.String("channel_name"),
		},
	}
	var err error
	if q.DateFrom, _, err = args.Date("date_from"); err != nil {
		return tools.Failure(datatypes.KindValidation, "Please give dates as YYYY-MM-DD, for example 2024-03-01.")
	}
	if q.DateTo, _, err = args.Date("date_to"); err != nil {
		return tools.Failure(datatypes.KindValidation, "Please give dates as YYYY-MM-DD, for example 2024-03-01.")
	}
	if !q.DateFrom.IsZero() && !q.DateTo.IsZero() && q.DateFrom.After(q.DateTo) {
		return tools.Failure(datatypes.KindValidation, "The start date comes after the end date. Could you check the date range?")
	}

	hits, err := a.searcher.Search(ctx, q)
	if err != nil {
		slog.Warn("Topic search failed", "error", err)
		return tools.Failure(datatypes.KindUpstreamUnavailable, unavailableText)
	}
	if len(hits) == 0 {
		return tools.Text("I couldn't find any videos matching your search.")
	}
	return tools.Text(FormatHits(hits, a.now(), "that match your search"))
}

func (a *Adapter) findSimilar(ctx context.Context, args tools.Args) tools.Output {
	id := args.String("video_id")
	hits, err := a.searcher.Similar(ctx, id, args.Int("n_results", 5))
	switch {
	case errors.Is(err, ErrNotIndexed):
		return tools.Failure(datatypes.KindValidation,
			fmt.Sprintf("I couldn't find video %s in the search index, so I can't look for similar videos.", id))
	case err != nil:
		slog.Warn("Similar video search failed", "video_id", id, "error", err)
		return tools.Failure(datatypes.KindUpstreamUnavailable, unavailableText)
	case len(hits) == 0:
		return tools.Text("I couldn't find any videos similar to that one.")
	}
	return tools.Text(FormatHits(hits, a.now(), "similar to that one"))
}

// FormatHits lists hits with their relevance, in the given order.
func FormatHits(hits []datatypes.SearchHit, now time.Time, what string) string {
	verb := strings.Replace(what, "match ", "matches ", 1)
	if len(hits) != 1 {
		verb = what
	}
	lines := []string{fmt.Sprintf("I found %s %s:", record.Plural(len(hits), "video"), verb)}
	for i, h := range hits {
		line := fmt.Sprintf("%d. %s from %s", i+1, orDefault(h.Title, "Unknown Video"), orDefault(h.ChannelName, "Unknown Channel"))
		if rel := record.RelativeTime(now, h.WatchedAt); rel != "" {
			line += " (watched " + rel + ")"
		}
		line += fmt.Sprintf(" [relevance: %.2f]", h.Relevance)
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
