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
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/adapters/record"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/tools"
)

// PartialNote is appended to rankings built without complete channel details.
const PartialNote = "(Some channel details were unavailable, so this ranking is partial.)"

// Adapter exposes the aggregator as tools.
type Adapter struct {
	agg *Aggregator
}

// NewAdapter wraps agg.
func NewAdapter(agg *Aggregator) *Adapter {
	return &Adapter{agg: agg}
}

// Tools returns the aggregation tools, ready for registration.
func (a *Adapter) Tools() []tools.Tool {
	sample := tools.ParamDef{
		Type:        tools.ParamTypeInt,
		Description: "How many topic matches to aggregate over",
		Default:     float64(DefaultSampleSize),
		Minimum:     tools.Float64(5),
		Maximum:     tools.Float64(50),
	}
	return []tools.Tool{
		tools.NewFuncTool(tools.Definition{
			Name:        tools.TopChannelsForTopic,
			Description: "Rank the channels the user watches most for a topic. Use for questions like 'which channels post most about X' or 'who do I watch for X'.",
			Category:    tools.CategoryAggregation,
			Priority:    70,
			Parameters: map[string]tools.ParamDef{
				"topic":       {Type: tools.ParamTypeString, Description: "The topic, in a few words", Required: true, MinLength: 1},
				"limit":       {Type: tools.ParamTypeInt, Description: "How many channels to list", Default: 5.0, Minimum: tools.Float64(1), Maximum: tools.Float64(20)},
				"sample_size": sample,
			},
		}, a.topChannels),
		tools.NewFuncTool(tools.Definition{
			Name:        tools.TopicTimeline,
			Description: "Show how often the user watched a topic month by month. Use for questions like 'when did I watch the most about X'.",
			Category:    tools.CategoryAggregation,
			Priority:    35,
			Parameters: map[string]tools.ParamDef{
				"topic":       {Type: tools.ParamTypeString, Description: "The topic, in a few words", Required: true, MinLength: 1},
				"sample_size": sample,
			},
		}, a.timeline),
	}
}

func (a *Adapter) topChannels(ctx context.Context, args tools.Args) tools.Output {
	topic := args.String("topic")
	ranking, err := a.agg.RankChannels(ctx, topic, args.Int("limit", 5), args.Int("sample_size", DefaultSampleSize))
	if err != nil {
		return failure(err, topic, "rank")
	}
	return tools.Text(FormatRanking(ranking))
}

func (a *Adapter) timeline(ctx context.Context, args tools.Args) tools.Output {
	topic := args.String("topic")
	buckets, err := a.agg.Timeline(ctx, topic, args.Int("sample_size", DefaultSampleSize))
	if err != nil {
		return failure(err, topic, "chart")
	}
	return tools.Text(FormatTimeline(topic, buckets))
}

func failure(err error, topic, verb string) tools.Output {
	if errors.Is(err, ErrNoMatches) {
		return tools.Text(fmt.Sprintf("I couldn't find any videos about %s in your watch history, so there is nothing to %s.", topic, verb))
	}
	slog.Warn("Aggregation failed", "topic", topic, "error", err)
	return tools.Failure(datatypes.KindUpstreamUnavailable,
		fmt.Sprintf("I couldn't look up videos about %s right now. Please try again later.", topic))
}

// FormatRanking renders a channel ranking, annotated when partial.
func FormatRanking(r ChannelRanking) string {
	lines := []string{fmt.Sprintf("Among the %s about %s in your watch history, these channels come up most:",
		record.Plural(r.Sampled, "video"), r.Topic)}
	for i, g := range r.Groups {
		line := fmt.Sprintf("%d. %s: %s on this topic", i+1, orDefault(g.ChannelName, "Unknown Channel"), record.Plural(g.Hits, "video"))
		if ch := g.Channel; ch != nil {
			var extra []string
			if ch.VideoCount > 0 {
				extra = append(extra, humanize.Comma(int64(ch.VideoCount))+" watched overall")
			}
			if ch.SubscriberCount > 0 {
				extra = append(extra, record.SubscriberText(ch.SubscriberCount))
			}
			if len(extra) > 0 {
				line += " (" + strings.Join(extra, ", ") + ")"
			}
		}
		if g.BestTitle != "" {
			line += fmt.Sprintf(", e.g. %q", g.BestTitle)
		}
		lines = append(lines, line)
	}
	if r.Partial {
		lines = append(lines, PartialNote)
	}
	return strings.Join(lines, "\n")
}

// FormatTimeline renders month buckets oldest first and names the busiest month.
func FormatTimeline(topic string, buckets []MonthBucket) string {
	lines := []string{fmt.Sprintf("Here is when you watched videos about %s:", topic)}
	busiest := buckets[0]
	for _, b := range buckets {
		lines = append(lines, fmt.Sprintf("- %s: %s", b.Month.Format("January 2006"), record.Plural(b.Count, "video")))
		if b.Count > busiest.Count {
			busiest = b
		}
	}
	if len(buckets) > 1 {
		lines = append(lines, fmt.Sprintf("Your busiest month for this topic was %s.", busiest.Month.Format("January 2006")))
	}
	return strings.Join(lines, "\n")
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
