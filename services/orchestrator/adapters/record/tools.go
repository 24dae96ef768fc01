// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/tools"
)

const (
	transcriptChunkSize    = 1500
	transcriptChunkOverlap = 100
)

// Service is the part of the record service the tools use.
type Service interface {
	CollectVideos(ctx context.Context, q VideoQuery, want int) ([]datatypes.Video, error)
	GetVideo(ctx context.Context, videoID string) (datatypes.Video, error)
	GetTranscript(ctx context.Context, videoID, language string) (datatypes.Transcript, error)
	GetStatistics(ctx context.Context) (datatypes.Statistics, error)
	GetChannel(ctx context.Context, channelID string) (datatypes.Channel, error)
	FindChannelByName(ctx context.Context, name string) (datatypes.Channel, error)
}

var _ Service = (*Client)(nil)

// Adapter exposes the record service as tools.
type Adapter struct {
	svc      Service
	now      func() time.Time
	splitter textsplitter.TextSplitter
}

// NewAdapter wraps svc.
func NewAdapter(svc Service) *Adapter {
	return &Adapter{
		svc: svc,
		now: time.Now,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(transcriptChunkSize),
			textsplitter.WithChunkOverlap(transcriptChunkOverlap),
		),
	}
}

// Tools returns the record tools, ready for registration.
func (a *Adapter) Tools() []tools.Tool {
	return []tools.Tool{
		tools.NewFuncTool(tools.Definition{
			Name:        tools.GetRecentVideos,
			Description: "List recently watched videos. Use when the user asks what they watched lately, during a date range, or from one channel.",
			Category:    tools.CategoryRecord,
			Priority:    60,
			Parameters: map[string]tools.ParamDef{
				"limit":      {Type: tools.ParamTypeInt, Description: "How many videos to return", Default: 10.0, Minimum: tools.Float64(1), Maximum: tools.Float64(50)},
				"channel_id": {Type: tools.ParamTypeString, Description: "Only videos from this channel id"},
				"date_from":  {Type: tools.ParamTypeString, Description: "Earliest watch date, YYYY-MM-DD", Format: "date"},
				"date_to":    {Type: tools.ParamTypeString, Description: "Latest watch date, YYYY-MM-DD", Format: "date"},
			},
		}, a.recentVideos),
		tools.NewFuncTool(tools.Definition{
			Name:        tools.GetVideoDetails,
			Description: "Get details about one video. Use when the user asks about a specific video or gives a video id.",
			Category:    tools.CategoryRecord,
			Priority:    40,
			Parameters: map[string]tools.ParamDef{
				"video_id": {Type: tools.ParamTypeString, Description: "Video id (11 characters)", Required: true, MinLength: 1},
			},
		}, a.videoDetails),
		tools.NewFuncTool(tools.Definition{
			Name:        tools.GetStatistics,
			Description: "Get overall watch history statistics. Use for questions about totals, watch time or viewing patterns.",
			Category:    tools.CategoryRecord,
			Priority:    50,
			Parameters:  map[string]tools.ParamDef{},
		}, a.statistics),
		tools.NewFuncTool(tools.Definition{
			Name:        tools.GetChannelInfo,
			Description: "Get information about a channel by id or name. Use when the user asks about a particular channel.",
			Category:    tools.CategoryRecord,
			Priority:    40,
			Parameters: map[string]tools.ParamDef{
				"channel_id":   {Type: tools.ParamTypeString, Description: "Channel id"},
				"channel_name": {Type: tools.ParamTypeString, Description: "Channel name, used when no id is known"},
			},
		}, a.channelInfo),
		tools.NewFuncTool(tools.Definition{
			Name:        tools.GetVideoTranscript,
			Description: "Read an excerpt of a video's transcript. Use when the user asks what was said in a specific video.",
			Category:    tools.CategoryRecord,
			Priority:    20,
			Parameters: map[string]tools.ParamDef{
				"video_id": {Type: tools.ParamTypeString, Description: "Video id (11 characters)", Required: true, MinLength: 1},
				"language": {Type: tools.ParamTypeString, Description: "Transcript language code", Default: "en"},
			},
		}, a.transcript),
	}
}

func (a *Adapter) recentVideos(ctx context.Context, args tools.Args) tools.Output {
	q := VideoQuery{ChannelID: args.String("channel_id")}
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

	videos, err := a.svc.CollectVideos(ctx, q, args.Int("limit", 10))
	if err != nil && len(videos) == 0 {
		return a.failure(err, "your recent videos", "")
	}
	if len(videos) == 0 {
		if q.ChannelID != "" || !q.DateFrom.IsZero() || !q.DateTo.IsZero() {
			return tools.Text("I couldn't find any videos matching those filters in your watch history.")
		}
		return tools.Text("I couldn't find any videos in your watch history.")
	}
	return tools.Text(FormatVideoList(videos, a.now()))
}

func (a *Adapter) videoDetails(ctx context.Context, args tools.Args) tools.Output {
	id := args.String("video_id")
	v, err := a.svc.GetVideo(ctx, id)
	if err != nil {
		return a.failure(err, "that video", fmt.Sprintf("I couldn't find a video with ID %s in your watch history.", id))
	}
	return tools.Text(FormatVideoDetails(v))
}

func (a *Adapter) statistics(ctx context.Context, _ tools.Args) tools.Output {
	s, err := a.svc.GetStatistics(ctx)
	if err != nil {
		return a.failure(err, "your watch history statistics", "")
	}
	return tools.Text(FormatStatistics(s))
}

func (a *Adapter) channelInfo(ctx context.Context, args tools.Args) tools.Output {
	id := args.String("channel_id")
	name := args.String("channel_name")
	if id == "" && name == "" {
		return tools.Failure(datatypes.KindValidation, "Please provide either a channel ID or channel name.")
	}
	notFound := fmt.Sprintf("I couldn't find %s in your watch history.", orDefault(name, orDefault(id, "that channel")))

	if id == "" {
		found, err := a.svc.FindChannelByName(ctx, name)
		if err != nil {
			return a.failure(err, "channel information", notFound)
		}
		id = found.ChannelID
	}
	ch, err := a.svc.GetChannel(ctx, id)
	if err != nil {
		return a.failure(err, "channel information", notFound)
	}
	return tools.Text(FormatChannel(ch))
}

func (a *Adapter) transcript(ctx context.Context, args tools.Args) tools.Output {
	id := args.String("video_id")
	lang := args.String("language")
	t, err := a.svc.GetTranscript(ctx, id, lang)
	if err != nil {
		return a.failure(err, "that transcript", fmt.Sprintf("There is no %s transcript available for video %s.", lang, id))
	}
	text := strings.TrimSpace(t.Text)
	if text == "" {
		return tools.Text(fmt.Sprintf("The transcript for video %s is empty.", id))
	}

	chunks, err := a.splitter.SplitText(text)
	if err != nil || len(chunks) == 0 {
		slog.Warn("Transcript split failed, returning a prefix", "video_id", id, "error", err)
		chunks = []string{truncate(text, transcriptChunkSize)}
	}
	return tools.Text(fmt.Sprintf("Transcript of video %s (excerpt 1 of %d):\n%s", id, len(chunks), chunks[0]))
}

// failure renders a service error as user-facing text.
//
// notFound is used for 404s when non-empty; what names the thing that
// could not be retrieved.
func (a *Adapter) failure(err error, what, notFound string) tools.Output {
	switch {
	case errors.Is(err, ErrNotFound) && notFound != "":
		return tools.Failure(datatypes.KindValidation, notFound)
	case errors.Is(err, datatypes.ErrValidation):
		return tools.Failure(datatypes.KindValidation,
			fmt.Sprintf("The record service did not accept that request for %s. Could you rephrase it?", what))
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, datatypes.ErrUpstreamUnavailable):
		return tools.Failure(datatypes.KindUpstreamUnavailable,
			fmt.Sprintf("I encountered an issue retrieving %s. Please try again later.", what))
	default:
		slog.Error("Unexpected record service error", "what", what, "error", err)
		return tools.Failure(datatypes.KindUpstreamUnavailable,
			fmt.Sprintf("I encountered an issue retrieving %s. Please try again later.", what))
	}
}
