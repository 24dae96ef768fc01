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
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
)

// maxListed is how many videos a list summary spells out.
const maxListed = 5

// Plural returns "1 video" or "3 videos".
func Plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%s %ss", humanize.Comma(int64(n)), noun)
}

// RelativeTime renders how long ago t was, relative to now.
//
// Returns "" for a zero time.
func RelativeTime(now, t time.Time) string {
	if t.IsZero() {
		return ""
	}
	diff := now.Sub(t)
	if diff < 0 {
		diff = 0
	}
	days := int(diff.Hours() / 24)
	switch {
	case days == 0 && diff < time.Hour:
		return Plural(int(diff.Minutes()), "minute") + " ago"
	case days == 0:
		return Plural(int(diff.Hours()), "hour") + " ago"
	case days == 1:
		return "yesterday"
	case days < 7:
		return fmt.Sprintf("%d days ago", days)
	case days < 30:
		return Plural(days/7, "week") + " ago"
	default:
		return Plural(days/30, "month") + " ago"
	}
}

// FormatVideoList summarises videos, listing at most five of them.
func FormatVideoList(videos []datatypes.Video, now time.Time) string {
	count := len(videos)
	if count == 0 {
		return "You haven't watched any videos recently."
	}

	var lines []string
	if count == 1 {
		lines = append(lines, "You watched 1 video recently:")
	} else {
		lines = append(lines, fmt.Sprintf("You've watched %d videos recently. Here are some highlights:", count))
	}

	shown := min(count, maxListed)
	for i, v := range videos[:shown] {
		line := fmt.Sprintf("%d. %s from %s", i+1, orDefault(v.Title, "Unknown Video"), orDefault(v.ChannelName, "Unknown Channel"))
		if d := durationText(v); d != "" {
			line += " (" + d + ")"
		}
		if rel := RelativeTime(now, v.WatchedAt); rel != "" {
			line += " - watched " + rel
		}
		lines = append(lines, line)
	}
	if rest := count - shown; rest > 0 {
		lines = append(lines, "... and "+Plural(rest, "more video"))
	}
	return strings.Join(lines, "\n")
}

// FormatStatistics renders the aggregate statistics as a few sentences.
func FormatStatistics(s datatypes.Statistics) string {
	if s.TotalVideos == 0 {
		return "Your watch history appears to be empty."
	}

	var parts []string
	opening := "You've watched " + Plural(s.TotalVideos, "unique video")
	if s.TotalVideos >= 1000 {
		opening = "Your watch history is quite extensive! " + opening
	}
	if s.TotalChannels > 0 {
		opening += " across " + Plural(s.TotalChannels, "different channel")
	}
	parts = append(parts, opening)

	switch hours := s.TotalWatchTimeHours; {
	case hours >= 1000:
		parts = append(parts, fmt.Sprintf("Your total watch time is approximately %s hours", humanize.Comma(int64(hours+0.5))))
	case hours >= 1:
		parts = append(parts, fmt.Sprintf("Your total watch time is approximately %.1f hours", hours))
	case hours > 0:
		parts = append(parts, fmt.Sprintf("Your total watch time is approximately %.0f minutes", hours*60))
	}

	if avg := s.AverageVideoDurationSeconds; avg > 0 {
		minutes := avg / 60
		if minutes >= 60 {
			parts = append(parts, fmt.Sprintf("The average video lasts %.1f hours", minutes/60))
		} else {
			parts = append(parts, fmt.Sprintf("The average video lasts %.0f minutes", minutes))
		}
	}

	if s.TotalWatchEvents > s.TotalVideos {
		parts = append(parts, "You've watched videos a total of "+Plural(s.TotalWatchEvents, "time"))
	}

	if !s.OldestWatch.IsZero() && !s.NewestWatch.IsZero() {
		parts = append(parts, fmt.Sprintf("Your viewing history spans from %s to %s",
			s.OldestWatch.Format("January 2006"), s.NewestWatch.Format("January 2006")))
	}

	return strings.Join(parts, ". ") + "."
}

// FormatVideoDetails renders one video.
func FormatVideoDetails(v datatypes.Video) string {
	parts := []string{fmt.Sprintf("%s is a video from %s", orDefault(v.Title, "Unknown Video"), orDefault(v.ChannelName, "Unknown Channel"))}
	if d := durationText(v); d != "" {
		parts[0] += " with a duration of " + d
	}
	if !v.PublishedAt.IsZero() {
		parts[0] += ", published in " + v.PublishedAt.Format("January 2006")
	}
	if desc := strings.TrimSpace(v.Description); desc != "" {
		parts = append(parts, "Description: "+truncate(desc, 200))
	}
	if v.ViewCount > 0 {
		views := fmt.Sprintf("It has %s views", humanize.Comma(v.ViewCount))
		if v.LikeCount > 0 {
			views += fmt.Sprintf(" and %s likes", humanize.Comma(v.LikeCount))
		}
		parts = append(parts, views)
	}
	return strings.Join(parts, ". ") + "."
}

// FormatChannel renders one channel.
func FormatChannel(ch datatypes.Channel) string {
	opening := orDefault(ch.Name, "Unknown Channel") + " is a channel"
	if desc := strings.TrimSpace(ch.Description); desc != "" {
		opening += " focused on " + strings.ToLower(truncate(desc, 150))
	}
	if ch.SubscriberCount > 0 {
		opening += " with " + SubscriberText(ch.SubscriberCount)
	}
	parts := []string{opening}
	if ch.VideoCount > 0 {
		parts = append(parts, "You've watched "+Plural(ch.VideoCount, "video")+" from this channel")
	}
	return strings.Join(parts, ". ") + "."
}

// SubscriberText renders a subscriber count, e.g. "1.2 million subscribers".
func SubscriberText(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1f million subscribers", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1f thousand subscribers", float64(n)/1_000)
	default:
		return humanize.Comma(n) + " subscribers"
	}
}

// durationText prefers the service's formatted duration.
func durationText(v datatypes.Video) string {
	if v.DurationFormatted != "" {
		return v.DurationFormatted
	}
	if v.DurationSeconds <= 0 {
		return ""
	}
	d := time.Duration(v.DurationSeconds) * time.Second
	h, m, s := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
