// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package record is the adapter over the paginated watch-history record
// service: a rate-limited HTTP client plus the tools that turn its payloads
// into short natural-language summaries.
package record

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("aleutian.curator.record")

const (
	// DefaultBaseURL is where the record service listens by default.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultAPIVersion is the path version segment.
	DefaultAPIVersion = "v1"

	// DefaultPageSize is the page size used when walking listings.
	DefaultPageSize = 100

	// MaxPageSize is the largest limit the service accepts.
	MaxPageSize = 500

	// maxPages bounds one listing walk.
	maxPages = 50

	maxErrorBody = 4 << 10
)

// ErrNotFound is returned when the service answers 404.
var ErrNotFound = errors.New("record not found")

// APIError is a non-2xx answer from the record service.
//
// It unwraps to ErrNotFound for 404, datatypes.ErrValidation for 400 and
// 422, and datatypes.ErrUpstreamUnavailable for everything else.
type APIError struct {
	StatusCode int
	Detail     string
	ErrorType  string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("record service returned %d (%s): %s", e.StatusCode, e.ErrorType, e.Detail)
	}
	return fmt.Sprintf("record service returned %d", e.StatusCode)
}

// Unwrap classifies the status code.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return datatypes.ErrValidation
	default:
		return datatypes.ErrUpstreamUnavailable
	}
}

// Config configures a Client.
type Config struct {
	// BaseURL of the service, without the /api/<version> suffix.
	BaseURL string

	// APIVersion is the version path segment, "v1" by default.
	APIVersion string

	// Timeout is the per-request HTTP timeout.
	Timeout time.Duration

	// RateLimit is the sustained request rate in requests per second.
	// Zero disables throttling.
	RateLimit float64

	// Burst is the limiter burst; defaults to the rounded-up rate.
	Burst int

	// HTTPClient overrides the default instrumented client.
	HTTPClient *http.Client
}

// Client talks to the record service.
//
// # Description
//
// All requests are GETs against {BaseURL}/api/{APIVersion}/... and share a
// token-bucket limiter so concurrent tool calls cannot flood the service.
// Transport failures and timeouts wrap datatypes.ErrUpstreamUnavailable.
//
// Thread Safety: Client is safe for concurrent use.
type Client struct {
	apiBase  string
	http     *http.Client
	limiter  *rate.Limiter
	pageSize int
}

// NewClient builds a Client from cfg, filling in defaults.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RateLimit + 0.999)
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		apiBase:  fmt.Sprintf("%s/api/%s", strings.TrimRight(cfg.BaseURL, "/"), cfg.APIVersion),
		http:     httpClient,
		limiter:  limiter,
		pageSize: DefaultPageSize,
	}
}

// VideoQuery filters a video listing.
type VideoQuery struct {
	Limit     int
	Offset    int
	ChannelID string
	DateFrom  time.Time
	DateTo    time.Time
}

func (q VideoQuery) values() url.Values {
	v := url.Values{}
	v.Set("limit", strconv.Itoa(clampLimit(q.Limit)))
	v.Set("offset", strconv.Itoa(max(q.Offset, 0)))
	if q.ChannelID != "" {
		v.Set("channel_id", q.ChannelID)
	}
	if !q.DateFrom.IsZero() {
		v.Set("date_from", q.DateFrom.Format(datatypes.DateLayout))
	}
	if !q.DateTo.IsZero() {
		v.Set("date_to", q.DateTo.Format(datatypes.DateLayout))
	}
	return v
}

// matches applies the query filters locally, for services that ignore them.
// DateTo is inclusive of the whole day.
func (q VideoQuery) matches(v datatypes.Video) bool {
	if q.ChannelID != "" && v.ChannelID != q.ChannelID {
		return false
	}
	if !q.DateFrom.IsZero() && v.WatchedAt.Before(q.DateFrom) {
		return false
	}
	if !q.DateTo.IsZero() && !v.WatchedAt.Before(q.DateTo.AddDate(0, 0, 1)) {
		return false
	}
	return true
}

// ListVideos fetches one page of watched videos, most recent first.
func (c *Client) ListVideos(ctx context.Context, q VideoQuery) (datatypes.Page[datatypes.Video], error) {
	var page datatypes.Page[datatypes.Video]
	err := c.get(ctx, "videos", q.values(), &page)
	return page, err
}

// CollectVideos walks the listing page by page until want matching videos
// are collected or the listing is exhausted.
//
// # Description
//
// Pages are requested with a fixed limit and the offset advances by that
// limit each time. The walk stops on an empty page, has_more=false, or
// once offset+len(results) reaches total_count.
//
// # Outputs
//
//   - []datatypes.Video: At most want videos that pass the query filters.
//   - error: The first page error. Videos collected so far are returned too.
func (c *Client) CollectVideos(ctx context.Context, q VideoQuery, want int) ([]datatypes.Video, error) {
	ctx, span := tracer.Start(ctx, "Client.CollectVideos")
	defer span.End()

	q.Limit = c.pageSize
	q.Offset = 0
	var out []datatypes.Video

	for pageNum := 0; pageNum < maxPages && len(out) < want; pageNum++ {
		page, err := c.ListVideos(ctx, q)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "page fetch failed")
			return out, err
		}
		for _, v := range page.Results {
			if q.matches(v) && len(out) < want {
				out = append(out, v)
			}
		}
		if page.Exhausted() {
			break
		}
		q.Offset += q.Limit
	}
	span.SetAttributes(attribute.Int("videos.collected", len(out)))
	return out, nil
}

// GetVideo fetches one video by id.
func (c *Client) GetVideo(ctx context.Context, videoID string) (datatypes.Video, error) {
	var v datatypes.Video
	err := c.get(ctx, "videos/"+url.PathEscape(videoID), nil, &v)
	return v, err
}

// GetTranscript fetches the transcript of a video in language.
func (c *Client) GetTranscript(ctx context.Context, videoID, language string) (datatypes.Transcript, error) {
	var t datatypes.Transcript
	params := url.Values{}
	if language != "" {
		params.Set("language", language)
	}
	err := c.get(ctx, "videos/"+url.PathEscape(videoID)+"/transcript", params, &t)
	return t, err
}

// GetStatistics fetches the aggregate statistics.
func (c *Client) GetStatistics(ctx context.Context) (datatypes.Statistics, error) {
	var s datatypes.Statistics
	err := c.get(ctx, "stats", nil, &s)
	return s, err
}

// GetChannel fetches one channel by id.
func (c *Client) GetChannel(ctx context.Context, channelID string) (datatypes.Channel, error) {
	var ch datatypes.Channel
	err := c.get(ctx, "channels/"+url.PathEscape(channelID), nil, &ch)
	return ch, err
}

// ListChannels fetches one page of channels.
//
// The service answers either a page envelope or a bare JSON array; a bare
// array is reported as a single exhausted page.
func (c *Client) ListChannels(ctx context.Context, limit, offset int) (datatypes.Page[datatypes.Channel], error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(clampLimit(limit)))
	params.Set("offset", strconv.Itoa(max(offset, 0)))

	var raw json.RawMessage
	if err := c.get(ctx, "channels", params, &raw); err != nil {
		return datatypes.Page[datatypes.Channel]{}, err
	}

	var page datatypes.Page[datatypes.Channel]
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &page.Results); err != nil {
			return page, fmt.Errorf("%w: decode channels: %v", datatypes.ErrUpstreamUnavailable, err)
		}
		page.Limit = clampLimit(limit)
		page.Offset = offset
		page.TotalCount = offset + len(page.Results)
		return page, nil
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return page, fmt.Errorf("%w: decode channels: %v", datatypes.ErrUpstreamUnavailable, err)
	}
	return page, nil
}

// FindChannelByName walks the channel listing and returns the first channel
// whose name equals name, ignoring case.
func (c *Client) FindChannelByName(ctx context.Context, name string) (datatypes.Channel, error) {
	offset := 0
	for pageNum := 0; pageNum < maxPages; pageNum++ {
		page, err := c.ListChannels(ctx, MaxPageSize, offset)
		if err != nil {
			return datatypes.Channel{}, err
		}
		for _, ch := range page.Results {
			if strings.EqualFold(strings.TrimSpace(ch.Name), strings.TrimSpace(name)) {
				return ch, nil
			}
		}
		if page.Exhausted() {
			break
		}
		offset += MaxPageSize
	}
	return datatypes.Channel{}, fmt.Errorf("%w: channel %q", ErrNotFound, name)
}

// get performs one throttled GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	ctx, span := tracer.Start(ctx, "Client.get")
	defer span.End()
	span.SetAttributes(attribute.String("record.endpoint", endpoint))

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			span.RecordError(err)
			return fmt.Errorf("%w: rate limiter: %v", datatypes.ErrUpstreamUnavailable, err)
		}
	}

	u := c.apiBase + "/" + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to setup a new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		slog.Error("Record service request failed", "endpoint", endpoint, "error", err)
		return fmt.Errorf("%w: %v", datatypes.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope datatypes.APIErrorBody
		if json.Unmarshal(body, &envelope) == nil {
			apiErr.Detail = envelope.Detail
			apiErr.ErrorType = envelope.ErrorType
		}
		if resp.StatusCode == http.StatusNotFound {
			slog.Debug("Record not found", "endpoint", endpoint)
		} else {
			span.SetStatus(codes.Error, apiErr.Error())
			slog.Warn("Record service returned an error",
				"endpoint", endpoint,
				"status_code", resp.StatusCode,
				"error_type", apiErr.ErrorType)
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		span.RecordError(err)
		return fmt.Errorf("%w: decode %s: %v", datatypes.ErrUpstreamUnavailable, endpoint, err)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	return min(limit, MaxPageSize)
}
