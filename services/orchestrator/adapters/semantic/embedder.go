// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package semantic is the similarity-search adapter: it embeds query text
// with the same embedding service the ingestion job used, queries the
// vector store, and renders ranked hits as text.
//
// # Ordering
//
// Every hit list leaving this package is sorted by relevance descending,
// ties broken by watch time descending (see SortHits).
package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("aleutian.curator.semantic")

// ErrEmptyEmbedding is returned when the embedding service answers with no vector.
var ErrEmptyEmbedding = errors.New("embedding service returned an empty vector")

// Embedder turns text into a vector in the corpus embedding space.
//
// Implementations must not substitute a different embedding scheme on
// failure; an error is the only acceptable fallback.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type embeddingRequest struct {
	Text string `json:"text"`
}

type embeddingResponse struct {
	Vector []float32 `json:"vector"`
	Dim    int       `json:"dim,omitempty"`
}

// HTTPEmbedder calls the embedding service: POST {"text": ...} returns
// {"vector": [...]}.
//
// # Description
//
// Identical texts embedded concurrently share one request through a
// singleflight group, which matters when several tool calls of one turn
// search for the same topic.
//
// # Thread Safety
//
// HTTPEmbedder is safe for concurrent use.
type HTTPEmbedder struct {
	url   string
	http  *http.Client
	group singleflight.Group
}

var _ Embedder = (*HTTPEmbedder)(nil)

// NewHTTPEmbedder creates an embedder for the service at url.
func NewHTTPEmbedder(url string, timeout time.Duration) *HTTPEmbedder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPEmbedder{
		url: url,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// Embed returns the vector for text.
//
// # Description
//
// The shared request runs detached from any single caller's context and is
// bounded by the client timeout. Each caller waits only as long as its own
// ctx allows, so one caller's deadline never fails another caller of the
// same text.
//
// # Outputs
//
//   - []float32: The embedding. Never empty on success.
//   - error: Wraps datatypes.ErrUpstreamUnavailable for transport failures,
//     non-200 answers, undecodable bodies and an expired ctx.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	detached := context.WithoutCancel(ctx)
	ch := e.group.DoChan(text, func() (any, error) {
		return e.embed(detached, text)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: embedding service: %w", datatypes.ErrUpstreamUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		vec := res.Val.([]float32)
		if res.Shared {
			vec = append([]float32(nil), vec...)
		}
		return vec, nil
	}
}

func (e *HTTPEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := tracer.Start(ctx, "HTTPEmbedder.Embed")
	defer span.End()
	span.SetAttributes(attribute.Int("embed.text_length", len(text)))

	body, err := json.Marshal(embeddingRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")

	resp, err := e.http.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, fmt.Errorf("%w: embedding service: %v", datatypes.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%w: embedding service returned %d: %s", datatypes.ErrUpstreamUnavailable, resp.StatusCode, snippet)
		span.RecordError(err)
		span.SetStatus(codes.Error, "bad status")
		return nil, err
	}

	var out embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, fmt.Errorf("%w: decode embedding response: %v", datatypes.ErrUpstreamUnavailable, err)
	}
	if len(out.Vector) == 0 {
		span.SetStatus(codes.Error, "empty vector")
		return nil, fmt.Errorf("%w: %w", datatypes.ErrUpstreamUnavailable, ErrEmptyEmbedding)
	}
	span.SetAttributes(attribute.Int("embed.dim", len(out.Vector)))
	return out.Vector, nil
}
