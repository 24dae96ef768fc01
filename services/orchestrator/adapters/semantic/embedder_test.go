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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
)

func TestHTTPEmbedder_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "machine learning", req.Text)
		_ = json.NewEncoder(w).Encode(map[string]any{"vector": []float32{0.1, 0.2, 0.3}, "dim": 3})
	}))
	defer srv.Close()

	vec, err := NewHTTPEmbedder(srv.URL, time.Second).Embed(context.Background(), "machine learning")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestHTTPEmbedder_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
		}},
		{"garbage body", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}},
		{"empty vector", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"vector": []}`))
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			_, err := NewHTTPEmbedder(srv.URL, time.Second).Embed(context.Background(), "x")
			assert.ErrorIs(t, err, datatypes.ErrUpstreamUnavailable)
		})
	}
}

func TestHTTPEmbedder_CoalescesIdenticalRequests(t *testing.T) {
	var requests atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"vector": [1, 2]}`))
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, 5*time.Second)
	var wg sync.WaitGroup
	results := make([][]float32, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := e.Embed(context.Background(), "same text")
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	require.Eventually(t, func() bool { return requests.Load() >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), requests.Load())
	for _, v := range results {
		assert.Equal(t, []float32{1, 2}, v)
	}
	results[0][0] = 99
	assert.Equal(t, float32(1), results[1][0], "callers must not share a backing array")
}

func TestHTTPEmbedder_CallerDeadlineDoesNotFailSharedRequest(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		time.Sleep(150 * time.Millisecond)
		_, _ = w.Write([]byte(`{"vector": [0.5]}`))
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, 5*time.Second)

	var wg sync.WaitGroup
	var impatientErr, patientErr error
	var patientVec []float32

	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, impatientErr = e.Embed(ctx, "shared text")
	}()

	require.Eventually(t, func() bool { return requests.Load() >= 1 }, time.Second, 5*time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		patientVec, patientErr = e.Embed(context.Background(), "shared text")
	}()
	wg.Wait()

	assert.ErrorIs(t, impatientErr, datatypes.ErrUpstreamUnavailable)
	assert.ErrorIs(t, impatientErr, context.DeadlineExceeded)
	require.NoError(t, patientErr)
	assert.Equal(t, []float32{0.5}, patientVec)
	assert.Equal(t, int32(1), requests.Load(), "the second caller joins the in-flight request")
}
