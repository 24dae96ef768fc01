// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/pipeline"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/routes"
)

const testToken = "test-token"

func init() {
	gin.SetMode(gin.TestMode)
	styles = newStyles(false)
}

// =============================================================================
// Test Doubles
// =============================================================================

// echoRunner answers every message with "echo: <message>" and refuses
// anything about elections.
type echoRunner struct{}

func (echoRunner) Submit(_ context.Context, sessionID, text string) (pipeline.Result, error) {
	if strings.Contains(text, "election") {
		return pipeline.Result{SessionID: sessionID, TurnID: "t-refused", Answer: "I can't help with that.", Outcome: datatypes.OutcomeRefused}, nil
	}
	return pipeline.Result{SessionID: sessionID, TurnID: "t1", Answer: "echo: " + text, Outcome: datatypes.OutcomeAnswered}, nil
}

type fakeHistory struct{}

func (fakeHistory) Turns(_ context.Context, sessionID string) ([]datatypes.TurnRecord, error) {
	if sessionID == "broken" {
		return nil, errors.New("disk on fire")
	}
	if sessionID != "s1" {
		return nil, nil
	}
	return []datatypes.TurnRecord{{
		SessionID:  "s1",
		TurnID:     "t1",
		Sequence:   1,
		UserText:   "how many videos?",
		Answer:     "You have watched 1,234 videos.",
		Outcome:    datatypes.OutcomeAnswered,
		ToolCalls:  []datatypes.ToolCall{{ID: "c1", Name: "get_statistics"}},
		ModelCalls: 2,
		StartedAt:  time.Now().Add(-time.Hour),
	}}, nil
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	router := gin.New()
	routes.SetupRoutes(router, routes.Deps{
		Runner:   echoRunner{},
		History:  fakeHistory{},
		Gatherer: prometheus.NewRegistry(),
		APIToken: memguard.NewEnclave([]byte(testToken)),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, srv *httptest.Server, token string) *Client {
	t.Helper()
	client, err := NewClient(srv.URL+"/", token)
	require.NoError(t, err)
	return client
}

// =============================================================================
// Tests
// =============================================================================

func TestNewClient_RejectsBadURL(t *testing.T) {
	for _, raw := range []string{"localhost:12220", "ftp://example.com", "://nope"} {
		_, err := NewClient(raw, "")
		assert.Error(t, err, raw)
	}
}

func TestClient_Ask(t *testing.T) {
	client := newTestClient(t, newTestServer(t), testToken)

	resp, err := client.Ask(context.Background(), "", "how many videos?")
	require.NoError(t, err)
	assert.Equal(t, "echo: how many videos?", resp.Answer)
	assert.Equal(t, datatypes.OutcomeAnswered, resp.Outcome)
	assert.NotEmpty(t, resp.SessionID, "the service assigns a session id")

	again, err := client.Ask(context.Background(), resp.SessionID, "and channels?")
	require.NoError(t, err)
	assert.Equal(t, resp.SessionID, again.SessionID)
}

func TestClient_Ask_Errors(t *testing.T) {
	srv := newTestServer(t)

	t.Run("wrong token", func(t *testing.T) {
		_, err := newTestClient(t, srv, "nope").Ask(context.Background(), "", "hi")
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
		assert.Equal(t, "unauthorized", apiErr.Message)
	})

	t.Run("oversized message", func(t *testing.T) {
		_, err := newTestClient(t, srv, testToken).Ask(context.Background(), "", strings.Repeat("x", datatypes.MaxMessageContentBytes+1))
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusBadRequest, apiErr.Status)
		assert.Contains(t, apiErr.Message, "message")
	})
}

func TestClient_History(t *testing.T) {
	client := newTestClient(t, newTestServer(t), testToken)

	history, err := client.History(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", history.SessionID)
	require.Len(t, history.Turns, 1)
	assert.Equal(t, "get_statistics", history.Turns[0].ToolCalls[0].Name)

	_, err = client.History(context.Background(), "broken")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
}

func TestClient_DialChat_Unauthorized(t *testing.T) {
	client := newTestClient(t, newTestServer(t), "")

	_, err := client.DialChat(context.Background(), "")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestNewClientFromFlags_ReadsToken(t *testing.T) {
	srv := newTestServer(t)
	t.Setenv("CURATOR_API_TOKEN", " "+testToken+"\n")
	old := serverURL
	serverURL = srv.URL
	t.Cleanup(func() { serverURL = old })

	client, err := newClientFromFlags()
	require.NoError(t, err)
	_, err = client.Ask(context.Background(), "", "hi")
	assert.NoError(t, err)
}
