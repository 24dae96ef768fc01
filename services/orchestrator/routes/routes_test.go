// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/memory"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/pipeline"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

type stubRunner struct{}

func (stubRunner) Submit(_ context.Context, session, text string) (pipeline.Result, error) {
	return pipeline.Result{SessionID: session, TurnID: "t1", Answer: "ok", Outcome: datatypes.OutcomeAnswered}, nil
}

func hasRoute(router *gin.Engine, method, path string) bool {
	for _, r := range router.Routes() {
		if r.Method == method && r.Path == path {
			return true
		}
	}
	return false
}

// ============================================================================
// SetupRoutes Tests
// ============================================================================

func TestSetupRoutes_RegistersAll(t *testing.T) {
	audit, err := memory.OpenAuditLog(memory.AuditConfig{InMemory: true})
	require.NoError(t, err)
	defer audit.Close()

	router := gin.New()
	SetupRoutes(router, Deps{Runner: stubRunner{}, History: audit, Gatherer: prometheus.NewRegistry()})

	for _, expected := range []struct{ method, path string }{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"POST", "/v1/chat"},
		{"GET", "/v1/chat/ws"},
		{"GET", "/v1/sessions/:sessionId/history"},
	} {
		assert.True(t, hasRoute(router, expected.method, expected.path), "%s %s", expected.method, expected.path)
	}
}

func TestSetupRoutes_HistoryNeedsAuditLog(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Deps{Runner: stubRunner{}})

	assert.False(t, hasRoute(router, "GET", "/v1/sessions/:sessionId/history"))
	assert.True(t, hasRoute(router, "POST", "/v1/chat"))
}

func TestSetupRoutes_MetricsExposed(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	m.RecordGuardrailBlock("inbound", "topic_restriction")

	router := gin.New()
	SetupRoutes(router, Deps{Runner: stubRunner{}, Gatherer: reg})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "aleutian_curator_guardrail_blocks_total")
}

func TestSetupRoutes_TokenProtectsV1Only(t *testing.T) {
	router := gin.New()
	SetupRoutes(router, Deps{
		Runner:   stubRunner{},
		Gatherer: prometheus.NewRegistry(),
		APIToken: memguard.NewEnclave([]byte("tok")),
	})

	chat := func(header string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/v1/chat", strings.NewReader(`{"message": "hi"}`))
		req.Header.Set("Content-Type", "application/json")
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		router.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusUnauthorized, chat(""))
	assert.Equal(t, http.StatusOK, chat("Bearer tok"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
