// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCurator/services/llm"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/adapters/record"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/adapters/semantic"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/tools"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

var errNotStubbed = errors.New("not stubbed")

// fakeRecords serves statistics and fails everything else.
type fakeRecords struct {
	statsCalls atomic.Int32
}

func (f *fakeRecords) CollectVideos(context.Context, record.VideoQuery, int) ([]datatypes.Video, error) {
	return nil, errNotStubbed
}

func (f *fakeRecords) GetVideo(context.Context, string) (datatypes.Video, error) {
	return datatypes.Video{}, errNotStubbed
}

func (f *fakeRecords) GetTranscript(context.Context, string, string) (datatypes.Transcript, error) {
	return datatypes.Transcript{}, errNotStubbed
}

func (f *fakeRecords) GetStatistics(context.Context) (datatypes.Statistics, error) {
	f.statsCalls.Add(1)
	return datatypes.Statistics{TotalVideos: 1234, TotalChannels: 56, TotalWatchEvents: 1500}, nil
}

func (f *fakeRecords) GetChannel(context.Context, string) (datatypes.Channel, error) {
	return datatypes.Channel{}, errNotStubbed
}

func (f *fakeRecords) FindChannelByName(context.Context, string) (datatypes.Channel, error) {
	return datatypes.Channel{}, errNotStubbed
}

type nopEmbedder struct{}

func (nopEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1, 0}, nil }

type emptyStore struct{}

func (emptyStore) NearVector(context.Context, []float32, int, semantic.Filter) ([]datatypes.SearchHit, error) {
	return nil, nil
}

func (emptyStore) VectorOf(context.Context, string) ([]float32, error) {
	return nil, semantic.ErrNotIndexed
}

func newTestService(t *testing.T, model llm.Client, opts ...Option) (*service, *fakeRecords) {
	t.Helper()
	records := &fakeRecords{}
	opts = append([]Option{WithModel(model), WithRecordService(records)}, opts...)

	svc, err := New(Config{GinMode: gin.TestMode, SessionIdleTimeout: time.Minute}, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc.(*service), records
}

func serve(s *service, method, path, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	s.Router().ServeHTTP(w, req)
	return w
}

// =============================================================================
// Config Tests
// =============================================================================

func TestApplyConfigDefaults_AllDefaults(t *testing.T) {
	result := applyConfigDefaults(Config{})

	assert.Equal(t, DefaultPort, result.Port)
	assert.Equal(t, "openai", result.LLMBackend)
	assert.Equal(t, 0.7, result.EvaluationThreshold)
	assert.Equal(t, 5, result.MaxDispatchRounds)
	assert.Equal(t, 5, result.HistoryWindow)
	assert.Equal(t, 60*time.Second, result.InferenceTimeout)
	assert.Equal(t, 20*time.Second, result.ToolTimeout)
	assert.Equal(t, 30*time.Second, result.EvaluationTimeout)
	assert.Equal(t, "WatchHistory", result.WeaviateClass)
	assert.Zero(t, result.SessionIdleTimeout, "zero keeps eviction disabled")
}

func TestApplyConfigDefaults_PreservesCustomValues(t *testing.T) {
	cfg := Config{
		Port:                8080,
		LLMBackend:          "ollama",
		EvaluationThreshold: 0.5,
		WeaviateURL:         "http://weaviate:8080",
	}

	result := applyConfigDefaults(cfg)

	assert.Equal(t, 8080, result.Port)
	assert.Equal(t, "ollama", result.LLMBackend)
	assert.Equal(t, 0.5, result.EvaluationThreshold)
	assert.Equal(t, "http://weaviate:8080", result.WeaviateURL)
}

func TestValidateConfig_ResetsInvalidTunables(t *testing.T) {
	cfg := applyConfigDefaults(Config{
		EvaluationThreshold: 1.5,
		MaxDispatchRounds:   -1,
		ToolTimeout:         -time.Second,
	})

	result, err := validateConfig(cfg)

	require.NoError(t, err)
	assert.Equal(t, datatypes.DefaultEvaluationThreshold, result.EvaluationThreshold)
	assert.Equal(t, 5, result.MaxDispatchRounds)
	assert.Equal(t, 20*time.Second, result.ToolTimeout)
}

func TestValidateConfig_RejectsInvalidRequiredValues(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"unknown backend", Config{LLMBackend: "claude"}, "LLMBackend"},
		{"bad record url", Config{RecordServiceURL: "not a url"}, "RecordServiceURL"},
		{"bad weaviate url", Config{WeaviateURL: "::"}, "WeaviateURL"},
		{"port out of range", Config{Port: 70000}, "Port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := validateConfig(applyConfigDefaults(tt.cfg))
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoadConfig_EnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curator.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9000
evaluation_threshold: 0.6
tool_timeout: 5s
weaviate_class: Videos
`), 0o600))

	t.Setenv(EnvConfigFile, path)
	t.Setenv("EVALUATION_THRESHOLD", "0.8")
	t.Setenv(EnvAPIToken, "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 0.8, cfg.EvaluationThreshold)
	assert.Equal(t, 5*time.Second, cfg.ToolTimeout)
	assert.Equal(t, "Videos", cfg.WeaviateClass)
	assert.Equal(t, 30*time.Minute, cfg.SessionIdleTimeout)
	require.NotNil(t, cfg.APIToken)
}

func TestLoadConfig_UnknownFileFieldFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "curator.yaml")
	require.NoError(t, os.WriteFile(path, []byte("evaluation_treshold: 0.6\n"), 0o600))
	t.Setenv(EnvConfigFile, path)

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestGetEnvDuration(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"45s", 45 * time.Second},
		{"45", 45 * time.Second},
		{"2m", 2 * time.Minute},
		{"soon", time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("CURATOR_TEST_DURATION", tt.value)
			assert.Equal(t, tt.want, getEnvDuration("CURATOR_TEST_DURATION", time.Minute))
		})
	}
}

func TestReapInterval(t *testing.T) {
	assert.Equal(t, 15*time.Second, reapInterval(time.Minute))
	assert.Equal(t, time.Second, reapInterval(2*time.Second))
}

// =============================================================================
// Service Tests
// =============================================================================

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{LLMBackend: "claude"}, WithModel(llm.NewMockClient()))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNew_RecordToolsOnlyWithoutVectorStore(t *testing.T) {
	s, _ := newTestService(t, llm.NewMockClient())

	names := s.tools.Names()
	assert.Contains(t, names, tools.GetStatistics)
	assert.NotContains(t, names, tools.SearchVideosByTopic)
	assert.Nil(t, s.searcher)
}

func TestNew_SemanticAndAggregationTools(t *testing.T) {
	s, _ := newTestService(t, llm.NewMockClient(), WithSemantic(nopEmbedder{}, emptyStore{}))

	names := s.tools.Names()
	assert.Contains(t, names, tools.SearchVideosByTopic)
	assert.Contains(t, names, tools.TopChannelsForTopic)
	assert.Contains(t, names, tools.GetStatistics)
}

func TestService_ChatTurnEndToEnd(t *testing.T) {
	model := llm.NewMockClient().
		QueueToolCalls(llm.MockToolCall{Name: string(tools.GetStatistics), Arguments: map[string]any{}}).
		QueueFinalResponse("You have watched 1,234 videos from 56 channels.")
	s, records := newTestService(t, model)

	w := serve(s, http.MethodPost, "/v1/chat", `{"session_id": "e2e", "message": "How much have I watched?"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp datatypes.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "e2e", resp.SessionID)
	assert.Equal(t, datatypes.OutcomeAnswered, resp.Outcome)
	assert.Contains(t, resp.Answer, "1,234 videos")
	assert.Equal(t, int32(1), records.statsCalls.Load())

	t.Run("history", func(t *testing.T) {
		w := serve(s, http.MethodGet, "/v1/sessions/e2e/history", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "How much have I watched?")
	})

	t.Run("metrics", func(t *testing.T) {
		w := serve(s, http.MethodGet, "/metrics", "")
		require.Equal(t, http.StatusOK, w.Code)
		body := w.Body.String()
		assert.Contains(t, body, `aleutian_curator_turns_total{outcome="answered"} 1`)
		assert.Contains(t, body, "aleutian_curator_tool_calls_total")
		assert.Contains(t, body, "go_goroutines")
	})
}

func TestService_RefusalNeverReachesModel(t *testing.T) {
	model := llm.NewMockClient()
	s, _ := newTestService(t, model)

	w := serve(s, http.MethodPost, "/v1/chat", `{"message": "Who should I vote for in the election?"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp datatypes.ChatResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, datatypes.OutcomeRefused, resp.Outcome)
	assert.Zero(t, model.CallCount())
}

func TestService_Health(t *testing.T) {
	s, _ := newTestService(t, llm.NewMockClient())

	w := serve(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestService_RunStopsOnCancel(t *testing.T) {
	model := llm.NewMockClient()
	records := &fakeRecords{}
	svc, err := New(Config{GinMode: gin.TestMode, Port: 18231}, WithModel(model), WithRecordService(records))
	require.NoError(t, err)
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://127.0.0.1:18231/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(gracePeriod + time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestService_CloseIsIdempotent(t *testing.T) {
	svc, err := New(Config{GinMode: gin.TestMode, SessionIdleTimeout: time.Minute},
		WithModel(llm.NewMockClient()), WithRecordService(&fakeRecords{}))
	require.NoError(t, err)

	assert.NoError(t, svc.Close())
	assert.NoError(t, svc.Close())
}
