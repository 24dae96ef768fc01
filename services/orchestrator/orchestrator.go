// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator provides the curator service.
//
// This package wires every component of the service together: the model
// backend, the guardrail, the tool registry with its retrieval adapters,
// the prompt assembler, evaluation and enhancement, session memory, the
// audit log, HTTP routing and observability.
//
// # Usage
//
//	cfg, err := orchestrator.LoadConfig()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := orchestrator.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//	if err := svc.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Tests substitute collaborators through options:
//
//	svc, err := orchestrator.New(cfg,
//	    orchestrator.WithModel(llm.NewMockClient()),
//	    orchestrator.WithRecordService(fakeRecords))
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/AleutianCurator/services/guardrail"
	"github.com/AleutianAI/AleutianCurator/services/llm"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/adapters/aggregation"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/adapters/record"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/adapters/semantic"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/evaluation"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/memory"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/pipeline"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/prompt"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/tools"
)

// gracePeriod bounds in-flight turns on shutdown.
const gracePeriod = 15 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the curator service.
//
// # Description
//
// Service abstracts the service lifecycle, enabling testing and embedding
// the pipeline in other frontends.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run should only be
// called once per instance.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the server fails.
	//
	// # Description
	//
	// On cancellation the server stops accepting connections and waits up
	// to a grace period for running turns. Run does not release the
	// service's resources; call Close afterwards.
	//
	// # Outputs
	//
	//   - error: Nil after a graceful shutdown.
	Run(ctx context.Context) error

	// Router returns the configured Gin engine for testing.
	Router() *gin.Engine

	// Pipeline returns the turn pipeline.
	Pipeline() *pipeline.Pipeline

	// Close stops background work and flushes the audit log and telemetry.
	// Safe to call more than once.
	Close() error
}

// Option customizes New.
type Option func(*service)

// WithModel replaces the model backend built from the configuration.
func WithModel(client llm.Client) Option {
	return func(s *service) { s.model = client }
}

// WithRecordService replaces the HTTP record service client.
func WithRecordService(svc record.Service) Option {
	return func(s *service) { s.records = svc }
}

// WithSemantic enables the semantic and aggregation tools on top of the
// given embedder and vector store instead of Weaviate.
func WithSemantic(embedder semantic.Embedder, store semantic.VectorStore) Option {
	return func(s *service) { s.searcher = semantic.NewSearcher(embedder, store) }
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service.
//
// # Fields
//
//   - config: Validated configuration
//   - registry: Prometheus registry served on /metrics
//   - model: Model backend shared by inference, evaluation and enhancement
//   - records: Record service client
//   - searcher: Semantic searcher, nil without Weaviate
//   - audit: Durable turn log
//   - reaper: Idle session eviction, nil when disabled
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New
// returns, except for the close bookkeeping.
type service struct {
	config   Config
	registry *prometheus.Registry
	metrics  *observability.Metrics
	router   *gin.Engine
	model    llm.Client
	records  record.Service
	searcher *semantic.Searcher
	guard    *guardrail.Filter
	tools    *tools.Registry
	audit    *memory.AuditLog
	reaper   *memory.Reaper
	pipeline *pipeline.Pipeline

	telemetryCleanup func(context.Context)
	closeOnce        sync.Once
	closeErr         error
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a curator Service.
//
// # Description
//
// New initializes every component:
//  1. Applies defaults and validates the configuration
//  2. Installs tracing and the metrics registry
//  3. Creates the model backend and the guardrail filter
//  4. Registers the record tools, plus semantic and aggregation tools
//     when a vector store is available
//  5. Opens the audit log and starts idle session eviction
//  6. Builds the pipeline and the HTTP routes
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//   - opts: Collaborator overrides, mainly for tests.
//
// # Outputs
//
//   - Service: Ready-to-run service
//   - error: Wraps ErrInvalidConfig for bad settings, or the failing
//     component's error
//
// # Limitations
//
//   - A missing or unreachable Weaviate is not fatal; the service runs
//     with the record tools only.
func New(cfg Config, opts ...Option) (Service, error) {
	cfg, err := validateConfig(applyConfigDefaults(cfg))
	if err != nil {
		return nil, err
	}

	s := &service{config: cfg}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = observability.NewMetrics(s.registry)

	ctx := context.Background()
	s.telemetryCleanup, err = initTelemetry(ctx, cfg, s.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	if err := s.initModel(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	if err := s.initGuardrail(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize guardrail: %w", err)
	}

	if s.searcher == nil {
		if err := s.initSemantic(ctx); err != nil {
			slog.Warn("Semantic search unavailable, running with record tools only",
				"error", err)
		}
	}
	if err := s.initTools(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	if err := s.initMemory(); err != nil {
		s.cleanup()
		return nil, err
	}

	if err := s.initPipeline(); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build pipeline: %w", err)
	}

	s.initRouter()

	slog.Info("Curator service initialized",
		"port", cfg.Port,
		"llm_backend", cfg.LLMBackend,
		"tools", s.tools.Count(),
		"semantic_enabled", s.searcher != nil,
		"audit_persistent", cfg.AuditDBPath != "",
		"api_token_present", cfg.APIToken != nil,
	)
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run implements Service.
func (s *service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Starting curator server", "port", s.config.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down curator server", "grace_period", gracePeriod.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

// Router implements Service.
func (s *service) Router() *gin.Engine {
	return s.router
}

// Pipeline implements Service.
func (s *service) Pipeline() *pipeline.Pipeline {
	return s.pipeline
}

// Close implements Service.
func (s *service) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.cleanup()
	})
	return s.closeErr
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initModel creates the model backend unless one was injected.
func (s *service) initModel() error {
	if s.model != nil {
		return nil
	}
	client, err := llm.NewClient(llm.BackendConfig{
		Backend:       s.config.LLMBackend,
		OpenAIModel:   s.config.OpenAIModel,
		OpenAIBaseURL: s.config.OpenAIBaseURL,
		LocalBaseURL:  s.config.LocalBaseURL,
		OllamaBaseURL: s.config.OllamaBaseURL,
		OllamaModel:   s.config.OllamaModel,
	})
	if err != nil {
		return err
	}
	s.model = client
	return nil
}

// initGuardrail compiles the configured lexicon, or the embedded one.
func (s *service) initGuardrail() error {
	if s.config.GuardrailLexicon == "" {
		f, err := guardrail.NewDefaultFilter()
		if err != nil {
			return err
		}
		s.guard = f
		return nil
	}

	lex, err := guardrail.LoadLexicon(s.config.GuardrailLexicon)
	if err != nil {
		return err
	}
	f, err := guardrail.NewFilter(lex)
	if err != nil {
		return err
	}
	slog.Info("Loaded guardrail lexicon", "path", s.config.GuardrailLexicon)
	s.guard = f
	return nil
}

// initSemantic connects to Weaviate and the embedding service.
//
// # Outputs
//
//   - error: Non-nil if either is misconfigured or the schema cannot be
//     ensured. Nil, with no searcher, when neither is configured.
func (s *service) initSemantic(ctx context.Context) error {
	if s.config.WeaviateURL == "" {
		slog.Info("Weaviate URL not configured, semantic search disabled")
		return nil
	}
	if s.config.EmbeddingURL == "" {
		return errors.New("EMBEDDING_SERVICE_URL is required with WEAVIATE_SERVICE_URL")
	}

	parsedURL, err := url.Parse(s.config.WeaviateURL)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return fmt.Errorf("invalid Weaviate URL: %s", s.config.WeaviateURL)
	}

	client, err := weaviate.NewClient(weaviate.Config{
		Host:   parsedURL.Host,
		Scheme: parsedURL.Scheme,
	})
	if err != nil {
		return fmt.Errorf("failed to create Weaviate client: %w", err)
	}

	schemaCtx, cancel := context.WithTimeout(ctx, s.config.ToolTimeout)
	defer cancel()
	if err := datatypes.EnsureWeaviateSchema(schemaCtx, client, s.config.WeaviateClass); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	embedder := semantic.NewHTTPEmbedder(s.config.EmbeddingURL, s.config.ToolTimeout)
	store := semantic.NewWeaviateStore(client, s.config.WeaviateClass)
	s.searcher = semantic.NewSearcher(embedder, store)

	slog.Info("Weaviate client initialized",
		"url", s.config.WeaviateURL,
		"class", s.config.WeaviateClass)
	return nil
}

// initTools fills the tool registry.
func (s *service) initTools() error {
	if s.records == nil {
		s.records = record.NewClient(record.Config{
			BaseURL:    s.config.RecordServiceURL,
			APIVersion: s.config.RecordAPIVersion,
			Timeout:    s.config.ToolTimeout,
			RateLimit:  s.config.RecordRateLimit,
		})
	}

	s.tools = tools.NewRegistry()
	if err := s.tools.Register(record.NewAdapter(s.records).Tools()...); err != nil {
		return err
	}
	if s.searcher == nil {
		return nil
	}
	if err := s.tools.Register(semantic.NewAdapter(s.searcher).Tools()...); err != nil {
		return err
	}
	agg := aggregation.NewAggregator(s.searcher, s.records)
	return s.tools.Register(aggregation.NewAdapter(agg).Tools()...)
}

// initMemory opens the audit log.
func (s *service) initMemory() error {
	auditCfg := memory.DefaultAuditConfig(s.config.AuditDBPath)
	auditCfg.Logger = slog.Default().With("component", "audit")

	audit, err := memory.OpenAuditLog(auditCfg)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	s.audit = audit
	return nil
}

// initPipeline builds the turn pipeline and its collaborators, and starts
// idle session eviction.
func (s *service) initPipeline() error {
	assembler := prompt.NewAssembler(prompt.Config{
		Persona:          prompt.DefaultPersona,
		RestrictedTopics: s.guard.RestrictedTopics(),
		HistoryTurns:     s.config.HistoryWindow,
	}, s.tools)

	dispatcher := tools.NewDispatcher(s.tools,
		tools.WithToolTimeout(s.config.ToolTimeout),
		tools.WithRecorder(s.metrics),
	)

	evaluator := evaluation.NewEvaluator(s.model, evaluation.Config{
		Threshold: s.config.EvaluationThreshold,
		Model:     s.config.EvaluationModel,
		Timeout:   s.config.EvaluationTimeout,
	})
	enhancer := evaluation.NewEnhancer(s.model, evaluation.EnhancerConfig{
		Model:   s.config.EnhancementModel,
		Timeout: s.config.InferenceTimeout,
	})

	store := memory.NewStore()
	if idle := s.config.SessionIdleTimeout; idle > 0 {
		reaper, err := memory.NewReaper(store, idle, reapInterval(idle))
		if err != nil {
			return err
		}
		reaper.Start()
		s.reaper = reaper
	}

	p, err := pipeline.New(pipeline.Deps{
		Model:      s.model,
		Guard:      s.guard,
		Assembler:  assembler,
		Dispatcher: dispatcher,
		Tools:      s.tools.Schemas(),
		Evaluator:  evaluator,
		Enhancer:   enhancer,
		Memory:     store,
		Audit:      s.audit,
		Metrics:    s.metrics,
	}, pipeline.Config{
		MaxDispatchRounds: s.config.MaxDispatchRounds,
		InferenceTimeout:  s.config.InferenceTimeout,
		ContextTurns:      s.config.HistoryWindow,
	})
	if err != nil {
		return err
	}
	s.pipeline = p
	return nil
}

// reapInterval checks for idle sessions four times per idle period, but
// no more than once a second.
func reapInterval(idle time.Duration) time.Duration {
	interval := idle / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(serviceName))

	routes.SetupRoutes(s.router, routes.Deps{
		Runner:   s.pipeline,
		History:  s.audit,
		Gatherer: s.registry,
		APIToken: s.config.APIToken,
	})
}

// cleanup releases all resources held by the service.
//
// Called by Close or on initialization failure.
func (s *service) cleanup() error {
	if s.reaper != nil {
		s.reaper.Stop()
	}

	var err error
	if s.audit != nil {
		if err = s.audit.Close(); err != nil {
			slog.Warn("Audit log close error", "error", err)
		}
	}

	if s.telemetryCleanup != nil {
		s.telemetryCleanup(context.Background())
	}
	return err
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
