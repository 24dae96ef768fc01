// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics for the curator pipeline.
//
// # Description
//
// This package implements Prometheus metrics for monitoring chat turns.
// Metrics include:
//   - Turn counters and latency (by outcome)
//   - Model calls (by pipeline stage and status)
//   - Tool calls and latency (by tool)
//   - Guardrail blocks, evaluation scores and enhancements
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every recording method is a no-op on a nil *Metrics.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for curator metrics
const curatorSubsystem = "curator"

// Metrics holds all Prometheus metrics of the curator pipeline.
//
// # Fields
//
//   - TurnsTotal: Completed turns by outcome (answered, refused, failed).
//   - TurnDurationSeconds: Turn latency by outcome.
//   - ModelCallsTotal: Inference calls by stage (infer, evaluate, enhance) and status.
//   - ToolCallsTotal: Tool executions by tool and status.
//   - ToolLatencySeconds: Tool latency by tool.
//   - DispatchRounds: Tool-dispatch rounds per turn.
//   - GuardrailBlocksTotal: Blocked texts by direction and category.
//   - EvaluationScore: Rubric scores by metric.
//   - EvaluationFailuresTotal: Failed rubric or evaluation runs by kind.
//   - EnhancementsTotal: Rewrite attempts by status.
//   - ActiveTurns: Turns currently running.
type Metrics struct {
	TurnsTotal              *prometheus.CounterVec
	TurnDurationSeconds     *prometheus.HistogramVec
	ModelCallsTotal         *prometheus.CounterVec
	ToolCallsTotal          *prometheus.CounterVec
	ToolLatencySeconds      *prometheus.HistogramVec
	DispatchRounds          prometheus.Histogram
	GuardrailBlocksTotal    *prometheus.CounterVec
	EvaluationScore         *prometheus.HistogramVec
	EvaluationFailuresTotal *prometheus.CounterVec
	EnhancementsTotal       *prometheus.CounterVec
	ActiveTurns             prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with reg. Each service
// owns its registry, so tests and embedded pipelines never collide.
//
// # Limitations
//
//   - Panics if reg already holds the curator metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TurnsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: curatorSubsystem,
				Name:      "turns_total",
				Help:      "Total chat turns by outcome",
			},
			[]string{"outcome"},
		),

		TurnDurationSeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: curatorSubsystem,
				Name:      "turn_duration_seconds",
				Help:      "Chat turn duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"outcome"},
		),

		ModelCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: curatorSubsystem,
				Name:      "model_calls_total",
				Help:      "Model inference calls by pipeline stage and status",
			},
			[]string{"stage", "status"},
		),

		ToolCallsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: curatorSubsystem,
				Name:      "tool_calls_total",
				Help:      "Tool executions by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolLatencySeconds: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: curatorSubsystem,
				Name:      "tool_latency_seconds",
				Help:      "Tool execution latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 20},
			},
			[]string{"tool"},
		),

		DispatchRounds: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: curatorSubsystem,
				Name:      "dispatch_rounds",
				Help:      "Tool-dispatch rounds per turn",
				Buckets:   []float64{0, 1, 2, 3, 4, 5, 8},
			},
		),

		GuardrailBlocksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: curatorSubsystem,
				Name:      "guardrail_blocks_total",
				Help:      "Texts blocked by the guardrail by direction and category",
			},
			[]string{"direction", "category"},
		),

		EvaluationScore: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: curatorSubsystem,
				Name:      "evaluation_score",
				Help:      "Rubric scores of candidate answers",
				Buckets:   []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
			},
			[]string{"metric"},
		),

		EvaluationFailuresTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: curatorSubsystem,
				Name:      "evaluation_failures_total",
				Help:      "Evaluation failures by kind (rubric, total)",
			},
			[]string{"kind"},
		),

		EnhancementsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: curatorSubsystem,
				Name:      "enhancements_total",
				Help:      "Answer rewrites by status",
			},
			[]string{"status"},
		),

		ActiveTurns: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: curatorSubsystem,
				Name:      "active_turns",
				Help:      "Number of chat turns currently running",
			},
		),
	}
}

// =============================================================================
// Helper Methods
// =============================================================================

// TurnStarted increments the active turns gauge.
func (m *Metrics) TurnStarted() {
	if m == nil {
		return
	}
	m.ActiveTurns.Inc()
}

// RecordTurn records a finished turn and decrements the active gauge.
//
// # Inputs
//
//   - outcome: datatypes.OutcomeAnswered, OutcomeRefused or OutcomeFailed.
//   - d: Wall time of the turn.
func (m *Metrics) RecordTurn(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ActiveTurns.Dec()
	m.TurnsTotal.WithLabelValues(outcome).Inc()
	m.TurnDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordModelCall counts one inference call of a pipeline stage.
func (m *Metrics) RecordModelCall(stage string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ModelCallsTotal.WithLabelValues(stage, status).Inc()
}

// RecordRubricCalls counts one model call of stage per rubric in score.
// A rubric marked Failed counts as an error.
func (m *Metrics) RecordRubricCalls(stage string, score datatypes.EvaluationScore) {
	if m == nil {
		return
	}
	for _, s := range score.Scores {
		status := "success"
		if s.Failed {
			status = "error"
		}
		m.ModelCallsTotal.WithLabelValues(stage, status).Inc()
	}
}

// RecordToolCall records one tool execution. It implements tools.Recorder.
func (m *Metrics) RecordToolCall(tool, status string, latency time.Duration) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
	m.ToolLatencySeconds.WithLabelValues(tool).Observe(latency.Seconds())
}

// RecordDispatchRounds observes how many dispatch rounds a turn used.
func (m *Metrics) RecordDispatchRounds(n int) {
	if m == nil {
		return
	}
	m.DispatchRounds.Observe(float64(n))
}

// RecordGuardrailBlock counts one blocked text.
func (m *Metrics) RecordGuardrailBlock(direction, category string) {
	if m == nil {
		return
	}
	m.GuardrailBlocksTotal.WithLabelValues(direction, category).Inc()
}

// RecordEvaluation observes every rubric score that was actually produced
// and counts rubrics that failed.
func (m *Metrics) RecordEvaluation(score datatypes.EvaluationScore, err error) {
	if m == nil {
		return
	}
	if err != nil || score.Failed {
		m.EvaluationFailuresTotal.WithLabelValues("total").Inc()
		return
	}
	for _, s := range score.Scores {
		if s.Failed {
			m.EvaluationFailuresTotal.WithLabelValues("rubric").Inc()
			continue
		}
		m.EvaluationScore.WithLabelValues(string(s.Metric)).Observe(s.Score)
	}
}

// RecordEnhancement counts one rewrite attempt by status.
func (m *Metrics) RecordEnhancement(status string) {
	if m == nil {
		return
	}
	m.EnhancementsTotal.WithLabelValues(status).Inc()
}
