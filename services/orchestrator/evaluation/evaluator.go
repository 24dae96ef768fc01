// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package evaluation scores candidate answers against four rubrics and
// rewrites answers that fall short.
//
// # Description
//
// The Evaluator runs one isolated model call per rubric, in parallel. A
// rubric that fails gets a neutral score and a flagged rationale without
// affecting the others; only when every rubric fails does the evaluation
// as a whole fail, and then it fails open. The Enhancer performs at most
// one rewrite, quoting only the failing rubrics.
package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianCurator/services/llm"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("aleutian.curator.evaluation")

const (
	// DefaultTimeout bounds each rubric call.
	DefaultTimeout = 30 * time.Second

	rubricMaxTokens = 300
	noContext       = "No previous conversation context."
)

// ErrMalformedScore is returned when a rubric answer cannot be read as a score.
var ErrMalformedScore = errors.New("malformed rubric score")

// Input is what gets evaluated.
type Input struct {
	Candidate string
	Query     string
	Context   string
}

func (in Input) context() string {
	if strings.TrimSpace(in.Context) == "" {
		return noContext
	}
	return in.Context
}

// Config configures an Evaluator.
type Config struct {
	// Threshold below which a score requests enhancement. Defaults to
	// datatypes.DefaultEvaluationThreshold.
	Threshold float64

	// Model overrides the backend's default model for rubric calls.
	Model string

	// Timeout bounds each rubric call.
	Timeout time.Duration

	// Rubrics defaults to DefaultRubrics().
	Rubrics []Rubric
}

// Evaluator scores candidate answers.
//
// Thread Safety: safe for concurrent use.
type Evaluator struct {
	client llm.Client
	cfg    Config
}

// NewEvaluator creates an Evaluator using client for the rubric calls.
func NewEvaluator(client llm.Client, cfg Config) *Evaluator {
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		cfg.Threshold = datatypes.DefaultEvaluationThreshold
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if len(cfg.Rubrics) == 0 {
		cfg.Rubrics = DefaultRubrics()
	}
	return &Evaluator{client: client, cfg: cfg}
}

// Threshold returns the configured enhancement threshold.
func (e *Evaluator) Threshold() float64 { return e.cfg.Threshold }

// Rubrics returns the rubrics in reporting order.
func (e *Evaluator) Rubrics() []Rubric { return e.cfg.Rubrics }

// Evaluate scores in.Candidate on every rubric.
//
// # Description
//
// Rubric calls run concurrently and independently. A failed rubric
// (transport error, timeout, unreadable answer) receives the neutral score,
// equal to the threshold, with Failed set and a rationale naming the
// failure; it never triggers enhancement on its own.
//
// # Outputs
//
//   - datatypes.EvaluationScore: Always usable. Scores are within [0,1] and
//     every rationale is non-empty.
//   - error: Non-nil only when every rubric failed. The score is then
//     datatypes.FailOpen (NeedsEnhancement false) and the error wraps
//     datatypes.ErrEvaluationFailure. Callers report it, never raise it.
func (e *Evaluator) Evaluate(ctx context.Context, in Input) (datatypes.EvaluationScore, error) {
	ctx, span := tracer.Start(ctx, "Evaluator.Evaluate")
	defer span.End()

	if e.client == nil {
		err := datatypes.NewTurnError(datatypes.KindEvaluationFailure, "evaluate", errors.New("no evaluation model configured"))
		return datatypes.FailOpen(e.cfg.Threshold, "Evaluation skipped: no evaluation model configured."), err
	}

	rubrics := e.cfg.Rubrics
	scores := make([]datatypes.MetricScore, len(rubrics))
	errs := make([]error, len(rubrics))

	var g errgroup.Group
	for i, r := range rubrics {
		g.Go(func() error {
			scores[i], errs[i] = e.scoreRubric(ctx, r, in)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	var lastErr error
	for i, err := range errs {
		if err != nil {
			failed++
			lastErr = err
			slog.Warn("Rubric evaluation failed, using neutral score",
				"metric", rubrics[i].Metric, "error", err)
		}
	}

	if failed == len(rubrics) {
		span.RecordError(lastErr)
		span.SetStatus(codes.Error, "all rubrics failed")
		reason := fmt.Sprintf("Evaluation unavailable: %v", lastErr)
		return datatypes.FailOpen(e.cfg.Threshold, reason),
			datatypes.NewTurnError(datatypes.KindEvaluationFailure, "evaluate", lastErr)
	}

	result := datatypes.NewEvaluationScore(scores, e.cfg.Threshold)
	for _, s := range result.Scores {
		span.SetAttributes(attribute.Float64("evaluation."+string(s.Metric), s.Score))
	}
	span.SetAttributes(
		attribute.Bool("evaluation.needs_enhancement", result.NeedsEnhancement),
		attribute.Int("evaluation.failed_rubrics", failed),
	)
	slog.Debug("Evaluation complete",
		"needs_enhancement", result.NeedsEnhancement,
		"failed_rubrics", failed,
		"threshold", e.cfg.Threshold)
	return result, nil
}

// scoreRubric runs one rubric call. On failure the returned score is the
// neutral placeholder and err is non-nil.
func (e *Evaluator) scoreRubric(ctx context.Context, r Rubric, in Input) (datatypes.MetricScore, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	neutral := func(err error) (datatypes.MetricScore, error) {
		return datatypes.MetricScore{
			Metric:    r.Metric,
			Score:     e.cfg.Threshold,
			Rationale: fmt.Sprintf("Rubric evaluation failed (%v); neutral score assigned.", err),
			Failed:    true,
		}, err
	}

	resp, err := e.client.Complete(ctx, &llm.Request{
		SystemPrompt:  "You are a strict, fair evaluator of assistant responses. You reply with a single JSON object and nothing else.",
		Messages:      []llm.Message{{Role: llm.RoleUser, Content: rubricPrompt(r, in)}},
		MaxTokens:     rubricMaxTokens,
		Temperature:   llm.Float32(0),
		JSONMode:      true,
		ModelOverride: e.cfg.Model,
	})
	if err != nil {
		return neutral(fmt.Errorf("%s: %w", r.Metric, err))
	}

	score, rationale, err := parseVerdict(resp.Content)
	if err != nil {
		return neutral(fmt.Errorf("%s: %w", r.Metric, err))
	}
	if rationale == "" {
		rationale = fmt.Sprintf("Scored %.2f on %s without a stated rationale.", score, r.Summary)
	}
	slog.Debug("Rubric scored", "metric", r.Metric, "score", score)
	return datatypes.MetricScore{Metric: r.Metric, Score: score, Rationale: rationale}, nil
}

func rubricPrompt(r Rubric, in Input) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Evaluate the assistant response below for %s (%s).\n\n", r.Label, r.Summary)
	sb.WriteString("Answer each probe with a number from 0 (not at all) to 1 (fully):\n")
	for i, p := range r.Probes {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, p)
	}
	fmt.Fprintf(&sb, "\nUSER QUERY:\n%s\n\nCONVERSATION CONTEXT:\n%s\n\nASSISTANT RESPONSE:\n%s\n\n",
		in.Query, in.context(), in.Candidate)
	sb.WriteString(`Reply with exactly this JSON shape: {"probes": [p1, p2, p3, p4, p5], "rationale": "<one or two sentences>"}`)
	return sb.String()
}

type verdict struct {
	Probes    []float64 `json:"probes"`
	Score     *float64  `json:"score"`
	Rationale string    `json:"rationale"`
}

// parseVerdict reads a rubric answer. The score is the mean of the five
// probe answers, or an explicit "score" when no probes are given.
func parseVerdict(content string) (float64, string, error) {
	raw := extractJSONObject(content)
	if raw == "" {
		return 0, "", fmt.Errorf("%w: no JSON object in answer", ErrMalformedScore)
	}
	var v verdict
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return 0, "", fmt.Errorf("%w: %v", ErrMalformedScore, err)
	}

	var score float64
	switch {
	case len(v.Probes) == ProbesPerRubric:
		for _, p := range v.Probes {
			if p < 0 || p > 1 {
				return 0, "", fmt.Errorf("%w: probe value %v out of range", ErrMalformedScore, p)
			}
			score += p
		}
		score /= ProbesPerRubric
	case len(v.Probes) == 0 && v.Score != nil:
		if *v.Score < 0 || *v.Score > 1 {
			return 0, "", fmt.Errorf("%w: score %v out of range", ErrMalformedScore, *v.Score)
		}
		score = *v.Score
	default:
		return 0, "", fmt.Errorf("%w: expected %d probe answers, got %d", ErrMalformedScore, ProbesPerRubric, len(v.Probes))
	}
	return datatypes.ClampScore(score), strings.TrimSpace(v.Rationale), nil
}

// extractJSONObject returns the outermost {...} of s, tolerating code fences
// and chatter around it.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
