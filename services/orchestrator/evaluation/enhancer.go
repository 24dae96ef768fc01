// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianCurator/services/llm"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
)

var (
	// ErrNothingToEnhance is returned when the score has no failing rubric.
	ErrNothingToEnhance = errors.New("no failing rubric to enhance")

	// ErrEmptyEnhancement is returned when the rewrite came back empty.
	ErrEmptyEnhancement = errors.New("enhancement returned empty text")
)

const enhancerSystemPrompt = "You are an expert at improving AI assistant responses. " +
	"Enhance the response based on the evaluation feedback while maintaining accuracy and the intended personality."

// EnhancerConfig configures an Enhancer.
type EnhancerConfig struct {
	Model   string
	Timeout time.Duration
	Rubrics []Rubric
}

// Enhancer rewrites a candidate answer once, guided by its failing rubrics.
type Enhancer struct {
	client llm.Client
	cfg    EnhancerConfig
}

// NewEnhancer creates an Enhancer.
func NewEnhancer(client llm.Client, cfg EnhancerConfig) *Enhancer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if len(cfg.Rubrics) == 0 {
		cfg.Rubrics = DefaultRubrics()
	}
	return &Enhancer{client: client, cfg: cfg}
}

// Enhance performs one rewrite of in.Candidate.
//
// # Description
//
// The rewrite prompt quotes the score and rationale of the failing rubrics
// only. There is no retry and the output is not evaluated again.
//
// # Outputs
//
//   - string: The rewritten answer.
//   - error: ErrNothingToEnhance when no rubric failed, the model error, or
//     ErrEmptyEnhancement. Callers keep the original candidate on error.
func (e *Enhancer) Enhance(ctx context.Context, in Input, score datatypes.EvaluationScore) (string, error) {
	ctx, span := tracer.Start(ctx, "Enhancer.Enhance")
	defer span.End()

	failing := score.Failing()
	if len(failing) == 0 {
		return "", ErrNothingToEnhance
	}
	span.SetAttributes(attribute.Int("enhancement.failing_rubrics", len(failing)))

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	resp, err := e.client.Complete(ctx, &llm.Request{
		SystemPrompt:  enhancerSystemPrompt,
		Messages:      []llm.Message{{Role: llm.RoleUser, Content: e.Prompt(in, failing)}},
		ModelOverride: e.cfg.Model,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enhancement failed")
		return "", fmt.Errorf("enhance: %w", err)
	}

	text := strings.TrimSpace(resp.Content)
	text = strings.TrimSpace(strings.TrimPrefix(text, "ENHANCED RESPONSE:"))
	if text == "" {
		return "", ErrEmptyEnhancement
	}
	slog.Debug("Response enhanced", "original_length", len(in.Candidate), "enhanced_length", len(text))
	return text, nil
}

// Prompt renders the rewrite instruction for the given failing scores.
func (e *Enhancer) Prompt(in Input, failing []datatypes.MetricScore) string {
	var issues, improvements []string
	for _, s := range failing {
		r, ok := rubricFor(e.cfg.Rubrics, s.Metric)
		label := strings.ToUpper(string(s.Metric))
		if ok {
			label = r.Label
		}
		issues = append(issues, fmt.Sprintf("%s (score: %.2f): %s", label, s.Score, s.Rationale))
		for _, imp := range r.Improvements {
			improvements = append(improvements, "- "+imp)
		}
	}

	var sb strings.Builder
	sb.WriteString("You need to improve the following AI assistant response based on evaluation feedback.\n\n")
	fmt.Fprintf(&sb, "ORIGINAL RESPONSE:\n%s\n\n", in.Candidate)
	fmt.Fprintf(&sb, "USER QUERY:\n%s\n\n", in.Query)
	fmt.Fprintf(&sb, "CONVERSATION CONTEXT:\n%s\n\n", in.context())
	fmt.Fprintf(&sb, "EVALUATION ISSUES:\n%s\n\n", strings.Join(issues, "\n"))
	fmt.Fprintf(&sb, "IMPROVEMENTS NEEDED:\n%s\n\n", strings.Join(improvements, "\n"))
	sb.WriteString("INSTRUCTIONS:\n")
	sb.WriteString("- Improve the response to address the issues identified above\n")
	sb.WriteString("- Maintain all factual accuracy; do not change or add facts\n")
	sb.WriteString("- Keep the same core information and structure\n")
	sb.WriteString("- Keep the friendly curator personality\n")
	sb.WriteString("- Return ONLY the improved response text, without any meta-commentary\n\n")
	sb.WriteString("ENHANCED RESPONSE:")
	return sb.String()
}
