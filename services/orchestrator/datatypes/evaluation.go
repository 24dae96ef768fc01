// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// Metric names one evaluation rubric.
type Metric string

const (
	MetricCoherence Metric = "coherence"
	MetricToneFit   Metric = "tone_fit"
	MetricRelevance Metric = "relevance"
	MetricSafety    Metric = "safety"
)

// AllMetrics lists the rubrics in reporting order.
var AllMetrics = []Metric{MetricCoherence, MetricToneFit, MetricRelevance, MetricSafety}

// DefaultEvaluationThreshold is used when no threshold is configured.
const DefaultEvaluationThreshold = 0.7

// MetricScore is the result of one rubric.
//
// # Fields
//
//   - Metric: The rubric.
//   - Score: In the closed range [0,1].
//   - Rationale: Short justification. Always populated.
//   - Failed: True when the rubric call failed and Score is the neutral value.
type MetricScore struct {
	Metric    Metric  `json:"metric"`
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
	Failed    bool    `json:"failed,omitempty"`
}

// EvaluationScore aggregates the four rubric results of one candidate answer.
//
// # Description
//
// NeedsEnhancement is derived, never set directly: it is true iff at least
// one score is strictly below Threshold. When the evaluator failed as a
// whole, Failed is true and NeedsEnhancement is false (fail open).
type EvaluationScore struct {
	Scores           []MetricScore `json:"scores"`
	Threshold        float64       `json:"threshold"`
	NeedsEnhancement bool          `json:"needs_enhancement"`
	Failed           bool          `json:"failed,omitempty"`
}

// NewEvaluationScore clamps every score into [0,1] and derives NeedsEnhancement.
func NewEvaluationScore(scores []MetricScore, threshold float64) EvaluationScore {
	out := EvaluationScore{
		Scores:    make([]MetricScore, len(scores)),
		Threshold: threshold,
	}
	for i, s := range scores {
		s.Score = ClampScore(s.Score)
		out.Scores[i] = s
		if s.Score < threshold {
			out.NeedsEnhancement = true
		}
	}
	return out
}

// FailOpen returns the result recorded when the evaluator failed as a whole.
func FailOpen(threshold float64, rationale string) EvaluationScore {
	scores := make([]MetricScore, 0, len(AllMetrics))
	for _, m := range AllMetrics {
		scores = append(scores, MetricScore{Metric: m, Score: 1, Rationale: rationale, Failed: true})
	}
	return EvaluationScore{Scores: scores, Threshold: threshold, Failed: true}
}

// Failing returns the scores below the threshold, in reporting order.
func (e EvaluationScore) Failing() []MetricScore {
	var failing []MetricScore
	for _, s := range e.Scores {
		if s.Score < e.Threshold {
			failing = append(failing, s)
		}
	}
	return failing
}

// Score returns the result for one metric.
func (e EvaluationScore) Score(m Metric) (MetricScore, bool) {
	for _, s := range e.Scores {
		if s.Metric == m {
			return s, true
		}
	}
	return MetricScore{}, false
}

// ClampScore bounds v to [0,1].
func ClampScore(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
