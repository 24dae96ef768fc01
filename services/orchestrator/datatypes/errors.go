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

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures that can occur while a turn is processed.
//
// # Description
//
// Every failure in the chat pipeline maps onto exactly one kind. The kind
// decides how the failure is handled: recovered locally as text, short
// circuited with a refusal, failed open, or fatal for the turn. No kind
// ever reaches the chat surface as a raw error.
type ErrorKind int

const (
	// KindUnknown is an unclassified failure. Treated as fatal.
	KindUnknown ErrorKind = iota

	// KindUpstreamUnavailable means the record service or vector store was
	// unreachable or timed out. Recovered by the adapter as apologetic text.
	KindUpstreamUnavailable

	// KindValidation means an argument had a bad shape or value.
	// Recovered locally as a clarifying text.
	KindValidation

	// KindGuardrailViolation short-circuits the pipeline with a fixed refusal.
	KindGuardrailViolation

	// KindEvaluationFailure fails open; the original candidate is returned.
	KindEvaluationFailure

	// KindDispatchBoundExceeded is fatal for the turn.
	KindDispatchBoundExceeded

	// KindModelInference is fatal when it happens on the first inference.
	KindModelInference
)

// String returns the snake_case name used in logs and metric labels.
func (k ErrorKind) String() string {
	switch k {
	case KindUpstreamUnavailable:
		return "upstream_unavailable"
	case KindValidation:
		return "validation_error"
	case KindGuardrailViolation:
		return "guardrail_violation"
	case KindEvaluationFailure:
		return "evaluation_failure"
	case KindDispatchBoundExceeded:
		return "dispatch_bound_exceeded"
	case KindModelInference:
		return "model_inference_failure"
	default:
		return "unknown"
	}
}

// Sentinel errors, one per kind.
var (
	ErrUpstreamUnavailable   = errors.New("upstream unavailable")
	ErrValidation            = errors.New("validation error")
	ErrGuardrailViolation    = errors.New("guardrail violation")
	ErrEvaluationFailure     = errors.New("evaluation failure")
	ErrDispatchBoundExceeded = errors.New("dispatch bound exceeded")
	ErrModelInference        = errors.New("model inference failure")
)

var kindSentinels = map[ErrorKind]error{
	KindUpstreamUnavailable:   ErrUpstreamUnavailable,
	KindValidation:            ErrValidation,
	KindGuardrailViolation:    ErrGuardrailViolation,
	KindEvaluationFailure:     ErrEvaluationFailure,
	KindDispatchBoundExceeded: ErrDispatchBoundExceeded,
	KindModelInference:        ErrModelInference,
}

// TurnError is a typed failure raised inside one pipeline stage.
//
// # Description
//
// TurnError carries the kind, the stage it happened in, and the underlying
// cause. errors.Is matches both the kind's sentinel and the cause, so callers
// can test either:
//
//	errors.Is(err, datatypes.ErrDispatchBoundExceeded)
//	errors.Is(err, context.DeadlineExceeded)
type TurnError struct {
	Kind  ErrorKind
	Stage string
	Err   error
}

// NewTurnError builds a TurnError.
func NewTurnError(kind ErrorKind, stage string, err error) *TurnError {
	return &TurnError{Kind: kind, Stage: stage, Err: err}
}

func (e *TurnError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s in %s", e.Kind, e.Stage)
	}
	return fmt.Sprintf("%s in %s: %v", e.Kind, e.Stage, e.Err)
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *TurnError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s, ok := kindSentinels[e.Kind]; ok {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf classifies err. A nil error has KindUnknown.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var te *TurnError
	if errors.As(err, &te) {
		return te.Kind
	}
	for kind, sentinel := range kindSentinels {
		if errors.Is(err, sentinel) {
			return kind
		}
	}
	return KindUnknown
}

// IsFatal reports whether a failure of this kind ends the turn with the
// generic apology.
func (k ErrorKind) IsFatal() bool {
	switch k {
	case KindDispatchBoundExceeded, KindModelInference, KindUnknown:
		return true
	default:
		return false
	}
}
