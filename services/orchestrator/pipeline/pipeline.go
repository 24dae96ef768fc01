// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline runs one chat turn as an explicit state machine.
//
// # Description
//
// A turn moves through input guard, prompt assembly, inference with
// concurrent tool dispatch rounds, evaluation, at most one enhancement and
// the output guard. Each stage reports a typed outcome; only a failed first
// inference and an exceeded dispatch bound end a turn without an answer,
// and even then the caller receives a natural-language apology.
//
// Turns on the same session are serialized by the session store's turn
// lock. Turns on different sessions share no mutable state.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianCurator/services/guardrail"
	"github.com/AleutianAI/AleutianCurator/services/llm"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/evaluation"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/memory"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/prompt"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/tools"
)

var tracer = otel.Tracer("aleutian.curator.pipeline")

const (
	// DefaultMaxDispatchRounds bounds tool-dispatch rounds per turn.
	DefaultMaxDispatchRounds = 5

	// DefaultInferenceTimeout bounds each main model call.
	DefaultInferenceTimeout = 60 * time.Second

	auditTimeout = 5 * time.Second
)

// Texts returned to the user when no model answer is available.
const (
	FatalApology = "I'm sorry, something went wrong and I couldn't answer that. Please try again in a moment."

	ReinferApology = "I'm sorry, I found some information but ran into a problem putting the answer together. Please try asking again."

	EmptyAnswer = "I'm not sure how to answer that. Could you ask about your watch history in a different way?"
)

// Model call stages, used as metric labels.
const (
	stageInfer    = "infer"
	stageReinfer  = "reinfer"
	stageEnhance  = "enhance"
	stageEvaluate = "evaluate"
)

// =============================================================================
// Collaborators
// =============================================================================

// Guard checks text on either side of the model. *guardrail.Filter
// implements it.
type Guard interface {
	Check(text string, dir guardrail.Direction) guardrail.Verdict
}

// Assembler builds the prompt of a turn. *prompt.Assembler implements it.
type Assembler interface {
	Assemble(history []datatypes.Message, current string) prompt.Prompt
}

// Dispatcher runs one round of tool calls. *tools.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(ctx context.Context, requested []llm.ToolCall) tools.Batch
}

// Evaluator scores a candidate answer. *evaluation.Evaluator implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, in evaluation.Input) (datatypes.EvaluationScore, error)
}

// Enhancer rewrites a candidate answer once. *evaluation.Enhancer
// implements it.
type Enhancer interface {
	Enhance(ctx context.Context, in evaluation.Input, score datatypes.EvaluationScore) (string, error)
}

// AuditSink stores completed turns. *memory.AuditLog implements it.
type AuditSink interface {
	Append(ctx context.Context, rec datatypes.TurnRecord) (uint64, error)
}

// Recorder receives pipeline metrics. *observability.Metrics implements it.
type Recorder interface {
	TurnStarted()
	RecordTurn(outcome string, d time.Duration)
	RecordModelCall(stage string, err error)
	RecordRubricCalls(stage string, score datatypes.EvaluationScore)
	RecordDispatchRounds(n int)
	RecordGuardrailBlock(direction, category string)
	RecordEvaluation(score datatypes.EvaluationScore, err error)
	RecordEnhancement(status string)
}

var (
	_ Guard      = (*guardrail.Filter)(nil)
	_ Assembler  = (*prompt.Assembler)(nil)
	_ Dispatcher = (*tools.Dispatcher)(nil)
	_ Evaluator  = (*evaluation.Evaluator)(nil)
	_ Enhancer   = (*evaluation.Enhancer)(nil)
	_ AuditSink  = (*memory.AuditLog)(nil)
	_ Recorder   = (*observability.Metrics)(nil)
)

type noopRecorder struct{}

func (noopRecorder) TurnStarted() {}
func (noopRecorder) RecordTurn(string, time.Duration) {}
func (noopRecorder) RecordModelCall(string, error) {}
func (noopRecorder) RecordRubricCalls(string, datatypes.EvaluationScore) {}
func (noopRecorder) RecordDispatchRounds(int) {}
func (noopRecorder) RecordGuardrailBlock(string, string) {}
func (noopRecorder) RecordEvaluation(datatypes.EvaluationScore, error) {}
func (noopRecorder) RecordEnhancement(string) {}

// Deps are the collaborators of a Pipeline.
//
// # Fields
//
//   - Model: Main inference backend. Required.
//   - Guard: Guardrail filter. Required.
//   - Assembler: Prompt assembler. Required.
//   - Dispatcher: Tool dispatcher. Required.
//   - Tools: Tool schemas attached to every main inference call.
//   - Evaluator: Optional. Without it answers are never evaluated.
//   - Enhancer: Optional. Without it failing answers are kept as they are.
//   - Memory: Session store. A fresh store is created when nil.
//   - Audit: Optional durable turn log.
//   - Metrics: Optional metrics sink.
type Deps struct {
	Model      llm.Client
	Guard      Guard
	Assembler  Assembler
	Dispatcher Dispatcher
	Tools      []llm.ToolDefinition
	Evaluator  Evaluator
	Enhancer   Enhancer
	Memory     *memory.Store
	Audit      AuditSink
	Metrics    Recorder
}

// Config holds the tunables of a Pipeline.
type Config struct {
	// MaxDispatchRounds bounds tool rounds per turn. A model that still
	// requests tools after this many rounds fails the turn.
	MaxDispatchRounds int

	// InferenceTimeout bounds each main model call.
	InferenceTimeout time.Duration

	// ContextTurns is how many past turns the evaluator sees.
	ContextTurns int
}

// Pipeline runs chat turns.
//
// Thread Safety: safe for concurrent use.
type Pipeline struct {
	model      llm.Client
	guard      Guard
	assembler  Assembler
	dispatcher Dispatcher
	tools      []llm.ToolDefinition
	evaluator  Evaluator
	enhancer   Enhancer
	memory     *memory.Store
	audit      AuditSink
	metrics    Recorder
	cfg        Config
}

// New creates a Pipeline.
func New(deps Deps, cfg Config) (*Pipeline, error) {
	switch {
	case deps.Model == nil:
		return nil, errors.New("pipeline: model client is required")
	case deps.Guard == nil:
		return nil, errors.New("pipeline: guardrail is required")
	case deps.Assembler == nil:
		return nil, errors.New("pipeline: prompt assembler is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("pipeline: tool dispatcher is required")
	}
	if cfg.MaxDispatchRounds <= 0 {
		cfg.MaxDispatchRounds = DefaultMaxDispatchRounds
	}
	if cfg.InferenceTimeout <= 0 {
		cfg.InferenceTimeout = DefaultInferenceTimeout
	}
	if cfg.ContextTurns <= 0 {
		cfg.ContextTurns = prompt.DefaultHistoryTurns
	}
	if deps.Memory == nil {
		deps.Memory = memory.NewStore()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopRecorder{}
	}
	return &Pipeline{
		model:      deps.Model,
		guard:      deps.Guard,
		assembler:  deps.Assembler,
		dispatcher: deps.Dispatcher,
		tools:      deps.Tools,
		evaluator:  deps.Evaluator,
		enhancer:   deps.Enhancer,
		memory:     deps.Memory,
		audit:      deps.Audit,
		metrics:    deps.Metrics,
		cfg:        cfg,
	}, nil
}

// Memory returns the session store.
func (p *Pipeline) Memory() *memory.Store { return p.memory }

// =============================================================================
// Turn
// =============================================================================

// Result describes a finished turn.
//
// # Fields
//
//   - Answer: Always a natural-language string, also for failed turns.
//   - Outcome: datatypes.OutcomeAnswered, OutcomeRefused or OutcomeFailed.
//   - Candidate: The answer before enhancement and the output guard.
//   - Evaluation: Nil when the turn was never evaluated.
//   - States: Every state the turn passed through, starting at idle.
type Result struct {
	SessionID   string
	TurnID      string
	Answer      string
	Outcome     string
	Candidate   string
	Evaluation  *datatypes.EvaluationScore
	Enhanced    bool
	ToolCalls   []datatypes.ToolCall
	ToolResults []datatypes.ToolResult
	ModelCalls  int
	Rounds      int
	States      []State
}

// turn is the mutable state of one run.
type turn struct {
	id      string
	session string
	text    string
	started time.Time
	trail   *trail
	logger  *slog.Logger

	history    []datatypes.Message
	toolLog    []datatypes.Message
	calls      []datatypes.ToolCall
	results    []datatypes.ToolResult
	candidate  string
	answer     string
	refused    bool
	blockedOut bool
	score      *datatypes.EvaluationScore
	enhanced   bool
	modelCalls int
	rounds     int
	softErr    error
}

func (t *turn) result(outcome string) Result {
	return Result{
		SessionID:   t.session,
		TurnID:      t.id,
		Answer:      t.answer,
		Outcome:     outcome,
		Candidate:   t.candidate,
		Evaluation:  t.score,
		Enhanced:    t.enhanced,
		ToolCalls:   t.calls,
		ToolResults: t.results,
		ModelCalls:  t.modelCalls,
		Rounds:      t.rounds,
		States:      t.trail.snapshot(),
	}
}

// Submit runs one turn for a session and returns the assistant's answer.
//
// # Description
//
// Waits for any running turn of the same session to finish first. Once
// the turn starts it is detached from cancellation of ctx and runs to Done
// or to a fatal error; each external call has its own timeout.
//
// # Inputs
//
//   - ctx: Bounds the wait for the session's turn lock; carries trace context.
//   - sessionID: Conversation identifier. Created on first use.
//   - text: The user's message.
//
// # Outputs
//
//   - Result: Result.Answer is always user-presentable text.
//   - error: A *datatypes.TurnError for fatal turns (first inference
//     failure, dispatch bound exceeded), or the context error when the
//     lock wait was cancelled. Result.Answer is then a generic apology.
func (p *Pipeline) Submit(ctx context.Context, sessionID, text string) (Result, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Submit",
		trace.WithAttributes(attribute.String("session.id", sessionID)))
	defer span.End()

	unlock, err := p.memory.Lock(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session busy")
		return Result{SessionID: sessionID, Answer: FatalApology, Outcome: datatypes.OutcomeFailed}, err
	}
	defer unlock()

	ctx = context.WithoutCancel(ctx)
	t := &turn{
		id:      uuid.NewString(),
		session: sessionID,
		text:    text,
		started: time.Now(),
		trail:   newTrail(),
	}
	t.logger = slog.With("session_id", sessionID, "turn_id", t.id)
	span.SetAttributes(attribute.String("turn.id", t.id))

	p.metrics.TurnStarted()
	runErr := p.run(ctx, t)
	res := p.finish(ctx, t, runErr)

	span.SetAttributes(
		attribute.String("turn.outcome", res.Outcome),
		attribute.Int("turn.rounds", res.Rounds),
		attribute.Int("turn.model_calls", res.ModelCalls),
		attribute.Bool("turn.enhanced", res.Enhanced),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, datatypes.KindOf(runErr).String())
	}
	return res, runErr
}

// run drives the state machine. A non-nil error is fatal for the turn.
func (p *Pipeline) run(ctx context.Context, t *turn) error {
	t.trail.to(StateInputGuard)
	if v := p.guard.Check(t.text, guardrail.Inbound); !v.Allowed {
		p.metrics.RecordGuardrailBlock(string(v.Direction), string(v.Category))
		t.logger.Warn("Input blocked by guardrail", "category", v.Category, "rule_id", v.RuleID)
		t.refused = true
		t.answer = v.Refusal
		t.trail.to(StateDone)
		return nil
	}

	t.trail.to(StateAssemble)
	t.history = p.memory.History(t.session)
	pr := p.assembler.Assemble(t.history, t.text)
	t.logger.Debug("Prompt assembled", "state", StateAssemble, "history_messages", len(t.history))

	t.trail.to(StateInfer)
	resp, err := p.infer(ctx, t, pr, nil, stageInfer)
	if err != nil {
		t.trail.to(StateFailed)
		t.logger.Error("First inference failed", "error", err)
		return datatypes.NewTurnError(datatypes.KindModelInference, string(StateInfer), err)
	}

	var loop []llm.Message
	for resp.HasToolCalls() {
		if t.rounds >= p.cfg.MaxDispatchRounds {
			t.trail.to(StateFailed)
			err := fmt.Errorf("model requested %d more tool calls after %d rounds", len(resp.ToolCalls), t.rounds)
			t.logger.Error("Dispatch bound exceeded", "error", err, "max_rounds", p.cfg.MaxDispatchRounds)
			return datatypes.NewTurnError(datatypes.KindDispatchBoundExceeded, string(StateDispatch), err)
		}

		t.trail.to(StateDispatch)
		t.rounds++
		loop = append(loop, p.dispatch(ctx, t, resp)...)

		t.trail.to(StateReinfer)
		resp, err = p.infer(ctx, t, pr, loop, stageReinfer)
		if err != nil {
			t.logger.Warn("Inference after tool dispatch failed", "error", err, "round", t.rounds)
			t.softErr = datatypes.NewTurnError(datatypes.KindModelInference, string(StateReinfer), err)
			t.candidate = ReinferApology
			t.answer = ReinferApology
			p.deliver(t)
			return nil
		}
	}

	t.candidate = strings.TrimSpace(resp.Content)
	if t.candidate == "" {
		t.candidate = EmptyAnswer
	}
	t.answer = t.candidate

	t.trail.to(StateEvaluate)
	p.evaluate(ctx, t)

	t.trail.to(StateDecide)
	if t.score != nil && t.score.NeedsEnhancement && p.enhancer != nil {
		t.trail.to(StateEnhance)
		p.enhance(ctx, t)
	}

	p.deliver(t)
	return nil
}

// infer makes one main model call under the inference timeout.
func (p *Pipeline) infer(ctx context.Context, t *turn, pr prompt.Prompt, loop []llm.Message, stage string) (*llm.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.InferenceTimeout)
	defer cancel()

	t.modelCalls++
	resp, err := p.model.Complete(ctx, pr.Request(p.tools, loop...))
	if err == nil && resp == nil {
		err = errors.New("model returned no response")
	}
	p.metrics.RecordModelCall(stage, err)
	if err != nil {
		return nil, err
	}
	t.logger.Debug("Model responded", "state", t.trail.current(), "tool_calls", len(resp.ToolCalls))
	return resp, nil
}

// dispatch runs one tool round and returns the messages that feed the
// results back to the model.
func (p *Pipeline) dispatch(ctx context.Context, t *turn, resp *llm.Response) []llm.Message {
	batch := p.dispatcher.Dispatch(ctx, resp.ToolCalls)
	t.calls = append(t.calls, batch.Calls...)
	t.results = append(t.results, batch.Results...)

	request := llm.Message{Role: llm.RoleAssistant, Content: resp.Content}
	for _, c := range batch.Calls {
		request.ToolCalls = append(request.ToolCalls, llm.ToolCall{ID: c.ID, Name: c.Name, Arguments: encodeArgs(c.Arguments)})
	}
	msgs := []llm.Message{request}

	now := time.Now().UTC()
	t.toolLog = append(t.toolLog, datatypes.Message{
		Role: datatypes.RoleAssistant, Content: resp.Content, ToolCalls: batch.Calls, Timestamp: now,
	})
	for _, r := range batch.Results {
		msgs = append(msgs, llm.Message{Role: llm.RoleTool, ToolCallID: r.CallID, Content: r.Text})
		t.toolLog = append(t.toolLog, datatypes.Message{
			Role: datatypes.RoleTool, Content: r.Text, ToolCallID: r.CallID, Timestamp: now,
		})
	}
	t.logger.Debug("Tool round dispatched", "state", StateDispatch, "round", t.rounds,
		"calls", len(batch.Calls), "failed", batch.Failed())
	return msgs
}

func encodeArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// evaluate scores the candidate. Failures are reported, never raised.
func (p *Pipeline) evaluate(ctx context.Context, t *turn) {
	if p.evaluator == nil {
		return
	}
	in := p.evaluationInput(t)
	score, err := p.evaluator.Evaluate(ctx, in)
	p.metrics.RecordRubricCalls(stageEvaluate, score)
	p.metrics.RecordEvaluation(score, err)
	if err != nil {
		t.logger.Warn("Evaluation failed, keeping the candidate answer", "error", err)
		t.softErr = err
		score.NeedsEnhancement = false
	}
	t.score = &score
	t.logger.Debug("Candidate evaluated", "state", StateEvaluate, "needs_enhancement", score.NeedsEnhancement)
}

func (p *Pipeline) evaluationInput(t *turn) evaluation.Input {
	return evaluation.Input{
		Candidate: t.candidate,
		Query:     t.text,
		Context:   prompt.Transcript(prompt.Window(t.history, p.cfg.ContextTurns)),
	}
}

// enhance performs the single rewrite. On failure the candidate stays.
func (p *Pipeline) enhance(ctx context.Context, t *turn) {
	text, err := p.enhancer.Enhance(ctx, p.evaluationInput(t), *t.score)
	p.metrics.RecordModelCall(stageEnhance, err)
	if err != nil {
		p.metrics.RecordEnhancement("failed")
		t.logger.Warn("Enhancement failed, keeping the candidate answer", "error", err)
		return
	}
	p.metrics.RecordEnhancement("applied")
	t.answer = text
	t.enhanced = true
	t.logger.Debug("Candidate enhanced", "state", StateEnhance, "failing_rubrics", len(t.score.Failing()))
}

// deliver runs the output guard and ends the turn.
func (p *Pipeline) deliver(t *turn) {
	t.trail.to(StateOutputGuard)
	if v := p.guard.Check(t.answer, guardrail.Outbound); !v.Allowed {
		p.metrics.RecordGuardrailBlock(string(v.Direction), string(v.Category))
		t.logger.Warn("Output blocked by guardrail", "category", v.Category, "rule_id", v.RuleID)
		t.answer = v.Refusal
		t.blockedOut = true
	}
	t.trail.to(StateDone)
}

// finish records the turn in memory, the audit log and metrics.
func (p *Pipeline) finish(ctx context.Context, t *turn, runErr error) Result {
	outcome := datatypes.OutcomeAnswered
	switch {
	case runErr != nil:
		outcome = datatypes.OutcomeFailed
		t.answer = FatalApology
	case t.refused:
		outcome = datatypes.OutcomeRefused
	}

	// Fatal turns leave the session log untouched.
	if runErr == nil {
		user := datatypes.NewUserMessage(t.text)
		user.Flagged = t.refused
		final := datatypes.NewAssistantMessage(t.answer)
		final.Flagged = t.refused || t.blockedOut

		msgs := make([]datatypes.Message, 0, len(t.toolLog)+2)
		msgs = append(msgs, user)
		msgs = append(msgs, t.toolLog...)
		msgs = append(msgs, final)
		p.memory.Append(t.session, msgs...)
	}

	res := t.result(outcome)
	duration := time.Since(t.started)
	p.writeAudit(ctx, t, res, runErr, duration)

	p.metrics.RecordTurn(outcome, duration)
	if !t.refused {
		p.metrics.RecordDispatchRounds(t.rounds)
	}
	t.logger.Info("Turn completed",
		"outcome", outcome,
		"rounds", t.rounds,
		"model_calls", t.modelCalls,
		"enhanced", t.enhanced,
		"duration", duration.String())
	return res
}

func (p *Pipeline) writeAudit(ctx context.Context, t *turn, res Result, runErr error, d time.Duration) {
	if p.audit == nil {
		return
	}
	rec := datatypes.TurnRecord{
		SessionID:   t.session,
		TurnID:      t.id,
		UserText:    t.text,
		Answer:      res.Answer,
		Outcome:     res.Outcome,
		ToolCalls:   t.calls,
		ToolResults: t.results,
		Evaluation:  t.score,
		Enhanced:    t.enhanced,
		ModelCalls:  t.modelCalls,
		StartedAt:   t.started.UTC(),
		Duration:    d,
	}
	switch {
	case runErr != nil:
		rec.ErrorKind = datatypes.KindOf(runErr).String()
	case t.refused:
		rec.ErrorKind = datatypes.KindGuardrailViolation.String()
	case t.softErr != nil:
		rec.ErrorKind = datatypes.KindOf(t.softErr).String()
	}

	ctx, cancel := context.WithTimeout(ctx, auditTimeout)
	defer cancel()
	if _, err := p.audit.Append(ctx, rec); err != nil {
		t.logger.Warn("Failed to write turn to audit log", "error", err)
	}
}
