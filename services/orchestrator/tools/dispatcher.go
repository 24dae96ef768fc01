// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianCurator/services/llm"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
)

var tracer = otel.Tracer("aleutian.curator.tools")

const (
	// DefaultToolTimeout bounds a single tool execution.
	DefaultToolTimeout = 20 * time.Second

	// DefaultMaxParallel bounds concurrently running tools in one batch.
	DefaultMaxParallel = 8

	// MaxCallsPerBatch limits how many calls one model turn may request.
	MaxCallsPerBatch = 16
)

// Status labels recorded per tool call.
const (
	StatusSuccess     = "success"
	StatusFailed      = "failed"
	StatusTimeout     = "timeout"
	StatusInvalid     = "invalid"
	StatusUnknownTool = "unknown_tool"
	StatusPanic       = "panic"
)

// timeoutText is returned to the model when a tool exceeds its deadline.
const timeoutText = "Sorry, looking that up took too long. Please try again in a moment."

// Recorder receives one observation per executed tool call.
type Recorder interface {
	RecordToolCall(tool, status string, latency time.Duration)
}

// Dispatcher runs the tool calls requested by one model turn.
//
// # Description
//
// All calls of a batch run concurrently; the order in which they finish
// is irrelevant. Each result carries the correlation id of its call and
// sits at the same index as the call, so results map back to calls one to
// one regardless of completion order.
//
// Thread Safety: Dispatcher is safe for concurrent use.
type Dispatcher struct {
	registry    *Registry
	timeout     time.Duration
	maxParallel int
	recorder    Recorder
}

// DispatcherOption configures the Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithToolTimeout sets the default timeout for a tool execution.
// Zero or negative keeps DefaultToolTimeout.
func WithToolTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.timeout = timeout
		}
	}
}

// WithMaxParallel bounds how many tools of one batch run at once.
func WithMaxParallel(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxParallel = n
		}
	}
}

// WithRecorder sets the metrics sink.
func WithRecorder(r Recorder) DispatcherOption {
	return func(d *Dispatcher) {
		d.recorder = r
	}
}

// NewDispatcher creates a dispatcher over registry.
func NewDispatcher(registry *Registry, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:    registry,
		timeout:     DefaultToolTimeout,
		maxParallel: DefaultMaxParallel,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Batch is the outcome of one dispatch round.
//
// Calls[i] and Results[i] belong together and share the same id.
type Batch struct {
	Calls   []datatypes.ToolCall
	Results []datatypes.ToolResult
}

// Failed counts results whose tool could not do what was asked.
func (b Batch) Failed() int {
	n := 0
	for _, r := range b.Results {
		if !r.Success {
			n++
		}
	}
	return n
}

// Dispatch executes the requested calls concurrently and joins them.
//
// # Description
//
// Missing or duplicate correlation ids are replaced with fresh ones so
// every call in the batch has a unique id. Arguments are decoded,
// defaulted and validated before the tool runs. Calls beyond
// MaxCallsPerBatch are not executed and get a refusal text.
//
// # Inputs
//
//   - ctx: Parent context. Each call gets its own timeout derived from it.
//   - requested: Tool calls exactly as the model returned them.
//
// # Outputs
//
//   - Batch: One call and one result per requested call, in request order.
//     Dispatch never returns an error; every failure is a failed result.
func (d *Dispatcher) Dispatch(ctx context.Context, requested []llm.ToolCall) Batch {
	ctx, span := tracer.Start(ctx, "Dispatcher.Dispatch")
	defer span.End()
	span.SetAttributes(attribute.Int("tools.requested", len(requested)))

	batch := Batch{
		Calls:   make([]datatypes.ToolCall, len(requested)),
		Results: make([]datatypes.ToolResult, len(requested)),
	}
	decodeErrs := make([]error, len(requested))
	seen := make(map[string]bool, len(requested))

	for i, rc := range requested {
		id := rc.ID
		if id == "" || seen[id] {
			id = "call_" + uuid.NewString()
		}
		seen[id] = true

		args, err := DecodeArgs(rc.Arguments)
		decodeErrs[i] = err
		batch.Calls[i] = datatypes.ToolCall{ID: id, Name: rc.Name, Arguments: args}
	}

	var g errgroup.Group
	g.SetLimit(d.maxParallel)
	for i := range batch.Calls {
		if i >= MaxCallsPerBatch {
			call := batch.Calls[i]
			batch.Results[i] = datatypes.ToolResult{
				CallID: call.ID,
				Name:   call.Name,
				Text:   fmt.Sprintf("Skipped %s: too many lookups were requested at once.", call.Name),
				Kind:   datatypes.KindValidation,
			}
			continue
		}
		g.Go(func() error {
			batch.Results[i], batch.Calls[i].Arguments = d.run(ctx, batch.Calls[i], decodeErrs[i])
			return nil
		})
	}
	_ = g.Wait()

	failed := batch.Failed()
	span.SetAttributes(attribute.Int("tools.failed", failed))
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d tool calls failed", failed, len(requested)))
	}
	return batch
}

// run executes one call and returns its result plus the effective
// arguments after defaults were applied.
func (d *Dispatcher) run(ctx context.Context, call datatypes.ToolCall, decodeErr error) (datatypes.ToolResult, map[string]any) {
	ctx, span := tracer.Start(ctx, "Dispatcher.run", trace.WithAttributes(
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	))
	defer span.End()

	logger := slog.With("tool", call.Name, "call_id", call.ID)
	start := time.Now()
	result := datatypes.ToolResult{CallID: call.ID, Name: call.Name}
	args := Args(call.Arguments)

	finish := func(out Output, status string) (datatypes.ToolResult, map[string]any) {
		result.Text = out.Text
		result.Success = !out.Failed
		result.Kind = out.Kind
		result.Latency = time.Since(start)
		if out.Failed {
			span.SetStatus(codes.Error, status)
			logger.Warn("Tool call failed", "status", status, "kind", out.Kind.String(), "latency", result.Latency)
		} else {
			logger.Debug("Tool call completed", "latency", result.Latency)
		}
		span.SetAttributes(attribute.String("tool.status", status))
		if d.recorder != nil {
			d.recorder.RecordToolCall(call.Name, status, result.Latency)
		}
		return result, args
	}

	tool, ok := d.registry.Get(Name(call.Name))
	if !ok {
		return finish(Failure(datatypes.KindValidation, fmt.Sprintf("Unknown tool: %s", call.Name)), StatusUnknownTool)
	}
	if decodeErr != nil {
		span.RecordError(decodeErr)
		return finish(Failure(datatypes.KindValidation,
			fmt.Sprintf("I couldn't read the request for %s. The arguments must be a JSON object.", call.Name)), StatusInvalid)
	}

	def := tool.Definition()
	args = args.withDefaults(def)
	if err := ValidateArgs(def, args); err != nil {
		span.RecordError(err)
		return finish(Failure(datatypes.KindValidation, fmt.Sprintf("I couldn't run %s: %v.", call.Name, err)), StatusInvalid)
	}

	timeout := d.timeout
	if def.Timeout > 0 {
		timeout = def.Timeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan Output, 1)
	panicked := make(chan any, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				panicked <- r
			}
		}()
		done <- tool.Execute(tctx, args)
	}()

	select {
	case out := <-done:
		if out.Failed {
			return finish(out, StatusFailed)
		}
		return finish(out, StatusSuccess)
	case r := <-panicked:
		logger.Error("Tool panicked", "panic", fmt.Sprint(r))
		return finish(Failure(datatypes.KindUnknown,
			fmt.Sprintf("Something went wrong while running %s.", call.Name)), StatusPanic)
	case <-tctx.Done():
		span.RecordError(tctx.Err())
		return finish(Failure(datatypes.KindUpstreamUnavailable, timeoutText), StatusTimeout)
	}
}
