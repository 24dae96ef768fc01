// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// MockClient is a scripted Client for tests.
//
// Responses are served from a FIFO queue, then from a response function if
// set, then from the default response.
//
// Thread Safety:
//
//	MockClient is safe for concurrent use. The lock is not held while the
//	configured delay elapses, so concurrent calls overlap like real ones.
type MockClient struct {
	mu sync.RWMutex

	name  string
	model string

	responses       []*Response
	defaultResponse *Response
	responseFunc    func(*Request) (*Response, error)
	errorToReturn   error
	delay           time.Duration

	calls []CompletionCall
}

var _ Client = (*MockClient)(nil)

// CompletionCall records a call to Complete.
type CompletionCall struct {
	Request   *Request
	Timestamp time.Time
}

// NewMockClient creates a mock returning "Mock response" by default.
func NewMockClient() *MockClient {
	return &MockClient{
		name:            "mock",
		model:           "mock-model",
		defaultResponse: &Response{Content: "Mock response", StopReason: "stop"},
	}
}

// WithDelay adds artificial latency. Honours context cancellation.
func (c *MockClient) WithDelay(d time.Duration) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
	return c
}

// WithError makes every call fail with err.
func (c *MockClient) WithError(err error) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorToReturn = err
	return c
}

// WithResponseFunc sets a dynamic response function used when the queue is empty.
func (c *MockClient) WithResponseFunc(f func(*Request) (*Response, error)) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responseFunc = f
	return c
}

// QueueResponse appends a response to the queue.
func (c *MockClient) QueueResponse(response *Response) *MockClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, response)
	return c
}

// QueueToolCalls queues one response requesting the given tool calls.
// Each call gets the id "call_<queue index>_<call index>".
func (c *MockClient) QueueToolCalls(calls ...MockToolCall) *MockClient {
	c.mu.RLock()
	idx := len(c.responses)
	c.mu.RUnlock()

	resp := &Response{StopReason: "tool_calls"}
	for i, call := range calls {
		args, _ := json.Marshal(call.Arguments)
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:        fmt.Sprintf("call_%d_%d", idx, i),
			Name:      call.Name,
			Arguments: string(args),
		})
	}
	return c.QueueResponse(resp)
}

// QueueFinalResponse queues a text answer with no tool calls.
func (c *MockClient) QueueFinalResponse(content string) *MockClient {
	return c.QueueResponse(&Response{Content: content, StopReason: "stop"})
}

// MockToolCall describes a tool call for QueueToolCalls.
type MockToolCall struct {
	Name      string
	Arguments map[string]any
}

// Complete implements Client.
func (c *MockClient) Complete(ctx context.Context, request *Request) (*Response, error) {
	c.mu.Lock()
	c.calls = append(c.calls, CompletionCall{Request: request, Timestamp: time.Now()})
	delay := c.delay
	errToReturn := c.errorToReturn
	var queued *Response
	if errToReturn == nil && len(c.responses) > 0 {
		queued = c.responses[0]
		c.responses = c.responses[1:]
	}
	fn := c.responseFunc
	def := *c.defaultResponse
	model := c.model
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if errToReturn != nil {
		return nil, errToReturn
	}

	if queued != nil {
		out := *queued
		out.Model = model
		out.Duration = delay
		return &out, nil
	}
	if fn != nil {
		return fn(request)
	}
	def.Model = model
	def.Duration = delay
	return &def, nil
}

// Name implements Client.
func (c *MockClient) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Model implements Client.
func (c *MockClient) Model() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

// Calls returns all recorded calls.
func (c *MockClient) Calls() []CompletionCall {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CompletionCall, len(c.calls))
	copy(out, c.calls)
	return out
}

// CallCount returns the number of calls made.
func (c *MockClient) CallCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.calls)
}

// LastRequest returns the most recent request, or nil.
func (c *MockClient) LastRequest() *Request {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.calls) == 0 {
		return nil
	}
	return c.calls[len(c.calls)-1].Request
}
