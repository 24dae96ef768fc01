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
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("aleutian.curator.llm")

const (
	// DefaultOpenAIModel is used when OPENAI_MODEL is not set.
	DefaultOpenAIModel = "gpt-4o"

	// DefaultLocalBaseURL is the OpenAI-compatible endpoint of a local model server.
	DefaultLocalBaseURL = "http://127.0.0.1:1234/v1"

	openAISecretPath = "/run/secrets/openai_api_key"

	// localPlaceholderKey satisfies OpenAI-compatible local servers that
	// require a non-empty bearer token but ignore its value.
	localPlaceholderKey = "local"
)

// OpenAIConfig configures an OpenAIClient.
//
// # Fields
//
//   - APIKey: Sealed API key. Required unless Local is true.
//   - BaseURL: Override the API base URL (OpenAI-compatible servers).
//   - Model: Default model identifier.
//   - Local: Target a local OpenAI-compatible server (LM Studio, vLLM, ...).
//   - Timeout: HTTP client timeout. 0 means no client-side timeout; callers
//     bound each call with a context deadline instead.
type OpenAIConfig struct {
	APIKey  *memguard.Enclave
	BaseURL string
	Model   string
	Local   bool
	Timeout time.Duration
}

// OpenAIClient implements Client over the OpenAI chat completions API.
type OpenAIClient struct {
	client *openai.Client
	model  string
	name   string
	local  bool
}

var _ Client = (*OpenAIClient)(nil)

// LoadOpenAIKey reads the API key from OPENAI_API_KEY or the container secret
// file and seals it in a memguard enclave.
//
// # Outputs
//
//   - *memguard.Enclave: The sealed key. Never logged.
//   - error: Non-nil if neither source provides a key.
func LoadOpenAIKey() (*memguard.Enclave, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		keyBytes, err := os.ReadFile(openAISecretPath)
		if err != nil {
			slog.Error("OPENAI_API_KEY environment variable not set and secret not found", "path", openAISecretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
		apiKey = strings.TrimSpace(string(keyBytes))
		slog.Info("Read the OpenAI API key from container secrets")
	}
	return memguard.NewEnclave([]byte(apiKey)), nil
}

// NewOpenAIClient creates a client for OpenAI or an OpenAI-compatible server.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	key := localPlaceholderKey
	if cfg.APIKey != nil {
		buf, err := cfg.APIKey.Open()
		if err != nil {
			return nil, fmt.Errorf("open api key enclave: %w", err)
		}
		// String() aliases the locked pages; clone before Destroy wipes them.
		key = strings.Clone(buf.String())
		buf.Destroy()
	} else if !cfg.Local {
		return nil, fmt.Errorf("api key is required for the openai backend")
	}

	clientCfg := openai.DefaultConfig(key)
	name := "openai"
	if cfg.Local {
		name = "local"
		if cfg.BaseURL == "" {
			cfg.BaseURL = DefaultLocalBaseURL
		}
	}
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
		slog.Warn("OPENAI_MODEL not set, using default", "model", cfg.Model)
	}

	slog.Info("Initializing OpenAI-compatible client",
		"backend", name,
		"model", cfg.Model,
		"base_url", clientCfg.BaseURL,
		"api_key_present", cfg.APIKey != nil,
	)

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
		name:   name,
		local:  cfg.Local,
	}, nil
}

// Name implements Client.
func (o *OpenAIClient) Name() string { return o.name }

// Model implements Client.
func (o *OpenAIClient) Model() string { return o.model }

// Complete implements Client.
func (o *OpenAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.Complete")
	defer span.End()

	chatReq := o.buildRequest(req)
	span.SetAttributes(
		attribute.String("llm.backend", o.name),
		attribute.String("llm.model", chatReq.Model),
		attribute.Int("llm.tools", len(chatReq.Tools)),
		attribute.Int("llm.messages", len(chatReq.Messages)),
	)

	start := time.Now()
	resp, err := o.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "chat completion failed")
		slog.Error("OpenAI API call failed", "backend", o.name, "model", chatReq.Model, "error", err)
		return nil, fmt.Errorf("%s chat completion: %w", o.name, err)
	}
	if len(resp.Choices) == 0 {
		span.SetStatus(codes.Error, "no choices")
		return nil, ErrNoChoices
	}

	choice := resp.Choices[0]
	out := &Response{
		Content:      choice.Message.Content,
		StopReason:   string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		Duration:     time.Since(start),
		Model:        resp.Model,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	span.SetAttributes(
		attribute.Int("llm.tool_calls", len(out.ToolCalls)),
		attribute.Int("llm.output_tokens", out.OutputTokens),
	)
	slog.Debug("Received response from OpenAI-compatible backend",
		"backend", o.name,
		"finish_reason", out.StopReason,
		"tool_calls", len(out.ToolCalls),
	)
	return out, nil
}

// buildRequest converts a Request into the go-openai wire type.
func (o *OpenAIClient) buildRequest(req *Request) openai.ChatCompletionRequest {
	model := o.model
	if req.ModelOverride != "" {
		model = req.ModelOverride
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:       string(m.Role),
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		messages = append(messages, msg)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	}
	if req.Temperature != nil {
		chatReq.Temperature = *req.Temperature
	}
	if req.MaxTokens > 0 {
		if o.local {
			chatReq.MaxTokens = req.MaxTokens
		} else {
			chatReq.MaxCompletionTokens = req.MaxTokens
		}
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	if len(req.Tools) > 0 {
		for _, def := range req.Tools {
			chatReq.Tools = append(chatReq.Tools, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        def.Name,
					Description: def.Description,
					Parameters:  def.Parameters,
				},
			})
		}
		choice := req.ToolChoice
		if choice == "" {
			choice = ToolChoiceAuto
		}
		chatReq.ToolChoice = string(choice)
	}
	return chatReq
}
