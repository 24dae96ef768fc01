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
	"fmt"
	"log/slog"
	"time"
)

// BackendConfig selects and configures a model backend.
type BackendConfig struct {
	// Backend is "openai", "local" or "ollama".
	Backend string

	OpenAIModel   string
	OpenAIBaseURL string
	LocalBaseURL  string
	OllamaBaseURL string
	OllamaModel   string

	// Timeout is the HTTP client timeout; 0 leaves deadlines to the caller.
	Timeout time.Duration
}

// NewClient builds the Client for cfg.Backend.
//
// # Errors
//
//   - ErrUnknownBackend for an unsupported backend name.
//   - Key loading or construction errors from the backend.
func NewClient(cfg BackendConfig) (Client, error) {
	slog.Info("Initializing LLM client", "backend", cfg.Backend)

	switch cfg.Backend {
	case "openai":
		key, err := LoadOpenAIKey()
		if err != nil {
			return nil, err
		}
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  key,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.Timeout,
		})
	case "local":
		return NewOpenAIClient(OpenAIConfig{
			BaseURL: cfg.LocalBaseURL,
			Model:   cfg.OpenAIModel,
			Local:   true,
			Timeout: cfg.Timeout,
		})
	case "ollama":
		return NewOllamaClient(cfg.OllamaBaseURL, cfg.OllamaModel, cfg.Timeout)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
