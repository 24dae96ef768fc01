// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/handlers"
)

// requestTimeout bounds a single HTTP turn. Turns can include several model
// calls and tool dispatch rounds.
const requestTimeout = 5 * time.Minute

// maxErrorBody caps how much of a failed response is read.
const maxErrorBody = 4096

// APIError is a non-2xx response from the curator service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("curator service returned %d", e.Status)
	}
	return fmt.Sprintf("curator service returned %d: %s", e.Status, e.Message)
}

// Client talks to a running curator service.
//
// # Description
//
// Client wraps the /v1 surface: single turns over POST /v1/chat, session
// history and the chat websocket. When CURATOR_API_TOKEN is set every
// request carries it as a bearer token.
//
// # Thread Safety
//
// Safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// NewClient creates a Client for the service at baseURL.
//
// # Inputs
//
//   - baseURL: Service root such as "http://localhost:12220".
//   - token: Bearer token; empty sends none.
//
// # Outputs
//
//   - *Client: Ready to use.
//   - error: Non-nil if baseURL is not an http or https URL.
func NewClient(baseURL, token string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}
	return &Client{
		baseURL: u,
		token:   token,
		httpClient: &http.Client{
			Timeout:   requestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}, nil
}

// Ask runs one turn. An empty sessionID starts a new session; the
// response carries the assigned id.
func (c *Client) Ask(ctx context.Context, sessionID, message string) (*datatypes.ChatResponse, error) {
	body, err := json.Marshal(datatypes.ChatRequest{SessionID: sessionID, Message: message})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	var resp datatypes.ChatResponse
	if err := c.do(ctx, http.MethodPost, "/v1/chat", bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History returns the audited turns of a session, oldest first.
func (c *Client) History(ctx context.Context, sessionID string) (*handlers.SessionHistory, error) {
	var history handlers.SessionHistory
	path := "/v1/sessions/" + url.PathEscape(sessionID) + "/history"
	if err := c.do(ctx, http.MethodGet, path, nil, &history); err != nil {
		return nil, err
	}
	return &history, nil
}

// DialChat opens the chat websocket. A non-empty sessionID resumes that
// session.
func (c *Client) DialChat(ctx context.Context, sessionID string) (*websocket.Conn, error) {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/chat/ws"
	if sessionID != "" {
		u.RawQuery = url.Values{"session_id": {sessionID}}.Encode()
	}

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), c.headers())
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, fmt.Errorf("connect to %s: %w", u.Host, err)
	}
	return conn, nil
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	if c.token != "" {
		h.Set("Authorization", "Bearer "+c.token)
	}
	return h
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range c.headers() {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// decodeError reads the {"error": "..."} body the service sends with
// failures. A 503 from /v1/chat carries a ChatResponse instead, whose
// answer explains the failure.
func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Error  string `json:"error"`
		Answer string `json:"answer"`
	}
	msg := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &payload) == nil {
		switch {
		case payload.Error != "":
			msg = payload.Error
		case payload.Answer != "":
			msg = payload.Answer
		}
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}

// newClientFromFlags builds the client for the --server flag and the
// CURATOR_API_TOKEN environment variable.
func newClientFromFlags() (*Client, error) {
	return NewClient(serverURL, strings.TrimSpace(os.Getenv(orchestrator.EnvAPIToken)))
}
