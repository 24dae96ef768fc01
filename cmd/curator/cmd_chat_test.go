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
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/handlers"
)

// mockInputReader returns inputs in order, then io.EOF. onRead runs before
// each line is returned.
type mockInputReader struct {
	inputs []string
	index  int
	onRead func(line string)
}

func (m *mockInputReader) ReadLine() (string, error) {
	if m.index >= len(m.inputs) {
		return "", io.EOF
	}
	line := m.inputs[m.index]
	m.index++
	if m.onRead != nil {
		m.onRead(line)
	}
	return line, nil
}

func runChat(t *testing.T, ctx context.Context, resume string, input InputReader) (*ChatRunner, string) {
	t.Helper()
	client := newTestClient(t, newTestServer(t), testToken)
	conn, err := client.DialChat(ctx, resume)
	require.NoError(t, err)

	var out bytes.Buffer
	runner := NewChatRunner(conn, input, &out)
	t.Cleanup(func() { _ = runner.Close() })
	require.NoError(t, runner.Run(ctx))
	return runner, out.String()
}

func TestChatRunner_Conversation(t *testing.T) {
	input := &mockInputReader{inputs: []string{"", "how many videos?", "who won the election?", "exit", "never sent"}}

	runner, out := runChat(t, context.Background(), "", input)

	assert.NotEmpty(t, runner.SessionID())
	assert.Contains(t, out, "session "+runner.SessionID())
	assert.Contains(t, out, "echo: how many videos?")
	assert.Contains(t, out, "I can't help with that.")
	assert.NotContains(t, out, "never sent")
	assert.Equal(t, 4, input.index, "exit stops reading")
}

func TestChatRunner_ResumesSession(t *testing.T) {
	runner, _ := runChat(t, context.Background(), "my-session", &mockInputReader{})
	assert.Equal(t, "my-session", runner.SessionID())
}

func TestChatRunner_ShowsRejectedMessages(t *testing.T) {
	input := &mockInputReader{inputs: []string{strings.Repeat("x", datatypes.MaxMessageContentBytes+1), "still here"}}

	_, out := runChat(t, context.Background(), "", input)

	assert.Contains(t, out, "message is required and must be at most 8KB")
	assert.Contains(t, out, "echo: still here")
}

func TestChatRunner_CancelEndsCleanly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	input := &mockInputReader{
		inputs: []string{"first", "second"},
		onRead: func(string) {
			cancel()
			time.Sleep(10 * time.Millisecond)
		},
	}

	_, out := runChat(t, ctx, "", input)
	assert.NotContains(t, out, "echo: second")
}

func TestChatRunner_Render(t *testing.T) {
	var out bytes.Buffer
	r := &ChatRunner{out: &out}

	r.render(handlers.WSResponse{Action: handlers.ActionAnswer, Answer: "hello", Outcome: datatypes.OutcomeAnswered})
	r.render(handlers.WSResponse{Action: handlers.ActionError, Error: "bad"})
	r.render(handlers.WSResponse{Action: "ping"})

	assert.Equal(t, "hello\nbad\nignored frame ping\n", out.String())
}

func TestIsExitCommand(t *testing.T) {
	assert.True(t, isExitCommand("exit"))
	assert.True(t, isExitCommand("QUIT"))
	assert.False(t, isExitCommand("exit now"))
	assert.False(t, isExitCommand("hello"))
}

func TestPrintHistory(t *testing.T) {
	history, err := newTestClient(t, newTestServer(t), testToken).History(context.Background(), "s1")
	require.NoError(t, err)

	var out bytes.Buffer
	printHistory(&out, history)

	text := out.String()
	assert.Contains(t, text, "Session s1")
	assert.Contains(t, text, "#1 answered, 1 hour ago, 2 model calls, tools: get_statistics")
	assert.Contains(t, text, "> how many videos?")
	assert.Contains(t, text, "You have watched 1,234 videos.")

	out.Reset()
	printHistory(&out, &handlers.SessionHistory{SessionID: "empty"})
	assert.Equal(t, "no turns recorded for session empty\n", out.String())
}
