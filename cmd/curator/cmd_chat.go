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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/handlers"
)

// maxInputHistory is the number of lines kept for up-arrow recall.
const maxInputHistory = 50

var (
	resumeSession string
	askSession    string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk about your watch history",
	Long: `Start an interactive conversation with the curator.

Type "exit" or "quit", or press Ctrl+D, to leave. The session id is printed
when the conversation starts; pass it to --resume to continue later.`,
	Args: cobra.NoArgs,
	RunE: runChatCommand,
}

var askCmd = &cobra.Command{
	Use:   "ask QUESTION",
	Short: "Ask a single question and print the answer",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAskCommand,
}

var historyCmd = &cobra.Command{
	Use:   "history SESSION_ID",
	Short: "Show the recorded turns of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryCommand,
}

func init() {
	chatCmd.Flags().StringVar(&resumeSession, "resume", "", "continue an existing session")
	askCmd.Flags().StringVar(&askSession, "session", "", "ask within an existing session")
}

// =============================================================================
// chat
// =============================================================================

func runChatCommand(cmd *cobra.Command, _ []string) error {
	client, err := newClientFromFlags()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := client.DialChat(ctx, resumeSession)
	if err != nil {
		return err
	}

	runner := NewChatRunner(conn, NewInteractiveInputReader(maxInputHistory), cmd.OutOrStdout())
	defer runner.Close()
	return runner.Run(ctx)
}

// ChatRunner drives one websocket conversation from an InputReader.
//
// # Description
//
// The runner waits for the session_created frame, then alternates between
// reading a line and exchanging one request and one answer frame. Error
// frames for rejected messages are shown and the loop continues.
//
// # Thread Safety
//
// Run must be called once. Close may be called from any goroutine.
type ChatRunner struct {
	conn      *websocket.Conn
	input     InputReader
	out       io.Writer
	sessionID string
}

// NewChatRunner creates a ChatRunner over an open websocket.
func NewChatRunner(conn *websocket.Conn, input InputReader, out io.Writer) *ChatRunner {
	return &ChatRunner{conn: conn, input: input, out: out}
}

// SessionID returns the session announced by the service.
func (r *ChatRunner) SessionID() string {
	return r.sessionID
}

// Run converses until input ends, the user exits or ctx is cancelled.
func (r *ChatRunner) Run(ctx context.Context) error {
	stopWatch := context.AfterFunc(ctx, func() { _ = r.conn.Close() })
	defer stopWatch()

	var hello handlers.WSResponse
	if err := r.conn.ReadJSON(&hello); err != nil {
		return r.connError(ctx, err)
	}
	if hello.Action != handlers.ActionSessionCreated {
		return fmt.Errorf("unexpected first frame %q", hello.Action)
	}
	r.sessionID = hello.SessionID
	fmt.Fprintln(r.out, styles.Title.Render("Curator")+" "+styles.Muted.Render("session "+r.sessionID))
	fmt.Fprintln(r.out, styles.Muted.Render(`Ask about your watch history. Type "exit" to leave.`))

	prompt := styles.Prompt.Render("> ")
	if p, ok := r.input.(PromptingInputReader); ok {
		p.SetPrompt(prompt)
	}

	for {
		if _, ok := r.input.(PromptingInputReader); !ok {
			fmt.Fprint(r.out, prompt)
		}
		line, err := r.input.ReadLine()
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(r.out)
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if line == "" {
			continue
		}
		if isExitCommand(line) {
			return nil
		}

		if err := r.conn.WriteJSON(handlers.WSRequest{Message: line}); err != nil {
			return r.connError(ctx, err)
		}
		var resp handlers.WSResponse
		if err := r.conn.ReadJSON(&resp); err != nil {
			return r.connError(ctx, err)
		}
		r.render(resp)
	}
}

func (r *ChatRunner) render(resp handlers.WSResponse) {
	switch resp.Action {
	case handlers.ActionError:
		fmt.Fprintln(r.out, styles.Error.Render(resp.Error))
	case handlers.ActionAnswer:
		fmt.Fprintln(r.out, styles.forOutcome(resp.Outcome).Render(resp.Answer))
	default:
		fmt.Fprintln(r.out, styles.Muted.Render("ignored frame "+resp.Action))
	}
}

// connError maps a connection failure after cancellation to a clean exit.
func (r *ChatRunner) connError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("chat connection: %w", err)
}

// Close says goodbye to the service and closes the connection.
func (r *ChatRunner) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = r.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return r.conn.Close()
}

func isExitCommand(input string) bool {
	switch strings.ToLower(input) {
	case "exit", "quit":
		return true
	}
	return false
}

// =============================================================================
// ask
// =============================================================================

func runAskCommand(cmd *cobra.Command, args []string) error {
	client, err := newClientFromFlags()
	if err != nil {
		return err
	}
	resp, err := client.Ask(cmd.Context(), askSession, strings.Join(args, " "))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, styles.forOutcome(resp.Outcome).Render(resp.Answer))
	fmt.Fprintln(cmd.ErrOrStderr(), styles.Muted.Render("session "+resp.SessionID))
	return nil
}

// =============================================================================
// history
// =============================================================================

func runHistoryCommand(cmd *cobra.Command, args []string) error {
	client, err := newClientFromFlags()
	if err != nil {
		return err
	}
	history, err := client.History(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	printHistory(cmd.OutOrStdout(), history)
	return nil
}

func printHistory(out io.Writer, history *handlers.SessionHistory) {
	if len(history.Turns) == 0 {
		fmt.Fprintln(out, styles.Muted.Render("no turns recorded for session "+history.SessionID))
		return
	}

	fmt.Fprintln(out, styles.Title.Render("Session "+history.SessionID))
	for _, turn := range history.Turns {
		header := fmt.Sprintf("#%d %s, %s, %d model calls",
			turn.Sequence, turn.Outcome, humanize.Time(turn.StartedAt), turn.ModelCalls)
		if len(turn.ToolCalls) > 0 {
			names := make([]string, 0, len(turn.ToolCalls))
			for _, call := range turn.ToolCalls {
				names = append(names, call.Name)
			}
			header += ", tools: " + strings.Join(names, " ")
		}
		if eval := turn.Evaluation; eval != nil && !eval.Failed {
			for _, s := range eval.Failing() {
				header += fmt.Sprintf(", %s %.2f", s.Metric, s.Score)
			}
		}
		if turn.Enhanced {
			header += ", enhanced"
		}

		fmt.Fprintln(out)
		fmt.Fprintln(out, styles.Muted.Render(header))
		fmt.Fprintln(out, styles.Prompt.Render("> ")+turn.UserText)
		fmt.Fprintln(out, styles.forOutcome(turn.Outcome).Render(turn.Answer))
	}
}
