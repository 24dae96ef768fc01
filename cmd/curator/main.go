// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command curator runs the watch-history curator service and talks to it.
//
//	curator serve                 # start the HTTP and websocket service
//	curator chat [--resume ID]    # interactive conversation
//	curator ask "question"        # one turn, printed and exited
//	curator history SESSION_ID    # audited turns of a session
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCurator/pkg/logging"
)

const (
	// EnvServerURL overrides the default --server value.
	EnvServerURL = "CURATOR_URL"

	defaultServerURL = "http://localhost:12220"
)

var (
	serverURL string
	logLevel  string
	logDir    string
	logJSON   bool

	// logger is created in PersistentPreRunE and closed after Execute.
	logger *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:           "curator",
	Short:         "Conversational curator for your video watch history",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		logger = logging.New(logging.Config{
			Level:   level,
			Service: "curator",
			JSON:    logJSON,
			LogDir:  logDir,
		})
		slog.SetDefault(logger.Slog())
		return nil
	},
}

func init() {
	defaultURL := defaultServerURL
	if v := os.Getenv(EnvServerURL); v != "" {
		defaultURL = v
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultURL, "curator service base URL (env "+EnvServerURL+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", os.Getenv("LOG_LEVEL"), "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", os.Getenv("LOG_DIR"), "also write JSON logs to this directory")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "json", false, "write console logs as JSON")

	rootCmd.AddCommand(serveCmd, chatCmd, askCmd, historyCmd)
}

func main() {
	err := rootCmd.Execute()
	if logger != nil {
		_ = logger.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, styles.Error.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}
