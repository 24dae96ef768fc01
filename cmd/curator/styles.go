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
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
)

var (
	colorTeal    = lipgloss.Color("#2CD7C7")
	colorTealDim = lipgloss.Color("#1D9DA0")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorMuted   = lipgloss.Color("#5C7A84")
)

// cliStyles holds the terminal styles of the CLI.
type cliStyles struct {
	Title   lipgloss.Style
	Prompt  lipgloss.Style
	Answer  lipgloss.Style
	Refused lipgloss.Style
	Failed  lipgloss.Style
	Error   lipgloss.Style
	Muted   lipgloss.Style
}

// styles is colored only when stdout is a terminal, so piped output stays
// plain text.
var styles = newStyles(isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd()))

func newStyles(color bool) cliStyles {
	if !color {
		plain := lipgloss.NewStyle()
		return cliStyles{plain, plain, plain, plain, plain, plain, plain}
	}
	return cliStyles{
		Title:   lipgloss.NewStyle().Bold(true).Foreground(colorTeal),
		Prompt:  lipgloss.NewStyle().Bold(true).Foreground(colorTealDim),
		Answer:  lipgloss.NewStyle(),
		Refused: lipgloss.NewStyle().Foreground(colorWarning),
		Failed:  lipgloss.NewStyle().Foreground(colorError),
		Error:   lipgloss.NewStyle().Bold(true).Foreground(colorError),
		Muted:   lipgloss.NewStyle().Foreground(colorMuted),
	}
}

// forOutcome returns the style for an answer with the given turn outcome.
func (s cliStyles) forOutcome(outcome string) lipgloss.Style {
	switch outcome {
	case datatypes.OutcomeRefused:
		return s.Refused
	case datatypes.OutcomeFailed:
		return s.Failed
	default:
		return s.Answer
	}
}
