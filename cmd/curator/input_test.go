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
	"io"
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/datatypes"
)

func TestStdinReader(t *testing.T) {
	r := NewStdinReader(strings.NewReader("one\n  two  \nthree"))

	for _, want := range []string{"one", "two", "three"} {
		line, err := r.ReadLine()
		require.NoError(t, err)
		assert.Equal(t, want, line)
	}
	_, err := r.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
}

func TestInteractiveInputReader_AddToHistory(t *testing.T) {
	r := &InteractiveInputReader{maxHistory: 2}

	r.addToHistory("a")
	r.addToHistory("a")
	assert.Equal(t, []string{"a"}, r.history, "repeats of the latest entry are dropped")

	r.addToHistory("b")
	r.addToHistory("c")
	assert.Equal(t, []string{"b", "c"}, r.history)
}

func press(m inputModel, key tea.KeyType) (inputModel, tea.Cmd) {
	next, cmd := m.Update(tea.KeyMsg{Type: key})
	return next.(inputModel), cmd
}

func TestInputModel_HistoryNavigation(t *testing.T) {
	ti := textinput.New()
	ti.Focus()
	ti.SetValue("draft")
	m := newInputModel(ti, []string{"first", "second"})

	m, _ = press(m, tea.KeyUp)
	assert.Equal(t, "second", m.textInput.Value())
	m, _ = press(m, tea.KeyUp)
	assert.Equal(t, "first", m.textInput.Value())
	m, _ = press(m, tea.KeyUp)
	assert.Equal(t, "first", m.textInput.Value(), "stays on the oldest entry")

	m, _ = press(m, tea.KeyDown)
	assert.Equal(t, "second", m.textInput.Value())
	m, _ = press(m, tea.KeyDown)
	assert.Equal(t, "draft", m.textInput.Value(), "walking past the newest entry restores the draft")
	assert.Equal(t, -1, m.historyIndex)

	m, _ = press(m, tea.KeyDown)
	assert.Equal(t, "draft", m.textInput.Value())
}

func TestInputModel_NoHistory(t *testing.T) {
	m := newInputModel(textinput.New(), nil)
	m, cmd := press(m, tea.KeyUp)
	assert.Nil(t, cmd)
	assert.Equal(t, -1, m.historyIndex)
}

func TestInputModel_Keys(t *testing.T) {
	withValue := func(v string) inputModel {
		ti := textinput.New()
		ti.CharLimit = datatypes.MaxMessageContentBytes
		ti.Focus()
		ti.SetValue(v)
		return newInputModel(ti, nil)
	}

	t.Run("enter submits", func(t *testing.T) {
		m, cmd := press(withValue("hello"), tea.KeyEnter)
		assert.True(t, m.done)
		assert.NotNil(t, cmd)
		assert.Equal(t, "hello", m.textInput.Value())
		assert.Empty(t, m.View())
	})

	t.Run("ctrl+c clears", func(t *testing.T) {
		m, _ := press(withValue("hello"), tea.KeyCtrlC)
		assert.True(t, m.done)
		assert.False(t, m.cancelled)
		assert.Empty(t, m.textInput.Value())
	})

	t.Run("ctrl+d on empty line ends input", func(t *testing.T) {
		m, cmd := press(withValue(""), tea.KeyCtrlD)
		assert.True(t, m.cancelled)
		assert.NotNil(t, cmd)
	})

	t.Run("ctrl+d with text is ignored", func(t *testing.T) {
		m, cmd := press(withValue("keep"), tea.KeyCtrlD)
		assert.False(t, m.cancelled)
		assert.False(t, m.done)
		assert.Nil(t, cmd)
		assert.Equal(t, "keep", m.textInput.Value())
	})
}
