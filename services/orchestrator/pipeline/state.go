// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"fmt"
)

// State is a stage of the turn pipeline.
type State string

const (
	StateIdle        State = "idle"
	StateInputGuard  State = "input_guard"
	StateAssemble    State = "assemble"
	StateInfer       State = "infer"
	StateDispatch    State = "dispatch"
	StateReinfer     State = "reinfer"
	StateEvaluate    State = "evaluate"
	StateDecide      State = "decide"
	StateEnhance     State = "enhance"
	StateOutputGuard State = "output_guard"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// transitions is the turn graph:
//
//	IDLE → INPUT_GUARD
//	INPUT_GUARD → ASSEMBLE       : text allowed
//	INPUT_GUARD → DONE           : refused, model never called
//	ASSEMBLE → INFER
//	INFER → DISPATCH             : tool calls requested
//	INFER → EVALUATE             : direct answer
//	DISPATCH → REINFER
//	REINFER → DISPATCH           : more tool calls, within the round bound
//	REINFER → EVALUATE           : answer produced
//	REINFER → OUTPUT_GUARD       : inference failed, apology skips evaluation
//	EVALUATE → DECIDE
//	DECIDE → ENHANCE             : some score below threshold
//	DECIDE → OUTPUT_GUARD
//	ENHANCE → OUTPUT_GUARD
//	OUTPUT_GUARD → DONE
//	INFER → FAILED               : first inference failed
//	REINFER → FAILED             : round bound exceeded
var transitions = map[State][]State{
	StateIdle:        {StateInputGuard},
	StateInputGuard:  {StateAssemble, StateDone},
	StateAssemble:    {StateInfer},
	StateInfer:       {StateDispatch, StateEvaluate, StateFailed},
	StateDispatch:    {StateReinfer},
	StateReinfer:     {StateDispatch, StateEvaluate, StateOutputGuard, StateFailed},
	StateEvaluate:    {StateDecide},
	StateDecide:      {StateEnhance, StateOutputGuard},
	StateEnhance:     {StateOutputGuard},
	StateOutputGuard: {StateDone},
}

// CanTransition reports whether the pipeline may move from one state to
// another.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s ends a turn.
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// trail records the states a turn passed through.
type trail struct {
	states []State
}

func newTrail() *trail {
	return &trail{states: []State{StateIdle}}
}

func (t *trail) current() State {
	return t.states[len(t.states)-1]
}

// to moves to next. An edge outside the graph is a programming error.
func (t *trail) to(next State) {
	if !CanTransition(t.current(), next) {
		panic(fmt.Sprintf("pipeline: invalid transition %s → %s", t.current(), next))
	}
	t.states = append(t.states, next)
}

func (t *trail) snapshot() []State {
	return append([]State(nil), t.states...)
}
