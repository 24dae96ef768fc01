// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package guardrail is the deterministic content filter applied to user text
// before inference and to the final answer before it is returned.
//
// A Filter is built once from a Lexicon and never changes afterwards. Check
// is a pure function of its inputs: the same text yields the same verdict in
// both directions.
package guardrail

import (
	"fmt"
	"os"
	"regexp"

	"github.com/AleutianAI/AleutianCurator/services/guardrail/lexicon"
)

// Filter holds the compiled, read-only guardrail rules.
//
// Thread Safety: Filter is immutable after construction and safe for
// concurrent use.
type Filter struct {
	disclosure []rule
	topics     []rule
	refusals   Refusals
	topicNames []string
}

// NewFilter compiles a lexicon into a Filter.
//
// The lexicon is copied, so later changes to the caller's value have no effect.
func NewFilter(lex Lexicon) (*Filter, error) {
	if err := lex.validate(); err != nil {
		return nil, err
	}
	lex = lex.clone()

	f := &Filter{refusals: lex.Refusals}
	for _, p := range lex.DisclosurePatterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			return nil, fmt.Errorf("failed to compile the regex %s: %w", p.ID, err)
		}
		f.disclosure = append(f.disclosure, rule{id: p.ID, re: re})
	}
	for _, t := range lex.RestrictedTopics {
		r, err := compileTopic(t)
		if err != nil {
			return nil, err
		}
		f.topics = append(f.topics, r)
		f.topicNames = append(f.topicNames, t.Name)
	}
	return f, nil
}

// DefaultLexicon parses the lexicon embedded in the binary.
func DefaultLexicon() (Lexicon, error) {
	return ParseLexicon(lexicon.DefaultLexicon)
}

// LoadLexicon reads a lexicon from path, or the embedded default when path is empty.
func LoadLexicon(path string) (Lexicon, error) {
	if path == "" {
		return DefaultLexicon()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Lexicon{}, fmt.Errorf("read lexicon %s: %w", path, err)
	}
	return ParseLexicon(data)
}

// NewDefaultFilter builds a Filter from the embedded lexicon.
func NewDefaultFilter() (*Filter, error) {
	lex, err := DefaultLexicon()
	if err != nil {
		return nil, err
	}
	return NewFilter(lex)
}

// Check runs the disclosure scan, then the restricted-topic scan, and stops
// at the first match.
//
// # Inputs
//
//   - text: Free text from the user or the model.
//   - dir: Which side the text comes from. Recorded in the verdict; the
//     rules are identical for both sides.
//
// # Outputs
//
//   - Verdict: Allowed, or blocked with the fixed refusal of the category.
func (f *Filter) Check(text string, dir Direction) Verdict {
	for _, r := range f.disclosure {
		if r.re.MatchString(text) {
			return Verdict{
				Refusal:   f.refusals.PromptDisclosure,
				Category:  CategoryPromptDisclosure,
				RuleID:    r.id,
				Direction: dir,
			}
		}
	}
	for _, r := range f.topics {
		if r.re.MatchString(text) {
			return Verdict{
				Refusal:   f.refusals.TopicRestriction,
				Category:  CategoryTopicRestriction,
				RuleID:    r.id,
				Direction: dir,
			}
		}
	}
	return Verdict{Allowed: true, Category: CategoryNone, Direction: dir}
}

// RestrictedTopics returns the names of the restricted topics, for the
// policy notice in the prompt.
func (f *Filter) RestrictedTopics() []string {
	return append([]string(nil), f.topicNames...)
}

// Refusal returns the fixed refusal text of a category.
func (f *Filter) Refusal(c Category) string {
	switch c {
	case CategoryPromptDisclosure:
		return f.refusals.PromptDisclosure
	case CategoryTopicRestriction:
		return f.refusals.TopicRestriction
	default:
		return ""
	}
}
