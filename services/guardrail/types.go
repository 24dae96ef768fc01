// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package guardrail

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Direction says which side of the model the checked text comes from.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Category is the rule family that triggered a verdict.
type Category string

const (
	CategoryNone             Category = "none"
	CategoryPromptDisclosure Category = "prompt_disclosure"
	CategoryTopicRestriction Category = "topic_restriction"
)

// Verdict is the result of one check.
//
// # Fields
//
//   - Allowed: False when a rule matched.
//   - Refusal: The fixed refusal text of the category; empty when allowed.
//   - Category: The triggering category, CategoryNone when allowed.
//   - RuleID: Pattern id or topic name that matched.
//   - Direction: The side that was checked.
type Verdict struct {
	Allowed   bool      `json:"allowed"`
	Refusal   string    `json:"refusal,omitempty"`
	Category  Category  `json:"category"`
	RuleID    string    `json:"rule_id,omitempty"`
	Direction Direction `json:"direction"`
}

// =============================================================================
// Lexicon File Format
// =============================================================================

// Lexicon is the YAML form of the guardrail rules.
type Lexicon struct {
	Refusals           Refusals  `yaml:"refusals"`
	DisclosurePatterns []Pattern `yaml:"disclosure_patterns"`
	RestrictedTopics   []Topic   `yaml:"restricted_topics"`
}

// Refusals holds one fixed refusal text per category.
type Refusals struct {
	PromptDisclosure string `yaml:"prompt_disclosure"`
	TopicRestriction string `yaml:"topic_restriction"`
}

// Pattern is a prompt-disclosure regular expression.
type Pattern struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Regex       string `yaml:"regex"`
}

// Topic is a restricted subject and the terms that identify it.
type Topic struct {
	Name  string   `yaml:"name"`
	Terms []string `yaml:"terms"`
}

// ParseLexicon decodes and validates a YAML lexicon.
func ParseLexicon(data []byte) (Lexicon, error) {
	var lex Lexicon
	if err := yaml.Unmarshal(data, &lex); err != nil {
		return Lexicon{}, fmt.Errorf("failed to unmarshal the lexicon: %w", err)
	}
	if err := lex.validate(); err != nil {
		return Lexicon{}, err
	}
	return lex, nil
}

// WithTopics returns a copy of the lexicon whose restricted topics are
// replaced by topics. Used when configuration supplies its own topic list.
func (l Lexicon) WithTopics(topics []Topic) Lexicon {
	out := l.clone()
	out.RestrictedTopics = cloneTopics(topics)
	return out
}

func (l Lexicon) validate() error {
	if strings.TrimSpace(l.Refusals.PromptDisclosure) == "" {
		return fmt.Errorf("lexicon is missing the prompt_disclosure refusal")
	}
	if strings.TrimSpace(l.Refusals.TopicRestriction) == "" {
		return fmt.Errorf("lexicon is missing the topic_restriction refusal")
	}
	for _, p := range l.DisclosurePatterns {
		if p.ID == "" || p.Regex == "" {
			return fmt.Errorf("disclosure pattern needs an id and a regex: %+v", p)
		}
	}
	for _, t := range l.RestrictedTopics {
		if t.Name == "" || len(t.Terms) == 0 {
			return fmt.Errorf("restricted topic needs a name and terms: %+v", t)
		}
	}
	return nil
}

func (l Lexicon) clone() Lexicon {
	out := Lexicon{Refusals: l.Refusals}
	out.DisclosurePatterns = append([]Pattern(nil), l.DisclosurePatterns...)
	out.RestrictedTopics = cloneTopics(l.RestrictedTopics)
	return out
}

func cloneTopics(topics []Topic) []Topic {
	out := make([]Topic, len(topics))
	for i, t := range topics {
		out[i] = Topic{Name: t.Name, Terms: append([]string(nil), t.Terms...)}
	}
	return out
}

// =============================================================================
// Compiled Rules
// =============================================================================

// rule is one compiled matcher.
type rule struct {
	id string
	re *regexp.Regexp
}

// compileTopic builds a case-insensitive, word-bounded alternation of the
// topic's terms. Whitespace inside a term matches any run of whitespace.
func compileTopic(t Topic) (rule, error) {
	alts := make([]string, 0, len(t.Terms))
	for _, term := range t.Terms {
		fields := strings.Fields(strings.ToLower(term))
		if len(fields) == 0 {
			continue
		}
		for i, f := range fields {
			fields[i] = regexp.QuoteMeta(f)
		}
		alts = append(alts, strings.Join(fields, `\s+`))
	}
	if len(alts) == 0 {
		return rule{}, fmt.Errorf("topic %q has no usable terms", t.Name)
	}
	re, err := regexp.Compile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`)
	if err != nil {
		return rule{}, fmt.Errorf("failed to compile topic %q: %w", t.Name, err)
	}
	return rule{id: t.Name, re: re}, nil
}
