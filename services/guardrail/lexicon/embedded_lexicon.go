// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lexicon embeds the default guardrail lexicon into the binary.
package lexicon

import (
	_ "embed"
)

// DefaultLexicon holds the raw bytes of default_lexicon.yaml.
//
// Baked in at compile time so the default rules travel with the executable
// and cannot drift from the code that compiles them.
//
//go:embed default_lexicon.yaml
var DefaultLexicon []byte
