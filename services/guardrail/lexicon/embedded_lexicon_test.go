// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lexicon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultLexiconIsEmbedded(t *testing.T) {
	assert.NotEmpty(t, DefaultLexicon)
	assert.Contains(t, string(DefaultLexicon), "restricted_topics:")
	assert.Contains(t, string(DefaultLexicon), "disclosure_patterns:")
}
