// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tools

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newEchoTool returns a tool that echoes its name.
func newEchoTool(name Name, category Category, priority int) *FuncTool {
	return NewFuncTool(Definition{
		Name:        name,
		Description: fmt.Sprintf("Echo tool %s", name),
		Category:    category,
		Priority:    priority,
		Parameters: map[string]ParamDef{
			"query": {Type: ParamTypeString, Description: "What to echo", Required: true},
			"limit": {Type: ParamTypeInt, Description: "Max items", Default: 10.0},
		},
	}, func(ctx context.Context, args Args) Output {
		return Text(fmt.Sprintf("%s:%s", name, args.String("query")))
	})
}

func TestRegistry_Register(t *testing.T) {
	t.Run("register and get", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(newEchoTool(SearchVideosByTopic, CategorySemantic, 0)))

		got, ok := r.Get(SearchVideosByTopic)
		require.True(t, ok)
		assert.Equal(t, SearchVideosByTopic, got.Definition().Name)
		assert.Equal(t, 1, r.Count())
	})

	t.Run("nil tool rejected", func(t *testing.T) {
		r := NewRegistry()
		assert.ErrorIs(t, r.Register(nil), ErrInvalidTool)
		assert.Equal(t, 0, r.Count())
	})

	t.Run("duplicate rejected", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(newEchoTool(GetStatistics, CategoryRecord, 0)))
		err := r.Register(newEchoTool(GetStatistics, CategoryRecord, 0))
		assert.ErrorIs(t, err, ErrDuplicateTool)
		assert.Equal(t, 1, r.Count())
	})

	t.Run("must register panics on duplicate", func(t *testing.T) {
		r := NewRegistry().MustRegister(newEchoTool(GetStatistics, CategoryRecord, 0))
		assert.Panics(t, func() { r.MustRegister(newEchoTool(GetStatistics, CategoryRecord, 0)) })
	})
}

func TestRegistry_DefinitionsOrdered(t *testing.T) {
	r := NewRegistry().MustRegister(
		newEchoTool(GetStatistics, CategoryRecord, 1),
		newEchoTool(SearchVideosByTopic, CategorySemantic, 5),
		newEchoTool(FindSimilarVideos, CategorySemantic, 5),
	)

	defs := r.GetDefinitions()
	require.Len(t, defs, 3)
	assert.Equal(t, FindSimilarVideos, defs[0].Name)
	assert.Equal(t, SearchVideosByTopic, defs[1].Name)
	assert.Equal(t, GetStatistics, defs[2].Name)

	assert.Len(t, r.GetByCategory(CategorySemantic), 2)
	assert.Empty(t, r.GetByCategory(CategoryAggregation))
	assert.Equal(t, []Name{FindSimilarVideos, GetStatistics, SearchVideosByTopic}, r.Names())
}

func TestRegistry_Schemas(t *testing.T) {
	r := NewRegistry().MustRegister(newEchoTool(SearchVideosByTopic, CategorySemantic, 0))

	schemas := r.Schemas()
	require.Len(t, schemas, 1)
	s := schemas[0]
	assert.Equal(t, "search_videos_by_topic", s.Name)
	assert.Equal(t, "object", s.Parameters["type"])
	assert.Equal(t, []string{"query"}, s.Parameters["required"])

	props := s.Parameters["properties"].(map[string]any)
	limit := props["limit"].(map[string]any)
	assert.Equal(t, "integer", limit["type"])
	assert.Equal(t, 10.0, limit["default"])
}

func TestRegistry_Catalog(t *testing.T) {
	r := NewRegistry().MustRegister(newEchoTool(SearchVideosByTopic, CategorySemantic, 0))
	assert.Equal(t, "- search_videos_by_topic(query, limit?): Echo tool search_videos_by_topic", r.Catalog())
}

func TestRegistry_ConcurrentReads(t *testing.T) {
	r := NewRegistry().MustRegister(
		newEchoTool(GetStatistics, CategoryRecord, 0),
		newEchoTool(SearchVideosByTopic, CategorySemantic, 0),
	)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = r.Get(GetStatistics)
			_ = r.GetDefinitions()
			_ = r.Catalog()
		}()
	}
	wg.Wait()
}
