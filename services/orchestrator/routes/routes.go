// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianCurator/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianCurator/services/orchestrator/middleware"
)

// Deps are the handlers' collaborators.
//
// # Fields
//
//   - Runner: The turn pipeline. Required.
//   - History: Audit log reader. The history route is omitted when nil.
//   - Gatherer: Metrics source for /metrics. Defaults to the default registry.
//   - APIToken: When set, every /v1 route requires it as a bearer token.
type Deps struct {
	Runner   handlers.TurnRunner
	History  handlers.TurnReader
	Gatherer prometheus.Gatherer
	APIToken *memguard.Enclave
}

// SetupRoutes registers every route of the curator service.
func SetupRoutes(router *gin.Engine, deps Deps) {
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.TokenAuth(deps.APIToken))
	{
		v1.POST("/chat", handlers.HandleChat(deps.Runner))
		v1.GET("/chat/ws", handlers.HandleChatWebSocket(deps.Runner))

		if deps.History != nil {
			sessions := v1.Group("/sessions")
			{
				sessions.GET("/:sessionId/history", handlers.GetSessionHistory(deps.History))
			}
		}
	}
}
