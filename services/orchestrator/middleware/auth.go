// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the curator service.
//
// # Authentication Flow
//
// The token middleware extracts a bearer token from the Authorization
// header and compares it, in constant time, with the service token sealed
// in a memguard enclave. The enclave is opened only for the comparison.
//
//	Request
//	   │
//	   ▼
//	TokenAuth
//	   │
//	   ├─► Extract token from "Authorization: Bearer <token>"
//	   │
//	   ├─► Open enclave, compare, destroy buffer
//	   │
//	   └─► Mark request authenticated
//	           │
//	           ▼
//	       Handler (checks via IsAuthenticated)
//
// # Open Source Behavior
//
// Without a configured token every request is accepted, which keeps the
// local CLI usable without any setup.
package middleware

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/gin-gonic/gin"
)

// authenticatedKey marks a request that passed TokenAuth.
const authenticatedKey = "curator_authenticated"

// IsAuthenticated reports whether TokenAuth accepted the request. It is
// false for requests that never went through the middleware.
func IsAuthenticated(c *gin.Context) bool {
	return c.GetBool(authenticatedKey)
}

// TokenAuth creates a Gin middleware that requires a bearer token.
//
// # Description
//
// A nil token disables the check and every request passes. Otherwise the
// request must carry "Authorization: Bearer <token>" with the exact token;
// the "Bearer" scheme is case-insensitive per RFC 7235.
//
// # Inputs
//
//   - token: The sealed service token, or nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Aborts with 401 {"error": "unauthorized"} on mismatch.
//
// # Examples
//
//	v1 := router.Group("/v1")
//	v1.Use(middleware.TokenAuth(cfg.APIToken))
//
// # Thread Safety
//
// Thread-safe. The enclave is opened per request.
func TokenAuth(token *memguard.Enclave) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == nil {
			c.Set(authenticatedKey, true)
			c.Next()
			return
		}

		presented := extractBearerToken(c)
		if presented == "" || !matches(token, presented) {
			slog.Warn("Rejected unauthenticated request", "path", c.FullPath(), "token_present", presented != "")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(authenticatedKey, true)
		c.Next()
	}
}

// matches opens the enclave and compares in constant time.
func matches(token *memguard.Enclave, presented string) bool {
	buf, err := token.Open()
	if err != nil {
		slog.Error("Failed to open API token enclave", "error", err)
		return false
	}
	defer buf.Destroy()
	return subtle.ConstantTimeCompare(buf.Bytes(), []byte(presented)) == 1
}

// extractBearerToken extracts the token from the Authorization header.
//
// # Examples
//
//	"Authorization: Bearer abc123"  → "abc123"
//	"Authorization: bearer ABC123"  → "ABC123"
//	missing or "Basic ..."          → ""
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
