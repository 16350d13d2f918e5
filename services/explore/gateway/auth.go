// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gateway

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lca1/glowing-bear/pkg/extensions"
)

// authInfoKey is the gin context key for the authenticated session.
const authInfoKey = "glowingbear_auth_info"

// SetAuthInfo stores the authenticated user in the gin context.
func SetAuthInfo(c *gin.Context, info *extensions.AuthInfo) {
	c.Set(authInfoKey, info)
}

// GetAuthInfo returns the authenticated user, or nil if the request went
// through no AuthMiddleware.
func GetAuthInfo(c *gin.Context) *extensions.AuthInfo {
	if info, exists := c.Get(authInfoKey); exists {
		if authInfo, ok := info.(*extensions.AuthInfo); ok {
			return authInfo
		}
	}
	return nil
}

// AuthMiddleware authenticates requests with a bearer token.
//
// # Description
//
// The token is taken from "Authorization: Bearer <token>". Routes listed
// in queryTokenRoutes (gin route patterns, such as websocket upgrades
// where browsers cannot set headers) may pass it in the access_token
// query parameter instead. The provider's AuthInfo is stored for
// handlers; a rejected token aborts with 401.
//
// # Thread Safety
//
// The returned middleware can be used concurrently.
func AuthMiddleware(provider extensions.AuthProvider, queryTokenRoutes ...string) gin.HandlerFunc {
	allowQuery := make(map[string]bool, len(queryTokenRoutes))
	for _, r := range queryTokenRoutes {
		allowQuery[r] = true
	}
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" && allowQuery[c.FullPath()] {
			token = c.Query("access_token")
		}

		authInfo, err := provider.Validate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, extensions.ErrUnauthorized) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication failed"})
			return
		}

		SetAuthInfo(c, authInfo)
		c.Next()
	}
}

// extractBearerToken returns the bearer token of the Authorization header,
// or "" when it is missing or uses another scheme. The scheme name is
// case-insensitive.
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
