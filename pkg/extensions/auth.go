// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when authentication or authorization fails.
// Callers wrap it with context:
//
//	return fmt.Errorf("user %s may not read patient lists: %w", user, extensions.ErrUnauthorized)
var ErrUnauthorized = errors.New("unauthorized")

// Role names granted to explore users.
const (
	// RolePatientList allows retrieving patient lists of saved cohorts.
	RolePatientList = "patient_list"

	// RoleCountPerSite allows per-node counts in explore queries.
	RoleCountPerSite = "count_per_site"
)

// AuthInfo contains identity information for the current session.
//
// Required fields (always populated):
//   - UserID: Unique identifier (username) of the user
//
// Optional fields (may be empty):
//   - Email: User's email address
//   - Roles: Roles granted to the user, e.g. "patient_list"
//
// Example:
//
//	info := &AuthInfo{
//	    UserID: "test",
//	    Roles:  []string{RolePatientList},
//	}
type AuthInfo struct {
	// UserID is the unique identifier for the authenticated user.
	// This is the only required field and must never be empty.
	UserID string

	// Email is the user's email address.
	Email string

	// Roles contains the user's role memberships for authorization decisions.
	Roles []string
}

// Username returns the user identifier.
func (a *AuthInfo) Username() string {
	if a == nil {
		return ""
	}
	return a.UserID
}

// HasRole checks if the user has a specific role.
//
//	if !authInfo.HasRole(RolePatientList) {
//	    return ErrUnauthorized
//	}
func (a *AuthInfo) HasRole(role string) bool {
	if a == nil {
		return false
	}
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates authentication tokens and returns user identity.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type AuthProvider interface {
	// Validate checks if the token is valid and returns the user's identity.
	//
	// Returns ErrUnauthorized (or wrapped) if the token is invalid.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// StaticTokenProvider authenticates a single configured user by a shared
// bearer token.
//
// # Description
//
// This is the provider used by a local explore session: the token and the
// user's roles come from the configuration file. Comparison is constant
// time. An empty configured token rejects every request.
//
// Thread-safe: This implementation has no mutable state.
type StaticTokenProvider struct {
	token string
	info  AuthInfo
}

// NewStaticTokenProvider returns a provider accepting token for info.
func NewStaticTokenProvider(token string, info AuthInfo) *StaticTokenProvider {
	return &StaticTokenProvider{token: token, info: info}
}

// Validate returns a copy of the configured identity if token matches.
func (p *StaticTokenProvider) Validate(_ context.Context, token string) (*AuthInfo, error) {
	if p.token == "" || token == "" {
		return nil, fmt.Errorf("missing token: %w", ErrUnauthorized)
	}
	if subtle.ConstantTimeCompare([]byte(p.token), []byte(token)) != 1 {
		return nil, fmt.Errorf("token mismatch: %w", ErrUnauthorized)
	}
	info := p.info
	info.Roles = append([]string(nil), p.info.Roles...)
	return &info, nil
}

// Token returns the configured bearer token, used by clients of the same
// session to authenticate against nodes.
func (p *StaticTokenProvider) Token() string {
	return p.token
}

var _ AuthProvider = (*StaticTokenProvider)(nil)
