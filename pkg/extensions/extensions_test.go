// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lca1/glowing-bear/pkg/logging"
)

// =============================================================================
// AuthInfo Tests
// =============================================================================

func TestAuthInfo_HasRole(t *testing.T) {
	info := &AuthInfo{UserID: "test", Roles: []string{RolePatientList, "analyst"}}

	assert.True(t, info.HasRole(RolePatientList))
	assert.True(t, info.HasRole("analyst"))
	assert.False(t, info.HasRole("admin"))
	assert.Equal(t, "test", info.Username())
}

func TestAuthInfo_NilIsAnonymous(t *testing.T) {
	var info *AuthInfo

	assert.False(t, info.HasRole(RolePatientList))
	assert.Empty(t, info.Username())
}

// =============================================================================
// StaticTokenProvider Tests
// =============================================================================

func TestStaticTokenProvider_Validate(t *testing.T) {
	p := NewStaticTokenProvider("s3cret", AuthInfo{UserID: "test", Roles: []string{RolePatientList}})

	info, err := p.Validate(context.Background(), "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "test", info.UserID)
	assert.True(t, info.HasRole(RolePatientList))

	// returned roles are a copy
	info.Roles[0] = "mutated"
	again, err := p.Validate(context.Background(), "s3cret")
	require.NoError(t, err)
	assert.True(t, again.HasRole(RolePatientList))
}

func TestStaticTokenProvider_Rejects(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		given      string
	}{
		{"wrong token", "s3cret", "nope"},
		{"empty given", "s3cret", ""},
		{"nothing configured", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewStaticTokenProvider(tt.configured, AuthInfo{UserID: "test"})
			info, err := p.Validate(context.Background(), tt.given)
			assert.Nil(t, info)
			assert.True(t, errors.Is(err, ErrUnauthorized))
		})
	}
}

// =============================================================================
// Audit Tests
// =============================================================================

func TestMemoryAuditLogger_RecordsEvents(t *testing.T) {
	l := NewMemoryAuditLogger()

	require.NoError(t, l.Log(context.Background(), AuditEvent{
		EventType:  "cohort.patient_list",
		UserID:     "test",
		Action:     "read",
		ResourceID: "cohortA",
		Outcome:    "success",
	}))

	events := l.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "cohortA", events[0].ResourceID)
	assert.False(t, events[0].Timestamp.IsZero())
}

func TestLogAuditLogger_WritesEvent(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogAuditLogger(logging.New(logging.Config{Output: &buf, Format: logging.FormatJSON}))

	require.NoError(t, l.Log(context.Background(), AuditEvent{
		EventType:  "cohort.patient_list",
		UserID:     "test",
		Action:     "read",
		ResourceID: "cohortA",
		Outcome:    "denied",
		Metadata:   map[string]any{"nodes": 2},
	}))

	out := buf.String()
	assert.Contains(t, out, `"resource_id":"cohortA"`)
	assert.Contains(t, out, `"outcome":"denied"`)
	assert.Contains(t, out, `"nodes":2`)
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()
	assert.Nil(t, opts.AuthProvider)
	assert.NotNil(t, opts.AuditLogger)

	p := NewStaticTokenProvider("t", AuthInfo{UserID: "u"})
	mem := NewMemoryAuditLogger()
	opts = opts.WithAuth(p).WithAudit(mem)
	assert.Same(t, p, opts.AuthProvider)
	assert.Same(t, mem, opts.AuditLogger)
}
