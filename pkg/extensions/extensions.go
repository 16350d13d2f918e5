// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extensions holds the identity and audit collaborators shared by
// the explore services.
//
// # Description
//
// Session identity (username and roles) is consumed by the cohort cache to
// gate patient-list retrieval, and by the gateway to authenticate callers.
// Audit logging records every access to patient lists.
//
// The defaults are suitable for a single local session. Deployments can
// inject their own AuthProvider and AuditLogger through ServiceOptions.
package extensions

// ServiceOptions bundles the pluggable collaborators of a service.
type ServiceOptions struct {
	// AuthProvider validates bearer tokens. Nil rejects every request.
	AuthProvider AuthProvider

	// AuditLogger records patient-list access.
	AuditLogger AuditLogger
}

// DefaultOptions returns options with a no-op audit logger and no
// authentication provider.
func DefaultOptions() ServiceOptions {
	return ServiceOptions{
		AuditLogger: &NopAuditLogger{},
	}
}

// WithAuth returns a copy of opts using provider.
func (opts ServiceOptions) WithAuth(provider AuthProvider) ServiceOptions {
	opts.AuthProvider = provider
	return opts
}

// WithAudit returns a copy of opts using logger.
func (opts ServiceOptions) WithAudit(logger AuditLogger) ServiceOptions {
	opts.AuditLogger = logger
	return opts
}
