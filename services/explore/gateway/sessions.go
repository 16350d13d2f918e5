// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gateway

import (
	"sync"

	"github.com/lca1/glowing-bear/pkg/extensions"
	"github.com/lca1/glowing-bear/services/explore/cohorts"
)

// CohortFactory builds the patient-list cache of a new session.
type CohortFactory func(session cohorts.Session) *cohorts.Service

// Sessions holds one cohort cache per user. A cache lives until Close.
type Sessions struct {
	factory CohortFactory

	mu     sync.Mutex
	caches map[string]*cohorts.Service
}

// NewSessions returns an empty session table.
func NewSessions(factory CohortFactory) *Sessions {
	return &Sessions{factory: factory, caches: make(map[string]*cohorts.Service)}
}

// For returns the cache of info's user, creating it on first use.
func (s *Sessions) For(info *extensions.AuthInfo) *cohorts.Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.caches[info.UserID]
	if !ok {
		svc = s.factory(info)
		s.caches[info.UserID] = svc
	}
	return svc
}

// Close closes every cache.
func (s *Sessions) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for user, svc := range s.caches {
		svc.Close()
		delete(s.caches, user)
	}
}
