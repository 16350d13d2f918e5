// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package constraint

import "sync"

// Registry holds the constraints already loaded in a session.
//
// # Description
//
// The reverse mapper searches the registry before calling the concept
// resolver, so that a concept already known to the session is reused
// instead of being resolved (and displayed) twice.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	constraints []Constraint
	byPath      map[string]*ConceptConstraint
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byPath: make(map[string]*ConceptConstraint),
	}
}

// Add registers c and, for combinations, every concept it contains.
//
// The first concept registered for a path wins; later ones with the same
// path are kept in All() but not indexed.
func (r *Registry) Add(c Constraint) {
	if c == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.constraints = append(r.constraints, c)
	Walk(c, func(node Constraint) {
		cc, ok := AsConcept(node)
		if !ok || cc.Concept == nil {
			return
		}
		if _, exists := r.byPath[cc.Concept.Path]; !exists {
			r.byPath[cc.Concept.Path] = cc
		}
	})
}

// FindConcept returns the registered concept constraint with the given
// concept path.
func (r *Registry) FindConcept(path string) (*ConceptConstraint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cc, ok := r.byPath[path]
	return cc, ok
}

// All returns the registered top-level constraints in insertion order.
func (r *Registry) All() []Constraint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Constraint, len(r.constraints))
	copy(out, r.constraints)
	return out
}

// Len returns the number of indexed concept paths.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byPath)
}
