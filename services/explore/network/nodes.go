// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package network describes the federation the client talks to.
package network

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// ErrNoNodes is returned when an operation needs at least one node.
var ErrNoNodes = errors.New("no federation nodes configured")

// Node is the metadata of one federation node.
type Node struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	URL   string `json:"url"`
}

// Endpoint joins the node base URL with an API path.
func (n Node) Endpoint(path string) string {
	return strings.TrimSuffix(n.URL, "/") + "/" + strings.TrimPrefix(path, "/")
}

// NodeSource provides the current node list.
type NodeSource interface {
	Nodes() []Node
}

// Registry is the hot-replaceable list of federation nodes.
//
// # Thread Safety
//
// Safe for concurrent use. Nodes returns a snapshot; an operation that
// fans out keeps using its snapshot even if the list is replaced meanwhile.
type Registry struct {
	mu    sync.RWMutex
	nodes []Node
}

// NewRegistry validates nodes and returns a registry holding them.
func NewRegistry(nodes ...Node) (*Registry, error) {
	r := &Registry{}
	if err := r.Replace(nodes); err != nil {
		return nil, err
	}
	return r, nil
}

// Nodes returns a copy of the node list, in index order.
func (r *Registry) Nodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Node, len(r.nodes))
	copy(out, r.nodes)
	return out
}

// Len returns the number of nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Replace swaps the node list. Indexes are reassigned from list order.
// On validation failure the previous list is kept.
func (r *Registry) Replace(nodes []Node) error {
	next := make([]Node, len(nodes))
	seen := make(map[string]bool, len(nodes))
	for i, n := range nodes {
		u, err := url.Parse(n.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("node %d (%s): invalid url %q", i, n.Name, n.URL)
		}
		name := n.Name
		if name == "" {
			name = u.Host
		}
		if seen[name] {
			return fmt.Errorf("node %d: duplicate name %q", i, name)
		}
		seen[name] = true
		next[i] = Node{Index: i, Name: name, URL: n.URL}
	}

	r.mu.Lock()
	r.nodes = next
	r.mu.Unlock()
	return nil
}

// Static is a fixed NodeSource.
type Static []Node

// Nodes returns the list itself.
func (s Static) Nodes() []Node { return s }

var (
	_ NodeSource = (*Registry)(nil)
	_ NodeSource = Static(nil)
)
