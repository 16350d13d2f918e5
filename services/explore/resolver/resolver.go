// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package resolver looks up ontology tree nodes by path.
//
// # Description
//
// The reverse mapper turns query terms back into tree nodes through a
// Resolver. NodeResolver asks the federation's search endpoints; Cached
// keeps the answers in BadgerDB and collapses concurrent lookups of the
// same key into one request.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/lca1/glowing-bear/pkg/logging"
	"github.com/lca1/glowing-bear/services/explore/constraint"
	"github.com/lca1/glowing-bear/services/explore/network"
)

// Resolver returns the candidate tree nodes for an ontology path. An empty
// result with a nil error means the path is unknown.
type Resolver interface {
	// ResolveConcept looks up a concept by its path.
	ResolveConcept(ctx context.Context, path string) ([]*constraint.TreeNode, error)

	// ResolveModifier looks up a modifier by key and applied path, as
	// applied on the concept baseTerm.
	ResolveModifier(ctx context.Context, modifierKey, appliedPath, baseTerm string) ([]*constraint.TreeNode, error)
}

// Searcher is the subset of the node client used for lookups.
type Searcher interface {
	SearchConceptInfo(ctx context.Context, node network.Node, path string) ([]*constraint.TreeNode, error)
	SearchModifierInfo(ctx context.Context, node network.Node, modifierKey, appliedPath, appliedConcept string) ([]*constraint.TreeNode, error)
}

// NodeResolver resolves paths through the search endpoints of the
// federation nodes. Nodes are tried in order; the first node that answers
// wins, since the ontology is replicated on every node.
type NodeResolver struct {
	search Searcher
	nodes  network.NodeSource
	logger *logging.Logger
}

// NewNodeResolver returns a resolver asking the nodes of src through search.
func NewNodeResolver(search Searcher, src network.NodeSource, logger *logging.Logger) *NodeResolver {
	return &NodeResolver{search: search, nodes: src, logger: logging.OrDefault(logger)}
}

// ResolveConcept implements Resolver.
func (r *NodeResolver) ResolveConcept(ctx context.Context, path string) ([]*constraint.TreeNode, error) {
	return r.firstAnswer(ctx, func(node network.Node) ([]*constraint.TreeNode, error) {
		return r.search.SearchConceptInfo(ctx, node, path)
	})
}

// ResolveModifier implements Resolver.
func (r *NodeResolver) ResolveModifier(ctx context.Context, modifierKey, appliedPath, baseTerm string) ([]*constraint.TreeNode, error) {
	return r.firstAnswer(ctx, func(node network.Node) ([]*constraint.TreeNode, error) {
		return r.search.SearchModifierInfo(ctx, node, modifierKey, appliedPath, baseTerm)
	})
}

func (r *NodeResolver) firstAnswer(ctx context.Context, ask func(network.Node) ([]*constraint.TreeNode, error)) ([]*constraint.TreeNode, error) {
	nodes := r.nodes.Nodes()
	if len(nodes) == 0 {
		return nil, network.ErrNoNodes
	}

	var errs []error
	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		found, err := ask(node)
		if err == nil {
			return found, nil
		}
		r.logger.Warn("ontology lookup failed", "node", node.Name, "error", err)
		errs = append(errs, fmt.Errorf("node %s: %w", node.Name, err))
	}
	return nil, errors.Join(errs...)
}

// cloneNodes deep-copies a result so callers may decorate it.
func cloneNodes(nodes []*constraint.TreeNode) []*constraint.TreeNode {
	if nodes == nil {
		return nil
	}
	out := make([]*constraint.TreeNode, len(nodes))
	for i, n := range nodes {
		out[i] = n.Clone()
	}
	return out
}

var (
	_ Resolver = (*NodeResolver)(nil)
	_ Resolver = (*Cached)(nil)
)
