// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mapping

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lca1/glowing-bear/pkg/logging"
	"github.com/lca1/glowing-bear/services/explore/alerts"
	"github.com/lca1/glowing-bear/services/explore/constraint"
	"github.com/lca1/glowing-bear/services/explore/i2b2"
	"github.com/lca1/glowing-bear/services/explore/resolver"
)

// ReverseMapper rebuilds constraints from panels.
//
// # Description
//
// Items are resolved through the session registry first and through the
// resolver otherwise. Every successfully mapped panel set is added to the
// registry, so mapping the same saved query twice resolves nothing the
// second time.
//
// # Thread Safety
//
// Safe for concurrent use.
type ReverseMapper struct {
	resolver resolver.Resolver
	registry *constraint.Registry
	alerts   alerts.Sink
	logger   *logging.Logger
}

// NewReverseMapper returns a mapper. A nil registry gets a fresh one and a
// nil sink discards alerts.
func NewReverseMapper(r resolver.Resolver, registry *constraint.Registry, sink alerts.Sink, logger *logging.Logger) *ReverseMapper {
	if registry == nil {
		registry = constraint.NewRegistry()
	}
	if sink == nil {
		sink = alerts.Discard
	}
	return &ReverseMapper{
		resolver: r,
		registry: registry,
		alerts:   sink,
		logger:   logging.OrDefault(logger),
	}
}

// Registry returns the registry the mapper reads and fills.
func (m *ReverseMapper) Registry() *constraint.Registry {
	return m.registry
}

// MapPanels maps a saved query's panels to a constraint.
//
// # Description
//
// A single panel with a single item maps to that item's concept constraint.
// Anything else maps every panel concurrently and joins the results with
// AND. The first failing panel cancels the others.
//
// timings and nots are normalized to ANY and false for every panel: values
// supplied by the caller are ignored and timing is read from the panels.
//
// # Outputs
//
//   - constraint.Constraint: The rebuilt tree, nil on any error.
//   - error: ErrEncryptedItem if any item anywhere is encrypted (checked
//     before any lookup), ErrEmptyPanel, ErrConceptNotFound, or a resolver
//     error.
func (m *ReverseMapper) MapPanels(ctx context.Context, panels []i2b2.Panel, timings []i2b2.Timing, nots []bool) (constraint.Constraint, error) {
	if len(panels) == 0 {
		return nil, ErrEmptyPanel
	}
	for i, p := range panels {
		if len(p.Items) == 0 {
			return nil, fmt.Errorf("panel %d: %w", i, ErrEmptyPanel)
		}
	}
	if i2b2.AnyEncrypted(panels) {
		return nil, ErrEncryptedItem
	}

	var result constraint.Constraint
	if len(panels) == 1 && len(panels[0].Items) == 1 {
		c, err := m.MapItem(ctx, panels[0].Items[0])
		if err != nil {
			return nil, err
		}
		c.SetSameInstance(panels[0].SameInstance())
		result = c
	} else {
		children := make([]constraint.Constraint, len(panels))
		g, gctx := errgroup.WithContext(ctx)
		for i, p := range panels {
			g.Go(func() error {
				c, err := m.MapPanel(gctx, p)
				if err != nil {
					return fmt.Errorf("panel %d: %w", i, err)
				}
				children[i] = c
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		result = constraint.NewCombination(constraint.CombinationAnd, children...)
	}

	m.registry.Add(result)
	m.logger.Debug("panels reverse mapped", "panels", len(panels), "constraint", result.TextRepresentation())
	return result, nil
}

// MapPanel maps one panel. A single item maps to its concept constraint,
// several items map concurrently to an OR combination. The result carries
// the panel's same-instance timing.
func (m *ReverseMapper) MapPanel(ctx context.Context, panel i2b2.Panel) (constraint.Constraint, error) {
	if panel.HasEncryptedItem() {
		return nil, ErrEncryptedItem
	}
	if len(panel.Items) == 0 {
		return nil, ErrEmptyPanel
	}

	if len(panel.Items) == 1 {
		c, err := m.MapItem(ctx, panel.Items[0])
		if err != nil {
			return nil, err
		}
		c.SetSameInstance(panel.SameInstance())
		return c, nil
	}

	children := make([]constraint.Constraint, len(panel.Items))
	g, gctx := errgroup.WithContext(ctx)
	for i, item := range panel.Items {
		g.Go(func() error {
			c, err := m.MapItem(gctx, item)
			if err != nil {
				return err
			}
			children[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	comb := constraint.NewCombination(constraint.CombinationOr, children...)
	comb.SetSameInstance(panel.SameInstance())
	return comb, nil
}

// MapItem maps one item to a concept constraint.
//
// # Description
//
// A concept already in the registry under the item's effective path is
// reused without a lookup; a new constraint value is returned so flags set
// on it do not leak into the registered one. Otherwise the first candidate
// of the resolver wins. For a modifier item the base concept is mapped
// concurrently with the modifier lookup and a copy of its tree node becomes
// the modifier node's applied concept.
func (m *ReverseMapper) MapItem(ctx context.Context, item i2b2.Item) (*constraint.ConceptConstraint, error) {
	if item.Encrypted {
		return nil, ErrEncryptedItem
	}

	path := item.QueryTerm
	if item.Modifier != nil {
		path = constraint.ModifiedConceptPath(item.QueryTerm, item.Modifier.ModifierKey)
	}

	if existing, ok := m.registry.FindConcept(path); ok {
		c := &constraint.ConceptConstraint{
			Concept:  existing.Concept.Clone(),
			TreeNode: treeNodeOf(existing),
		}
		SetValues(c, item.Value, item.Operator, m.alerts)
		return c, nil
	}

	var node *constraint.TreeNode
	if item.Modifier == nil {
		found, err := m.resolver.ResolveConcept(ctx, item.QueryTerm)
		if err != nil {
			return nil, fmt.Errorf("resolving concept %s: %w", item.QueryTerm, err)
		}
		if node, err = first(found, path); err != nil {
			return nil, err
		}
	} else {
		var base *constraint.ConceptConstraint
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			found, err := m.resolver.ResolveModifier(gctx, item.Modifier.ModifierKey, item.Modifier.AppliedPath, item.QueryTerm)
			if err != nil {
				return fmt.Errorf("resolving modifier %s: %w", item.Modifier.ModifierKey, err)
			}
			node, err = first(found, path)
			return err
		})
		g.Go(func() error {
			var err error
			base, err = m.MapItem(gctx, i2b2.Item{QueryTerm: item.QueryTerm})
			return err
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		node = node.Clone()
		node.AppliedConcept = treeNodeOf(base).Clone()
	}

	c := constraint.NewConceptConstraint(node)
	SetValues(c, item.Value, item.Operator, m.alerts)
	return c, nil
}

func first(nodes []*constraint.TreeNode, path string) (*constraint.TreeNode, error) {
	for _, n := range nodes {
		if n != nil {
			return n, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", path, ErrConceptNotFound)
}

// treeNodeOf returns the tree node of c, rebuilding a plain one from the
// concept when c was decoded without it.
func treeNodeOf(c *constraint.ConceptConstraint) *constraint.TreeNode {
	if c.TreeNode != nil {
		return c.TreeNode
	}
	return &constraint.TreeNode{
		Path:      c.Concept.Path,
		Label:     c.Concept.Label,
		ValueType: c.Concept.Type,
		IsInteger: c.Concept.IsInteger,
	}
}
