// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package constraint

import (
	"strings"
)

// Constraint is a node of the query AST.
//
// # Description
//
// Constraint is a closed sum type with two variants, selected by Kind():
//
//   - KindConcept: *ConceptConstraint
//   - KindCombination: *CombinationConstraint
//
// Code that needs variant data switches on Kind() and uses AsConcept or
// AsCombination. No other implementations exist outside this package.
type Constraint interface {
	// Kind returns the variant tag.
	Kind() Kind

	// SameInstance reports whether the panel built from this constraint
	// requires all items to come from the same observation instance.
	SameInstance() bool

	// SetSameInstance sets the same-instance timing flag.
	SetSameInstance(same bool)

	// IsExcluded reports whether the constraint is negated.
	IsExcluded() bool

	// TextRepresentation is a short human-readable form used in messages.
	TextRepresentation() string

	// Clone returns a deep copy. Tree node references are shared.
	Clone() Constraint

	sealed()
}

// AsConcept returns the concept variant of c.
func AsConcept(c Constraint) (*ConceptConstraint, bool) {
	if c == nil || c.Kind() != KindConcept {
		return nil, false
	}
	cc, ok := c.(*ConceptConstraint)
	return cc, ok
}

// AsCombination returns the combination variant of c.
func AsCombination(c Constraint) (*CombinationConstraint, bool) {
	if c == nil || c.Kind() != KindCombination {
		return nil, false
	}
	cc, ok := c.(*CombinationConstraint)
	return cc, ok
}

// =============================================================================
// ConceptConstraint
// =============================================================================

// ConceptConstraint selects subjects having an observation of a concept,
// optionally filtered by a value operator.
//
// The numerical fields are meaningful when ApplyNumericalOperator is true,
// the text fields when ApplyTextOperator is true. An empty operator means
// no value filter is applied beyond existence.
type ConceptConstraint struct {
	Concept  *Concept
	TreeNode *TreeNode

	PanelTimingSameInstance bool
	Excluded                bool

	ApplyNumericalOperator bool
	NumericalOperator      NumericalOperator
	NumValue               float64
	MinValue               float64
	MaxValue               float64

	ApplyTextOperator bool
	TextOperator      TextOperator
	TextOperatorValue string
}

// NewConceptConstraint builds a constraint on the concept described by node.
func NewConceptConstraint(node *TreeNode) *ConceptConstraint {
	return &ConceptConstraint{
		Concept:  ConceptFromTreeNode(node),
		TreeNode: node,
	}
}

func (c *ConceptConstraint) Kind() Kind { return KindConcept }
func (c *ConceptConstraint) SameInstance() bool { return c.PanelTimingSameInstance }
func (c *ConceptConstraint) SetSameInstance(same bool) { c.PanelTimingSameInstance = same }
func (c *ConceptConstraint) IsExcluded() bool { return c.Excluded }
func (c *ConceptConstraint) sealed() {}

// TextRepresentation returns the concept label, or its path when unlabeled.
func (c *ConceptConstraint) TextRepresentation() string {
	if c.Concept == nil {
		return "Concept"
	}
	if c.Concept.Label != "" {
		return "Concept " + c.Concept.Label
	}
	return "Concept " + c.Concept.Path
}

// Clone returns a copy with its own Concept. The TreeNode is shared.
func (c *ConceptConstraint) Clone() Constraint {
	return c.CloneConcept()
}

// CloneConcept is Clone without the interface conversion.
func (c *ConceptConstraint) CloneConcept() *ConceptConstraint {
	cp := *c
	cp.Concept = c.Concept.Clone()
	return &cp
}

// =============================================================================
// CombinationConstraint
// =============================================================================

// CombinationConstraint joins its children with AND or OR.
//
// Children order has no semantic meaning but is preserved for display.
type CombinationConstraint struct {
	Children         []Constraint
	CombinationState CombinationState

	PanelTimingSameInstance bool
	Excluded                bool
}

// NewCombination returns a combination of the given children.
func NewCombination(state CombinationState, children ...Constraint) *CombinationConstraint {
	return &CombinationConstraint{
		Children:         children,
		CombinationState: state,
	}
}

// AddChild appends a child constraint.
func (c *CombinationConstraint) AddChild(child Constraint) {
	c.Children = append(c.Children, child)
}

func (c *CombinationConstraint) Kind() Kind { return KindCombination }
func (c *CombinationConstraint) SameInstance() bool { return c.PanelTimingSameInstance }
func (c *CombinationConstraint) SetSameInstance(same bool) { c.PanelTimingSameInstance = same }
func (c *CombinationConstraint) IsExcluded() bool { return c.Excluded }
func (c *CombinationConstraint) sealed() {}

// TextRepresentation renders the children joined by the combination state.
func (c *CombinationConstraint) TextRepresentation() string {
	parts := make([]string, 0, len(c.Children))
	for _, child := range c.Children {
		parts = append(parts, child.TextRepresentation())
	}
	sep := " " + strings.ToUpper(string(c.CombinationState)) + " "
	return "(" + strings.Join(parts, sep) + ")"
}

// Clone deep-copies the combination and its children.
func (c *CombinationConstraint) Clone() Constraint {
	cp := *c
	cp.Children = make([]Constraint, len(c.Children))
	for i, child := range c.Children {
		cp.Children[i] = child.Clone()
	}
	return &cp
}

// Walk calls fn for c and every descendant, depth first.
func Walk(c Constraint, fn func(Constraint)) {
	if c == nil {
		return
	}
	fn(c)
	if comb, ok := AsCombination(c); ok {
		for _, child := range comb.Children {
			Walk(child, fn)
		}
	}
}
