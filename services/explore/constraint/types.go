// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package constraint holds the in-memory query AST used by the explore client.
//
// # Description
//
// A query is a tree of constraints. Leaves are ConceptConstraint values that
// reference an ontology concept (optionally filtered by a numerical or text
// operator), inner nodes are CombinationConstraint values that AND or OR their
// children. The wire-level panel representation lives in package i2b2 and the
// translation between the two lives in package mapping.
//
// # Thread Safety
//
// Constraint values are plain data and are not safe for concurrent mutation.
// Registry is safe for concurrent use.
package constraint

// =============================================================================
// Value Types
// =============================================================================

// ValueType is the type of the values a concept carries.
type ValueType string

const (
	// ValueTypeNumerical concepts carry numbers and accept NumericalOperator filters.
	ValueTypeNumerical ValueType = "NUMERICAL"

	// ValueTypeText concepts carry free text and accept TextOperator filters.
	ValueTypeText ValueType = "TEXT"

	// ValueTypeCategorical concepts carry no value; only existence is queried.
	ValueTypeCategorical ValueType = "CATEGORICAL"
)

// =============================================================================
// Operators
// =============================================================================

// NumericalOperator is an operator applicable to NUMERICAL concepts.
//
// The string values are the operator names used on the wire.
type NumericalOperator string

const (
	NumericalEqual          NumericalOperator = "EQ"
	NumericalNotEqual       NumericalOperator = "NE"
	NumericalGreater        NumericalOperator = "GT"
	NumericalGreaterOrEqual NumericalOperator = "GE"
	NumericalLower          NumericalOperator = "LT"
	NumericalLowerOrEqual   NumericalOperator = "LE"
	NumericalBetween        NumericalOperator = "BETWEEN"
)

// IsSingleOperand reports whether the operator takes exactly one operand.
func (o NumericalOperator) IsSingleOperand() bool {
	switch o {
	case NumericalEqual, NumericalNotEqual, NumericalGreater,
		NumericalGreaterOrEqual, NumericalLower, NumericalLowerOrEqual:
		return true
	default:
		return false
	}
}

// TextOperator is an operator applicable to TEXT concepts.
type TextOperator string

const (
	TextLikeBegin    TextOperator = "LIKE[begin]"
	TextLikeContains TextOperator = "LIKE[contains]"
	TextLikeEnd      TextOperator = "LIKE[end]"
	TextLikeExact    TextOperator = "LIKE[exact]"
	TextIn           TextOperator = "IN"
)

// IsLike reports whether the operator is one of the LIKE variants.
func (o TextOperator) IsLike() bool {
	switch o {
	case TextLikeBegin, TextLikeContains, TextLikeEnd, TextLikeExact:
		return true
	default:
		return false
	}
}

// =============================================================================
// Combination
// =============================================================================

// CombinationState is the boolean operator joining the children of a
// CombinationConstraint.
type CombinationState string

const (
	CombinationAnd CombinationState = "and"
	CombinationOr  CombinationState = "or"
)

// Kind tags the variant of a Constraint.
type Kind int

const (
	// KindConcept tags *ConceptConstraint.
	KindConcept Kind = iota

	// KindCombination tags *CombinationConstraint.
	KindCombination
)

// String returns "concept" or "combination".
func (k Kind) String() string {
	switch k {
	case KindConcept:
		return "concept"
	case KindCombination:
		return "combination"
	default:
		return "unknown"
	}
}
