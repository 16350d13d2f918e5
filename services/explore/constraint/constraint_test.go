// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package constraint

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Helpers
// =============================================================================

func ageNode() *TreeNode {
	return &TreeNode{
		Path:      "/E2E/e2etest/age/",
		Label:     "Age",
		ValueType: ValueTypeNumerical,
		IsInteger: true,
	}
}

func modifierNode() *TreeNode {
	return &TreeNode{
		Path:           "/E2E/modifiers/unit/",
		Label:          "Unit",
		ValueType:      ValueTypeText,
		AppliedPath:    "/e2etest/%",
		AppliedConcept: ageNode(),
	}
}

// =============================================================================
// ModifiedConceptPath Tests
// =============================================================================

func TestModifiedConceptPath(t *testing.T) {
	tests := []struct {
		name     string
		concept  string
		modifier string
		want     string
	}{
		{"drops table segment", "/E2E/e2etest/1/", "/E2E/modifiers/1/", "/E2E/e2etest/1/modifiers/1/"},
		{"concept without trailing slash", "/E2E/e2etest/1", "/E2E/modifiers/1/", "/E2E/e2etest/1/modifiers/1/"},
		{"single segment key", "/E2E/e2etest/1/", "/mod/", "/E2E/e2etest/1/mod/"},
		{"empty key", "/E2E/e2etest/1/", "", "/E2E/e2etest/1/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ModifiedConceptPath(tt.concept, tt.modifier))
		})
	}
}

// =============================================================================
// TreeNode / Concept Tests
// =============================================================================

func TestTreeNodeClone_IsDeep(t *testing.T) {
	orig := modifierNode()
	cp := orig.Clone()

	cp.AppliedConcept.Label = "changed"

	assert.Equal(t, "Age", orig.AppliedConcept.Label)
	assert.True(t, cp.IsModifier())
	assert.Nil(t, (*TreeNode)(nil).Clone())
}

func TestConceptFromTreeNode_Modifier(t *testing.T) {
	c := ConceptFromTreeNode(modifierNode())

	require.NotNil(t, c.Modifier)
	assert.Equal(t, "/E2E/e2etest/age/modifiers/unit/", c.Path)
	assert.Equal(t, "/E2E/modifiers/unit/", c.Modifier.Key)
	assert.Equal(t, "/e2etest/%", c.Modifier.AppliedPath)
	assert.Equal(t, "/E2E/e2etest/age/", c.Modifier.AppliedConceptPath)
	assert.Equal(t, ValueTypeText, c.Type)
}

func TestConceptFromTreeNode_Plain(t *testing.T) {
	c := ConceptFromTreeNode(ageNode())

	assert.Nil(t, c.Modifier)
	assert.Equal(t, "/E2E/e2etest/age/", c.Path)
	assert.True(t, c.IsInteger)
}

// =============================================================================
// Constraint Tests
// =============================================================================

func TestAsConceptAndAsCombination(t *testing.T) {
	cc := NewConceptConstraint(ageNode())
	comb := NewCombination(CombinationOr, cc)

	got, ok := AsConcept(cc)
	assert.True(t, ok)
	assert.Same(t, cc, got)

	_, ok = AsConcept(comb)
	assert.False(t, ok)

	gotComb, ok := AsCombination(comb)
	assert.True(t, ok)
	assert.Same(t, comb, gotComb)

	_, ok = AsCombination(nil)
	assert.False(t, ok)
}

func TestCombinationClone_DoesNotShareChildren(t *testing.T) {
	cc := NewConceptConstraint(ageNode())
	comb := NewCombination(CombinationAnd, cc)

	cp := comb.Clone().(*CombinationConstraint)
	cp.Children[0].SetSameInstance(true)

	assert.False(t, cc.SameInstance())
	assert.Equal(t, "(Concept Age)", comb.TextRepresentation())
}

func TestTextRepresentation(t *testing.T) {
	a := NewConceptConstraint(ageNode())
	b := NewConceptConstraint(&TreeNode{Path: "/E2E/e2etest/x/"})
	comb := NewCombination(CombinationOr, a, b)

	assert.Equal(t, "(Concept Age OR Concept /E2E/e2etest/x/)", comb.TextRepresentation())
}

// =============================================================================
// Registry Tests
// =============================================================================

func TestRegistry_IndexesNestedConcepts(t *testing.T) {
	r := NewRegistry()
	age := NewConceptConstraint(ageNode())
	mod := NewConceptConstraint(modifierNode())
	r.Add(NewCombination(CombinationAnd, age, NewCombination(CombinationOr, mod)))

	got, ok := r.FindConcept("/E2E/e2etest/age/")
	require.True(t, ok)
	assert.Same(t, age, got)

	got, ok = r.FindConcept("/E2E/e2etest/age/modifiers/unit/")
	require.True(t, ok)
	assert.Same(t, mod, got)

	_, ok = r.FindConcept("/missing/")
	assert.False(t, ok)
	assert.Len(t, r.All(), 1)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_FirstRegistrationWins(t *testing.T) {
	r := NewRegistry()
	first := NewConceptConstraint(ageNode())
	second := NewConceptConstraint(ageNode())
	r.Add(first)
	r.Add(second)

	got, _ := r.FindConcept("/E2E/e2etest/age/")
	assert.Same(t, first, got)
	assert.Len(t, r.All(), 2)
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Add(NewConceptConstraint(ageNode()))
			r.FindConcept("/E2E/e2etest/age/")
		}()
	}
	wg.Wait()
	assert.Len(t, r.All(), 20)
}

// =============================================================================
// JSON Tests
// =============================================================================

func TestEncodeDecode_Tree(t *testing.T) {
	age := NewConceptConstraint(ageNode())
	age.ApplyNumericalOperator = true
	age.NumericalOperator = NumericalBetween
	age.MinValue = 10
	age.MaxValue = 20

	text := NewConceptConstraint(&TreeNode{Path: "/E2E/text/", ValueType: ValueTypeText})
	text.ApplyTextOperator = true
	text.TextOperator = TextIn
	text.TextOperatorValue = "a,b"
	text.Excluded = true

	or := NewCombination(CombinationOr, age, text)
	or.PanelTimingSameInstance = true
	root := NewCombination(CombinationAnd, or)

	data, err := Encode(root)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)

	rootComb, ok := AsCombination(decoded)
	require.True(t, ok)
	assert.Equal(t, CombinationAnd, rootComb.CombinationState)

	orComb, ok := AsCombination(rootComb.Children[0])
	require.True(t, ok)
	assert.True(t, orComb.SameInstance())
	require.Len(t, orComb.Children, 2)

	gotAge, ok := AsConcept(orComb.Children[0])
	require.True(t, ok)
	assert.Equal(t, NumericalBetween, gotAge.NumericalOperator)
	assert.Equal(t, 10.0, gotAge.MinValue)
	assert.Equal(t, 20.0, gotAge.MaxValue)

	gotText, ok := AsConcept(orComb.Children[1])
	require.True(t, ok)
	assert.True(t, gotText.IsExcluded())
	assert.Equal(t, "a,b", gotText.TextOperatorValue)
}

func TestDecode_Invalid(t *testing.T) {
	inputs := []string{
		`{"type":"nope"}`,
		`{"type":"concept"}`,
		`{"type":"combination","state":"xor"}`,
		`not json`,
	}
	for _, in := range inputs {
		_, err := Decode([]byte(in))
		assert.True(t, errors.Is(err, ErrInvalidJSON), in)
	}
}

func TestDocument_NullRoundTrip(t *testing.T) {
	var d Document
	require.NoError(t, d.UnmarshalJSON([]byte("null")))
	assert.Nil(t, d.Constraint)

	out, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}
