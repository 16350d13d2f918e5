// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package constraint

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidJSON is returned by Decode for documents that do not describe a
// constraint tree.
var ErrInvalidJSON = errors.New("invalid constraint document")

// jsonConstraint is the tagged JSON form of both variants.
type jsonConstraint struct {
	Type         string `json:"type"`
	SameInstance bool   `json:"sameInstance,omitempty"`
	Excluded     bool   `json:"excluded,omitempty"`

	Concept                *Concept          `json:"concept,omitempty"`
	ApplyNumericalOperator bool              `json:"applyNumericalOperator,omitempty"`
	NumericalOperator      NumericalOperator `json:"numericalOperator,omitempty"`
	NumValue               float64           `json:"numValue,omitempty"`
	MinValue               float64           `json:"minValue,omitempty"`
	MaxValue               float64           `json:"maxValue,omitempty"`
	ApplyTextOperator      bool              `json:"applyTextOperator,omitempty"`
	TextOperator           TextOperator      `json:"textOperator,omitempty"`
	TextOperatorValue      string            `json:"textOperatorValue,omitempty"`

	State    CombinationState `json:"state,omitempty"`
	Children []jsonConstraint `json:"children,omitempty"`
}

// Document wraps a Constraint so it can be embedded in JSON payloads.
type Document struct {
	Constraint Constraint
}

// MarshalJSON implements json.Marshaler.
func (d Document) MarshalJSON() ([]byte, error) {
	if d.Constraint == nil {
		return []byte("null"), nil
	}
	return Encode(d.Constraint)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Document) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		d.Constraint = nil
		return nil
	}
	c, err := Decode(data)
	if err != nil {
		return err
	}
	d.Constraint = c
	return nil
}

// Encode serializes a constraint tree.
func Encode(c Constraint) ([]byte, error) {
	jc, err := toJSON(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jc)
}

// Decode parses a document produced by Encode.
func Decode(data []byte) (Constraint, error) {
	var jc jsonConstraint
	if err := json.Unmarshal(data, &jc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return fromJSON(jc)
}

func toJSON(c Constraint) (jsonConstraint, error) {
	switch c.Kind() {
	case KindConcept:
		cc, _ := AsConcept(c)
		return jsonConstraint{
			Type:                   KindConcept.String(),
			SameInstance:           cc.PanelTimingSameInstance,
			Excluded:               cc.Excluded,
			Concept:                cc.Concept,
			ApplyNumericalOperator: cc.ApplyNumericalOperator,
			NumericalOperator:      cc.NumericalOperator,
			NumValue:               cc.NumValue,
			MinValue:               cc.MinValue,
			MaxValue:               cc.MaxValue,
			ApplyTextOperator:      cc.ApplyTextOperator,
			TextOperator:           cc.TextOperator,
			TextOperatorValue:      cc.TextOperatorValue,
		}, nil

	case KindCombination:
		comb, _ := AsCombination(c)
		children := make([]jsonConstraint, 0, len(comb.Children))
		for _, child := range comb.Children {
			jc, err := toJSON(child)
			if err != nil {
				return jsonConstraint{}, err
			}
			children = append(children, jc)
		}
		return jsonConstraint{
			Type:         KindCombination.String(),
			SameInstance: comb.PanelTimingSameInstance,
			Excluded:     comb.Excluded,
			State:        comb.CombinationState,
			Children:     children,
		}, nil
	}
	return jsonConstraint{}, fmt.Errorf("%w: unknown kind %v", ErrInvalidJSON, c.Kind())
}

func fromJSON(jc jsonConstraint) (Constraint, error) {
	switch jc.Type {
	case KindConcept.String():
		if jc.Concept == nil || jc.Concept.Path == "" {
			return nil, fmt.Errorf("%w: concept constraint without concept path", ErrInvalidJSON)
		}
		return &ConceptConstraint{
			Concept:                 jc.Concept,
			PanelTimingSameInstance: jc.SameInstance,
			Excluded:                jc.Excluded,
			ApplyNumericalOperator:  jc.ApplyNumericalOperator,
			NumericalOperator:       jc.NumericalOperator,
			NumValue:                jc.NumValue,
			MinValue:                jc.MinValue,
			MaxValue:                jc.MaxValue,
			ApplyTextOperator:       jc.ApplyTextOperator,
			TextOperator:            jc.TextOperator,
			TextOperatorValue:       jc.TextOperatorValue,
		}, nil

	case KindCombination.String():
		if jc.State != CombinationAnd && jc.State != CombinationOr {
			return nil, fmt.Errorf("%w: combination state %q", ErrInvalidJSON, jc.State)
		}
		comb := NewCombination(jc.State)
		comb.PanelTimingSameInstance = jc.SameInstance
		comb.Excluded = jc.Excluded
		for _, child := range jc.Children {
			c, err := fromJSON(child)
			if err != nil {
				return nil, err
			}
			comb.AddChild(c)
		}
		return comb, nil
	}
	return nil, fmt.Errorf("%w: constraint type %q", ErrInvalidJSON, jc.Type)
}
