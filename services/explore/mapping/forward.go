// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mapping

import (
	"fmt"
	"strings"

	"github.com/lca1/glowing-bear/services/explore/constraint"
	"github.com/lca1/glowing-bear/services/explore/i2b2"
)

// ForwardMapper turns constraints into panels. The zero value is ready to
// use.
type ForwardMapper struct{}

// MapConstraint maps c to panels.
//
// # Description
//
// A concept maps to one single-item panel and an OR to one panel holding
// its concepts. An AND maps each child to its own panel; nested ANDs are
// flattened. Panel timing comes from the same-instance flag of the
// constraint the panel was built from, and the panel is negated when that
// constraint is excluded.
//
// # Outputs
//
//   - []i2b2.Panel: Panels, AND-combined on the nodes.
//   - error: ErrEmptyConstraint or ErrUnsupportedNesting.
func (ForwardMapper) MapConstraint(c constraint.Constraint) ([]i2b2.Panel, error) {
	if c == nil {
		return nil, ErrEmptyConstraint
	}

	switch c.Kind() {
	case constraint.KindConcept:
		cc, _ := constraint.AsConcept(c)
		p, err := conceptPanel(cc)
		if err != nil {
			return nil, err
		}
		return []i2b2.Panel{p}, nil

	case constraint.KindCombination:
		comb, _ := constraint.AsCombination(c)
		if len(comb.Children) == 0 {
			return nil, ErrEmptyConstraint
		}
		if comb.CombinationState == constraint.CombinationOr {
			p, err := orPanel(comb)
			if err != nil {
				return nil, err
			}
			return []i2b2.Panel{p}, nil
		}
		if comb.Excluded {
			return nil, fmt.Errorf("excluded AND: %w", ErrUnsupportedNesting)
		}
		var panels []i2b2.Panel
		if err := appendAndPanels(&panels, comb); err != nil {
			return nil, err
		}
		return panels, nil
	}
	return nil, fmt.Errorf("kind %s: %w", c.Kind(), ErrUnsupportedNesting)
}

func appendAndPanels(panels *[]i2b2.Panel, comb *constraint.CombinationConstraint) error {
	for _, child := range comb.Children {
		switch child.Kind() {
		case constraint.KindConcept:
			cc, _ := constraint.AsConcept(child)
			p, err := conceptPanel(cc)
			if err != nil {
				return err
			}
			*panels = append(*panels, p)
		case constraint.KindCombination:
			sub, _ := constraint.AsCombination(child)
			if len(sub.Children) == 0 {
				return ErrEmptyConstraint
			}
			if sub.CombinationState == constraint.CombinationOr {
				p, err := orPanel(sub)
				if err != nil {
					return err
				}
				*panels = append(*panels, p)
				continue
			}
			if sub.Excluded {
				return fmt.Errorf("excluded AND: %w", ErrUnsupportedNesting)
			}
			if err := appendAndPanels(panels, sub); err != nil {
				return err
			}
		}
	}
	return nil
}

func conceptPanel(cc *constraint.ConceptConstraint) (i2b2.Panel, error) {
	item, err := conceptItem(cc)
	if err != nil {
		return i2b2.Panel{}, err
	}
	return i2b2.Panel{
		Not:         cc.Excluded,
		PanelTiming: i2b2.TimingFor(cc.SameInstance()),
		Items:       []i2b2.Item{item},
	}, nil
}

func orPanel(comb *constraint.CombinationConstraint) (i2b2.Panel, error) {
	items := make([]i2b2.Item, 0, len(comb.Children))
	for _, child := range comb.Children {
		cc, ok := constraint.AsConcept(child)
		if !ok {
			return i2b2.Panel{}, fmt.Errorf("combination inside OR: %w", ErrUnsupportedNesting)
		}
		item, err := conceptItem(cc)
		if err != nil {
			return i2b2.Panel{}, err
		}
		items = append(items, item)
	}
	return i2b2.Panel{
		Not:         comb.Excluded,
		PanelTiming: i2b2.TimingFor(comb.SameInstance()),
		Items:       items,
	}, nil
}

func conceptItem(cc *constraint.ConceptConstraint) (i2b2.Item, error) {
	concept := cc.Concept
	if concept == nil {
		return i2b2.Item{}, ErrEmptyConstraint
	}

	item := i2b2.Item{QueryTerm: concept.Path}
	switch {
	case concept.Encrypted:
		item.QueryTerm = concept.EncryptionID
		item.Encrypted = true
	case concept.Modifier != nil:
		item.QueryTerm = concept.Modifier.AppliedConceptPath
		item.Modifier = &i2b2.Modifier{
			ModifierKey: concept.Modifier.Key,
			AppliedPath: concept.Modifier.AppliedPath,
		}
	}

	switch {
	case cc.ApplyNumericalOperator && cc.NumericalOperator != "":
		item.Operator = string(cc.NumericalOperator)
		item.Type = string(concept.Type)
		if cc.NumericalOperator == constraint.NumericalBetween {
			item.Value = formatNumber(cc.MinValue, concept.IsInteger) + " and " + formatNumber(cc.MaxValue, concept.IsInteger)
		} else {
			item.Value = formatNumber(cc.NumValue, concept.IsInteger)
		}
	case cc.ApplyTextOperator && cc.TextOperator != "":
		item.Operator = string(cc.TextOperator)
		item.Type = string(concept.Type)
		if cc.TextOperator == constraint.TextIn {
			tokens := splitInValues(cc.TextOperatorValue)
			for i, tok := range tokens {
				tokens[i] = "'" + tok + "'"
			}
			item.Value = strings.Join(tokens, ",")
		} else {
			item.Value = cc.TextOperatorValue
		}
	}
	return item, nil
}
