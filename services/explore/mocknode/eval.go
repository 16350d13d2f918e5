// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mocknode

import (
	"strconv"
	"strings"

	"github.com/lca1/glowing-bear/services/explore/constraint"
	"github.com/lca1/glowing-bear/services/explore/i2b2"
)

// Evaluate returns the IDs of the patients matching panels, in ascending
// order. Panels are AND-combined, the items of a panel OR-combined, and a
// Not panel matches patients none of its items match. Panel timing is not
// evaluated: every observation is its own instance.
func (d *Dataset) Evaluate(panels []i2b2.Panel) []int64 {
	if len(panels) == 0 {
		return []int64{}
	}
	ids := []int64{}
	for _, p := range d.Patients {
		if d.patientMatches(p, panels) {
			ids = append(ids, p.ID)
		}
	}
	return sortedIDs(ids)
}

func (d *Dataset) patientMatches(p Patient, panels []i2b2.Panel) bool {
	for _, panel := range panels {
		hit := false
		for _, item := range panel.Items {
			if d.itemMatches(p, item) {
				hit = true
				break
			}
		}
		if hit == panel.Not {
			return false
		}
	}
	return true
}

func (d *Dataset) itemMatches(p Patient, item i2b2.Item) bool {
	term := item.QueryTerm
	if item.Encrypted {
		path, ok := d.pathByEncryptionID(term)
		if !ok {
			return false
		}
		term = path
	}

	for _, obs := range p.Observations {
		if !strings.HasPrefix(obs.Concept, term) {
			continue
		}
		if item.Modifier != nil && obs.Modifier != item.Modifier.ModifierKey {
			continue
		}
		if item.Modifier == nil && obs.Modifier != "" {
			continue
		}
		if valueMatches(obs.Value, item) {
			return true
		}
	}
	return false
}

// valueMatches applies the item's operator to an observed value. Items
// without an operator only test existence.
func valueMatches(observed string, item i2b2.Item) bool {
	if item.Operator == "" {
		return true
	}

	switch constraint.NumericalOperator(item.Operator) {
	case constraint.NumericalEqual, constraint.NumericalNotEqual, constraint.NumericalGreater,
		constraint.NumericalGreaterOrEqual, constraint.NumericalLower, constraint.NumericalLowerOrEqual:
		v, err1 := strconv.ParseFloat(observed, 64)
		want, err2 := strconv.ParseFloat(strings.TrimSpace(item.Value), 64)
		if err1 != nil || err2 != nil {
			return false
		}
		return compare(v, want, constraint.NumericalOperator(item.Operator))
	case constraint.NumericalBetween:
		v, err := strconv.ParseFloat(observed, 64)
		lo, hi, ok := strings.Cut(item.Value, "and")
		if err != nil || !ok {
			return false
		}
		min, err1 := strconv.ParseFloat(strings.TrimSpace(lo), 64)
		max, err2 := strconv.ParseFloat(strings.TrimSpace(hi), 64)
		return err1 == nil && err2 == nil && v >= min && v <= max
	}

	switch constraint.TextOperator(item.Operator) {
	case constraint.TextLikeBegin:
		return strings.HasPrefix(observed, item.Value)
	case constraint.TextLikeContains:
		return strings.Contains(observed, item.Value)
	case constraint.TextLikeEnd:
		return strings.HasSuffix(observed, item.Value)
	case constraint.TextLikeExact:
		return observed == item.Value
	case constraint.TextIn:
		for _, tok := range strings.Split(item.Value, ",") {
			tok = strings.TrimSpace(tok)
			tok = strings.TrimSuffix(strings.TrimPrefix(tok, "'"), "'")
			if tok == observed {
				return true
			}
		}
	}
	return false
}

func compare(v, want float64, op constraint.NumericalOperator) bool {
	switch op {
	case constraint.NumericalEqual:
		return v == want
	case constraint.NumericalNotEqual:
		return v != want
	case constraint.NumericalGreater:
		return v > want
	case constraint.NumericalGreaterOrEqual:
		return v >= want
	case constraint.NumericalLower:
		return v < want
	case constraint.NumericalLowerOrEqual:
		return v <= want
	}
	return false
}
