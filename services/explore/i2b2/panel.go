// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package i2b2 defines the panel/item query representation exchanged with
// federation nodes.
//
// Items inside a panel are OR-combined. Panels of a query are AND-combined.
package i2b2

// Timing is the timing constraint of a panel or of a whole query.
type Timing string

const (
	// TimingAny matches items from any observation instance.
	TimingAny Timing = "any"

	// TimingSameInstanceNum requires all items to share the observation instance.
	TimingSameInstanceNum Timing = "sameinstancenum"
)

// TimingFor returns TimingSameInstanceNum when sameInstance is set and
// TimingAny otherwise.
func TimingFor(sameInstance bool) Timing {
	if sameInstance {
		return TimingSameInstanceNum
	}
	return TimingAny
}

// Modifier qualifies an item's query term.
type Modifier struct {
	ModifierKey string `json:"modifierKey"`
	AppliedPath string `json:"appliedPath"`
}

// Item is a single concept or modifier reference of a panel.
//
// When Encrypted is set, QueryTerm is an encrypted concept identifier and
// the concept cannot be recovered client side.
type Item struct {
	QueryTerm string    `json:"queryTerm"`
	Operator  string    `json:"operator,omitempty"`
	Value     string    `json:"value,omitempty"`
	Type      string    `json:"type,omitempty"`
	Modifier  *Modifier `json:"modifier,omitempty"`
	Encrypted bool      `json:"encrypted"`
}

// Clone returns a copy of the item with its own Modifier.
func (i Item) Clone() Item {
	if i.Modifier != nil {
		m := *i.Modifier
		i.Modifier = &m
	}
	return i
}

// Panel is an OR-group of items.
type Panel struct {
	Not         bool   `json:"not"`
	PanelTiming Timing `json:"panelTiming"`
	Items       []Item `json:"items"`
}

// SameInstance reports whether the panel requires same-instance timing.
func (p Panel) SameInstance() bool {
	return p.PanelTiming == TimingSameInstanceNum
}

// HasEncryptedItem reports whether any item of the panel is encrypted.
func (p Panel) HasEncryptedItem() bool {
	for _, item := range p.Items {
		if item.Encrypted {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the panel.
func (p Panel) Clone() Panel {
	items := make([]Item, len(p.Items))
	for i, item := range p.Items {
		items[i] = item.Clone()
	}
	p.Items = items
	return p
}

// ClonePanels deep-copies a panel list.
func ClonePanels(panels []Panel) []Panel {
	out := make([]Panel, len(panels))
	for i, p := range panels {
		out[i] = p.Clone()
	}
	return out
}

// AnyEncrypted reports whether any item of any panel is encrypted.
func AnyEncrypted(panels []Panel) bool {
	for _, p := range panels {
		if p.HasEncryptedItem() {
			return true
		}
	}
	return false
}
