// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package i2b2

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimingFor(t *testing.T) {
	assert.Equal(t, TimingSameInstanceNum, TimingFor(true))
	assert.Equal(t, TimingAny, TimingFor(false))
}

func TestPanelClone_IsDeep(t *testing.T) {
	p := Panel{
		PanelTiming: TimingAny,
		Items: []Item{{
			QueryTerm: "/E2E/a/",
			Modifier:  &Modifier{ModifierKey: "/E2E/m/", AppliedPath: "/a/%"},
		}},
	}

	cp := p.Clone()
	cp.Items[0].Modifier.ModifierKey = "changed"
	cp.Items[0].QueryTerm = "changed"
	cp.PanelTiming = TimingSameInstanceNum

	assert.Equal(t, "/E2E/m/", p.Items[0].Modifier.ModifierKey)
	assert.Equal(t, "/E2E/a/", p.Items[0].QueryTerm)
	assert.False(t, p.SameInstance())
}

func TestAnyEncrypted(t *testing.T) {
	clear := Panel{Items: []Item{{QueryTerm: "/a/"}}}
	enc := Panel{Items: []Item{{QueryTerm: "/a/"}, {QueryTerm: "x", Encrypted: true}}}

	assert.False(t, AnyEncrypted([]Panel{clear}))
	assert.True(t, AnyEncrypted([]Panel{clear, enc}))
	assert.True(t, enc.HasEncryptedItem())
}

func TestPanelJSON_FieldNames(t *testing.T) {
	p := Panel{
		Not:         true,
		PanelTiming: TimingSameInstanceNum,
		Items: []Item{{
			QueryTerm: "/E2E/a/",
			Operator:  "EQ",
			Value:     "42",
			Type:      "NUMERICAL",
			Modifier:  &Modifier{ModifierKey: "/E2E/m/", AppliedPath: "/a/%"},
		}},
	}

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, true, raw["not"])
	assert.Equal(t, "sameinstancenum", raw["panelTiming"])

	item := raw["items"].([]any)[0].(map[string]any)
	assert.Equal(t, "/E2E/a/", item["queryTerm"])
	assert.Equal(t, false, item["encrypted"])
	assert.Equal(t, "/E2E/m/", item["modifier"].(map[string]any)["modifierKey"])
}
