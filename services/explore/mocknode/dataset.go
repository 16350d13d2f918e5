// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package mocknode

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/lca1/glowing-bear/services/explore/constraint"
)

// Dataset is the content of one development node.
//
// Example:
//
//	ontology:
//	  - path: /E/age/
//	    label: Age
//	    valueType: NUMERICAL
//	    isInteger: true
//	  - path: /E/modifiers/unit/
//	    label: Unit
//	    valueType: TEXT
//	    appliedPath: /E/%
//	patients:
//	  - id: 1
//	    observations:
//	      - concept: /E/age/
//	        value: "42"
//	cohorts:
//	  elderly: [1]
type Dataset struct {
	Ontology []OntologyEntry   `yaml:"ontology"`
	Patients []Patient         `yaml:"patients"`
	Cohorts  map[string][]int64 `yaml:"cohorts"`
}

// OntologyEntry is a concept, or a modifier when AppliedPath is set.
type OntologyEntry struct {
	Path         string              `yaml:"path"`
	Label        string              `yaml:"label"`
	ValueType    constraint.ValueType `yaml:"valueType"`
	IsInteger    bool                `yaml:"isInteger"`
	AppliedPath  string              `yaml:"appliedPath"`
	EncryptionID string              `yaml:"encryptionId"`
}

// IsModifier reports whether the entry is a modifier.
func (e OntologyEntry) IsModifier() bool {
	return e.AppliedPath != ""
}

// TreeNode returns the entry as served by the search endpoints.
func (e OntologyEntry) TreeNode() *constraint.TreeNode {
	return &constraint.TreeNode{
		Path:         e.Path,
		Label:        e.Label,
		ValueType:    e.ValueType,
		IsInteger:    e.IsInteger,
		AppliedPath:  e.AppliedPath,
		Encrypted:    e.EncryptionID != "",
		EncryptionID: e.EncryptionID,
	}
}

// Patient is one patient and the facts recorded for them.
type Patient struct {
	ID           int64         `yaml:"id"`
	Observations []Observation `yaml:"observations"`
}

// Observation is one fact. Modifier is the modifier key when the fact
// refines a concept.
type Observation struct {
	Concept  string `yaml:"concept"`
	Modifier string `yaml:"modifier"`
	Value    string `yaml:"value"`
}

// LoadDataset reads a YAML dataset file.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}
	return ParseDataset(data)
}

// ParseDataset decodes and checks a YAML dataset.
func ParseDataset(data []byte) (*Dataset, error) {
	var ds Dataset
	if err := yaml.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parsing dataset: %w", err)
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return &ds, nil
}

// Validate checks that paths are set, value types known and patient IDs
// unique.
func (d *Dataset) Validate() error {
	for i, e := range d.Ontology {
		if e.Path == "" {
			return fmt.Errorf("ontology entry %d: empty path", i)
		}
		switch e.ValueType {
		case constraint.ValueTypeNumerical, constraint.ValueTypeText, constraint.ValueTypeCategorical:
		default:
			return fmt.Errorf("ontology entry %s: unknown value type %q", e.Path, e.ValueType)
		}
	}
	seen := make(map[int64]bool, len(d.Patients))
	for _, p := range d.Patients {
		if seen[p.ID] {
			return fmt.Errorf("duplicate patient %d", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// conceptByPath returns the non-modifier entry for path.
func (d *Dataset) conceptByPath(path string) (OntologyEntry, bool) {
	for _, e := range d.Ontology {
		if !e.IsModifier() && e.Path == path {
			return e, true
		}
	}
	return OntologyEntry{}, false
}

// pathByEncryptionID maps an encrypted query term to its concept path.
func (d *Dataset) pathByEncryptionID(id string) (string, bool) {
	for _, e := range d.Ontology {
		if e.EncryptionID != "" && e.EncryptionID == id {
			return e.Path, true
		}
	}
	return "", false
}

// modifier returns the modifier entry with key that applies to appliedPath.
func (d *Dataset) modifier(key, appliedPath string) (OntologyEntry, bool) {
	for _, e := range d.Ontology {
		if e.IsModifier() && e.Path == key && e.AppliedPath == appliedPath {
			return e, true
		}
	}
	return OntologyEntry{}, false
}

// sortedIDs returns ids in ascending order.
func sortedIDs(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
