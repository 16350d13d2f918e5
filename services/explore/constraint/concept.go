// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package constraint

import "strings"

// TreeNode is resolved ontology metadata for a concept or a modifier.
//
// # Description
//
// TreeNodes are produced by the concept resolver and owned by its cache.
// Constraints keep a reference to the node they were built from. When the
// node describes a modifier, AppliedConcept holds the concept the modifier
// applies to.
type TreeNode struct {
	Path         string    `json:"path"`
	Label        string    `json:"label"`
	ValueType    ValueType `json:"valueType"`
	IsInteger    bool      `json:"isInteger,omitempty"`
	AppliedPath  string    `json:"appliedPath,omitempty"`
	Encrypted    bool      `json:"encrypted,omitempty"`
	EncryptionID string    `json:"encryptionId,omitempty"`

	// AppliedConcept is set on modifier nodes only.
	AppliedConcept *TreeNode `json:"appliedConcept,omitempty"`
}

// IsModifier reports whether the node describes a modifier.
func (n *TreeNode) IsModifier() bool {
	return n != nil && n.AppliedConcept != nil
}

// Clone returns a deep copy of the node.
func (n *TreeNode) Clone() *TreeNode {
	if n == nil {
		return nil
	}
	c := *n
	c.AppliedConcept = n.AppliedConcept.Clone()
	return &c
}

// ModifierInfo identifies the modifier part of a modifier concept.
type ModifierInfo struct {
	Key                string `json:"key"`
	AppliedPath        string `json:"appliedPath"`
	AppliedConceptPath string `json:"appliedConceptPath"`
}

// Concept is the concept referenced by a ConceptConstraint.
//
// For modifier concepts Path is the modified concept path (see
// ModifiedConceptPath) and Modifier is non-nil.
type Concept struct {
	Path         string        `json:"path"`
	Label        string        `json:"label"`
	Type         ValueType     `json:"type"`
	IsInteger    bool          `json:"isInteger,omitempty"`
	Modifier     *ModifierInfo `json:"modifier,omitempty"`
	Encrypted    bool          `json:"encrypted,omitempty"`
	EncryptionID string        `json:"encryptionId,omitempty"`
}

// Clone returns a deep copy of the concept.
func (c *Concept) Clone() *Concept {
	if c == nil {
		return nil
	}
	cp := *c
	if c.Modifier != nil {
		m := *c.Modifier
		cp.Modifier = &m
	}
	return &cp
}

// ConceptFromTreeNode builds the Concept described by a resolved tree node.
func ConceptFromTreeNode(node *TreeNode) *Concept {
	if node == nil {
		return nil
	}
	c := &Concept{
		Path:         node.Path,
		Label:        node.Label,
		Type:         node.ValueType,
		IsInteger:    node.IsInteger,
		Encrypted:    node.Encrypted,
		EncryptionID: node.EncryptionID,
	}
	if node.IsModifier() {
		c.Path = ModifiedConceptPath(node.AppliedConcept.Path, node.Path)
		c.Modifier = &ModifierInfo{
			Key:                node.Path,
			AppliedPath:        node.AppliedPath,
			AppliedConceptPath: node.AppliedConcept.Path,
		}
	}
	return c
}

// ModifiedConceptPath combines a concept path with a modifier key into the
// path identifying the modifier applied to that concept.
//
// The modifier key loses its leading table segment and is appended to the
// concept path:
//
//	ModifiedConceptPath("/E2E/e2etest/1/", "/E2E/modifiers/1/")
//	// "/E2E/e2etest/1/modifiers/1/"
func ModifiedConceptPath(conceptPath, modifierKey string) string {
	base := conceptPath
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	trimmed := strings.Trim(modifierKey, "/")
	if trimmed == "" {
		return base
	}
	segments := strings.Split(trimmed, "/")
	if len(segments) == 1 {
		return base + strings.Join(segments, "/") + "/"
	}
	return base + strings.Join(segments[1:], "/") + "/"
}
