// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mapping converts between constraint trees and i2b2 panels.
//
// # Description
//
// ForwardMapper turns a constraint into the panels sent to the nodes.
// ReverseMapper turns the panels of a saved query back into a constraint
// so it can be displayed and edited. Reverse mapping refuses encrypted
// items as a whole: it never returns a partial tree.
package mapping

import "errors"

var (
	// ErrEncryptedItem is returned when a panel set holds an encrypted
	// item. Encrypted concept identities cannot be recovered client side.
	ErrEncryptedItem = errors.New("encrypted item cannot be reverse mapped")

	// ErrEmptyPanel is returned for an empty panel list or a panel
	// without items.
	ErrEmptyPanel = errors.New("empty panel")

	// ErrConceptNotFound is returned when the resolver knows no tree node
	// for an item.
	ErrConceptNotFound = errors.New("concept not found")

	// ErrEmptyConstraint is returned when forward mapping meets a nil
	// constraint or a combination without children.
	ErrEmptyConstraint = errors.New("constraint produces no panel")

	// ErrUnsupportedNesting is returned when a constraint tree cannot be
	// expressed as panels, such as an OR containing a combination.
	ErrUnsupportedNesting = errors.New("constraint nesting not expressible as panels")
)
