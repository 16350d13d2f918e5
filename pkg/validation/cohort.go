// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation checks user-provided identifiers before they reach
// node requests, cache keys or log lines.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidCohortName is wrapped by every cohort name rejection.
var ErrInvalidCohortName = errors.New("invalid cohort name")

// cohortNamePattern matches saved cohort names.
// Allows: letters, digits, space, underscore, dot, hyphen
// Max length: 128 characters, first character alphanumeric
var cohortNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 _.\-]{0,127}$`)

// ValidateCohortName validates a cohort name taken from a URL path or the
// command line.
//
// Example:
//
//	if err := validation.ValidateCohortName(name); err != nil {
//	    return err
//	}
//	// Safe to send to the nodes and to use as a cache key
func ValidateCohortName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: cannot be empty", ErrInvalidCohortName)
	}
	if !cohortNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q (1-128 letters, digits, spaces, '_', '.' or '-', starting alphanumeric)", ErrInvalidCohortName, name)
	}
	return nil
}

// ValidateCohortNames validates several names and lists every invalid one.
func ValidateCohortNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateCohortName(n); err != nil {
			invalid = append(invalid, n)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: %q", ErrInvalidCohortName, invalid)
	}
	return nil
}

// SanitizeCohortName trims surrounding space and validates the result.
func SanitizeCohortName(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if err := ValidateCohortName(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
