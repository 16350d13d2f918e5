// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"errors"
	"fmt"

	"github.com/lca1/glowing-bear/pkg/extensions"
	"github.com/lca1/glowing-bear/services/explore/constraint"
	"github.com/lca1/glowing-bear/services/explore/mapping"
	"github.com/lca1/glowing-bear/services/explore/query"
)

// Process exit codes.
const (
	exitOK           = 0
	exitFailure      = 1
	exitUsage        = 2
	exitUnauthorized = 3
	exitTimeout      = 4
	exitNode         = 5
)

// CommandError is a command failure with the exit code it maps to.
//
// # Example
//
//	err := &CommandError{Command: "query", ExitCode: exitTimeout, Wrapped: query.ErrQueryTimeout}
//	fmt.Println(err) // "query (exit 4): explore query timed out"
type CommandError struct {
	// Command is the subcommand that failed.
	Command string

	// ExitCode is the process exit code.
	ExitCode int

	// Wrapped is the underlying error.
	Wrapped error
}

// Error returns "<command> (exit <code>): <cause>".
func (e *CommandError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// wrapCommandError classifies err for command. An existing *CommandError
// is returned as is.
func wrapCommandError(command string, err error) error {
	if err == nil {
		return nil
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return err
	}

	code := exitFailure
	var nodeErr *query.NodeError
	switch {
	case errors.Is(err, extensions.ErrUnauthorized):
		code = exitUnauthorized
	case errors.Is(err, query.ErrQueryTimeout):
		code = exitTimeout
	case errors.As(err, &nodeErr):
		code = exitNode
	case errors.Is(err, constraint.ErrInvalidJSON), errors.Is(err, mapping.ErrEncryptedItem),
		errors.Is(err, mapping.ErrEmptyPanel), errors.Is(err, mapping.ErrEmptyConstraint),
		errors.Is(err, mapping.ErrUnsupportedNesting):
		code = exitUsage
	}
	return &CommandError{Command: command, ExitCode: code, Wrapped: err}
}

// exitCode returns the process exit code for an Execute error.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitCode
	}
	return exitUsage
}
