// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package extensions

import (
	"context"
	"sync"
	"time"

	"github.com/lca1/glowing-bear/pkg/logging"
)

// AuditEvent records access to sensitive data, such as patient lists.
//
// Metadata must never carry patient identifiers or key material.
type AuditEvent struct {
	// EventType categorizes the event, e.g. "cohort.patient_list".
	EventType string

	// Timestamp is when the event occurred (UTC).
	Timestamp time.Time

	// UserID identifies the acting user.
	UserID string

	// Action is the attempted operation, e.g. "read", "insert", "delete".
	Action string

	// ResourceType is the kind of resource, e.g. "cohort".
	ResourceType string

	// ResourceID identifies the resource, e.g. the cohort name.
	ResourceID string

	// Outcome is "success", "denied" or "error".
	Outcome string

	// Metadata holds additional non-sensitive context.
	Metadata map[string]any
}

// AuditLogger records audit events.
//
// Implementations must be safe for concurrent use and should not block
// the caller for long; audit failures are reported but never abort the
// audited operation.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
}

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

// Log does nothing.
func (l *NopAuditLogger) Log(context.Context, AuditEvent) error { return nil }

// MemoryAuditLogger keeps events in memory. Used by tests and by the
// gateway's local mode.
type MemoryAuditLogger struct {
	mu     sync.Mutex
	events []AuditEvent
}

// NewMemoryAuditLogger returns an empty in-memory audit log.
func NewMemoryAuditLogger() *MemoryAuditLogger {
	return &MemoryAuditLogger{}
}

// Log appends the event.
func (l *MemoryAuditLogger) Log(_ context.Context, event AuditEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	l.events = append(l.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (l *MemoryAuditLogger) Events() []AuditEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]AuditEvent, len(l.events))
	copy(out, l.events)
	return out
}

// LogAuditLogger writes events to a structured logger at Info level,
// under the "audit" attribute group.
type LogAuditLogger struct {
	logger *logging.Logger
}

// NewLogAuditLogger returns an audit logger writing to logger.
func NewLogAuditLogger(logger *logging.Logger) *LogAuditLogger {
	return &LogAuditLogger{logger: logging.OrDefault(logger)}
}

// Log writes the event.
func (l *LogAuditLogger) Log(_ context.Context, event AuditEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	args := []any{
		"event_type", event.EventType,
		"user", event.UserID,
		"action", event.Action,
		"resource_type", event.ResourceType,
		"resource_id", event.ResourceID,
		"outcome", event.Outcome,
		"at", event.Timestamp,
	}
	for k, v := range event.Metadata {
		args = append(args, k, v)
	}
	l.logger.Info("audit", args...)
	return nil
}

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*MemoryAuditLogger)(nil)
	_ AuditLogger = (*LogAuditLogger)(nil)
)
