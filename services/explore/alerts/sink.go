// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package alerts carries non-fatal, user-visible notices.
//
// # Description
//
// Some conditions are reported to the user without failing the operation
// that met them: an unknown operator found while reverse mapping a saved
// query, or a patient-list request that is already in flight. Those go to
// a Sink. Sinks never return errors.
package alerts

import (
	"sync"
	"time"

	"github.com/lca1/glowing-bear/pkg/logging"
)

// Severity of an alert.
type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

// Sink receives alerts. Implementations must be safe for concurrent use.
type Sink interface {
	Alert(severity Severity, message string)
}

// Alert is a recorded notice.
type Alert struct {
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// =============================================================================
// LogSink
// =============================================================================

// LogSink writes alerts to a logger at the matching level.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink returns a sink logging through logger.
func NewLogSink(logger *logging.Logger) *LogSink {
	return &LogSink{logger: logging.OrDefault(logger)}
}

// Alert logs the message.
func (s *LogSink) Alert(severity Severity, message string) {
	switch severity {
	case SeverityError:
		s.logger.Error(message, "alert", true)
	case SeverityWarn:
		s.logger.Warn(message, "alert", true)
	default:
		s.logger.Info(message, "alert", true)
	}
}

// =============================================================================
// Buffer
// =============================================================================

// Buffer keeps the most recent alerts in memory, dropping the oldest when
// full. The gateway serves its content; tests use it to count alerts.
type Buffer struct {
	mu     sync.Mutex
	alerts []Alert
	size   int
	now    func() time.Time
}

// DefaultBufferSize is used when NewBuffer is given a non-positive size.
const DefaultBufferSize = 256

// NewBuffer returns a buffer holding at most size alerts.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &Buffer{size: size, now: time.Now}
}

// Alert records the message.
func (b *Buffer) Alert(severity Severity, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.alerts) >= b.size {
		b.alerts = b.alerts[1:]
	}
	b.alerts = append(b.alerts, Alert{Severity: severity, Message: message, Timestamp: b.now()})
}

// Alerts returns a copy of the buffered alerts, oldest first.
func (b *Buffer) Alerts() []Alert {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Alert, len(b.alerts))
	copy(out, b.alerts)
	return out
}

// Count returns how many buffered alerts have the given severity.
func (b *Buffer) Count(severity Severity) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, a := range b.alerts {
		if a.Severity == severity {
			n++
		}
	}
	return n
}

// =============================================================================
// Fanout
// =============================================================================

// Fanout forwards every alert to all of its sinks.
type Fanout []Sink

// Alert forwards to each sink.
func (f Fanout) Alert(severity Severity, message string) {
	for _, s := range f {
		if s != nil {
			s.Alert(severity, message)
		}
	}
}

// Discard drops every alert.
var Discard Sink = Fanout(nil)

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*Buffer)(nil)
	_ Sink = Fanout(nil)
)
