// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
)

func TestInitTelemetry_BridgesMetricsToRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	shutdown, err := InitTelemetry(context.Background(), TelemetryConfig{
		ServiceName: "glowingbear-test",
		Registerer:  reg,
	})
	if err != nil {
		t.Fatalf("InitTelemetry: %v", err)
	}
	defer shutdown(context.Background())

	counter, err := otel.Meter("glowingbear.test").Int64Counter("glowingbear_test_lookups")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	counter.Add(context.Background(), 3)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, f := range families {
		if strings.HasPrefix(f.GetName(), "glowingbear_test_lookups") {
			found = true
		}
	}
	if !found {
		t.Error("otel counter not exported to the registry")
	}
}

func TestInitTelemetry_NoExporters(t *testing.T) {
	shutdown, err := InitTelemetry(context.Background(), TelemetryConfig{ServiceName: "glowingbear-test"})
	if err != nil {
		t.Fatalf("InitTelemetry: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
