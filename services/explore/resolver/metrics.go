// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resolver

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("glowingbear.resolver")
	meter  = otel.Meter("glowingbear.resolver")
)

var (
	lookupHits    metric.Int64Counter
	lookupMisses  metric.Int64Counter
	lookupShared  metric.Int64Counter
	lookupLatency metric.Float64Histogram

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments once.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		lookupHits, err = meter.Int64Counter(
			"ontology_lookup_cache_hits_total",
			metric.WithDescription("Ontology lookups answered from the cache"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		lookupMisses, err = meter.Int64Counter(
			"ontology_lookup_cache_misses_total",
			metric.WithDescription("Ontology lookups sent to the nodes"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		lookupShared, err = meter.Int64Counter(
			"ontology_lookup_shared_total",
			metric.WithDescription("Lookups that joined an identical in-flight request"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		lookupLatency, err = meter.Float64Histogram(
			"ontology_lookup_duration_seconds",
			metric.WithDescription("Duration of ontology lookups"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordLookup(ctx context.Context, kind string, hit, shared bool, d time.Duration) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("kind", kind))
	if hit {
		lookupHits.Add(ctx, 1, attrs)
	} else {
		lookupMisses.Add(ctx, 1, attrs)
	}
	if shared {
		lookupShared.Add(ctx, 1, attrs)
	}
	lookupLatency.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("kind", kind), attribute.Bool("hit", hit)),
	)
}

func startLookupSpan(ctx context.Context, kind, key string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Resolver."+kind,
		trace.WithAttributes(
			attribute.String("lookup.kind", kind),
			attribute.String("lookup.key", key),
		),
	)
}
