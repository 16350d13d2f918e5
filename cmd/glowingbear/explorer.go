// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lca1/glowing-bear/cmd/glowingbear/config"
	"github.com/lca1/glowing-bear/pkg/extensions"
	"github.com/lca1/glowing-bear/pkg/logging"
	"github.com/lca1/glowing-bear/services/explore/alerts"
	"github.com/lca1/glowing-bear/services/explore/cohorts"
	"github.com/lca1/glowing-bear/services/explore/constraint"
	"github.com/lca1/glowing-bear/services/explore/crypto"
	"github.com/lca1/glowing-bear/services/explore/mapping"
	"github.com/lca1/glowing-bear/services/explore/network"
	"github.com/lca1/glowing-bear/services/explore/observability"
	"github.com/lca1/glowing-bear/services/explore/query"
	"github.com/lca1/glowing-bear/services/explore/resolver"
	"github.com/lca1/glowing-bear/services/explore/transport"
)

// alertBufferSize bounds the alerts kept for /v1/alerts and CLI output.
const alertBufferSize = 256

// explorer is the explore stack built from one config.
//
// # Description
//
// One node registry backs the query service, the ontology resolver and
// the patient-list fanout, so replacing the registry retargets all three.
// The ephemeral key pair lives as long as the explorer.
type explorer struct {
	nodes    *network.Registry
	client   *transport.Client
	store    *resolver.Store
	resolver *resolver.Cached
	keys     *crypto.EphemeralKeys
	query    *query.Service
	reverse  *mapping.ReverseMapper
	fanout   *transport.PatientListFanout
	alerts   *alerts.Buffer
	sink     alerts.Sink
	metrics  *observability.Metrics
	logger   *logging.Logger
}

// newExplorer wires the explore stack. metrics may be nil.
func newExplorer(cfg config.Config, logger *logging.Logger, metrics *observability.Metrics) (*explorer, error) {
	nodes, err := network.NewRegistry(cfg.NetworkNodes()...)
	if err != nil {
		return nil, err
	}

	store, err := openResolverStore(cfg.Resolver.CacheDir, logger)
	if err != nil {
		return nil, err
	}

	keys, err := crypto.NewEphemeralKeys(crypto.PlainScheme{}, crypto.WithLogger(logger))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("generate ephemeral keys: %w", err)
	}

	buffer := alerts.NewBuffer(alertBufferSize)
	sink := alerts.Fanout{buffer, alerts.NewLogSink(logger)}

	client := transport.NewClient(cfg.TransportOptions(logger))
	cached := resolver.NewCached(resolver.NewNodeResolver(client, nodes, logger), store.DB, cfg.Resolver.TTL, logger)

	return &explorer{
		nodes:    nodes,
		client:   client,
		store:    store,
		resolver: cached,
		keys:     keys,
		query: query.NewService(client, nodes, keys,
			query.WithTimeout(cfg.Query.Timeout),
			query.WithMetrics(metrics),
			query.WithLogger(logger)),
		reverse: mapping.NewReverseMapper(cached, constraint.NewRegistry(), sink, logger),
		fanout:  transport.NewPatientListFanout(client, nodes),
		alerts:  buffer,
		sink:    sink,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// newCohorts returns a patient-list cache for session.
func (e *explorer) newCohorts(session cohorts.Session, audit extensions.AuditLogger) *cohorts.Service {
	return cohorts.NewService(session, e.fanout, e.keys,
		cohorts.WithAlerts(e.sink),
		cohorts.WithAudit(audit),
		cohorts.WithMetrics(e.metrics),
		cohorts.WithLogger(e.logger))
}

// applyConfig retargets the stack at the nodes of cfg. Cached ontology
// lookups are dropped since they may come from removed nodes.
func (e *explorer) applyConfig(cfg config.Config) error {
	if err := e.nodes.Replace(cfg.NetworkNodes()); err != nil {
		return err
	}
	return e.resolver.Purge()
}

func (e *explorer) close() {
	e.keys.Close()
	if err := e.store.Close(); err != nil {
		e.logger.Warn("closing resolver cache", "error", err)
	}
}

// openResolverStore opens the on-disk lookup cache, falling back to memory
// when dir is empty or locked by another process.
func openResolverStore(dir string, logger *logging.Logger) (*resolver.Store, error) {
	if dir == "" {
		return resolver.OpenStore(resolver.InMemoryStoreConfig())
	}
	cfg := resolver.DefaultStoreConfig(expandHome(dir))
	cfg.Logger = logger
	store, err := resolver.OpenStore(cfg)
	if err == nil {
		return store, nil
	}
	logger.Warn("resolver cache unavailable, using memory", "dir", dir, "error", err)
	return resolver.OpenStore(resolver.InMemoryStoreConfig())
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
