// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package query runs explore queries across the federation.
//
// # Description
//
// A query is forward mapped to panels once and sent to every node
// concurrently with the same ID, panels and ephemeral public key. The call
// succeeds only if every node answers within the global timeout; partial
// results are never returned.
package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lca1/glowing-bear/pkg/logging"
	"github.com/lca1/glowing-bear/services/explore/constraint"
	"github.com/lca1/glowing-bear/services/explore/i2b2"
	"github.com/lca1/glowing-bear/services/explore/mapping"
	"github.com/lca1/glowing-bear/services/explore/network"
	"github.com/lca1/glowing-bear/services/explore/observability"
	"github.com/lca1/glowing-bear/services/explore/transport"
)

// DefaultTimeout bounds a whole explore query across all nodes.
const DefaultTimeout = 10 * time.Minute

// ErrQueryTimeout is returned when not every node answered in time.
var ErrQueryTimeout = errors.New("explore query timed out")

var tracer = otel.Tracer("glowingbear.query")

// NodeError is the failure of one node, which fails the whole query.
type NodeError struct {
	QueryID string
	Node    network.Node
	Err     error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("query %s: node %s: %v", e.QueryID, e.Node.Name, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// Transport posts a query to one node.
type Transport interface {
	PostQuery(ctx context.Context, node network.Node, req transport.ExploreQueryRequest) (*transport.ExploreQueryResult, error)
}

// KeySource provides the ephemeral public key results are encrypted for.
type KeySource interface {
	EphemeralPublicKey() string
}

// ExploreQuery is one logical query.
type ExploreQuery struct {
	ID                         string                `json:"id"`
	QueryTimingSameInstanceNum bool                  `json:"queryTimingSameInstanceNum"`
	Constraint                 constraint.Constraint `json:"-"`
}

// NewExploreQuery returns a query with a fresh ID.
func NewExploreQuery(c constraint.Constraint, sameInstance bool) ExploreQuery {
	return ExploreQuery{
		ID:                         uuid.NewString(),
		QueryTimingSameInstanceNum: sameInstance,
		Constraint:                 c,
	}
}

// NodeResult is one node's encrypted answer.
type NodeResult struct {
	Node   network.Node                 `json:"node"`
	Result transport.ExploreQueryResult `json:"result"`
}

// Option configures a Service.
type Option func(*Service)

// WithTimeout replaces DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMetrics records query metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = logging.OrDefault(l) }
}

// Service runs explore queries.
//
// # Thread Safety
//
// Safe for concurrent use. Queries do not share state.
type Service struct {
	transport Transport
	nodes     network.NodeSource
	keys      KeySource
	mapper    mapping.ForwardMapper
	timeout   time.Duration
	metrics   *observability.Metrics
	logger    *logging.Logger
}

// NewService returns a Service querying the nodes of src through t.
func NewService(t Transport, src network.NodeSource, keys KeySource, opts ...Option) *Service {
	s := &Service{
		transport: t,
		nodes:     src,
		keys:      keys,
		timeout:   DefaultTimeout,
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PreparePanelTimings returns a copy of panels in which, unless the query
// itself is same-instance, every panel timing is ANY. Query timing always
// dominates panel timing.
func PreparePanelTimings(panels []i2b2.Panel, queryTimingSameInstance bool) []i2b2.Panel {
	out := i2b2.ClonePanels(panels)
	if !queryTimingSameInstance {
		for i := range out {
			out[i].PanelTiming = i2b2.TimingAny
		}
	}
	return out
}

// ExploreQuery runs q on every node.
//
// # Description
//
// Exactly one request per node is issued. The first node failure cancels
// the others. When the global timeout fires first, the whole query fails
// with ErrQueryTimeout.
//
// # Outputs
//
//   - []NodeResult: One entry per node, in node order.
//   - error: *NodeError, ErrQueryTimeout, a mapping error, or the
//     caller's context error.
func (s *Service) ExploreQuery(ctx context.Context, q ExploreQuery) ([]NodeResult, error) {
	if q.ID == "" {
		q.ID = uuid.NewString()
	}

	panels, err := s.mapper.MapConstraint(q.Constraint)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", q.ID, err)
	}
	panels = PreparePanelTimings(panels, q.QueryTimingSameInstanceNum)

	nodes := s.nodes.Nodes()
	if len(nodes) == 0 {
		return nil, fmt.Errorf("query %s: %w", q.ID, network.ErrNoNodes)
	}

	req := transport.ExploreQueryRequest{
		ID: q.ID,
		Query: transport.ExploreQueryBody{
			QueryTiming:   i2b2.TimingFor(q.QueryTimingSameInstanceNum),
			UserPublicKey: s.keys.EphemeralPublicKey(),
			Panels:        panels,
		},
	}

	ctx, span := tracer.Start(ctx, "Query.ExploreQuery",
		trace.WithAttributes(
			attribute.String("query.id", q.ID),
			attribute.Int("query.nodes", len(nodes)),
			attribute.Int("query.panels", len(panels)),
		),
	)
	defer span.End()

	start := time.Now()
	s.metrics.QueryStarted()
	s.logger.Info("explore query issued", "query_id", q.ID, "nodes", len(nodes), "panels", len(panels))

	results, err := s.fanOut(ctx, nodes, req)

	status := observability.QueryStatusSuccess
	if err != nil {
		status = observability.QueryStatusError
		if errors.Is(err, ErrQueryTimeout) {
			status = observability.QueryStatusTimeout
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("explore query failed", "query_id", q.ID, "error", err)
	} else {
		s.logger.Info("explore query done", "query_id", q.ID, "duration", time.Since(start))
	}
	s.metrics.QueryFinished(status, time.Since(start))
	return results, err
}

func (s *Service) fanOut(ctx context.Context, nodes []network.Node, req transport.ExploreQueryRequest) ([]NodeResult, error) {
	tctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	results := make([]NodeResult, len(nodes))
	g, gctx := errgroup.WithContext(tctx)
	for i, node := range nodes {
		g.Go(func() error {
			res, err := s.transport.PostQuery(gctx, node, req)
			s.metrics.RecordNodeRequest(node.Name, err == nil)
			if err != nil {
				return &NodeError{QueryID: req.ID, Node: node, Err: err}
			}
			if res == nil {
				return &NodeError{QueryID: req.ID, Node: node, Err: errors.New("empty answer")}
			}
			results[i] = NodeResult{Node: node, Result: *res}
			return nil
		})
	}

	err := g.Wait()
	switch {
	case err == nil:
		return results, nil
	case ctx.Err() != nil:
		return nil, fmt.Errorf("query %s: %w", req.ID, ctx.Err())
	case errors.Is(tctx.Err(), context.DeadlineExceeded):
		return nil, fmt.Errorf("query %s after %s: %w", req.ID, s.timeout, ErrQueryTimeout)
	default:
		return nil, err
	}
}
