// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package query

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lca1/glowing-bear/pkg/logging"
	"github.com/lca1/glowing-bear/services/explore/constraint"
	"github.com/lca1/glowing-bear/services/explore/i2b2"
	"github.com/lca1/glowing-bear/services/explore/mapping"
	"github.com/lca1/glowing-bear/services/explore/network"
	"github.com/lca1/glowing-bear/services/explore/observability"
	"github.com/lca1/glowing-bear/services/explore/transport"
)

type recordingTransport struct {
	mu       sync.Mutex
	requests map[string]transport.ExploreQueryRequest
	failing  map[string]error
	block    bool
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{
		requests: make(map[string]transport.ExploreQueryRequest),
		failing:  make(map[string]error),
	}
}

func (t *recordingTransport) PostQuery(ctx context.Context, node network.Node, req transport.ExploreQueryRequest) (*transport.ExploreQueryResult, error) {
	t.mu.Lock()
	t.requests[node.Name] = req
	err := t.failing[node.Name]
	t.mu.Unlock()

	if t.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &transport.ExploreQueryResult{EncryptedCount: "count-" + node.Name}, nil
}

type staticKey string

func (k staticKey) EphemeralPublicKey() string { return string(k) }

func threeNodes() network.Static {
	return network.Static{
		{Index: 0, Name: "a", URL: "http://a"},
		{Index: 1, Name: "b", URL: "http://b"},
		{Index: 2, Name: "c", URL: "http://c"},
	}
}

func sameInstanceConstraint() constraint.Constraint {
	x := constraint.NewConceptConstraint(&constraint.TreeNode{Path: "/E/x/", ValueType: constraint.ValueTypeCategorical})
	x.SetSameInstance(true)
	y := constraint.NewConceptConstraint(&constraint.TreeNode{Path: "/E/y/", ValueType: constraint.ValueTypeCategorical})
	return constraint.NewCombination(constraint.CombinationAnd, x, y)
}

func TestExploreQuery_OneRequestPerNodeInOrder(t *testing.T) {
	tr := newRecordingTransport()
	svc := NewService(tr, threeNodes(), staticKey("pub"), WithLogger(logging.Nop()))

	q := NewExploreQuery(sameInstanceConstraint(), true)
	results, err := svc.ExploreQuery(context.Background(), q)
	require.NoError(t, err)

	require.Len(t, results, 3)
	for i, name := range []string{"a", "b", "c"} {
		assert.Equal(t, name, results[i].Node.Name)
		assert.Equal(t, "count-"+name, results[i].Result.EncryptedCount)
	}

	require.Len(t, tr.requests, 3)
	for _, req := range tr.requests {
		assert.Equal(t, q.ID, req.ID)
		assert.Equal(t, "pub", req.Query.UserPublicKey)
		assert.Equal(t, i2b2.TimingSameInstanceNum, req.Query.QueryTiming)
		assert.Equal(t, i2b2.TimingSameInstanceNum, req.Query.Panels[0].PanelTiming)
		assert.Equal(t, i2b2.TimingAny, req.Query.Panels[1].PanelTiming)
	}
}

func TestExploreQuery_QueryTimingDominates(t *testing.T) {
	tr := newRecordingTransport()
	svc := NewService(tr, threeNodes(), staticKey("pub"), WithLogger(logging.Nop()))

	_, err := svc.ExploreQuery(context.Background(), NewExploreQuery(sameInstanceConstraint(), false))
	require.NoError(t, err)

	for _, req := range tr.requests {
		assert.Equal(t, i2b2.TimingAny, req.Query.QueryTiming)
		for _, p := range req.Query.Panels {
			assert.Equal(t, i2b2.TimingAny, p.PanelTiming)
		}
	}
}

func TestPreparePanelTimings_DoesNotMutateInput(t *testing.T) {
	in := []i2b2.Panel{{PanelTiming: i2b2.TimingSameInstanceNum, Items: []i2b2.Item{{QueryTerm: "/x/"}}}}

	out := PreparePanelTimings(in, false)
	assert.Equal(t, i2b2.TimingAny, out[0].PanelTiming)
	assert.Equal(t, i2b2.TimingSameInstanceNum, in[0].PanelTiming)

	kept := PreparePanelTimings(in, true)
	assert.Equal(t, i2b2.TimingSameInstanceNum, kept[0].PanelTiming)
}

func TestExploreQuery_NodeErrorFailsWhole(t *testing.T) {
	tr := newRecordingTransport()
	tr.failing["b"] = errors.New("connection refused")
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	svc := NewService(tr, threeNodes(), staticKey("pub"), WithLogger(logging.Nop()), WithMetrics(m))

	results, err := svc.ExploreQuery(context.Background(), NewExploreQuery(sameInstanceConstraint(), true))
	assert.Nil(t, results)

	var nodeErr *NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "b", nodeErr.Node.Name)
	assert.ErrorContains(t, err, "connection refused")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NodeRequestsTotal.WithLabelValues("b", "error")))
}

func TestExploreQuery_Timeout(t *testing.T) {
	tr := newRecordingTransport()
	tr.block = true
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	svc := NewService(tr, threeNodes(), staticKey("pub"),
		WithTimeout(30*time.Millisecond), WithLogger(logging.Nop()), WithMetrics(m))

	results, err := svc.ExploreQuery(context.Background(), NewExploreQuery(sameInstanceConstraint(), true))
	assert.Nil(t, results)
	assert.ErrorIs(t, err, ErrQueryTimeout)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues("timeout")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveQueries))
}

// slowNode answers explore queries after delay.
func slowNode(t *testing.T, delay time.Duration) network.Static {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(delay):
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write([]byte(`{"result":{"encryptedCount":"x"}}`))
	}))
	t.Cleanup(srv.Close)
	return network.Static{{Index: 0, Name: "slow", URL: srv.URL}}
}

func TestExploreQuery_ClientTimeoutDoesNotCapQuery(t *testing.T) {
	client := transport.NewClient(transport.Options{Timeout: 20 * time.Millisecond, Logger: logging.Nop()})
	svc := NewService(client, slowNode(t, 100*time.Millisecond), staticKey("pub"),
		WithTimeout(5*time.Second), WithLogger(logging.Nop()))

	results, err := svc.ExploreQuery(context.Background(), NewExploreQuery(sameInstanceConstraint(), true))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "x", results[0].Result.EncryptedCount)
}

func TestExploreQuery_SlowNodeHitsQueryTimeout(t *testing.T) {
	client := transport.NewClient(transport.Options{Timeout: 20 * time.Millisecond, Logger: logging.Nop()})
	svc := NewService(client, slowNode(t, 2*time.Second), staticKey("pub"),
		WithTimeout(100*time.Millisecond), WithLogger(logging.Nop()))

	_, err := svc.ExploreQuery(context.Background(), NewExploreQuery(sameInstanceConstraint(), true))
	assert.ErrorIs(t, err, ErrQueryTimeout)
}

func TestExploreQuery_CallerCancellation(t *testing.T) {
	tr := newRecordingTransport()
	tr.block = true
	svc := NewService(tr, threeNodes(), staticKey("pub"), WithLogger(logging.Nop()))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := svc.ExploreQuery(ctx, NewExploreQuery(sameInstanceConstraint(), true))
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrQueryTimeout))
}

func TestExploreQuery_MappingAndNodeErrors(t *testing.T) {
	svc := NewService(newRecordingTransport(), threeNodes(), staticKey("pub"), WithLogger(logging.Nop()))
	_, err := svc.ExploreQuery(context.Background(), ExploreQuery{})
	assert.ErrorIs(t, err, mapping.ErrEmptyConstraint)

	svc = NewService(newRecordingTransport(), network.Static{}, staticKey("pub"), WithLogger(logging.Nop()))
	_, err = svc.ExploreQuery(context.Background(), NewExploreQuery(sameInstanceConstraint(), false))
	assert.ErrorIs(t, err, network.ErrNoNodes)
}

func TestNewExploreQuery_UniqueIDs(t *testing.T) {
	a := NewExploreQuery(nil, false)
	b := NewExploreQuery(nil, false)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
}
