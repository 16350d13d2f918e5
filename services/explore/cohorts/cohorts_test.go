// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cohorts

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lca1/glowing-bear/pkg/extensions"
	"github.com/lca1/glowing-bear/pkg/logging"
	"github.com/lca1/glowing-bear/services/explore/alerts"
	"github.com/lca1/glowing-bear/services/explore/crypto"
	"github.com/lca1/glowing-bear/services/explore/network"
	"github.com/lca1/glowing-bear/services/explore/observability"
	"github.com/lca1/glowing-bear/services/explore/transport"
)

var testNodes = []network.Node{
	{Index: 0, Name: "a", URL: "http://a"},
	{Index: 1, Name: "b", URL: "http://b"},
}

// fakeLister answers with the lists encrypted for the request's public key.
// When gate is set it blocks until gate is closed.
type fakeLister struct {
	lists map[string][]int64
	err   error
	gate  chan struct{}

	calls   atomic.Int32
	mu      sync.Mutex
	lastReq transport.PatientListRequest
}

func (f *fakeLister) PostCohortsPatientListAllNodes(ctx context.Context, req transport.PatientListRequest) ([]transport.NodePatientList, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastReq = req
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}

	var scheme crypto.PlainScheme
	out := make([]transport.NodePatientList, 0, len(testNodes))
	for _, n := range testNodes {
		var cts []string
		for _, v := range f.lists[n.Name] {
			cts = append(cts, scheme.EncryptInt(req.UserPublicKey, v))
		}
		out = append(out, transport.NodePatientList{Node: n, Result: transport.PatientListResult{Results: cts}})
	}
	return out, nil
}

func allowed() *extensions.AuthInfo {
	return &extensions.AuthInfo{UserID: "alice", Roles: []string{extensions.RolePatientList}}
}

type harness struct {
	svc     *Service
	lister  *fakeLister
	alerts  *alerts.Buffer
	audit   *extensions.MemoryAuditLogger
	metrics *observability.Metrics
}

func newHarness(t *testing.T, session Session, lister *fakeLister) *harness {
	t.Helper()
	keys, err := crypto.NewEphemeralKeys(crypto.PlainScheme{})
	require.NoError(t, err)
	t.Cleanup(keys.Close)

	h := &harness{
		lister:  lister,
		alerts:  alerts.NewBuffer(16),
		audit:   extensions.NewMemoryAuditLogger(),
		metrics: observability.NewMetrics(prometheus.NewRegistry()),
	}
	h.svc = NewService(session, lister, keys,
		WithAlerts(h.alerts),
		WithAudit(h.audit),
		WithMetrics(h.metrics),
		WithLogger(logging.Nop()),
		WithClock(func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }),
	)
	t.Cleanup(h.svc.Close)
	return h
}

func drain(ch <-chan OperationStatus) []OperationStatus {
	var out []OperationStatus
	for {
		select {
		case st, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, st)
		default:
			return out
		}
	}
}

func TestGetList_FetchesDecryptsAndCaches(t *testing.T) {
	lister := &fakeLister{lists: map[string][]int64{"a": {1, 2, 3}, "b": {7}}}
	h := newHarness(t, allowed(), lister)

	ch, cancel := h.svc.StatusNotifier("c1").Subscribe()
	defer cancel()

	got, err := h.svc.GetList(context.Background(), "c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []string{"a", "b"}, []string{got.Nodes[0].Name, got.Nodes[1].Name})
	assert.Equal(t, [][]int64{{1, 2, 3}, {7}}, got.Lists)

	assert.Equal(t, []OperationStatus{StatusWaitOnAPI, StatusDecryption, StatusDone}, drain(ch))
	st, ok := h.svc.Status("c1")
	require.True(t, ok)
	assert.Equal(t, StatusDone, st)

	assert.True(t, strings.HasPrefix(lister.lastReq.ID, PatientListIDPrefix))
	assert.Equal(t, "c1", lister.lastReq.CohortName)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PatientListRequestsTotal.WithLabelValues("fetched")))

	events := h.audit.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "success", events[0].Outcome)
	assert.Equal(t, "c1", events[0].ResourceID)
	assert.Equal(t, "alice", events[0].UserID)
}

func TestGetList_CachedSecondCall(t *testing.T) {
	lister := &fakeLister{lists: map[string][]int64{"a": {1}, "b": {2}}}
	h := newHarness(t, allowed(), lister)

	first, err := h.svc.GetList(context.Background(), "c1")
	require.NoError(t, err)

	ch, cancel := h.svc.StatusNotifier("c1").Subscribe()
	defer cancel()

	second, err := h.svc.GetList(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), lister.calls.Load())
	assert.Equal(t, []OperationStatus{StatusDone}, drain(ch))

	second.Lists[0][0] = 99
	third, err := h.svc.GetList(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), third.Lists[0][0], "callers get copies")
}

func TestGetList_DeduplicatesInFlight(t *testing.T) {
	lister := &fakeLister{lists: map[string][]int64{"a": {1}, "b": {2}}, gate: make(chan struct{})}
	h := newHarness(t, allowed(), lister)

	ch, cancel := h.svc.StatusNotifier("c1").Subscribe()
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.GetList(context.Background(), "c1")
		done <- err
	}()

	require.Eventually(t, func() bool {
		st, _ := h.svc.Status("c1")
		return st == StatusWaitOnAPI
	}, time.Second, time.Millisecond)

	got, err := h.svc.GetList(context.Background(), "c1")
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, 1, h.alerts.Count(alerts.SeverityWarn))

	close(lister.gate)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), lister.calls.Load())
	assert.Equal(t, []OperationStatus{StatusWaitOnAPI, StatusDecryption, StatusDone}, drain(ch))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PatientListRequestsTotal.WithLabelValues("deduplicated")))
}

func TestGetList_MissingRole(t *testing.T) {
	lister := &fakeLister{}
	h := newHarness(t, &extensions.AuthInfo{UserID: "bob"}, lister)

	got, err := h.svc.GetList(context.Background(), "c1")
	assert.Nil(t, got)

	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, "bob", authErr.User)
	assert.ErrorIs(t, err, extensions.ErrUnauthorized)
	assert.Zero(t, lister.calls.Load())

	_, ok := h.svc.Status("c1")
	assert.False(t, ok, "no state change")
}

func TestGetList_ForbiddenByNode(t *testing.T) {
	lister := &fakeLister{err: &transport.StatusError{URL: "http://a", Code: 403}}
	h := newHarness(t, allowed(), lister)

	_, err := h.svc.GetList(context.Background(), "c1")
	var authErr *AuthorizationError
	require.ErrorAs(t, err, &authErr)
	assert.ErrorIs(t, err, extensions.ErrUnauthorized)
	assert.ErrorIs(t, err, transport.ErrForbidden)

	st, _ := h.svc.Status("c1")
	assert.Equal(t, StatusError, st)
	assert.Equal(t, "denied", h.audit.Events()[0].Outcome)
}

func TestGetList_NetworkErrorThenRetry(t *testing.T) {
	boom := errors.New("connection refused")
	lister := &fakeLister{err: boom, lists: map[string][]int64{"a": {4}, "b": {5}}}
	h := newHarness(t, allowed(), lister)

	_, err := h.svc.GetList(context.Background(), "c1")
	assert.ErrorIs(t, err, boom)
	st, _ := h.svc.Status("c1")
	assert.Equal(t, StatusError, st)

	lister.err = nil
	got, err := h.svc.GetList(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{4}, {5}}, got.Lists)
}

type failingCrypto struct{}

func (failingCrypto) EphemeralPublicKey() string { return "pub" }
func (failingCrypto) DecryptIntegers(context.Context, []string) ([]int64, error) {
	return nil, errors.New("bad ciphertext")
}

func TestGetList_DecryptionFailure(t *testing.T) {
	lister := &fakeLister{lists: map[string][]int64{"a": {1}}}
	svc := NewService(allowed(), lister, failingCrypto{}, WithLogger(logging.Nop()))
	defer svc.Close()

	ch, cancel := svc.StatusNotifier("c1").Subscribe()
	defer cancel()

	got, err := svc.GetList(context.Background(), "c1")
	assert.Nil(t, got)
	assert.ErrorContains(t, err, "bad ciphertext")
	assert.Equal(t, []OperationStatus{StatusWaitOnAPI, StatusDecryption, StatusError}, drain(ch))
}

func TestInsertAndRemovePatientList(t *testing.T) {
	h := newHarness(t, allowed(), &fakeLister{})

	require.NoError(t, h.svc.InsertPatientList("saved", testNodes, [][]int64{{1}, {2, 3}}))
	assert.ErrorIs(t, h.svc.InsertPatientList("saved", testNodes, [][]int64{{1}, {2}}), ErrCohortExists)
	assert.Error(t, h.svc.InsertPatientList("bad", testNodes, [][]int64{{1}}))

	got, err := h.svc.GetList(context.Background(), "saved")
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{1}, {2, 3}}, got.Lists)
	assert.Equal(t, map[string]OperationStatus{"saved": StatusDone}, h.svc.Statuses())

	h.svc.RemovePatientList("saved")
	h.svc.RemovePatientList("unknown")
	st, ok := h.svc.Status("saved")
	require.True(t, ok)
	assert.Equal(t, StatusDone, st)
	assert.Equal(t, map[string]OperationStatus{"saved": StatusDone}, h.svc.Statuses())

	// The entry is gone, so the next read asks the nodes.
	_, err = h.svc.GetList(context.Background(), "saved")
	require.NoError(t, err)
	assert.Equal(t, int32(1), h.lister.calls.Load())
}

func TestRemovePatientList_KeepsInFlightGate(t *testing.T) {
	lister := &fakeLister{lists: map[string][]int64{"a": {1}, "b": {2}}, gate: make(chan struct{})}
	h := newHarness(t, allowed(), lister)

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.GetList(context.Background(), "c1")
		done <- err
	}()

	require.Eventually(t, func() bool {
		st, _ := h.svc.Status("c1")
		return st == StatusWaitOnAPI
	}, time.Second, time.Millisecond)

	h.svc.RemovePatientList("c1")
	st, ok := h.svc.Status("c1")
	require.True(t, ok)
	assert.Equal(t, StatusWaitOnAPI, st)

	got, err := h.svc.GetList(context.Background(), "c1")
	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, int32(1), lister.calls.Load())

	close(lister.gate)
	require.NoError(t, <-done)
	assert.Equal(t, int32(1), lister.calls.Load())
}

func TestStatusNotifier_CreatedMidFlightSeesRemainingTransitions(t *testing.T) {
	lister := &fakeLister{lists: map[string][]int64{"a": {1}, "b": {2}}, gate: make(chan struct{})}
	h := newHarness(t, allowed(), lister)

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.GetList(context.Background(), "c1")
		done <- err
	}()

	require.Eventually(t, func() bool {
		st, _ := h.svc.Status("c1")
		return st == StatusWaitOnAPI
	}, time.Second, time.Millisecond)

	ch, cancel := h.svc.StatusNotifier("c1").Subscribe()
	defer cancel()

	close(lister.gate)
	require.NoError(t, <-done)
	assert.Equal(t, []OperationStatus{StatusDecryption, StatusDone}, drain(ch))
}

func TestNotifier_UnsubscribeAndClose(t *testing.T) {
	h := newHarness(t, allowed(), &fakeLister{})
	n := h.svc.StatusNotifier("c1")
	assert.Same(t, n, h.svc.StatusNotifier("c1"))

	ch1, cancel1 := n.Subscribe()
	ch2, _ := n.Subscribe()
	assert.Equal(t, 2, n.Subscribers())

	cancel1()
	cancel1()
	_, open := <-ch1
	assert.False(t, open)
	assert.Equal(t, 1, n.Subscribers())

	h.svc.Close()
	_, open = <-ch2
	assert.False(t, open)

	late, _ := n.Subscribe()
	_, open = <-late
	assert.False(t, open)

	_, err := h.svc.GetList(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNotifier_DoesNotBlockOnSlowSubscriber(t *testing.T) {
	n := newNotifier()
	_, cancel := n.Subscribe()
	defer cancel()

	for i := 0; i < notifierBuffer*2; i++ {
		n.notify(StatusDone)
	}
}
