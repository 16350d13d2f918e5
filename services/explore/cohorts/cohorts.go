// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cohorts caches the decrypted patient lists of saved cohorts.
//
// # Description
//
// Fetching a cohort's patient list asks every node for its encrypted list
// and decrypts the answers with the session's ephemeral key. Each cohort
// moves through waitOnAPI, decryption, then done or error. At most one
// request per cohort is in flight: a second call during a fetch gets a
// warning and no result. Observers follow the transitions through a
// per-cohort Notifier.
package cohorts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lca1/glowing-bear/pkg/extensions"
	"github.com/lca1/glowing-bear/pkg/logging"
	"github.com/lca1/glowing-bear/services/explore/alerts"
	"github.com/lca1/glowing-bear/services/explore/crypto"
	"github.com/lca1/glowing-bear/services/explore/network"
	"github.com/lca1/glowing-bear/services/explore/observability"
	"github.com/lca1/glowing-bear/services/explore/transport"
)

// =============================================================================
// Types
// =============================================================================

// OperationStatus is the patient-list status of a cohort.
type OperationStatus string

const (
	StatusWaitOnAPI  OperationStatus = "waitOnAPI"
	StatusDecryption OperationStatus = "decryption"
	StatusDone       OperationStatus = "done"
	StatusError      OperationStatus = "error"
)

// PatientListIDPrefix starts the ID of every patient-list request.
const PatientListIDPrefix = "MedCo_Cohorts_Patient_List_"

// requestIDLayout formats the UTC time appended to PatientListIDPrefix.
const requestIDLayout = "20060102150405.000"

var (
	// ErrCohortExists is returned by InsertPatientList for a cached cohort.
	ErrCohortExists = errors.New("cohort patient list already cached")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("cohort cache closed")
)

// AuthorizationError is returned when the user may not read patient lists,
// either locally (missing role) or as reported by a node.
type AuthorizationError struct {
	User   string
	Cohort string
	Err    error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %s is not authorized to retrieve the patient list of cohort %s", e.User, e.Cohort)
}

// Unwrap exposes extensions.ErrUnauthorized and the cause.
func (e *AuthorizationError) Unwrap() []error {
	if e.Err == nil || errors.Is(e.Err, extensions.ErrUnauthorized) {
		return []error{extensions.ErrUnauthorized}
	}
	return []error{extensions.ErrUnauthorized, e.Err}
}

// PatientLists is a cached cohort: one clear patient list per node.
type PatientLists struct {
	Nodes []network.Node `json:"nodes"`
	Lists [][]int64      `json:"lists"`
}

// Clone deep-copies the lists.
func (p *PatientLists) Clone() *PatientLists {
	if p == nil {
		return nil
	}
	out := &PatientLists{
		Nodes: append([]network.Node(nil), p.Nodes...),
		Lists: make([][]int64, len(p.Lists)),
	}
	for i, l := range p.Lists {
		out.Lists[i] = append([]int64(nil), l...)
	}
	return out
}

// Lister asks all nodes for a cohort's encrypted patient list.
type Lister interface {
	PostCohortsPatientListAllNodes(ctx context.Context, req transport.PatientListRequest) ([]transport.NodePatientList, error)
}

// Session identifies the acting user.
type Session interface {
	Username() string
	HasRole(role string) bool
}

// =============================================================================
// Service
// =============================================================================

// Option configures a Service.
type Option func(*Service)

// WithAlerts sets the sink for deduplication warnings.
func WithAlerts(sink alerts.Sink) Option {
	return func(s *Service) {
		if sink != nil {
			s.alerts = sink
		}
	}
}

// WithAudit records patient-list access.
func WithAudit(a extensions.AuditLogger) Option {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithMetrics records cache metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = logging.OrDefault(l) }
}

// WithClock replaces time.Now for request IDs.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the session's patient-list cache.
//
// # Description
//
// One Service lives as long as the user session it was built for. The
// list, status and notifier maps are owned by it; Close releases them.
//
// # Thread Safety
//
// Safe for concurrent use. The status map is the per-cohort gate: the
// cache check, the in-flight check and the move to waitOnAPI happen under
// one lock.
type Service struct {
	session Session
	lister  Lister
	crypto  crypto.Service
	alerts  alerts.Sink
	audit   extensions.AuditLogger
	metrics *observability.Metrics
	logger  *logging.Logger
	now     func() time.Time

	mu        sync.Mutex
	lists     map[string]*PatientLists
	statuses  map[string]OperationStatus
	notifiers map[string]*Notifier
	closed    bool
}

// NewService returns an empty cache for session.
func NewService(session Session, lister Lister, cs crypto.Service, opts ...Option) *Service {
	s := &Service{
		session:   session,
		lister:    lister,
		crypto:    cs,
		alerts:    alerts.Discard,
		audit:     &extensions.NopAuditLogger{},
		logger:    logging.Default(),
		now:       time.Now,
		lists:     make(map[string]*PatientLists),
		statuses:  make(map[string]OperationStatus),
		notifiers: make(map[string]*Notifier),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetList returns the decrypted patient lists of cohort name.
//
// # Description
//
// A cached cohort is returned at once and its notifier receives done.
// While a request for the cohort is waiting on the nodes or being
// decrypted, the call emits one warning alert and returns nil, nil.
// Otherwise the nodes are asked, the answers decrypted concurrently and
// the result cached, with a notification at every transition.
//
// # Outputs
//
//   - *PatientLists: A copy of the cached lists, or nil when deduplicated.
//   - error: *AuthorizationError when the session lacks the patient_list
//     role or a node answers 403 (state moves to error in that case);
//     other network and decryption errors are returned unchanged or
//     wrapped with the cohort name.
func (s *Service) GetList(ctx context.Context, name string) (*PatientLists, error) {
	user := s.session.Username()
	if !s.session.HasRole(extensions.RolePatientList) {
		s.metrics.RecordListRequest(observability.ListResultUnauthorized)
		s.auditEvent(ctx, name, "read", "denied", nil)
		return nil, &AuthorizationError{User: user, Cohort: name, Err: extensions.ErrUnauthorized}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if cached, ok := s.lists[name]; ok {
		if n := s.notifiers[name]; n != nil {
			n.notify(StatusDone)
		}
		out := cached.Clone()
		s.mu.Unlock()
		s.metrics.RecordListRequest(observability.ListResultCached)
		return out, nil
	}
	switch s.statuses[name] {
	case StatusWaitOnAPI:
		s.mu.Unlock()
		s.metrics.RecordListRequest(observability.ListResultDeduplicated)
		s.alerts.Alert(alerts.SeverityWarn, fmt.Sprintf("Request for the patient list of cohort %s already sent, waiting on the nodes", name))
		return nil, nil
	case StatusDecryption:
		s.mu.Unlock()
		s.metrics.RecordListRequest(observability.ListResultDeduplicated)
		s.alerts.Alert(alerts.SeverityWarn, fmt.Sprintf("Patient list of cohort %s is already being decrypted", name))
		return nil, nil
	}
	s.setStatusLocked(name, StatusWaitOnAPI)
	s.mu.Unlock()

	req := transport.PatientListRequest{
		ID:            PatientListIDPrefix + s.now().UTC().Format(requestIDLayout),
		CohortName:    name,
		UserPublicKey: s.crypto.EphemeralPublicKey(),
	}
	log := s.logger.With("cohort", name, "request_id", req.ID)
	log.Info("requesting cohort patient list")

	answers, err := s.lister.PostCohortsPatientListAllNodes(ctx, req)
	if err != nil {
		s.setStatus(name, StatusError)
		if errors.Is(err, transport.ErrForbidden) {
			s.metrics.RecordListRequest(observability.ListResultUnauthorized)
			s.auditEvent(ctx, name, "read", "denied", map[string]any{"request_id": req.ID})
			log.Warn("patient list denied by node", "error", err)
			return nil, &AuthorizationError{User: user, Cohort: name, Err: err}
		}
		s.metrics.RecordListRequest(observability.ListResultError)
		s.auditEvent(ctx, name, "read", "error", map[string]any{"request_id": req.ID})
		log.Error("patient list request failed", "error", err)
		return nil, err
	}

	s.setStatus(name, StatusDecryption)
	start := time.Now()
	result, err := s.decrypt(ctx, answers)
	s.metrics.RecordDecryption(time.Since(start))
	if err != nil {
		s.setStatus(name, StatusError)
		s.metrics.RecordListRequest(observability.ListResultError)
		s.auditEvent(ctx, name, "read", "error", map[string]any{"request_id": req.ID})
		log.Error("patient list decryption failed", "error", err)
		return nil, fmt.Errorf("decrypting patient list of cohort %s: %w", name, err)
	}

	s.mu.Lock()
	s.lists[name] = result
	s.setStatusLocked(name, StatusDone)
	out := result.Clone()
	s.mu.Unlock()

	s.metrics.RecordListRequest(observability.ListResultFetched)
	s.auditEvent(ctx, name, "read", "success", map[string]any{"request_id": req.ID, "nodes": len(result.Nodes)})
	log.Info("cohort patient list cached", "nodes", len(result.Nodes))
	return out, nil
}

func (s *Service) decrypt(ctx context.Context, answers []transport.NodePatientList) (*PatientLists, error) {
	out := &PatientLists{
		Nodes: make([]network.Node, len(answers)),
		Lists: make([][]int64, len(answers)),
	}
	g, gctx := errgroup.WithContext(ctx)
	for i, a := range answers {
		out.Nodes[i] = a.Node
		g.Go(func() error {
			clear, err := s.crypto.DecryptIntegers(gctx, a.Result.Results)
			if err != nil {
				return fmt.Errorf("node %s: %w", a.Node.Name, err)
			}
			out.Lists[i] = clear
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// StatusNotifier returns the notifier of cohort name, creating it on first
// use. The same notifier is returned until Close.
func (s *Service) StatusNotifier(name string) *Notifier {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifiers[name]
	if !ok {
		n = newNotifier()
		if s.closed {
			n.close()
			return n
		}
		s.notifiers[name] = n
	}
	return n
}

// InsertPatientList caches lists for name without asking the nodes and
// marks the cohort done.
func (s *Service) InsertPatientList(name string, nodes []network.Node, lists [][]int64) error {
	if len(nodes) != len(lists) {
		return fmt.Errorf("cohort %s: %d nodes but %d lists", name, len(nodes), len(lists))
	}
	entry := (&PatientLists{Nodes: nodes, Lists: lists}).Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, ok := s.lists[name]; ok {
		return fmt.Errorf("cohort %s: %w", name, ErrCohortExists)
	}
	s.lists[name] = entry
	s.setStatusLocked(name, StatusDone)
	return nil
}

// RemovePatientList drops the cached lists of name. Removing an unknown
// cohort does nothing. The status and notifier are kept, so a request in
// flight still gates new ones.
func (s *Service) RemovePatientList(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.lists, name)
}

// Status returns the status of name.
func (s *Service) Status(name string) (OperationStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[name]
	return st, ok
}

// Statuses returns a snapshot of all statuses.
func (s *Service) Statuses() map[string]OperationStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]OperationStatus, len(s.statuses))
	for k, v := range s.statuses {
		out[k] = v
	}
	return out
}

// Close drops the cache and closes every notifier. Calls after Close fail
// with ErrClosed.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, n := range s.notifiers {
		n.close()
	}
	s.lists = make(map[string]*PatientLists)
	s.statuses = make(map[string]OperationStatus)
	s.notifiers = make(map[string]*Notifier)
}

func (s *Service) setStatus(name string, status OperationStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setStatusLocked(name, status)
}

// setStatusLocked records the transition and notifies the cohort's
// current notifier. Caller holds s.mu.
func (s *Service) setStatusLocked(name string, status OperationStatus) {
	if s.closed {
		return
	}
	s.statuses[name] = status
	s.metrics.RecordTransition(string(status))
	if n := s.notifiers[name]; n != nil {
		n.notify(status)
	}
}

func (s *Service) auditEvent(ctx context.Context, cohort, action, outcome string, meta map[string]any) {
	err := s.audit.Log(ctx, extensions.AuditEvent{
		EventType:    "cohort.patient_list",
		Timestamp:    s.now().UTC(),
		UserID:       s.session.Username(),
		Action:       action,
		ResourceType: "cohort",
		ResourceID:   cohort,
		Outcome:      outcome,
		Metadata:     meta,
	})
	if err != nil {
		s.logger.Warn("audit log failed", "cohort", cohort, "error", err)
	}
}
