// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/lca1/glowing-bear/pkg/logging"
	"github.com/lca1/glowing-bear/services/explore/constraint"
)

// DefaultTTL is how long a lookup stays cached.
const DefaultTTL = 24 * time.Hour

// sharedLookupTimeout bounds an upstream lookup shared by several callers.
// It runs detached from any one caller's cancellation.
const sharedLookupTimeout = 2 * time.Minute

const (
	kindConcept  = "concept"
	kindModifier = "modifier"
)

// Cached wraps a Resolver with a BadgerDB cache.
//
// # Description
//
// Non-empty answers are stored under a key derived from the lookup
// arguments and expire after the TTL. Concurrent misses on the same key
// share one upstream call. Every answer is a deep copy, so callers may
// attach applied concepts to modifier nodes without touching the cache.
//
// # Thread Safety
//
// Safe for concurrent use.
type Cached struct {
	inner  Resolver
	db     *badger.DB
	ttl    time.Duration
	group  singleflight.Group
	logger *logging.Logger
}

// NewCached returns inner wrapped with a cache kept in db. A non-positive
// ttl means DefaultTTL.
func NewCached(inner Resolver, db *badger.DB, ttl time.Duration, logger *logging.Logger) *Cached {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cached{inner: inner, db: db, ttl: ttl, logger: logging.OrDefault(logger)}
}

// ResolveConcept implements Resolver.
func (c *Cached) ResolveConcept(ctx context.Context, path string) ([]*constraint.TreeNode, error) {
	return c.resolve(ctx, kindConcept, lookupKey(kindConcept, path), func(ctx context.Context) ([]*constraint.TreeNode, error) {
		return c.inner.ResolveConcept(ctx, path)
	})
}

// ResolveModifier implements Resolver.
func (c *Cached) ResolveModifier(ctx context.Context, modifierKey, appliedPath, baseTerm string) ([]*constraint.TreeNode, error) {
	key := lookupKey(kindModifier, modifierKey, appliedPath, baseTerm)
	return c.resolve(ctx, kindModifier, key, func(ctx context.Context) ([]*constraint.TreeNode, error) {
		return c.inner.ResolveModifier(ctx, modifierKey, appliedPath, baseTerm)
	})
}

// Purge drops every cached lookup.
func (c *Cached) Purge() error {
	return c.db.DropAll()
}

func (c *Cached) resolve(ctx context.Context, kind, key string, fetch func(context.Context) ([]*constraint.TreeNode, error)) ([]*constraint.TreeNode, error) {
	ctx, span := startLookupSpan(ctx, kind, key)
	defer span.End()
	start := time.Now()

	if nodes, ok := c.load(key); ok {
		span.SetAttributes(attribute.Bool("lookup.hit", true))
		recordLookup(ctx, kind, true, false, time.Since(start))
		return cloneNodes(nodes), nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedLookupTimeout)
		defer cancel()
		nodes, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		if len(nodes) > 0 {
			c.store(key, nodes)
		}
		return nodes, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		res = singleflight.Result{Err: ctx.Err()}
	}
	span.SetAttributes(attribute.Bool("lookup.hit", false), attribute.Bool("lookup.shared", res.Shared))
	recordLookup(ctx, kind, false, res.Shared, time.Since(start))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		return nil, res.Err
	}
	return cloneNodes(res.Val.([]*constraint.TreeNode)), nil
}

func (c *Cached) load(key string) ([]*constraint.TreeNode, bool) {
	var nodes []*constraint.TreeNode
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &nodes)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			c.logger.Warn("lookup cache read failed", "key", key, "error", err)
		}
		return nil, false
	}
	return nodes, true
}

func (c *Cached) store(key string, nodes []*constraint.TreeNode) {
	val, err := json.Marshal(nodes)
	if err != nil {
		c.logger.Warn("lookup cache encode failed", "key", key, "error", err)
		return
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(key), val).WithTTL(c.ttl))
	})
	if err != nil {
		c.logger.Warn("lookup cache write failed", "key", key, "error", err)
	}
}

// lookupKey joins the parts with a separator that cannot appear in paths.
func lookupKey(kind string, parts ...string) string {
	return kind + "\x00" + strings.Join(parts, "\x00")
}
