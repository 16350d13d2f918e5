// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package transport is the HTTP client for the node explore API.
//
// # Description
//
// Every request is a JSON POST carrying the user's bearer token. Requests
// share one rate limiter and are traced with otelhttp. A 403 answer maps to
// ErrForbidden so callers can tell authorization failures from outages.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/lca1/glowing-bear/pkg/logging"
)

// ErrForbidden is returned when a node answers 403.
var ErrForbidden = errors.New("forbidden by node")

// maxErrorBody bounds how much of a failed response is kept in StatusError.
const maxErrorBody = 4096

// StatusError is a non-2xx answer from a node.
type StatusError struct {
	URL  string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned status %d", e.URL, e.Code)
	}
	return fmt.Sprintf("%s returned status %d: %s", e.URL, e.Code, e.Body)
}

// Unwrap exposes ErrForbidden for 403 answers.
func (e *StatusError) Unwrap() error {
	if e.Code == http.StatusForbidden {
		return ErrForbidden
	}
	return nil
}

// TokenSource returns the bearer token for the current user.
type TokenSource func(ctx context.Context) string

// StaticToken returns a TokenSource that always yields token.
func StaticToken(token string) TokenSource {
	return func(context.Context) string { return token }
}

// Options configures a Client.
type Options struct {
	// Timeout bounds one search or patient-list exchange. Zero means
	// 2 minutes. Explore queries are bounded by the caller's context only,
	// since nodes answer them synchronously.
	Timeout time.Duration

	// RequestsPerSecond limits outgoing requests across all nodes.
	// Zero disables limiting.
	RequestsPerSecond float64

	// Burst is the limiter burst. Defaults to 10.
	Burst int

	// Token supplies the Authorization bearer token.
	Token TokenSource

	// HTTPClient overrides the underlying client. Its transport is wrapped
	// with otelhttp.
	HTTPClient *http.Client

	Logger *logging.Logger
}

// Client talks to the node explore API.
//
// # Thread Safety
//
// Safe for concurrent use.
type Client struct {
	http    *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	token   TokenSource
	logger  *logging.Logger
}

// NewClient builds a Client from opts.
func NewClient(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	if opts.Token == nil {
		opts.Token = StaticToken("")
	}

	base := opts.HTTPClient
	if base == nil {
		base = &http.Client{}
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	hc := *base
	hc.Transport = otelhttp.NewTransport(rt)

	limiter := rate.NewLimiter(rate.Inf, opts.Burst)
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst)
	}

	return &Client{
		http:    &hc,
		timeout: opts.Timeout,
		limiter: limiter,
		token:   opts.Token,
		logger:  logging.OrDefault(opts.Logger),
	}
}

// bounded applies the per-exchange timeout to ctx.
func (c *Client) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.timeout)
}

// postJSON sends body to url and decodes the JSON answer into out.
func (c *Client) postJSON(ctx context.Context, url string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request for %s: %w", url, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request for %s: %w", url, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token := c.token(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting to %s: %w", url, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("node request", "url", url, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{URL: url, Code: resp.StatusCode, Body: string(bytes.TrimSpace(snippet))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding answer from %s: %w", url, err)
	}
	return nil
}
