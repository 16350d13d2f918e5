// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gateway

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

// StatusStreamRoute is the route pattern of the status websocket. It is the
// only route that accepts the access_token query parameter.
const StatusStreamRoute = "/v1/cohorts/:name/status/ws"

func newUpgrader(allowedOrigins []string) *websocket.Upgrader {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[strings.ToLower(strings.TrimRight(o, "/"))] = true
	}
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r, allowed)
		},
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// originAllowed accepts requests without an Origin header (non-browser
// clients), same-host origins, and the configured origins.
func originAllowed(r *http.Request, allowed map[string]bool) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	return allowed[strings.ToLower(strings.TrimRight(origin, "/"))]
}

// handleStatusStream pushes every status transition of one cohort as a
// StatusEvent until the client disconnects or the cache closes.
func (s *Server) handleStatusStream(c *gin.Context) {
	name := c.Param("name")

	// Subscribe before the upgrade so no transition after the handshake is missed.
	events, cancel := s.cohortsFor(c).StatusNotifier(name).Subscribe()
	defer cancel()

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("status stream upgrade failed", "cohort", name, "error", err)
		return
	}
	defer ws.Close()

	s.cfg.Metrics.SubscriberOpened()
	defer s.cfg.Metrics.SubscriberClosed()
	s.logger.Debug("status stream opened", "cohort", name)

	// The read loop only detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			s.logger.Debug("status stream closed by client", "cohort", name)
			return
		case st, ok := <-events:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "cohort cache closed"),
					time.Now().Add(streamWriteTimeout))
				return
			}
			_ = ws.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := ws.WriteJSON(StatusEvent{Cohort: name, Status: st}); err != nil {
				s.logger.Warn("status stream write failed", "cohort", name, "error", err)
				return
			}
		case <-ping.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		}
	}
}
