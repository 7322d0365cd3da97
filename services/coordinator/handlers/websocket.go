// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/sentinelops/swarm/services/coordinator/events"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
}

// streamSendBuffer bounds per-client queueing; slow consumers are dropped
// rather than allowed to block the observation bus.
const streamSendBuffer = 256

const writeTimeout = 10 * time.Second

// StreamObservations upgrades to a WebSocket and forwards live coordinator
// observations as JSON, one message per observation.
//
// Description:
//
//	On connect the client first receives the emitter's replay buffer
//	(optionally filtered with ?incident_id=...), then live observations
//	until either side closes.
func StreamObservations(emitter *events.Emitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("failed to upgrade the websocket", "error", err)
			return
		}
		defer ws.Close()

		incidentFilter := c.Query("incident_id")
		slog.Info("observation stream client connected",
			"remote", ws.RemoteAddr().String(),
			"incident_filter", incidentFilter,
		)

		send := make(chan events.Observation, streamSendBuffer)
		subID := emitter.Subscribe(func(obs *events.Observation) {
			if incidentFilter != "" && obs.IncidentID != incidentFilter {
				return
			}
			select {
			case send <- *obs:
			default:
				// Drop for slow consumers; the durable log is the record.
			}
		})
		defer emitter.Unsubscribe(subID)

		// Backfill before streaming live.
		for _, obs := range emitter.Buffer() {
			if incidentFilter != "" && obs.IncidentID != incidentFilter {
				continue
			}
			if err := writeObservation(ws, obs); err != nil {
				return
			}
		}

		// Reader goroutine: we never expect client messages, but reading is
		// how close frames and connection drops are detected.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-done:
				slog.Info("observation stream client disconnected")
				return
			case obs := <-send:
				if err := writeObservation(ws, obs); err != nil {
					return
				}
			}
		}
	}
}

func writeObservation(ws *websocket.Conn, obs events.Observation) error {
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteJSON(obs); err != nil {
		slog.Warn("failed to write observation to websocket", "error", err)
		return err
	}
	return nil
}
