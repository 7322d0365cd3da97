// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the coordinator's HTTP API.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sentinelops/swarm/services/coordinator/breaker"
	"github.com/sentinelops/swarm/services/coordinator/coordinate"
	"github.com/sentinelops/swarm/services/coordinator/eventstore"
	"github.com/sentinelops/swarm/services/coordinator/incident"
)

// SubmitRequest is the POST /v1/incidents body.
type SubmitRequest struct {
	Category    string `json:"category" binding:"required"`
	Severity    string `json:"severity" binding:"required"`
	Description string `json:"description" binding:"required,max=4096"`
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SubmitIncident accepts a new incident and queues it for the swarm.
func SubmitIncident(coord *coordinate.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SubmitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		id, err := coord.Submit(c.Request.Context(),
			incident.Category(req.Category),
			incident.Severity(req.Severity),
			req.Description,
		)
		switch {
		case errors.Is(err, incident.ErrInvalidIncident):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, coordinate.ErrQueueFull):
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "coordinator queue full, retry later"})
		case err != nil:
			slog.Error("incident submission failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to open incident"})
		default:
			c.JSON(http.StatusAccepted, gin.H{"incident_id": id})
		}
	}
}

// GetIncident returns the current projection of one incident.
func GetIncident(store eventstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("incidentId")
		inc, err := eventstore.ProjectIncident(c.Request.Context(), store, id)
		switch {
		case errors.Is(err, incident.ErrIncidentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		case err != nil:
			slog.Error("incident projection failed", "incident_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load incident"})
		default:
			c.JSON(http.StatusOK, inc)
		}
	}
}

// incidentSummary is one row of the list endpoint.
type incidentSummary struct {
	ID       string            `json:"id"`
	Category incident.Category `json:"category"`
	Severity incident.Severity `json:"severity"`
	Status   incident.Status   `json:"status"`
	Version  uint64            `json:"version"`
}

// ListIncidents returns a summary of every incident in the store.
func ListIncidents(store eventstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids, err := store.IncidentIDs(c.Request.Context())
		if err != nil {
			slog.Error("incident listing failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list incidents"})
			return
		}

		summaries := make([]incidentSummary, 0, len(ids))
		for _, id := range ids {
			inc, err := eventstore.ProjectIncident(c.Request.Context(), store, id)
			if err != nil {
				slog.Warn("skipping unreadable incident", "incident_id", id, "error", err)
				continue
			}
			summaries = append(summaries, incidentSummary{
				ID:       inc.ID,
				Category: inc.Category,
				Severity: inc.Severity,
				Status:   inc.Status,
				Version:  inc.Version,
			})
		}
		c.JSON(http.StatusOK, gin.H{"incidents": summaries})
	}
}

// GetIncidentEvents returns one incident's raw event log.
func GetIncidentEvents(store eventstore.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("incidentId")
		events, err := store.Load(c.Request.Context(), id)
		switch {
		case errors.Is(err, incident.ErrIncidentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "incident not found"})
		case err != nil:
			slog.Error("event log load failed", "incident_id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load event log"})
		default:
			c.JSON(http.StatusOK, gin.H{"incident_id": id, "events": events})
		}
	}
}

// GetBreakers returns the circuit breaker status for every role.
func GetBreakers(registry *breaker.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"breakers": registry.Snapshot()})
	}
}
