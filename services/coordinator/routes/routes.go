// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentinelops/swarm/services/coordinator/breaker"
	"github.com/sentinelops/swarm/services/coordinator/coordinate"
	"github.com/sentinelops/swarm/services/coordinator/events"
	"github.com/sentinelops/swarm/services/coordinator/eventstore"
	"github.com/sentinelops/swarm/services/coordinator/handlers"
)

// SetupRoutes wires the coordinator API onto the router.
func SetupRoutes(router *gin.Engine, coord *coordinate.Coordinator, store eventstore.Store,
	breakers *breaker.Registry, emitter *events.Emitter) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		incidents := v1.Group("/incidents")
		{
			incidents.POST("", handlers.SubmitIncident(coord))
			incidents.GET("", handlers.ListIncidents(store))
			incidents.GET("/:incidentId", handlers.GetIncident(store))
			incidents.GET("/:incidentId/events", handlers.GetIncidentEvents(store))
		}
		v1.GET("/breakers", handlers.GetBreakers(breakers))
		v1.GET("/observations/ws", handlers.StreamObservations(emitter))
	}
}
