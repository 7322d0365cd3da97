// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/swarm/services/coordinator/incident"
)

func testIncident() *incident.Incident {
	return &incident.Incident{
		ID:       "inc-1",
		Category: incident.CategoryDatabaseFailure,
		Severity: incident.SeverityHigh,
		Status:   incident.StatusResolved,
	}
}

func TestLogNotifierNeverFails(t *testing.T) {
	n := NewLog(nil)
	ctx := context.Background()

	assert.NoError(t, n.NotifyResolution(ctx, testIncident(), "pool recycled"))
	assert.NoError(t, n.NotifyEscalation(ctx, testIncident(), "quorum not met"))
}

func TestWebhookPostsResolution(t *testing.T) {
	var got webhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhook(srv.URL)
	err := n.NotifyResolution(context.Background(), testIncident(), "pool recycled")
	require.NoError(t, err)

	assert.Equal(t, "resolution", got.Kind)
	assert.Equal(t, "inc-1", got.IncidentID)
	assert.Equal(t, incident.CategoryDatabaseFailure, got.Category)
	assert.Equal(t, "pool recycled", got.Message)
	assert.False(t, got.SentAt.IsZero())
}

func TestWebhookPostsEscalation(t *testing.T) {
	var got webhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n := NewWebhook(srv.URL)
	err := n.NotifyEscalation(context.Background(), testIncident(), "quorum not met")
	require.NoError(t, err)

	assert.Equal(t, "escalation", got.Kind)
	assert.Equal(t, "quorum not met", got.Message)
}

func TestWebhookNon2xxIsDeliveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhook(srv.URL)
	err := n.NotifyResolution(context.Background(), testIncident(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, incident.ErrDeliveryFailure)
}

func TestWebhookUnreachableEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	n := NewWebhook(srv.URL)
	err := n.NotifyEscalation(context.Background(), testIncident(), "x")
	assert.ErrorIs(t, err, incident.ErrDeliveryFailure)
}

func TestWebhookHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	n := NewWebhook(srv.URL)
	err := n.NotifyResolution(ctx, testIncident(), "x")
	assert.ErrorIs(t, err, incident.ErrDeliveryFailure)
}
