// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package notify delivers incident outcomes to stakeholders.
//
// Delivery failures matter to the lifecycle: a failed resolution notice
// escalates the incident, and a failed escalation notice is the only path
// to the FAILED terminal state. Implementations must therefore report
// errors honestly rather than swallowing them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/sentinelops/swarm/services/coordinator/incident"
)

// Notifier delivers incident outcomes to stakeholders.
type Notifier interface {
	// NotifyResolution announces a resolved incident with the
	// communication analyzer's composed message.
	NotifyResolution(ctx context.Context, inc *incident.Incident, message string) error

	// NotifyEscalation pages for manual intervention with the full reason.
	NotifyEscalation(ctx context.Context, inc *incident.Incident, reason string) error
}

// Log writes notifications to the process log. The default for local runs.
type Log struct {
	Logger *slog.Logger
}

// NewLog creates a log-backed notifier.
func NewLog(logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{Logger: logger}
}

// NotifyResolution implements Notifier.
func (n *Log) NotifyResolution(_ context.Context, inc *incident.Incident, message string) error {
	n.Logger.Info("incident resolved",
		slog.String("incident_id", inc.ID),
		slog.String("category", string(inc.Category)),
		slog.String("severity", string(inc.Severity)),
		slog.String("message", message),
	)
	return nil
}

// NotifyEscalation implements Notifier.
func (n *Log) NotifyEscalation(_ context.Context, inc *incident.Incident, reason string) error {
	n.Logger.Warn("incident escalated to manual intervention",
		slog.String("incident_id", inc.ID),
		slog.String("category", string(inc.Category)),
		slog.String("severity", string(inc.Severity)),
		slog.String("reason", reason),
	)
	return nil
}

// Webhook POSTs notifications to an external endpoint (pager, chat bridge).
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook notifier for the URL.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url: url,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

// webhookBody is the wire shape of one notification.
type webhookBody struct {
	Kind       string            `json:"kind"`
	IncidentID string            `json:"incident_id"`
	Category   incident.Category `json:"category"`
	Severity   incident.Severity `json:"severity"`
	Status     incident.Status   `json:"status"`
	Message    string            `json:"message"`
	SentAt     time.Time         `json:"sent_at"`
}

// NotifyResolution implements Notifier.
func (n *Webhook) NotifyResolution(ctx context.Context, inc *incident.Incident, message string) error {
	return n.post(ctx, webhookBody{
		Kind:       "resolution",
		IncidentID: inc.ID,
		Category:   inc.Category,
		Severity:   inc.Severity,
		Status:     inc.Status,
		Message:    message,
		SentAt:     time.Now().UTC(),
	})
}

// NotifyEscalation implements Notifier.
func (n *Webhook) NotifyEscalation(ctx context.Context, inc *incident.Incident, reason string) error {
	return n.post(ctx, webhookBody{
		Kind:       "escalation",
		IncidentID: inc.ID,
		Category:   inc.Category,
		Severity:   inc.Severity,
		Status:     inc.Status,
		Message:    reason,
		SentAt:     time.Now().UTC(),
	})
}

func (n *Webhook) post(ctx context.Context, body webhookBody) error {
	raw, err := json.Marshal(&body)
	if err != nil {
		return fmt.Errorf("%w: encode notification: %w", incident.ErrDeliveryFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: build request: %w", incident.ErrDeliveryFailure, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", incident.ErrDeliveryFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: webhook returned %d", incident.ErrDeliveryFailure, resp.StatusCode)
	}
	return nil
}
