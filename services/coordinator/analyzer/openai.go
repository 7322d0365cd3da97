// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/sentinelops/swarm/services/coordinator/incident"
)

// LLM is an analyzer backed by an OpenAI-compatible chat model. It wraps a
// role prompt around the incident snapshot and parses the model's JSON
// verdict into a Finding.
//
// LLM calls are slower and flakier than the heuristic analyzers, which is
// exactly what the circuit breakers and stage deadlines exist for; an
// over-deadline model call is recorded as a timeout like any other.
type LLM struct {
	client *openai.Client
	model  string
	role   incident.Role
}

// NewLLM creates an LLM-backed analyzer for the role.
//
// Inputs:
//
//	role - The analyzer specialization to impersonate.
//
// Outputs:
//
//	*LLM - The analyzer.
//	error - Non-nil if OPENAI_API_KEY is not set (env var or the
//	    /run/secrets/openai_api_key secret file).
func NewLLM(role incident.Role) (*LLM, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		raw, err := os.ReadFile("/run/secrets/openai_api_key")
		if err != nil {
			return nil, fmt.Errorf("OPENAI_API_KEY not set and secret file unavailable: %w", err)
		}
		apiKey = strings.TrimSpace(string(raw))
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}

	return &LLM{
		client: openai.NewClient(apiKey),
		model:  model,
		role:   role,
	}, nil
}

// Role implements Analyzer.
func (a *LLM) Role() incident.Role { return a.role }

// llmVerdict is the JSON shape the model is instructed to return.
type llmVerdict struct {
	Finding        string  `json:"finding"`
	Confidence     float64 `json:"confidence"`
	Evidence       string  `json:"evidence"`
	ProposedAction string  `json:"proposed_action"`
}

// rolePrompts frames each specialization for the model.
var rolePrompts = map[incident.Role]string{
	incident.RoleDetection:     "You are a detection analyst. Confirm whether the reported incident is real and name the most likely root cause as a short snake_case label.",
	incident.RoleDiagnosis:     "You are a diagnosis analyst. Identify the root cause of the incident as a short snake_case label.",
	incident.RolePrediction:    "You are a prediction analyst. Forecast how the incident evolves if untreated and name the driving root cause as a short snake_case label.",
	incident.RoleResolution:    "You are a resolution analyst. Propose one remediation action as a short snake_case label.",
	incident.RoleCommunication: "You are a communication analyst. Compose a one-line stakeholder summary and return the finding label stakeholders_notified.",
}

// Analyze implements Analyzer.
func (a *LLM) Analyze(ctx context.Context, req Request) (Finding, error) {
	system, ok := rolePrompts[a.role]
	if !ok {
		return Finding{}, fmt.Errorf("no prompt for role %q", a.role)
	}

	user, err := json.Marshal(map[string]any{
		"incident":    req.Incident,
		"stage":       req.Stage,
		"root_cause":  req.RootCause,
		"remediation": req.Remediation,
	})
	if err != nil {
		return Finding{}, fmt.Errorf("encode analyzer request: %w", err)
	}

	resp, err := a.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: a.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system +
				` Respond with only a JSON object: {"finding": string, "confidence": number in [0,1], "evidence": string, "proposed_action": string}.`},
			{Role: openai.ChatMessageRoleUser, Content: string(user)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return Finding{}, fmt.Errorf("%s model call: %w", a.role, err)
	}
	if len(resp.Choices) == 0 {
		return Finding{}, fmt.Errorf("%s model call: empty response", a.role)
	}

	var verdict llmVerdict
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &verdict); err != nil {
		return Finding{}, fmt.Errorf("%s model call: unparseable verdict: %w", a.role, err)
	}

	return Finding{
		Finding:        verdict.Finding,
		Confidence:     verdict.Confidence,
		Evidence:       verdict.Evidence,
		ProposedAction: verdict.ProposedAction,
	}, nil
}
