// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/sentinelops/swarm/services/coordinator/incident"
)

func TestSubscribeReceivesAllTypesByDefault(t *testing.T) {
	e := NewEmitter()

	var mu sync.Mutex
	var received []Type
	e.Subscribe(func(obs *Observation) {
		mu.Lock()
		received = append(received, obs.Type)
		mu.Unlock()
	})

	e.Emit(TypeIncidentSubmitted, "inc-1", IncidentSubmittedData{
		Category: incident.CategoryDDoS,
		Severity: incident.SeverityHigh,
	})
	e.Emit(TypeStageStarted, "inc-1", StageData{Stage: incident.StageDetection})

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("received %d observations, want 2", len(received))
	}
}

func TestSubscribeFiltersOnType(t *testing.T) {
	e := NewEmitter()

	var count atomic.Int64
	e.Subscribe(func(obs *Observation) {
		if obs.Type != TypeBreakerTransition {
			t.Errorf("filtered handler got %s", obs.Type)
		}
		count.Add(1)
	}, TypeBreakerTransition)

	e.Emit(TypeStageStarted, "inc-1", StageData{Stage: incident.StageDetection})
	e.Emit(TypeBreakerTransition, "", BreakerTransitionData{
		Role: incident.RoleDiagnosis,
		From: "closed",
		To:   "open",
	})

	if got := count.Load(); got != 1 {
		t.Fatalf("handler ran %d times, want 1", got)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	e := NewEmitter()

	var count atomic.Int64
	id := e.Subscribe(func(obs *Observation) { count.Add(1) })

	e.Emit(TypeStageStarted, "inc-1", nil)
	if !e.Unsubscribe(id) {
		t.Fatal("expected unsubscribe to find the subscription")
	}
	e.Emit(TypeStageStarted, "inc-1", nil)

	if got := count.Load(); got != 1 {
		t.Fatalf("handler ran %d times after unsubscribe, want 1", got)
	}
	if e.Unsubscribe(id) {
		t.Fatal("second unsubscribe should report not found")
	}
	if e.SubscriptionCount() != 0 {
		t.Fatalf("subscription count = %d, want 0", e.SubscriptionCount())
	}
}

func TestPanickingHandlerDoesNotStopOthers(t *testing.T) {
	e := NewEmitter()

	var count atomic.Int64
	e.Subscribe(func(obs *Observation) { panic("boom") })
	e.Subscribe(func(obs *Observation) { count.Add(1) })

	e.Emit(TypeStageStarted, "inc-1", nil)

	if got := count.Load(); got != 1 {
		t.Fatalf("surviving handler ran %d times, want 1", got)
	}
}

func TestBufferReplaysForLateJoiners(t *testing.T) {
	e := NewEmitter()

	e.Emit(TypeIncidentSubmitted, "inc-1", nil)
	e.Emit(TypeStageStarted, "inc-1", nil)
	e.Emit(TypeStageCompleted, "inc-1", nil)

	buf := e.Buffer()
	if len(buf) != 3 {
		t.Fatalf("buffer length = %d, want 3", len(buf))
	}
	if buf[0].Type != TypeIncidentSubmitted || buf[2].Type != TypeStageCompleted {
		t.Fatal("buffer is not in emission order")
	}

	byType := e.BufferByType(TypeStageStarted)
	if len(byType) != 1 {
		t.Fatalf("BufferByType length = %d, want 1", len(byType))
	}
}

func TestBufferEvictsOldestWhenFull(t *testing.T) {
	e := NewEmitter(WithBufferSize(2))

	e.Emit(TypeIncidentSubmitted, "inc-1", nil)
	e.Emit(TypeStageStarted, "inc-1", nil)
	e.Emit(TypeStageCompleted, "inc-1", nil)

	buf := e.Buffer()
	if len(buf) != 2 {
		t.Fatalf("buffer length = %d, want 2", len(buf))
	}
	if buf[0].Type != TypeStageStarted {
		t.Fatalf("oldest retained = %s, want stage_started", buf[0].Type)
	}
}

func TestConcurrentEmitAndSubscribe(t *testing.T) {
	e := NewEmitter()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				e.Emit(TypeStageStarted, "inc-1", nil)
			}
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id := e.Subscribe(func(obs *Observation) {})
				e.Unsubscribe(id)
			}
		}()
	}
	wg.Wait()

	if got := len(e.Buffer()); got != 800 {
		t.Fatalf("buffer length = %d, want 800", got)
	}
}
