// Copyright (C) 2026 SentinelOps (eng@sentinelops.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// swarmd is the agent swarm incident coordinator daemon.
//
// It exposes the incident API over HTTP, persists incident event logs in
// BadgerDB, runs the analyzer swarm over a bounded worker pool, and
// exports Prometheus metrics and OTLP traces.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/sentinelops/swarm/pkg/logging"
	"github.com/sentinelops/swarm/services/coordinator/analyzer"
	"github.com/sentinelops/swarm/services/coordinator/breaker"
	"github.com/sentinelops/swarm/services/coordinator/config"
	"github.com/sentinelops/swarm/services/coordinator/consensus"
	"github.com/sentinelops/swarm/services/coordinator/coordinate"
	"github.com/sentinelops/swarm/services/coordinator/events"
	"github.com/sentinelops/swarm/services/coordinator/eventstore"
	"github.com/sentinelops/swarm/services/coordinator/incident"
	"github.com/sentinelops/swarm/services/coordinator/notify"
	"github.com/sentinelops/swarm/services/coordinator/observability"
	"github.com/sentinelops/swarm/services/coordinator/routes"
	"github.com/sentinelops/swarm/services/coordinator/scheduler"
)

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("swarm-coordinator")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// buildAnalyzers assembles the swarm: heuristic agents by default, the
// LLM backend for any role listed in SWARM_LLM_ROLES, and fault
// simulation when demo mode is on.
func buildAnalyzers(cfg config.Config, demo bool) (map[incident.Role]analyzer.Analyzer, error) {
	var opts []analyzer.Option
	if demo {
		opts = append(opts,
			analyzer.WithLatency(50*time.Millisecond, 800*time.Millisecond),
			analyzer.WithFailureRate(0.15),
		)
	}
	analyzers := analyzer.Defaults(opts...)

	for _, role := range cfg.LLMRoles {
		llm, err := analyzer.NewLLM(role)
		if err != nil {
			return nil, err
		}
		analyzers[role] = llm
	}
	return analyzers, nil
}

// runDemo submits random incidents until the context is cancelled.
func runDemo(ctx context.Context, coord *coordinate.Coordinator, logger *logging.Logger) {
	categories := incident.AllCategories()
	severities := []incident.Severity{
		incident.SeverityLow,
		incident.SeverityMedium,
		incident.SeverityHigh,
		incident.SeverityCritical,
	}

	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			category := categories[rand.Intn(len(categories))]
			severity := severities[rand.Intn(len(severities))]
			id, err := coord.Submit(ctx, category, severity,
				"demo: synthetic "+string(category)+" report")
			if err != nil {
				logger.Warn("demo submission failed", "error", err)
				continue
			}
			logger.Info("demo incident submitted", "incident_id", id)
		}
	}
}

func main() {
	demo := flag.Bool("demo", false, "submit synthetic incidents with injected faults")
	flag.Parse()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		LogDir:  cfg.LogDir,
		Service: "swarmd",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	if cfg.OTLPEndpoint != "" {
		cleanup, err := initTracer(cfg.OTLPEndpoint)
		if err != nil {
			log.Fatalf("failed to setup the OTLP tracer: %v", err)
		}
		defer cleanup(context.Background())
	}

	// Event store: durable when a data dir is configured.
	var store eventstore.Store
	if cfg.DataDir != "" {
		badgerStore, err := eventstore.OpenBadger(eventstore.DefaultBadgerConfig(cfg.DataDir))
		if err != nil {
			log.Fatalf("failed to open the event store: %v", err)
		}
		store = badgerStore
		logger.Info("event store opened", "path", cfg.DataDir)
	} else {
		store = eventstore.NewMemoryStore()
		logger.Warn("SWARM_DATA_DIR not set, event store is in-memory only")
	}
	defer store.Close()

	emitter := events.NewEmitter()

	metrics := observability.InitMetrics()
	metrics.Observe(emitter)
	metrics.InitBreakerGauges()

	breakers, err := breaker.NewRegistry(breaker.Config{
		Threshold: cfg.BreakerThreshold,
		Cooldown:  cfg.BreakerCooldown,
		OnTransition: func(t breaker.Transition) {
			emitter.Emit(events.TypeBreakerTransition, "", events.BreakerTransitionData{
				Role:                t.Role,
				From:                t.From.String(),
				To:                  t.To.String(),
				ConsecutiveFailures: t.ConsecutiveFailures,
				CooldownUntil:       t.CooldownUntil,
			})
		},
	})
	if err != nil {
		log.Fatalf("failed to create the breaker registry: %v", err)
	}

	analyzers, err := buildAnalyzers(cfg, *demo)
	if err != nil {
		log.Fatalf("failed to build analyzers: %v", err)
	}

	sched, err := scheduler.New(scheduler.Config{
		Analyzers: analyzers,
		Breakers:  breakers,
		Emitter:   emitter,
		Logger:    logger.Slog(),
	})
	if err != nil {
		log.Fatalf("failed to create the scheduler: %v", err)
	}

	engine, err := consensus.NewEngine(consensus.Config{Quorum: cfg.Quorum})
	if err != nil {
		log.Fatalf("failed to create the consensus engine: %v", err)
	}

	var notifier notify.Notifier = notify.NewLog(logger.Slog())
	if cfg.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.WebhookURL)
		logger.Info("using webhook notifier", "url", cfg.WebhookURL)
	}

	coord, err := coordinate.New(coordinate.Config{
		Store:     store,
		Scheduler: sched,
		Consensus: engine,
		Notifier:  notifier,
		Emitter:   emitter,
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
		Logger:    logger.Slog(),
	})
	if err != nil {
		log.Fatalf("failed to create the coordinator: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := coord.Start(ctx); err != nil {
		log.Fatalf("failed to start the coordinator: %v", err)
	}
	defer coord.Stop()

	if *demo {
		logger.Info("demo mode enabled: submitting synthetic incidents")
		go runDemo(ctx, coord, logger)
	}

	router := gin.Default()
	router.Use(otelgin.Middleware("swarm-coordinator"))
	routes.SetupRoutes(router, coord, store, breakers, emitter)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("starting the swarm coordinator server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", "error", err)
	}
}
