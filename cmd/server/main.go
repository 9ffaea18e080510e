package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/amrglass/internal/audit"
	"github.com/JonMunkholm/amrglass/internal/config"
	"github.com/JonMunkholm/amrglass/internal/jobs"
	"github.com/JonMunkholm/amrglass/internal/logging"
	"github.com/JonMunkholm/amrglass/internal/service"
	"github.com/JonMunkholm/amrglass/internal/store"
	"github.com/JonMunkholm/amrglass/internal/tables"
	"github.com/JonMunkholm/amrglass/internal/web"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// run wires the server and blocks until it stops. Returning instead of
// exiting lets deferred closes run.
func run() error {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"standard", cfg.Pipeline.Standard,
		"version", cfg.Pipeline.Version,
		"max_concurrent", cfg.Pipeline.MaxConcurrent,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	// Breakpoint and vocabulary tables
	registry, err := tables.NewRegistry(cfg.Pipeline.BreakpointsFile)
	if err != nil {
		return fmt.Errorf("load breakpoint table: %w", err)
	}
	vocabulary, err := tables.NewVocabulary(cfg.Pipeline.VocabularyFile)
	if err != nil {
		return fmt.Errorf("load vocabulary: %w", err)
	}
	slog.Info("tables loaded",
		"breakpoints", registry.Len(),
		"standards", registry.Standards(),
	)

	ctx := context.Background()
	sinks := []audit.Sink{audit.NewLogSink(slog.Default())}
	deps := service.Deps{Registry: registry, Vocabulary: vocabulary, Config: cfg.Pipeline}

	// Persistence is optional
	if cfg.Database.Enabled() {
		st, err := store.Open(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer st.Close()

		if err := st.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
		slog.Info("connected to database")

		deps.Store = st
		sinks = append(sinks, audit.NewStoreSink(st))
	} else {
		slog.Warn("DATABASE_URL not set, runs will not be persisted")
	}

	if cfg.Kafka.Enabled() {
		kafka := audit.NewKafkaSink(audit.KafkaConfig{
			Brokers:         cfg.Kafka.Brokers,
			Topic:           cfg.Kafka.Topic,
			WriteTimeout:    cfg.Kafka.WriteTimeout,
			BreakerFailures: cfg.Kafka.BreakerFailures,
			BreakerTimeout:  cfg.Kafka.BreakerTimeout,
		})
		defer kafka.Close()
		sinks = append(sinks, kafka)
		slog.Info("publishing audit events to kafka", "topic", cfg.Kafka.Topic)
	}

	recorder := audit.NewRecorder(sinks...)
	deps.Recorder = recorder

	svc, err := service.New(deps)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	svc.RecordTablesLoaded(ctx)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	defer cancelJobs()

	// Background jobs need Redis
	var queue web.JobQueue
	if cfg.Redis.Enabled() {
		client, err := jobs.Dial(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer client.Close()

		q := jobs.NewQueue(client, cfg.Jobs, recorder)
		mux := jobs.NewMux()
		mux.Handle(service.JobPipeline, jobs.HandlerFunc(svc.HandlePipelineJob))
		mux.Handle(service.JobInterpret, jobs.HandlerFunc(svc.HandleInterpretJob))

		worker := jobs.NewWorker(q, mux, cfg.Jobs, recorder)
		go worker.Run(jobCtx)

		queue = q
		slog.Info("job kinds registered", "kinds", mux.Kinds())
	}

	// Start retention scheduler with config values
	if err := svc.StartRetentionScheduler(jobCtx, cfg.Retention); err != nil {
		return fmt.Errorf("start retention scheduler: %w", err)
	}

	server := web.NewServer(svc, queue, cfg)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop background jobs
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for active runs to complete (with timeout)
		status := svc.Limiter().Status()
		if status.Active > 0 {
			slog.Info("waiting for runs to complete", "active", status.Active)
			if err := svc.Limiter().WaitForDrain(shutdownCtx); err != nil {
				slog.Warn("runs did not complete in time", "error", err)
			} else {
				slog.Info("all runs completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	// Start server (uses addr from config internally)
	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
	return nil
}
