package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq" // Postgres driver

	"github.com/ztx/accessd/internal/api"
	"github.com/ztx/accessd/internal/audit"
	"github.com/ztx/accessd/internal/behavior"
	"github.com/ztx/accessd/internal/config"
	"github.com/ztx/accessd/internal/decision"
	"github.com/ztx/accessd/internal/directory"
	"github.com/ztx/accessd/internal/events"
	"github.com/ztx/accessd/internal/identity"
	"github.com/ztx/accessd/internal/infra"
	"github.com/ztx/accessd/internal/monitoring"
	"github.com/ztx/accessd/internal/notify"
	"github.com/ztx/accessd/internal/policy"
	"github.com/ztx/accessd/internal/risk"
	"github.com/ztx/accessd/internal/segment"
	"github.com/ztx/accessd/internal/session"
	"github.com/ztx/accessd/internal/trust"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := loadConfig()
	slog.Info("Starting accessd", "env", cfg.Server.Env, "port", cfg.Server.Port)

	metrics := monitoring.NewMetrics()
	bus := events.NewEventBus()

	// Engine event emitter: in-process bus, optionally mirrored to Pub/Sub.
	var emitter events.EventEmitter = bus
	if cfg.Events.PubSubProject != "" {
		pb, err := events.NewPubSubEventBus(cfg.Events.PubSubProject, cfg.Events.Topic)
		if err != nil {
			slog.Error("Pub/Sub unavailable, falling back to in-memory bus", "error", err)
		} else {
			emitter = pb
			bus = pb.EventBus // streamer and webhook bridge ride the embedded bus
			defer pb.Close()
		}
	}

	// Directory, optionally backed by Redis.
	var backing directory.Backing
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client, err := infra.NewGoRedisAdapter(addr, os.Getenv("REDIS_PASSWORD"), 0)
		if err != nil {
			slog.Error("Redis unavailable, directory runs in-memory only", "error", err)
		} else {
			backing = directory.NewRedisStore(client, "accessd:dir:", 24*time.Hour)
		}
	}
	dir := directory.NewStore(backing)
	if backing != nil {
		warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := dir.Warm(warmCtx); err != nil {
			slog.Warn("Directory warm-up incomplete", "error", err)
		}
		cancel()
	}

	auditSink := buildAuditSink(cfg)

	policyStore := policy.NewStore()
	guard := segment.NewGuard(segment.GuardConfig{
		ManagementSegment: cfg.Segment.ManagementSegment,
		ManagementPorts:   cfg.Segment.ManagementPorts,
	}, emitter, metrics)

	engine := decision.NewEngine(cfg.Decision, decision.Deps{
		Trust:      trust.NewScorer(cfg.Trust),
		Risk:       risk.NewScorer(cfg.Risk),
		Policies:   policy.NewEvaluator(policyStore),
		Behavior:   behavior.NewDetector(cfg.Behavior.MinObservations),
		Compliance: trust.NewComplianceAssessor(cfg.Behavior.MaxPatchAgeDays),
		Directory:  dir,
		Segments:   guard,
		Workloads:  identity.NewWorkloadValidator(cfg.Identity.TrustDomains),
		Audit:      auditSink,
		Emitter:    emitter,
		Metrics:    metrics,
	})

	monitor := session.NewMonitor(session.MonitorConfig{
		MaxSessionAge: cfg.Session.MaxAge(),
		IdleTimeout:   cfg.Session.IdleTimeout(),
		SweepInterval: cfg.Session.SweepInterval(),
	}, emitter, metrics)
	monitor.Start()
	defer monitor.Stop()

	// Webhook delivery, bridged off the in-process bus.
	webhooks := notify.NewRegistry()
	dispatcher := buildDispatcher(cfg, webhooks)
	defer dispatcher.Shutdown()
	bridge := notify.NewBridge(bus, dispatcher)
	defer bridge.Close()

	server := api.NewServer(engine, monitor, guard, policyStore, dir, auditSink, webhooks, bus)

	// Graceful shutdown on SIGTERM.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Shutdown signal received")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
	}()

	port, err := strconv.Atoi(cfg.Server.Port)
	if err != nil {
		slog.Error("Invalid port", "port", cfg.Server.Port)
		os.Exit(1)
	}
	if err := server.Start(port); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	path := os.Getenv("ACCESSD_CONFIG")
	if path == "" {
		return config.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("Config load failed", "path", path, "error", err)
		os.Exit(1)
	}
	return cfg
}

// buildAuditSink selects the audit backend. Spanner and Postgres are
// durable; memory is for local development.
func buildAuditSink(cfg *config.Config) audit.Sink {
	switch cfg.Audit.Backend {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Audit.PostgresDSN)
		if err != nil {
			slog.Error("Postgres open failed, using in-memory audit", "error", err)
			return audit.NewMemorySink()
		}
		return audit.NewPostgresSink(db)

	case "spanner":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sink, err := audit.NewSpannerSink(ctx, cfg.Audit.SpannerDatabase)
		if err != nil {
			slog.Error("Spanner connect failed, using in-memory audit", "error", err)
			return audit.NewMemorySink()
		}
		return sink

	default:
		return audit.NewMemorySink()
	}
}

func buildDispatcher(cfg *config.Config, registry *notify.Registry) notify.Emitter {
	if cfg.Notify.CloudTasksProject != "" {
		cd, err := notify.NewCloudDispatcher(registry,
			cfg.Notify.CloudTasksProject,
			cfg.Notify.CloudTasksLocation,
			cfg.Notify.CloudTasksQueue,
			cfg.Notify.FallbackWorkers)
		if err == nil {
			return cd
		}
		slog.Error("Cloud Tasks unavailable, using in-memory dispatcher", "error", err)
	}
	return notify.NewDispatcher(registry, cfg.Notify.FallbackWorkers)
}
