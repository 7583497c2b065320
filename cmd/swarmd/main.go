package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/basket/swarmctl/internal/bus"
	"github.com/basket/swarmctl/internal/config"
	"github.com/basket/swarmctl/internal/cron"
	"github.com/basket/swarmctl/internal/dispatch"
	"github.com/basket/swarmctl/internal/gateway"
	"github.com/basket/swarmctl/internal/handshake"
	"github.com/basket/swarmctl/internal/notify"
	otelPkg "github.com/basket/swarmctl/internal/otel"
	"github.com/basket/swarmctl/internal/persistence"
	"github.com/basket/swarmctl/internal/roster"
	"github.com/basket/swarmctl/internal/router"
	"github.com/basket/swarmctl/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func main() {
	if len(os.Args) > 1 {
		switch strings.ToLower(strings.TrimSpace(os.Args[1])) {
		case "version", "-version", "--version":
			fmt.Printf("swarmd %s\n", Version)
			return
		case "help", "-h", "--help":
			fmt.Fprintf(os.Stderr, `usage: swarmd

Runs the swarm control-plane daemon: websocket gateway for agents,
task router, lifecycle sweeper, and audit chain verifier.

ENVIRONMENT VARIABLES:
  SWARM_HOME            Data directory (default: ~/.swarmctl)
  SWARM_BIND_ADDR       Override bind_addr from config.yaml
  SWARM_AUDIT_SECRET    HMAC secret for audit signing
  TELEGRAM_TOKEN        Token for the telegram notifier
`)
			return
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "config_load", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "logger_init", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "fingerprint", cfg.Fingerprint())

	if cfg.AuditSecret == "" {
		logger.Warn("SWARM_AUDIT_SECRET is empty; task mutations will not be audit-signed")
	}

	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRate:  cfg.Telemetry.SampleRate,
	})
	if err != nil {
		fatalStartup(logger, "otel_init", err)
	}
	defer otelProvider.Shutdown(ctx)
	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "otel_metrics", err)
	}

	taskStore, err := persistence.OpenTaskStore(cfg.TaskStorePath)
	if err != nil {
		fatalStartup(logger, "task_store_open", err)
	}
	defer taskStore.Close()

	auditStore, err := persistence.OpenAuditStore(cfg.AuditStorePath)
	if err != nil {
		fatalStartup(logger, "audit_store_open", err)
	}
	defer auditStore.Close()

	archive, err := persistence.OpenArchive(cfg.ArchivePath)
	if err != nil {
		fatalStartup(logger, "archive_open", err)
	}
	defer archive.Close()

	records, err := persistence.LoadRecords(cfg.TaskStorePath)
	if err != nil {
		fatalStartup(logger, "journal_load", err)
	}
	logger.Info("startup phase", "phase", "journal_loaded", "tasks", len(records))

	eventBus := bus.New()

	weights := router.DefaultWeights()
	if cfg.Router.MaxStalenessMillis > 0 {
		weights.MaxStalenessMs = cfg.Router.MaxStalenessMillis
	}
	if cfg.Router.MaxFutureSkewMillis > 0 {
		weights.MaxFutureSkewMs = cfg.Router.MaxFutureSkewMillis
	}
	if cfg.Router.MinBenchmarkSamples > 0 {
		weights.MinBenchmarkSamples = cfg.Router.MinBenchmarkSamples
	}

	manager := dispatch.NewManager(dispatch.Config{
		Tasks:          taskStore,
		Audit:          auditStore,
		Archive:        archive,
		Bus:            eventBus,
		Logger:         logger,
		Metrics:        metrics,
		Weights:        weights,
		Secret:         cfg.AuditSecret,
		KeyID:          cfg.Audit.KeyID,
		AuditPath:      cfg.AuditStorePath,
		MaxRetries:     cfg.MaxRetries,
		RetryBackoffMs: int64(cfg.RetryBackoffSeconds) * 1000,
		TaskTimeoutMs:  int64(cfg.TaskTimeoutSeconds) * 1000,
	}, records)

	agentRoster := roster.New()

	gw := gateway.New(gateway.Config{
		Manager: manager,
		Roster:  agentRoster,
		Bus:     eventBus,
		Logger:  logger,
		Metrics: metrics,
		Handshake: handshake.Options{
			SupportedProtocols:   cfg.Handshake.SupportedProtocols,
			Capabilities:         cfg.Handshake.Capabilities,
			RequiredCapabilities: cfg.Handshake.RequiredCapabilities,
			Timeout:              time.Duration(cfg.Handshake.TimeoutSeconds) * time.Second,
			Retries:              cfg.Handshake.Retries,
			RetryDelay:           time.Duration(cfg.Handshake.RetryDelayMillis) * time.Millisecond,
			Logger:               logger,
		},
		ConfigFingerprint: cfg.Fingerprint(),
	})

	server := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: gw.Handler(),
	}
	serverErr := make(chan error, 1)
	ln, err := net.Listen("tcp", cfg.BindAddr)
	if err != nil {
		fatalStartup(logger, "listener_bind", err)
	}
	go func() {
		logger.Info("gateway listening", "addr", cfg.BindAddr, "ws", "/ws")
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	scheduler, err := cron.NewScheduler(cron.Config{
		Manager:             manager,
		Roster:              agentRoster,
		Logger:              logger,
		Interval:            time.Duration(cfg.SweepIntervalSecs) * time.Second,
		HeartbeatTTL:        time.Duration(cfg.HeartbeatTTLSeconds) * time.Second,
		AuditVerifySchedule: cfg.Audit.VerifyCron,
	})
	if err != nil {
		fatalStartup(logger, "scheduler_init", err)
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()
	logger.Info("startup phase", "phase", "scheduler_started",
		"sweep_interval_seconds", cfg.SweepIntervalSecs,
		"audit_verify", cfg.Audit.VerifyCron)

	confWatcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := confWatcher.Start(ctx); err != nil {
		fatalStartup(logger, "config_watcher_start", err)
	}
	go func() {
		for ev := range confWatcher.Events() {
			if ev.Err != nil {
				logger.Error("config.yaml reload failed", "error", ev.Err)
				continue
			}
			// Paths and bind address need a restart; log the drift so
			// operators notice.
			if ev.Fingerprint != cfg.Fingerprint() {
				logger.Info("config.yaml changed; restart to apply bind/path changes",
					"old_fingerprint", cfg.Fingerprint(),
					"new_fingerprint", ev.Fingerprint)
			}
		}
	}()

	if cfg.Notify.Telegram.Enabled {
		if cfg.Notify.Telegram.Token == "" {
			logger.Warn("telegram notifier enabled but token is missing")
		} else {
			notifier := notify.NewNotifier(
				cfg.Notify.Telegram.Token,
				cfg.Notify.Telegram.AllowedIDs,
				eventBus,
				logger,
			)
			go func() {
				if err := notifier.Start(ctx); err != nil {
					logger.Error("telegram notifier failed", "error", err)
				}
			}()
		}
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("gateway server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	if archived, err := manager.ArchiveTerminal(shutdownCtx); err != nil {
		logger.Warn("terminal archive on shutdown failed", "error", err)
	} else if archived > 0 {
		logger.Info("terminal records archived", "count", archived)
	}
	logger.Info("shutdown complete")
}

func fatalStartup(logger *slog.Logger, phase string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "phase", phase, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"swarmd","trace_id":"-","msg":"startup failure","phase":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			phase,
			message,
		)
	}
	os.Exit(1)
}
