package main

import (
	"context"
	"log"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"verifactu/internal/config"
	"verifactu/internal/infra/aeat"
	"verifactu/internal/infra/certs"
	"verifactu/internal/infra/db"
	httpinfra "verifactu/internal/infra/http"
	"verifactu/internal/infra/lock"
	"verifactu/internal/infra/metrics"
	"verifactu/internal/infra/policy"
	"verifactu/internal/infra/qr"
	"verifactu/internal/infra/state"
	"verifactu/internal/infra/vaultclient"
	"verifactu/internal/scheduler"
	"verifactu/internal/usecase"
)

func main() {
	cfg := config.FromEnv()
	logger := newLogger(cfg.LogLevel)

	store, err := db.NewStore(cfg)
	if err != nil {
		log.Fatalf("failed to init store: %v", err)
	}
	if err := store.AutoMigrate(); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}

	locks, stateStore, err := buildSharedState(cfg)
	if err != nil {
		log.Fatalf("failed to init redis backends: %v", err)
	}

	recordRepo := db.NewRecordRepository(store.DB)
	batchRepo := db.NewBatchRepository(store.DB)
	eventRepo := db.NewEventRepository(store.DB)
	tenantRepo := db.NewTenantConfigRepository(store.DB)

	events := usecase.NewEventLogger(eventRepo, logger)

	certStore := certs.NewStore(vaultclient.New(cfg.VaultAddr, cfg.VaultToken))

	var encoder qr.ImageEncoder = qr.NoopEncoder{}
	if cfg.QREnabled {
		encoder = qr.PNGEncoder{Size: cfg.QRSize}
	}
	artifacts := qr.NewGenerator(cfg.QRBaseURL, encoder)

	records := usecase.NewRecordService(recordRepo, tenantRepo, locks, events, artifacts, logger)
	records.LockTTL = cfg.LockTimeout()
	records.SoftwareID = cfg.SoftwareID
	records.SoftwareVersion = cfg.SoftwareVersion

	verifier := usecase.NewChainVerifier(recordRepo, locks, events, logger)
	verifier.LockTTL = cfg.LockTimeout()

	transport := aeat.NewClient(cfg.AeatProductionURL, cfg.AeatTestingURL, certStore, cfg.AeatTimeout())
	submission := usecase.NewSubmissionService(
		batchRepo, recordRepo, tenantRepo,
		aeat.NewEnvelopeBuilder(), aeat.NewResponseParser(), transport,
		stateStore, events, logger)
	submission.MaxRecordsPerBatch = cfg.MaxRecordsPerBatch
	submission.MaxRetries = cfg.MaxRetries
	submission.BackoffBase = cfg.BackoffBase()
	submission.MaxBackoff = cfg.MaxBackoff()
	submission.BreakerThreshold = int64(cfg.BreakerThreshold)
	submission.BreakerPause = cfg.BreakerPause()
	submission.FlowControlInterval = cfg.FlowControlInterval()

	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx)
	if err != nil {
		log.Fatalf("failed to init policy engine: %v", err)
	}

	events.LogSystemStart(ctx, cfg.SoftwareID, cfg.SoftwareVersion)

	if cfg.SchedulerEnabled {
		sched := scheduler.New(cfg, submission, verifier, events, tenantRepo, logger)
		if err := sched.Start(ctx); err != nil {
			log.Fatalf("failed to start scheduler: %v", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	serviceMetrics := metrics.New(registry)

	srv := httpinfra.NewServer(cfg, httpinfra.ServerDeps{
		Records:    records,
		Verifier:   verifier,
		Events:     events,
		Submission: submission,
		RecordRepo: recordRepo,
		BatchRepo:  batchRepo,
		Tenants:    tenantRepo,
		CertStore:  certStore,
		Policy:     policyEngine,
		Logger:     logger,
		Metrics:    serviceMetrics,
		Prometheus: registry,
	})
	if err := srv.Run(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

func buildSharedState(cfg config.Config) (usecase.LockBackend, usecase.StateStore, error) {
	if cfg.RedisAddr == "" {
		return lock.NewMemoryLock(), state.NewMemoryStore(), nil
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "verifactud"
	}
	locks, err := lock.NewRedisLock(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, hostname)
	if err != nil {
		return nil, nil, err
	}
	stateStore, err := state.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	return locks, stateStore, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
