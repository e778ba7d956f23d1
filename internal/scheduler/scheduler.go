package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"verifactu/internal/config"
	"verifactu/internal/domain"
	"verifactu/internal/usecase"
)

// TenantLister yields the tenants the integrity audit walks.
type TenantLister interface {
	ListActive(ctx context.Context, limit int) ([]domain.TenantConfig, error)
}

// Scheduler drives the background loops: staging pending records into
// batches, submitting due batches, and the periodic integrity audit.
type Scheduler struct {
	cfg        config.Config
	submission *usecase.SubmissionService
	verifier   *usecase.ChainVerifier
	events     *usecase.EventLogger
	tenants    TenantLister
	logger     *slog.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

func New(cfg config.Config, submission *usecase.SubmissionService, verifier *usecase.ChainVerifier, events *usecase.EventLogger, tenants TenantLister, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cfg:        cfg,
		submission: submission,
		verifier:   verifier,
		events:     events,
		tenants:    tenants,
		logger:     logger,
		cron:       cron.New(),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := []struct {
		name     string
		schedule string
		run      func(context.Context)
	}{
		{"process-queue", s.cfg.ProcessQueueCron, s.runProcessQueue},
		{"submit-due", s.cfg.SubmitDueCron, s.runSubmitDue},
		{"integrity-audit", s.cfg.IntegrityAudit, s.runIntegrityAudit},
	}
	for _, job := range jobs {
		if job.schedule == "" {
			continue
		}
		run := job.run
		if _, err := s.cron.AddFunc(job.schedule, func() { run(ctx) }); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", job.name, job.schedule, err)
		}
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started",
		"process_queue", s.cfg.ProcessQueueCron,
		"submit_due", s.cfg.SubmitDueCron,
		"integrity_audit", s.cfg.IntegrityAudit)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil && s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("scheduler stopped")
	}
}

func (s *Scheduler) runProcessQueue(ctx context.Context) {
	batches, err := s.submission.ProcessQueue(ctx)
	if err != nil {
		s.logger.Error("scheduled queue processing failed", "error", err)
		return
	}
	if len(batches) > 0 {
		s.logger.Info("pending records staged into batches", "batches", len(batches))
	}
}

func (s *Scheduler) runSubmitDue(ctx context.Context) {
	results, err := s.submission.SubmitDue(ctx)
	if err != nil {
		s.logger.Error("scheduled submission failed", "error", err)
		return
	}
	for _, result := range results {
		if result.Refusal != nil {
			s.logger.Info("batch submission refused",
				"batch_id", result.BatchID,
				"reason", result.Refusal.Error())
		}
	}
}

// runIntegrityAudit verifies every active tenant's invoice chain and event
// ledger. Break events are emitted by the verifier itself.
func (s *Scheduler) runIntegrityAudit(ctx context.Context) {
	tenants, err := s.tenants.ListActive(ctx, s.cfg.AuditTenantsLimit)
	if err != nil {
		s.logger.Error("integrity audit could not list tenants", "error", err)
		return
	}
	for _, tenant := range tenants {
		chain := s.verifier.VerifyChain(ctx, tenant.TenantID)
		if err := chain.Err(); err != nil {
			s.logger.Error("invoice chain break detected",
				"tenant_id", tenant.TenantID,
				"break_at_record", chain.BreakAtRecord,
				"error", err)
		}
		ledger := s.events.VerifyIntegrity(ctx, tenant.TenantID)
		if !ledger.IsValid && ledger.BreakAtSeq != 0 {
			s.logger.Error("event ledger break detected",
				"tenant_id", tenant.TenantID,
				"break_at_seq", ledger.BreakAtSeq)
		}
	}
	s.logger.Info("integrity audit finished", "tenants", len(tenants))
}
