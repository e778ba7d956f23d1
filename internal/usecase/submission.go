package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"verifactu/internal/domain"
)

// State store keys, per tenant. They live in the shared store so every
// worker process sees the same breaker and flow-control state.
func breakerFailuresKey(tenantID string) string { return "verifactu_breaker_failures_" + tenantID }
func breakerOpenUntilKey(tenantID string) string {
	return "verifactu_breaker_open_until_" + tenantID
}
func lastSubmitKey(tenantID string) string { return "verifactu_last_submit_" + tenantID }

// SubmissionService queues pending records into remision batches and drives
// delivery to the AEAT. SubmitBatch performs exactly one attempt: retries
// are scheduled by persisting NextAttemptAt and letting the scheduler pick
// the batch up again, so a crashed worker never loses a pending retry.
type SubmissionService struct {
	Batches  BatchRepository
	Records  RecordRepository
	Tenants  TenantConfigRepository
	Envelope EnvelopeBuilder
	Parser   ResponseParser
	Sender   Transport
	State    StateStore
	Events   *EventLogger
	Logger   *slog.Logger
	Clock    Clock

	MaxRecordsPerBatch  int
	MaxRetries          int
	BackoffBase         time.Duration
	MaxBackoff          time.Duration
	BreakerThreshold    int64
	BreakerPause        time.Duration
	FlowControlInterval time.Duration
}

func NewSubmissionService(batches BatchRepository, records RecordRepository, tenants TenantConfigRepository, envelope EnvelopeBuilder, parser ResponseParser, sender Transport, state StateStore, events *EventLogger, logger *slog.Logger) *SubmissionService {
	return &SubmissionService{
		Batches:  batches,
		Records:  records,
		Tenants:  tenants,
		Envelope: envelope,
		Parser:   parser,
		Sender:   sender,
		State:    state,
		Events:   events,
		Logger:   logger,
		Clock:    time.Now,

		MaxRecordsPerBatch:  1000,
		MaxRetries:          5,
		BackoffBase:         30 * time.Second,
		MaxBackoff:          30 * time.Minute,
		BreakerThreshold:    5,
		BreakerPause:        300 * time.Second,
		FlowControlInterval: 60 * time.Second,
	}
}

// ProcessQueue sweeps pending records into queued batches, one batch per
// tenant per chunk of MaxRecordsPerBatch. It only stages work; delivery
// happens when the scheduler calls SubmitDue.
func (s *SubmissionService) ProcessQueue(ctx context.Context) ([]domain.RemisionBatch, error) {
	pending, err := s.Records.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending records: %w", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	// Grouping preserves per-tenant id order from ListPending, which the
	// envelope relies on: records inside a batch appear in chain order.
	byTenant := map[string][]domain.InvoiceRecord{}
	var tenantOrder []string
	for _, record := range pending {
		if _, seen := byTenant[record.TenantID]; !seen {
			tenantOrder = append(tenantOrder, record.TenantID)
		}
		byTenant[record.TenantID] = append(byTenant[record.TenantID], record)
	}

	now := s.now()
	var batches []domain.RemisionBatch
	for _, tenantID := range tenantOrder {
		cfg, err := s.Tenants.GetByTenant(ctx, tenantID)
		if err != nil {
			if s.Logger != nil {
				s.Logger.Warn("skipping pending records for unconfigured tenant", "tenant_id", tenantID, "error", err)
			}
			continue
		}
		for _, chunk := range chunkRecords(byTenant[tenantID], s.MaxRecordsPerBatch) {
			nextAttempt := now
			batch, err := s.Batches.Create(ctx, domain.RemisionBatch{
				TenantID:      tenantID,
				UUID:          uuid.NewString(),
				Status:        domain.BatchStatusQueued,
				Environment:   cfg.Environment,
				TotalRecords:  len(chunk),
				NextAttemptAt: &nextAttempt,
				CreatedAt:     now,
			})
			if err != nil {
				return batches, fmt.Errorf("create batch for tenant %s: %w", tenantID, err)
			}
			ids := make([]int64, len(chunk))
			for i, record := range chunk {
				ids[i] = record.ID
			}
			if err := s.Records.AssignBatch(ctx, ids, batch.ID); err != nil {
				return batches, fmt.Errorf("assign records to batch %d: %w", batch.ID, err)
			}
			batches = append(batches, batch)
		}
	}
	return batches, nil
}

// SubmitDue runs one attempt for every batch whose schedule has come due.
func (s *SubmissionService) SubmitDue(ctx context.Context) ([]domain.SubmissionResult, error) {
	due, err := s.Batches.ListDue(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("list due batches: %w", err)
	}
	var results []domain.SubmissionResult
	for _, batch := range due {
		result, err := s.SubmitBatch(ctx, batch.ID)
		if err != nil {
			if s.Logger != nil {
				s.Logger.Error("batch submission failed", "batch_id", batch.ID, "error", err)
			}
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// SubmitBatch performs one delivery attempt. The guards run in a fixed
// order before anything touches the network: circuit breaker first, then
// flow control. A guard refusal is reported in SubmissionResult.Refusal and
// reschedules the batch; it is not an error and not an attempt.
func (s *SubmissionService) SubmitBatch(ctx context.Context, batchID int64) (domain.SubmissionResult, error) {
	started := s.now()
	result := domain.SubmissionResult{BatchID: batchID}

	batch, err := s.Batches.GetByID(ctx, batchID)
	if err != nil {
		return result, fmt.Errorf("load batch %d: %w", batchID, err)
	}
	if batch.Status != domain.BatchStatusQueued {
		return result, fmt.Errorf("%w: batch %d has status %s", domain.ErrBatchNotRetryable, batchID, batch.Status)
	}
	result.Attempts = batch.AttemptCount

	if refusal := s.checkGuards(ctx, batch); refusal != nil {
		result.Refusal = refusal.err
		result.Status = batch.Status
		result.ErrorMessage = refusal.err.Error()
		batch.NextAttemptAt = &refusal.retryAt
		if err := s.Batches.Update(ctx, *batch); err != nil {
			return result, fmt.Errorf("reschedule refused batch %d: %w", batchID, err)
		}
		if s.Logger != nil {
			s.Logger.Info("batch submission refused by guard",
				"batch_id", batchID,
				"tenant_id", batch.TenantID,
				"reason", refusal.err.Error(),
				"retry_at", refusal.retryAt)
		}
		return result, nil
	}

	records, err := s.Records.ListByBatch(ctx, batchID)
	if err != nil {
		return result, fmt.Errorf("load batch records: %w", err)
	}
	if len(records) == 0 {
		return result, fmt.Errorf("%w: batch %d has no records", domain.ErrValidation, batchID)
	}

	payload, err := s.Envelope.BuildEnvelope(records)
	if err != nil {
		return result, fmt.Errorf("build envelope for batch %d: %w", batchID, err)
	}

	// The batch goes in flight before anything reaches the network: MarkSent
	// is conditional on the stored row still being queued, so a concurrent
	// worker racing this one loses here instead of delivering a second copy.
	now := s.now()
	batch.Status = domain.BatchStatusSent
	batch.AttemptCount++
	batch.SentAt = &now
	batch.RequestPayload = payload
	batch.NextAttemptAt = nil
	result.Attempts = batch.AttemptCount
	if err := s.Batches.MarkSent(ctx, *batch); err != nil {
		return result, fmt.Errorf("mark batch %d in flight: %w", batchID, err)
	}
	for _, record := range records {
		if err := s.Records.UpdateStatus(ctx, record.ID, domain.RecordStatusSubmitted, "", "", now); err != nil && s.Logger != nil {
			s.Logger.Warn("failed to mark record submitted", "record_id", record.ID, "error", err)
		}
	}

	if err := s.State.SetInt64(ctx, lastSubmitKey(batch.TenantID), now.Unix()); err != nil && s.Logger != nil {
		s.Logger.Warn("failed to record flow-control timestamp", "tenant_id", batch.TenantID, "error", err)
	}

	s.Events.Log(ctx, Event{
		Type:     domain.EventAeatSubmit,
		TenantID: batch.TenantID,
		Details: map[string]any{
			"description":  fmt.Sprintf("batch %d submitted to AEAT, attempt %d", batch.ID, batch.AttemptCount),
			"batch_id":     batch.ID,
			"batch_uuid":   batch.UUID,
			"record_count": len(records),
			"attempt":      batch.AttemptCount,
			"environment":  string(batch.Environment),
		},
	})

	raw, sendErr := s.Sender.Send(ctx, batch.TenantID, batch.Environment, payload)
	if sendErr != nil {
		s.tripBreaker(ctx, batch.TenantID)
		return s.handleAttemptFailure(ctx, batch, result, sendErr)
	}

	response := s.Parser.ParseResponse(raw)
	batch.ResponsePayload = raw
	responseAt := s.now()
	batch.ResponseAt = &responseAt
	result.Response = &response

	if !response.IsSuccess && len(response.Outcomes) == 0 {
		// Fault or unparsable body: the AEAT said nothing definitive about
		// the records, so this counts as a failed attempt like a transport
		// error does.
		s.tripBreaker(ctx, batch.TenantID)
		return s.handleAttemptFailure(ctx, batch, result, fmt.Errorf("%w: %s", domain.ErrCommunication, response.ErrorMessage))
	}

	s.resetBreaker(ctx, batch.TenantID)
	return s.applyResponse(ctx, batch, records, response, result, started)
}

// RetryBatch re-queues a terminally failed batch after an operator decision.
// The policy check happens at the transport layer; this records who asked.
func (s *SubmissionService) RetryBatch(ctx context.Context, batchID int64, actorID string) (*domain.RemisionBatch, error) {
	batch, err := s.Batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("load batch %d: %w", batchID, err)
	}
	if batch.Status != domain.BatchStatusFailed {
		return nil, fmt.Errorf("%w: batch %d has status %s", domain.ErrBatchNotRetryable, batchID, batch.Status)
	}
	now := s.now()
	batch.Status = domain.BatchStatusQueued
	batch.NextAttemptAt = &now
	batch.ErrorMessage = ""
	if err := s.Batches.Update(ctx, *batch); err != nil {
		return nil, fmt.Errorf("requeue batch %d: %w", batchID, err)
	}
	s.Events.Log(ctx, Event{
		Type:     domain.EventManualIntervention,
		TenantID: batch.TenantID,
		ActorID:  actorID,
		Severity: domain.SeverityWarning,
		Details: map[string]any{
			"description": fmt.Sprintf("batch %d manually re-queued", batch.ID),
			"batch_id":    batch.ID,
			"attempts":    batch.AttemptCount,
		},
	})
	return batch, nil
}

type guardRefusal struct {
	err     error
	retryAt time.Time
}

// checkGuards evaluates the circuit breaker and the flow-control interval,
// in that order, without touching the network on refusal.
func (s *SubmissionService) checkGuards(ctx context.Context, batch *domain.RemisionBatch) *guardRefusal {
	now := s.now()

	openUntil, err := s.State.GetInt64(ctx, breakerOpenUntilKey(batch.TenantID))
	if err == nil && openUntil > now.Unix() {
		return &guardRefusal{
			err:     fmt.Errorf("%w: tenant %s until %s", domain.ErrCircuitBreakerOpen, batch.TenantID, time.Unix(openUntil, 0).UTC().Format(time.RFC3339)),
			retryAt: time.Unix(openUntil, 0).UTC(),
		}
	}

	lastSubmit, err := s.State.GetInt64(ctx, lastSubmitKey(batch.TenantID))
	if err == nil && lastSubmit > 0 {
		elapsed := now.Sub(time.Unix(lastSubmit, 0))
		if elapsed < s.FlowControlInterval {
			retryAt := time.Unix(lastSubmit, 0).UTC().Add(s.FlowControlInterval)
			return &guardRefusal{
				err:     fmt.Errorf("%w: tenant %s, %s remaining", domain.ErrFlowControl, batch.TenantID, (s.FlowControlInterval - elapsed).Round(time.Second)),
				retryAt: retryAt,
			}
		}
	}
	return nil
}

func (s *SubmissionService) tripBreaker(ctx context.Context, tenantID string) {
	failures, err := s.State.Increment(ctx, breakerFailuresKey(tenantID))
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("failed to increment breaker counter", "tenant_id", tenantID, "error", err)
		}
		return
	}
	if failures < s.BreakerThreshold {
		return
	}
	openUntil := s.now().Add(s.BreakerPause)
	if err := s.State.SetInt64(ctx, breakerOpenUntilKey(tenantID), openUntil.Unix()); err != nil && s.Logger != nil {
		s.Logger.Warn("failed to open circuit breaker", "tenant_id", tenantID, "error", err)
	}
	if s.Logger != nil {
		s.Logger.Error("circuit breaker opened for tenant",
			"tenant_id", tenantID,
			"failures", failures,
			"open_until", openUntil)
	}
}

func (s *SubmissionService) resetBreaker(ctx context.Context, tenantID string) {
	if err := s.State.Delete(ctx, breakerFailuresKey(tenantID)); err != nil && s.Logger != nil {
		s.Logger.Warn("failed to reset breaker counter", "tenant_id", tenantID, "error", err)
	}
	if err := s.State.Delete(ctx, breakerOpenUntilKey(tenantID)); err != nil && s.Logger != nil {
		s.Logger.Warn("failed to clear breaker open-until", "tenant_id", tenantID, "error", err)
	}
}

// handleAttemptFailure persists the outcome of a failed attempt: either a
// rescheduled retry with exponential backoff, or a terminal failure once the
// attempt ceiling is hit.
func (s *SubmissionService) handleAttemptFailure(ctx context.Context, batch *domain.RemisionBatch, result domain.SubmissionResult, cause error) (domain.SubmissionResult, error) {
	batch.ErrorMessage = cause.Error()
	result.ErrorMessage = cause.Error()

	if batch.AttemptCount >= s.MaxRetries {
		batch.Status = domain.BatchStatusFailed
		batch.NextAttemptAt = nil
		if err := s.Batches.Update(ctx, *batch); err != nil {
			return result, fmt.Errorf("persist failed batch %d: %w", batch.ID, err)
		}
		result.Status = domain.BatchStatusFailed
		s.Events.Log(ctx, Event{
			Type:     domain.EventManualIntervention,
			TenantID: batch.TenantID,
			Severity: domain.SeverityCritical,
			Details: map[string]any{
				"description": fmt.Sprintf("batch %d exhausted %d attempts, manual intervention required", batch.ID, batch.AttemptCount),
				"batch_id":    batch.ID,
				"attempts":    batch.AttemptCount,
				"last_error":  cause.Error(),
			},
		})
		if s.Logger != nil {
			s.Logger.Error("batch terminally failed",
				"batch_id", batch.ID,
				"tenant_id", batch.TenantID,
				"attempts", batch.AttemptCount,
				"error", cause)
		}
		return result, nil
	}

	retryAt := s.now().Add(s.backoff(batch.AttemptCount))
	// Back out of the in-flight state so the scheduler picks the batch up
	// again; ListDue only considers queued rows.
	batch.Status = domain.BatchStatusQueued
	batch.NextAttemptAt = &retryAt
	if err := s.Batches.Update(ctx, *batch); err != nil {
		return result, fmt.Errorf("reschedule batch %d: %w", batch.ID, err)
	}
	result.Status = batch.Status
	if s.Logger != nil {
		s.Logger.Warn("batch attempt failed, retry scheduled",
			"batch_id", batch.ID,
			"tenant_id", batch.TenantID,
			"attempt", batch.AttemptCount,
			"retry_at", retryAt,
			"error", cause)
	}
	return result, nil
}

// applyResponse maps a definitive AEAT verdict onto the batch and its
// records. A definitive rejection is not retried: the AEAT has ruled on the
// content, and resending identical records cannot change the outcome.
func (s *SubmissionService) applyResponse(ctx context.Context, batch *domain.RemisionBatch, records []domain.InvoiceRecord, response domain.AeatResponse, result domain.SubmissionResult, started time.Time) (domain.SubmissionResult, error) {
	outcomes := map[string]domain.RecordOutcome{}
	for _, outcome := range response.Outcomes {
		outcomes[outcome.NumeroFactura] = outcome
	}

	now := s.now()
	accepted, rejected := 0, 0
	for _, record := range records {
		outcome, found := outcomes[record.NumeroFactura]
		status := domain.RecordStatusRejected
		code, message := outcome.Code, outcome.Message
		switch {
		case found && outcome.Accepted():
			status = domain.RecordStatusAccepted
			accepted++
		case found:
			rejected++
		default:
			// A record the response never mentioned cannot be assumed
			// accepted.
			rejected++
			message = "record missing from AEAT response"
		}
		if err := s.Records.UpdateStatus(ctx, record.ID, status, code, message, now); err != nil {
			return result, fmt.Errorf("update record %d status: %w", record.ID, err)
		}
	}

	batch.AcceptedRecords = accepted
	batch.RejectedRecords = rejected
	batch.CSV = response.CSV
	batch.NextAttemptAt = nil
	batch.ErrorMessage = response.ErrorMessage
	switch {
	case rejected == 0:
		batch.Status = domain.BatchStatusAccepted
	case accepted > 0:
		batch.Status = domain.BatchStatusPartiallyAccepted
	default:
		batch.Status = domain.BatchStatusFailed
	}
	if err := s.Batches.Update(ctx, *batch); err != nil {
		return result, fmt.Errorf("persist batch %d response: %w", batch.ID, err)
	}

	result.Submitted = true
	result.Status = batch.Status
	result.ElapsedMS = s.now().Sub(started).Milliseconds()

	severity := domain.SeverityInfo
	if batch.Status == domain.BatchStatusFailed {
		severity = domain.SeverityError
	}
	s.Events.Log(ctx, Event{
		Type:     domain.EventAeatResponse,
		TenantID: batch.TenantID,
		Severity: severity,
		Details: map[string]any{
			"description": fmt.Sprintf("AEAT response for batch %d: %s", batch.ID, batch.Status),
			"batch_id":    batch.ID,
			"status":      string(batch.Status),
			"accepted":    accepted,
			"rejected":    rejected,
			"csv":         response.CSV,
		},
	})
	if s.Logger != nil {
		s.Logger.Info("batch response applied",
			"batch_id", batch.ID,
			"tenant_id", batch.TenantID,
			"status", batch.Status,
			"accepted", accepted,
			"rejected", rejected)
	}
	return result, nil
}

// backoff is base * 2^attempt, capped. attempt is the count after the
// failed attempt was recorded, so the first retry waits base*2.
func (s *SubmissionService) backoff(attempt int) time.Duration {
	d := s.BackoffBase
	for i := 0; i < attempt && d < s.MaxBackoff; i++ {
		d *= 2
	}
	if d > s.MaxBackoff {
		d = s.MaxBackoff
	}
	return d
}

func chunkRecords(records []domain.InvoiceRecord, size int) [][]domain.InvoiceRecord {
	if size <= 0 {
		return [][]domain.InvoiceRecord{records}
	}
	var chunks [][]domain.InvoiceRecord
	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[start:end])
	}
	return chunks
}

func (s *SubmissionService) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

// IsGuardRefusal reports whether err is one of the pre-network refusals.
func IsGuardRefusal(err error) bool {
	return errors.Is(err, domain.ErrCircuitBreakerOpen) || errors.Is(err, domain.ErrFlowControl)
}
