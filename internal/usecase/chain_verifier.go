package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"verifactu/internal/domain"
)

// tenantLockKey is shared by record creation and chain verification: a
// verification pass reads the whole sequence and must not interleave with a
// concurrent append for the same tenant. Locks are tenant-scoped, so other
// tenants proceed unaffected.
func tenantLockKey(tenantID string) string {
	return "verifactu_record_" + tenantID
}

// ChainVerifier walks a tenant's invoice chain from genesis and checks both
// hash linkage and content digests.
type ChainVerifier struct {
	Records RecordRepository
	Locks   LockBackend
	Events  *EventLogger
	Logger  *slog.Logger
	Clock   Clock

	// LockTTL bounds how long the verification pass may hold the tenant
	// lock before the backend expires it.
	LockTTL time.Duration
}

func NewChainVerifier(records RecordRepository, locks LockBackend, events *EventLogger, logger *slog.Logger) *ChainVerifier {
	return &ChainVerifier{
		Records: records,
		Locks:   locks,
		Events:  events,
		Logger:  logger,
		Clock:   time.Now,
		LockTTL: 30 * time.Second,
	}
}

// VerifyChain verifies the full invoice chain for a tenant. It stops at the
// first broken link: everything after an undetected break is unverifiable,
// so scanning on would only produce false confidence. Lock contention yields
// an error result (retryable, not evidence of tampering), distinct from a
// broken one.
func (v *ChainVerifier) VerifyChain(ctx context.Context, tenantID string) domain.ChainIntegrityResult {
	started := v.now()
	result := domain.ChainIntegrityResult{TenantID: tenantID, VerifiedAt: started}

	acquired, err := v.Locks.Acquire(ctx, tenantLockKey(tenantID), v.LockTTL)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("lock backend error: %v", err)
		return v.finish(ctx, result, started)
	}
	if !acquired {
		result.ErrorMessage = "verification lock contended; retry later"
		return v.finish(ctx, result, started)
	}
	defer func() {
		if err := v.Locks.Release(context.WithoutCancel(ctx), tenantLockKey(tenantID)); err != nil && v.Logger != nil {
			v.Logger.Warn("failed to release verification lock", "tenant_id", tenantID, "error", err)
		}
	}()

	records, err := v.Records.LoadSequence(ctx, tenantID, 0)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("load chain: %v", err)
		return v.finish(ctx, result, started)
	}

	result.TotalRecords = len(records)
	if len(records) == 0 {
		result.IsValid = true
		return v.finish(ctx, result, started)
	}

	expectedPrevious := domain.RecordChainGenesis
	for _, record := range records {
		if record.HashPrevious != expectedPrevious {
			result.BreakAtRecord = record.ID
			result.ExpectedHash = expectedPrevious
			result.ActualHash = record.HashPrevious
			result.ErrorMessage = fmt.Sprintf("record %d: hash_previous does not match chain tail", record.ID)
			return v.finish(ctx, result, started)
		}
		recomputed, err := HashForType(record.RecordType, record.Canonical(), record.HashPrevious)
		if err != nil {
			result.BreakAtRecord = record.ID
			result.ErrorMessage = fmt.Sprintf("record %d: %v", record.ID, err)
			return v.finish(ctx, result, started)
		}
		if recomputed != record.HashRecord {
			result.BreakAtRecord = record.ID
			result.ExpectedHash = recomputed
			result.ActualHash = record.HashRecord
			result.ErrorMessage = fmt.Sprintf("record %d: stored hash does not match recomputed content hash", record.ID)
			return v.finish(ctx, result, started)
		}
		expectedPrevious = record.HashRecord
		result.ValidRecords++
	}

	result.IsValid = true
	return v.finish(ctx, result, started)
}

func (v *ChainVerifier) finish(ctx context.Context, result domain.ChainIntegrityResult, started time.Time) domain.ChainIntegrityResult {
	result.VerificationMS = v.now().Sub(started).Milliseconds()

	if v.Events == nil {
		return result
	}
	if result.Broken() {
		v.Events.Log(ctx, Event{
			Type:           domain.EventChainBreak,
			TenantID:       result.TenantID,
			Severity:       domain.SeverityCritical,
			TargetRecordID: &result.BreakAtRecord,
			Details: map[string]any{
				"description":   "invoice chain integrity break detected",
				"expected_hash": result.ExpectedHash,
				"actual_hash":   result.ActualHash,
				"valid_records": result.ValidRecords,
			},
		})
	} else {
		v.Events.Log(ctx, Event{
			Type:     domain.EventIntegrityCheck,
			TenantID: result.TenantID,
			Severity: domain.SeverityInfo,
			Details: map[string]any{
				"description":     "invoice chain verification pass",
				"is_valid":        result.IsValid,
				"total_records":   result.TotalRecords,
				"valid_records":   result.ValidRecords,
				"error":           result.ErrorMessage,
				"verification_ms": result.VerificationMS,
			},
		})
	}
	return result
}

func (v *ChainVerifier) now() time.Time {
	if v.Clock != nil {
		return v.Clock()
	}
	return time.Now().UTC()
}
