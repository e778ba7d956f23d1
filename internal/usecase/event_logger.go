package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"verifactu/internal/domain"
)

// Event is the write-side shape handed to the ledger; the repository assigns
// sequence number and chain hashes.
type Event struct {
	Type           domain.EventType
	TenantID       string
	Severity       domain.EventSeverity
	ActorID        string
	TargetRecordID *int64
	IPAddress      string
	Details        map[string]any
}

// EventLogger appends entries to the per-tenant SIF ledger. Appends are
// strictly best-effort telemetry: a ledger write failure is logged locally
// and never propagated, so it can never abort the business operation that
// triggered it.
type EventLogger struct {
	Repo   EventRepository
	Logger *slog.Logger
	Clock  Clock
}

func NewEventLogger(repo EventRepository, logger *slog.Logger) *EventLogger {
	return &EventLogger{Repo: repo, Logger: logger, Clock: time.Now}
}

// Log appends an event, swallowing all failures.
func (l *EventLogger) Log(ctx context.Context, event Event) {
	if l == nil || l.Repo == nil {
		return
	}
	if _, err := l.append(ctx, event); err != nil && l.Logger != nil {
		l.Logger.Warn("event ledger append failed",
			"event_type", event.Type,
			"tenant_id", event.TenantID,
			"error", err)
	}
}

// LogSystemStart records service boot in the reserved system chain. Called
// once from the composition root after wiring is complete.
func (l *EventLogger) LogSystemStart(ctx context.Context, softwareID, softwareVersion string) {
	l.Log(ctx, Event{
		Type:     domain.EventSystemStart,
		TenantID: domain.SystemTenantID,
		Details: map[string]any{
			"description":      "verifactu service started",
			"software_id":      softwareID,
			"software_version": softwareVersion,
		},
	})
}

// Append is the strict variant used by tests and by callers that need the
// stored entry back; business paths use Log.
func (l *EventLogger) Append(ctx context.Context, event Event) (domain.EventLogEntry, error) {
	return l.append(ctx, event)
}

func (l *EventLogger) append(ctx context.Context, event Event) (domain.EventLogEntry, error) {
	if !event.Type.Valid() {
		return domain.EventLogEntry{}, fmt.Errorf("unknown event type %q", event.Type)
	}
	if event.TenantID == "" {
		return domain.EventLogEntry{}, fmt.Errorf("event %s missing tenant_id", event.Type)
	}
	severity := event.Severity
	if severity == "" {
		severity = domain.SeverityInfo
	}
	entry := domain.EventLogEntry{
		TenantID:       event.TenantID,
		EventType:      event.Type,
		Severity:       severity,
		ActorID:        event.ActorID,
		TargetRecordID: event.TargetRecordID,
		IPAddress:      event.IPAddress,
		CreatedAt:      l.now(),
	}
	if event.Details == nil {
		entry.Details = map[string]any{}
	} else {
		entry.Details = event.Details
	}
	// The ledger entry detaches from the business operation here: ctx may
	// already be cancelled by the caller's failure path, yet the event still
	// has to land. The repository canonicalizes Details and assigns the
	// chain fields.
	return l.Repo.Append(context.WithoutCancel(ctx), entry)
}

// VerifyIntegrity replays a tenant's ledger and reports the first entry
// where either the chain linkage or the content digest fails.
func (l *EventLogger) VerifyIntegrity(ctx context.Context, tenantID string) domain.LedgerIntegrityReport {
	report := domain.LedgerIntegrityReport{TenantID: tenantID}
	entries, err := l.Repo.ListByTenant(ctx, tenantID)
	if err != nil {
		report.ErrorMessage = fmt.Sprintf("load ledger: %v", err)
		return report
	}
	report.TotalEvents = len(entries)
	if len(entries) == 0 {
		report.IsValid = true
		return report
	}

	expectedSeq := int64(1)
	previousHash := domain.EventChainGenesis
	for _, entry := range entries {
		if entry.Seq != expectedSeq {
			return brokenLedger(report, entry, previousHash, fmt.Sprintf("seq gap: expected %d got %d", expectedSeq, entry.Seq))
		}
		if entry.HashPreviousEvent != previousHash {
			return brokenLedger(report, entry, previousHash, "hash_previous_event does not match chain tail")
		}
		detailsJSON, err := detailsBytes(entry.Details)
		if err != nil {
			return brokenLedger(report, entry, "", err.Error())
		}
		if digest := detailsDigest(detailsJSON); digest != entry.DetailsHash {
			return brokenLedger(report, entry, digest, "details digest mismatch")
		}
		recomputed, err := ComputeEventHash(entry)
		if err != nil {
			return brokenLedger(report, entry, "", err.Error())
		}
		if recomputed != entry.HashEvent {
			report.ExpectedHash = recomputed
			report.ActualHash = entry.HashEvent
			return brokenLedger(report, entry, recomputed, "event digest mismatch")
		}
		previousHash = entry.HashEvent
		expectedSeq++
		report.ValidEvents++
	}
	report.IsValid = true
	return report
}

func brokenLedger(report domain.LedgerIntegrityReport, entry domain.EventLogEntry, expected, message string) domain.LedgerIntegrityReport {
	report.IsValid = false
	report.BreakAtSeq = entry.Seq
	report.BreakAtID = entry.ID
	if report.ExpectedHash == "" {
		report.ExpectedHash = expected
	}
	if report.ActualHash == "" {
		report.ActualHash = entry.HashEvent
	}
	report.ErrorMessage = fmt.Sprintf("entry seq %d: %s", entry.Seq, message)
	return report
}

func detailsBytes(details any) ([]byte, error) {
	switch v := details.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("details must be stored canonical bytes, got %T", details)
	}
}

func detailsDigest(details []byte) string {
	sum := sha256.Sum256(details)
	return hex.EncodeToString(sum[:])
}

func (l *EventLogger) now() time.Time {
	if l.Clock != nil {
		return l.Clock().UTC()
	}
	return time.Now().UTC()
}
