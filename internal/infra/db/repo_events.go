package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"verifactu/internal/domain"
	cryptoinfra "verifactu/internal/infra/crypto"
	"verifactu/internal/usecase"
)

type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append assigns the per-tenant sequence number and the chain hashes inside
// one transaction. The tenant_event_seq row is locked FOR UPDATE, so two
// concurrent appends for the same tenant serialize here and the chain can
// never fork.
func (r *EventRepository) Append(ctx context.Context, entry domain.EventLogEntry) (domain.EventLogEntry, error) {
	if r.db == nil {
		return domain.EventLogEntry{}, errDBUnavailable
	}
	if entry.TenantID == "" {
		return domain.EventLogEntry{}, errors.New("tenant_id is required")
	}
	if entry.EventType == "" {
		return domain.EventLogEntry{}, errors.New("event_type is required")
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.CreatedAt = entry.CreatedAt.UTC().Truncate(time.Microsecond)
	if entry.Details == nil {
		entry.Details = map[string]any{}
	}

	detailsJSON, err := cryptoinfra.CanonicalizeAny(entry.Details)
	if err != nil {
		return domain.EventLogEntry{}, fmt.Errorf("canonicalize details: %w", err)
	}
	entry.Details = detailsJSON
	entry.DetailsHash = cryptoinfra.SHA256Hex(detailsJSON)

	var out domain.EventLogEntry
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seq, prevHash, err := nextEventSeq(ctx, tx, entry.TenantID)
		if err != nil {
			return err
		}
		entry.Seq = seq
		entry.HashPreviousEvent = prevHash

		eventHash, err := usecase.ComputeEventHash(entry)
		if err != nil {
			return err
		}
		entry.HashEvent = eventHash

		model := eventModelFromDomain(entry, detailsJSON)
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		out = entry
		return nil
	})
	if err != nil {
		return domain.EventLogEntry{}, err
	}
	return out, nil
}

func (r *EventRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.EventLogEntry, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	if tenantID == "" {
		return nil, errors.New("tenant_id is required")
	}
	var models []EventLogModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("seq ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.EventLogEntry, 0, len(models))
	for _, model := range models {
		out = append(out, eventFromModel(model))
	}
	return out, nil
}

func nextEventSeq(ctx context.Context, tx *gorm.DB, tenantID string) (int64, string, error) {
	if err := tx.WithContext(ctx).Exec(
		"INSERT INTO tenant_event_seq (tenant_id, seq) VALUES (?, 0) ON CONFLICT (tenant_id) DO NOTHING",
		tenantID,
	).Error; err != nil {
		return 0, "", err
	}

	var currentSeq int64
	if err := tx.WithContext(ctx).Raw(
		"SELECT seq FROM tenant_event_seq WHERE tenant_id = ? FOR UPDATE",
		tenantID,
	).Scan(&currentSeq).Error; err != nil {
		return 0, "", err
	}
	nextSeq := currentSeq + 1
	if err := tx.WithContext(ctx).Exec(
		"UPDATE tenant_event_seq SET seq = ? WHERE tenant_id = ?",
		nextSeq,
		tenantID,
	).Error; err != nil {
		return 0, "", err
	}

	prevHash := domain.EventChainGenesis
	if currentSeq > 0 {
		var prev EventLogModel
		if err := tx.WithContext(ctx).
			Where("tenant_id = ? AND seq = ?", tenantID, currentSeq).
			Take(&prev).Error; err != nil {
			return 0, "", err
		}
		prevHash = prev.HashEvent
	}
	if prevHash == "" {
		return 0, "", fmt.Errorf("missing previous event hash for tenant %s", tenantID)
	}
	return nextSeq, prevHash, nil
}

func eventModelFromDomain(entry domain.EventLogEntry, detailsJSON []byte) EventLogModel {
	return EventLogModel{
		ID:                entry.ID,
		TenantID:          entry.TenantID,
		Seq:               entry.Seq,
		EventType:         string(entry.EventType),
		Severity:          string(entry.Severity),
		ActorID:           stringPtrIfNotEmpty(entry.ActorID),
		TargetRecordID:    entry.TargetRecordID,
		DetailsJSON:       detailsJSON,
		DetailsHash:       entry.DetailsHash,
		IPAddress:         stringPtrIfNotEmpty(entry.IPAddress),
		HashPreviousEvent: entry.HashPreviousEvent,
		HashEvent:         entry.HashEvent,
		CreatedAt:         entry.CreatedAt.UTC(),
	}
}

func eventFromModel(model EventLogModel) domain.EventLogEntry {
	return domain.EventLogEntry{
		ID:                model.ID,
		TenantID:          model.TenantID,
		Seq:               model.Seq,
		EventType:         domain.EventType(model.EventType),
		Severity:          domain.EventSeverity(model.Severity),
		ActorID:           stringValue(model.ActorID),
		TargetRecordID:    model.TargetRecordID,
		Details:           copyBytes(model.DetailsJSON),
		DetailsHash:       model.DetailsHash,
		IPAddress:         stringValue(model.IPAddress),
		HashPreviousEvent: model.HashPreviousEvent,
		HashEvent:         model.HashEvent,
		CreatedAt:         model.CreatedAt.UTC(),
	}
}
