package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"verifactu/internal/domain"

	"gorm.io/gorm"
)

type BatchRepository struct {
	db *gorm.DB
}

func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

func (r *BatchRepository) Create(ctx context.Context, batch domain.RemisionBatch) (domain.RemisionBatch, error) {
	if r.db == nil {
		return domain.RemisionBatch{}, errDBUnavailable
	}
	if batch.TenantID == "" {
		return domain.RemisionBatch{}, errors.New("tenant_id is required")
	}
	if batch.UUID == "" {
		return domain.RemisionBatch{}, errors.New("batch uuid is required")
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	model := batchModelFromDomain(batch)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.RemisionBatch{}, err
	}
	return batchFromModel(model), nil
}

func (r *BatchRepository) GetByID(ctx context.Context, id int64) (*domain.RemisionBatch, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model RemisionBatchModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	batch := batchFromModel(model)
	return &batch, nil
}

func (r *BatchRepository) Update(ctx context.Context, batch domain.RemisionBatch) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := batchModelFromDomain(batch)
	// Save writes every column so cleared fields (NextAttemptAt after a
	// definitive response) reach the row.
	result := r.db.WithContext(ctx).Save(&model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkSent is the compare-and-set that serializes concurrent workers: the
// WHERE clause only matches while the row is still queued, so exactly one
// caller gets to put the batch on the wire.
func (r *BatchRepository) MarkSent(ctx context.Context, batch domain.RemisionBatch) error {
	if r.db == nil {
		return errDBUnavailable
	}
	model := batchModelFromDomain(batch)
	result := r.db.WithContext(ctx).
		Model(&RemisionBatchModel{}).
		Where("id = ? AND status = ?", batch.ID, string(domain.BatchStatusQueued)).
		Updates(map[string]any{
			"status":          string(domain.BatchStatusSent),
			"attempt_count":   model.AttemptCount,
			"sent_at":         model.SentAt,
			"request_payload": model.RequestPayload,
			"next_attempt_at": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: batch %d is no longer queued", domain.ErrBatchNotRetryable, batch.ID)
	}
	return nil
}

func (r *BatchRepository) ListDue(ctx context.Context, now time.Time) ([]domain.RemisionBatch, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []RemisionBatchModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?",
			string(domain.BatchStatusQueued), now.UTC()).
		Order("next_attempt_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.RemisionBatch, 0, len(models))
	for _, model := range models {
		out = append(out, batchFromModel(model))
	}
	return out, nil
}

func (r *BatchRepository) ListByTenant(ctx context.Context, tenantID string) ([]domain.RemisionBatch, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []RemisionBatchModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("id DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.RemisionBatch, 0, len(models))
	for _, model := range models {
		out = append(out, batchFromModel(model))
	}
	return out, nil
}

func batchModelFromDomain(batch domain.RemisionBatch) RemisionBatchModel {
	return RemisionBatchModel{
		ID:              batch.ID,
		TenantID:        batch.TenantID,
		UUID:            batch.UUID,
		Status:          string(batch.Status),
		Environment:     string(batch.Environment),
		TotalRecords:    batch.TotalRecords,
		AcceptedRecords: batch.AcceptedRecords,
		RejectedRecords: batch.RejectedRecords,
		AttemptCount:    batch.AttemptCount,
		NextAttemptAt:   batch.NextAttemptAt,
		SentAt:          batch.SentAt,
		ResponseAt:      batch.ResponseAt,
		RequestPayload:  copyBytes(batch.RequestPayload),
		ResponsePayload: copyBytes(batch.ResponsePayload),
		CSV:             batch.CSV,
		ErrorMessage:    batch.ErrorMessage,
		CreatedAt:       batch.CreatedAt.UTC(),
	}
}

func batchFromModel(model RemisionBatchModel) domain.RemisionBatch {
	return domain.RemisionBatch{
		ID:              model.ID,
		TenantID:        model.TenantID,
		UUID:            model.UUID,
		Status:          domain.BatchStatus(model.Status),
		Environment:     domain.Environment(model.Environment),
		TotalRecords:    model.TotalRecords,
		AcceptedRecords: model.AcceptedRecords,
		RejectedRecords: model.RejectedRecords,
		AttemptCount:    model.AttemptCount,
		NextAttemptAt:   model.NextAttemptAt,
		SentAt:          model.SentAt,
		ResponseAt:      model.ResponseAt,
		RequestPayload:  copyBytes(model.RequestPayload),
		ResponsePayload: copyBytes(model.ResponsePayload),
		CSV:             model.CSV,
		ErrorMessage:    model.ErrorMessage,
		CreatedAt:       model.CreatedAt.UTC(),
	}
}
