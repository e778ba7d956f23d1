package db

import (
	"context"
	"errors"
	"time"

	"verifactu/internal/domain"

	"gorm.io/gorm"
)

type RecordRepository struct {
	db *gorm.DB
}

func NewRecordRepository(db *gorm.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

func (r *RecordRepository) Create(ctx context.Context, record domain.InvoiceRecord) (domain.InvoiceRecord, error) {
	if r.db == nil {
		return domain.InvoiceRecord{}, errDBUnavailable
	}
	if record.TenantID == "" {
		return domain.InvoiceRecord{}, errors.New("tenant_id is required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	model := recordModelFromDomain(record)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.InvoiceRecord{}, err
	}
	return recordFromModel(model), nil
}

func (r *RecordRepository) GetByID(ctx context.Context, id int64) (*domain.InvoiceRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model InvoiceRecordModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	record := recordFromModel(model)
	return &record, nil
}

func (r *RecordRepository) LoadLastHash(ctx context.Context, tenantID string) (string, error) {
	if r.db == nil {
		return "", errDBUnavailable
	}
	var model InvoiceRecordModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("id DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.RecordChainGenesis, nil
		}
		return "", err
	}
	return model.HashRecord, nil
}

func (r *RecordRepository) LoadSequence(ctx context.Context, tenantID string, fromID int64) ([]domain.InvoiceRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	query := r.db.WithContext(ctx).Where("tenant_id = ?", tenantID)
	if fromID > 0 {
		query = query.Where("id > ?", fromID)
	}
	var models []InvoiceRecordModel
	if err := query.Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.InvoiceRecord, 0, len(models))
	for _, model := range models {
		out = append(out, recordFromModel(model))
	}
	return out, nil
}

func (r *RecordRepository) ListPending(ctx context.Context) ([]domain.InvoiceRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []InvoiceRecordModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND batch_id IS NULL", string(domain.RecordStatusPending)).
		Order("tenant_id ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.InvoiceRecord, 0, len(models))
	for _, model := range models {
		out = append(out, recordFromModel(model))
	}
	return out, nil
}

func (r *RecordRepository) ListByBatch(ctx context.Context, batchID int64) ([]domain.InvoiceRecord, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var models []InvoiceRecordModel
	err := r.db.WithContext(ctx).
		Where("batch_id = ?", batchID).
		Order("id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.InvoiceRecord, 0, len(models))
	for _, model := range models {
		out = append(out, recordFromModel(model))
	}
	return out, nil
}

func (r *RecordRepository) AssignBatch(ctx context.Context, recordIDs []int64, batchID int64) error {
	if r.db == nil {
		return errDBUnavailable
	}
	if len(recordIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&InvoiceRecordModel{}).
		Where("id IN ?", recordIDs).
		Update("batch_id", batchID).Error
}

func (r *RecordRepository) UpdateStatus(ctx context.Context, id int64, status domain.RecordStatus, code, message string, submittedAt time.Time) error {
	if r.db == nil {
		return errDBUnavailable
	}
	result := r.db.WithContext(ctx).
		Model(&InvoiceRecordModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":           string(status),
			"response_code":    code,
			"response_message": message,
			"submitted_at":     submittedAt.UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *RecordRepository) SetArtifacts(ctx context.Context, id int64, verificationURL string, qrImage []byte) error {
	if r.db == nil {
		return errDBUnavailable
	}
	result := r.db.WithContext(ctx).
		Model(&InvoiceRecordModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"verification_url": verificationURL,
			"qr_image":         qrImage,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func recordModelFromDomain(record domain.InvoiceRecord) InvoiceRecordModel {
	return InvoiceRecordModel{
		ID:               record.ID,
		TenantID:         record.TenantID,
		RecordType:       string(record.RecordType),
		NIFEmisor:        record.NIFEmisor,
		NombreEmisor:     record.NombreEmisor,
		NumeroFactura:    record.NumeroFactura,
		FechaExpedicion:  record.FechaExpedicion,
		TipoFactura:      record.TipoFactura,
		ClaveRegimen:     record.ClaveRegimen,
		BaseImponible:    record.BaseImponible,
		TipoImpositivo:   record.TipoImpositivo,
		CuotaTributaria:  record.CuotaTributaria,
		ImporteTotal:     record.ImporteTotal,
		HashRecord:       record.HashRecord,
		HashPrevious:     record.HashPrevious,
		Status:           string(record.Status),
		SubmittedAt:      record.SubmittedAt,
		ResponseCode:     record.ResponseCode,
		ResponseMessage:  record.ResponseMessage,
		BatchID:          record.BatchID,
		OriginalRecordID: record.OriginalRecordID,
		VerificationURL:  record.VerificationURL,
		QRImage:          copyBytes(record.QRImage),
		SoftwareID:       record.SoftwareID,
		SoftwareVersion:  record.SoftwareVersion,
		SourceInvoiceID:  record.SourceInvoiceID,
		CreatedAt:        record.CreatedAt.UTC(),
	}
}

func recordFromModel(model InvoiceRecordModel) domain.InvoiceRecord {
	return domain.InvoiceRecord{
		ID:               model.ID,
		TenantID:         model.TenantID,
		RecordType:       domain.RecordType(model.RecordType),
		NIFEmisor:        model.NIFEmisor,
		NombreEmisor:     model.NombreEmisor,
		NumeroFactura:    model.NumeroFactura,
		FechaExpedicion:  model.FechaExpedicion,
		TipoFactura:      model.TipoFactura,
		ClaveRegimen:     model.ClaveRegimen,
		BaseImponible:    model.BaseImponible,
		TipoImpositivo:   model.TipoImpositivo,
		CuotaTributaria:  model.CuotaTributaria,
		ImporteTotal:     model.ImporteTotal,
		HashRecord:       model.HashRecord,
		HashPrevious:     model.HashPrevious,
		Status:           domain.RecordStatus(model.Status),
		SubmittedAt:      model.SubmittedAt,
		ResponseCode:     model.ResponseCode,
		ResponseMessage:  model.ResponseMessage,
		BatchID:          model.BatchID,
		OriginalRecordID: model.OriginalRecordID,
		VerificationURL:  model.VerificationURL,
		QRImage:          copyBytes(model.QRImage),
		SoftwareID:       model.SoftwareID,
		SoftwareVersion:  model.SoftwareVersion,
		SourceInvoiceID:  model.SourceInvoiceID,
		CreatedAt:        model.CreatedAt.UTC(),
	}
}
