package db

import (
	"context"
	"errors"
	"time"

	"verifactu/internal/domain"

	"gorm.io/gorm"
)

type TenantConfigRepository struct {
	db *gorm.DB
}

func NewTenantConfigRepository(db *gorm.DB) *TenantConfigRepository {
	return &TenantConfigRepository{db: db}
}

func (r *TenantConfigRepository) GetByTenant(ctx context.Context, tenantID string) (*domain.TenantConfig, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	var model TenantConfigModel
	err := r.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	cfg := tenantConfigFromModel(model)
	return &cfg, nil
}

func (r *TenantConfigRepository) Create(ctx context.Context, cfg domain.TenantConfig) (domain.TenantConfig, error) {
	if r.db == nil {
		return domain.TenantConfig{}, errDBUnavailable
	}
	if cfg.TenantID == "" {
		return domain.TenantConfig{}, errors.New("tenant_id is required")
	}
	now := time.Now().UTC()
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = now
	}
	cfg.UpdatedAt = now
	model := tenantConfigModelFromDomain(cfg)
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return domain.TenantConfig{}, err
	}
	return tenantConfigFromModel(model), nil
}

func (r *TenantConfigRepository) Update(ctx context.Context, cfg domain.TenantConfig) error {
	if r.db == nil {
		return errDBUnavailable
	}
	cfg.UpdatedAt = time.Now().UTC()
	model := tenantConfigModelFromDomain(cfg)
	result := r.db.WithContext(ctx).Save(&model)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *TenantConfigRepository) ListActive(ctx context.Context, limit int) ([]domain.TenantConfig, error) {
	if r.db == nil {
		return nil, errDBUnavailable
	}
	query := r.db.WithContext(ctx).
		Where("active = ?", true).
		Order("tenant_id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []TenantConfigModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.TenantConfig, 0, len(models))
	for _, model := range models {
		out = append(out, tenantConfigFromModel(model))
	}
	return out, nil
}

func (r *TenantConfigRepository) UpdateChainHead(ctx context.Context, tenantID, lastHash string, lastRecordID int64) error {
	if r.db == nil {
		return errDBUnavailable
	}
	result := r.db.WithContext(ctx).
		Model(&TenantConfigModel{}).
		Where("tenant_id = ?", tenantID).
		Updates(map[string]any{
			"last_chain_hash": lastHash,
			"last_record_id":  lastRecordID,
			"updated_at":      time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func tenantConfigModelFromDomain(cfg domain.TenantConfig) TenantConfigModel {
	return TenantConfigModel{
		ID:                    cfg.ID,
		TenantID:              cfg.TenantID,
		NIF:                   cfg.NIF,
		NombreFiscal:          cfg.NombreFiscal,
		SerieFacturacion:      cfg.SerieFacturacion,
		Environment:           string(cfg.Environment),
		Active:                cfg.Active,
		LastChainHash:         cfg.LastChainHash,
		LastRecordID:          cfg.LastRecordID,
		CertificateSubject:    cfg.CertificateSubject,
		CertificateValidUntil: cfg.CertificateValidUntil,
		CreatedAt:             cfg.CreatedAt.UTC(),
		UpdatedAt:             cfg.UpdatedAt.UTC(),
	}
}

func tenantConfigFromModel(model TenantConfigModel) domain.TenantConfig {
	return domain.TenantConfig{
		ID:                    model.ID,
		TenantID:              model.TenantID,
		NIF:                   model.NIF,
		NombreFiscal:          model.NombreFiscal,
		SerieFacturacion:      model.SerieFacturacion,
		Environment:           domain.Environment(model.Environment),
		Active:                model.Active,
		LastChainHash:         model.LastChainHash,
		LastRecordID:          model.LastRecordID,
		CertificateSubject:    model.CertificateSubject,
		CertificateValidUntil: model.CertificateValidUntil,
		CreatedAt:             model.CreatedAt.UTC(),
		UpdatedAt:             model.UpdatedAt.UTC(),
	}
}
