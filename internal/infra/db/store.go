package db

import (
	"fmt"

	"verifactu/internal/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Store struct {
	DB *gorm.DB
}

func NewStore(cfg config.Config) (*Store, error) {
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	gdb, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{DB: gdb}, nil
}

// AutoMigrate creates the verifactu tables. Intended for development and
// tests; production schemas are managed by migrations.
func (s *Store) AutoMigrate() error {
	if s.DB == nil {
		return errDBUnavailable
	}
	return s.DB.AutoMigrate(
		&TenantConfigModel{},
		&InvoiceRecordModel{},
		&RemisionBatchModel{},
		&EventLogModel{},
		&EventSeqModel{},
	)
}
