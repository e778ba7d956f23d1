package domain

import "time"

// TenantConfig holds a tenant's VeriFactu issuing identity and chain head.
// LastChainHash/LastRecordID are a cached copy of the chain tail maintained
// under the tenant append lock; the stored record sequence remains the
// source of truth for verification.
type TenantConfig struct {
	ID               int64
	TenantID         string
	NIF              string
	NombreFiscal     string
	SerieFacturacion string
	Environment      Environment
	Active           bool

	LastChainHash string
	LastRecordID  int64

	CertificateSubject    string
	CertificateValidUntil *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
