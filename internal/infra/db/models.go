package db

import "time"

type InvoiceRecordModel struct {
	ID       int64  `gorm:"primaryKey"`
	TenantID string `gorm:"type:text;index;not null"`

	RecordType      string `gorm:"not null"`
	NIFEmisor       string `gorm:"column:nif_emisor;not null"`
	NombreEmisor    string `gorm:"not null"`
	NumeroFactura   string `gorm:"index;not null"`
	FechaExpedicion string `gorm:"not null"`
	TipoFactura     string `gorm:"not null"`
	ClaveRegimen    string `gorm:"not null"`
	BaseImponible   string `gorm:"not null"`
	TipoImpositivo  string `gorm:"not null"`
	CuotaTributaria string `gorm:"not null"`
	ImporteTotal    string `gorm:"not null"`

	HashRecord   string `gorm:"index;not null"`
	HashPrevious string `gorm:"not null"`

	Status          string `gorm:"index;not null"`
	SubmittedAt     *time.Time
	ResponseCode    string
	ResponseMessage string
	BatchID         *int64 `gorm:"index"`

	OriginalRecordID *int64 `gorm:"index"`

	VerificationURL string
	QRImage         []byte `gorm:"type:bytea"`

	SoftwareID      string `gorm:"not null"`
	SoftwareVersion string `gorm:"not null"`
	SourceInvoiceID string `gorm:"index"`

	CreatedAt time.Time `gorm:"not null"`
}

func (InvoiceRecordModel) TableName() string {
	return "verifactu_records"
}

type RemisionBatchModel struct {
	ID          int64  `gorm:"primaryKey"`
	TenantID    string `gorm:"type:text;index;not null"`
	UUID        string `gorm:"uniqueIndex;not null"`
	Status      string `gorm:"index;not null"`
	Environment string `gorm:"not null"`

	TotalRecords    int `gorm:"not null"`
	AcceptedRecords int `gorm:"not null"`
	RejectedRecords int `gorm:"not null"`

	AttemptCount  int        `gorm:"not null"`
	NextAttemptAt *time.Time `gorm:"index"`

	SentAt     *time.Time
	ResponseAt *time.Time

	RequestPayload  []byte `gorm:"type:bytea"`
	ResponsePayload []byte `gorm:"type:bytea"`
	CSV             string `gorm:"column:csv"`
	ErrorMessage    string

	CreatedAt time.Time `gorm:"not null"`
}

func (RemisionBatchModel) TableName() string {
	return "verifactu_batches"
}

type EventLogModel struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	TenantID       string `gorm:"type:text;index;not null"`
	Seq            int64  `gorm:"not null"`
	EventType      string `gorm:"column:event_type;index;not null"`
	Severity       string `gorm:"not null"`
	ActorID        *string
	TargetRecordID *int64 `gorm:"index"`
	DetailsJSON    []byte `gorm:"type:jsonb;not null"`
	DetailsHash    string `gorm:"not null"`
	IPAddress      *string

	HashPreviousEvent string    `gorm:"not null"`
	HashEvent         string    `gorm:"not null"`
	CreatedAt         time.Time `gorm:"not null"`
}

func (EventLogModel) TableName() string {
	return "verifactu_event_log"
}

// EventSeqModel backs the per-tenant sequence row locked FOR UPDATE during
// event appends.
type EventSeqModel struct {
	TenantID string `gorm:"primaryKey"`
	Seq      int64  `gorm:"not null"`
}

func (EventSeqModel) TableName() string {
	return "tenant_event_seq"
}

type TenantConfigModel struct {
	ID               int64  `gorm:"primaryKey"`
	TenantID         string `gorm:"type:text;uniqueIndex;not null"`
	NIF              string `gorm:"column:nif;not null"`
	NombreFiscal     string `gorm:"not null"`
	SerieFacturacion string `gorm:"not null"`
	Environment      string `gorm:"not null"`
	Active           bool   `gorm:"not null"`

	LastChainHash string
	LastRecordID  int64

	CertificateSubject    string
	CertificateValidUntil *time.Time

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (TenantConfigModel) TableName() string {
	return "verifactu_tenant_config"
}
