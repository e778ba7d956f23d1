package usecase

import (
	"context"
	"time"

	"verifactu/internal/domain"
)

type RecordRepository interface {
	Create(ctx context.Context, record domain.InvoiceRecord) (domain.InvoiceRecord, error)
	GetByID(ctx context.Context, id int64) (*domain.InvoiceRecord, error)
	// LoadLastHash returns the chain tail digest for a tenant, or
	// domain.RecordChainGenesis when the chain is empty.
	LoadLastHash(ctx context.Context, tenantID string) (string, error)
	// LoadSequence returns the tenant's records ordered by id, optionally
	// starting after fromID.
	LoadSequence(ctx context.Context, tenantID string, fromID int64) ([]domain.InvoiceRecord, error)
	ListPending(ctx context.Context) ([]domain.InvoiceRecord, error)
	ListByBatch(ctx context.Context, batchID int64) ([]domain.InvoiceRecord, error)
	AssignBatch(ctx context.Context, recordIDs []int64, batchID int64) error
	UpdateStatus(ctx context.Context, id int64, status domain.RecordStatus, code, message string, submittedAt time.Time) error
	SetArtifacts(ctx context.Context, id int64, verificationURL string, qrImage []byte) error
}

type BatchRepository interface {
	Create(ctx context.Context, batch domain.RemisionBatch) (domain.RemisionBatch, error)
	GetByID(ctx context.Context, id int64) (*domain.RemisionBatch, error)
	Update(ctx context.Context, batch domain.RemisionBatch) error
	// MarkSent transitions the batch to sent, conditional on it still being
	// queued in storage. It fails with domain.ErrBatchNotRetryable when
	// another worker won the transition, which is what keeps a batch from
	// being delivered twice.
	MarkSent(ctx context.Context, batch domain.RemisionBatch) error
	// ListDue returns queued batches whose next attempt time has passed.
	ListDue(ctx context.Context, now time.Time) ([]domain.RemisionBatch, error)
	ListByTenant(ctx context.Context, tenantID string) ([]domain.RemisionBatch, error)
}

type EventRepository interface {
	// Append assigns Seq, HashPreviousEvent and HashEvent inside one storage
	// transaction, serializing appends per tenant.
	Append(ctx context.Context, entry domain.EventLogEntry) (domain.EventLogEntry, error)
	ListByTenant(ctx context.Context, tenantID string) ([]domain.EventLogEntry, error)
}

type TenantConfigRepository interface {
	GetByTenant(ctx context.Context, tenantID string) (*domain.TenantConfig, error)
	Update(ctx context.Context, cfg domain.TenantConfig) error
	UpdateChainHead(ctx context.Context, tenantID, lastHash string, lastRecordID int64) error
}

// LockBackend is a keyed advisory lock shared by every worker process.
// Acquire returns false (not an error) when the lock is held elsewhere and
// the bounded wait expired.
type LockBackend interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// StateStore is the cross-process key-value store backing circuit-breaker
// and flow-control state. Values survive restarts.
type StateStore interface {
	GetInt64(ctx context.Context, key string) (int64, error)
	SetInt64(ctx context.Context, key string, value int64) error
	// Increment atomically adds one and returns the new value.
	Increment(ctx context.Context, key string) (int64, error)
	Delete(ctx context.Context, key string) error
}

// EnvelopeBuilder and ResponseParser form the protocol adapter towards the
// AEAT; their implementations own all XML shape knowledge.
type EnvelopeBuilder interface {
	BuildEnvelope(records []domain.InvoiceRecord) ([]byte, error)
}

type ResponseParser interface {
	ParseResponse(raw []byte) domain.AeatResponse
}

// Transport performs the network call. Transport errors wrap
// domain.ErrCommunication so the pipeline can tell them apart from guard
// refusals.
type Transport interface {
	Send(ctx context.Context, tenantID string, env domain.Environment, payload []byte) ([]byte, error)
}

// ArtifactGenerator produces the verification URL and QR image for a record.
// A noop implementation is injected when QR generation is not configured;
// failures degrade the record to artifact-pending, never abort creation.
type ArtifactGenerator interface {
	BuildVerificationURL(record domain.InvoiceRecord) string
	GenerateQR(url string) ([]byte, error)
}

type PolicyEngine interface {
	Evaluate(ctx context.Context, input domain.ActionInput) (domain.ActionDecision, error)
}

type Clock func() time.Time
