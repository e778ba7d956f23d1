package domain

import "time"

type BatchStatus string

const (
	BatchStatusQueued            BatchStatus = "queued"
	BatchStatusSent              BatchStatus = "sent"
	BatchStatusAccepted          BatchStatus = "accepted"
	BatchStatusPartiallyAccepted BatchStatus = "partially_accepted"
	BatchStatusFailed            BatchStatus = "failed"
)

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentTesting    Environment = "testing"
)

// RemisionBatch is one unit of delivery to the AEAT. A batch is retried in
// place under the same id; AttemptCount and NextAttemptAt drive the backoff
// schedule, and once attempts are exhausted the batch is terminally failed
// and left for manual intervention.
type RemisionBatch struct {
	ID          int64
	TenantID    string
	UUID        string
	Status      BatchStatus
	Environment Environment

	TotalRecords    int
	AcceptedRecords int
	RejectedRecords int

	AttemptCount  int
	NextAttemptAt *time.Time

	SentAt     *time.Time
	ResponseAt *time.Time

	RequestPayload  []byte
	ResponsePayload []byte
	CSV             string
	ErrorMessage    string

	CreatedAt time.Time
}

// Retryable reports whether a failed batch may be retried given the
// configured attempt ceiling.
func (b RemisionBatch) Retryable(maxRetries int) bool {
	return b.Status == BatchStatusFailed && b.AttemptCount < maxRetries
}
