package domain

import (
	"fmt"
	"time"
)

// ChainIntegrityResult is the outcome of one verification pass over a
// tenant's invoice chain. It is a value object, never persisted.
type ChainIntegrityResult struct {
	TenantID       string
	IsValid        bool
	TotalRecords   int
	ValidRecords   int
	BreakAtRecord  int64
	ExpectedHash   string
	ActualHash     string
	ErrorMessage   string
	VerificationMS int64
	VerifiedAt     time.Time
}

// Broken reports whether verification found a tampered or mis-linked record,
// as opposed to an operational error (lock contention, storage failure)
// recorded in ErrorMessage.
func (r ChainIntegrityResult) Broken() bool {
	return !r.IsValid && r.BreakAtRecord != 0
}

// Err surfaces a detected break as an ErrChainBroken error for errors.Is
// callers. Operational failures stay in ErrorMessage and return nil here.
func (r ChainIntegrityResult) Err() error {
	if !r.Broken() {
		return nil
	}
	return fmt.Errorf("%w: tenant %s at record %d", ErrChainBroken, r.TenantID, r.BreakAtRecord)
}

// LedgerIntegrityReport is the analogous outcome for the SIF event ledger.
type LedgerIntegrityReport struct {
	TenantID     string
	IsValid      bool
	TotalEvents  int
	ValidEvents  int
	BreakAtSeq   int64
	BreakAtID    string
	ExpectedHash string
	ActualHash   string
	ErrorMessage string
}

type OutcomeStatus string

const (
	OutcomeCorrect            OutcomeStatus = "Correcto"
	OutcomeAcceptedWithErrors OutcomeStatus = "AceptadoConErrores"
	OutcomeIncorrect          OutcomeStatus = "Incorrecto"
)

// RecordOutcome is the per-record verdict parsed from an AEAT response.
type RecordOutcome struct {
	NumeroFactura string
	Status        OutcomeStatus
	Code          string
	Message       string
}

func (o RecordOutcome) Accepted() bool {
	return o.Status == OutcomeCorrect || o.Status == OutcomeAcceptedWithErrors
}

// AeatResponse is the parsed body of an AEAT submission reply. A SOAP fault
// or unparsable body is represented as IsSuccess=false with ErrorMessage set;
// parsing never raises past the retry logic.
type AeatResponse struct {
	IsSuccess     bool
	GlobalStatus  string
	AcceptedCount int
	RejectedCount int
	Outcomes      []RecordOutcome
	CSV           string
	ErrorMessage  string
}

// SubmissionResult is what one submission attempt reports back to callers
// and the scheduler.
type SubmissionResult struct {
	BatchID   int64
	Submitted bool
	Status    BatchStatus
	Response  *AeatResponse
	// Refusal is set when a guard (circuit breaker, flow control) refused
	// the attempt before any network call.
	Refusal      error
	ErrorMessage string
	Attempts     int
	ElapsedMS    int64
}
