package domain

import "time"

type EventType string

// The twelve SIF lifecycle event kinds. The set is closed: the event log is
// meant for forensic reconstruction, so free-form kinds are not accepted.
const (
	EventSystemStart        EventType = "SYSTEM_START"
	EventRecordCreate       EventType = "RECORD_CREATE"
	EventRecordCancel       EventType = "RECORD_CANCEL"
	EventChainBreak         EventType = "CHAIN_BREAK"
	EventChainRecovery      EventType = "CHAIN_RECOVERY"
	EventAeatSubmit         EventType = "AEAT_SUBMIT"
	EventAeatResponse       EventType = "AEAT_RESPONSE"
	EventCertificateChange  EventType = "CERTIFICATE_CHANGE"
	EventConfigChange       EventType = "CONFIG_CHANGE"
	EventAuditAccess        EventType = "AUDIT_ACCESS"
	EventIntegrityCheck     EventType = "INTEGRITY_CHECK"
	EventManualIntervention EventType = "MANUAL_INTERVENTION"
)

var knownEventTypes = map[EventType]struct{}{
	EventSystemStart:        {},
	EventRecordCreate:       {},
	EventRecordCancel:       {},
	EventChainBreak:         {},
	EventChainRecovery:      {},
	EventAeatSubmit:         {},
	EventAeatResponse:       {},
	EventCertificateChange:  {},
	EventConfigChange:       {},
	EventAuditAccess:        {},
	EventIntegrityCheck:     {},
	EventManualIntervention: {},
}

func (t EventType) Valid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

// SystemTenantID is the reserved ledger chain for events that belong to the
// service itself rather than to any tenant, such as SYSTEM_START.
const SystemTenantID = "system"

// EventChainGenesis is the previous-hash value of the first event in a
// tenant's SIF ledger. Unlike the invoice chain it is a fixed 64-character
// zero digest, so the two chains can never be spliced into each other.
const EventChainGenesis = "0000000000000000000000000000000000000000000000000000000000000000"

const EventChainVersion = "sif_chain_v1"

// EventLogEntry is one entry in the append-only SIF ledger. Entries are
// hash-chained per tenant independently of the invoice chain and are never
// updated or deleted.
type EventLogEntry struct {
	ID             string
	TenantID       string
	Seq            int64
	EventType      EventType
	Severity       EventSeverity
	ActorID        string
	TargetRecordID *int64
	// Details holds the structured payload: a map on the append path, the
	// stored canonical JSON bytes after a load.
	Details     any
	DetailsHash string
	IPAddress   string

	HashPreviousEvent string
	HashEvent         string

	CreatedAt time.Time
}
