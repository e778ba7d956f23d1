package domain

import (
	"strings"
	"time"
)

type RecordType string

const (
	RecordTypeAlta      RecordType = "alta"
	RecordTypeAnulacion RecordType = "anulacion"
)

type RecordStatus string

const (
	RecordStatusPending   RecordStatus = "pending"
	RecordStatusSubmitted RecordStatus = "submitted"
	RecordStatusAccepted  RecordStatus = "accepted"
	RecordStatusRejected  RecordStatus = "rejected"
)

// RecordChainGenesis is the previous-hash value of the first record in a
// tenant's invoice chain. The AEAT hash specification uses the empty string,
// not a zero digest, so the two chains in this system have different genesis
// values on purpose.
const RecordChainGenesis = ""

// CanonicalFields is the ordered tuple that feeds the record digest. The
// field order and the comma-joined encoding are fixed by the VeriFactu
// regulation; reordering or renaming breaks regulator-side re-verification.
type CanonicalFields struct {
	NIFEmisor       string
	NumeroFactura   string
	FechaExpedicion string
	TipoFactura     string
	CuotaTributaria string
	ImporteTotal    string
}

// MissingFields reports which canonical fields are empty, in digest order.
func (f CanonicalFields) MissingFields() []string {
	var missing []string
	for _, field := range []struct {
		name  string
		value string
	}{
		{"nif_emisor", f.NIFEmisor},
		{"numero_factura", f.NumeroFactura},
		{"fecha_expedicion", f.FechaExpedicion},
		{"tipo_factura", f.TipoFactura},
		{"cuota_tributaria", f.CuotaTributaria},
		{"importe_total", f.ImporteTotal},
	} {
		if strings.TrimSpace(field.value) == "" {
			missing = append(missing, field.name)
		}
	}
	return missing
}

// InvoiceRecord is one immutable entry in a tenant's invoice chain. Business
// and chain fields are set once at creation and never rewritten; only the
// submission envelope (Status, SubmittedAt, ResponseCode, ResponseMessage,
// BatchID) evolves, and only the submission pipeline writes it.
type InvoiceRecord struct {
	ID       int64
	TenantID string

	RecordType    RecordType
	NIFEmisor     string
	NombreEmisor  string
	NumeroFactura string
	// FechaExpedicion is the issue date in YYYY-MM-DD form, exactly as hashed.
	FechaExpedicion string
	TipoFactura     string
	ClaveRegimen    string
	BaseImponible   string
	TipoImpositivo  string
	CuotaTributaria string
	ImporteTotal    string

	HashRecord   string
	HashPrevious string

	Status          RecordStatus
	SubmittedAt     *time.Time
	ResponseCode    string
	ResponseMessage string
	BatchID         *int64

	// OriginalRecordID links an anulacion or rectificativa back to the
	// record it cancels or corrects.
	OriginalRecordID *int64

	VerificationURL string
	QRImage         []byte

	SoftwareID      string
	SoftwareVersion string
	SourceInvoiceID string

	CreatedAt time.Time
}

// Canonical extracts the digest tuple from a stored record, used when
// re-verifying the chain.
func (r InvoiceRecord) Canonical() CanonicalFields {
	return CanonicalFields{
		NIFEmisor:       r.NIFEmisor,
		NumeroFactura:   r.NumeroFactura,
		FechaExpedicion: r.FechaExpedicion,
		TipoFactura:     r.TipoFactura,
		CuotaTributaria: r.CuotaTributaria,
		ImporteTotal:    r.ImporteTotal,
	}
}

func (r InvoiceRecord) IsCancellation() bool {
	return r.RecordType == RecordTypeAnulacion
}

// SourceInvoice carries the billing-side fields the orchestrator needs to
// derive a VeriFactu record. It is the boundary type towards the invoicing
// subsystem; nothing beyond these fields crosses into the chain.
type SourceInvoice struct {
	ID            string
	TenantID      string
	InvoiceNumber string
	GrossTotal    string
}
