package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"verifactu/internal/domain"
)

const defaultLockTTL = 30 * time.Second

// RecordService is the single entry point for appending invoice records. It
// owns the exclusive-append contract: exactly one in-flight append per
// tenant, serialized through the distributed lock backend, so two workers
// can never read the same chain tail and fork the chain.
type RecordService struct {
	Records   RecordRepository
	Tenants   TenantConfigRepository
	Locks     LockBackend
	Events    *EventLogger
	Artifacts ArtifactGenerator
	Logger    *slog.Logger
	Clock     Clock

	LockTTL         time.Duration
	SoftwareID      string
	SoftwareVersion string
}

func NewRecordService(records RecordRepository, tenants TenantConfigRepository, locks LockBackend, events *EventLogger, artifacts ArtifactGenerator, logger *slog.Logger) *RecordService {
	return &RecordService{
		Records:         records,
		Tenants:         tenants,
		Locks:           locks,
		Events:          events,
		Artifacts:       artifacts,
		Logger:          logger,
		Clock:           time.Now,
		LockTTL:         defaultLockTTL,
		SoftwareID:      "VeriFactuGo",
		SoftwareVersion: "1.0.0",
	}
}

// CreateAltaRecord appends an alta record derived from a billing invoice.
// The whole pipeline (read tail, hash, persist, artifacts, chain head,
// ledger event) runs under the tenant lock; the lock is released on every
// path. Artifact generation failure degrades the record, it never aborts it.
func (s *RecordService) CreateAltaRecord(ctx context.Context, invoice domain.SourceInvoice) (*domain.InvoiceRecord, error) {
	cfg, err := s.activeTenantConfig(ctx, invoice.TenantID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lockTenant(ctx, invoice.TenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	fields := domain.CanonicalFields{
		NIFEmisor:       cfg.NIF,
		NumeroFactura:   s.invoiceNumber(cfg, invoice, now),
		FechaExpedicion: now.Format("2006-01-02"),
		TipoFactura:     "F1",
		CuotaTributaria: taxAmount(invoice.GrossTotal, defaultVATRate),
		ImporteTotal:    normalizeAmount(invoice.GrossTotal),
	}
	record := s.buildRecord(domain.RecordTypeAlta, fields, cfg, invoice.ID, nil)
	record.BaseImponible = taxBase(invoice.GrossTotal, defaultVATRate)
	record.TipoImpositivo = defaultVATRate

	created, err := s.appendRecord(ctx, record, CalculateAltaHash)
	if err != nil {
		return nil, err
	}

	s.Events.Log(ctx, Event{
		Type:           domain.EventRecordCreate,
		TenantID:       invoice.TenantID,
		TargetRecordID: &created.ID,
		Details: map[string]any{
			"description":    "alta record created for invoice " + created.NumeroFactura,
			"invoice_number": created.NumeroFactura,
			"hash":           created.HashRecord,
		},
	})
	s.logInfo("alta record created", created)
	return created, nil
}

// CreateAnulacionRecord appends a cancellation for an existing record. The
// canonical fields are copied from the original so the regulator can match
// the pair; only the issue date and the type tag differ.
func (s *RecordService) CreateAnulacionRecord(ctx context.Context, original domain.InvoiceRecord) (*domain.InvoiceRecord, error) {
	if original.IsCancellation() {
		return nil, fmt.Errorf("%w: record %d is already a cancellation", domain.ErrValidation, original.ID)
	}
	cfg, err := s.activeTenantConfig(ctx, original.TenantID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lockTenant(ctx, original.TenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	fields := original.Canonical()
	fields.FechaExpedicion = s.now().Format("2006-01-02")

	record := s.buildRecord(domain.RecordTypeAnulacion, fields, cfg, original.SourceInvoiceID, &original.ID)
	record.NombreEmisor = original.NombreEmisor
	record.ClaveRegimen = original.ClaveRegimen
	record.BaseImponible = original.BaseImponible
	record.TipoImpositivo = original.TipoImpositivo

	created, err := s.appendRecord(ctx, record, CalculateAnulacionHash)
	if err != nil {
		return nil, err
	}

	s.Events.Log(ctx, Event{
		Type:           domain.EventRecordCancel,
		TenantID:       original.TenantID,
		TargetRecordID: &created.ID,
		Details: map[string]any{
			"description":        "anulacion record created for invoice " + created.NumeroFactura,
			"original_record_id": original.ID,
			"hash":               created.HashRecord,
		},
	})
	s.logInfo("anulacion record created", created)
	return created, nil
}

// CreateRectificativaRecord appends a correction (R1) for an existing
// record. Structurally an alta with the corrected amounts, linked back to
// the record it rectifies.
func (s *RecordService) CreateRectificativaRecord(ctx context.Context, invoice domain.SourceInvoice, original domain.InvoiceRecord) (*domain.InvoiceRecord, error) {
	cfg, err := s.activeTenantConfig(ctx, invoice.TenantID)
	if err != nil {
		return nil, err
	}

	unlock, err := s.lockTenant(ctx, invoice.TenantID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.now()
	fields := domain.CanonicalFields{
		NIFEmisor:       cfg.NIF,
		NumeroFactura:   s.invoiceNumber(cfg, invoice, now),
		FechaExpedicion: now.Format("2006-01-02"),
		TipoFactura:     "R1",
		CuotaTributaria: taxAmount(invoice.GrossTotal, defaultVATRate),
		ImporteTotal:    normalizeAmount(invoice.GrossTotal),
	}
	record := s.buildRecord(domain.RecordTypeAlta, fields, cfg, invoice.ID, &original.ID)
	record.ClaveRegimen = original.ClaveRegimen
	record.BaseImponible = taxBase(invoice.GrossTotal, defaultVATRate)
	record.TipoImpositivo = defaultVATRate

	created, err := s.appendRecord(ctx, record, CalculateAltaHash)
	if err != nil {
		return nil, err
	}

	s.Events.Log(ctx, Event{
		Type:           domain.EventRecordCreate,
		TenantID:       invoice.TenantID,
		TargetRecordID: &created.ID,
		Details: map[string]any{
			"description":        "rectificativa record created for invoice " + created.NumeroFactura,
			"original_record_id": original.ID,
			"rectificativa_type": "R1",
			"hash":               created.HashRecord,
		},
	})
	s.logInfo("rectificativa record created", created)
	return created, nil
}

// appendRecord performs the chained append proper. Caller holds the tenant
// lock.
func (s *RecordService) appendRecord(ctx context.Context, record domain.InvoiceRecord, hash func(domain.CanonicalFields, string) (string, error)) (*domain.InvoiceRecord, error) {
	previousHash, err := s.Records.LoadLastHash(ctx, record.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load chain tail: %w", err)
	}
	digest, err := hash(record.Canonical(), previousHash)
	if err != nil {
		return nil, err
	}
	record.HashPrevious = previousHash
	record.HashRecord = digest
	record.Status = domain.RecordStatusPending
	record.CreatedAt = s.now()

	created, err := s.Records.Create(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("persist record: %w", err)
	}

	s.attachArtifacts(ctx, &created)

	if err := s.Tenants.UpdateChainHead(ctx, created.TenantID, created.HashRecord, created.ID); err != nil && s.Logger != nil {
		// The stored sequence stays authoritative; a stale cached head is
		// corrected on the next append.
		s.Logger.Warn("failed to update tenant chain head", "tenant_id", created.TenantID, "error", err)
	}
	return &created, nil
}

func (s *RecordService) attachArtifacts(ctx context.Context, record *domain.InvoiceRecord) {
	if s.Artifacts == nil {
		return
	}
	url := s.Artifacts.BuildVerificationURL(*record)
	image, err := s.Artifacts.GenerateQR(url)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("qr generation failed, record left artifact-pending", "record_id", record.ID, "error", err)
		}
		image = nil
	}
	if err := s.Records.SetArtifacts(ctx, record.ID, url, image); err != nil {
		if s.Logger != nil {
			s.Logger.Warn("failed to store record artifacts", "record_id", record.ID, "error", err)
		}
		return
	}
	record.VerificationURL = url
	record.QRImage = image
}

func (s *RecordService) lockTenant(ctx context.Context, tenantID string) (func(), error) {
	ttl := s.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	acquired, err := s.Locks.Acquire(ctx, tenantLockKey(tenantID), ttl)
	if err != nil {
		return nil, fmt.Errorf("%w: tenant %s: %v", domain.ErrLockUnavailable, tenantID, err)
	}
	if !acquired {
		return nil, fmt.Errorf("%w: tenant %s", domain.ErrLockUnavailable, tenantID)
	}
	release := func() {
		if err := s.Locks.Release(context.WithoutCancel(ctx), tenantLockKey(tenantID)); err != nil && s.Logger != nil {
			s.Logger.Warn("failed to release tenant lock", "tenant_id", tenantID, "error", err)
		}
	}
	return release, nil
}

func (s *RecordService) activeTenantConfig(ctx context.Context, tenantID string) (*domain.TenantConfig, error) {
	cfg, err := s.Tenants.GetByTenant(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: tenant %s", domain.ErrTenantNotConfigured, tenantID)
	}
	if !cfg.Active {
		return nil, fmt.Errorf("%w: tenant %s is disabled", domain.ErrTenantNotConfigured, tenantID)
	}
	return cfg, nil
}

func (s *RecordService) buildRecord(recordType domain.RecordType, fields domain.CanonicalFields, cfg *domain.TenantConfig, sourceInvoiceID string, originalID *int64) domain.InvoiceRecord {
	return domain.InvoiceRecord{
		TenantID:         cfg.TenantID,
		RecordType:       recordType,
		NIFEmisor:        fields.NIFEmisor,
		NombreEmisor:     cfg.NombreFiscal,
		NumeroFactura:    fields.NumeroFactura,
		FechaExpedicion:  fields.FechaExpedicion,
		TipoFactura:      fields.TipoFactura,
		ClaveRegimen:     "01",
		CuotaTributaria:  fields.CuotaTributaria,
		ImporteTotal:     fields.ImporteTotal,
		OriginalRecordID: originalID,
		SoftwareID:       s.SoftwareID,
		SoftwareVersion:  s.SoftwareVersion,
		SourceInvoiceID:  sourceInvoiceID,
	}
}

// invoiceNumber formats {SERIE}-{YYYY}-{N} from the tenant's series prefix.
func (s *RecordService) invoiceNumber(cfg *domain.TenantConfig, invoice domain.SourceInvoice, now time.Time) string {
	serie := cfg.SerieFacturacion
	if serie == "" {
		serie = "VF"
	}
	number := invoice.InvoiceNumber
	if number == "" {
		number = invoice.ID
	}
	return fmt.Sprintf("%s-%d-%s", serie, now.Year(), number)
}

func (s *RecordService) logInfo(msg string, record *domain.InvoiceRecord) {
	if s.Logger == nil {
		return
	}
	s.Logger.Info(msg,
		"record_id", record.ID,
		"tenant_id", record.TenantID,
		"invoice_number", record.NumeroFactura)
}

func (s *RecordService) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

// defaultVATRate is the standard Spanish IVA percentage applied when the
// source invoice carries no explicit rate.
const defaultVATRate = "21.00"

func normalizeAmount(amount string) string {
	f, err := strconv.ParseFloat(amount, 64)
	if err != nil {
		return amount
	}
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// taxBase derives the net base from a gross total at the given VAT
// percentage.
func taxBase(grossTotal, rate string) string {
	total, err := strconv.ParseFloat(grossTotal, 64)
	if err != nil {
		return "0.00"
	}
	pct, err := strconv.ParseFloat(rate, 64)
	if err != nil || pct <= 0 {
		return strconv.FormatFloat(total, 'f', 2, 64)
	}
	return strconv.FormatFloat(total/(1+pct/100), 'f', 2, 64)
}

// taxAmount is the gross total minus the derived base, kept consistent with
// taxBase's rounding.
func taxAmount(grossTotal, rate string) string {
	total, err := strconv.ParseFloat(grossTotal, 64)
	if err != nil {
		return "0.00"
	}
	base, err := strconv.ParseFloat(taxBase(grossTotal, rate), 64)
	if err != nil {
		return "0.00"
	}
	return strconv.FormatFloat(total-base, 'f', 2, 64)
}
