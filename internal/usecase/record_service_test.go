package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"verifactu/internal/domain"
)

func testTenantConfig() domain.TenantConfig {
	return domain.TenantConfig{
		TenantID:         "acme",
		NIF:              "B12345678",
		NombreFiscal:     "Acme SL",
		SerieFacturacion: "VF",
		Environment:      domain.EnvironmentTesting,
		Active:           true,
	}
}

func testInvoice() domain.SourceInvoice {
	return domain.SourceInvoice{
		ID:            "inv-1",
		TenantID:      "acme",
		InvoiceNumber: "001",
		GrossTotal:    "1210.00",
	}
}

func newTestRecordService(records *stubRecordRepo, tenants *stubTenantRepo, locks *stubLock) *RecordService {
	svc := NewRecordService(records, tenants, locks, NewEventLogger(newStubEventRepo(), discardLogger()), &stubArtifacts{}, discardLogger())
	svc.Clock = fixedClock(time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC))
	return svc
}

func TestCreateAltaRecord(t *testing.T) {
	t.Parallel()
	records := newStubRecordRepo()
	locks := newStubLock()
	svc := newTestRecordService(records, newStubTenantRepo(testTenantConfig()), locks)

	created, err := svc.CreateAltaRecord(context.Background(), testInvoice())
	if err != nil {
		t.Fatalf("create alta: %v", err)
	}
	if created.NumeroFactura != "VF-2026-001" {
		t.Fatalf("invoice number: got %s", created.NumeroFactura)
	}
	if created.FechaExpedicion != "2026-02-16" {
		t.Fatalf("fecha expedicion: got %s", created.FechaExpedicion)
	}
	if created.HashPrevious != domain.RecordChainGenesis {
		t.Fatalf("genesis record must link to the empty tail, got %q", created.HashPrevious)
	}
	if created.Status != domain.RecordStatusPending {
		t.Fatalf("status: got %s", created.Status)
	}
	if created.BaseImponible != "1000.00" || created.CuotaTributaria != "210.00" {
		t.Fatalf("tax derivation: base %s cuota %s", created.BaseImponible, created.CuotaTributaria)
	}
	if created.VerificationURL == "" || len(created.QRImage) == 0 {
		t.Fatal("expected verification artifacts on the created record")
	}
	if locks.releases != 1 {
		t.Fatalf("lock must be released exactly once, got %d", locks.releases)
	}
}

func TestCreateAltaRecord_ChainsOnPreviousHash(t *testing.T) {
	t.Parallel()
	records := newStubRecordRepo()
	svc := newTestRecordService(records, newStubTenantRepo(testTenantConfig()), newStubLock())

	first, err := svc.CreateAltaRecord(context.Background(), testInvoice())
	if err != nil {
		t.Fatalf("first append: %v", err)
	}
	second, err := svc.CreateAltaRecord(context.Background(), domain.SourceInvoice{
		ID: "inv-2", TenantID: "acme", InvoiceNumber: "002", GrossTotal: "500.00",
	})
	if err != nil {
		t.Fatalf("second append: %v", err)
	}
	if second.HashPrevious != first.HashRecord {
		t.Fatalf("second record must link to first: got %s want %s", second.HashPrevious, first.HashRecord)
	}
	if second.HashRecord == first.HashRecord {
		t.Fatal("consecutive records must not share a digest")
	}
}

func TestCreateAltaRecord_LockContention(t *testing.T) {
	t.Parallel()
	locks := newStubLock()
	locks.denyAll = true
	svc := newTestRecordService(newStubRecordRepo(), newStubTenantRepo(testTenantConfig()), locks)

	_, err := svc.CreateAltaRecord(context.Background(), testInvoice())
	if !errors.Is(err, domain.ErrLockUnavailable) {
		t.Fatalf("expected ErrLockUnavailable, got %v", err)
	}
	if locks.releases != 0 {
		t.Fatal("a lock that was never acquired must not be released")
	}
}

func TestCreateAltaRecord_TenantNotConfigured(t *testing.T) {
	t.Parallel()
	locks := newStubLock()
	svc := newTestRecordService(newStubRecordRepo(), newStubTenantRepo(), locks)

	_, err := svc.CreateAltaRecord(context.Background(), testInvoice())
	if !errors.Is(err, domain.ErrTenantNotConfigured) {
		t.Fatalf("expected ErrTenantNotConfigured, got %v", err)
	}
	if locks.acquires != 0 {
		t.Fatal("config check must run before the lock is taken")
	}
}

func TestCreateAltaRecord_TenantDisabled(t *testing.T) {
	t.Parallel()
	cfg := testTenantConfig()
	cfg.Active = false
	svc := newTestRecordService(newStubRecordRepo(), newStubTenantRepo(cfg), newStubLock())

	if _, err := svc.CreateAltaRecord(context.Background(), testInvoice()); !errors.Is(err, domain.ErrTenantNotConfigured) {
		t.Fatalf("expected ErrTenantNotConfigured for disabled tenant, got %v", err)
	}
}

func TestCreateAltaRecord_ReleasesLockOnPersistFailure(t *testing.T) {
	t.Parallel()
	records := newStubRecordRepo()
	records.createErr = errors.New("db down")
	locks := newStubLock()
	svc := newTestRecordService(records, newStubTenantRepo(testTenantConfig()), locks)

	if _, err := svc.CreateAltaRecord(context.Background(), testInvoice()); err == nil {
		t.Fatal("expected persist failure to surface")
	}
	if locks.releases != 1 {
		t.Fatalf("lock must be released on the failure path, got %d releases", locks.releases)
	}
}

func TestCreateAltaRecord_QRFailureDegrades(t *testing.T) {
	t.Parallel()
	records := newStubRecordRepo()
	svc := newTestRecordService(records, newStubTenantRepo(testTenantConfig()), newStubLock())
	svc.Artifacts = &stubArtifacts{qrErr: errors.New("encoder broken")}

	created, err := svc.CreateAltaRecord(context.Background(), testInvoice())
	if err != nil {
		t.Fatalf("qr failure must not abort creation: %v", err)
	}
	if created.VerificationURL == "" {
		t.Fatal("verification URL is independent of the image and must still be set")
	}
	if len(created.QRImage) != 0 {
		t.Fatal("record must be left without an image when encoding fails")
	}
}

func TestCreateAnulacionRecord(t *testing.T) {
	t.Parallel()
	records := newStubRecordRepo()
	svc := newTestRecordService(records, newStubTenantRepo(testTenantConfig()), newStubLock())

	original, err := svc.CreateAltaRecord(context.Background(), testInvoice())
	if err != nil {
		t.Fatalf("seed alta: %v", err)
	}
	svc.Clock = fixedClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	cancellation, err := svc.CreateAnulacionRecord(context.Background(), *original)
	if err != nil {
		t.Fatalf("create anulacion: %v", err)
	}
	if cancellation.RecordType != domain.RecordTypeAnulacion {
		t.Fatalf("record type: got %s", cancellation.RecordType)
	}
	if cancellation.NumeroFactura != original.NumeroFactura {
		t.Fatal("cancellation must carry the original invoice number")
	}
	if cancellation.FechaExpedicion != "2026-03-01" {
		t.Fatalf("cancellation must carry its own issue date, got %s", cancellation.FechaExpedicion)
	}
	if cancellation.HashPrevious != original.HashRecord {
		t.Fatal("cancellation must extend the chain, not fork it")
	}
	if cancellation.OriginalRecordID == nil || *cancellation.OriginalRecordID != original.ID {
		t.Fatal("cancellation must reference the original record")
	}
}

func TestCreateAnulacionRecord_RefusesCancellingACancellation(t *testing.T) {
	t.Parallel()
	svc := newTestRecordService(newStubRecordRepo(), newStubTenantRepo(testTenantConfig()), newStubLock())

	_, err := svc.CreateAnulacionRecord(context.Background(), domain.InvoiceRecord{
		ID:         7,
		TenantID:   "acme",
		RecordType: domain.RecordTypeAnulacion,
	})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation refusal, got %v", err)
	}
}

func TestCreateRectificativaRecord(t *testing.T) {
	t.Parallel()
	records := newStubRecordRepo()
	svc := newTestRecordService(records, newStubTenantRepo(testTenantConfig()), newStubLock())

	original, err := svc.CreateAltaRecord(context.Background(), testInvoice())
	if err != nil {
		t.Fatalf("seed alta: %v", err)
	}
	corrected, err := svc.CreateRectificativaRecord(context.Background(), domain.SourceInvoice{
		ID: "inv-1r", TenantID: "acme", InvoiceNumber: "001R", GrossTotal: "605.00",
	}, *original)
	if err != nil {
		t.Fatalf("create rectificativa: %v", err)
	}
	if corrected.TipoFactura != "R1" {
		t.Fatalf("tipo factura: got %s", corrected.TipoFactura)
	}
	if corrected.RecordType != domain.RecordTypeAlta {
		t.Fatal("a rectificativa is structurally an alta record")
	}
	if corrected.OriginalRecordID == nil || *corrected.OriginalRecordID != original.ID {
		t.Fatal("rectificativa must reference the record it corrects")
	}
	if corrected.ImporteTotal != "605.00" || corrected.BaseImponible != "500.00" {
		t.Fatalf("corrected amounts: total %s base %s", corrected.ImporteTotal, corrected.BaseImponible)
	}
}

func TestCreateRecord_UpdatesChainHead(t *testing.T) {
	t.Parallel()
	tenants := newStubTenantRepo(testTenantConfig())
	svc := newTestRecordService(newStubRecordRepo(), tenants, newStubLock())

	created, err := svc.CreateAltaRecord(context.Background(), testInvoice())
	if err != nil {
		t.Fatalf("create alta: %v", err)
	}
	cfg, err := tenants.GetByTenant(context.Background(), "acme")
	if err != nil {
		t.Fatalf("reload tenant: %v", err)
	}
	if cfg.LastChainHash != created.HashRecord || cfg.LastRecordID != created.ID {
		t.Fatalf("cached chain head not updated: hash %s id %d", cfg.LastChainHash, cfg.LastRecordID)
	}
}

func TestCreateRecord_ChainHeadFailureDoesNotAbort(t *testing.T) {
	t.Parallel()
	tenants := newStubTenantRepo(testTenantConfig())
	tenants.chainHeadErr = errors.New("head update failed")
	svc := newTestRecordService(newStubRecordRepo(), tenants, newStubLock())

	if _, err := svc.CreateAltaRecord(context.Background(), testInvoice()); err != nil {
		t.Fatalf("chain head cache failure must not abort the append: %v", err)
	}
}
