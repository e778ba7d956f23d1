package usecase

import (
	"errors"
	"testing"

	"verifactu/internal/domain"
)

func testFields() domain.CanonicalFields {
	return domain.CanonicalFields{
		NIFEmisor:       "B12345678",
		NumeroFactura:   "VF-2026-001",
		FechaExpedicion: "2026-02-16",
		TipoFactura:     "F1",
		CuotaTributaria: "210.00",
		ImporteTotal:    "1210.00",
	}
}

func TestCalculateAltaHash_KnownVector(t *testing.T) {
	t.Parallel()
	got, err := CalculateAltaHash(testFields(), domain.RecordChainGenesis)
	if err != nil {
		t.Fatalf("alta hash: %v", err)
	}
	want := "cfdf00a87c5025cdcfe719086e01d71319bec6f8eb624f2a7f751cb650cd2c06"
	if got != want {
		t.Fatalf("alta hash mismatch: got %s want %s", got, want)
	}
}

func TestCalculateAnulacionHash_KnownVector(t *testing.T) {
	t.Parallel()
	got, err := CalculateAnulacionHash(testFields(), domain.RecordChainGenesis)
	if err != nil {
		t.Fatalf("anulacion hash: %v", err)
	}
	want := "48a92f60c7e3f47291a94114d5cb37bd2d23ea22f3264179f9b7090d75346bfd"
	if got != want {
		t.Fatalf("anulacion hash mismatch: got %s want %s", got, want)
	}
}

func TestCalculateHash_Deterministic(t *testing.T) {
	t.Parallel()
	first, err := CalculateAltaHash(testFields(), "abc")
	if err != nil {
		t.Fatalf("first hash: %v", err)
	}
	second, err := CalculateAltaHash(testFields(), "abc")
	if err != nil {
		t.Fatalf("second hash: %v", err)
	}
	if first != second {
		t.Fatalf("same input produced different digests: %s vs %s", first, second)
	}
}

func TestCalculateHash_TagSeparatesRecordTypes(t *testing.T) {
	t.Parallel()
	alta, err := CalculateAltaHash(testFields(), "")
	if err != nil {
		t.Fatalf("alta: %v", err)
	}
	anulacion, err := CalculateAnulacionHash(testFields(), "")
	if err != nil {
		t.Fatalf("anulacion: %v", err)
	}
	if alta == anulacion {
		t.Fatal("alta and anulacion digests must differ for identical fields")
	}
}

func TestCalculateHash_PreviousHashChangesDigest(t *testing.T) {
	t.Parallel()
	genesis, err := CalculateAltaHash(testFields(), "")
	if err != nil {
		t.Fatalf("genesis-linked: %v", err)
	}
	chained, err := CalculateAltaHash(testFields(), genesis)
	if err != nil {
		t.Fatalf("chained: %v", err)
	}
	if genesis == chained {
		t.Fatal("digest must depend on the previous hash")
	}
}

func TestCalculateHash_MissingFields(t *testing.T) {
	t.Parallel()
	fields := testFields()
	fields.NumeroFactura = ""
	fields.ImporteTotal = "  "

	_, err := CalculateAltaHash(fields, "")
	if err == nil {
		t.Fatal("expected error for missing fields")
	}
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var missing *domain.MissingFieldsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingFieldsError, got %T", err)
	}
	if len(missing.Fields) != 2 {
		t.Fatalf("expected 2 missing fields, got %v", missing.Fields)
	}
	if missing.Fields[0] != "numero_factura" || missing.Fields[1] != "importe_total" {
		t.Fatalf("missing fields not in digest order: %v", missing.Fields)
	}
}

func TestHashForType_MatchesTypedHelpers(t *testing.T) {
	t.Parallel()
	alta, _ := CalculateAltaHash(testFields(), "prev")
	byType, err := HashForType(domain.RecordTypeAlta, testFields(), "prev")
	if err != nil {
		t.Fatalf("hash for type: %v", err)
	}
	if alta != byType {
		t.Fatalf("HashForType disagrees with CalculateAltaHash: %s vs %s", byType, alta)
	}
}
