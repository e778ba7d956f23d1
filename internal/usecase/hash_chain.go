package usecase

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"verifactu/internal/domain"
)

// CalculateAltaHash derives the chain digest for an alta record. The input
// is the comma-joined canonical tuple followed by the record-type tag and
// the previous digest (empty for the first link). The encoding is fixed by
// the AEAT specification; the same fields and previous hash must reproduce
// the same digest at any later time.
func CalculateAltaHash(fields domain.CanonicalFields, previousHash string) (string, error) {
	return calculateRecordHash(fields, domain.RecordTypeAlta, previousHash)
}

// CalculateAnulacionHash derives the chain digest for an anulacion record.
// The tag differs from the alta tag so an invoice and its cancellation can
// never collide on the same digest.
func CalculateAnulacionHash(fields domain.CanonicalFields, previousHash string) (string, error) {
	return calculateRecordHash(fields, domain.RecordTypeAnulacion, previousHash)
}

// HashForType dispatches on the record type tag; used when re-deriving
// digests from stored records during verification.
func HashForType(recordType domain.RecordType, fields domain.CanonicalFields, previousHash string) (string, error) {
	return calculateRecordHash(fields, recordType, previousHash)
}

func calculateRecordHash(fields domain.CanonicalFields, tag domain.RecordType, previousHash string) (string, error) {
	if missing := fields.MissingFields(); len(missing) > 0 {
		return "", &domain.MissingFieldsError{Fields: missing}
	}
	input := strings.Join([]string{
		fields.NIFEmisor,
		fields.NumeroFactura,
		fields.FechaExpedicion,
		fields.TipoFactura,
		fields.CuotaTributaria,
		fields.ImporteTotal,
		string(tag),
		previousHash,
	}, ",")
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:]), nil
}
