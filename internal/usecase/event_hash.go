package usecase

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"verifactu/internal/domain"
)

// ComputeEventHash derives the SIF ledger chain digest for an entry:
// SHA256(previousHash || canonical(entry-without-hashes)). The canonical
// form is a fixed-key JSON object written byte-for-byte here, independent of
// encoding/json, so the digest is stable across Go versions. Both the append
// path and the verifier call this.
func ComputeEventHash(entry domain.EventLogEntry) (string, error) {
	if entry.TenantID == "" || entry.EventType == "" {
		return "", errors.New("event entry missing tenant_id or event_type")
	}
	if entry.DetailsHash == "" {
		return "", errors.New("event entry missing details_hash")
	}
	if entry.HashPreviousEvent == "" {
		return "", errors.New("event entry missing previous hash")
	}
	if entry.CreatedAt.IsZero() {
		return "", errors.New("event entry missing created_at")
	}

	buf := &bytes.Buffer{}
	buf.WriteString(entry.HashPreviousEvent)
	writeEventPayload(buf, entry)
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

func writeEventPayload(buf *bytes.Buffer, entry domain.EventLogEntry) {
	buf.WriteByte('{')
	writeKV(buf, "actor_id", entry.ActorID)
	buf.WriteByte(',')
	writeKV(buf, "created_at", entry.CreatedAt.UTC().Format(time.RFC3339Nano))
	buf.WriteByte(',')
	writeKV(buf, "details_hash", entry.DetailsHash)
	buf.WriteByte(',')
	writeKV(buf, "event_type", string(entry.EventType))
	buf.WriteByte(',')
	writeKV(buf, "ip_address", entry.IPAddress)
	buf.WriteByte(',')
	writeJSONString(buf, "seq")
	buf.WriteByte(':')
	buf.WriteString(strconv.FormatInt(entry.Seq, 10))
	buf.WriteByte(',')
	writeJSONString(buf, "severity")
	buf.WriteByte(':')
	writeJSONString(buf, string(entry.Severity))
	buf.WriteByte(',')
	writeJSONString(buf, "target_record_id")
	buf.WriteByte(':')
	if entry.TargetRecordID != nil {
		buf.WriteString(strconv.FormatInt(*entry.TargetRecordID, 10))
	} else {
		buf.WriteString("null")
	}
	buf.WriteByte(',')
	writeKV(buf, "tenant_id", entry.TenantID)
	buf.WriteByte(',')
	writeKV(buf, "v", domain.EventChainVersion)
	buf.WriteByte('}')
}

func writeKV(buf *bytes.Buffer, key, value string) {
	writeJSONString(buf, key)
	buf.WriteByte(':')
	writeJSONString(buf, value)
}

func writeJSONString(buf *bytes.Buffer, value string) {
	buf.WriteByte('"')
	for _, r := range value {
		switch r {
		case '"', '\\':
			buf.WriteByte('\\')
			buf.WriteRune(r)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if r < 0x20 {
				buf.WriteString(`\u00`)
				buf.WriteByte(jsonHexLower[r>>4])
				buf.WriteByte(jsonHexLower[r&0x0f])
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

var jsonHexLower = []byte("0123456789abcdef")
