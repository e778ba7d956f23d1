package usecase

import (
	"testing"
	"time"

	"verifactu/internal/domain"
)

func hashableEntry() domain.EventLogEntry {
	return domain.EventLogEntry{
		TenantID:          "acme",
		Seq:               1,
		EventType:         domain.EventRecordCreate,
		Severity:          domain.SeverityInfo,
		ActorID:           "worker-1",
		DetailsHash:       "deadbeef",
		HashPreviousEvent: domain.EventChainGenesis,
		CreatedAt:         time.Date(2026, 2, 16, 12, 0, 0, 123456000, time.UTC),
	}
}

func TestComputeEventHash_Deterministic(t *testing.T) {
	t.Parallel()
	first, err := ComputeEventHash(hashableEntry())
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := ComputeEventHash(hashableEntry())
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first != second || len(first) != 64 {
		t.Fatalf("digests: %s vs %s", first, second)
	}
}

func TestComputeEventHash_SensitiveToEveryField(t *testing.T) {
	t.Parallel()
	base, err := ComputeEventHash(hashableEntry())
	if err != nil {
		t.Fatalf("base: %v", err)
	}
	mutations := []func(*domain.EventLogEntry){
		func(e *domain.EventLogEntry) { e.ActorID = "intruder" },
		func(e *domain.EventLogEntry) { e.Seq = 2 },
		func(e *domain.EventLogEntry) { e.EventType = domain.EventRecordCancel },
		func(e *domain.EventLogEntry) { e.Severity = domain.SeverityCritical },
		func(e *domain.EventLogEntry) { e.DetailsHash = "cafebabe" },
		func(e *domain.EventLogEntry) { e.HashPreviousEvent = "1111111111111111111111111111111111111111111111111111111111111111" },
		func(e *domain.EventLogEntry) { e.CreatedAt = e.CreatedAt.Add(time.Nanosecond) },
		func(e *domain.EventLogEntry) { id := int64(9); e.TargetRecordID = &id },
		func(e *domain.EventLogEntry) { e.IPAddress = "10.0.0.1" },
	}
	for i, mutate := range mutations {
		entry := hashableEntry()
		mutate(&entry)
		got, err := ComputeEventHash(entry)
		if err != nil {
			t.Fatalf("mutation %d: %v", i, err)
		}
		if got == base {
			t.Fatalf("mutation %d did not change the digest", i)
		}
	}
}

func TestComputeEventHash_TenantIsPartOfTheDigest(t *testing.T) {
	t.Parallel()
	a := hashableEntry()
	b := hashableEntry()
	b.TenantID = "other"
	hashA, _ := ComputeEventHash(a)
	hashB, err := ComputeEventHash(b)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hashA == hashB {
		t.Fatal("entries of different tenants must never collide by construction")
	}
}

func TestComputeEventHash_RejectsIncompleteEntries(t *testing.T) {
	t.Parallel()
	mutations := []func(*domain.EventLogEntry){
		func(e *domain.EventLogEntry) { e.TenantID = "" },
		func(e *domain.EventLogEntry) { e.EventType = "" },
		func(e *domain.EventLogEntry) { e.DetailsHash = "" },
		func(e *domain.EventLogEntry) { e.HashPreviousEvent = "" },
		func(e *domain.EventLogEntry) { e.CreatedAt = time.Time{} },
	}
	for i, mutate := range mutations {
		entry := hashableEntry()
		mutate(&entry)
		if _, err := ComputeEventHash(entry); err == nil {
			t.Fatalf("mutation %d: incomplete entry must not hash", i)
		}
	}
}
