package lock

import (
	"context"
	"testing"
	"time"
)

func TestMemoryLock_AcquireRelease(t *testing.T) {
	t.Parallel()
	l := NewMemoryLock()

	ok, err := l.Acquire(context.Background(), "tenant-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = l.Acquire(context.Background(), "tenant-a", time.Minute)
	if err != nil || ok {
		t.Fatalf("held lock must not be re-acquired: ok=%v err=%v", ok, err)
	}
	if err := l.Release(context.Background(), "tenant-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = l.Acquire(context.Background(), "tenant-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestMemoryLock_KeysAreIndependent(t *testing.T) {
	t.Parallel()
	l := NewMemoryLock()
	if ok, _ := l.Acquire(context.Background(), "tenant-a", time.Minute); !ok {
		t.Fatal("acquire tenant-a")
	}
	if ok, _ := l.Acquire(context.Background(), "tenant-b", time.Minute); !ok {
		t.Fatal("a lock on one tenant must not block another")
	}
}

func TestMemoryLock_TTLExpiry(t *testing.T) {
	t.Parallel()
	l := NewMemoryLock()
	now := time.Date(2026, 2, 16, 10, 0, 0, 0, time.UTC)
	l.clock = func() time.Time { return now }

	if ok, _ := l.Acquire(context.Background(), "tenant-a", 30*time.Second); !ok {
		t.Fatal("initial acquire")
	}
	now = now.Add(10 * time.Second)
	if ok, _ := l.Acquire(context.Background(), "tenant-a", 30*time.Second); ok {
		t.Fatal("lock must hold inside its TTL")
	}
	now = now.Add(25 * time.Second)
	if ok, _ := l.Acquire(context.Background(), "tenant-a", 30*time.Second); !ok {
		t.Fatal("expired lock must be reclaimable")
	}
}
