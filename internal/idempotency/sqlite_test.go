package idempotency

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T, ttl time.Duration) (*SQLiteStore, *time.Time) {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "idem.sqlite"), ttl)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &now
	store.now = func() time.Time { return *clock }
	return store, clock
}

func TestSQLiteSetGet(t *testing.T) {
	store, _ := newTestStore(t, 7*24*time.Hour)
	ctx := context.Background()

	body := []byte(`{"ok":true,"message_id":"42","channel":"signals"}`)
	rec := &Record{Key: "k1", Response: body, Status: 200}
	if err := store.Set(ctx, rec); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, found, err := store.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !found {
		t.Fatal("Expected record to be found")
	}
	if !bytes.Equal(got.Response, body) {
		t.Errorf("Expected cached response to be byte-identical, got %s", got.Response)
	}
	if got.Status != 200 {
		t.Errorf("Expected status 200, got %d", got.Status)
	}
}

func TestSQLiteMiss(t *testing.T) {
	store, _ := newTestStore(t, time.Hour)

	_, found, err := store.Get(context.Background(), "absent")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if found {
		t.Error("Expected miss for absent key")
	}
}

func TestSQLiteTTLExpiry(t *testing.T) {
	store, clock := newTestStore(t, time.Hour)
	ctx := context.Background()

	if err := store.Set(ctx, &Record{Key: "k1", Response: []byte(`{"ok":true}`), Status: 200}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// Just inside the TTL the record is still honored.
	*clock = clock.Add(time.Hour - time.Second)
	if _, found, _ := store.Get(ctx, "k1"); !found {
		t.Error("Expected record inside TTL to be found")
	}

	// Just past the TTL it reads as absent.
	*clock = clock.Add(2 * time.Second)
	if _, found, _ := store.Get(ctx, "k1"); found {
		t.Error("Expected expired record to read as absent")
	}
}

func TestSQLiteExpiredOverwrite(t *testing.T) {
	store, clock := newTestStore(t, time.Hour)
	ctx := context.Background()

	if err := store.Set(ctx, &Record{Key: "k1", Response: []byte(`first`), Status: 502}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	*clock = clock.Add(2 * time.Hour)

	if err := store.Set(ctx, &Record{Key: "k1", Response: []byte(`second`), Status: 200}); err != nil {
		t.Fatalf("Overwrite failed: %v", err)
	}
	got, found, _ := store.Get(ctx, "k1")
	if !found || string(got.Response) != "second" {
		t.Errorf("Expected overwritten record, found=%v got=%s", found, got.Response)
	}
}

func TestSQLiteSweep(t *testing.T) {
	store, clock := newTestStore(t, time.Hour)
	ctx := context.Background()

	store.Set(ctx, &Record{Key: "old", Response: []byte(`{}`), Status: 200})
	*clock = clock.Add(30 * time.Minute)
	store.Set(ctx, &Record{Key: "fresh", Response: []byte(`{}`), Status: 200})
	*clock = clock.Add(45 * time.Minute)

	removed, err := store.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 record swept, got %d", removed)
	}
	if _, found, _ := store.Get(ctx, "fresh"); !found {
		t.Error("Expected unexpired record to survive the sweep")
	}
}
