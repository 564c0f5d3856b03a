package leads

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/alicebob/miniredis/v2"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	store, err := NewStore(Config{
		Enabled:   true,
		Addr:      mr.Addr(),
		KeyPrefix: "lead:",
	}, testLogger())
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store, mr
}

func TestUpsertStoresLead(t *testing.T) {
	store, mr := newTestStore(t)

	if err := store.Upsert(context.Background(), "+15551234567", "Dana"); err != nil {
		t.Fatalf("Upsert() failed: %v", err)
	}

	name := mr.HGet("lead:+15551234567", "name")
	if name != "Dana" {
		t.Errorf("Stored name = %q, want Dana", name)
	}

	if mr.HGet("lead:+15551234567", "updated_at") == "" {
		t.Error("Missing updated_at field")
	}
}

func TestUpsertRefreshesExistingLead(t *testing.T) {
	store, mr := newTestStore(t)

	ctx := context.Background()
	if err := store.Upsert(ctx, "+15551234567", "Dana"); err != nil {
		t.Fatalf("First Upsert() failed: %v", err)
	}
	if err := store.Upsert(ctx, "+15551234567", "Dana Smith"); err != nil {
		t.Fatalf("Second Upsert() failed: %v", err)
	}

	if name := mr.HGet("lead:+15551234567", "name"); name != "Dana Smith" {
		t.Errorf("Stored name = %q, want Dana Smith", name)
	}

	if store.GetStats().Upserts != 2 {
		t.Errorf("Upserts = %d, want 2", store.GetStats().Upserts)
	}
}

func TestUpsertEmptyPhone(t *testing.T) {
	store, _ := newTestStore(t)

	if err := store.Upsert(context.Background(), "", "Dana"); err == nil {
		t.Error("Expected error for empty phone")
	}
}

func TestDisabledStoreNoOps(t *testing.T) {
	store, err := NewStore(Config{Enabled: false}, testLogger())
	if err != nil {
		t.Fatalf("NewStore() failed: %v", err)
	}
	defer store.Close()

	if store.Enabled() {
		t.Error("Enabled() = true, want false")
	}

	if err := store.Upsert(context.Background(), "+15551234567", "Dana"); err != nil {
		t.Errorf("Disabled Upsert() returned error: %v", err)
	}
}

func TestNewStoreRequiresAddr(t *testing.T) {
	if _, err := NewStore(Config{Enabled: true}, testLogger()); err == nil {
		t.Error("Expected error for enabled store without address")
	}
}
