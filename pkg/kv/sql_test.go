package kv

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := NewSQL("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("NewSQL(sqlite) error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLStore_RoundTrip(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "sessions/ctx-1", []byte(`{"turns":[{"role":"user"}]}`), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.Get(ctx, "sessions/ctx-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `{"turns":[{"role":"user"}]}` {
		t.Errorf("Get() = %s", got)
	}

	if _, err := store.Get(ctx, "sessions/absent"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(absent) error = %v, want ErrNotFound", err)
	}
}

func TestSQLStore_Upsert(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	_ = store.Set(ctx, "tasks/t-1", []byte("v1"), 0)
	if err := store.Set(ctx, "tasks/t-1", []byte("v2"), 0); err != nil {
		t.Fatalf("Set() upsert error = %v", err)
	}

	got, _ := store.Get(ctx, "tasks/t-1")
	if string(got) != "v2" {
		t.Errorf("Get() after upsert = %s, want v2", got)
	}
}

func TestSQLStore_Expiry(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	// Expiry granularity is one second in the schema.
	if err := store.Set(ctx, "tasks/t-2", []byte("working"), time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if _, err := store.Get(ctx, "tasks/t-2"); err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}

	time.Sleep(1100 * time.Millisecond)

	if _, err := store.Get(ctx, "tasks/t-2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after expiry error = %v, want ErrNotFound", err)
	}
}

func TestSQLStore_Delete(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	_ = store.Set(ctx, "k", []byte("v"), 0)
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "absent"); err != nil {
		t.Errorf("Delete(absent) error = %v", err)
	}
}

func TestNewSQL_Validation(t *testing.T) {
	if _, err := NewSQL("oracle", "dsn"); err == nil {
		t.Error("NewSQL(oracle) should reject unsupported dialect")
	}
	if _, err := NewSQL("sqlite", ""); err == nil {
		t.Error("NewSQL with empty dsn should error")
	}
}

func TestConvertToPostgresPlaceholders(t *testing.T) {
	got := convertToPostgresPlaceholders(`INSERT INTO kv_entries (k, v, expires_at) VALUES (?, ?, ?)`)
	want := `INSERT INTO kv_entries (k, v, expires_at) VALUES ($1, $2, $3)`
	if got != want {
		t.Errorf("convertToPostgresPlaceholders() = %q, want %q", got, want)
	}
}
