package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/majordomohq/majordomo/pkg/a2a"
	"github.com/majordomohq/majordomo/pkg/kv"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mem := kv.NewMemory()
	t.Cleanup(func() { mem.Close() })
	return NewStore(mem)
}

func TestStore_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap := NewSnapshot("ctx-roundtrip")
	snap.AppendUser("Play some jazz")
	snap.AppendAssistant("Playing jazz in the living room.", false)

	if err := store.Put(ctx, snap, time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(ctx, "ctx-roundtrip")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected a snapshot")
	}
	if got.TurnCount() != 2 {
		t.Errorf("expected 2 turns, got %d", got.TurnCount())
	}
	if got.Turns[1].Text != "Playing jazz in the living room." {
		t.Errorf("unexpected turn text %q", got.Turns[1].Text)
	}
}

func TestStore_MissIsNotError(t *testing.T) {
	store := newTestStore(t)

	snap, err := store.Get(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("miss must not error: %v", err)
	}
	if snap != nil {
		t.Errorf("expected nil snapshot on miss, got %+v", snap)
	}

	task, err := store.GetTask(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("task miss must not error: %v", err)
	}
	if task != nil {
		t.Errorf("expected nil task on miss, got %+v", task)
	}
}

func TestStore_TTLExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap := NewSnapshot("ctx-ttl")
	snap.AppendUser("hello")
	if err := store.Put(ctx, snap, 20*time.Millisecond); err != nil {
		t.Fatalf("put: %v", err)
	}

	time.Sleep(40 * time.Millisecond)

	got, err := store.Get(ctx, "ctx-ttl")
	if err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if got != nil {
		t.Error("expected snapshot to expire")
	}
}

func TestStore_TaskSnapshots(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	task := &a2a.Task{
		ID:        "task-1",
		ContextID: "ctx-task",
		Status: a2a.TaskStatus{
			State:     a2a.TaskStateWorking,
			Timestamp: a2a.Timestamp(time.Now()),
		},
		Kind: a2a.KindTask,
	}
	if err := store.PutTask(ctx, task, time.Hour); err != nil {
		t.Fatalf("put task: %v", err)
	}

	got, err := store.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got == nil || got.Status.State != a2a.TaskStateWorking {
		t.Fatalf("unexpected task: %+v", got)
	}

	// State transition survives a rewrite.
	got.Status.State = a2a.TaskStateCancelled
	if err := store.PutTask(ctx, got, time.Hour); err != nil {
		t.Fatalf("rewrite task: %v", err)
	}
	got, err = store.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("get task again: %v", err)
	}
	if got.Status.State != a2a.TaskStateCancelled {
		t.Errorf("expected cancelled, got %s", got.Status.State)
	}

	if err := store.DeleteTask(ctx, "task-1"); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	got, err = store.GetTask(ctx, "task-1")
	if err != nil || got != nil {
		t.Errorf("expected task gone, got %+v err %v", got, err)
	}
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snap := NewSnapshot("ctx-del")
	if err := store.Put(ctx, snap, time.Hour); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Delete(ctx, "ctx-del"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, err := store.Get(ctx, "ctx-del")
	if err != nil || got != nil {
		t.Errorf("expected session gone, got %+v err %v", got, err)
	}

	// Deleting again is fine.
	if err := store.Delete(ctx, "ctx-del"); err != nil {
		t.Errorf("double delete: %v", err)
	}
}

func TestStore_PutValidation(t *testing.T) {
	store := newTestStore(t)

	if err := store.Put(context.Background(), &Snapshot{}, time.Hour); err == nil {
		t.Error("expected error for snapshot without context id")
	}
	if err := store.PutTask(context.Background(), &a2a.Task{}, time.Hour); err == nil {
		t.Error("expected error for task without id")
	}
}

// failingKV simulates a backend outage.
type failingKV struct{}

var errBackendDown = errors.New("backend down")

func (failingKV) Get(context.Context, string) ([]byte, error) { return nil, errBackendDown }
func (failingKV) Set(context.Context, string, []byte, time.Duration) error {
	return errBackendDown
}
func (failingKV) Delete(context.Context, string) error          { return errBackendDown }
func (failingKV) Keys(context.Context, string) ([]string, error) { return nil, errBackendDown }
func (failingKV) Ping(context.Context) error                    { return errBackendDown }
func (failingKV) Close() error                                  { return nil }

func TestStore_OutageSurfacesError(t *testing.T) {
	store := NewStore(failingKV{})
	ctx := context.Background()

	_, err := store.Get(ctx, "ctx-down")
	if err == nil || !errors.Is(err, errBackendDown) {
		t.Errorf("expected backend error, got %v", err)
	}

	snap := NewSnapshot("ctx-down")
	if err := store.Put(ctx, snap, time.Hour); err == nil {
		t.Error("expected write error during outage")
	}
}

func TestStore_CorruptSnapshot(t *testing.T) {
	mem := kv.NewMemory()
	t.Cleanup(func() { mem.Close() })
	store := NewStore(mem)
	ctx := context.Background()

	if err := mem.Set(ctx, "sessions/ctx-corrupt", []byte("{not json"), 0); err != nil {
		t.Fatal(err)
	}

	_, err := store.Get(ctx, "ctx-corrupt")
	if err == nil || !strings.Contains(err.Error(), "corrupt") {
		t.Errorf("expected corrupt snapshot error, got %v", err)
	}
}
