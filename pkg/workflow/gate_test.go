package workflow

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestContextGate_SerializesSameContext(t *testing.T) {
	g := newContextGate()

	release, err := g.acquire(context.Background(), "ctx", 4)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	acquired := make(chan struct{})
	go func() {
		release2, err := g.acquire(context.Background(), "ctx", 4)
		if err != nil {
			t.Errorf("queued acquire: %v", err)
			close(acquired)
			return
		}
		close(acquired)
		release2()
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire must wait for the holder")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("queued acquire never woke up")
	}
}

func TestContextGate_RejectsBeyondDepth(t *testing.T) {
	g := newContextGate()

	release, err := g.acquire(context.Background(), "ctx", 0)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer release()

	if _, err := g.acquire(context.Background(), "ctx", 0); !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
}

func TestContextGate_IndependentContexts(t *testing.T) {
	g := newContextGate()

	r1, err := g.acquire(context.Background(), "ctx-a", 0)
	if err != nil {
		t.Fatalf("ctx-a: %v", err)
	}
	defer r1()

	r2, err := g.acquire(context.Background(), "ctx-b", 0)
	if err != nil {
		t.Fatalf("ctx-b must not contend with ctx-a: %v", err)
	}
	defer r2()
}

func TestContextGate_CanceledWaiterLeavesCleanly(t *testing.T) {
	g := newContextGate()

	release, err := g.acquire(context.Background(), "ctx", 4)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := g.acquire(ctx, "ctx", 4)
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond) // let the waiter queue
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}

	release()

	// The slot is empty again; a depth-zero acquire succeeds.
	r2, err := g.acquire(context.Background(), "ctx", 0)
	if err != nil {
		t.Fatalf("acquire after cleanup: %v", err)
	}
	r2()
}
