package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"
)

func job(id string) Job {
	return Job{AccountID: id, EpochID: 1}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if !q.Enqueue(ctx, job("a")) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	got := <-q.Dequeue(dctx)
	if got.AccountID != "a" {
		t.Errorf("expected a, got %v", got.AccountID)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if !q.Enqueue(ctx, job("a")) || !q.Enqueue(ctx, job("b")) {
		t.Fatal("expected enqueue to succeed")
	}
	if q.Enqueue(ctx, job("c")) {
		t.Error("expected enqueue to fail when full")
	}

	sctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := q.Submit(sctx, job("c")); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected submit to time out on a full queue, got %v", err)
	}
}

func TestInMemoryQueue_SubmitWaitsForRoom(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(1))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := q.Dequeue(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if err := q.Submit(ctx, job(strconv.Itoa(i))); err != nil {
				t.Errorf("submit %d: %v", i, err)
				return
			}
		}
	}()

	for i := 0; i < 50; i++ {
		got := <-out
		if got.AccountID != strconv.Itoa(i) {
			t.Fatalf("expected FIFO order, got %s at %d", got.AccountID, i)
		}
	}
	wg.Wait()
}

func TestInMemoryQueue_Close(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(4))
	ctx := context.Background()
	q.Enqueue(ctx, job("a"))

	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed")
	}
	if q.Enqueue(ctx, job("b")) {
		t.Error("expected enqueue after close to fail")
	}
	if err := q.Submit(ctx, job("b")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	// Jobs queued before Close are still delivered, then the channel closes.
	out := q.Dequeue(ctx)
	if got := <-out; got.AccountID != "a" {
		t.Errorf("expected a, got %q", got.AccountID)
	}
	if _, ok := <-out; ok {
		t.Error("expected dequeue channel to be closed")
	}
}
