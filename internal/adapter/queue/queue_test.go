package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/V4T54L/logrelay/internal/adapter/metrics"
	"github.com/V4T54L/logrelay/internal/adapter/repository/wal"
	"github.com/V4T54L/logrelay/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestQueue(limit int, spill domain.SpillRepository) *Queue {
	return New(limit, spill, metrics.NewCollectorMetrics(prometheus.NewRegistry()), testLogger())
}

func event(i int) domain.QueuedEvent {
	return domain.QueuedEvent{ID: fmt.Sprintf("ev-%d", i), Entry: domain.Entry{Text: fmt.Sprintf("msg %d", i)}}
}

func TestQueue_FIFOAndClose(t *testing.T) {
	q := newTestQueue(10, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, event(i)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	q.Close()

	if err := q.Enqueue(ctx, event(99)); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("expected ErrQueueClosed, got %v", err)
	}

	for i := 0; i < 3; i++ {
		ev, ok := q.Dequeue()
		if !ok || ev.ID != event(i).ID {
			t.Fatalf("expected %s, got %s (ok=%v)", event(i).ID, ev.ID, ok)
		}
	}
	if _, ok := q.Dequeue(); ok {
		t.Error("expected closed and drained queue to report false")
	}
}

func TestQueue_DequeueBlocksUntilEnqueue(t *testing.T) {
	q := newTestQueue(10, nil)
	got := make(chan domain.QueuedEvent, 1)
	go func() {
		ev, _ := q.Dequeue()
		got <- ev
	}()

	select {
	case <-got:
		t.Fatal("dequeue returned before anything was enqueued")
	case <-time.After(50 * time.Millisecond):
	}

	if err := q.Enqueue(context.Background(), event(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	select {
	case ev := <-got:
		if ev.ID != "ev-1" {
			t.Errorf("unexpected event %s", ev.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue was not woken")
	}
}

func TestQueue_CloseWakesConsumer(t *testing.T) {
	q := newTestQueue(10, nil)
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue()
		done <- ok
	}()
	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected false after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer was not woken by close")
	}
}

func TestQueue_ProducerBlocksWhenFull(t *testing.T) {
	q := newTestQueue(1, nil)
	ctx := context.Background()
	if err := q.Enqueue(ctx, event(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- q.Enqueue(ctx, event(2)) }()

	select {
	case <-done:
		t.Fatal("enqueue on a full queue returned without room")
	case <-time.After(50 * time.Millisecond):
	}

	if ev, _ := q.Dequeue(); ev.ID != "ev-1" {
		t.Fatalf("unexpected event %s", ev.ID)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("producer was not woken")
	}
	if ev, _ := q.Dequeue(); ev.ID != "ev-2" {
		t.Errorf("unexpected event %s", ev.ID)
	}

	t.Run("context cancellation", func(t *testing.T) {
		q := newTestQueue(1, nil)
		if err := q.Enqueue(context.Background(), event(1)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		if err := q.Enqueue(ctx, event(2)); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})
}

func TestQueue_SpillKeepsOrder(t *testing.T) {
	spill, err := wal.NewSpillRepository(t.TempDir(), 1024, 1024*1024, testLogger())
	if err != nil {
		t.Fatalf("failed to create spill: %v", err)
	}
	defer spill.Close()

	q := newTestQueue(2, spill)
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		if err := q.Enqueue(ctx, event(i)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if q.Len() != 2 {
		t.Errorf("expected 2 events in memory, got %d", q.Len())
	}
	if !spill.HasPending() {
		t.Fatal("expected overflow to be spilled")
	}

	// Room in memory does not let new events overtake spilled ones.
	for i := 0; i < 2; i++ {
		if ev, _ := q.Dequeue(); ev.ID != event(i).ID {
			t.Fatalf("expected %s, got %s", event(i).ID, ev.ID)
		}
	}
	if err := q.Enqueue(ctx, event(6)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 2; i <= 6; i++ {
		ev, ok := q.Dequeue()
		if !ok || ev.ID != event(i).ID {
			t.Fatalf("expected %s, got %s", event(i).ID, ev.ID)
		}
	}
	if spill.HasPending() {
		t.Error("expected spill to be drained")
	}
}

type failingSpill struct{}

func (failingSpill) Write(ctx context.Context, event domain.QueuedEvent) error {
	return wal.ErrSpillFull
}
func (failingSpill) Prepend(ctx context.Context, events []domain.QueuedEvent) error {
	return wal.ErrSpillFull
}
func (failingSpill) PopOldest(ctx context.Context) ([]domain.QueuedEvent, error) { return nil, nil }
func (failingSpill) HasPending() bool                                            { return false }

func TestQueue_SpillFullIsReported(t *testing.T) {
	q := newTestQueue(1, failingSpill{})
	ctx := context.Background()
	if err := q.Enqueue(ctx, event(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Enqueue(ctx, event(2)); !errors.Is(err, wal.ErrSpillFull) {
		t.Errorf("expected ErrSpillFull, got %v", err)
	}
}

func TestQueue_MissingSpillSegmentsDoNotStallConsumer(t *testing.T) {
	dir := t.TempDir()
	spill, err := wal.NewSpillRepository(dir, 1024, 1024*1024, testLogger())
	if err != nil {
		t.Fatalf("failed to create spill: %v", err)
	}
	defer spill.Close()

	q := newTestQueue(1, spill)
	ctx := context.Background()
	if err := q.Enqueue(ctx, event(0)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := q.Enqueue(ctx, event(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev, _ := q.Dequeue(); ev.ID != event(0).ID {
		t.Fatalf("expected %s, got %s", event(0).ID, ev.ID)
	}

	// Segments removed by hand while the spill still accounts for them.
	segments, _ := filepath.Glob(filepath.Join(dir, "segment-*"))
	if len(segments) == 0 {
		t.Fatal("expected a spill segment on disk")
	}
	for _, seg := range segments {
		if err := os.Remove(seg); err != nil {
			t.Fatalf("failed to remove %s: %v", seg, err)
		}
	}

	got := make(chan domain.QueuedEvent, 1)
	go func() {
		ev, _ := q.Dequeue()
		got <- ev
	}()

	enqueued := make(chan error, 1)
	go func() { enqueued <- q.Enqueue(ctx, event(2)) }()

	select {
	case err := <-enqueued:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked behind the consumer")
	}

	select {
	case ev := <-got:
		if ev.ID != event(2).ID {
			t.Errorf("expected %s, got %s", event(2).ID, ev.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never received the new event")
	}
	if spill.HasPending() {
		t.Error("expected the stale spill size to be reset")
	}
}

// staleSpill claims to hold events it can no longer produce.
type staleSpill struct{ writes int }

func (s *staleSpill) Write(ctx context.Context, event domain.QueuedEvent) error {
	s.writes++
	return nil
}
func (s *staleSpill) Prepend(ctx context.Context, events []domain.QueuedEvent) error {
	return nil
}
func (s *staleSpill) PopOldest(ctx context.Context) ([]domain.QueuedEvent, error) { return nil, nil }
func (s *staleSpill) HasPending() bool                                            { return true }

func TestQueue_EmptyRefillWaitsInsteadOfSpinning(t *testing.T) {
	spill := &staleSpill{}
	q := newTestQueue(10, spill)

	done := make(chan bool, 1)
	go func() {
		_, ok := q.Dequeue()
		done <- ok
	}()

	enqueued := make(chan error, 1)
	go func() { enqueued <- q.Enqueue(context.Background(), event(1)) }()
	select {
	case err := <-enqueued:
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked behind the consumer")
	}

	q.Close()
	select {
	case ok := <-done:
		if ok {
			t.Error("expected no event from a spill that yields nothing")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not observe Close")
	}
}

func TestQueue_SpillPending(t *testing.T) {
	t.Run("memory events are replayed before older spill", func(t *testing.T) {
		dir := t.TempDir()
		spill, err := wal.NewSpillRepository(dir, 1024*1024, 1024*1024, testLogger())
		if err != nil {
			t.Fatalf("failed to create spill: %v", err)
		}

		q := newTestQueue(2, spill)
		ctx := context.Background()
		for i := 0; i < 4; i++ {
			if err := q.Enqueue(ctx, event(i)); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		q.Close()

		n, err := q.SpillPending(ctx)
		if err != nil || n != 2 {
			t.Fatalf("expected 2 events moved, got %d (%v)", n, err)
		}
		if q.Len() != 0 {
			t.Errorf("expected empty memory, got %d", q.Len())
		}
		if _, ok := q.Dequeue(); ok {
			t.Error("expected closed queue to report false once memory is moved")
		}
		spill.Close()

		// Next start.
		spill, err = wal.NewSpillRepository(dir, 1024*1024, 1024*1024, testLogger())
		if err != nil {
			t.Fatalf("failed to reopen spill: %v", err)
		}
		defer spill.Close()
		q = newTestQueue(2, spill)
		for i := 0; i < 4; i++ {
			ev, ok := q.Dequeue()
			if !ok || ev.ID != event(i).ID {
				t.Fatalf("expected %s, got %s", event(i).ID, ev.ID)
			}
		}
	})

	t.Run("without spill nothing moves", func(t *testing.T) {
		q := newTestQueue(10, nil)
		if err := q.Enqueue(context.Background(), event(1)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n, err := q.SpillPending(context.Background()); n != 0 || err != nil {
			t.Errorf("expected nothing moved, got %d (%v)", n, err)
		}
		if q.Len() != 1 {
			t.Errorf("expected event to stay in memory, got %d", q.Len())
		}
	})

	t.Run("spill failure keeps events in memory", func(t *testing.T) {
		q := newTestQueue(10, failingSpill{})
		if err := q.Enqueue(context.Background(), event(1)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := q.SpillPending(context.Background()); !errors.Is(err, wal.ErrSpillFull) {
			t.Errorf("expected ErrSpillFull, got %v", err)
		}
		if q.Len() != 1 {
			t.Errorf("expected event to stay in memory, got %d", q.Len())
		}
	})
}
