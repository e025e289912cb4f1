// Package queue is the hand-off between the datagram listener and the
// persistence writer.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/V4T54L/logrelay/internal/adapter/metrics"
	"github.com/V4T54L/logrelay/internal/domain"
)

// ErrQueueClosed is returned by Enqueue after Close.
var ErrQueueClosed = errors.New("queue closed")

// Queue is a FIFO of events with a bounded in-memory part. When memory is
// full, events go to the spill if one is configured; otherwise Enqueue
// blocks until the consumer makes room. Once anything is spilled, new events
// follow it to disk so order is preserved.
type Queue struct {
	limit   int
	spill   domain.SpillRepository
	metrics *metrics.CollectorMetrics
	logger  *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	items  []domain.QueuedEvent
	closed bool
}

// New creates a queue holding at most limit events in memory; a limit of
// zero or less leaves memory unbounded. spill may be nil.
func New(limit int, spill domain.SpillRepository, m *metrics.CollectorMetrics, logger *slog.Logger) *Queue {
	if limit <= 0 {
		limit = math.MaxInt
	}
	q := &Queue{
		limit:   limit,
		spill:   spill,
		metrics: m,
		logger:  logger.With("component", "queue"),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds an event to the tail of the queue.
func (q *Queue) Enqueue(ctx context.Context, event domain.QueuedEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.spill == nil {
		stop := context.AfterFunc(ctx, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		defer stop()

		for !q.closed && len(q.items) >= q.limit {
			if err := ctx.Err(); err != nil {
				return err
			}
			q.cond.Wait()
		}
	}

	if q.closed {
		return ErrQueueClosed
	}

	if len(q.items) < q.limit && (q.spill == nil || !q.spill.HasPending()) {
		q.items = append(q.items, event)
		q.metrics.QueueDepth.Set(float64(len(q.items)))
		q.cond.Broadcast()
		return nil
	}

	if err := q.spill.Write(ctx, event); err != nil {
		return fmt.Errorf("failed to spill event: %w", err)
	}
	q.metrics.SpilledTotal.Inc()
	q.metrics.SpillActive.Set(1)
	q.cond.Broadcast()
	return nil
}

// Dequeue blocks until an event is available and removes it from the head
// of the queue. It returns false once the queue is closed and its in-memory
// events are drained; spilled events stay on disk for the next run.
func (q *Queue) Dequeue() (domain.QueuedEvent, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if len(q.items) > 0 {
			event := q.items[0]
			q.items[0] = domain.QueuedEvent{}
			q.items = q.items[1:]
			if len(q.items) == 0 {
				q.items = nil
			}
			q.metrics.QueueDepth.Set(float64(len(q.items)))
			q.cond.Broadcast()
			return event, true
		}

		if q.closed {
			return domain.QueuedEvent{}, false
		}

		if q.spill != nil && q.spill.HasPending() && q.refill() {
			continue
		}

		q.cond.Wait()
	}
}

// refill moves the oldest spilled segment into memory. It reports false when
// the spill could not be read or yielded nothing while still claiming to
// hold events, leaving the consumer to wait for new events.
func (q *Queue) refill() bool {
	events, err := q.spill.PopOldest(context.Background())
	if err != nil {
		q.logger.Error("Failed to read spilled events", "error", err)
		return false
	}
	if len(events) == 0 && q.spill.HasPending() {
		q.logger.Warn("Spill reports pending events but returned none")
		return false
	}
	q.items = append(q.items, events...)
	q.metrics.QueueDepth.Set(float64(len(q.items)))
	if !q.spill.HasPending() {
		q.metrics.SpillActive.Set(0)
	}
	q.logger.Info("Restored spilled events", "count", len(events))
	return true
}

// SpillPending moves the events held in memory to the front of the spill so
// they are replayed first on the next start. It returns how many were moved;
// without a spill nothing is moved.
func (q *Queue) SpillPending(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.spill == nil || len(q.items) == 0 {
		return 0, nil
	}
	if err := q.spill.Prepend(ctx, q.items); err != nil {
		return 0, fmt.Errorf("failed to spill pending events: %w", err)
	}

	n := len(q.items)
	q.items = nil
	q.metrics.QueueDepth.Set(0)
	q.metrics.SpilledTotal.Add(float64(n))
	q.metrics.SpillActive.Set(1)
	q.cond.Broadcast()
	return n, nil
}

// Len returns the number of events held in memory.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops accepting events and wakes all waiters.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}
