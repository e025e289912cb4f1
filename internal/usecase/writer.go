package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/V4T54L/logrelay/internal/adapter/cache"
	"github.com/V4T54L/logrelay/internal/adapter/metrics"
	"github.com/V4T54L/logrelay/internal/adapter/pii"
	"github.com/V4T54L/logrelay/internal/domain"
)

// ErrWriterInitialization is returned by Run when the store cannot be reached
// on start. No events are processed in that case.
var ErrWriterInitialization = errors.New("writer initialization failed")

// WriterState is the lifecycle phase of a Writer.
type WriterState int32

const (
	StateInitializing WriterState = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s WriterState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	default:
		return "stopped"
	}
}

// EventQueue is the consumer side of the collector queue.
type EventQueue interface {
	// Dequeue blocks until an event is available, or returns false once the
	// queue is closed and drained.
	Dequeue() (domain.QueuedEvent, bool)
	Len() int
	Close()
}

// StoreConnector opens the store the writer persists into.
type StoreConnector func(ctx context.Context) (domain.Store, error)

// WriterConfig tunes a Writer.
type WriterConfig struct {
	CacheSize         int
	HostTouchInterval time.Duration
}

// Writer consumes queued events one at a time and persists them, resolving
// host and source identities through bounded caches. A failure on one event
// is logged and the event dropped; it never stops the loop.
type Writer struct {
	queue     EventQueue
	connect   StoreConnector
	cfg       WriterConfig
	redactor  *pii.Redactor
	publisher domain.EntryPublisher
	metrics   *metrics.CollectorMetrics
	logger    *slog.Logger

	state    atomic.Int32
	stopOnce sync.Once

	store domain.Store

	mu      sync.Mutex // guards the cache pointers for Stats
	hosts   *cache.Identity[*domain.Host]
	sources *cache.Identity[*domain.Source]
}

// NewWriter creates a Writer. redactor and publisher may be nil.
func NewWriter(queue EventQueue, connect StoreConnector, cfg WriterConfig, redactor *pii.Redactor, publisher domain.EntryPublisher, m *metrics.CollectorMetrics, logger *slog.Logger) *Writer {
	return &Writer{
		queue:     queue,
		connect:   connect,
		cfg:       cfg,
		redactor:  redactor,
		publisher: publisher,
		metrics:   m,
		logger:    logger.With("component", "writer"),
	}
}

// State returns the current lifecycle phase.
func (w *Writer) State() WriterState {
	return WriterState(w.state.Load())
}

// WriterStats is a point-in-time view of a Writer for the admin server.
type WriterStats struct {
	State      string         `json:"state"`
	QueueDepth int            `json:"queue_depth"`
	Caches     map[string]int `json:"caches"`
}

// Stats reports the writer state, the number of events held in memory and the
// size of each identity cache.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	caches := make(map[string]int, 2)
	if w.hosts != nil {
		caches[w.hosts.Name()] = w.hosts.Len()
	}
	if w.sources != nil {
		caches[w.sources.Name()] = w.sources.Len()
	}
	return WriterStats{
		State:      w.State().String(),
		QueueDepth: w.queue.Len(),
		Caches:     caches,
	}
}

// Run connects to the store and processes events until Stop is called and
// the in-memory queue is drained. ctx bounds every store call; cancelling
// it aborts retries of the event in flight.
func (w *Writer) Run(ctx context.Context) error {
	if err := w.initialize(ctx); err != nil {
		w.state.Store(int32(StateStopped))
		w.logger.Error("Writer failed to initialize", "error", err)
		return fmt.Errorf("%w: %v", ErrWriterInitialization, err)
	}
	// Stop may have been called while connecting.
	w.state.CompareAndSwap(int32(StateInitializing), int32(StateRunning))
	w.logger.Info("Writer started", "cache_size", w.cfg.CacheSize)

	defer func() {
		if err := w.store.Close(); err != nil {
			w.logger.Warn("Failed to close store", "error", err)
		}
		w.state.Store(int32(StateStopped))
		w.logger.Info("Writer stopped")
	}()

	for {
		event, ok := w.queue.Dequeue()
		if !ok {
			return nil
		}
		w.metrics.QueueDepth.Set(float64(w.queue.Len()))
		w.process(ctx, event)
	}
}

// Stop closes the queue. Run keeps going until the events already held in
// memory are persisted.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() {
		if !w.state.CompareAndSwap(int32(StateRunning), int32(StateDraining)) {
			w.state.CompareAndSwap(int32(StateInitializing), int32(StateDraining))
		}
		w.logger.Info("Writer draining", "pending", w.queue.Len())
		w.queue.Close()
	})
}

func (w *Writer) initialize(ctx context.Context) error {
	hosts, err := cache.NewIdentity[*domain.Host]("hosts", w.cfg.CacheSize, w.metrics.CacheHits, w.metrics.CacheMisses)
	if err != nil {
		return err
	}
	sources, err := cache.NewIdentity[*domain.Source]("sources", w.cfg.CacheSize, w.metrics.CacheHits, w.metrics.CacheMisses)
	if err != nil {
		return err
	}

	store, err := w.connect(ctx)
	if err != nil {
		return err
	}

	w.store = store
	w.mu.Lock()
	w.hosts = hosts
	w.sources = sources
	w.mu.Unlock()
	return nil
}

func (w *Writer) process(ctx context.Context, event domain.QueuedEvent) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			w.metrics.EventsTotal.WithLabelValues("failed").Inc()
			w.logger.Error("Panic while persisting event, dropping it",
				"event_id", event.ID, "host", event.HostIP, "source", event.SourceName,
				"panic", r, "stack", string(debug.Stack()))
		}
	}()

	if err := w.persist(ctx, event); err != nil {
		w.metrics.EventsTotal.WithLabelValues("failed").Inc()
		w.logger.Error("Failed to persist event, dropping it",
			"event_id", event.ID, "host", event.HostIP, "source", event.SourceName,
			"type", event.Entry.Type().String(), "error", err)
		return
	}

	w.metrics.EventsTotal.WithLabelValues("persisted").Inc()
	w.metrics.PersistDuration.Observe(time.Since(start).Seconds())
}

func (w *Writer) persist(ctx context.Context, event domain.QueuedEvent) error {
	host, err := w.resolveHost(ctx, event.HostIP, event.ReceivedAt)
	if err != nil {
		return err
	}
	source, err := w.resolveSource(ctx, event.SourceName)
	if err != nil {
		return err
	}

	record := &domain.LogRecord{
		EventID:    event.ID,
		Type:       event.Entry.Type(),
		LogTime:    event.Entry.Timestamp,
		Facility:   event.Facility,
		Priority:   event.Priority,
		Message:    event.Entry.Text,
		MsgExtra:   event.Entry.ExtraText,
		HostID:     host.ID,
		SourceID:   source.ID,
		Extra:      event.Entry.ExtraValues(),
		HostIP:     host.IP,
		SourceName: source.Name,
	}
	if record.LogTime.IsZero() {
		record.LogTime = event.ReceivedAt
	}
	if w.redactor != nil {
		w.redactor.Redact(record)
	}

	if err := w.store.InsertLog(ctx, record); err != nil {
		return err
	}

	if w.publisher != nil {
		if err := w.publisher.Publish(ctx, record); err != nil {
			w.logger.Debug("Failed to publish to tail stream", "event_id", event.ID, "error", err)
		}
	}
	return nil
}

func (w *Writer) resolveHost(ctx context.Context, ip string, seenAt time.Time) (*domain.Host, error) {
	host, ok := w.hosts.Get(ip)
	if !ok {
		found, err := w.store.FindHostByIP(ctx, ip)
		switch {
		case err == nil:
			host = found
		case errors.Is(err, domain.ErrNotFound):
			host = &domain.Host{IP: ip, Name: ip, LastSeenAt: seenAt}
			if err := w.store.InsertHost(ctx, host); err != nil {
				return nil, err
			}
			w.logger.Info("Registered new host", "ip", ip, "host_id", host.ID)
		default:
			return nil, err
		}
		w.hosts.Add(ip, host)
	}

	if seenAt.Sub(host.LastSeenAt) >= w.cfg.HostTouchInterval {
		host.LastSeenAt = seenAt
		if err := w.store.TouchHost(ctx, host); err != nil {
			w.logger.Warn("Failed to update host last seen time", "ip", ip, "error", err)
		}
	}
	return host, nil
}

func (w *Writer) resolveSource(ctx context.Context, name string) (*domain.Source, error) {
	if source, ok := w.sources.Get(name); ok {
		return source, nil
	}

	source, err := w.store.FindSourceByName(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		source = &domain.Source{Name: name}
		if err := w.store.InsertSource(ctx, source); err != nil {
			return nil, err
		}
		w.logger.Info("Registered new source", "name", name, "source_id", source.ID)
	} else if err != nil {
		return nil, err
	}

	w.sources.Add(name, source)
	return source, nil
}
