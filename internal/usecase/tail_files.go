package usecase

import (
	"context"
	"log/slog"
	"time"

	"github.com/V4T54L/logrelay/internal/adapter/metrics"
	"github.com/V4T54L/logrelay/internal/adapter/tracker"
	"github.com/V4T54L/logrelay/internal/domain"
)

// TailerConfig tunes a Tailer.
type TailerConfig struct {
	ReadMax      int
	ReadInterval time.Duration
}

// Tailer follows a set of files from a single goroutine, turning new bytes
// into entries and sending each formatted entry to the collector.
type Tailer struct {
	tracker *tracker.Tracker
	sources []*tracker.FileSource
	sender  domain.MessageSender
	cfg     TailerConfig
	metrics *metrics.TailerMetrics
	logger  *slog.Logger
	wake    <-chan struct{}
}

// NewTailer creates a Tailer. m may be nil.
func NewTailer(tr *tracker.Tracker, sources []*tracker.FileSource, sender domain.MessageSender, cfg TailerConfig, m *metrics.TailerMetrics, logger *slog.Logger) *Tailer {
	return &Tailer{
		tracker: tr,
		sources: sources,
		sender:  sender,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("component", "tailer"),
	}
}

// WakeOn makes an idle Run poll as soon as c delivers instead of waiting out
// the full read interval.
func (t *Tailer) WakeOn(c <-chan struct{}) {
	t.wake = c
}

// Start opens every source at its current end so only new data is sent.
func (t *Tailer) Start() {
	for _, src := range t.sources {
		t.tracker.Open(src)
	}
	t.logger.Info("Tailing sources", "count", len(t.sources))
}

// Run starts the sources and polls them until ctx is cancelled.
func (t *Tailer) Run(ctx context.Context) error {
	t.Start()
	defer t.closeAll()

	for {
		busy := t.Cycle(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if busy {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.wake:
		case <-time.After(t.cfg.ReadInterval):
		}
	}
}

// Cycle makes one pass over all sources and reports whether any data was read.
func (t *Tailer) Cycle(ctx context.Context) bool {
	busy := false
	for _, src := range t.sources {
		if t.tracker.Poll(src) {
			t.rotate(ctx, src)
		}

		data := t.tracker.Read(src, t.cfg.ReadMax)
		if data == nil {
			continue
		}
		busy = true
		t.handle(ctx, src, data)
	}
	return busy
}

// rotate flushes whatever is left in the old handle before switching to the
// file now at the path.
func (t *Tailer) rotate(ctx context.Context, src *tracker.FileSource) {
	if src.IsOpen() {
		for data := t.tracker.Read(src, t.cfg.ReadMax); data != nil; data = t.tracker.Read(src, t.cfg.ReadMax) {
			t.handle(ctx, src, data)
		}
		if t.metrics != nil {
			t.metrics.Rotations.WithLabelValues(src.Name).Inc()
		}
		t.logger.Info("Source rotated, reopening", "source", src.Name, "path", src.Path)
	}
	t.tracker.Reopen(src)
}

func (t *Tailer) handle(ctx context.Context, src *tracker.FileSource, data []byte) {
	entries := src.Parser.Feed(data)
	if t.metrics != nil {
		t.metrics.BytesRead.WithLabelValues(src.Name).Add(float64(len(data)))
		t.metrics.EntriesParsed.WithLabelValues(src.Name).Add(float64(len(entries)))
	}

	for _, entry := range entries {
		msg := src.Formatter.Format(src.Name, entry)
		if err := t.sender.Send(ctx, msg); err != nil {
			t.logger.Warn("Failed to send message", "source", src.Name, "error", err)
		}
	}
}

func (t *Tailer) closeAll() {
	for _, src := range t.sources {
		t.tracker.Close(src)
	}
}
