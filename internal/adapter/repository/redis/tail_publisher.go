package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/logrelay/internal/domain"
)

// ErrTailUnavailable is returned by Publish while Redis is marked down.
var ErrTailUnavailable = errors.New("tail stream unavailable")

// TailEntry is one persisted record as mirrored to the tail stream.
type TailEntry struct {
	StreamID string         `json:"-"`
	EventID  string         `json:"event_id,omitempty"`
	Type     string         `json:"type"`
	LogTime  time.Time      `json:"log_time"`
	Priority int            `json:"priority"`
	Host     string         `json:"host"`
	Source   string         `json:"source"`
	Message  string         `json:"message"`
	MsgExtra string         `json:"msg_extra,omitempty"`
	Fields   map[string]any `json:"fields,omitempty"`
}

// TailPublisher mirrors persisted records into a capped Redis stream so that
// operators can follow recent traffic. It implements domain.EntryPublisher.
// Publishing is best effort: while Redis is down, records are skipped rather
// than delaying the writer.
type TailPublisher struct {
	client      *redis.Client
	stream      string
	maxLen      int64
	logger      *slog.Logger
	isAvailable atomic.Bool
}

// NewTailPublisher creates a publisher writing to stream, trimmed to about maxLen entries.
func NewTailPublisher(client *redis.Client, stream string, maxLen int64, logger *slog.Logger) *TailPublisher {
	p := &TailPublisher{
		client: client,
		stream: stream,
		maxLen: maxLen,
		logger: logger.With("component", "tail_publisher"),
	}
	p.isAvailable.Store(true)
	return p
}

// StartHealthCheck pings Redis every interval and flips availability. It
// returns when ctx is cancelled.
func (p *TailPublisher) StartHealthCheck(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Stopping tail stream health check")
			return
		case <-ticker.C:
			if err := p.client.Ping(ctx).Err(); err != nil {
				if p.isAvailable.CompareAndSwap(true, false) {
					p.logger.Error("Redis connection lost", "error", err)
				}
			} else if p.isAvailable.CompareAndSwap(false, true) {
				p.logger.Info("Redis connection recovered")
			}
		}
	}
}

// Available reports whether the last write or ping succeeded.
func (p *TailPublisher) Available() bool {
	return p.isAvailable.Load()
}

func (p *TailPublisher) Publish(ctx context.Context, record *domain.LogRecord) error {
	if !p.isAvailable.Load() {
		return ErrTailUnavailable
	}

	payload, err := json.Marshal(newTailEntry(record))
	if err != nil {
		return fmt.Errorf("failed to marshal tail entry: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		if isNetworkError(err) && p.isAvailable.CompareAndSwap(true, false) {
			p.logger.Error("Redis connection lost during publish", "error", err)
		}
		return fmt.Errorf("failed to XADD to tail stream: %w", err)
	}
	return nil
}

// Recent returns up to count of the newest entries, newest first.
func (p *TailPublisher) Recent(ctx context.Context, count int64) ([]TailEntry, error) {
	msgs, err := p.client.XRevRangeN(ctx, p.stream, "+", "-", count).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read tail stream: %w", err)
	}

	entries := make([]TailEntry, 0, len(msgs))
	for _, msg := range msgs {
		payload, ok := msg.Values["payload"].(string)
		if !ok {
			p.logger.Warn("Invalid message format in tail stream, skipping", "message_id", msg.ID)
			continue
		}
		var e TailEntry
		if err := json.Unmarshal([]byte(payload), &e); err != nil {
			p.logger.Warn("Failed to unmarshal tail entry, skipping", "message_id", msg.ID, "error", err)
			continue
		}
		e.StreamID = msg.ID
		entries = append(entries, e)
	}
	return entries, nil
}

// Len returns the current stream length.
func (p *TailPublisher) Len(ctx context.Context) (int64, error) {
	return p.client.XLen(ctx, p.stream).Result()
}

func newTailEntry(r *domain.LogRecord) TailEntry {
	e := TailEntry{
		EventID:  r.EventID,
		Type:     r.Type.String(),
		LogTime:  r.LogTime,
		Priority: r.Priority,
		Host:     r.HostIP,
		Source:   r.SourceName,
		Message:  r.Message,
		MsgExtra: r.MsgExtra,
	}
	if len(r.Extra) > 0 {
		e.Fields = make(map[string]any, len(r.Extra))
		for _, f := range r.Extra {
			e.Fields[f.Name] = f.Value
		}
	}
	return e
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed)
}
