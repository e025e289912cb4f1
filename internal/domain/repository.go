package domain

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Store lookups when no row matches the key.
var ErrNotFound = errors.New("not found")

// Store is the persistence boundary used by the writer. Implementations
// are expected to be wrapped with reconnect-and-retry semantics.
type Store interface {
	// FindHostByIP returns ErrNotFound when the host has never been seen.
	FindHostByIP(ctx context.Context, ip string) (*Host, error)

	// InsertHost persists a new host and fills in its ID.
	InsertHost(ctx context.Context, host *Host) error

	// TouchHost records that the host was seen at host.LastSeenAt.
	TouchHost(ctx context.Context, host *Host) error

	// FindSourceByName returns ErrNotFound when the source has never been seen.
	FindSourceByName(ctx context.Context, name string) (*Source, error)

	// InsertSource persists a new log source and fills in its ID.
	InsertSource(ctx context.Context, source *Source) error

	// InsertLog writes a single log row. Re-inserting an already stored
	// event ID is not an error.
	InsertLog(ctx context.Context, record *LogRecord) error

	Close() error
}

// SpillRepository holds queued events on disk when the in-memory queue is full.
type SpillRepository interface {
	// Write appends an event to the newest segment.
	Write(ctx context.Context, event QueuedEvent) error

	// PopOldest reads and removes the oldest segment, returning its events in order.
	PopOldest(ctx context.Context) ([]QueuedEvent, error)

	// Prepend stores events ahead of everything already spilled, so they are
	// popped first.
	Prepend(ctx context.Context, events []QueuedEvent) error

	// HasPending reports whether any segment holds events.
	HasPending() bool
}

// EntryPublisher mirrors persisted records to a live-tail channel.
type EntryPublisher interface {
	Publish(ctx context.Context, record *LogRecord) error
}
