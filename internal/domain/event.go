package domain

import "time"

// FormattedMessage is an entry rendered for the syslog transport.
type FormattedMessage struct {
	Text     string
	Priority int
	Facility int
}

// QueuedEvent is a typed entry received from the network and awaiting persistence.
type QueuedEvent struct {
	ID         string    `json:"event_id"`
	HostIP     string    `json:"host_ip"`
	SourceName string    `json:"source_name"`
	Facility   int       `json:"facility"`
	Priority   int       `json:"priority"`
	ReceivedAt time.Time `json:"received_at"`
	Entry      Entry     `json:"entry"`
}

// Host is the persisted identity of a sending machine, keyed by IP.
type Host struct {
	ID         int64
	IP         string
	Name       string
	LastSeenAt time.Time
}

// Source is the persisted identity of a named log source.
type Source struct {
	ID   int64
	Name string
}

// LogRecord is the row written to the logs table for one event.
type LogRecord struct {
	EventID  string
	Type     EntryType
	LogTime  time.Time
	Facility int
	Priority int
	Message  string
	MsgExtra string
	HostID   int64
	SourceID int64
	Extra    []FieldValue
	Redacted bool

	// Natural keys, kept for the live-tail mirror.
	HostIP     string
	SourceName string
}
