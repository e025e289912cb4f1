package syslog

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/V4T54L/logrelay/internal/domain"
)

// UnknownSource names plain messages that carry no "<source> - " prefix.
const UnknownSource = "unknown"

// BuildEntry parses a classified payload body into an entry and the name of
// the source that produced it. Levels missing from the body are derived from
// the datagram priority.
func BuildEntry(t domain.EntryType, body string, priority int, receivedAt time.Time) (domain.Entry, string, error) {
	body = sanitize(body)
	switch t {
	case domain.EntryAppserver:
		return appserverEntry(body, priority, receivedAt)
	case domain.EntryRequest:
		return requestEntry(body, priority, receivedAt)
	default:
		entry, source := plainEntry(body, priority, receivedAt)
		return entry, source, nil
	}
}

// appserverEntry parses "<source>|<LEVEL>|<text>[|<extra>]".
func appserverEntry(body string, priority int, receivedAt time.Time) (domain.Entry, string, error) {
	parts := domain.SplitFields(body, 4)
	if len(parts) < 3 {
		return domain.Entry{}, "", fmt.Errorf("appserver payload has %d fields, need at least 3", len(parts))
	}
	source := strings.TrimSpace(parts[0])
	levelName := strings.ToUpper(strings.TrimSpace(parts[1]))

	entry := domain.Entry{
		Text:      parts[2],
		Timestamp: receivedAt,
		Level:     levelOrPriority(levelName, priority),
		Fields:    domain.AppserverFields{Source: source, Level: levelName},
	}
	if len(parts) == 4 {
		entry.ExtraText = parts[3]
	}
	return entry, sourceOrUnknown(source), nil
}

// requestEntry parses
// "<source>|<LEVEL>|<ip>|<method>|<ua>|<size>|<status>|<ms>|<uri>|<text>[|<extra>]".
func requestEntry(body string, priority int, receivedAt time.Time) (domain.Entry, string, error) {
	parts := domain.SplitFields(body, 11)
	if len(parts) < 10 {
		return domain.Entry{}, "", fmt.Errorf("request payload has %d fields, need at least 10", len(parts))
	}
	source := strings.TrimSpace(parts[0])

	entry := domain.Entry{
		Text:      parts[9],
		Timestamp: receivedAt,
		Level:     levelOrPriority(strings.TrimSpace(parts[1]), priority),
		Fields: domain.RequestFields{
			IP:        parts[2],
			Method:    parts[3],
			UserAgent: parts[4],
			Size:      atoi(parts[5], 0),
			Status:    atoi(parts[6], 200),
			MsTime:    atoi(parts[7], 0),
			URI:       parts[8],
		},
	}
	if len(parts) == 11 {
		entry.ExtraText = parts[10]
	}
	return entry, sourceOrUnknown(source), nil
}

// plainEntry takes the source from a leading "<source> - " when the source
// contains no spaces.
func plainEntry(body string, priority int, receivedAt time.Time) (domain.Entry, string) {
	source, text := UnknownSource, body
	if name, rest, ok := strings.Cut(body, " - "); ok && name != "" && !strings.ContainsAny(name, " \t") {
		source, text = name, rest
	}
	return domain.Entry{
		Text:      text,
		Timestamp: receivedAt,
		Level:     domain.LevelFromPriority(priority),
	}, source
}

// sanitize makes a payload storable as text: NUL bytes are dropped and
// invalid UTF-8 sequences replaced.
func sanitize(s string) string {
	if strings.IndexByte(s, 0) >= 0 {
		s = strings.ReplaceAll(s, "\x00", "")
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}

func levelOrPriority(name string, priority int) domain.Level {
	if l := domain.ParseLevel(name); l != domain.LevelUnknown {
		return l
	}
	return domain.LevelFromPriority(priority)
}

func sourceOrUnknown(s string) string {
	if s == "" {
		return UnknownSource
	}
	return s
}

func atoi(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}
