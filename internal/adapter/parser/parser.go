// Package parser turns raw bytes read from a tailed file into entries.
//
// Every parser buffers input until a full line is available, so the entries
// produced never depend on how the byte stream was chunked between Feed
// calls.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/V4T54L/logrelay/internal/domain"
	"github.com/V4T54L/logrelay/internal/pkg/options"
)

// ErrUnknownParser is returned by Registry.New for an unregistered name.
var ErrUnknownParser = errors.New("unknown parser")

// Constructor builds a parser from its "parser." options (prefix removed).
type Constructor func(opts options.Options, logger *slog.Logger) (domain.Parser, error)

// Registry maps parser names to constructors.
type Registry struct {
	ctors map[string]Constructor
}

// NewRegistry returns a registry holding the built-in parsers.
func NewRegistry() *Registry {
	r := &Registry{ctors: make(map[string]Constructor)}
	r.Register("plain", NewPlain)
	r.Register("bracketed", NewBracketed)
	r.Register("glassfish", NewGlassfish)
	r.Register("tomcat", NewTomcat)
	r.Register("apache", NewApache)
	r.Register("rails", NewRails)
	return r
}

// Register adds or replaces a constructor.
func (r *Registry) Register(name string, ctor Constructor) {
	r.ctors[strings.ToLower(name)] = ctor
}

// Names lists the registered parser names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New constructs the named parser. Unknown names and invalid options are
// configuration errors.
func (r *Registry) New(name string, opts options.Options, logger *slog.Logger) (domain.Parser, error) {
	ctor, ok := r.ctors[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownParser, name)
	}
	p, err := ctor(opts, logger.With("parser", name))
	if err != nil {
		return nil, fmt.Errorf("parser %s: %w", name, err)
	}
	return p, nil
}

// parseLineFunc parses one complete line, without its terminator. It returns
// nil when the line did not complete an entry.
type parseLineFunc func(line string) (*domain.Entry, error)

// lineBuffer accumulates fed bytes and hands complete lines to a parser.
type lineBuffer struct {
	buf    []byte
	logger *slog.Logger
}

func (b *lineBuffer) feed(data []byte, parse parseLineFunc) []domain.Entry {
	b.buf = append(b.buf, data...)

	var entries []domain.Entry
	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimSuffix(string(b.buf[:i]), "\r")
		b.buf = b.buf[i+1:]

		entry, err := parse(line)
		if err != nil {
			b.logger.Debug("failed to parse line", "line", line, "error", err)
			continue
		}
		if entry != nil {
			entries = append(entries, *entry)
		}
	}

	if len(b.buf) == 0 {
		b.buf = nil
	} else {
		b.buf = bytes.Clone(b.buf)
	}
	return entries
}

// Plain emits every line verbatim as a PLAIN entry.
type Plain struct {
	lines lineBuffer
	now   func() time.Time
}

// NewPlain creates a Plain parser. It takes no options.
func NewPlain(opts options.Options, logger *slog.Logger) (domain.Parser, error) {
	if err := opts.CheckKnown(); err != nil {
		return nil, err
	}
	return &Plain{lines: lineBuffer{logger: logger}, now: time.Now}, nil
}

func (p *Plain) Feed(data []byte) []domain.Entry {
	return p.lines.feed(data, p.parseLine)
}

func (p *Plain) parseLine(line string) (*domain.Entry, error) {
	return &domain.Entry{Text: line, Timestamp: p.now(), Level: domain.LevelUnknown}, nil
}

// parseTime tries each layout in turn and falls back to now. Layouts are
// matched against a prefix of the same length so trailing sub-second and
// timezone parts are ignored.
func parseTime(s string, layouts []string, now func() time.Time) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		candidate := s
		if len(candidate) > len(layout) {
			candidate = candidate[:len(layout)]
		}
		if t, err := time.Parse(layout, candidate); err == nil {
			return t, true
		}
	}
	return now(), false
}

// statusLevels maps HTTP status codes to levels; unlisted codes are errors.
type statusLevels struct {
	ok      map[int]struct{}
	warning map[int]struct{}
}

func newStatusLevels(opts options.Options) (statusLevels, error) {
	okCodes, err := opts.IntList("http_ok", []int{200, 302})
	if err != nil {
		return statusLevels{}, err
	}
	warnCodes, err := opts.IntList("http_warning", []int{404})
	if err != nil {
		return statusLevels{}, err
	}
	s := statusLevels{ok: make(map[int]struct{}), warning: make(map[int]struct{})}
	for _, c := range okCodes {
		s.ok[c] = struct{}{}
	}
	for _, c := range warnCodes {
		s.warning[c] = struct{}{}
	}
	return s, nil
}

func (s statusLevels) level(status int) domain.Level {
	if _, ok := s.ok[status]; ok {
		return domain.LevelInfo
	}
	if _, ok := s.warning[status]; ok {
		return domain.LevelWarning
	}
	return domain.LevelError
}
