package parser

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/V4T54L/logrelay/internal/domain"
	"github.com/V4T54L/logrelay/internal/pkg/options"
)

var bracketedTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var bracketedOptions = []string{
	"field_time", "field_level", "field_text", "field_extra", "delimiter", "max_lines",
}

// Bracketed parses records that open with "[" and close on a line ending in
// "]", possibly spanning several lines. A new timestamped record seen while
// buffering replaces an unterminated one. A record is split on a delimiter and
// its fields mapped to timestamp, level, text and extra text by index.
type Bracketed struct {
	lines  lineBuffer
	logger *slog.Logger
	now    func() time.Time

	open, close string
	delimiter   string
	fieldTime   int
	fieldLevel  int
	fieldText   int
	fieldExtra  int // negative for none
	maxLines    int

	buffering bool
	record    []string
}

type bracketedDefaults struct {
	open, close              string
	time, level, text, extra int
}

// NewBracketed creates a parser for "[time|LEVEL|...|text|extra]" records.
func NewBracketed(opts options.Options, logger *slog.Logger) (domain.Parser, error) {
	return newBracketed(opts, logger, bracketedDefaults{
		open: "[", close: "]", time: 0, level: 1, text: 3, extra: 4,
	})
}

// NewGlassfish creates a parser for Glassfish "[#|...|#]" server logs.
func NewGlassfish(opts options.Options, logger *slog.Logger) (domain.Parser, error) {
	return newBracketed(opts, logger, bracketedDefaults{
		open: "[#", close: "#]", time: 1, level: 2, text: 6, extra: -1,
	})
}

func newBracketed(opts options.Options, logger *slog.Logger, def bracketedDefaults) (*Bracketed, error) {
	if err := opts.CheckKnown(bracketedOptions...); err != nil {
		return nil, err
	}

	p := &Bracketed{
		lines:     lineBuffer{logger: logger},
		logger:    logger,
		now:       time.Now,
		open:      def.open,
		close:     def.close,
		delimiter: opts.String("delimiter", "|"),
	}
	if p.delimiter == "" {
		return nil, fmt.Errorf("option delimiter must not be empty")
	}

	var err error
	if p.fieldTime, err = opts.Int("field_time", def.time); err != nil {
		return nil, err
	}
	if p.fieldLevel, err = opts.Int("field_level", def.level); err != nil {
		return nil, err
	}
	if p.fieldText, err = opts.Int("field_text", def.text); err != nil {
		return nil, err
	}
	if p.fieldExtra, err = opts.Int("field_extra", def.extra); err != nil {
		return nil, err
	}
	if p.maxLines, err = opts.Int("max_lines", 1000); err != nil {
		return nil, err
	}
	if p.fieldTime < 0 || p.fieldLevel < 0 || p.fieldText < 0 {
		return nil, fmt.Errorf("field indexes must not be negative")
	}
	if p.maxLines <= 0 {
		return nil, fmt.Errorf("option max_lines must be positive")
	}
	return p, nil
}

func (p *Bracketed) Feed(data []byte) []domain.Entry {
	return p.lines.feed(data, p.parseLine)
}

func (p *Bracketed) parseLine(line string) (*domain.Entry, error) {
	if p.buffering {
		if p.startsRecord(line) {
			p.logger.Debug("discarding unterminated record", "lines", len(p.record))
			p.reset()
			return p.begin(line)
		}
		p.record = append(p.record, line)
		if strings.HasSuffix(line, p.close) {
			return p.finish()
		}
		if len(p.record) > p.maxLines {
			p.logger.Warn("discarding unterminated record", "lines", len(p.record))
			p.reset()
		}
		return nil, nil
	}

	if !strings.HasPrefix(line, p.open) {
		return nil, nil
	}
	return p.begin(line)
}

func (p *Bracketed) begin(line string) (*domain.Entry, error) {
	p.record = append(p.record[:0], line)
	if strings.HasSuffix(line, p.close) {
		return p.finish()
	}
	p.buffering = true
	return nil, nil
}

// startsRecord reports whether a line read while buffering is the opening of
// a new record rather than a continuation: it carries the open delimiter and
// a parsable timestamp in the time field.
func (p *Bracketed) startsRecord(line string) bool {
	if !strings.HasPrefix(line, p.open) {
		return false
	}
	fields := strings.SplitN(strings.TrimPrefix(line, p.open), p.delimiter, p.fieldTime+2)
	if p.fieldTime >= len(fields) {
		return false
	}
	_, ok := parseTime(fields[p.fieldTime], bracketedTimeLayouts, p.now)
	return ok
}

func (p *Bracketed) reset() {
	p.buffering = false
	p.record = p.record[:0]
}

func (p *Bracketed) finish() (*domain.Entry, error) {
	text := strings.Join(p.record, "\n")
	p.reset()

	text = strings.TrimPrefix(text, p.open)
	text = strings.TrimSuffix(text, p.close)
	fields := strings.Split(text, p.delimiter)

	field := func(i int) (string, error) {
		if i >= len(fields) {
			return "", fmt.Errorf("record has %d fields, need field %d", len(fields), i)
		}
		return fields[i], nil
	}

	ts, err := field(p.fieldTime)
	if err != nil {
		return nil, err
	}
	levelName, err := field(p.fieldLevel)
	if err != nil {
		return nil, err
	}
	msg, err := field(p.fieldText)
	if err != nil {
		return nil, err
	}
	var extra string
	if p.fieldExtra >= 0 && p.fieldExtra < len(fields) {
		extra = fields[p.fieldExtra]
	}

	timestamp, ok := parseTime(ts, bracketedTimeLayouts, p.now)
	if !ok {
		p.logger.Debug("unparsable timestamp, using now", "timestamp", ts)
	}
	level := domain.ParseLevel(levelName)

	return &domain.Entry{
		Text:      msg,
		ExtraText: extra,
		Timestamp: timestamp,
		Level:     level,
		Fields:    domain.AppserverFields{Level: level.String()},
	}, nil
}
