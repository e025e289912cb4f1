package parser

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/V4T54L/logrelay/internal/domain"
	"github.com/V4T54L/logrelay/internal/pkg/options"
)

var tomcatLevelRe = regexp.MustCompile(`\b(DEBUG|INFO|WARN|WARNING|ERROR|SEVERE)[ :]`)

// Tomcat parses catalina.out style logs where a line carrying a level keyword
// starts a record and every following line belongs to it. A record is only
// known to be complete when the next one starts, so the most recent record
// is always held open.
type Tomcat struct {
	lines      lineBuffer
	logger     *slog.Logger
	now        func() time.Time
	timeFormat string

	open   bool
	record []string
}

// NewTomcat creates a Tomcat parser. The optional time_format option is a Go
// time layout matched against the start of the first line.
func NewTomcat(opts options.Options, logger *slog.Logger) (domain.Parser, error) {
	if err := opts.CheckKnown("time_format"); err != nil {
		return nil, err
	}
	return &Tomcat{
		lines:      lineBuffer{logger: logger},
		logger:     logger,
		now:        time.Now,
		timeFormat: opts.String("time_format", ""),
	}, nil
}

func (p *Tomcat) Feed(data []byte) []domain.Entry {
	return p.lines.feed(data, p.parseLine)
}

func (p *Tomcat) parseLine(line string) (*domain.Entry, error) {
	starts := tomcatLevelRe.MatchString(line)

	if !p.open {
		if starts {
			p.open = true
			p.record = append(p.record[:0], line)
		}
		return nil, nil
	}

	if !starts {
		p.record = append(p.record, line)
		return nil, nil
	}

	prev := p.record
	p.record = []string{line}
	return p.build(prev)
}

func (p *Tomcat) build(record []string) (*domain.Entry, error) {
	if len(record) == 0 {
		return nil, fmt.Errorf("empty record")
	}
	first := record[0]
	m := tomcatLevelRe.FindStringSubmatch(first)
	if m == nil {
		return nil, fmt.Errorf("record does not start with a level")
	}
	level := domain.ParseLevel(m[1])

	extra := strings.TrimRight(strings.Join(record[1:], "\n"), "\n")

	timestamp := p.now()
	if p.timeFormat != "" {
		var ok bool
		timestamp, ok = parseTime(first, []string{p.timeFormat}, p.now)
		if !ok {
			p.logger.Debug("unparsable timestamp, using now", "line", first)
		}
	}

	return &domain.Entry{
		Text:      first,
		ExtraText: extra,
		Timestamp: timestamp,
		Level:     level,
		Fields:    domain.AppserverFields{Level: level.String()},
	}, nil
}
