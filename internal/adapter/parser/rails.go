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

var (
	railsStartRe = regexp.MustCompile(`Processing [^+(]+\(for ([^ ]+) at ([^)]+)\) \[([^\]]+).`)
	railsEndRe   = regexp.MustCompile(`Completed in ([0-9]+)ms[^|]+\| ([0-9]+)[^\[]+\[([^\]]+)`)
)

const (
	railsTimeLayout = "2006-01-02 15:04:05"

	// URIError is recorded for requests that never completed.
	URIError = "ERROR"
)

type railsState int

const (
	railsIdle railsState = iota
	railsInRequest
	railsInTraceback
	railsTracebackClosed
)

// Rails assembles request blocks from Rails production logs. A block opens
// on a "Processing" line and is emitted on its "Completed in" line, or on a
// "Rendering" line following a blank-line delimited traceback. A block cut
// short by the next "Processing" line is emitted as an aborted request.
type Rails struct {
	lines  lineBuffer
	logger *slog.Logger
	now    func() time.Time
	levels statusLevels

	state     railsState
	start     string
	traceback []string
}

// NewRails creates a Rails parser. Options are as for apache.
func NewRails(opts options.Options, logger *slog.Logger) (domain.Parser, error) {
	if err := opts.CheckKnown("http_ok", "http_warning"); err != nil {
		return nil, err
	}
	levels, err := newStatusLevels(opts)
	if err != nil {
		return nil, err
	}
	return &Rails{lines: lineBuffer{logger: logger}, logger: logger, now: time.Now, levels: levels}, nil
}

func (p *Rails) Feed(data []byte) []domain.Entry {
	return p.lines.feed(data, p.parseLine)
}

func (p *Rails) parseLine(line string) (*domain.Entry, error) {
	if strings.HasPrefix(line, "Processing ") {
		var aborted *domain.Entry
		var err error
		if p.state != railsIdle {
			aborted, err = p.emit(0, 500, URIError)
		}
		p.state = railsInRequest
		p.start = line
		p.traceback = p.traceback[:0]
		return aborted, err
	}

	switch p.state {
	case railsInRequest:
		if m := railsEndRe.FindStringSubmatch(line); m != nil {
			return p.complete(m)
		}
		if line == "" {
			p.state = railsInTraceback
		}
	case railsInTraceback:
		if m := railsEndRe.FindStringSubmatch(line); m != nil {
			return p.complete(m)
		}
		if line == "" {
			if len(p.traceback) > 0 {
				p.state = railsTracebackClosed
			}
			return nil, nil
		}
		p.traceback = append(p.traceback, line)
	case railsTracebackClosed:
		if m := railsEndRe.FindStringSubmatch(line); m != nil {
			return p.complete(m)
		}
		if strings.HasPrefix(line, "Rendering") {
			return p.emit(0, 500, URIError)
		}
		if line != "" {
			p.traceback = append(p.traceback, line)
		}
	}
	return nil, nil
}

func (p *Rails) complete(m []string) (*domain.Entry, error) {
	return p.emit(atoiDefault(m[1], 0), atoiDefault(m[2], 200), m[3])
}

func (p *Rails) emit(msTime, status int, uri string) (*domain.Entry, error) {
	start := p.start
	extra := strings.Join(p.traceback, "\n")
	p.state = railsIdle
	p.start = ""
	p.traceback = p.traceback[:0]

	m := railsStartRe.FindStringSubmatch(start)
	if m == nil {
		return nil, fmt.Errorf("unparsable request line %q", start)
	}
	ip, ts, method := m[1], m[2], m[3]

	timestamp, ok := parseTime(ts, []string{railsTimeLayout}, p.now)
	if !ok {
		p.logger.Debug("unparsable timestamp, using now", "timestamp", ts)
	}

	return &domain.Entry{
		Text:      strings.TrimSpace(start),
		ExtraText: extra,
		Timestamp: timestamp,
		Level:     p.levels.level(status),
		Fields: domain.RequestFields{
			IP:        ip,
			Method:    method,
			UserAgent: UserAgentUnknown,
			Status:    status,
			MsTime:    msTime,
			URI:       uri,
		},
	}, nil
}
