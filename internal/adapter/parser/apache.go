package parser

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/V4T54L/logrelay/internal/domain"
	"github.com/V4T54L/logrelay/internal/pkg/options"
)

var (
	apacheAccessRe = regexp.MustCompile(`^([0-9.]+) - - \[([^\]]+)\] "([^ ]+) ([^ ]+) ([^"]+)" ([0-9-]+) ([0-9-]+) "([^"]+)?" "([^"]+)"`)
	apacheErrorRe  = regexp.MustCompile(`^\[([^\]]+)\] \[([^\]]+)\] \[client ([0-9.]+)\] (.*)`)
)

const (
	apacheAccessTimeLayout = "02/Jan/2006:15:04:05 -0700"
	apacheErrorTimeLayout  = "Mon Jan 02 15:04:05 2006"

	// UserAgentUnknown is recorded when a log line carries no user agent.
	UserAgentUnknown = "UNKNOWN"
)

// Apache parses combined access log lines and error log lines into REQUEST
// entries.
type Apache struct {
	lines  lineBuffer
	logger *slog.Logger
	now    func() time.Time
	levels statusLevels
}

// NewApache creates an Apache parser. Options http_ok and http_warning are
// comma separated status lists.
func NewApache(opts options.Options, logger *slog.Logger) (domain.Parser, error) {
	if err := opts.CheckKnown("http_ok", "http_warning"); err != nil {
		return nil, err
	}
	levels, err := newStatusLevels(opts)
	if err != nil {
		return nil, err
	}
	return &Apache{lines: lineBuffer{logger: logger}, logger: logger, now: time.Now, levels: levels}, nil
}

func (p *Apache) Feed(data []byte) []domain.Entry {
	return p.lines.feed(data, p.parseLine)
}

func (p *Apache) parseLine(line string) (*domain.Entry, error) {
	if m := apacheAccessRe.FindStringSubmatch(line); m != nil {
		return p.accessLine(m), nil
	}
	if m := apacheErrorRe.FindStringSubmatch(line); m != nil {
		return p.errorLine(m), nil
	}
	return nil, fmt.Errorf("line matches neither access nor error format")
}

func (p *Apache) accessLine(m []string) *domain.Entry {
	ip, ts, method, uri, status, size, ua := m[1], m[2], m[3], m[4], m[6], m[7], m[9]

	timestamp, err := time.Parse(apacheAccessTimeLayout, ts)
	if err != nil {
		p.logger.Debug("unparsable timestamp, using now", "timestamp", ts)
		timestamp = p.now()
	}

	fields := domain.RequestFields{
		IP:        ip,
		Method:    method,
		UserAgent: ua,
		Size:      atoiDefault(size, 0),
		Status:    atoiDefault(status, 200),
		URI:       uri,
	}
	return &domain.Entry{
		Text:      uri,
		Timestamp: timestamp,
		Level:     p.levels.level(fields.Status),
		Fields:    fields,
	}
}

func (p *Apache) errorLine(m []string) *domain.Entry {
	ts, ip, msg := m[1], m[3], m[4]

	timestamp, err := time.Parse(apacheErrorTimeLayout, ts)
	if err != nil {
		p.logger.Debug("unparsable timestamp, using now", "timestamp", ts)
		timestamp = p.now()
	}

	status, level := 503, domain.LevelError
	if strings.HasPrefix(msg, "File does not exist:") {
		status, level = 404, domain.LevelWarning
	}

	return &domain.Entry{
		Text:      msg,
		Timestamp: timestamp,
		Level:     level,
		Fields: domain.RequestFields{
			IP:        ip,
			UserAgent: UserAgentUnknown,
			Status:    status,
		},
	}
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return def
	}
	return n
}
