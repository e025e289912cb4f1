// Package formatter renders parsed entries as the message text sent to the
// collector.
package formatter

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/V4T54L/logrelay/internal/domain"
	"github.com/V4T54L/logrelay/internal/pkg/options"
)

// ErrUnknownFormatter is returned by Registry.New for an unregistered name.
var ErrUnknownFormatter = errors.New("unknown formatter")

// Constructor builds a formatter from its "formatter." options.
type Constructor func(opts options.Options) (domain.Formatter, error)

// Registry maps formatter names to constructors.
type Registry struct {
	ctors map[string]Constructor
}

// NewRegistry returns a registry holding the built-in formatters.
func NewRegistry() *Registry {
	r := &Registry{ctors: make(map[string]Constructor)}
	r.Register("plain", NewPlain)
	r.Register("appserver", NewAppserver)
	r.Register("request", NewRequest)
	return r
}

func (r *Registry) Register(name string, ctor Constructor) {
	r.ctors[strings.ToLower(name)] = ctor
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ctors))
	for n := range r.ctors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New constructs the named formatter.
func (r *Registry) New(name string, opts options.Options) (domain.Formatter, error) {
	ctor, ok := r.ctors[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormatter, name)
	}
	f, err := ctor(opts)
	if err != nil {
		return nil, fmt.Errorf("formatter %s: %w", name, err)
	}
	return f, nil
}

func facility(opts options.Options) (int, error) {
	f, err := opts.Int("facility", domain.DefaultFacility)
	if err != nil {
		return 0, err
	}
	if f < 0 || f > 31 {
		return 0, fmt.Errorf("facility %d out of range 0-31", f)
	}
	return f, nil
}

// Plain renders "<source> - <text>", optionally rewriting the text first.
type Plain struct {
	facility    int
	transform   *regexp.Regexp
	replacement string
}

var backrefRe = regexp.MustCompile(`\\(\d+)`)

// NewPlain creates a Plain formatter. The transform option has the form
// "<replacement>|<regex>"; \1 style back-references are accepted in the
// replacement.
func NewPlain(opts options.Options) (domain.Formatter, error) {
	if err := opts.CheckKnown("facility", "transform"); err != nil {
		return nil, err
	}
	fac, err := facility(opts)
	if err != nil {
		return nil, err
	}
	p := &Plain{facility: fac}

	if raw, ok := opts["transform"]; ok {
		repl, expr, found := strings.Cut(raw, "|")
		if !found {
			return nil, fmt.Errorf("transform %q must be <replacement>|<regex>", raw)
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("transform regex: %w", err)
		}
		p.transform = re
		p.replacement = backrefRe.ReplaceAllString(repl, "$${$1}")
	}
	return p, nil
}

func (p *Plain) Format(source string, entry domain.Entry) domain.FormattedMessage {
	text := entry.Text
	if p.transform != nil {
		text = p.transform.ReplaceAllString(text, p.replacement)
	}
	return domain.FormattedMessage{
		Text:     source + " - " + text,
		Priority: entry.Level.Priority(),
		Facility: p.facility,
	}
}

// Appserver renders "!!AS <source>|<LEVEL>|<text>[|<extra>]" with field
// separators inside values escaped.
type Appserver struct {
	facility         int
	includeTraceback bool
}

// NewAppserver creates an Appserver formatter. Extra text is only included
// when include_traceback is set.
func NewAppserver(opts options.Options) (domain.Formatter, error) {
	if err := opts.CheckKnown("facility", "include_traceback"); err != nil {
		return nil, err
	}
	fac, err := facility(opts)
	if err != nil {
		return nil, err
	}
	return &Appserver{facility: fac, includeTraceback: opts.Bool("include_traceback", false)}, nil
}

func (a *Appserver) Format(source string, entry domain.Entry) domain.FormattedMessage {
	var b strings.Builder
	b.WriteString(domain.AppserverSignature)
	b.WriteString(domain.EscapeField(source))
	b.WriteByte(domain.FieldSeparator)
	b.WriteString(entry.Level.String())
	b.WriteByte(domain.FieldSeparator)
	b.WriteString(domain.EscapeField(entry.Text))
	if a.includeTraceback && entry.ExtraText != "" {
		b.WriteByte(domain.FieldSeparator)
		b.WriteString(domain.EscapeField(entry.ExtraText))
	}
	return domain.FormattedMessage{Text: b.String(), Priority: entry.Level.Priority(), Facility: a.facility}
}

// Request renders request entries as
// "!!RQ <source>|<LEVEL>|<ip>|<method>|<ua>|<size>|<status>|<ms>|<uri>|<text>[|<extra>]".
// Entries without request fields are sent with empty request values.
type Request struct {
	facility         int
	includeTraceback bool
}

func NewRequest(opts options.Options) (domain.Formatter, error) {
	if err := opts.CheckKnown("facility", "include_traceback"); err != nil {
		return nil, err
	}
	fac, err := facility(opts)
	if err != nil {
		return nil, err
	}
	return &Request{facility: fac, includeTraceback: opts.Bool("include_traceback", false)}, nil
}

func (r *Request) Format(source string, entry domain.Entry) domain.FormattedMessage {
	f, ok := entry.Fields.(domain.RequestFields)
	if !ok {
		f = domain.RequestFields{Status: 200}
	}
	parts := []string{
		source,
		entry.Level.String(),
		f.IP,
		f.Method,
		f.UserAgent,
		strconv.Itoa(f.Size),
		strconv.Itoa(f.Status),
		strconv.Itoa(f.MsTime),
		f.URI,
		entry.Text,
	}
	if r.includeTraceback && entry.ExtraText != "" {
		parts = append(parts, entry.ExtraText)
	}
	for i, part := range parts {
		parts[i] = domain.EscapeField(part)
	}
	return domain.FormattedMessage{
		Text:     domain.RequestSignature + strings.Join(parts, string(domain.FieldSeparator)),
		Priority: entry.Level.Priority(),
		Facility: r.facility,
	}
}
