package pii

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/V4T54L/logrelay/internal/domain"
)

const RedactedPlaceholder = "[REDACTED]"

// Redactor masks the values of sensitive parameters in log text, such as
// "password=hunter2" in a query string or "token": "abc" in a JSON body.
type Redactor struct {
	pairPattern *regexp.Regexp // key=value
	jsonPattern *regexp.Regexp // "key": "value"
	logger      *slog.Logger
}

// NewRedactor creates a Redactor for the given parameter names, matched
// case-insensitively. With no names it is a no-op.
func NewRedactor(params []string, logger *slog.Logger) *Redactor {
	r := &Redactor{logger: logger.With("component", "pii_redactor")}

	quoted := make([]string, 0, len(params))
	for _, p := range params {
		if p = strings.TrimSpace(p); p != "" {
			quoted = append(quoted, regexp.QuoteMeta(p))
		}
	}
	if len(quoted) == 0 {
		return r
	}

	names := strings.Join(quoted, "|")
	r.pairPattern = regexp.MustCompile(`(?i)\b(` + names + `)=([^&\s;,"']+)`)
	r.jsonPattern = regexp.MustCompile(`(?i)"(` + names + `)"(\s*:\s*)"[^"]*"`)
	return r
}

// Redact masks sensitive values in the record's message, extra text and
// string extra fields, setting record.Redacted when anything changed.
func (r *Redactor) Redact(record *domain.LogRecord) {
	if r.pairPattern == nil {
		return
	}

	changed := false
	record.Message = r.redactText(record.Message, &changed)
	record.MsgExtra = r.redactText(record.MsgExtra, &changed)
	for i, f := range record.Extra {
		if s, ok := f.Value.(string); ok {
			record.Extra[i].Value = r.redactText(s, &changed)
		}
	}

	if changed {
		record.Redacted = true
		r.logger.Debug("Redacted sensitive parameters", "event_id", record.EventID)
	}
}

func (r *Redactor) redactText(s string, changed *bool) string {
	if s == "" {
		return s
	}
	out := r.pairPattern.ReplaceAllString(s, "${1}="+RedactedPlaceholder)
	out = r.jsonPattern.ReplaceAllString(out, `"${1}"${2}"`+RedactedPlaceholder+`"`)
	if out != s {
		*changed = true
	}
	return out
}
