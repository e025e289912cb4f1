package domain

import (
	"context"
	"strings"
)

// Parser turns raw bytes from one source into entries. Incomplete trailing
// data is kept for the next call.
type Parser interface {
	Feed(data []byte) []Entry
}

// Formatter renders an entry for the outbound transport. Implementations are
// pure functions of their arguments.
type Formatter interface {
	Format(source string, entry Entry) FormattedMessage
}

// MessageSender delivers formatted messages to the collector.
type MessageSender interface {
	Send(ctx context.Context, msg FormattedMessage) error
}

// Signatures prefixing structured payloads on the wire. Payloads without one
// are plain text.
const (
	AppserverSignature = "!!AS "
	RequestSignature   = "!!RQ "
)

// FieldSeparator separates the fields of structured payloads. Separators
// and backslashes inside a field are escaped with a backslash.
const FieldSeparator = '|'

var fieldEscaper = strings.NewReplacer(`\`, `\\`, `|`, `\|`)

// EscapeField makes s safe to place in a single structured payload field.
func EscapeField(s string) string {
	return fieldEscaper.Replace(s)
}

// SplitFields splits a structured payload into at most n fields, undoing
// EscapeField. A backslash not followed by a separator or another backslash
// is kept as is, and the last field keeps any unescaped separators.
func SplitFields(s string, n int) []string {
	var fields []string
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s) && (s[i+1] == '\\' || s[i+1] == FieldSeparator):
			i++
			b.WriteByte(s[i])
		case c == FieldSeparator && len(fields) < n-1:
			fields = append(fields, b.String())
			b.Reset()
		default:
			b.WriteByte(c)
		}
	}
	return append(fields, b.String())
}
