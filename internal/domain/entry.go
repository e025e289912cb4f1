package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Level is the severity of an entry. Known levels are ordered
// DEBUG < INFO < WARNING < ERROR; UNKNOWN sits outside that order.
type Level int

const (
	LevelUnknown Level = iota
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
)

// Syslog priorities used on the wire for each level.
const (
	PriorityError   = 3
	PriorityWarning = 4
	PriorityInfo    = 6
	PriorityDebug   = 7
)

// DefaultFacility is used when a source does not configure one.
const DefaultFacility = 3

var levelNames = map[string]Level{
	"FINEST":  LevelDebug,
	"FINE":    LevelDebug,
	"DEBUG":   LevelDebug,
	"INFO":    LevelInfo,
	"WARN":    LevelWarning,
	"WARNING": LevelWarning,
	"ERROR":   LevelError,
	"SEVERE":  LevelError,
}

// ParseLevel maps a level keyword to a Level. Unrecognised keywords yield LevelUnknown.
func ParseLevel(s string) Level {
	if l, ok := levelNames[strings.ToUpper(strings.TrimSpace(s))]; ok {
		return l
	}
	return LevelUnknown
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Priority returns the syslog priority carried on the wire for the level.
func (l Level) Priority() int {
	switch l {
	case LevelDebug:
		return PriorityDebug
	case LevelWarning:
		return PriorityWarning
	case LevelError:
		return PriorityError
	default:
		return PriorityInfo
	}
}

// LevelFromPriority is the inverse of Level.Priority for datagrams that carry
// no level of their own.
func LevelFromPriority(p int) Level {
	switch {
	case p == PriorityDebug:
		return LevelDebug
	case p == PriorityInfo || p == 5:
		return LevelInfo
	case p == PriorityWarning:
		return LevelWarning
	case p >= 0 && p <= PriorityError:
		return LevelError
	default:
		return LevelUnknown
	}
}

// EntryType tags the shape of an entry's extra fields.
type EntryType int

const (
	EntryPlain EntryType = iota
	EntryRequest
	EntryAppserver
)

func (t EntryType) String() string {
	switch t {
	case EntryRequest:
		return "request"
	case EntryAppserver:
		return "appserver"
	default:
		return "plain"
	}
}

// FieldKind is the storage type of one extra field.
type FieldKind int

const (
	KindString FieldKind = iota
	KindInt
)

// FieldSpec names one slot of a type's extra-field schema.
type FieldSpec struct {
	Name string
	Kind FieldKind
}

// FieldValue is a single extra field with its value.
type FieldValue struct {
	Name  string
	Value any
}

var (
	requestSchema = []FieldSpec{
		{"re_ip", KindString},
		{"re_method", KindString},
		{"re_user_agent", KindString},
		{"re_size", KindInt},
		{"re_status", KindInt},
		{"re_ms_time", KindInt},
		{"re_uri", KindString},
	}
	appserverSchema = []FieldSpec{
		{"as_source", KindString},
		{"as_level", KindString},
	}
)

// Schema returns the ordered extra-field schema declared for an entry type.
func Schema(t EntryType) []FieldSpec {
	switch t {
	case EntryRequest:
		return requestSchema
	case EntryAppserver:
		return appserverSchema
	default:
		return nil
	}
}

// Fields is the closed set of typed extra-field variants. Only RequestFields
// and AppserverFields implement it; plain entries carry none.
type Fields interface {
	Type() EntryType
	Values() []FieldValue
	isFields()
}

// RequestFields are the extra fields of a REQUEST entry.
type RequestFields struct {
	IP        string `json:"ip"`
	Method    string `json:"method"`
	UserAgent string `json:"user_agent"`
	Size      int    `json:"size"`
	Status    int    `json:"status"`
	MsTime    int    `json:"ms_time"`
	URI       string `json:"uri"`
}

func (RequestFields) Type() EntryType { return EntryRequest }
func (RequestFields) isFields()       {}

func (f RequestFields) Values() []FieldValue {
	return []FieldValue{
		{"re_ip", f.IP},
		{"re_method", f.Method},
		{"re_user_agent", f.UserAgent},
		{"re_size", f.Size},
		{"re_status", f.Status},
		{"re_ms_time", f.MsTime},
		{"re_uri", f.URI},
	}
}

// AppserverFields are the extra fields of an APPSERVER entry.
type AppserverFields struct {
	Source string `json:"source"`
	Level  string `json:"level"`
}

func (AppserverFields) Type() EntryType { return EntryAppserver }
func (AppserverFields) isFields()       {}

func (f AppserverFields) Values() []FieldValue {
	return []FieldValue{
		{"as_source", f.Source},
		{"as_level", f.Level},
	}
}

// Entry is the normalized representation of one log record.
type Entry struct {
	Text      string
	ExtraText string
	Timestamp time.Time
	Level     Level
	Fields    Fields
}

// Type derives the entry type from its field variant.
func (e Entry) Type() EntryType {
	if e.Fields == nil {
		return EntryPlain
	}
	return e.Fields.Type()
}

// ExtraValues returns the ordered extra fields; empty for plain entries.
func (e Entry) ExtraValues() []FieldValue {
	if e.Fields == nil {
		return nil
	}
	return e.Fields.Values()
}

type entryJSON struct {
	Text      string          `json:"text"`
	ExtraText string          `json:"extra_text,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Level     Level           `json:"level"`
	Type      EntryType       `json:"type"`
	Fields    json.RawMessage `json:"fields,omitempty"`
}

// MarshalJSON encodes the field variant alongside its type tag.
func (e Entry) MarshalJSON() ([]byte, error) {
	out := entryJSON{
		Text:      e.Text,
		ExtraText: e.ExtraText,
		Timestamp: e.Timestamp,
		Level:     e.Level,
		Type:      e.Type(),
	}
	if e.Fields != nil {
		raw, err := json.Marshal(e.Fields)
		if err != nil {
			return nil, err
		}
		out.Fields = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores the field variant named by the type tag.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var in entryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	e.Text = in.Text
	e.ExtraText = in.ExtraText
	e.Timestamp = in.Timestamp
	e.Level = in.Level
	e.Fields = nil

	switch in.Type {
	case EntryPlain:
	case EntryRequest:
		var f RequestFields
		if err := json.Unmarshal(in.Fields, &f); err != nil {
			return fmt.Errorf("decode request fields: %w", err)
		}
		e.Fields = f
	case EntryAppserver:
		var f AppserverFields
		if err := json.Unmarshal(in.Fields, &f); err != nil {
			return fmt.Errorf("decode appserver fields: %w", err)
		}
		e.Fields = f
	default:
		return fmt.Errorf("unknown entry type %d", in.Type)
	}
	return nil
}
