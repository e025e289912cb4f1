package syslog

import (
	"strings"

	"github.com/V4T54L/logrelay/internal/domain"
)

// Rule classifies payloads starting with Signature as Type.
type Rule struct {
	Signature string
	Type      domain.EntryType
}

// DefaultRules recognise the appserver and request signatures.
var DefaultRules = []Rule{
	{Signature: domain.AppserverSignature, Type: domain.EntryAppserver},
	{Signature: domain.RequestSignature, Type: domain.EntryRequest},
}

// Classifier applies an ordered rule list; the first matching rule wins and
// payloads matching none are plain.
type Classifier struct {
	rules []Rule
}

func NewClassifier(rules []Rule) *Classifier {
	return &Classifier{rules: append([]Rule(nil), rules...)}
}

// Classify returns the payload type and the payload with its signature removed.
func (c *Classifier) Classify(payload string) (domain.EntryType, string) {
	for _, r := range c.rules {
		if strings.HasPrefix(payload, r.Signature) {
			return r.Type, payload[len(r.Signature):]
		}
	}
	return domain.EntryPlain, payload
}
