// Package options holds the prefix-namespaced key/value options attached to a
// configured source (for example "parser.field_level" or
// "formatter.include_traceback").
package options

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Options is a flat set of string options.
type Options map[string]string

// Sub returns the options under prefix with the prefix and its dot removed.
func (o Options) Sub(prefix string) Options {
	out := Options{}
	p := prefix + "."
	for k, v := range o {
		if strings.HasPrefix(k, p) {
			out[strings.TrimPrefix(k, p)] = v
		}
	}
	return out
}

// String returns the option value or def when unset.
func (o Options) String(key, def string) string {
	if v, ok := o[key]; ok {
		return v
	}
	return def
}

// Int returns the option as an integer or def when unset.
func (o Options) Int(key string, def int) (int, error) {
	v, ok := o[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, fmt.Errorf("option %s: %w", key, err)
	}
	return n, nil
}

// Bool accepts 1/yes/true (any case) as true.
func (o Options) Bool(key string, def bool) bool {
	v, ok := o[key]
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "yes", "true", "on":
		return true
	default:
		return false
	}
}

// IntList parses a comma separated list of integers.
func (o Options) IntList(key string, def []int) ([]int, error) {
	v, ok := o[key]
	if !ok {
		return def, nil
	}
	var out []int
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("option %s: %w", key, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// CheckKnown returns an error naming the first option not in allowed.
func (o Options) CheckKnown(allowed ...string) error {
	known := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		known[a] = struct{}{}
	}
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := known[k]; !ok {
			return fmt.Errorf("unsupported option %q (supported: %s)", k, strings.Join(allowed, ", "))
		}
	}
	return nil
}
