package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/V4T54L/logrelay/internal/pkg/options"
)

// SourceConfig describes one watched file.
type SourceConfig struct {
	Name      string            `yaml:"name"`
	Path      string            `yaml:"path"`
	Parser    string            `yaml:"parser"`
	Formatter string            `yaml:"formatter"`
	Facility  *int              `yaml:"facility"`
	Options   map[string]string `yaml:"options"`
}

// ParserOptions returns the "parser." options with the prefix removed.
func (s SourceConfig) ParserOptions() options.Options {
	return options.Options(s.Options).Sub("parser")
}

// FormatterOptions returns the "formatter." options with the prefix removed.
func (s SourceConfig) FormatterOptions() options.Options {
	return options.Options(s.Options).Sub("formatter")
}

type sourcesFile struct {
	Sources []SourceConfig `yaml:"sources"`
}

// LoadSources reads the YAML sources file at path.
func LoadSources(path string) ([]SourceConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sources file %s: %w", path, err)
	}
	return ParseSources(raw)
}

// ParseSources decodes and validates a sources document. Parser and
// formatter default to "plain".
func ParseSources(raw []byte) ([]SourceConfig, error) {
	var doc sourcesFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode sources: %w", err)
	}
	if len(doc.Sources) == 0 {
		return nil, fmt.Errorf("no sources configured")
	}

	seen := make(map[string]struct{}, len(doc.Sources))
	for i := range doc.Sources {
		s := &doc.Sources[i]
		if s.Path == "" {
			return nil, fmt.Errorf("source %d: path is required", i)
		}
		if s.Name == "" {
			return nil, fmt.Errorf("source %s: name is required", s.Path)
		}
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("source %s: duplicate name", s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.Parser == "" {
			s.Parser = "plain"
		}
		if s.Formatter == "" {
			s.Formatter = "plain"
		}
		for key := range s.Options {
			if !strings.HasPrefix(key, "parser.") && !strings.HasPrefix(key, "formatter.") {
				return nil, fmt.Errorf("source %s: option %q must be prefixed with parser. or formatter.", s.Name, key)
			}
		}
	}
	return doc.Sources, nil
}
