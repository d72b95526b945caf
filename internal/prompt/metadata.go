package prompt

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Metadata is the declared contract of a prompt file, parsed from its
// frontmatter block. All fields are optional. Unrecognized top-level keys
// are preserved in Extra, never rejected.
type Metadata struct {
	Name         string
	Description  string
	Version      string
	Tags         []string
	RequiredVars []string
	Defaults     map[string]string
	Iteration    IterationSettings
	Extra        map[string]interface{}
}

// IterationSettings carries per-prompt tuning consumed by the loop driver.
type IterationSettings struct {
	ContextThreshold float64
	RunTests         bool
	StopTags         []string
}

// DefaultMetadata returns the metadata used when a prompt declares none.
func DefaultMetadata() *Metadata {
	return &Metadata{}
}

// parseYAMLMetadata parses a YAML frontmatter block (--- delimited).
func parseYAMLMetadata(data []byte) (*Metadata, error) {
	var fields map[string]interface{}
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("invalid YAML frontmatter: %w", err)
	}
	return metadataFromMap(fields)
}

// parseTOMLMetadata parses a TOML frontmatter block (+++ delimited).
func parseTOMLMetadata(data []byte) (*Metadata, error) {
	var fields map[string]interface{}
	if err := toml.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("invalid TOML frontmatter: %w", err)
	}
	return metadataFromMap(fields)
}

// metadataFromMap converts decoded frontmatter fields into Metadata,
// type-checking the keys this package interprets and preserving the rest.
func metadataFromMap(fields map[string]interface{}) (*Metadata, error) {
	meta := DefaultMetadata()
	if len(fields) == 0 {
		return meta, nil
	}

	for key, value := range fields {
		var err error
		switch key {
		case "name":
			meta.Name, err = stringField(key, value)
		case "description":
			meta.Description, err = stringField(key, value)
		case "version":
			meta.Version, err = stringField(key, value)
		case "tags":
			meta.Tags, err = stringListField(key, value)
		case "required_vars":
			meta.RequiredVars, err = stringListField(key, value)
		case "defaults":
			meta.Defaults, err = stringMapField(key, value)
		case "iteration":
			err = decodeIteration(value, &meta.Iteration)
		default:
			if meta.Extra == nil {
				meta.Extra = make(map[string]interface{})
			}
			meta.Extra[key] = value
		}
		if err != nil {
			return nil, err
		}
	}

	return meta, nil
}

func decodeIteration(value interface{}, settings *IterationSettings) error {
	section, ok := value.(map[string]interface{})
	if !ok {
		return fmt.Errorf("frontmatter field iteration: expected a mapping, got %T", value)
	}

	for key, v := range section {
		var err error
		switch key {
		case "context_threshold":
			settings.ContextThreshold, err = floatField("iteration.context_threshold", v)
		case "run_tests":
			b, bok := v.(bool)
			if !bok {
				err = fmt.Errorf("frontmatter field iteration.run_tests: expected bool, got %T", v)
			}
			settings.RunTests = b
		case "stop_tags":
			settings.StopTags, err = stringListField("iteration.stop_tags", v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func stringField(key string, value interface{}) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("frontmatter field %s: expected string, got %T", key, value)
	}
	return s, nil
}

func stringListField(key string, value interface{}) ([]string, error) {
	list, ok := value.([]interface{})
	if !ok {
		return nil, fmt.Errorf("frontmatter field %s: expected a list of strings, got %T", key, value)
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("frontmatter field %s[%d]: expected string, got %T", key, i, item)
		}
		out = append(out, s)
	}
	return out, nil
}

func stringMapField(key string, value interface{}) (map[string]string, error) {
	section, ok := value.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("frontmatter field %s: expected a mapping, got %T", key, value)
	}
	out := make(map[string]string, len(section))
	for k, v := range section {
		switch s := v.(type) {
		case string:
			out[k] = s
		case bool, int, int64, uint64, float64:
			out[k] = fmt.Sprintf("%v", s)
		default:
			return nil, fmt.Errorf("frontmatter field %s.%s: expected a scalar value, got %T", key, k, v)
		}
	}
	return out, nil
}

func floatField(key string, value interface{}) (float64, error) {
	switch n := value.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("frontmatter field %s: expected number, got %T", key, value)
	}
}
