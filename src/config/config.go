// Package config defines the structured client configuration and the
// variable loaders it can reference.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/toolmux/toolmux/src/codec"
	"github.com/toolmux/toolmux/src/errs"
)

// Config is the client configuration. All fields are optional; zero values
// select the documented defaults.
type Config struct {
	// Variables is the client-level variable map, the highest-precedence
	// source after manual-scoped overrides (which live in this same map
	// under their namespaced keys).
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	// LoadVariablesFrom lists fallback variable loaders, consulted in order
	// after Variables.
	LoadVariablesFrom []LoaderConfig `json:"load_variables_from,omitempty" yaml:"load_variables_from,omitempty"`

	// ToolRepository selects the repository implementation. Default
	// "in_memory".
	ToolRepository string `json:"tool_repository,omitempty" yaml:"tool_repository,omitempty"`

	// ToolSearchStrategy selects the search strategy. Default
	// "tag_and_description".
	ToolSearchStrategy string `json:"tool_search_strategy,omitempty" yaml:"tool_search_strategy,omitempty"`

	// ManualCallTemplates lists the call templates registered at client
	// creation, in order. Kept raw: templates are decoded through the
	// protocol registry.
	ManualCallTemplates []codec.RawMessage `json:"manual_call_templates,omitempty" yaml:"manual_call_templates,omitempty"`

	// PostProcessing lists post-processor descriptors, applied in order.
	PostProcessing []codec.RawMessage `json:"post_processing,omitempty" yaml:"post_processing,omitempty"`
}

// New returns a config with defaults.
func New() *Config {
	return &Config{Variables: make(map[string]string)}
}

// LoaderConfig describes one external variable loader.
type LoaderConfig struct {
	Type string `json:"type" yaml:"type"`
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Loader is a runtime variable source built from a LoaderConfig.
type Loader interface {
	// Load returns all variables available from this source.
	Load() (map[string]string, error)
	// Get returns a single variable value or an error if not present.
	Get(key string) (string, error)
}

// BuildLoaders turns loader descriptors into runtime loaders. Relative
// paths resolve against rootDir when it is non-empty.
func (c *Config) BuildLoaders(rootDir string) ([]Loader, error) {
	out := make([]Loader, 0, len(c.LoadVariablesFrom))
	for _, lc := range c.LoadVariablesFrom {
		switch lc.Type {
		case "dotenv":
			path := lc.Path
			if rootDir != "" && !filepath.IsAbs(path) {
				path = filepath.Join(rootDir, path)
			}
			out = append(out, NewDotEnvLoader(path))
		default:
			return nil, errs.NewConfigError("unknown variable loader type: %q", lc.Type)
		}
	}
	return out, nil
}

// LoadFile reads a JSON or YAML config file. Unknown top-level fields fail
// fast as a configuration error.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.NewConfigError("could not read config file %q: %v", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// ParseJSON decodes a JSON config document.
func ParseJSON(data []byte) (*Config, error) {
	if err := rejectUnknownFields(data); err != nil {
		return nil, err
	}
	cfg := New()
	if err := codec.Unmarshal(data, cfg); err != nil {
		return nil, errs.NewConfigError("invalid config JSON: %v", err)
	}
	return cfg, nil
}

// ParseYAML decodes a YAML config document by converting it to JSON first,
// so raw template blocks stay JSON for registry decoding.
func ParseYAML(data []byte) (*Config, error) {
	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, errs.NewConfigError("invalid config YAML: %v", err)
	}
	blob, err := codec.Marshal(normalizeYAML(tree))
	if err != nil {
		return nil, errs.NewConfigError("invalid config YAML: %v", err)
	}
	return ParseJSON(blob)
}

var knownFields = map[string]struct{}{
	"variables":             {},
	"load_variables_from":   {},
	"tool_repository":       {},
	"tool_search_strategy":  {},
	"manual_call_templates": {},
	"post_processing":       {},
}

func rejectUnknownFields(data []byte) error {
	var top map[string]codec.RawMessage
	if err := codec.Unmarshal(data, &top); err != nil {
		return errs.NewConfigError("invalid config document: %v", err)
	}
	for field := range top {
		if _, ok := knownFields[field]; !ok {
			return errs.NewConfigError("unknown config field: %q", field)
		}
	}
	return nil
}

// normalizeYAML rewrites map[any]any trees (yaml.v2 style keys) into
// map[string]any so they marshal as JSON objects.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if ks, ok := k.(string); ok {
				out[ks] = normalizeYAML(val)
			}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeYAML(e)
		}
		return out
	default:
		return v
	}
}
