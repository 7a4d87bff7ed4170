// Package text implements the file-backed protocol plugin: manuals live in
// local JSON or YAML documents, and calls return the file's content.
package text

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/toolmux/toolmux/src/codec"
	"github.com/toolmux/toolmux/src/manual"
	"github.com/toolmux/toolmux/src/templates"
	"github.com/toolmux/toolmux/src/tools"
)

// Template configures the file-backed protocol.
type Template struct {
	templates.Base
	FilePath string `json:"file_path"`
}

// Protocol serves manuals from local files. Useful for static tool
// definitions checked into a repo and for tests.
type Protocol struct {
	decoder templates.Decoder
	log     func(format string, args ...any)
}

// New constructs the text protocol.
func New(dec templates.Decoder) *Protocol {
	return &Protocol{decoder: dec, log: func(format string, args ...any) {}}
}

// WithLogger installs an optional printf-style logger.
func (p *Protocol) WithLogger(log func(format string, args ...any)) *Protocol {
	if log != nil {
		p.log = log
	}
	return p
}

// NewTemplate implements registry.Protocol.
func (p *Protocol) NewTemplate() templates.CallTemplate {
	return &Template{Base: templates.Base{CallTemplateType: templates.TypeText}}
}

// RegisterManual parses the manual document at the template's file path.
func (p *Protocol) RegisterManual(ctx context.Context, tpl templates.CallTemplate) ([]tools.Tool, error) {
	tt, ok := tpl.(*Template)
	if !ok {
		return nil, fmt.Errorf("text protocol requires a text call template, got %T", tpl)
	}
	data, err := p.read(tt)
	if err != nil {
		return nil, err
	}
	m, err := manual.Unmarshal(data, p.decoder)
	if err != nil {
		return nil, err
	}
	return m.Tools, nil
}

// DeregisterManual is a no-op for file-backed manuals.
func (p *Protocol) DeregisterManual(ctx context.Context, tpl templates.CallTemplate) error {
	return nil
}

// CallTool returns the parsed file content. File-backed tools carry their
// payload in the document itself, so every tool of the manual resolves to
// the same data.
func (p *Protocol) CallTool(ctx context.Context, toolName string, args map[string]any, tpl templates.CallTemplate) (any, error) {
	tt, ok := tpl.(*Template)
	if !ok {
		return nil, fmt.Errorf("text protocol requires a text call template, got %T", tpl)
	}
	data, err := p.read(tt)
	if err != nil {
		return nil, err
	}
	var result any
	if err := codec.Unmarshal(data, &result); err != nil {
		return string(data), nil
	}
	return result, nil
}

// read loads the file, converting YAML documents to JSON bytes.
func (p *Protocol) read(tt *Template) ([]byte, error) {
	if tt.FilePath == "" {
		return nil, fmt.Errorf("text call template %q has no file_path", tt.TemplateName())
	}
	data, err := os.ReadFile(tt.FilePath)
	if err != nil {
		p.log("could not read %s: %v", tt.FilePath, err)
		return nil, fmt.Errorf("could not read %s: %w", tt.FilePath, err)
	}
	ext := strings.ToLower(filepath.Ext(tt.FilePath))
	if ext == ".yaml" || ext == ".yml" {
		var tree any
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return nil, fmt.Errorf("invalid yaml in %s: %w", tt.FilePath, err)
		}
		return codec.Marshal(tree)
	}
	return data, nil
}
