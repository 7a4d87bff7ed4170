// Package cli implements the subprocess protocol plugin. Manuals and calls
// run a configured command; tool arguments become --flag pairs.
package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/toolmux/toolmux/src/codec"
	"github.com/toolmux/toolmux/src/manual"
	"github.com/toolmux/toolmux/src/templates"
	"github.com/toolmux/toolmux/src/tools"
)

// Template configures subprocess execution.
type Template struct {
	templates.Base
	CommandName string            `json:"command_name"`
	Args        []string          `json:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	WorkingDir  string            `json:"working_dir,omitempty"`
}

// Protocol runs local commands. Discovery executes the command once and
// scans stdout for a manual document; calls append tool arguments as
// --name value flags.
type Protocol struct {
	decoder templates.Decoder
	log     func(format string, args ...any)
}

// New constructs the CLI protocol.
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
	return &Template{Base: templates.Base{CallTemplateType: templates.TypeCLI}}
}

// RegisterManual runs the command and extracts the manual from its stdout.
func (p *Protocol) RegisterManual(ctx context.Context, tpl templates.CallTemplate) ([]tools.Tool, error) {
	ct, ok := tpl.(*Template)
	if !ok {
		return nil, fmt.Errorf("cli protocol requires a cli call template, got %T", tpl)
	}
	if ct.CommandName == "" {
		return nil, fmt.Errorf("cli call template %q has no command_name", ct.TemplateName())
	}
	out, err := p.run(ctx, ct, nil)
	if err != nil {
		return nil, err
	}
	raw, ok := extractManualJSON(out)
	if !ok {
		return nil, fmt.Errorf("command %q produced no manual on stdout", ct.CommandName)
	}
	m, err := manual.Unmarshal(raw, p.decoder)
	if err != nil {
		return nil, err
	}
	return m.Tools, nil
}

// DeregisterManual is a no-op: each call is its own process.
func (p *Protocol) DeregisterManual(ctx context.Context, tpl templates.CallTemplate) error {
	return nil
}

// CallTool runs the command with the tool arguments and parses stdout as
// JSON, falling back to the raw text.
func (p *Protocol) CallTool(ctx context.Context, toolName string, args map[string]any, tpl templates.CallTemplate) (any, error) {
	ct, ok := tpl.(*Template)
	if !ok {
		return nil, fmt.Errorf("cli protocol requires a cli call template, got %T", tpl)
	}
	out, err := p.run(ctx, ct, args)
	if err != nil {
		return nil, err
	}
	trimmed := bytes.TrimSpace(out)
	var result any
	if err := codec.Unmarshal(trimmed, &result); err != nil {
		return string(trimmed), nil
	}
	return result, nil
}

func (p *Protocol) run(ctx context.Context, ct *Template, args map[string]any) ([]byte, error) {
	argv := append([]string{}, ct.Args...)
	for _, k := range sortedKeys(args) {
		argv = append(argv, "--"+k, cast.ToString(args[k]))
	}

	cmd := exec.CommandContext(ctx, ct.CommandName, argv...)
	cmd.Dir = ct.WorkingDir
	if len(ct.Env) > 0 {
		cmd.Env = os.Environ()
		for k, v := range ct.Env {
			cmd.Env = append(cmd.Env, k+"="+v)
		}
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		p.log("command %q failed: %v", ct.CommandName, err)
		if msg != "" {
			return nil, fmt.Errorf("command %q failed: %w: %s", ct.CommandName, err, msg)
		}
		return nil, fmt.Errorf("command %q failed: %w", ct.CommandName, err)
	}
	return stdout.Bytes(), nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// extractManualJSON finds the manual document in command output. Commands
// may print log lines around it, so every line that opens a JSON object is
// tried until one parses as an object containing a "tools" key.
func extractManualJSON(out []byte) ([]byte, bool) {
	for _, line := range bytes.Split(out, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var probe map[string]codec.RawMessage
		if err := codec.Unmarshal(line, &probe); err != nil {
			continue
		}
		if _, ok := probe["tools"]; ok {
			return line, true
		}
	}
	// Maybe the whole output is one pretty-printed document.
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var probe map[string]codec.RawMessage
		if err := codec.Unmarshal(trimmed, &probe); err == nil {
			if _, ok := probe["tools"]; ok {
				return trimmed, true
			}
		}
	}
	return nil, false
}
