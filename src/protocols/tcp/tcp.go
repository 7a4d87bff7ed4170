// Package tcp implements the raw-socket protocol plugin with
// newline-delimited JSON framing. Requests carry a correlation id so
// replies can be matched even when the server interleaves other lines.
package tcp

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/toolmux/toolmux/src/codec"
	"github.com/toolmux/toolmux/src/manual"
	"github.com/toolmux/toolmux/src/templates"
	"github.com/toolmux/toolmux/src/tools"
)

// Template configures a TCP endpoint.
type Template struct {
	templates.Base
	Host string `json:"host"`
	Port int    `json:"port"`
	// Timeout bounds one request/response exchange in seconds. Zero selects
	// 30.
	Timeout int `json:"timeout,omitempty"`
}

func (t *Template) address() string {
	return net.JoinHostPort(t.Host, fmt.Sprintf("%d", t.Port))
}

func (t *Template) timeout() time.Duration {
	if t.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(t.Timeout) * time.Second
}

// request is the framed wire form of one exchange.
type request struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	Tool string         `json:"tool,omitempty"`
	Args map[string]any `json:"args,omitempty"`
}

type response struct {
	ID     string           `json:"id"`
	Error  string           `json:"error,omitempty"`
	Result codec.RawMessage `json:"result,omitempty"`
}

// Protocol exchanges newline-delimited JSON over short-lived TCP
// connections, one connection per request.
type Protocol struct {
	decoder templates.Decoder
	dialer  net.Dialer
	log     func(format string, args ...any)
}

// New constructs the TCP protocol.
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
	return &Template{Base: templates.Base{CallTemplateType: templates.TypeTCP}}
}

// RegisterManual sends a discover request and parses the manual reply.
func (p *Protocol) RegisterManual(ctx context.Context, tpl templates.CallTemplate) ([]tools.Tool, error) {
	tt, ok := tpl.(*Template)
	if !ok {
		return nil, fmt.Errorf("tcp protocol requires a tcp call template, got %T", tpl)
	}
	raw, err := p.roundTrip(ctx, tt, request{ID: uuid.NewString(), Type: "discover"})
	if err != nil {
		return nil, err
	}
	m, err := manual.Unmarshal(raw, p.decoder)
	if err != nil {
		return nil, err
	}
	return m.Tools, nil
}

// DeregisterManual is a no-op: connections are per request.
func (p *Protocol) DeregisterManual(ctx context.Context, tpl templates.CallTemplate) error {
	return nil
}

// CallTool sends one call request and decodes the result field of the
// matching reply.
func (p *Protocol) CallTool(ctx context.Context, toolName string, args map[string]any, tpl templates.CallTemplate) (any, error) {
	tt, ok := tpl.(*Template)
	if !ok {
		return nil, fmt.Errorf("tcp protocol requires a tcp call template, got %T", tpl)
	}
	raw, err := p.roundTrip(ctx, tt, request{
		ID:   uuid.NewString(),
		Type: "call",
		Tool: toolName,
		Args: args,
	})
	if err != nil {
		return nil, err
	}
	var result any
	if err := codec.Unmarshal(raw, &result); err != nil {
		return string(bytes.TrimSpace(raw)), nil
	}
	return result, nil
}

// roundTrip dials, writes one framed request, and scans reply lines until
// one matches the request id. Lines that are not JSON objects or carry a
// different id are skipped.
func (p *Protocol) roundTrip(ctx context.Context, tt *Template, req request) (codec.RawMessage, error) {
	dctx, cancel := context.WithTimeout(ctx, tt.timeout())
	defer cancel()

	conn, err := p.dialer.DialContext(dctx, "tcp", tt.address())
	if err != nil {
		p.log("could not connect to %s: %v", tt.address(), err)
		return nil, fmt.Errorf("could not connect to %s: %w", tt.address(), err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(tt.timeout()))

	payload, err := codec.Marshal(req)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Write(append(payload, '\n')); err != nil {
		return nil, err
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var resp response
		if err := codec.Unmarshal(line, &resp); err != nil {
			continue
		}
		if resp.ID != "" && resp.ID != req.ID {
			continue
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("remote error: %s", resp.Error)
		}
		if len(resp.Result) > 0 {
			return resp.Result, nil
		}
		// Reply without an envelope: treat the whole line as the result.
		out := make(codec.RawMessage, len(line))
		copy(out, line)
		return out, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("connection to %s closed before a reply", tt.address())
}
