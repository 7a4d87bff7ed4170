// Package mcp implements the Model Context Protocol plugin on
// mark3labs/mcp-go. Manuals map to MCP server sessions: stdio servers are
// spawned as subprocesses, HTTP servers use the streamable transport. The
// session lives from registration to deregistration.
package mcp

import (
	"context"
	"fmt"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	mcpapi "github.com/mark3labs/mcp-go/mcp"

	"github.com/toolmux/toolmux/src/codec"
	"github.com/toolmux/toolmux/src/stream"
	"github.com/toolmux/toolmux/src/templates"
	"github.com/toolmux/toolmux/src/tools"
)

// Template configures one MCP server, either by URL (streamable HTTP) or by
// command line (stdio subprocess).
type Template struct {
	templates.Base
	URL        string            `json:"url,omitempty"`
	Command    []string          `json:"command,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	WorkingDir string            `json:"working_dir,omitempty"`
	// Timeout bounds initialization and single calls in seconds. Zero
	// selects 30.
	Timeout int `json:"timeout,omitempty"`
}

func (t *Template) timeout() time.Duration {
	if t.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(t.Timeout) * time.Second
}

type session struct {
	client *mcpclient.Client
}

// Protocol keeps one MCP session per registered manual.
type Protocol struct {
	mu       sync.RWMutex
	sessions map[string]*session
	log      func(format string, args ...any)
}

// New constructs the MCP protocol.
func New() *Protocol {
	return &Protocol{
		sessions: make(map[string]*session),
		log:      func(format string, args ...any) {},
	}
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
	return &Template{Base: templates.Base{CallTemplateType: templates.TypeMCP}}
}

// RegisterManual starts the server session and lists its tools.
func (p *Protocol) RegisterManual(ctx context.Context, tpl templates.CallTemplate) ([]tools.Tool, error) {
	mt, ok := tpl.(*Template)
	if !ok {
		return nil, fmt.Errorf("mcp protocol requires an mcp call template, got %T", tpl)
	}
	if mt.URL == "" && len(mt.Command) == 0 {
		return nil, fmt.Errorf("mcp call template %q needs a url or a command", mt.TemplateName())
	}

	p.mu.Lock()
	if old, exists := p.sessions[mt.TemplateName()]; exists {
		delete(p.sessions, mt.TemplateName())
		old.client.Close()
	}
	p.mu.Unlock()

	cli, err := p.connect(ctx, mt)
	if err != nil {
		return nil, err
	}

	ictx, cancel := context.WithTimeout(ctx, mt.timeout())
	defer cancel()

	initReq := mcpapi.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcpapi.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcpapi.Implementation{Name: "toolmux", Version: "1.0.0"}
	if _, err := cli.Initialize(ictx, initReq); err != nil {
		cli.Close()
		p.log("mcp initialize for %q failed: %v", mt.TemplateName(), err)
		return nil, fmt.Errorf("mcp initialize failed: %w", err)
	}

	listed, err := cli.ListTools(ictx, mcpapi.ListToolsRequest{})
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("mcp tools/list failed: %w", err)
	}

	out := make([]tools.Tool, len(listed.Tools))
	for i, tl := range listed.Tools {
		out[i] = tools.Tool{
			Name:        tl.Name,
			Description: tl.Description,
			Inputs: tools.Schema{
				Type:       tl.InputSchema.Type,
				Properties: tl.InputSchema.Properties,
				Required:   tl.InputSchema.Required,
			},
		}
	}

	p.mu.Lock()
	p.sessions[mt.TemplateName()] = &session{client: cli}
	p.mu.Unlock()
	return out, nil
}

// DeregisterManual closes the session for the template's manual.
func (p *Protocol) DeregisterManual(ctx context.Context, tpl templates.CallTemplate) error {
	mt, ok := tpl.(*Template)
	if !ok {
		return fmt.Errorf("mcp protocol requires an mcp call template, got %T", tpl)
	}
	p.mu.Lock()
	s, exists := p.sessions[mt.TemplateName()]
	delete(p.sessions, mt.TemplateName())
	p.mu.Unlock()
	if exists {
		return s.client.Close()
	}
	return nil
}

// CallTool invokes one tool on the manual's session.
func (p *Protocol) CallTool(ctx context.Context, toolName string, args map[string]any, tpl templates.CallTemplate) (any, error) {
	mt, ok := tpl.(*Template)
	if !ok {
		return nil, fmt.Errorf("mcp protocol requires an mcp call template, got %T", tpl)
	}
	s, err := p.session(mt.TemplateName())
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, mt.timeout())
	defer cancel()

	req := mcpapi.CallToolRequest{}
	req.Params.Name = toolName
	req.Params.Arguments = args
	res, err := s.client.CallTool(cctx, req)
	if err != nil {
		return nil, err
	}
	if res.IsError {
		return nil, fmt.Errorf("tool %s reported an error: %v", toolName, contentText(res))
	}
	return decodeResult(res)
}

// CallToolStream implements registry.StreamingProtocol: server notifications
// arriving during the call become stream items, followed by the final
// result.
func (p *Protocol) CallToolStream(ctx context.Context, toolName string, args map[string]any, tpl templates.CallTemplate) (stream.Result, error) {
	mt, ok := tpl.(*Template)
	if !ok {
		return nil, fmt.Errorf("mcp protocol requires an mcp call template, got %T", tpl)
	}
	s, err := p.session(mt.TemplateName())
	if err != nil {
		return nil, err
	}

	cs := newCallStream()
	// Notification handlers cannot be unregistered, so this closure outlives
	// the call. callStream turns sends after finish into no-ops.
	s.client.OnNotification(func(n mcpapi.JSONRPCNotification) {
		raw, err := codec.Marshal(n)
		if err != nil {
			return
		}
		var chunk any
		if codec.Unmarshal(raw, &chunk) != nil {
			return
		}
		cs.notify(chunk)
	})

	go func() {
		cctx, cancel := context.WithTimeout(ctx, mt.timeout())
		defer cancel()

		req := mcpapi.CallToolRequest{}
		req.Params.Name = toolName
		req.Params.Arguments = args
		res, err := s.client.CallTool(cctx, req)
		if err != nil {
			cs.finish(ctx, err)
			return
		}
		out, err := decodeResult(res)
		if err != nil {
			out = err
		}
		cs.finish(ctx, out)
	}()
	return stream.NewChannelResult(cs.ch, nil), nil
}

// callStream fans server notifications and the final call result into one
// channel. Every send holds the mutex, so finish can close the channel
// without racing a late notification; once done is set, a stale handler's
// notify degrades to a no-op.
type callStream struct {
	mu   sync.Mutex
	ch   chan any
	done bool
}

func newCallStream() *callStream {
	return &callStream{ch: make(chan any, 8)}
}

// notify delivers one notification chunk. Chunks are dropped when the buffer
// is full or the stream already finished.
func (cs *callStream) notify(v any) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.done {
		return false
	}
	select {
	case cs.ch <- v:
		return true
	default:
		return false
	}
}

// finish emits the final value and closes the stream. Unlike notifications
// the result is never dropped; the send waits for buffer space until ctx
// expires. Calling finish again is a no-op.
func (cs *callStream) finish(ctx context.Context, v any) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.done {
		return
	}
	if v != nil {
		select {
		case cs.ch <- v:
		case <-ctx.Done():
		}
	}
	cs.done = true
	close(cs.ch)
}

func (p *Protocol) connect(ctx context.Context, mt *Template) (*mcpclient.Client, error) {
	if mt.URL != "" {
		cli, err := mcpclient.NewStreamableHttpClient(mt.URL)
		if err != nil {
			return nil, fmt.Errorf("mcp http client for %s failed: %w", mt.URL, err)
		}
		if err := cli.Start(ctx); err != nil {
			return nil, fmt.Errorf("mcp http client start failed: %w", err)
		}
		return cli, nil
	}
	env := make([]string, 0, len(mt.Env))
	for k, v := range mt.Env {
		env = append(env, k+"="+v)
	}
	cli, err := mcpclient.NewStdioMCPClient(mt.Command[0], env, mt.Command[1:]...)
	if err != nil {
		return nil, fmt.Errorf("mcp server %q failed to start: %w", mt.Command[0], err)
	}
	return cli, nil
}

func (p *Protocol) session(name string) (*session, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, exists := p.sessions[name]
	if !exists {
		return nil, fmt.Errorf("mcp manual %q is not registered", name)
	}
	return s, nil
}

// decodeResult flattens an MCP tool result: a single text content block
// parses as JSON when possible, multiple blocks come back as a list.
func decodeResult(res *mcpapi.CallToolResult) (any, error) {
	var items []any
	for _, c := range res.Content {
		if tc, ok := c.(mcpapi.TextContent); ok {
			var v any
			if err := codec.Unmarshal([]byte(tc.Text), &v); err != nil {
				v = tc.Text
			}
			items = append(items, v)
			continue
		}
		raw, err := codec.Marshal(c)
		if err != nil {
			continue
		}
		var v any
		if codec.Unmarshal(raw, &v) == nil {
			items = append(items, v)
		}
	}
	switch len(items) {
	case 0:
		return nil, nil
	case 1:
		return items[0], nil
	default:
		return items, nil
	}
}

func contentText(res *mcpapi.CallToolResult) string {
	for _, c := range res.Content {
		if tc, ok := c.(mcpapi.TextContent); ok {
			return tc.Text
		}
	}
	return "unknown error"
}
