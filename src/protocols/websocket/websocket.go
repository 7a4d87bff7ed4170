// Package websocket implements the WebSocket protocol plugin on
// gorilla/websocket. Every exchange uses its own connection, so concurrent
// calls never share a socket.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/toolmux/toolmux/src/auth"
	"github.com/toolmux/toolmux/src/codec"
	"github.com/toolmux/toolmux/src/manual"
	"github.com/toolmux/toolmux/src/stream"
	"github.com/toolmux/toolmux/src/templates"
	"github.com/toolmux/toolmux/src/tools"
)

// Template configures a WebSocket endpoint.
type Template struct {
	templates.Base
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	// Timeout bounds the dial and a single-message exchange in seconds.
	// Zero selects 30.
	Timeout int `json:"timeout,omitempty"`
}

func (t *Template) timeout() time.Duration {
	if t.Timeout <= 0 {
		return 30 * time.Second
	}
	return time.Duration(t.Timeout) * time.Second
}

type callMessage struct {
	Type string         `json:"type"`
	Tool string         `json:"tool,omitempty"`
	Args map[string]any `json:"args,omitempty"`
}

// Protocol speaks JSON messages over WebSocket connections.
type Protocol struct {
	dialer  *websocket.Dialer
	decoder templates.Decoder
	log     func(format string, args ...any)
}

// New constructs the WebSocket protocol. A nil dialer selects
// websocket.DefaultDialer.
func New(dialer *websocket.Dialer, dec templates.Decoder) *Protocol {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &Protocol{dialer: dialer, decoder: dec, log: func(format string, args ...any) {}}
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
	return &Template{Base: templates.Base{CallTemplateType: templates.TypeWebSocket}}
}

// RegisterManual opens a connection, sends a discover message, and parses
// the manual reply.
func (p *Protocol) RegisterManual(ctx context.Context, tpl templates.CallTemplate) ([]tools.Tool, error) {
	wt, ok := tpl.(*Template)
	if !ok {
		return nil, fmt.Errorf("websocket protocol requires a websocket call template, got %T", tpl)
	}
	conn, err := p.dial(ctx, wt)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := writeJSON(conn, wt.timeout(), callMessage{Type: "discover"}); err != nil {
		return nil, err
	}
	raw, err := readMessage(conn, wt.timeout())
	if err != nil {
		return nil, err
	}
	m, err := manual.Unmarshal(raw, p.decoder)
	if err != nil {
		return nil, err
	}
	return m.Tools, nil
}

// DeregisterManual is a no-op: connections are per exchange.
func (p *Protocol) DeregisterManual(ctx context.Context, tpl templates.CallTemplate) error {
	return nil
}

// CallTool sends one call message and decodes the single reply.
func (p *Protocol) CallTool(ctx context.Context, toolName string, args map[string]any, tpl templates.CallTemplate) (any, error) {
	wt, ok := tpl.(*Template)
	if !ok {
		return nil, fmt.Errorf("websocket protocol requires a websocket call template, got %T", tpl)
	}
	conn, err := p.dial(ctx, wt)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := writeJSON(conn, wt.timeout(), callMessage{Type: "call", Tool: toolName, Args: args}); err != nil {
		return nil, err
	}
	raw, err := readMessage(conn, wt.timeout())
	if err != nil {
		return nil, err
	}
	var result any
	if err := codec.Unmarshal(raw, &result); err != nil {
		return string(raw), nil
	}
	return result, nil
}

// CallToolStream implements registry.StreamingProtocol: each received
// message is one stream item, and the stream ends when the server closes
// the connection.
func (p *Protocol) CallToolStream(ctx context.Context, toolName string, args map[string]any, tpl templates.CallTemplate) (stream.Result, error) {
	wt, ok := tpl.(*Template)
	if !ok {
		return nil, fmt.Errorf("websocket protocol requires a websocket call template, got %T", tpl)
	}
	conn, err := p.dial(ctx, wt)
	if err != nil {
		return nil, err
	}
	if err := writeJSON(conn, wt.timeout(), callMessage{Type: "call", Tool: toolName, Args: args}); err != nil {
		conn.Close()
		return nil, err
	}

	ch := make(chan any)
	go func() {
		defer close(ch)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var v any
			if err := codec.Unmarshal(raw, &v); err != nil {
				v = string(raw)
			}
			select {
			case ch <- v:
			case <-ctx.Done():
				return
			}
		}
	}()
	return stream.NewChannelResult(ch, conn.Close), nil
}

func (p *Protocol) dial(ctx context.Context, wt *Template) (*websocket.Conn, error) {
	header := http.Header{}
	for k, v := range wt.Headers {
		header.Set(k, v)
	}
	switch cfg := wt.AuthConfig().(type) {
	case *auth.ApiKeyAuth:
		header.Set(cfg.VarName, cfg.APIKey)
	case *auth.BasicAuth:
		r, _ := http.NewRequest(http.MethodGet, "http://placeholder", nil)
		r.SetBasicAuth(cfg.Username, cfg.Password)
		header.Set("Authorization", r.Header.Get("Authorization"))
	}

	dctx, cancel := context.WithTimeout(ctx, wt.timeout())
	defer cancel()
	conn, resp, err := p.dialer.DialContext(dctx, wt.URL, header)
	if err != nil {
		p.log("websocket dial %s failed: %v", wt.URL, err)
		if resp != nil {
			return nil, fmt.Errorf("websocket dial %s failed: %w (status %s)", wt.URL, err, resp.Status)
		}
		return nil, fmt.Errorf("websocket dial %s failed: %w", wt.URL, err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, nil
}

func writeJSON(conn *websocket.Conn, timeout time.Duration, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	return conn.WriteJSON(v)
}

func readMessage(conn *websocket.Conn, timeout time.Duration) ([]byte, error) {
	_ = conn.SetReadDeadline(time.Now().Add(timeout))
	_, raw, err := conn.ReadMessage()
	return raw, err
}
