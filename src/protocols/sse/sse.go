// Package sse implements the server-sent events protocol plugin. Tool calls
// open an event stream and surface each event as one stream item.
package sse

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/toolmux/toolmux/src/auth"
	"github.com/toolmux/toolmux/src/codec"
	"github.com/toolmux/toolmux/src/manual"
	"github.com/toolmux/toolmux/src/stream"
	"github.com/toolmux/toolmux/src/templates"
	"github.com/toolmux/toolmux/src/tools"
)

// Template configures SSE discovery and calls.
type Template struct {
	templates.Base
	URL       string            `json:"url"`
	EventType string            `json:"event_type,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// Protocol streams tool results over server-sent events. Discovery is a
// plain GET returning a manual document; calls POST the arguments and read
// the response as an event stream.
type Protocol struct {
	httpClient *http.Client
	tokens     *auth.TokenCache
	decoder    templates.Decoder
	log        func(format string, args ...any)
}

// New constructs the SSE protocol. Streaming responses are unbounded, so a
// nil client selects one without a global timeout; cancellation comes from
// the caller's context.
func New(client *http.Client, dec templates.Decoder) *Protocol {
	if client == nil {
		client = &http.Client{}
	}
	return &Protocol{
		httpClient: client,
		tokens:     auth.NewTokenCache(&http.Client{Timeout: 30 * time.Second}),
		decoder:    dec,
		log:        func(format string, args ...any) {},
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
	return &Template{Base: templates.Base{CallTemplateType: templates.TypeSSE}}
}

// RegisterManual fetches the manual document from the template URL.
func (p *Protocol) RegisterManual(ctx context.Context, tpl templates.CallTemplate) ([]tools.Tool, error) {
	st, ok := tpl.(*Template)
	if !ok {
		return nil, fmt.Errorf("sse protocol requires an sse call template, got %T", tpl)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, st.URL, nil)
	if err != nil {
		return nil, err
	}
	p.decorate(ctx, req, st)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("manual discovery at %s returned %s", st.URL, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	m, err := manual.Unmarshal(body, p.decoder)
	if err != nil {
		return nil, err
	}
	return m.Tools, nil
}

// DeregisterManual is a no-op: streams are opened per call.
func (p *Protocol) DeregisterManual(ctx context.Context, tpl templates.CallTemplate) error {
	return nil
}

// CallTool opens the event stream and returns all events; a single event is
// unwrapped to its value.
func (p *Protocol) CallTool(ctx context.Context, toolName string, args map[string]any, tpl templates.CallTemplate) (any, error) {
	res, err := p.CallToolStream(ctx, toolName, args, tpl)
	if err != nil {
		return nil, err
	}
	events, err := stream.Drain(res)
	if err != nil {
		return nil, err
	}
	if len(events) == 1 {
		return events[0], nil
	}
	return events, nil
}

// CallToolStream implements registry.StreamingProtocol.
func (p *Protocol) CallToolStream(ctx context.Context, toolName string, args map[string]any, tpl templates.CallTemplate) (stream.Result, error) {
	st, ok := tpl.(*Template)
	if !ok {
		return nil, fmt.Errorf("sse protocol requires an sse call template, got %T", tpl)
	}
	body, err := codec.Marshal(args)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, st.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	p.decorate(ctx, req, st)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		p.log("tool %s returned status %s", toolName, resp.Status)
		return nil, fmt.Errorf("tool %s returned status %s", toolName, resp.Status)
	}

	ch := make(chan any)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		readEvents(ctx, resp.Body, st.EventType, ch)
	}()
	return stream.NewChannelResult(ch, func() error {
		resp.Body.Close()
		return nil
	}), nil
}

func (p *Protocol) decorate(ctx context.Context, req *http.Request, st *Template) {
	for k, v := range st.Headers {
		req.Header.Set(k, v)
	}
	switch cfg := st.AuthConfig().(type) {
	case *auth.ApiKeyAuth:
		if cfg.Location == "query" {
			q := req.URL.Query()
			q.Set(cfg.VarName, cfg.APIKey)
			req.URL.RawQuery = q.Encode()
		} else {
			req.Header.Set(cfg.VarName, cfg.APIKey)
		}
	case *auth.BasicAuth:
		req.SetBasicAuth(cfg.Username, cfg.Password)
	case *auth.OAuth2Auth:
		if token, err := p.tokens.AccessToken(ctx, cfg); err == nil {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

// readEvents parses the text/event-stream wire format: data lines accumulate
// until a blank line dispatches the event. Events not matching wantType are
// skipped when wantType is set.
func readEvents(ctx context.Context, r io.Reader, wantType string, ch chan<- any) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var dataLines []string
	eventType := ""
	flush := func() {
		if len(dataLines) == 0 {
			return
		}
		payload := strings.Join(dataLines, "\n")
		dataLines = nil
		et := eventType
		eventType = ""
		if wantType != "" && et != "" && et != wantType {
			return
		}
		var v any
		if err := codec.Unmarshal([]byte(payload), &v); err != nil {
			v = payload
		}
		select {
		case ch <- v:
		case <-ctx.Done():
		}
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		}
		if ctx.Err() != nil {
			return
		}
	}
	flush()
}
