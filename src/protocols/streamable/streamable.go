// Package streamable implements the chunked-HTTP streaming protocol plugin.
// Tool calls read the response incrementally: newline-delimited JSON becomes
// one decoded item per line, anything else is chunked raw.
package streamable

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

// Template configures streamable HTTP discovery and calls.
type Template struct {
	templates.Base
	URL        string            `json:"url"`
	HTTPMethod string            `json:"http_method,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	// ChunkSize bounds raw (non-NDJSON) chunk reads in bytes. Zero selects
	// 4096.
	ChunkSize int `json:"chunk_size,omitempty"`
}

func (t *Template) method() string {
	if t.HTTPMethod == "" {
		return http.MethodPost
	}
	return strings.ToUpper(t.HTTPMethod)
}

// Protocol implements streaming tool calls over plain HTTP responses.
type Protocol struct {
	httpClient *http.Client
	tokens     *auth.TokenCache
	decoder    templates.Decoder
	log        func(format string, args ...any)
}

// New constructs the streamable HTTP protocol. A nil client selects one
// without a global timeout, since streams may stay open indefinitely.
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
	return &Template{Base: templates.Base{CallTemplateType: templates.TypeHTTPStream}}
}

// RegisterManual fetches the manual document from the template URL.
func (p *Protocol) RegisterManual(ctx context.Context, tpl templates.CallTemplate) ([]tools.Tool, error) {
	st, ok := tpl.(*Template)
	if !ok {
		return nil, fmt.Errorf("http_stream protocol requires an http_stream call template, got %T", tpl)
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

// CallTool drains the stream; a single item is unwrapped to its value.
func (p *Protocol) CallTool(ctx context.Context, toolName string, args map[string]any, tpl templates.CallTemplate) (any, error) {
	res, err := p.CallToolStream(ctx, toolName, args, tpl)
	if err != nil {
		return nil, err
	}
	items, err := stream.Drain(res)
	if err != nil {
		return nil, err
	}
	if len(items) == 1 {
		return items[0], nil
	}
	return items, nil
}

// CallToolStream implements registry.StreamingProtocol.
func (p *Protocol) CallToolStream(ctx context.Context, toolName string, args map[string]any, tpl templates.CallTemplate) (stream.Result, error) {
	st, ok := tpl.(*Template)
	if !ok {
		return nil, fmt.Errorf("http_stream protocol requires an http_stream call template, got %T", tpl)
	}

	var reqBody io.Reader
	method := st.method()
	if method != http.MethodGet {
		data, err := codec.Marshal(args)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, st.URL, reqBody)
	if err != nil {
		return nil, err
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
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
		if isNDJSON(resp.Header.Get("Content-Type")) {
			readLines(ctx, resp.Body, ch)
		} else {
			readChunks(ctx, resp.Body, st.ChunkSize, ch)
		}
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
		req.Header.Set(cfg.VarName, cfg.APIKey)
	case *auth.BasicAuth:
		req.SetBasicAuth(cfg.Username, cfg.Password)
	case *auth.OAuth2Auth:
		if token, err := p.tokens.AccessToken(ctx, cfg); err == nil {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

func isNDJSON(contentType string) bool {
	return strings.Contains(contentType, "ndjson") ||
		strings.Contains(contentType, "application/json")
}

func readLines(ctx context.Context, r io.Reader, ch chan<- any) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var v any
		if err := codec.Unmarshal(line, &v); err != nil {
			v = string(line)
		}
		select {
		case ch <- v:
		case <-ctx.Done():
			return
		}
	}
}

func readChunks(ctx context.Context, r io.Reader, size int, ch chan<- any) {
	if size <= 0 {
		size = 4096
	}
	buf := make([]byte, size)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			return
		}
	}
}
