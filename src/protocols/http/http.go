// Package http implements the HTTP protocol plugin: tool discovery and
// calls against plain REST endpoints.
package http

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/toolmux/toolmux/src/auth"
	"github.com/toolmux/toolmux/src/codec"
	"github.com/toolmux/toolmux/src/errs"
	"github.com/toolmux/toolmux/src/manual"
	"github.com/toolmux/toolmux/src/templates"
	"github.com/toolmux/toolmux/src/tools"
)

// Template configures HTTP discovery and calls.
type Template struct {
	templates.Base
	URL          string            `json:"url"`
	HTTPMethod   string            `json:"http_method,omitempty"`
	ContentType  string            `json:"content_type,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
	BodyField    string            `json:"body_field,omitempty"`
	HeaderFields []string          `json:"header_fields,omitempty"`
}

// Method returns the configured HTTP method, defaulting to GET.
func (t *Template) Method() string {
	if t.HTTPMethod == "" {
		return http.MethodGet
	}
	return strings.ToUpper(t.HTTPMethod)
}

// Protocol speaks plain HTTP. Call templates are decoded by the registry,
// tool discovery expects a manual document (JSON or YAML) at the template
// URL, and calls map arguments onto path parameters, header fields, body
// and query string.
type Protocol struct {
	httpClient *http.Client
	tokens     *auth.TokenCache
	decoder    templates.Decoder
	log        func(format string, args ...any)
}

// New constructs the HTTP protocol. A nil client selects a client with a
// 30 second timeout; dec decodes nested tool call templates in discovered
// manuals.
func New(client *http.Client, dec templates.Decoder) *Protocol {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Protocol{
		httpClient: client,
		tokens:     auth.NewTokenCache(client),
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
	return &Template{Base: templates.Base{CallTemplateType: templates.TypeHTTP}}
}

// RegisterManual fetches and parses the manual at the template URL.
func (p *Protocol) RegisterManual(ctx context.Context, tpl templates.CallTemplate) ([]tools.Tool, error) {
	ht, ok := tpl.(*Template)
	if !ok {
		return nil, fmt.Errorf("http protocol requires an http call template, got %T", tpl)
	}
	if err := checkURL(ht.URL); err != nil {
		return nil, err
	}
	p.log("discovering manual %q from %s", ht.TemplateName(), ht.URL)

	req, err := http.NewRequestWithContext(ctx, ht.Method(), ht.URL, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range ht.Headers {
		req.Header.Set(k, v)
	}
	if err := p.applyAuth(ctx, req, ht.AuthConfig()); err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("manual discovery at %s returned %s", ht.URL, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	m, err := parseManual(body, resp.Header.Get("Content-Type"), ht.URL, p.decoder)
	if err != nil {
		return nil, err
	}
	return m.Tools, nil
}

// DeregisterManual is a no-op: HTTP manuals hold no connection state.
func (p *Protocol) DeregisterManual(ctx context.Context, tpl templates.CallTemplate) error {
	return nil
}

// CallTool performs one HTTP request for the named tool.
func (p *Protocol) CallTool(ctx context.Context, toolName string, args map[string]any, tpl templates.CallTemplate) (any, error) {
	ht, ok := tpl.(*Template)
	if !ok {
		return nil, fmt.Errorf("http protocol requires an http call template, got %T", tpl)
	}
	if err := checkURL(ht.URL); err != nil {
		return nil, err
	}

	// Consume args bound to URL path parameters and header fields first;
	// what remains goes to the body or query string.
	remaining := make(map[string]any, len(args))
	for k, v := range args {
		remaining[k] = v
	}
	target := ht.URL
	for k, v := range args {
		placeholder := "{" + k + "}"
		if strings.Contains(target, placeholder) {
			target = strings.ReplaceAll(target, placeholder, cast.ToString(v))
			delete(remaining, k)
		}
	}
	headerValues := make(map[string]string)
	for _, field := range ht.HeaderFields {
		if v, ok := remaining[field]; ok {
			headerValues[field] = cast.ToString(v)
			delete(remaining, field)
		}
	}

	u, err := url.Parse(target)
	if err != nil {
		return nil, err
	}

	method := ht.Method()
	var req *http.Request
	switch {
	case ht.BodyField != "":
		var body []byte
		if v, ok := remaining[ht.BodyField]; ok {
			delete(remaining, ht.BodyField)
			body, err = codec.Marshal(v)
			if err != nil {
				return nil, err
			}
		}
		addQuery(u, remaining)
		req, err = http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	case method != http.MethodGet && len(remaining) > 0:
		var body []byte
		body, err = codec.Marshal(remaining)
		if err != nil {
			return nil, err
		}
		req, err = http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	default:
		addQuery(u, remaining)
		req, err = http.NewRequestWithContext(ctx, method, u.String(), nil)
	}
	if err != nil {
		return nil, err
	}

	if req.Body != nil || req.Method != http.MethodGet {
		ct := ht.ContentType
		if ct == "" {
			ct = "application/json"
		}
		req.Header.Set("Content-Type", ct)
	}
	for k, v := range ht.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range headerValues {
		req.Header.Set(k, v)
	}
	if err := p.applyAuth(ctx, req, ht.AuthConfig()); err != nil {
		return nil, err
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		p.log("tool %s returned status %s", toolName, resp.Status)
		return nil, fmt.Errorf("tool %s returned status %s", toolName, resp.Status)
	}
	return decodeBody(resp)
}

// applyAuth sets authentication on a request from the template's auth
// config. OAuth2 tokens come from the shared cache.
func (p *Protocol) applyAuth(ctx context.Context, req *http.Request, a auth.Auth) error {
	if a == nil {
		return nil
	}
	if err := a.Validate(); err != nil {
		return &errs.AuthError{Err: err}
	}
	switch cfg := a.(type) {
	case *auth.ApiKeyAuth:
		switch cfg.Location {
		case "query":
			q := req.URL.Query()
			q.Set(cfg.VarName, cfg.APIKey)
			req.URL.RawQuery = q.Encode()
		case "cookie":
			req.AddCookie(&http.Cookie{Name: cfg.VarName, Value: cfg.APIKey})
		default:
			req.Header.Set(cfg.VarName, cfg.APIKey)
		}
	case *auth.BasicAuth:
		req.SetBasicAuth(cfg.Username, cfg.Password)
	case *auth.OAuth2Auth:
		token, err := p.tokens.AccessToken(ctx, cfg)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	default:
		return &errs.AuthError{Err: fmt.Errorf("unsupported auth type %T", a)}
	}
	return nil
}

// checkURL enforces https or localhost, so credentials never travel over
// plain HTTP to a remote host.
func checkURL(raw string) error {
	if strings.HasPrefix(raw, "https://") ||
		strings.HasPrefix(raw, "http://localhost") ||
		strings.HasPrefix(raw, "http://127.0.0.1") {
		return nil
	}
	return fmt.Errorf("url must use https or point at localhost, got %q", raw)
}

func addQuery(u *url.URL, args map[string]any) {
	if len(args) == 0 {
		return
	}
	q := u.Query()
	for k, v := range args {
		q.Set(k, cast.ToString(v))
	}
	u.RawQuery = q.Encode()
}

// decodeBody parses a response as JSON, falling back to the raw text when
// the body is not valid JSON.
func decodeBody(resp *http.Response) (any, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}
	var result any
	if err := codec.Unmarshal(body, &result); err != nil {
		return string(body), nil
	}
	return result, nil
}

// parseManual decodes a discovery payload, accepting YAML when the content
// type or URL suggests it.
func parseManual(body []byte, contentType, srcURL string, dec templates.Decoder) (*manual.Manual, error) {
	data := body
	if strings.Contains(contentType, "yaml") ||
		strings.HasSuffix(srcURL, ".yaml") || strings.HasSuffix(srcURL, ".yml") {
		var tree any
		if err := yaml.Unmarshal(body, &tree); err != nil {
			return nil, fmt.Errorf("invalid yaml manual: %w", err)
		}
		var err error
		data, err = codec.Marshal(tree)
		if err != nil {
			return nil, err
		}
	}
	return manual.Unmarshal(data, dec)
}
