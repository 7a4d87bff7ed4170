// Package graphql implements the GraphQL protocol plugin on
// machinebox/graphql. Discovery introspects the schema; each top-level
// field becomes one tool.
package graphql

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/machinebox/graphql"

	"github.com/toolmux/toolmux/src/auth"
	"github.com/toolmux/toolmux/src/stream"
	"github.com/toolmux/toolmux/src/templates"
	"github.com/toolmux/toolmux/src/tools"
)

// Template configures a GraphQL endpoint.
type Template struct {
	templates.Base
	URL           string            `json:"url"`
	OperationType string            `json:"operation_type,omitempty"` // query, mutation, or subscription
	OperationName *string           `json:"operation_name,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
}

func (t *Template) operationType() string {
	if t.OperationType == "" {
		return "query"
	}
	return strings.ToLower(t.OperationType)
}

// TypedArgument carries an explicit GraphQL type for one argument, for
// callers whose schema types cannot be inferred from the Go value.
type TypedArgument struct {
	Value any
	Type  string
}

// Protocol executes GraphQL operations. Operations are built per call from
// the tool name and argument types; subscriptions stream over graphql-ws.
type Protocol struct {
	tokens *auth.TokenCache
	log    func(format string, args ...any)
}

// New constructs the GraphQL protocol.
func New() *Protocol {
	return &Protocol{
		tokens: auth.NewTokenCache(&http.Client{Timeout: 30 * time.Second}),
		log:    func(format string, args ...any) {},
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
	return &Template{Base: templates.Base{CallTemplateType: templates.TypeGraphQL}}
}

// RegisterManual introspects the schema and turns its top-level fields into
// tools.
func (p *Protocol) RegisterManual(ctx context.Context, tpl templates.CallTemplate) ([]tools.Tool, error) {
	gt, ok := tpl.(*Template)
	if !ok {
		return nil, fmt.Errorf("graphql protocol requires a graphql call template, got %T", tpl)
	}
	if err := checkURL(gt.URL); err != nil {
		return nil, err
	}
	headers, err := p.headers(ctx, gt)
	if err != nil {
		return nil, err
	}

	client := graphql.NewClient(introspectionURL(gt))
	req := graphql.NewRequest(`
	query IntrospectionQuery {
	  __schema {
	    queryType { fields { name description } }
	    mutationType { fields { name description } }
	    subscriptionType { fields { name description } }
	  }
	}`)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	type field struct {
		Name        string  `json:"name"`
		Description *string `json:"description"`
	}
	var resp struct {
		Schema struct {
			QueryType        *struct{ Fields []field } `json:"queryType"`
			MutationType     *struct{ Fields []field } `json:"mutationType"`
			SubscriptionType *struct{ Fields []field } `json:"subscriptionType"`
		} `json:"__schema"`
	}
	if err := client.Run(ctx, req, &resp); err != nil {
		p.log("introspection of %s failed: %v", gt.URL, err)
		return nil, fmt.Errorf("introspection failed: %w", err)
	}

	var out []tools.Tool
	add := func(fields []field, tag string) {
		for _, f := range fields {
			desc := ""
			if f.Description != nil {
				desc = *f.Description
			}
			out = append(out, tools.Tool{
				Name:        f.Name,
				Description: desc,
				Tags:        []string{tag},
			})
		}
	}
	if resp.Schema.QueryType != nil {
		add(resp.Schema.QueryType.Fields, "query")
	}
	if resp.Schema.MutationType != nil {
		add(resp.Schema.MutationType.Fields, "mutation")
	}
	if resp.Schema.SubscriptionType != nil {
		add(resp.Schema.SubscriptionType.Fields, "subscription")
	}
	return out, nil
}

// DeregisterManual is a no-op: operations are stateless per call.
func (p *Protocol) DeregisterManual(ctx context.Context, tpl templates.CallTemplate) error {
	return nil
}

// CallTool runs the named field as a query or mutation.
func (p *Protocol) CallTool(ctx context.Context, toolName string, args map[string]any, tpl templates.CallTemplate) (any, error) {
	gt, ok := tpl.(*Template)
	if !ok {
		return nil, fmt.Errorf("graphql protocol requires a graphql call template, got %T", tpl)
	}
	if err := checkURL(gt.URL); err != nil {
		return nil, err
	}
	opType := gt.operationType()
	if opType == "subscription" {
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
	if opType != "query" && opType != "mutation" {
		return nil, fmt.Errorf("invalid operation type %q", opType)
	}

	headers, err := p.headers(ctx, gt)
	if err != nil {
		return nil, err
	}
	req := graphql.NewRequest(buildOperation(opType, gt.OperationName, toolName, args))
	for k, v := range args {
		if ta, ok := v.(TypedArgument); ok {
			req.Var(k, ta.Value)
		} else {
			req.Var(k, v)
		}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := graphql.NewClient(gt.URL)
	var resp map[string]any
	if err := client.Run(ctx, req, &resp); err != nil {
		return nil, fmt.Errorf("%s execution failed: %w", opType, err)
	}
	if data, ok := resp[toolName]; ok {
		return data, nil
	}
	return resp, nil
}

// headers merges template headers with auth credentials.
func (p *Protocol) headers(ctx context.Context, gt *Template) (map[string]string, error) {
	headers := make(map[string]string, len(gt.Headers)+1)
	for k, v := range gt.Headers {
		headers[k] = v
	}
	switch cfg := gt.AuthConfig().(type) {
	case nil:
	case *auth.ApiKeyAuth:
		if !strings.EqualFold(cfg.Location, "header") {
			return nil, fmt.Errorf("api key location %q not supported for graphql", cfg.Location)
		}
		headers[cfg.VarName] = cfg.APIKey
	case *auth.BasicAuth:
		creds := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		headers["Authorization"] = "Basic " + creds
	case *auth.OAuth2Auth:
		token, err := p.tokens.AccessToken(ctx, cfg)
		if err != nil {
			return nil, err
		}
		headers["Authorization"] = "Bearer " + token
	default:
		return nil, fmt.Errorf("unsupported auth type %T", cfg)
	}
	return headers, nil
}

// buildOperation assembles the operation document for one field call, with
// variable definitions inferred from the argument values.
func buildOperation(opType string, opName *string, field string, args map[string]any) string {
	var b strings.Builder
	b.WriteString(opType + " ")
	if opName != nil {
		b.WriteString(*opName + " ")
	}

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var defs, passes []string
	for _, k := range keys {
		gqlType := "String"
		if ta, ok := args[k].(TypedArgument); ok {
			gqlType = ta.Type
		} else {
			gqlType = inferType(args[k])
		}
		defs = append(defs, fmt.Sprintf("$%s: %s", k, gqlType))
		passes = append(passes, fmt.Sprintf("%s: $%s", k, k))
	}
	if len(defs) > 0 {
		b.WriteString("(" + strings.Join(defs, ", ") + ") ")
	}
	b.WriteString("{ " + field)
	if len(passes) > 0 {
		b.WriteString("(" + strings.Join(passes, ", ") + ")")
	}
	b.WriteString(" }")
	return b.String()
}

func inferType(v any) string {
	if v == nil {
		return "String"
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "Int"
	case reflect.Float32, reflect.Float64:
		return "Float"
	case reflect.Bool:
		return "Boolean"
	case reflect.Map, reflect.Struct, reflect.Slice, reflect.Array:
		return "JSON"
	default:
		return "String"
	}
}

// introspectionURL maps subscription endpoints (ws/wss) back to their HTTP
// form for the introspection query.
func introspectionURL(gt *Template) string {
	if gt.operationType() != "subscription" {
		return gt.URL
	}
	u, err := url.Parse(gt.URL)
	if err != nil {
		return gt.URL
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	return u.String()
}

func checkURL(raw string) error {
	for _, prefix := range []string{
		"https://", "wss://",
		"http://localhost", "http://127.0.0.1",
		"ws://localhost", "ws://127.0.0.1",
	} {
		if strings.HasPrefix(raw, prefix) {
			return nil
		}
	}
	return fmt.Errorf("url must use https/wss or point at localhost, got %q", raw)
}
