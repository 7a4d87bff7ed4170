// Package toolmux is a protocol-agnostic tool-calling client. Manuals are
// discovered through call templates, stored under namespaced tool names,
// and invoked through the protocol implementation matching each template's
// type tag.
package toolmux

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/sourcegraph/conc"

	"github.com/toolmux/toolmux/src/codec"
	"github.com/toolmux/toolmux/src/config"
	"github.com/toolmux/toolmux/src/errs"
	"github.com/toolmux/toolmux/src/manual"
	"github.com/toolmux/toolmux/src/postprocess"
	"github.com/toolmux/toolmux/src/registry"
	"github.com/toolmux/toolmux/src/repository"
	"github.com/toolmux/toolmux/src/search"
	"github.com/toolmux/toolmux/src/stream"
	"github.com/toolmux/toolmux/src/substitutor"
	"github.com/toolmux/toolmux/src/templates"
	"github.com/toolmux/toolmux/src/tools"
)

var nonWordRe = regexp.MustCompile(`[^\w]`)

// SanitizeName maps an arbitrary manual or tool name onto the identifier
// alphabet: every character outside [A-Za-z0-9_] becomes an underscore.
func SanitizeName(name string) string {
	return nonWordRe.ReplaceAllString(name, "_")
}

// Client is the orchestrator tying the repository, protocol registry,
// variable substitutor, search strategy, and post-processing chain
// together. It is safe for concurrent use.
type Client struct {
	config     *config.Config
	repo       repository.ToolRepository
	registry   *registry.Registry
	search     search.Strategy
	sub        substitutor.Substitutor
	loaders    []substitutor.Loader
	processors []postprocess.PostProcessor
	log        func(format string, args ...any)
}

// NewClient builds a client, registers the default protocols plus any
// supplied via options, freezes the registry, and registers the manual call
// templates listed in the configuration. Startup template failures do not
// fail construction; each failed manual simply stays unregistered.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	o := &options{}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	cfg := o.cfg
	if cfg == nil {
		cfg = config.New()
	}
	if cfg.Variables == nil {
		cfg.Variables = make(map[string]string)
	}

	c := &Client{
		config: cfg,
		sub:    substitutor.NewDefaultSubstitutor(),
		log:    o.logger,
	}
	if c.log == nil {
		c.log = func(format string, args ...any) {}
	}

	cfgLoaders, err := cfg.BuildLoaders(o.configDir)
	if err != nil {
		return nil, err
	}
	for _, l := range cfgLoaders {
		c.loaders = append(c.loaders, l)
	}

	c.repo = o.repo
	if c.repo == nil {
		switch cfg.ToolRepository {
		case "", "in_memory":
			c.repo = repository.NewInMemoryToolRepository()
		default:
			return nil, errs.NewConfigError("unknown tool_repository: %q", cfg.ToolRepository)
		}
	}

	c.search = o.search
	if c.search == nil {
		switch cfg.ToolSearchStrategy {
		case "", "tag_and_description":
			c.search = search.NewTagSearchStrategy()
		case "embedding":
			return nil, errs.NewConfigError("embedding search requires an embedder; pass it with WithSearchStrategy")
		default:
			return nil, errs.NewConfigError("unknown tool_search_strategy: %q", cfg.ToolSearchStrategy)
		}
	}

	c.processors, err = postprocess.FromConfigs(cfg.PostProcessing)
	if err != nil {
		return nil, err
	}
	c.processors = append(c.processors, o.processors...)

	c.registry = registry.New()
	for tag, p := range defaultProtocols(c.registry, o.logger) {
		if _, override := o.protocols[tag]; override {
			continue
		}
		if err := c.registry.Register(tag, p); err != nil {
			return nil, err
		}
	}
	for tag, p := range o.protocols {
		if err := c.registry.Register(tag, p); err != nil {
			return nil, err
		}
	}
	c.registry.Freeze()

	if len(cfg.ManualCallTemplates) > 0 {
		var tpls []templates.CallTemplate
		for i, raw := range cfg.ManualCallTemplates {
			tpl, err := c.registry.DecodeTemplate(raw)
			if err != nil {
				return nil, errs.NewConfigError("manual_call_templates[%d]: %v", i, err)
			}
			tpls = append(tpls, tpl)
		}
		c.RegisterManuals(ctx, tpls)
	}
	return c, nil
}

// Registry exposes the frozen protocol registry.
func (c *Client) Registry() *registry.Registry { return c.registry }

// Repository exposes the tool repository.
func (c *Client) Repository() repository.ToolRepository { return c.repo }

// RegisterManual runs the discovery call described by tpl, namespaces the
// discovered tools, and atomically saves the resulting manual. Re-registering
// a name replaces the previous manual wholesale.
func (c *Client) RegisterManual(ctx context.Context, tpl templates.CallTemplate) (*manual.RegisterResult, error) {
	name := SanitizeName(tpl.TemplateName())
	if name == "" {
		err := errs.NewConfigError("call template has no name")
		return failedResult(name, err), err
	}
	tpl.SetName(name)

	resolved, err := c.substituteTemplate(tpl, name)
	if err != nil {
		return failedResult(name, err), err
	}

	proto, err := c.registry.Resolve(resolved.Type())
	if err != nil {
		return failedResult(name, err), err
	}

	discovered, err := proto.RegisterManual(ctx, resolved)
	if err != nil {
		c.log("manual %q discovery failed: %v", name, err)
		derr := &errs.DiscoveryError{ManualName: name, Err: err}
		return failedResult(name, derr), derr
	}

	// The repository keeps the unsubstituted template: variables are resolved
	// again on every call, so rotated credentials apply without
	// re-registration.
	namespaced := make([]tools.Tool, 0, len(discovered))
	for _, t := range discovered {
		t.Name = name + templates.NamespaceSeparator + SanitizeName(t.ShortName())
		if t.CallTemplate == nil {
			t.CallTemplate = tpl
		}
		namespaced = append(namespaced, t)
	}

	m := manual.New()
	m.Tools = namespaced
	if err := c.repo.SaveManual(ctx, tpl, m); err != nil {
		return failedResult(name, err), err
	}
	c.notifyManualChanged(name)
	c.log("registered manual %q with %d tools", name, len(namespaced))

	return &manual.RegisterResult{
		ManualName: name,
		ToolCount:  len(namespaced),
		Tools:      namespaced,
		Success:    true,
	}, nil
}

// RegisterManuals registers templates concurrently. Failures are isolated:
// each result reports its own outcome and one bad manual never blocks the
// others.
func (c *Client) RegisterManuals(ctx context.Context, tpls []templates.CallTemplate) []manual.RegisterResult {
	results := make([]manual.RegisterResult, len(tpls))
	var wg conc.WaitGroup
	for i, tpl := range tpls {
		i, tpl := i, tpl
		wg.Go(func() {
			res, err := c.RegisterManual(ctx, tpl)
			if err != nil {
				results[i] = *failedResult(SanitizeName(tpl.TemplateName()), err)
				return
			}
			results[i] = *res
		})
	}
	wg.Wait()
	return results
}

// DeregisterManual removes a manual and its tools. The protocol teardown is
// best-effort: a failing backend never blocks removal from the repository.
func (c *Client) DeregisterManual(ctx context.Context, manualName string) error {
	tpl, err := c.repo.GetManualTemplate(ctx, manualName)
	if err != nil {
		return err
	}
	if proto, rerr := c.registry.Resolve(tpl.Type()); rerr == nil {
		_ = proto.DeregisterManual(ctx, tpl)
	}
	removed, err := c.repo.RemoveManual(ctx, manualName)
	if err != nil {
		return err
	}
	if !removed {
		return &errs.ManualNotFoundError{ManualName: manualName}
	}
	c.notifyManualChanged(manualName)
	return nil
}

// CallTool invokes a registered tool by its namespaced name and runs the
// post-processing chain over the result.
func (c *Client) CallTool(ctx context.Context, toolName string, args map[string]any) (any, error) {
	tool, tpl, proto, err := c.resolveCall(ctx, toolName)
	if err != nil {
		return nil, err
	}
	result, err := proto.CallTool(ctx, toolName, args, tpl)
	if err != nil {
		return nil, &errs.CallError{ToolName: toolName, Err: err}
	}
	processed, err := postprocess.Chain(ctx, c.processors, *tool, tpl, result)
	if err != nil {
		return nil, &errs.CallError{ToolName: toolName, Err: err}
	}
	return processed, nil
}

// CallToolStream invokes a tool whose protocol supports streaming. Stream
// chunks bypass the post-processing chain; processors operate on complete
// results only.
func (c *Client) CallToolStream(ctx context.Context, toolName string, args map[string]any) (stream.Result, error) {
	_, tpl, proto, err := c.resolveCall(ctx, toolName)
	if err != nil {
		return nil, err
	}
	sp, ok := proto.(registry.StreamingProtocol)
	if !ok {
		return nil, fmt.Errorf("protocol %q does not support streaming calls", tpl.Type())
	}
	res, err := sp.CallToolStream(ctx, toolName, args, tpl)
	if err != nil {
		return nil, &errs.CallError{ToolName: toolName, Err: err}
	}
	return res, nil
}

// SearchTools ranks registered tools for a query. limit 0 returns all
// matches; tags, when given, restrict candidates to tools carrying at least
// one of them.
func (c *Client) SearchTools(ctx context.Context, query string, limit int, tags ...string) ([]tools.Tool, error) {
	return c.search.SearchTools(ctx, c.repo, query, limit, tags)
}

// GetRequiredVariablesForManual lists the fully-qualified variable names a
// call template references, before any registration is attempted.
func (c *Client) GetRequiredVariablesForManual(tpl templates.CallTemplate) ([]string, error) {
	name := SanitizeName(tpl.TemplateName())
	var tree map[string]any
	if err := codec.Roundtrip(tpl, &tree); err != nil {
		return nil, err
	}
	return c.sub.FindRequiredVariables(tree, name), nil
}

// GetRequiredVariablesForRegisteredTool lists the variables referenced by
// the call template of an already-registered tool.
func (c *Client) GetRequiredVariablesForRegisteredTool(ctx context.Context, toolName string) ([]string, error) {
	tool, err := c.lookupTool(ctx, toolName)
	if err != nil {
		return nil, err
	}
	tpl := tool.CallTemplate
	if tpl == nil {
		tpl, err = c.repo.GetManualTemplate(ctx, tool.ManualName())
		if err != nil {
			return nil, err
		}
	}
	var tree map[string]any
	if err := codec.Roundtrip(tpl, &tree); err != nil {
		return nil, err
	}
	return c.sub.FindRequiredVariables(tree, tool.ManualName()), nil
}

// resolveCall looks a tool up and prepares its call template: variables are
// substituted at call time, so rotated credentials take effect without
// re-registration.
func (c *Client) resolveCall(ctx context.Context, toolName string) (*tools.Tool, templates.CallTemplate, registry.Protocol, error) {
	tool, err := c.lookupTool(ctx, toolName)
	if err != nil {
		return nil, nil, nil, err
	}

	tpl := tool.CallTemplate
	if tpl == nil {
		tpl, err = c.repo.GetManualTemplate(ctx, tool.ManualName())
		if err != nil {
			return nil, nil, nil, err
		}
	}
	resolved, err := c.substituteTemplate(tpl, tool.ManualName())
	if err != nil {
		return nil, nil, nil, err
	}
	proto, err := c.registry.Resolve(resolved.Type())
	if err != nil {
		return nil, nil, nil, err
	}
	return tool, resolved, proto, nil
}

func (c *Client) lookupTool(ctx context.Context, toolName string) (*tools.Tool, error) {
	parts := strings.SplitN(toolName, templates.NamespaceSeparator, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, &errs.ToolNotFoundError{ToolName: toolName}
	}
	tool, err := c.repo.GetTool(ctx, toolName)
	if err != nil {
		return nil, err
	}
	if tool == nil {
		return nil, &errs.ToolNotFoundError{ToolName: toolName}
	}
	return tool, nil
}

// substituteTemplate deep-copies a template with every ${VAR} placeholder
// resolved, looking namespaced keys up before bare ones.
func (c *Client) substituteTemplate(tpl templates.CallTemplate, namespace string) (templates.CallTemplate, error) {
	var tree map[string]any
	if err := codec.Roundtrip(tpl, &tree); err != nil {
		return nil, err
	}
	substituted, err := c.sub.Substitute(tree, c.sources(), namespace)
	if err != nil {
		return nil, err
	}
	raw, err := codec.Marshal(substituted)
	if err != nil {
		return nil, err
	}
	return c.registry.DecodeTemplate(raw)
}

func (c *Client) sources() substitutor.Sources {
	return substitutor.Sources{Variables: c.config.Variables, Loaders: c.loaders}
}

func (c *Client) notifyManualChanged(manualName string) {
	if obs, ok := c.search.(repository.ManualObserver); ok {
		obs.ManualChanged(manualName)
	}
}

func failedResult(name string, err error) *manual.RegisterResult {
	return &manual.RegisterResult{
		ManualName: name,
		Success:    false,
		Errors:     []string{err.Error()},
	}
}
