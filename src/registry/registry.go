// Package registry maps call template type tags to the protocol
// implementations that understand them. It is populated once at client
// construction and read-only afterwards.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/toolmux/toolmux/src/codec"
	"github.com/toolmux/toolmux/src/errs"
	"github.com/toolmux/toolmux/src/stream"
	"github.com/toolmux/toolmux/src/templates"
	"github.com/toolmux/toolmux/src/tools"
)

// Protocol is the capability contract every collaborator implements for one
// call template type.
type Protocol interface {
	// RegisterManual performs the discovery call described by tpl and
	// returns the discovered tools with their short (un-namespaced) names.
	RegisterManual(ctx context.Context, tpl templates.CallTemplate) ([]tools.Tool, error)

	// CallTool invokes a discovered tool. name is the tool's namespaced name.
	CallTool(ctx context.Context, name string, args map[string]any, tpl templates.CallTemplate) (any, error)

	// DeregisterManual releases any per-manual resources. Failures are
	// best-effort and never fail the caller's deregistration.
	DeregisterManual(ctx context.Context, tpl templates.CallTemplate) error

	// NewTemplate returns a fresh template instance for decoding.
	NewTemplate() templates.CallTemplate
}

// StreamingProtocol is implemented by protocols that support streaming tool
// calls.
type StreamingProtocol interface {
	Protocol
	CallToolStream(ctx context.Context, name string, args map[string]any, tpl templates.CallTemplate) (stream.Result, error)
}

// Registry is the type tag → Protocol lookup table. Register before serving
// traffic; Freeze makes it immutable.
type Registry struct {
	mu        sync.RWMutex
	protocols map[string]Protocol
	frozen    atomic.Bool
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{protocols: make(map[string]Protocol)}
}

// Register binds a type tag to a protocol implementation. It fails after
// Freeze and for duplicate tags.
func (r *Registry) Register(typeTag string, p Protocol) error {
	if typeTag == "" || p == nil {
		return fmt.Errorf("registry: type tag and protocol must be non-empty")
	}
	if r.frozen.Load() {
		return fmt.Errorf("registry: cannot register %q after freeze", typeTag)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.protocols[typeTag]; exists {
		return fmt.Errorf("registry: type tag %q already registered", typeTag)
	}
	r.protocols[typeTag] = p
	return nil
}

// Freeze marks the registry read-only. Called by the client constructor once
// all protocols are in place.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}

// Resolve returns the protocol for a type tag, failing before any network
// I/O is attempted for unknown tags.
func (r *Registry) Resolve(typeTag string) (Protocol, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.protocols[typeTag]
	if !ok {
		return nil, &errs.UnsupportedProtocolError{TypeTag: typeTag}
	}
	return p, nil
}

// Types returns the registered type tags, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.protocols))
	for tag := range r.protocols {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// DecodeTemplate reads the type tag of raw template JSON, resolves the
// protocol, and decodes into the protocol's template type. Implements
// templates.Decoder.
func (r *Registry) DecodeTemplate(data []byte) (templates.CallTemplate, error) {
	tag, err := templates.TypeTagOf(data)
	if err != nil {
		return nil, err
	}
	p, err := r.Resolve(tag)
	if err != nil {
		return nil, err
	}
	tpl := p.NewTemplate()
	if err := codec.Unmarshal(data, tpl); err != nil {
		return nil, err
	}
	return tpl, nil
}
