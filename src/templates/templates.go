// Package templates defines the call template model: the protocol-tagged
// configuration describing how to reach a backend. The core only understands
// a template's name, type tag, and optional auth block; all remaining fields
// are owned by the protocol implementation that resolves the type tag.
package templates

import (
	"github.com/toolmux/toolmux/src/auth"
	"github.com/toolmux/toolmux/src/codec"
)

// Namespace separator between a manual name and a tool's short name.
// Manual names must not contain it.
const NamespaceSeparator = "."

// Common type tags for the built-in protocol implementations.
const (
	TypeHTTP       = "http"
	TypeSSE        = "sse"
	TypeHTTPStream = "http_stream"
	TypeCLI        = "cli"
	TypeText       = "text"
	TypeTCP        = "tcp"
	TypeWebSocket  = "websocket"
	TypeGraphQL    = "graphql"
	TypeMCP        = "mcp"
)

// CallTemplate is implemented by all concrete template types.
type CallTemplate interface {
	// Type returns the discriminator tag.
	Type() string

	// TemplateName returns the template's configured name.
	TemplateName() string

	// SetName replaces the template's name.
	SetName(name string)

	// AuthConfig returns the template's auth block, nil when absent.
	AuthConfig() auth.Auth
}

// Decoder turns raw template JSON into a concrete CallTemplate. The protocol
// registry implements it; protocol plugins that parse discovery payloads
// depend on this interface rather than on the registry itself.
type Decoder interface {
	DecodeTemplate(data []byte) (CallTemplate, error)
}

// AuthBlock wraps an auth variant so templates can (un)marshal the
// discriminated "auth" field without per-template boilerplate.
type AuthBlock struct {
	auth.Auth
}

func (a *AuthBlock) UnmarshalJSON(data []byte) error {
	v, err := auth.Unmarshal(data)
	if err != nil {
		return err
	}
	a.Auth = v
	return nil
}

func (a AuthBlock) MarshalJSON() ([]byte, error) {
	return codec.Marshal(a.Auth)
}

// Base holds the fields common to every call template. Concrete templates
// embed it and add their protocol-specific fields.
type Base struct {
	Name             string     `json:"name"`
	CallTemplateType string     `json:"type"`
	Auth             *AuthBlock `json:"auth,omitempty"`
}

func (b *Base) Type() string {
	return b.CallTemplateType
}

func (b *Base) TemplateName() string {
	return b.Name
}

func (b *Base) SetName(name string) {
	b.Name = name
}

func (b *Base) AuthConfig() auth.Auth {
	if b.Auth == nil {
		return nil
	}
	return b.Auth.Auth
}

// TypeTagOf peeks at the "type" discriminator of raw template JSON.
func TypeTagOf(data []byte) (string, error) {
	var head struct {
		CallTemplateType string `json:"type"`
	}
	if err := codec.Unmarshal(data, &head); err != nil {
		return "", err
	}
	return head.CallTemplateType, nil
}
