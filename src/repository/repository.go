// Package repository stores registered manuals and their tools.
package repository

import (
	"context"

	"github.com/toolmux/toolmux/src/manual"
	"github.com/toolmux/toolmux/src/templates"
	"github.com/toolmux/toolmux/src/tools"
)

// ToolRepository is the concurrent keyed store of tools grouped by owning
// manual. Namespaced tool names ("manual_name.tool_name") are the only
// supported lookup key. Implementations must make a manual's tool set
// visible atomically: a reader never observes a partially-saved or
// partially-removed manual.
type ToolRepository interface {
	// SaveManual saves or wholesale-replaces a manual and its tools in one
	// atomic operation.
	SaveManual(ctx context.Context, tpl templates.CallTemplate, m *manual.Manual) error

	// RemoveManual removes a manual and all of its tools. Returns false if
	// the manual is unknown.
	RemoveManual(ctx context.Context, manualName string) (bool, error)

	// RemoveTool removes a single tool by namespaced name. Returns false if
	// the tool is unknown.
	RemoveTool(ctx context.Context, toolName string) (bool, error)

	// GetTool looks up a tool by namespaced name.
	GetTool(ctx context.Context, toolName string) (*tools.Tool, error)

	// GetTools returns a snapshot copy of every registered tool, in manual
	// registration order.
	GetTools(ctx context.Context) ([]tools.Tool, error)

	// GetToolsByManual returns a snapshot of one manual's tools.
	GetToolsByManual(ctx context.Context, manualName string) ([]tools.Tool, error)

	// GetManual returns a registered manual.
	GetManual(ctx context.Context, manualName string) (*manual.Manual, error)

	// GetManuals returns a snapshot of all manuals in registration order.
	GetManuals(ctx context.Context) ([]manual.Manual, error)

	// GetManualTemplate returns the root call template a manual was
	// registered with.
	GetManualTemplate(ctx context.Context, manualName string) (templates.CallTemplate, error)
}

// ManualObserver is optionally implemented by components that cache derived
// per-tool state (e.g. embedding vectors) and need to drop it when a manual
// is replaced or removed.
type ManualObserver interface {
	ManualChanged(manualName string)
}
