package repository

import (
	"context"
	"sync"

	"github.com/toolmux/toolmux/src/errs"
	"github.com/toolmux/toolmux/src/manual"
	"github.com/toolmux/toolmux/src/templates"
	"github.com/toolmux/toolmux/src/tools"
)

// InMemoryToolRepository is the default ToolRepository: readers-writer
// locking, unbounded concurrent reads, serialized writes. The exclusive
// section covers only the in-memory mutation, so a re-registration swaps the
// old and new tool sets within one critical section.
type InMemoryToolRepository struct {
	mu sync.RWMutex

	manuals   map[string]*manual.Manual
	tplByName map[string]templates.CallTemplate
	toolIndex map[string]tools.Tool

	// Manual registration order; replacement keeps the original position so
	// search tie-breaks stay stable.
	order []string
}

// NewInMemoryToolRepository creates an empty in-memory repository.
func NewInMemoryToolRepository() *InMemoryToolRepository {
	return &InMemoryToolRepository{
		manuals:   make(map[string]*manual.Manual),
		tplByName: make(map[string]templates.CallTemplate),
		toolIndex: make(map[string]tools.Tool),
	}
}

// SaveManual implements ToolRepository.
func (r *InMemoryToolRepository) SaveManual(ctx context.Context, tpl templates.CallTemplate, m *manual.Manual) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	name := tpl.TemplateName()

	r.mu.Lock()
	defer r.mu.Unlock()

	if old, exists := r.manuals[name]; exists {
		for _, t := range old.Tools {
			delete(r.toolIndex, t.Name)
		}
	} else {
		r.order = append(r.order, name)
	}

	stored := &manual.Manual{FormatVersion: m.FormatVersion}
	stored.Tools = append(stored.Tools, m.Tools...)

	r.manuals[name] = stored
	r.tplByName[name] = tpl
	for _, t := range stored.Tools {
		r.toolIndex[t.Name] = t
	}
	return nil
}

// RemoveManual implements ToolRepository.
func (r *InMemoryToolRepository) RemoveManual(ctx context.Context, manualName string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, exists := r.manuals[manualName]
	if !exists {
		return false, nil
	}
	for _, t := range old.Tools {
		delete(r.toolIndex, t.Name)
	}
	delete(r.manuals, manualName)
	delete(r.tplByName, manualName)
	for i, n := range r.order {
		if n == manualName {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true, nil
}

// RemoveTool implements ToolRepository.
func (r *InMemoryToolRepository) RemoveTool(ctx context.Context, toolName string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.toolIndex[toolName]; !exists {
		return false, nil
	}
	delete(r.toolIndex, toolName)
	for _, m := range r.manuals {
		for i, t := range m.Tools {
			if t.Name == toolName {
				m.Tools = append(m.Tools[:i], m.Tools[i+1:]...)
				break
			}
		}
	}
	return true, nil
}

// GetTool implements ToolRepository.
func (r *InMemoryToolRepository) GetTool(ctx context.Context, toolName string) (*tools.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.toolIndex[toolName]
	if !ok {
		return nil, &errs.ToolNotFoundError{ToolName: toolName}
	}
	cp := t
	return &cp, nil
}

// GetTools implements ToolRepository.
func (r *InMemoryToolRepository) GetTools(ctx context.Context) ([]tools.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var all []tools.Tool
	for _, name := range r.order {
		all = append(all, r.manuals[name].Tools...)
	}
	return all, nil
}

// GetToolsByManual implements ToolRepository.
func (r *InMemoryToolRepository) GetToolsByManual(ctx context.Context, manualName string) ([]tools.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.manuals[manualName]
	if !ok {
		return nil, &errs.ManualNotFoundError{ManualName: manualName}
	}
	return append([]tools.Tool(nil), m.Tools...), nil
}

// GetManual implements ToolRepository.
func (r *InMemoryToolRepository) GetManual(ctx context.Context, manualName string) (*manual.Manual, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.manuals[manualName]
	if !ok {
		return nil, &errs.ManualNotFoundError{ManualName: manualName}
	}
	cp := &manual.Manual{FormatVersion: m.FormatVersion}
	cp.Tools = append(cp.Tools, m.Tools...)
	return cp, nil
}

// GetManuals implements ToolRepository.
func (r *InMemoryToolRepository) GetManuals(ctx context.Context) ([]manual.Manual, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]manual.Manual, 0, len(r.order))
	for _, name := range r.order {
		m := r.manuals[name]
		cp := manual.Manual{FormatVersion: m.FormatVersion}
		cp.Tools = append(cp.Tools, m.Tools...)
		out = append(out, cp)
	}
	return out, nil
}

// GetManualTemplate implements ToolRepository.
func (r *InMemoryToolRepository) GetManualTemplate(ctx context.Context, manualName string) (templates.CallTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tpl, ok := r.tplByName[manualName]
	if !ok {
		return nil, &errs.ManualNotFoundError{ManualName: manualName}
	}
	return tpl, nil
}
