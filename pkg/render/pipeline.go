package render

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/hublinks/hublinks/pkg/models"
)

// Filter transforms page content during a render.
type Filter interface {
	Apply(ctx context.Context, content string, rc models.RenderContext) string
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(ctx context.Context, content string, rc models.RenderContext) string

// Apply calls f.
func (f FilterFunc) Apply(ctx context.Context, content string, rc models.RenderContext) string {
	return f(ctx, content, rc)
}

// PriorityDefault is where primary content processing runs.
const PriorityDefault = 10

type entry struct {
	name     string
	priority int
	seq      int
	filter   Filter
}

// Pipeline runs registered filters in ascending priority; equal priorities
// run in registration order. Register at startup, Run from any goroutine.
type Pipeline struct {
	mu      sync.RWMutex
	entries []entry
}

// New returns an empty pipeline.
func New() *Pipeline {
	return &Pipeline{}
}

// Register adds f under a unique name.
func (p *Pipeline) Register(name string, priority int, f Filter) error {
	if f == nil {
		return fmt.Errorf("register filter %q: nil filter", name)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.entries {
		if e.name == name {
			return fmt.Errorf("register filter %q: already registered", name)
		}
	}
	entries := append(slices.Clone(p.entries), entry{name: name, priority: priority, seq: len(p.entries), filter: f})
	slices.SortStableFunc(entries, func(a, b entry) int {
		if a.priority != b.priority {
			return a.priority - b.priority
		}
		return a.seq - b.seq
	})
	p.entries = entries
	return nil
}

// Filters returns registered filter names in run order.
func (p *Pipeline) Filters() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, len(p.entries))
	for i, e := range p.entries {
		names[i] = e.name
	}
	return names
}

// Run passes content through every filter.
func (p *Pipeline) Run(ctx context.Context, content string, rc models.RenderContext) string {
	p.mu.RLock()
	entries := p.entries
	p.mu.RUnlock()
	for _, e := range entries {
		content = e.filter.Apply(ctx, content, rc)
	}
	return content
}
