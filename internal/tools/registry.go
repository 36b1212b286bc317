// Package tools is the typed dispatch table mapping tool names to handlers.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/llm"
)

// Handler runs a tool with raw JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Tool binds a schema to its handler.
type Tool struct {
	Spec    llm.ToolSpec
	Handler Handler
}

// Registry maps names to tools and keeps registration order.
type Registry struct {
	tools map[string]Tool
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t. Names must be unique.
func (r *Registry) Register(t Tool) error {
	if t.Spec.Name == "" || t.Handler == nil {
		return fmt.Errorf("register tool: name and handler are required")
	}
	if _, dup := r.tools[t.Spec.Name]; dup {
		return fmt.Errorf("register tool %q: already registered", t.Spec.Name)
	}
	r.tools[t.Spec.Name] = t
	r.order = append(r.order, t.Spec.Name)
	return nil
}

// MustRegister is Register that panics on error. For static tables only.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Get looks a tool up by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.tools[name]
	return ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Len returns the number of tools.
func (r *Registry) Len() int { return len(r.order) }

// Specs returns the schemas sent to the model.
func (r *Registry) Specs() []llm.ToolSpec {
	out := make([]llm.ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Spec)
	}
	return out
}

// Subset returns a registry holding the named tools that exist in r, in the
// order given.
func (r *Registry) Subset(names ...string) *Registry {
	sub := NewRegistry()
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			_ = sub.Register(t)
		}
	}
	return sub
}

// Wrap returns a copy of r with every handler passed through mw.
func (r *Registry) Wrap(mw func(name string, next Handler) Handler) *Registry {
	out := NewRegistry()
	for _, name := range r.order {
		t := r.tools[name]
		t.Handler = mw(name, t.Handler)
		_ = out.Register(t)
	}
	return out
}

// Execute dispatches a call by name.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (any, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrToolNotFound, name)
	}
	return t.Handler(ctx, args)
}

// Bind adapts a strongly typed function to a Handler. Arguments are decoded
// into T; empty arguments leave T at its zero value.
func Bind[T any, R any](fn func(ctx context.Context, args T) (R, error)) Handler {
	return func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args T
		if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
			if err := json.Unmarshal(trimmed, &args); err != nil {
				return nil, fmt.Errorf("%w: decode arguments: %v", domain.ErrInvalidRequest, err)
			}
		}
		return fn(ctx, args)
	}
}

// NoArgs adapts a function that takes no arguments.
func NoArgs[R any](fn func(ctx context.Context) (R, error)) Handler {
	return func(ctx context.Context, _ json.RawMessage) (any, error) {
		return fn(ctx)
	}
}
