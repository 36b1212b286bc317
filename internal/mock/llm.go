// Package mock provides test doubles for agentdesk interfaces using function fields.
package mock

import (
	"context"

	"github.com/ashureev/agentdesk/internal/llm"
)

// Interface compliance checks.
var (
	_ llm.Model    = (*Model)(nil)
	_ llm.Embedder = (*Embedder)(nil)
)

// Model is a test double for llm.Model.
// Set GenerateFn before calling Generate.
type Model struct {
	GenerateFn func(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// Generate delegates to GenerateFn.
func (m *Model) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return m.GenerateFn(ctx, req)
}

// Embedder is a test double for llm.Embedder.
// Set EmbedFn before calling Embed.
type Embedder struct {
	EmbedFn func(ctx context.Context, texts []string) ([][]float32, error)
}

// Embed delegates to EmbedFn.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return e.EmbedFn(ctx, texts)
}
