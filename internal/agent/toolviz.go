package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/inspect"
	"github.com/ashureev/agentdesk/internal/tools"
	"github.com/google/uuid"
)

// StaticPrefix is the URL prefix inspection files are served under.
const StaticPrefix = "static"

type scopeKey struct{}

// Scope identifies where the events of a request go.
type Scope struct {
	ConnectionID string
	RequestID    string
}

// WithScope attaches s to ctx.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope on ctx, if any.
func ScopeFrom(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	return s, ok && s.ConnectionID != ""
}

// Visualize returns middleware for tools.Registry.Wrap that reports each
// call to the connection in the context scope as a tool_execution /
// tool_result pair sharing one execution ID. Without a scope the handler
// runs unobserved. Errors are passed through after being reported.
func Visualize(em domain.Emitter) func(name string, next tools.Handler) tools.Handler {
	return func(name string, next tools.Handler) tools.Handler {
		return func(ctx context.Context, args json.RawMessage) (any, error) {
			scope, ok := ScopeFrom(ctx)
			if !ok || em == nil {
				out, err := callTool(ctx, name, next, args)
				if err == nil {
					publish(out)
				}
				return out, err
			}

			execID := uuid.NewString()
			start := domain.NewEvent(domain.EventToolExecution)
			start.RequestID = scope.RequestID
			start.Tool = name
			start.ExecutionID = execID
			start.Args = decodeArgs(args)
			start.Message = "Running " + name
			em.Send(scope.ConnectionID, start)

			out, err := callTool(ctx, name, next, args)

			done := domain.NewEvent(domain.EventToolResult)
			done.RequestID = scope.RequestID
			done.Tool = name
			done.ExecutionID = execID
			if err != nil {
				done.Status = "error"
				done.Error = err.Error()
			} else {
				publish(out)
				done.Status = "success"
				done.Result = out
			}
			if !em.Send(scope.ConnectionID, done) {
				slog.Debug("Tool result not delivered", "connection_id", scope.ConnectionID, "tool", name)
			}
			return out, err
		}
	}
}

func publish(out any) {
	if p, ok := out.(inspect.Publisher); ok {
		p.Publish(StaticPrefix)
	}
}

func decodeArgs(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	return m
}

// callTool runs next, reporting a panic as the tool's error.
func callTool(ctx context.Context, name string, next tools.Handler, args json.RawMessage) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Tool panicked", "tool", name, "panic", r)
			out, err = nil, fmt.Errorf("%s panicked: %v", name, r)
		}
	}()
	return next(ctx, args)
}
