package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/inspect"
	"github.com/ashureev/agentdesk/internal/llm"
	"github.com/ashureev/agentdesk/internal/mock"
	"github.com/ashureev/agentdesk/internal/store"
	"github.com/ashureev/agentdesk/internal/tools"
	"github.com/stretchr/testify/require"
)

// scriptedModel replies with responses in order, then with "ok" forever.
// Every request is kept for inspection.
type scriptedModel struct {
	mu        sync.Mutex
	responses []*llm.Response
	requests  []llm.Request
}

func script(responses ...*llm.Response) *scriptedModel {
	return &scriptedModel{responses: responses}
}

func (s *scriptedModel) model() *mock.Model {
	return &mock.Model{GenerateFn: func(_ context.Context, req llm.Request) (*llm.Response, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.requests = append(s.requests, req)
		if len(s.responses) == 0 {
			return &llm.Response{Text: "ok"}, nil
		}
		r := s.responses[0]
		s.responses = s.responses[1:]
		return r, nil
	}}
}

func (s *scriptedModel) Requests() []llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Request(nil), s.requests...)
}

func toolCall(id, name string, args map[string]any) *llm.Response {
	return &llm.Response{ToolCalls: []llm.ToolCall{{ID: id, Name: name, Args: args}}}
}

// testTools registers stand-ins for the catalog tools the tests exercise.
// capture_screenshot writes a real file into dir.
func testTools(t *testing.T, dir string) *tools.Registry {
	t.Helper()
	reg := tools.NewRegistry()

	type urlArgs struct {
		URL string `json:"url"`
	}
	require.NoError(t, reg.Register(tools.Tool{
		Spec: llm.ToolSpec{Name: tools.CaptureScreenshot, Description: "Capture a screenshot."},
		Handler: tools.Bind(func(_ context.Context, a urlArgs) (*inspect.ScreenshotResult, error) {
			name := "screenshot_acme.com_1700000000.png"
			local := filepath.Join(dir, name)
			if err := os.WriteFile(local, []byte("png"), 0o644); err != nil {
				return nil, err
			}
			return &inspect.ScreenshotResult{URL: a.URL, Path: local, Filename: name, LocalPath: local}, nil
		}),
	}))

	type queryArgs struct {
		Query string `json:"query"`
	}
	require.NoError(t, reg.Register(tools.Tool{
		Spec: llm.ToolSpec{Name: tools.SearchWeb, Description: "Search the web."},
		Handler: tools.Bind(func(_ context.Context, a queryArgs) (map[string]any, error) {
			return map[string]any{"query": a.Query, "answer": "Acme sells anvils"}, nil
		}),
	}))
	return reg
}

type testEnv struct {
	svc      *Service
	emitter  *mock.Emitter
	registry *store.Memory
	model    *scriptedModel
	dir      string
}

func newTestEnv(t *testing.T, model *scriptedModel) *testEnv {
	t.Helper()
	dir := t.TempDir()
	env := &testEnv{
		emitter:  &mock.Emitter{},
		registry: store.NewMemory(0, 0),
		model:    model,
		dir:      dir,
	}
	svc, err := NewService(ServiceConfig{
		Registry: env.registry,
		Model:    model.model(),
		Emitter:  env.emitter,
		Tools:    testTools(t, dir),
	})
	require.NoError(t, err)
	env.svc = svc
	return env
}

func (e *testEnv) session(t *testing.T, userID, sessionID string) *domain.Session {
	t.Helper()
	sess, err := e.registry.Get(context.Background(), userID+"_"+sessionID)
	require.NoError(t, err)
	return sess
}

func decodeJSON(t *testing.T, data []byte, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(data, v))
}
