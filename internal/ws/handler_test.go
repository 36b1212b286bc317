package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/agentdesk/internal/agent"
	"github.com/ashureev/agentdesk/internal/config"
	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/llm"
	"github.com/ashureev/agentdesk/internal/mock"
	"github.com/ashureev/agentdesk/internal/store"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	srv *httptest.Server
	mgr *Manager
	svc *agent.Service
}

func newTestServer(t *testing.T, limit int) *testServer {
	t.Helper()
	mgr := NewManager()
	model := &mock.Model{GenerateFn: func(_ context.Context, req llm.Request) (*llm.Response, error) {
		last := req.Messages[len(req.Messages)-1]
		return &llm.Response{Text: "echo: " + last.Text}, nil
	}}
	svc, err := agent.NewService(agent.ServiceConfig{
		Registry: store.NewMemory(0, 0),
		Model:    model,
		Emitter:  mgr,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	r := chi.NewRouter()
	NewHandler(ctx, mgr, svc, agent.NewRateLimiter(limit, time.Minute), "*", true).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, mgr: mgr, svc: svc}
}

func (s *testServer) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(s.srv.URL, "http")+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseNow() })
	return c
}

func readEvent(t *testing.T, c *websocket.Conn) domain.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := c.Read(ctx)
	require.NoError(t, err)
	var ev domain.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func sendText(t *testing.T, c *websocket.Conn, text string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(text)))
}

// readUntilFinal collects events up to and including the final response.
func readUntilFinal(t *testing.T, c *websocket.Conn) []domain.Event {
	t.Helper()
	var evs []domain.Event
	for {
		ev := readEvent(t, c)
		evs = append(evs, ev)
		if ev.Final {
			return evs
		}
	}
}

func TestConnectGreetsNewSession(t *testing.T) {
	s := newTestServer(t, 10)
	c := s.dial(t, "/ws/u1/s1")

	status := readEvent(t, c)
	assert.Equal(t, domain.EventConnectionStatus, status.Type)
	assert.Equal(t, "connected", status.Status)

	greeting := readEvent(t, c)
	assert.Equal(t, domain.EventAgentResponse, greeting.Type)
	assert.Equal(t, agent.Coordinator, greeting.Agent)
	assert.Equal(t, config.DefaultGreeting, greeting.Message)
	assert.True(t, greeting.Final)

	view, err := s.svc.History(context.Background(), "u1", "s1")
	require.NoError(t, err)
	require.Len(t, view.Messages, 1)
	assert.Equal(t, domain.SenderAI, view.Messages[0].Sender)
}

func TestChatOverWebSocket(t *testing.T) {
	s := newTestServer(t, 10)
	c := s.dial(t, "/ws/u1/s1")
	readEvent(t, c) // connection_status
	readEvent(t, c) // greeting

	sendText(t, c, `{"message":"hello team","requestId":"r1"}`)

	ack := readEvent(t, c)
	assert.Equal(t, domain.EventAck, ack.Type)
	assert.Equal(t, "r1", ack.RequestID)

	evs := readUntilFinal(t, c)
	assert.Equal(t, domain.EventProcessingStart, evs[0].Type)
	final := evs[len(evs)-1]
	assert.Equal(t, domain.EventAgentResponse, final.Type)
	assert.Equal(t, "r1", final.RequestID)
	assert.Equal(t, "echo: hello team", final.Message)

	var thinking int
	for _, ev := range evs {
		if ev.Type == domain.EventAgentThinking {
			thinking++
		}
	}
	assert.Equal(t, len(agent.Names()), thinking)

	st, ok := s.svc.Status("r1")
	require.True(t, ok)
	assert.Equal(t, domain.StatusCompleted, st.Status)
}

func TestReconnectIsNotGreetedAgain(t *testing.T) {
	s := newTestServer(t, 10)
	first := s.dial(t, "/ws/u1/s1")
	readEvent(t, first)
	readEvent(t, first)
	require.NoError(t, first.Close(websocket.StatusNormalClosure, ""))

	second := s.dial(t, "/ws/u1/s1")
	status := readEvent(t, second)
	assert.Equal(t, domain.EventConnectionStatus, status.Type)

	sendText(t, second, `{"message":"ping","requestId":"r2"}`)
	next := readEvent(t, second)
	assert.Equal(t, domain.EventAck, next.Type, "no greeting precedes the ack")
	readUntilFinal(t, second)

	view, err := s.svc.History(context.Background(), "u1", "s1")
	require.NoError(t, err)
	assert.Len(t, view.Messages, 3)
}

func TestInvalidFrames(t *testing.T) {
	s := newTestServer(t, 10)
	c := s.dial(t, "/ws/u1/s1")
	readEvent(t, c)
	readEvent(t, c)

	sendText(t, c, `not json`)
	ev := readEvent(t, c)
	assert.Equal(t, domain.EventError, ev.Type)
	assert.Equal(t, "Invalid message format", ev.Message)

	sendText(t, c, `{"message":"   "}`)
	ev = readEvent(t, c)
	assert.Equal(t, domain.EventError, ev.Type)

	// The connection survives bad frames.
	sendText(t, c, `{"message":"hi","requestId":"r3"}`)
	assert.Equal(t, domain.EventAck, readEvent(t, c).Type)
}

func TestWebSocketRateLimit(t *testing.T) {
	s := newTestServer(t, 1)
	c := s.dial(t, "/ws/u1/s1")
	readEvent(t, c)
	readEvent(t, c)

	sendText(t, c, `{"message":"one","requestId":"a"}`)
	assert.Equal(t, domain.EventAck, readEvent(t, c).Type)
	readUntilFinal(t, c)

	sendText(t, c, `{"message":"two","requestId":"b"}`)
	ev := readEvent(t, c)
	assert.Equal(t, domain.EventError, ev.Type)
	assert.Equal(t, "b", ev.RequestID)
}

func TestInvalidIDsRejected(t *testing.T) {
	s := newTestServer(t, 10)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, resp, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(s.srv.URL, "http")+"/ws/bad%20id/s1", nil)
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, 400, resp.StatusCode)
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	s := newTestServer(t, 10)
	c := s.dial(t, "/ws/u1/s1")
	readEvent(t, c)
	readEvent(t, c)
	require.Equal(t, 1, s.mgr.Count())

	require.NoError(t, c.Close(websocket.StatusNormalClosure, ""))
	require.Eventually(t, func() bool { return s.mgr.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, s.mgr.Send("u1_s1", domain.NewEvent(domain.EventAck)))
}
