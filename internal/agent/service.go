package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/ashureev/agentdesk/internal/config"
	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/identity"
	"github.com/ashureev/agentdesk/internal/inspect"
	"github.com/ashureev/agentdesk/internal/llm"
	"github.com/ashureev/agentdesk/internal/store"
	"github.com/ashureev/agentdesk/internal/templates"
	"github.com/ashureev/agentdesk/internal/tools"
	"github.com/google/uuid"
)

// Conversation log channels.
const (
	ChannelWS   = "chat_ws"
	ChannelHTTP = "chat_http"
)

// Observer receives request and tool measurements. metrics.Collector
// implements it.
type Observer interface {
	RequestFinished(status domain.RequestStatus, took time.Duration)
	SpeakerSelected(agent string)
	ToolFinished(tool string, err error, took time.Duration)
}

type nopObserver struct{}

func (nopObserver) RequestFinished(domain.RequestStatus, time.Duration) {}
func (nopObserver) SpeakerSelected(string)                              {}
func (nopObserver) ToolFinished(string, error, time.Duration)           {}

type nopEmitter struct{}

func (nopEmitter) Send(string, domain.Event) bool { return false }
func (nopEmitter) Broadcast(domain.Event) int     { return 0 }

// ChatInput is one user message.
type ChatInput struct {
	UserID    string
	SessionID string
	Message   string
	// RequestID is generated when empty.
	RequestID string
	// ConnectionID receives the events; defaults to the session's connection key.
	ConnectionID string
	// Channel labels conversation log entries.
	Channel string
}

// ChatOutput is the final answer to a ChatInput.
type ChatOutput struct {
	RequestID  string   `json:"request_id"`
	UserID     string   `json:"user_id"`
	SessionID  string   `json:"session_id"`
	Agent      string   `json:"agent"`
	Response   string   `json:"response"`
	WebsiteURL string   `json:"website_url,omitempty"`
	ToolsUsed  []string `json:"tools_used,omitempty"`
}

// HistoryView is a session transcript with its website artifacts.
type HistoryView struct {
	UserID        string               `json:"user_id"`
	SessionID     string               `json:"session_id"`
	Messages      []domain.ChatMessage `json:"messages"`
	WebsiteURL    string               `json:"website_url,omitempty"`
	ScreenshotURL string               `json:"screenshot_url,omitempty"`
	FaviconURL    string               `json:"favicon_url,omitempty"`
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Registry  store.SessionRegistry
	Model     llm.Model
	Emitter   domain.Emitter
	Tools     *tools.Registry
	Templates *templates.Index
	Tracker   *Tracker
	Logger    ConversationLogger
	Observer  Observer
	Chat      config.ChatConfig
	// Temperature is passed to every generation call when non-nil.
	Temperature *float64
}

// Service runs chat requests: it loads the session, runs the group chat,
// streams lifecycle events and saves the session.
type Service struct {
	registry    store.SessionRegistry
	model       llm.Model
	emitter     domain.Emitter
	tools       *tools.Registry
	templates   *templates.Index
	tracker     *Tracker
	log         ConversationLogger
	observer    Observer
	chat        config.ChatConfig
	temperature *float64
	locks       *keyLock
}

// NewService validates cfg and returns a Service. Tools are wrapped with
// Visualize so every call shows up on the requesting connection.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Registry == nil {
		return nil, errors.New("agent service: session registry is required")
	}
	if cfg.Model == nil {
		return nil, errors.New("agent service: model is required")
	}
	s := &Service{
		registry:    cfg.Registry,
		model:       cfg.Model,
		emitter:     cfg.Emitter,
		templates:   cfg.Templates,
		tracker:     cfg.Tracker,
		log:         cfg.Logger,
		observer:    cfg.Observer,
		chat:        cfg.Chat,
		temperature: cfg.Temperature,
		locks:       newKeyLock(),
	}
	if s.emitter == nil {
		s.emitter = nopEmitter{}
	}
	if s.tracker == nil {
		s.tracker = NewTracker()
	}
	if s.log == nil {
		s.log = noopConversationLogger{}
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.chat.MaxRounds <= 0 {
		s.chat.MaxRounds = DefaultMaxRounds
	}
	if s.chat.Greeting == "" {
		s.chat.Greeting = config.DefaultGreeting
	}
	catalog := cfg.Tools
	if catalog == nil {
		catalog = tools.NewRegistry()
	}
	s.tools = catalog.Wrap(Visualize(s.emitter))
	return s, nil
}

// Tracker exposes the request tracker.
func (s *Service) Tracker() *Tracker { return s.tracker }

// Dispatch runs a chat request for the WebSocket layer. Outcomes reach the
// client as events, so errors are only logged here.
func (s *Service) Dispatch(ctx context.Context, in ChatInput) {
	if in.Channel == "" {
		in.Channel = ChannelWS
	}
	if _, err := s.Chat(ctx, in); err != nil {
		slog.Warn("Chat request failed",
			"user_id", in.UserID,
			"session_id", in.SessionID,
			"request_id", in.RequestID,
			"error", err)
	}
}

// Chat runs a chat request and returns the final answer. Events are sent to
// in.ConnectionID throughout; the request can be cancelled by ID.
func (s *Service) Chat(ctx context.Context, in ChatInput) (*ChatOutput, error) {
	in, err := normalizeInput(in)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ctx = WithScope(ctx, Scope{ConnectionID: in.ConnectionID, RequestID: in.RequestID})

	if err := s.tracker.Start(in.RequestID, in.ConnectionID, cancel); err != nil {
		ev := domain.NewEvent(domain.EventError)
		ev.Message = "Request " + in.RequestID + " is already in progress"
		s.emit(in, ev)
		return nil, err
	}
	started := time.Now()

	out, err := s.safeProcess(ctx, in)
	if err != nil {
		s.tracker.Finish(in.RequestID, domain.StatusError, err.Error())
		s.emitError(in, err)
	} else {
		s.tracker.Finish(in.RequestID, domain.StatusCompleted, "")
	}

	status := domain.StatusCompleted
	if st, ok := s.tracker.Get(in.RequestID); ok {
		status = st.Status
	}
	s.observer.RequestFinished(status, time.Since(started))
	return out, err
}

func normalizeInput(in ChatInput) (ChatInput, error) {
	in.Message = strings.TrimSpace(in.Message)
	if in.Message == "" {
		return in, fmt.Errorf("%w: message is required", domain.ErrInvalidRequest)
	}
	if !identity.Valid(in.UserID) || !identity.Valid(in.SessionID) {
		return in, fmt.Errorf("%w: invalid user or session ID", domain.ErrInvalidRequest)
	}
	if in.RequestID == "" {
		in.RequestID = uuid.NewString()
	}
	if in.ConnectionID == "" {
		in.ConnectionID = identity.ConnectionKey(in.UserID, in.SessionID)
	}
	if in.Channel == "" {
		in.Channel = ChannelHTTP
	}
	return in, nil
}

// safeProcess turns a panic anywhere in the turn into an error so the
// request still finishes with an error event.
func (s *Service) safeProcess(ctx context.Context, in ChatInput) (out *ChatOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Chat request panicked",
				"request_id", in.RequestID,
				"panic", r,
				"stack", string(debug.Stack()))
			out, err = nil, fmt.Errorf("internal error: %v", r)
		}
	}()
	return s.process(ctx, in)
}

func (s *Service) process(ctx context.Context, in ChatInput) (*ChatOutput, error) {
	key := identity.ConnectionKey(in.UserID, in.SessionID)
	unlock := s.locks.Lock(key)
	defer unlock()

	sess, err := s.registry.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		sess = domain.NewSession(in.UserID, in.SessionID)
	}

	start := domain.NewEvent(domain.EventProcessingStart)
	start.Message = "Processing your request"
	s.emit(in, start)

	sess.Append(domain.SenderUser, "", in.Message)
	s.logEvent(in, "inbound", "chat_user_message", "", in.Message, nil)

	for i, name := range Names() {
		if i > 0 {
			if err := pause(ctx, s.chat.ThinkPause); err != nil {
				return nil, err
			}
		}
		ev := domain.NewEvent(domain.EventAgentThinking)
		ev.Agent = name
		ev.Message = name + " is reviewing your message"
		s.emit(in, ev)
	}

	roster := NewRoster(ctx, RosterConfig{
		Tools:     s.tools,
		Templates: s.templates,
		Query:     in.Message,
		Session:   sess,
	})
	opts := []GroupChatOption{
		WithMaxRounds(s.chat.MaxRounds),
		WithHooks(Hooks{
			OnSpeaker: func(name string) {
				s.observer.SpeakerSelected(name)
				if name == PreSalesAnalyst {
					s.emitAnalysisSteps(in, sess)
				}
			},
			OnTool: s.observer.ToolFinished,
		}),
	}
	if s.temperature != nil {
		opts = append(opts, WithTemperature(*s.temperature))
	}

	res, err := NewGroupChat(roster, s.model, opts...).Run(ctx, NewConversation(sess, in.Message))
	if err != nil {
		return nil, err
	}

	sess.Append(domain.SenderAI, res.Agent, res.Text)
	// The turn is complete; a late cancel must not drop it.
	if err := s.registry.Put(context.WithoutCancel(ctx), key, sess); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	final := domain.NewEvent(domain.EventAgentResponse)
	final.Agent = res.Agent
	final.Message = res.Text
	final.Final = true
	s.emit(in, final)
	s.logEvent(in, "outbound", "chat_agent_response", res.Agent, res.Text, map[string]any{
		"rounds":     res.Rounds,
		"tools_used": res.ToolsUsed,
	})

	return &ChatOutput{
		RequestID:  in.RequestID,
		UserID:     in.UserID,
		SessionID:  in.SessionID,
		Agent:      res.Agent,
		Response:   res.Text,
		WebsiteURL: sess.WebsiteURL,
		ToolsUsed:  res.ToolsUsed,
	}, nil
}

func (s *Service) emitAnalysisSteps(in ChatInput, sess *domain.Session) {
	target := sess.WebsiteURL
	if target == "" {
		target = "your request"
	}
	steps := []string{
		"Reviewing " + target,
		"Collecting website visuals",
		"Researching the market",
		"Drafting recommendations",
	}
	for _, step := range steps {
		ev := domain.NewEvent(domain.EventAgentUpdate)
		ev.Agent = PreSalesAnalyst
		ev.Status = "in_progress"
		ev.Message = step
		s.emit(in, ev)
	}
}

func (s *Service) emitError(in ChatInput, err error) {
	ev := domain.NewEvent(domain.EventError)
	ev.Final = true
	if errors.Is(err, context.Canceled) {
		ev.Message = "Request cancelled"
	} else {
		ev.Message = "An error occurred: " + err.Error()
	}
	s.emit(in, ev)
	s.logEvent(in, "outbound", "chat_error", "", ev.Message, nil)
}

// emit stamps the request ID and sends ev. A gone connection is not an error.
func (s *Service) emit(in ChatInput, ev domain.Event) {
	ev.RequestID = in.RequestID
	if !s.emitter.Send(in.ConnectionID, ev) {
		slog.Debug("Event not delivered",
			"connection_id", in.ConnectionID,
			"request_id", in.RequestID,
			"type", ev.Type)
	}
}

func (s *Service) logEvent(in ChatInput, direction, eventType, agentName, content string, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["request_id"] = in.RequestID
	s.log.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		UserID:     in.UserID,
		SessionID:  in.SessionID,
		Channel:    in.Channel,
		Direction:  direction,
		EventType:  eventType,
		Agent:      agentName,
		ContentRaw: content,
		Content:    cleanForReadability(content),
		Meta:       meta,
	})
}

// Greeting records and sends the greeting when the session has no
// transcript yet. It reports whether a greeting was sent.
func (s *Service) Greeting(ctx context.Context, userID, sessionID, connectionID string) (bool, error) {
	key := identity.ConnectionKey(userID, sessionID)
	unlock := s.locks.Lock(key)
	defer unlock()

	sess, err := s.registry.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	if sess != nil && !sess.IsNew() {
		return false, nil
	}
	if sess == nil {
		sess = domain.NewSession(userID, sessionID)
	}

	greeting := s.chat.Greeting
	sess.Append(domain.SenderAI, Coordinator, greeting)
	sess.SetHistory(Coordinator, append(sess.History(Coordinator), llm.Message{
		Role: llm.RoleAssistant,
		Name: Coordinator,
		Text: greeting,
	}))
	if err := s.registry.Put(ctx, key, sess); err != nil {
		return false, fmt.Errorf("save session: %w", err)
	}

	if connectionID == "" {
		connectionID = key
	}
	ev := domain.NewEvent(domain.EventAgentResponse)
	ev.Agent = Coordinator
	ev.Message = greeting
	ev.Final = true
	s.emitter.Send(connectionID, ev)
	s.logEvent(ChatInput{UserID: userID, SessionID: sessionID, Channel: ChannelWS}, "outbound", "chat_greeting", Coordinator, greeting, nil)
	return true, nil
}

// History returns the transcript of a session. Artifact URLs are included
// only while their files exist.
func (s *Service) History(ctx context.Context, userID, sessionID string) (*HistoryView, error) {
	view := &HistoryView{UserID: userID, SessionID: sessionID, Messages: []domain.ChatMessage{}}
	sess, err := s.registry.Get(ctx, identity.ConnectionKey(userID, sessionID))
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess == nil {
		return view, nil
	}

	view.Messages = append(view.Messages, sess.Transcript...)
	view.WebsiteURL = sess.WebsiteURL
	if view.WebsiteURL == "" {
		for _, m := range sess.Transcript {
			if m.Sender != domain.SenderUser {
				continue
			}
			if u := inspect.ExtractURL(m.Message); u != "" {
				view.WebsiteURL = u
				break
			}
		}
	}
	view.ScreenshotURL = staticURL(sess.ScreenshotPath)
	view.FaviconURL = staticURL(sess.FaviconPath)
	return view, nil
}

func staticURL(localPath string) string {
	if localPath == "" {
		return ""
	}
	if _, err := os.Stat(localPath); err != nil {
		return ""
	}
	return path.Join("/", StaticPrefix, filepath.Base(localPath))
}

// Status returns the tracked state of a request.
func (s *Service) Status(requestID string) (domain.ChatRequestState, bool) {
	return s.tracker.Get(requestID)
}

// Cancel stops a running request.
func (s *Service) Cancel(requestID string) (domain.ChatRequestState, bool) {
	st, ok := s.tracker.Cancel(requestID)
	if ok {
		slog.Info("Chat request cancel requested", "request_id", requestID, "status", st.Status)
	}
	return st, ok
}

// Disconnected is called when a connection goes away.
func (s *Service) Disconnected(connectionID string) {
	if n := s.tracker.MarkDisconnected(connectionID); n > 0 {
		slog.Info("Requests continue without a client", "connection_id", connectionID, "count", n)
	}
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
