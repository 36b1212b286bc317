package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/ashureev/agentdesk/internal/apiclient"
	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/inspect"
	"github.com/ashureev/agentdesk/internal/llm"
)

// DefaultMaxRounds caps the messages one group chat may produce.
const DefaultMaxRounds = 120

// maxHistory bounds the messages kept per agent across turns.
const maxHistory = 60

// roundsExhausted is the reply when MaxRounds ends a chat with no text.
const roundsExhausted = "I ran out of steps before finishing that. Could you narrow the request down?"

// Routing holds the keyword lists used by SelectSpeaker. They are checked
// case-insensitively, website first, then social, then scheduling.
type Routing struct {
	Website    []string
	Social     []string
	Scheduling []string
}

// DefaultRouting returns the built-in keyword lists.
func DefaultRouting() Routing {
	return Routing{
		Website: []string{"http", ".com", ".org"},
		Social: []string{
			"social", "instagram", "facebook", "linkedin", "twitter", "tiktok", "youtube",
			"post", "hashtag", "campaign", "content", "video", "avatar",
		},
		Scheduling: []string{
			"schedule", "appointment", "meeting", "calendar", "book", "slot", "availability",
			"contact", "lead", "demo", "sub-account", "subaccount", "crm",
		},
	}
}

// Conversation is the state of one group chat run. Messages holds this
// turn's group messages, starting with the user's.
type Conversation struct {
	Session  *domain.Session
	Messages []llm.Message

	caller string
	rounds int
	tools  []string
}

// NewConversation starts a conversation answering text.
func NewConversation(sess *domain.Session, text string) *Conversation {
	return &Conversation{
		Session:  sess,
		Messages: []llm.Message{{Role: llm.RoleUser, Name: domain.SenderUser, Text: text}},
	}
}

func (c *Conversation) latest() llm.Message {
	return c.Messages[len(c.Messages)-1]
}

// Result is the outcome of a group chat.
type Result struct {
	Agent     string
	Text      string
	Rounds    int
	ToolsUsed []string
}

// Hooks observe a group chat run. Nil fields are skipped.
type Hooks struct {
	OnSpeaker func(name string)
	OnTool    func(name string, err error, took time.Duration)
}

// GroupChat decides turn order among a roster and runs agents until one
// produces a final answer.
type GroupChat struct {
	agents      map[string]*Agent
	model       llm.Model
	routing     Routing
	maxRounds   int
	temperature *float64
	hooks       Hooks
}

// GroupChatOption configures a GroupChat.
type GroupChatOption func(*GroupChat)

// WithRouting overrides the keyword lists.
func WithRouting(r Routing) GroupChatOption {
	return func(g *GroupChat) { g.routing = r }
}

// WithMaxRounds overrides DefaultMaxRounds.
func WithMaxRounds(n int) GroupChatOption {
	return func(g *GroupChat) {
		if n > 0 {
			g.maxRounds = n
		}
	}
}

// WithTemperature sets the sampling temperature for every agent.
func WithTemperature(t float64) GroupChatOption {
	return func(g *GroupChat) { g.temperature = &t }
}

// WithHooks installs observers.
func WithHooks(h Hooks) GroupChatOption {
	return func(g *GroupChat) { g.hooks = h }
}

// NewGroupChat returns a group chat over agents.
func NewGroupChat(agents map[string]*Agent, model llm.Model, opts ...GroupChatOption) *GroupChat {
	g := &GroupChat{
		agents:    agents,
		model:     model,
		routing:   DefaultRouting(),
		maxRounds: DefaultMaxRounds,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// SelectSpeaker picks the next agent. Tool results go back to the agent that
// requested them. The first website mention in a session marks it provided
// and records the URL.
func (g *GroupChat) SelectSpeaker(conv *Conversation) string {
	last := conv.latest()
	if last.Role == llm.RoleTool && conv.caller != "" {
		return conv.caller
	}
	if len(conv.Session.Transcript) <= 1 {
		return Coordinator
	}

	text := strings.ToLower(last.Text)
	if !conv.Session.WebsiteProvided && containsAny(text, g.routing.Website) {
		conv.Session.WebsiteProvided = true
		if u := inspect.ExtractURL(last.Text); u != "" {
			conv.Session.WebsiteURL = u
		}
		return PreSalesAnalyst
	}
	if containsAny(text, g.routing.Social) {
		return SocialMediaStrategist
	}
	if containsAny(text, g.routing.Scheduling) {
		return LeadGenScheduler
	}
	return PreSalesAnalyst
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(text, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

// isTermination reports whether msg ends the chat.
func isTermination(msg llm.Message) bool {
	return msg.Role != llm.RoleTool && !msg.HasToolCalls()
}

// Run drives the chat until a final answer, an error, or MaxRounds. Agents
// that spoke have their memory extended with this turn's messages.
func (g *GroupChat) Run(ctx context.Context, conv *Conversation) (*Result, error) {
	var (
		speaker  string
		lastText string
		spoke    []string
	)

	for conv.rounds < g.maxRounds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name := g.SelectSpeaker(conv)
		agent, ok := g.agents[name]
		if !ok {
			return nil, fmt.Errorf("select speaker: %w: %s", domain.ErrUnknownAgent, name)
		}
		if name != speaker {
			speaker = name
			if !slices.Contains(spoke, name) {
				spoke = append(spoke, name)
			}
			if g.hooks.OnSpeaker != nil {
				g.hooks.OnSpeaker(name)
			}
		}

		msg, err := g.step(ctx, agent, conv)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		conv.Messages = append(conv.Messages, msg)
		conv.rounds++
		if msg.Text != "" {
			lastText = msg.Text
		}

		if isTermination(msg) {
			g.remember(conv, spoke)
			return &Result{Agent: name, Text: msg.Text, Rounds: conv.rounds, ToolsUsed: conv.tools}, nil
		}

		conv.caller = name
		results, err := g.runTools(ctx, agent, msg.ToolCalls, conv)
		if err != nil {
			return nil, err
		}
		conv.Messages = append(conv.Messages, llm.Message{Role: llm.RoleTool, Name: name, ToolResults: results})
		conv.rounds++
	}

	slog.Warn("Group chat hit round limit", "rounds", conv.rounds, "agent", speaker)
	g.remember(conv, spoke)
	if lastText == "" {
		lastText = roundsExhausted
	}
	return &Result{Agent: speaker, Text: lastText, Rounds: conv.rounds, ToolsUsed: conv.tools}, nil
}

// step asks agent for its next message.
func (g *GroupChat) step(ctx context.Context, agent *Agent, conv *Conversation) (llm.Message, error) {
	history := conv.Session.History(agent.Name)
	msgs := make([]llm.Message, 0, len(history)+len(conv.Messages))
	msgs = append(msgs, history...)
	msgs = append(msgs, conv.Messages...)

	resp, err := g.model.Generate(ctx, llm.Request{
		SystemPrompt: agent.SystemPrompt,
		Messages:     msgs,
		Tools:        agent.Tools.Specs(),
		Temperature:  g.temperature,
	})
	if err != nil {
		return llm.Message{}, fmt.Errorf("generate: %w", err)
	}
	return llm.Message{
		Role:      llm.RoleAssistant,
		Name:      agent.Name,
		Text:      resp.Text,
		ToolCalls: resp.ToolCalls,
	}, nil
}

// runTools executes calls in order. Tool failures are handed back to the
// model as results; only cancellation aborts the chat.
func (g *GroupChat) runTools(ctx context.Context, agent *Agent, calls []llm.ToolCall, conv *Conversation) ([]llm.ToolResult, error) {
	results := make([]llm.ToolResult, 0, len(calls))
	for _, call := range calls {
		args, err := json.Marshal(call.Args)
		if err != nil {
			return nil, fmt.Errorf("encode %s arguments: %w", call.Name, err)
		}

		start := time.Now()
		out, err := agent.Tools.Execute(ctx, call.Name, args)
		if g.hooks.OnTool != nil {
			g.hooks.OnTool(call.Name, err, time.Since(start))
		}
		conv.tools = append(conv.tools, call.Name)

		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			slog.Warn("Tool call failed",
				"agent", agent.Name,
				"tool", call.Name,
				"status", apiclient.StatusCode(err),
				"timeout", apiclient.IsTimeout(err),
				"error", err)
			results = append(results, llm.ToolResult{CallID: call.ID, Name: call.Name, Error: err.Error()})
			continue
		}

		recordArtifact(conv.Session, out)
		results = append(results, llm.ToolResult{CallID: call.ID, Name: call.Name, Output: out})
	}
	return results, nil
}

// recordArtifact remembers screenshot and favicon files on the session.
func recordArtifact(sess *domain.Session, out any) {
	switch r := out.(type) {
	case *inspect.ScreenshotResult:
		sess.ScreenshotPath = r.LocalPath
		if sess.WebsiteURL == "" {
			sess.WebsiteURL = r.URL
		}
	case *inspect.FaviconResult:
		sess.FaviconPath = r.LocalPath
		if sess.WebsiteURL == "" {
			sess.WebsiteURL = r.URL
		}
	}
}

// remember appends this turn to the memory of every agent that spoke.
func (g *GroupChat) remember(conv *Conversation, spoke []string) {
	for _, name := range spoke {
		history := append(append([]llm.Message(nil), conv.Session.History(name)...), conv.Messages...)
		conv.Session.SetHistory(name, trimHistory(history, maxHistory))
	}
}

// trimHistory keeps at most limit messages and starts the kept window on a
// user message so tool calls and their results stay paired.
func trimHistory(msgs []llm.Message, limit int) []llm.Message {
	if len(msgs) <= limit {
		return msgs
	}
	start := len(msgs) - limit
	for start < len(msgs) && msgs[start].Role != llm.RoleUser {
		start++
	}
	return msgs[start:]
}
