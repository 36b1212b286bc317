// Package agent builds the agent roster, runs the group chat that decides
// who speaks, and orchestrates chat requests end to end.
package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/templates"
	"github.com/ashureev/agentdesk/internal/tools"
)

// Agent names.
const (
	Coordinator           = "Coordinator"
	PreSalesAnalyst       = "PreSalesAnalyst"
	SocialMediaStrategist = "SocialMediaStrategist"
	LeadGenScheduler      = "LeadGenScheduler"
)

// Agent is one role in the group chat.
type Agent struct {
	Name         string
	Description  string
	SystemPrompt string
	Tools        *tools.Registry
}

type role struct {
	name        string
	category    string
	description string
	tools       []string
}

// roles lists the roster in speaking order.
var roles = []role{
	{
		name:     Coordinator,
		category: "general",
		description: "You are the Coordinator of a small sales team. Welcome the user, work out what they need " +
			"and ask for their website when it is missing. Keep answers short and say which teammate will help next.",
		tools: []string{tools.SearchWeb},
	},
	{
		name:     PreSalesAnalyst,
		category: "presales",
		description: "You are the PreSalesAnalyst. Analyze the user's website: capture a screenshot, fetch the " +
			"favicon, research the company and competitors, and pull a solar report when the user gives a location. " +
			"Reply with a concise audit and concrete next steps.",
		tools: []string{tools.CaptureScreenshot, tools.FetchFavicon, tools.SearchWeb, tools.SolarReport},
	},
	{
		name:     SocialMediaStrategist,
		category: "social",
		description: "You are the SocialMediaStrategist. Plan social media content, campaigns and posting schedules, " +
			"and produce talking-avatar videos when the user asks for one. Check video status before promising a link.",
		tools: []string{tools.SearchWeb, tools.GenerateAvatarVideo, tools.VideoStatus},
	},
	{
		name:     LeadGenScheduler,
		category: "scheduling",
		description: "You are the LeadGenScheduler. Manage the CRM: find calendars and free slots, book appointments, " +
			"create and search contacts, and create users and sub-accounts. Confirm dates, times and time zones " +
			"before booking and never invent IDs.",
		tools: []string{
			tools.ListCalendars, tools.GetFreeSlots, tools.CreateAppointment, tools.ListAppointments,
			tools.CreateContact, tools.SearchContacts, tools.CreateUser, tools.CreateSubAccount,
		},
	},
}

// Names returns the roster names in speaking order.
func Names() []string {
	out := make([]string, len(roles))
	for i, r := range roles {
		out[i] = r.name
	}
	return out
}

// RosterConfig is the input to NewRoster.
type RosterConfig struct {
	// Tools is the full catalog; each agent receives its own subset.
	Tools *tools.Registry
	// Templates enriches prompts when non-nil.
	Templates *templates.Index
	// Query is the user message the roster is built for.
	Query string
	// Session supplies website and recent transcript context.
	Session *domain.Session
}

const (
	templatesPerAgent = 2
	contextTurns      = 8
)

// NewRoster builds the four agents for one chat request. Tools missing from
// the catalog are left out of the agent's bindings.
func NewRoster(ctx context.Context, cfg RosterConfig) map[string]*Agent {
	catalog := cfg.Tools
	if catalog == nil {
		catalog = tools.NewRegistry()
	}

	var ranked []templates.Template
	if cfg.Templates != nil {
		ranked = cfg.Templates.Lookup(ctx, cfg.Query, cfg.Templates.Len())
	}
	shared := sessionContext(cfg.Session)

	out := make(map[string]*Agent, len(roles))
	for _, r := range roles {
		a := &Agent{
			Name:        r.name,
			Description: r.description,
			Tools:       catalog.Subset(r.tools...),
		}
		a.SystemPrompt = buildPrompt(r, a.Tools, pickTemplates(ranked, r.category, templatesPerAgent), shared)
		out[r.name] = a
	}
	return out
}

func pickTemplates(ranked []templates.Template, category string, k int) []templates.Template {
	var out []templates.Template
	for _, t := range ranked {
		if len(out) == k {
			break
		}
		if t.Category == category {
			out = append(out, t)
		}
	}
	return out
}

func buildPrompt(r role, reg *tools.Registry, tpls []templates.Template, extra string) string {
	var b strings.Builder
	b.WriteString(r.description)

	if reg.Len() > 0 {
		fmt.Fprintf(&b, "\n\nTools available to you: %s.", strings.Join(reg.Names(), ", "))
	} else {
		b.WriteString("\n\nNo tools are configured for you; answer from your own knowledge.")
	}

	if len(tpls) > 0 {
		b.WriteString("\n\nPlaybooks to follow where they fit:")
		for _, t := range tpls {
			fmt.Fprintf(&b, "\n- %s: %s", t.Title, t.Content)
		}
	}

	if extra != "" {
		b.WriteString("\n\n")
		b.WriteString(extra)
	}
	return b.String()
}

// sessionContext summarizes what every agent should know about the session.
// The latest transcript entry is the message being answered and is left out.
func sessionContext(sess *domain.Session) string {
	if sess == nil {
		return ""
	}
	var b strings.Builder
	if sess.WebsiteURL != "" {
		fmt.Fprintf(&b, "The user's website is %s.", sess.WebsiteURL)
	}

	prior := sess.Transcript
	if n := len(prior); n > 0 {
		prior = prior[:n-1]
	}
	if len(prior) > contextTurns {
		prior = prior[len(prior)-contextTurns:]
	}
	if len(prior) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("Conversation so far:")
		for _, m := range prior {
			who := m.Sender
			if m.Agent != "" {
				who = m.Agent
			}
			fmt.Fprintf(&b, "\n%s: %s", who, m.Message)
		}
	}
	return b.String()
}
