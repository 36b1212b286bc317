package agent

import (
	"context"
	"testing"

	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/ashureev/agentdesk/internal/templates"
	"github.com/ashureev/agentdesk/internal/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRosterBindsTools(t *testing.T) {
	roster := NewRoster(context.Background(), RosterConfig{Tools: testTools(t, t.TempDir())})

	require.Len(t, roster, 4)
	for _, name := range Names() {
		require.Contains(t, roster, name)
	}
	assert.Equal(t, []string{tools.SearchWeb}, roster[Coordinator].Tools.Names())
	assert.Equal(t, []string{tools.CaptureScreenshot, tools.SearchWeb}, roster[PreSalesAnalyst].Tools.Names())
	assert.Equal(t, []string{tools.SearchWeb}, roster[SocialMediaStrategist].Tools.Names())
	assert.Zero(t, roster[LeadGenScheduler].Tools.Len(), "unconfigured CRM tools are left out")
	assert.Contains(t, roster[LeadGenScheduler].SystemPrompt, "No tools are configured")
}

func TestNewRosterPromptContext(t *testing.T) {
	idx := templates.NewIndex(context.Background(), []templates.Template{
		{Category: "social", Title: "Reel hooks", Content: "Open with a question about instagram reels."},
		{Category: "presales", Title: "Audit", Content: "Check the instagram links on the site."},
	}, nil)

	sess := domain.NewSession("u", "s")
	sess.WebsiteURL = "https://acme.com"
	sess.Append(domain.SenderAI, Coordinator, "Welcome!")
	sess.Append(domain.SenderUser, "", "plan instagram reels")

	roster := NewRoster(context.Background(), RosterConfig{
		Templates: idx,
		Query:     "plan instagram reels",
		Session:   sess,
	})

	social := roster[SocialMediaStrategist].SystemPrompt
	assert.Contains(t, social, "Reel hooks")
	assert.NotContains(t, social, "Audit:")
	assert.Contains(t, social, "https://acme.com")
	assert.Contains(t, social, "Coordinator: Welcome!")
	assert.NotContains(t, social, "User: plan instagram reels", "the message being answered is not repeated")

	assert.Contains(t, roster[PreSalesAnalyst].SystemPrompt, "Audit")
}
