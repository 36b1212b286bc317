// Package search wraps the Serper web search API.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/ashureev/agentdesk/internal/apiclient"
	"github.com/ashureev/agentdesk/internal/config"
	"github.com/ashureev/agentdesk/internal/domain"
)

const (
	defaultResults = 5
	maxResults     = 20
)

// Client calls the search API.
type Client struct {
	api *apiclient.Client
}

// New creates a search client.
func New(cfg config.ServiceConfig, opts ...apiclient.Option) *Client {
	opts = append([]apiclient.Option{apiclient.WithHeader("X-API-KEY", cfg.APIKey)}, opts...)
	return &Client{api: apiclient.New(cfg.BaseURL, opts...)}
}

// Request is a web search.
type Request struct {
	Query string `json:"query"`
	Num   int    `json:"num,omitempty"`
}

// Result is one organic hit.
type Result struct {
	Title   string `json:"title"`
	Link    string `json:"link"`
	Snippet string `json:"snippet,omitempty"`
}

// Response is the trimmed search response handed to agents.
type Response struct {
	Query   string   `json:"query"`
	Answer  string   `json:"answer,omitempty"`
	Results []Result `json:"results"`
}

// Search runs a web search and keeps the organic results.
func (c *Client) Search(ctx context.Context, req Request) (*Response, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", domain.ErrInvalidRequest)
	}
	num := req.Num
	if num <= 0 {
		num = defaultResults
	}
	num = min(num, maxResults)

	raw, err := c.api.Post(ctx, "web search", "/search", map[string]any{"q": query, "num": num})
	if err != nil {
		return nil, err
	}

	resp := &Response{Query: query, Results: []Result{}}
	if box, ok := raw["answerBox"].(map[string]any); ok {
		resp.Answer = firstString(box, "answer", "snippet")
	}
	organic, _ := raw["organic"].([]any)
	for _, item := range organic {
		hit, ok := item.(map[string]any)
		if !ok {
			continue
		}
		resp.Results = append(resp.Results, Result{
			Title:   firstString(hit, "title"),
			Link:    firstString(hit, "link"),
			Snippet: firstString(hit, "snippet"),
		})
		if len(resp.Results) == num {
			break
		}
	}
	return resp, nil
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
