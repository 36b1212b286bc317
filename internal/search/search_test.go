package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ashureev/agentdesk/internal/config"
	"github.com/ashureev/agentdesk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchTrimsResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "serper-key", r.Header.Get("X-API-KEY"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "acme solar", body["q"])
		assert.EqualValues(t, 2, body["num"])

		_, _ = w.Write([]byte(`{
			"answerBox": {"snippet": "Acme installs panels."},
			"organic": [
				{"title": "Acme", "link": "https://acme.example", "snippet": "Home"},
				{"title": "Acme Blog", "link": "https://acme.example/blog"},
				{"title": "Extra", "link": "https://extra.example"}
			]
		}`))
	}))
	defer srv.Close()

	c := New(config.ServiceConfig{APIKey: "serper-key", BaseURL: srv.URL})
	resp, err := c.Search(context.Background(), Request{Query: "  acme solar ", Num: 2})
	require.NoError(t, err)
	assert.Equal(t, "Acme installs panels.", resp.Answer)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "https://acme.example", resp.Results[0].Link)
	assert.Empty(t, resp.Results[1].Snippet)
}

func TestSearchEmptyQuery(t *testing.T) {
	c := New(config.ServiceConfig{APIKey: "k", BaseURL: "http://127.0.0.1:0"})
	_, err := c.Search(context.Background(), Request{Query: " "})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestSearchNoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := New(config.ServiceConfig{APIKey: "k", BaseURL: srv.URL})
	resp, err := c.Search(context.Background(), Request{Query: "nothing"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.NotNil(t, resp.Results)
}
