package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCORS(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })

	tests := []struct {
		name       string
		allowed    []string
		origin     string
		wantOrigin string
		wantCreds  string
		method     string
		wantStatus int
	}{
		{"wildcard", []string{"*"}, "http://a.example", "http://a.example", "", http.MethodGet, http.StatusTeapot},
		{"explicit", []string{"http://a.example"}, "http://a.example", "http://a.example", "true", http.MethodGet, http.StatusTeapot},
		{"rejected", []string{"http://a.example"}, "http://b.example", "", "", http.MethodGet, http.StatusTeapot},
		{"preflight", []string{"*"}, "http://a.example", "http://a.example", "", http.MethodOptions, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/chat", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			CORS(tt.allowed)(ok).ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.wantCreds, w.Header().Get("Access-Control-Allow-Credentials"))
		})
	}
}

type observation struct {
	method, route string
	status        int
}

type recorder struct {
	mu   sync.Mutex
	seen []observation
}

func (r *recorder) ObserveHTTP(method, route string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, observation{method, route, status})
}

func TestMetricsUsesRoutePattern(t *testing.T) {
	rec := &recorder{}
	r := chi.NewRouter()
	r.Use(Metrics(rec))
	r.Get("/chat-status/{request_id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/ok", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/chat-status/abc", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))

	require.Len(t, rec.seen, 2)
	assert.Equal(t, observation{"GET", "/chat-status/{request_id}", http.StatusNotFound}, rec.seen[0])
	assert.Equal(t, observation{"GET", "/ok", http.StatusOK}, rec.seen[1])
}
