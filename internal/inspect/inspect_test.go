package inspect

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeShots struct {
	dir     string
	gotURL  string
	gotName string
	fail    error
}

func (f *fakeShots) Screenshot(_ context.Context, targetURL, filename string) (string, error) {
	f.gotURL, f.gotName = targetURL, filename
	if f.fail != nil {
		return "", f.fail
	}
	p := filepath.Join(f.dir, filename)
	return p, os.WriteFile(p, []byte("png"), 0o644)
}

func TestNormalizeURL(t *testing.T) {
	u, err := NormalizeURL("example.com/about")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/about", u.String())

	u, err = NormalizeURL(" http://Example.org ")
	require.NoError(t, err)
	assert.Equal(t, "http", u.Scheme)

	_, err = NormalizeURL("ftp://example.com")
	assert.Error(t, err)
	_, err = NormalizeURL("")
	assert.Error(t, err)
}

func TestExtractURL(t *testing.T) {
	cases := map[string]string{
		"check https://example.com, thanks":   "https://example.com",
		"our site is acme-solar.com/home.":    "acme-solar.com/home",
		"visit http://localhost:8080/x today": "http://localhost:8080/x",
		"no site here":                        "",
	}
	for in, want := range cases {
		assert.Equal(t, want, ExtractURL(in), in)
	}
}

func TestFilenames(t *testing.T) {
	at := time.Unix(1700000000, 0)
	assert.Equal(t, "screenshot_example.com_1700000000.png", ScreenshotFilename("Example.com", at))
	assert.Equal(t, "screenshot_localhost_8080_1700000000.png", ScreenshotFilename("localhost:8080", at))
	assert.Equal(t, "favicon_example.com.png", FaviconFilename("example.com", ".png"))
}

func TestCaptureScreenshot(t *testing.T) {
	dir := t.TempDir()
	shots := &fakeShots{dir: dir}
	at := time.Unix(1700000000, 0)
	i := New(dir, shots, WithClock(func() time.Time { return at }))

	res, err := i.CaptureScreenshot(context.Background(), "example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", shots.gotURL)
	assert.Equal(t, "screenshot_example.com_1700000000.png", res.Filename)
	assert.Equal(t, filepath.Join(dir, res.Filename), res.LocalPath)

	res.Publish("static")
	assert.Equal(t, "/static/screenshot_example.com_1700000000.png", res.Path)
	assert.Equal(t, filepath.Join(dir, res.Filename), res.LocalPath)
}

func TestCaptureScreenshotErrors(t *testing.T) {
	_, err := New(t.TempDir(), nil).CaptureScreenshot(context.Background(), "example.com")
	assert.ErrorIs(t, err, ErrScreenshotsDisabled)

	boom := errors.New("chrome crashed")
	_, err = New(t.TempDir(), &fakeShots{fail: boom}).CaptureScreenshot(context.Background(), "example.com")
	assert.ErrorIs(t, err, boom)
}

func TestFetchFaviconFromLinkTag(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head>
			<link rel="stylesheet" href="/site.css">
			<link rel="Shortcut Icon" href="/assets/brand.png">
		</head><body></body></html>`))
	})
	mux.HandleFunc("/assets/brand.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG-data"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	dir := t.TempDir()
	res, err := New(dir, nil).FetchFavicon(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/assets/brand.png", res.IconURL)
	assert.True(t, strings.HasSuffix(res.Filename, ".png"))
	assert.True(t, strings.HasPrefix(res.Filename, "favicon_127.0.0.1_"))

	data, err := os.ReadFile(res.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG-data", string(data))
}

func TestFetchFaviconFallsBackToRoot(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/favicon.ico" {
			w.Header().Set("Content-Type", "image/x-icon")
			_, _ = w.Write([]byte("ico"))
			return
		}
		_, _ = w.Write([]byte(`<html><head><title>no icon</title></head></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := New(t.TempDir(), nil).FetchFavicon(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/favicon.ico", res.IconURL)
	assert.True(t, strings.HasSuffix(res.Filename, ".ico"))
}

func TestFetchFaviconNotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New(t.TempDir(), nil).FetchFavicon(context.Background(), srv.URL)
	assert.Error(t, err)
}

func TestFindIconLinksSkipsDataURIs(t *testing.T) {
	doc := `<link rel="icon" href="data:image/png;base64,AAA"><link rel="apple-touch-icon" href="/touch.png"/>`
	assert.Equal(t, []string{"/touch.png"}, findIconLinks(strings.NewReader(doc)))
}
