// Package inspect captures website screenshots and favicons into the static
// directory served under /static/.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ErrScreenshotsDisabled is returned when no browser runner is configured.
var ErrScreenshotsDisabled = errors.New("screenshot capture is disabled")

// Screenshotter renders a URL into a file named filename and returns its
// host path. container.BrowserRunner implements it.
type Screenshotter interface {
	Screenshot(ctx context.Context, targetURL, filename string) (string, error)
}

// Publisher is implemented by results that reference a file in the static
// directory. Publish rewrites Path to a URL under prefix.
type Publisher interface {
	Publish(prefix string)
}

// ScreenshotResult is returned by CaptureScreenshot.
type ScreenshotResult struct {
	URL       string `json:"url"`
	Path      string `json:"path"`
	Filename  string `json:"filename"`
	LocalPath string `json:"-"`
}

// Publish implements Publisher.
func (r *ScreenshotResult) Publish(prefix string) {
	r.Path = publicPath(prefix, r.Filename)
}

// FaviconResult is returned by FetchFavicon.
type FaviconResult struct {
	URL         string `json:"url"`
	IconURL     string `json:"icon_url"`
	Path        string `json:"path"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	LocalPath   string `json:"-"`
}

// Publish implements Publisher.
func (r *FaviconResult) Publish(prefix string) {
	r.Path = publicPath(prefix, r.Filename)
}

// Inspector captures website artifacts.
type Inspector struct {
	staticDir  string
	shots      Screenshotter
	httpClient *http.Client
	now        func() time.Time
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithHTTPClient overrides the client used for favicon retrieval.
func WithHTTPClient(hc *http.Client) Option {
	return func(i *Inspector) { i.httpClient = hc }
}

// WithClock overrides the time source used in filenames.
func WithClock(now func() time.Time) Option {
	return func(i *Inspector) { i.now = now }
}

// New creates an Inspector writing into staticDir. shots may be nil, in
// which case CaptureScreenshot returns ErrScreenshotsDisabled.
func New(staticDir string, shots Screenshotter, opts ...Option) *Inspector {
	i := &Inspector{
		staticDir:  staticDir,
		shots:      shots,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// CaptureScreenshot renders rawURL with the headless browser.
func (i *Inspector) CaptureScreenshot(ctx context.Context, rawURL string) (*ScreenshotResult, error) {
	if i.shots == nil {
		return nil, ErrScreenshotsDisabled
	}
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	name := ScreenshotFilename(u.Host, i.now())
	local, err := i.shots.Screenshot(ctx, u.String(), name)
	if err != nil {
		return nil, fmt.Errorf("capture screenshot of %s: %w", u, err)
	}
	return &ScreenshotResult{
		URL:       u.String(),
		Path:      local,
		Filename:  name,
		LocalPath: local,
	}, nil
}

// NormalizeURL parses a user-supplied site address, defaulting the scheme
// to https.
func NormalizeURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("url %q has no host", raw)
	}
	return u, nil
}

var urlPattern = regexp.MustCompile(`(?i)\bhttps?://[^\s<>"']+|\b(?:[a-z0-9-]+\.)+(?:com|org|net|io|co|ai|dev|app|us|uk)(?:/[^\s<>"']*)?`)

// ExtractURL returns the first website address mentioned in text, or "".
func ExtractURL(text string) string {
	m := urlPattern.FindString(text)
	return strings.TrimRight(m, ".,;:!?)")
}

// ScreenshotFilename is screenshot_<host>_<unix>.png.
func ScreenshotFilename(host string, at time.Time) string {
	return fmt.Sprintf("screenshot_%s_%d.png", safeHost(host), at.Unix())
}

// FaviconFilename is favicon_<host><ext>.
func FaviconFilename(host, ext string) string {
	return "favicon_" + safeHost(host) + ext
}

func safeHost(host string) string {
	return strings.NewReplacer(":", "_", "/", "_", "\\", "_").Replace(strings.ToLower(host))
}

func publicPath(prefix, filename string) string {
	return path.Join("/", prefix, filepath.Base(filename))
}
