package inspect

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	maxPageBytes = 2 << 20
	maxIconBytes = 1 << 20
	userAgent    = "Mozilla/5.0 (compatible; agentdesk/1.0)"
)

var iconExtensions = map[string]string{
	"image/png":                ".png",
	"image/x-icon":             ".ico",
	"image/vnd.microsoft.icon": ".ico",
	"image/svg+xml":            ".svg",
	"image/jpeg":               ".jpg",
	"image/gif":                ".gif",
	"image/webp":               ".webp",
}

// FetchFavicon downloads the site's icon. It prefers a <link rel="icon">
// declared in the page and falls back to /favicon.ico.
func (i *Inspector) FetchFavicon(ctx context.Context, rawURL string) (*FaviconResult, error) {
	u, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	candidates := i.iconCandidates(ctx, u)
	var lastErr error
	for _, iconURL := range candidates {
		res, err := i.download(ctx, u, iconURL)
		if err == nil {
			return res, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("fetch favicon for %s: %w", u.Host, lastErr)
}

// iconCandidates lists icon URLs to try in order.
func (i *Inspector) iconCandidates(ctx context.Context, site *url.URL) []*url.URL {
	fallback := &url.URL{Scheme: site.Scheme, Host: site.Host, Path: "/favicon.ico"}

	resp, err := i.get(ctx, site.String())
	if err != nil {
		return []*url.URL{fallback}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return []*url.URL{fallback}
	}

	base := resp.Request.URL
	var out []*url.URL
	for _, href := range findIconLinks(io.LimitReader(resp.Body, maxPageBytes)) {
		ref, err := url.Parse(href)
		if err != nil {
			continue
		}
		out = append(out, base.ResolveReference(ref))
	}
	// The root of the final host after redirects.
	fallback.Scheme, fallback.Host = base.Scheme, base.Host
	return append(out, fallback)
}

// findIconLinks returns href values of icon links in document order.
func findIconLinks(r io.Reader) []string {
	var hrefs []string
	z := html.NewTokenizer(r)
	for {
		switch z.Next() {
		case html.ErrorToken:
			return hrefs
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if atom.Lookup(name) == atom.Body {
				return hrefs
			}
			if atom.Lookup(name) != atom.Link || !hasAttr {
				continue
			}
			var rel, href string
			for {
				key, val, more := z.TagAttr()
				switch string(key) {
				case "rel":
					rel = strings.ToLower(string(val))
				case "href":
					href = strings.TrimSpace(string(val))
				}
				if !more {
					break
				}
			}
			if href == "" || strings.HasPrefix(href, "data:") {
				continue
			}
			for _, f := range strings.Fields(rel) {
				if f == "icon" || f == "apple-touch-icon" {
					hrefs = append(hrefs, href)
					break
				}
			}
		}
	}
}

func (i *Inspector) download(ctx context.Context, site, iconURL *url.URL) (*FaviconResult, error) {
	resp, err := i.get(ctx, iconURL.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("icon %s: unexpected status %d", iconURL, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxIconBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read icon %s: %w", iconURL, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("icon %s is empty", iconURL)
	}
	if len(data) > maxIconBytes {
		return nil, fmt.Errorf("icon %s exceeds %d bytes", iconURL, maxIconBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if strings.HasPrefix(mediaType, "text/") {
		return nil, fmt.Errorf("icon %s served as %s", iconURL, mediaType)
	}
	ext := iconExt(iconURL, mediaType)

	if err := os.MkdirAll(i.staticDir, 0o755); err != nil {
		return nil, fmt.Errorf("create static directory: %w", err)
	}
	name := FaviconFilename(site.Host, ext)
	local := filepath.Join(i.staticDir, name)
	if err := os.WriteFile(local, data, 0o644); err != nil {
		return nil, fmt.Errorf("write favicon: %w", err)
	}

	return &FaviconResult{
		URL:         site.String(),
		IconURL:     iconURL.String(),
		Path:        local,
		Filename:    name,
		ContentType: mediaType,
		LocalPath:   local,
	}, nil
}

func (i *Inspector) get(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := i.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", target, err)
	}
	return resp, nil
}

func iconExt(u *url.URL, mediaType string) string {
	switch ext := strings.ToLower(path.Ext(u.Path)); ext {
	case ".ico", ".png", ".svg", ".jpg", ".jpeg", ".gif", ".webp":
		return ext
	}
	if ext, ok := iconExtensions[mediaType]; ok {
		return ext
	}
	return ".ico"
}
