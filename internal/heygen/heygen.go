// Package heygen wraps the HeyGen talking-avatar video API.
package heygen

import (
	"context"
	"fmt"
	"net/url"

	"github.com/ashureev/agentdesk/internal/apiclient"
	"github.com/ashureev/agentdesk/internal/config"
	"github.com/ashureev/agentdesk/internal/domain"
)

// Defaults used when a request leaves them empty.
const (
	DefaultAvatarID = "Daisy-inskirt-20220818"
	DefaultVoiceID  = "2d5b0e6cf36f460aa7fc47e3eee4ba54"
	defaultWidth    = 1280
	defaultHeight   = 720
)

// Client calls HeyGen.
type Client struct {
	api *apiclient.Client
}

// New creates a HeyGen client.
func New(cfg config.ServiceConfig, opts ...apiclient.Option) *Client {
	opts = append([]apiclient.Option{apiclient.WithHeader("X-Api-Key", cfg.APIKey)}, opts...)
	return &Client{api: apiclient.New(cfg.BaseURL, opts...)}
}

// VideoRequest describes a single-scene avatar video.
type VideoRequest struct {
	Script   string `json:"script"`
	AvatarID string `json:"avatar_id,omitempty"`
	VoiceID  string `json:"voice_id,omitempty"`
	Title    string `json:"title,omitempty"`
}

// GenerateVideo starts rendering and returns the provider response, which
// carries data.video_id.
func (c *Client) GenerateVideo(ctx context.Context, req VideoRequest) (map[string]any, error) {
	if req.Script == "" {
		return nil, fmt.Errorf("%w: script is required", domain.ErrInvalidRequest)
	}
	avatar := req.AvatarID
	if avatar == "" {
		avatar = DefaultAvatarID
	}
	voice := req.VoiceID
	if voice == "" {
		voice = DefaultVoiceID
	}

	body := map[string]any{
		"video_inputs": []map[string]any{{
			"character": map[string]any{
				"type":         "avatar",
				"avatar_id":    avatar,
				"avatar_style": "normal",
			},
			"voice": map[string]any{
				"type":       "text",
				"input_text": req.Script,
				"voice_id":   voice,
			},
		}},
		"dimension": map[string]int{"width": defaultWidth, "height": defaultHeight},
	}
	if req.Title != "" {
		body["title"] = req.Title
	}
	return c.api.Post(ctx, "generate video", "/v2/video/generate", body)
}

// StatusRequest identifies a video.
type StatusRequest struct {
	VideoID string `json:"video_id"`
}

// VideoStatus reports rendering progress and, once done, the video URL.
func (c *Client) VideoStatus(ctx context.Context, req StatusRequest) (map[string]any, error) {
	if req.VideoID == "" {
		return nil, fmt.Errorf("%w: video_id is required", domain.ErrInvalidRequest)
	}
	return c.api.Get(ctx, "video status", "/v1/video_status.get", url.Values{"video_id": {req.VideoID}})
}
