// Package solar wraps the Google Solar building-insights API.
package solar

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/ashureev/agentdesk/internal/apiclient"
	"github.com/ashureev/agentdesk/internal/config"
	"github.com/ashureev/agentdesk/internal/domain"
)

// Client calls the Solar API.
type Client struct {
	api    *apiclient.Client
	apiKey string
}

// New creates a Solar client.
func New(cfg config.ServiceConfig, opts ...apiclient.Option) *Client {
	return &Client{api: apiclient.New(cfg.BaseURL, opts...), apiKey: cfg.APIKey}
}

// ReportRequest locates a building.
type ReportRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Quality   string  `json:"quality,omitempty"` // HIGH, MEDIUM or LOW
}

// BuildingInsights returns the solar potential of the building closest to
// the point.
func (c *Client) BuildingInsights(ctx context.Context, req ReportRequest) (map[string]any, error) {
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		return nil, fmt.Errorf("%w: coordinates out of range", domain.ErrInvalidRequest)
	}
	quality := req.Quality
	switch quality {
	case "HIGH", "MEDIUM", "LOW":
	default:
		quality = "HIGH"
	}
	q := url.Values{
		"location.latitude":  {strconv.FormatFloat(req.Latitude, 'f', -1, 64)},
		"location.longitude": {strconv.FormatFloat(req.Longitude, 'f', -1, 64)},
		"requiredQuality":    {quality},
		"key":                {c.apiKey},
	}
	return c.api.Get(ctx, "solar building insights", "/v1/buildingInsights:findClosest", q)
}
