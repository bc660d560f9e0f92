// Package notify tells subscribers that the feed changed.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"weibo_feed/internal/httpclient"
)

// DefaultHubURL is the public WebSub hub.
const DefaultHubURL = "https://pubsubhubbub.appspot.com/"

// HTTPClient is the subset of httpclient.Client used by the Hub.
type HTTPClient interface {
	Post(ctx context.Context, rawURL string, opts ...httpclient.Option) (*httpclient.Response, error)
}

// Hub pings a WebSub hub.
type Hub struct {
	client HTTPClient
	hubURL string
	log    *slog.Logger
}

// NewHub creates a Hub for hubURL.
func NewHub(client HTTPClient, hubURL string, log *slog.Logger) *Hub {
	return &Hub{client: client, hubURL: hubURL, log: log}
}

// Publish announces that feedURL has new content. The hub must answer 204.
func (h *Hub) Publish(ctx context.Context, feedURL string) error {
	h.log.Info("notify hub", "hub", h.hubURL, "feed", feedURL)

	form := url.Values{
		"hub.mode": {"publish"},
		"hub.url":  {feedURL},
	}
	if _, err := h.client.Post(ctx, h.hubURL, httpclient.WithForm(form), httpclient.WithStatus(http.StatusNoContent)); err != nil {
		return fmt.Errorf("notify hub: %w", err)
	}
	return nil
}
