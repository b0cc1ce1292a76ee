package github

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github-activity-relay/internal/config"
	"github-activity-relay/internal/models"
)

// Client reads the REST public events endpoint.
type Client struct {
	*transport
	baseURL string
}

// NewClient creates a REST events client. A nil httpClient uses one with
// the configured timeout.
func NewClient(cfg config.GitHubConfig, httpClient *http.Client) *Client {
	return &Client{
		transport: newTransport("github-api", cfg, httpClient),
		baseURL:   strings.TrimRight(cfg.APIURL, "/"),
	}
}

// FetchEvents returns the public events of account, newest first.
func (c *Client) FetchEvents(ctx context.Context, account string) ([]models.Event, error) {
	endpoint := c.baseURL + "/users/" + url.PathEscape(account) + "/events/public"
	return c.fetch(ctx, account, endpoint, "application/vnd.github+json", decodeEvents)
}

func decodeEvents(r io.Reader) ([]models.Event, error) {
	var events []models.Event
	if err := json.NewDecoder(r).Decode(&events); err != nil {
		return nil, err
	}
	return events, nil
}
