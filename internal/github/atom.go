package github

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
	"github.com/sirupsen/logrus"

	"github-activity-relay/internal/config"
	"github-activity-relay/internal/models"
)

// AtomClient reads the public Atom feed at <feed_url>/<account>.atom. The
// feed carries no payload, so events have only type, repo and time.
type AtomClient struct {
	*transport
	feedURL string
	parser  *gofeed.Parser
}

// NewAtomClient creates an Atom feed client.
func NewAtomClient(cfg config.GitHubConfig, httpClient *http.Client) *AtomClient {
	return &AtomClient{
		transport: newTransport("github-atom", cfg, httpClient),
		feedURL:   strings.TrimRight(cfg.FeedURL, "/"),
		parser:    gofeed.NewParser(),
	}
}

// FetchEvents returns the feed entries of account as events, newest first.
// Entries whose id is not a GitHub event tag are dropped.
func (c *AtomClient) FetchEvents(ctx context.Context, account string) ([]models.Event, error) {
	endpoint := c.feedURL + "/" + url.PathEscape(account) + ".atom"
	return c.fetch(ctx, account, endpoint, "application/atom+xml", func(r io.Reader) ([]models.Event, error) {
		feed, err := c.parser.Parse(r)
		if err != nil {
			return nil, err
		}

		events := make([]models.Event, 0, len(feed.Items))
		for _, item := range feed.Items {
			event, ok := itemToEvent(account, item)
			if !ok {
				logrus.WithField("account", account).Debugf("Skipping feed entry %q", item.GUID)
				continue
			}
			events = append(events, event)
		}
		return events, nil
	})
}

// itemToEvent converts an entry with an id like
// "tag:github.com,2008:PushEvent/35420516095".
func itemToEvent(account string, item *gofeed.Item) (models.Event, bool) {
	tag := item.GUID
	if i := strings.LastIndex(tag, ":"); i >= 0 {
		tag = tag[i+1:]
	}
	eventType, id, ok := strings.Cut(tag, "/")
	if !ok || eventType == "" || id == "" {
		return models.Event{}, false
	}

	published := item.PublishedParsed
	if published == nil {
		published = item.UpdatedParsed
	}
	if published == nil {
		return models.Event{}, false
	}

	login := account
	if len(item.Authors) > 0 && item.Authors[0].Name != "" {
		login = item.Authors[0].Name
	}

	return models.Event{
		ID:        id,
		Type:      eventType,
		Actor:     models.Actor{Login: login},
		Repo:      models.Repo{Name: repoFromLink(item.Link), URL: item.Link},
		Public:    true,
		CreatedAt: published.UTC().Format(models.EventTimeLayout),
	}, true
}

// repoFromLink returns owner/name from a github.com link.
func repoFromLink(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[0] + "/" + parts[1]
}
