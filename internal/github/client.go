// Package github fetches the public activity of GitHub accounts, either from
// the REST events API or from the public Atom feed.
package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github-activity-relay/internal/config"
	"github-activity-relay/internal/models"
)

// ErrAccountNotFound reports that the remote account does not exist.
var ErrAccountNotFound = errors.New("account not found")

// Fetcher returns the newest-first events of an account. A nil slice with a
// nil error means there is no new data this cycle.
type Fetcher interface {
	FetchEvents(ctx context.Context, account string) ([]models.Event, error)
}

// Forgetter is implemented by fetchers that cache conditional request
// validators per account.
type Forgetter interface {
	Forget(account string)
}

// New returns the fetcher selected by cfg.Source.
func New(cfg config.GitHubConfig) (Fetcher, error) {
	switch cfg.Source {
	case "", "api":
		if cfg.Token == "" {
			logrus.Warn("No GitHub token configured, API requests are limited to 60 per hour")
		}
		return NewClient(cfg, nil), nil
	case "atom":
		return NewAtomClient(cfg, nil), nil
	default:
		return nil, fmt.Errorf("unsupported github source %q", cfg.Source)
	}
}

// transport is the HTTP plumbing shared by both fetchers: rate limiting,
// a circuit breaker and conditional requests.
type transport struct {
	httpClient *http.Client
	userAgent  string
	token      string
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[[]models.Event]

	mu    sync.Mutex
	etags map[string]string
}

func newTransport(name string, cfg config.GitHubConfig, httpClient *http.Client) *transport {
	if httpClient == nil {
		timeout := cfg.APITimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	t := &transport{
		httpClient: httpClient,
		userAgent:  cfg.UserAgent,
		token:      cfg.Token,
		limiter:    rate.NewLimiter(limit, 1),
		etags:      make(map[string]string),
	}
	t.breaker = gobreaker.NewCircuitBreaker[[]models.Event](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrAccountNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logrus.WithField("breaker", name).Warnf("Circuit breaker changed from %s to %s", from, to)
		},
	})
	return t
}

// fetch performs a conditional GET of url and hands a 200 body to decode.
// A 304 yields no events.
func (t *transport) fetch(ctx context.Context, account, url, accept string, decode func(io.Reader) ([]models.Event, error)) ([]models.Event, error) {
	return t.breaker.Execute(func() ([]models.Event, error) {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", accept)
		if t.userAgent != "" {
			req.Header.Set("User-Agent", t.userAgent)
		}
		if t.token != "" {
			req.Header.Set("Authorization", "Bearer "+t.token)
		}
		t.mu.Lock()
		etag := t.etags[account]
		t.mu.Unlock()
		if etag != "" {
			req.Header.Set("If-None-Match", etag)
		}

		resp, err := t.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("request for %s failed: %w", account, err)
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
		case http.StatusNotModified:
			logrus.WithField("account", account).Debug("Feed not modified")
			return nil, nil
		case http.StatusNotFound:
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, account)
		case http.StatusForbidden, http.StatusTooManyRequests:
			if reset := resp.Header.Get("X-RateLimit-Reset"); reset != "" {
				return nil, fmt.Errorf("rate limited fetching %s, resets at %s", account, reset)
			}
			fallthrough
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
			return nil, fmt.Errorf("unexpected status %d fetching %s: %s", resp.StatusCode, account, strings.TrimSpace(string(body)))
		}

		events, err := decode(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode feed of %s: %w", account, err)
		}

		t.mu.Lock()
		t.etags[account] = resp.Header.Get("ETag")
		t.mu.Unlock()

		SortNewestFirst(events)
		return events, nil
	})
}

// Forget drops the cached validator of account so the next fetch returns
// the full page even when it did not change. Callers use it when events of
// the last page could not be delivered.
func (t *transport) Forget(account string) {
	t.mu.Lock()
	delete(t.etags, account)
	t.mu.Unlock()
}

// SortNewestFirst orders events by creation time, newest first. Events with
// an unparsable timestamp keep their relative order at the end.
func SortNewestFirst(events []models.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		ti, erri := events[i].Created()
		tj, errj := events[j].Created()
		switch {
		case erri != nil:
			return false
		case errj != nil:
			return true
		default:
			return ti.After(tj)
		}
	})
}
