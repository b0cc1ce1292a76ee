// Package render turns typed events into notification text using a table
// of templates keyed by event type and action.
package render

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/template"
	"time"

	"github.com/sirupsen/logrus"

	"github-activity-relay/internal/config"
	"github-activity-relay/internal/models"
)

// ErrTemplateMissing reports that no template exists for an event's type
// or action. It is a configuration fact, so retrying never helps.
var ErrTemplateMissing = errors.New("template missing")

// Format is the form of a rendered notification.
type Format string

const (
	FormatText  Format = "text"
	FormatImage Format = "image"
)

// Notification is a rendered event ready for delivery.
type Notification struct {
	Account   string
	EventID   string
	EventType string
	Repo      string
	Header    string
	Body      string
	Format    Format
	CreatedAt time.Time
}

// Text returns the full message as sent to text destinations.
func (n *Notification) Text() string {
	if n.Header == "" {
		return n.Body
	}
	return n.Header + "\n\n" + n.Body
}

// Renderer renders events. It is safe for concurrent use.
type Renderer struct {
	header   *template.Template
	events   map[string]map[string]*template.Template
	disabled map[string]bool
}

// New builds a Renderer from the built-in table merged with cfg overrides.
// Every template is parsed and trial-executed here, so a template naming
// an unknown field fails at startup rather than at delivery time.
func New(cfg config.TemplatesConfig, image bool) (*Renderer, error) {
	r := &Renderer{
		events:   make(map[string]map[string]*template.Template),
		disabled: make(map[string]bool),
	}

	if cfg.Header != "" {
		header, err := parse("header", cfg.Header)
		if err != nil {
			return nil, err
		}
		r.header = header
	}

	merged := make(map[string]map[string]string, len(defaultTemplates))
	for eventType, table := range defaultTemplates {
		merged[eventType] = make(map[string]string, len(table))
		for key, text := range table {
			merged[eventType][key] = text
		}
	}
	for name, table := range cfg.Events {
		eventType := canonicalType(name)
		if merged[eventType] == nil {
			merged[eventType] = make(map[string]string, len(table))
		}
		for key, text := range table {
			merged[eventType][strings.ToLower(key)] = text
		}
	}

	for eventType, table := range merged {
		r.events[eventType] = make(map[string]*template.Template, len(table))
		for key, text := range table {
			tmpl, err := parse(eventType+"."+key, text)
			if err != nil {
				return nil, err
			}
			r.events[eventType][key] = tmpl
		}
	}

	for _, name := range cfg.Disabled {
		r.disabled[canonicalType(name)] = true
	}

	if image {
		logrus.Warn("Image notifications are not available, falling back to text")
	}

	return r, nil
}

func parse(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	if err := tmpl.Execute(io.Discard, fields{}); err != nil {
		return nil, fmt.Errorf("invalid template %s: %w", name, err)
	}
	return tmpl, nil
}

// Render renders one event for account. It returns an error wrapping
// ErrTemplateMissing when the event type or action has no template or the
// type is disabled; any other error is transient.
func (r *Renderer) Render(account string, event models.Event) (*Notification, error) {
	if r.disabled[event.Type] || r.disabled[strings.ToLower(event.Type)] {
		return nil, fmt.Errorf("%w: %s is disabled", ErrTemplateMissing, event.Type)
	}

	tmpl, err := r.lookup(event.Type, event.Payload.Action, KeyTemplate)
	if err != nil {
		return nil, err
	}

	data := eventFields(event)
	body, err := execute(tmpl, data)
	if err != nil {
		return nil, fmt.Errorf("failed to render %s event %s: %w", event.Type, event.ID, err)
	}

	if event.Type == models.PushEvent {
		body, err = r.appendCommits(body, event.Payload.Commits, data)
		if err != nil {
			return nil, fmt.Errorf("failed to render commits of event %s: %w", event.ID, err)
		}
	}

	n := &Notification{
		Account:   account,
		EventID:   event.ID,
		EventType: event.Type,
		Repo:      event.Repo.Name,
		Body:      body,
		Format:    FormatText,
	}
	if created, err := event.Created(); err == nil {
		n.CreatedAt = created
	}
	if r.header != nil {
		header, err := execute(r.header, fields{Username: account, Repo: event.Repo.Name})
		if err != nil {
			return nil, fmt.Errorf("failed to render header: %w", err)
		}
		n.Header = header
	}

	return n, nil
}

// lookup returns the action variant when present, otherwise the template
// stored under key.
func (r *Renderer) lookup(eventType, action, key string) (*template.Template, error) {
	table, ok := r.events[eventType]
	if !ok {
		table, ok = r.events[strings.ToLower(eventType)]
	}
	if !ok {
		return nil, fmt.Errorf("%w: event type %s", ErrTemplateMissing, eventType)
	}
	if action != "" {
		if tmpl, ok := table[strings.ToLower(action)]; ok {
			return tmpl, nil
		}
	}
	tmpl, ok := table[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrTemplateMissing, eventType, action)
	}
	return tmpl, nil
}

func (r *Renderer) appendCommits(body string, commits []models.Commit, data fields) (string, error) {
	table := r.events[models.PushEvent]
	commitTmpl, ok := table[KeyCommitMessage]
	if !ok || len(commits) == 0 {
		return body, nil
	}

	var b strings.Builder
	b.WriteString(body)
	for i, commit := range commits {
		if i == maxListedCommits {
			if more, ok := table[KeyMoreCommits]; ok {
				line, err := execute(more, data)
				if err != nil {
					return "", err
				}
				b.WriteString("\n" + line)
			}
			break
		}
		data.Message = firstLine(commit.Message)
		line, err := execute(commitTmpl, data)
		if err != nil {
			return "", err
		}
		b.WriteString("\n" + line)
	}
	return b.String(), nil
}

func execute(tmpl *template.Template, data fields) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return strings.TrimSpace(s)
}

// SampleEvent returns a push event used by the test command.
func SampleEvent(account string, now time.Time) models.Event {
	return models.Event{
		ID:   fmt.Sprintf("test-%d", now.Unix()),
		Type: models.PushEvent,
		Actor: models.Actor{
			Login: account,
		},
		Repo: models.Repo{
			Name: account + "/github-activity-relay",
		},
		Payload: models.Payload{
			Size: 1,
			Commits: []models.Commit{
				{SHA: "0000000", Message: "Test notification"},
			},
		},
		Public:    true,
		CreatedAt: now.UTC().Format(models.EventTimeLayout),
	}
}
