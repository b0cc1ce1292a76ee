package render

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github-activity-relay/internal/config"
	"github-activity-relay/internal/models"
)

func newRenderer(t *testing.T, cfg config.TemplatesConfig) *Renderer {
	t.Helper()
	r, err := New(cfg, false)
	require.NoError(t, err)
	return r
}

func event(eventType string, payload models.Payload) models.Event {
	return models.Event{
		ID:        "42",
		Type:      eventType,
		Actor:     models.Actor{Login: "alice"},
		Repo:      models.Repo{Name: "alice/relay"},
		Payload:   payload,
		CreatedAt: "2024-06-01T10:00:00Z",
	}
}

func TestRenderPushListsAtMostThreeCommits(t *testing.T) {
	r := newRenderer(t, config.TemplatesConfig{})

	var commits []models.Commit
	for i := 1; i <= 5; i++ {
		commits = append(commits, models.Commit{SHA: fmt.Sprint(i), Message: fmt.Sprintf("change %d\n\nbody", i)})
	}
	n, err := r.Render("alice", event(models.PushEvent, models.Payload{Size: 5, Commits: commits}))
	require.NoError(t, err)

	assert.Equal(t, "alice pushed 5 commit(s) to alice/relay\n- change 1\n- change 2\n- change 3\n...and more commits", n.Body)
	assert.Equal(t, time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), n.CreatedAt)
	assert.Equal(t, FormatText, n.Format)
}

func TestRenderActionVariant(t *testing.T) {
	r := newRenderer(t, config.TemplatesConfig{})

	n, err := r.Render("alice", event(models.IssuesEvent, models.Payload{
		Action: "opened",
		Issue:  &models.Titled{Number: 7, Title: "Crash on start"},
	}))
	require.NoError(t, err)
	assert.Equal(t, `alice opened issue #7 "Crash on start" in alice/relay`, n.Body)

	// Unknown actions fall back to the generic template.
	n, err = r.Render("alice", event(models.IssuesEvent, models.Payload{
		Action: "labeled",
		Issue:  &models.Titled{Number: 7, Title: "Crash on start"},
	}))
	require.NoError(t, err)
	assert.Equal(t, `alice labeled issue #7 "Crash on start" in alice/relay`, n.Body)
}

func TestRenderHeader(t *testing.T) {
	r := newRenderer(t, config.TemplatesConfig{Header: "{{.Username}} has new activity!"})

	n, err := r.Render("alice", event(models.WatchEvent, models.Payload{Action: "started"}))
	require.NoError(t, err)
	assert.Equal(t, "alice has new activity!\n\nalice starred alice/relay", n.Text())
}

func TestRenderTemplateMissing(t *testing.T) {
	r := newRenderer(t, config.TemplatesConfig{})

	_, err := r.Render("alice", event("GollumEvent", models.Payload{}))
	assert.True(t, errors.Is(err, ErrTemplateMissing))
}

func TestRenderDisabledType(t *testing.T) {
	r := newRenderer(t, config.TemplatesConfig{Disabled: []string{"star"}})

	_, err := r.Render("alice", event(models.WatchEvent, models.Payload{}))
	assert.True(t, errors.Is(err, ErrTemplateMissing))

	_, err = r.Render("alice", event(models.ForkEvent, models.Payload{Forkee: &models.Forkee{FullName: "bob/relay"}}))
	assert.NoError(t, err)
}

func TestRenderOverrides(t *testing.T) {
	// Keys arrive lower-cased from the configuration loader.
	r := newRenderer(t, config.TemplatesConfig{
		Events: map[string]map[string]string{
			"pushevent":   {"template": "{{.Username}} -> {{.Repo}}", "commit_message": "* {{.Message}}"},
			"fork":        {"template": "fork of {{.Repo}} at {{.Forkee}}"},
			"gollumevent": {"template": "{{.Username}} edited the wiki of {{.Repo}}"},
		},
	})

	n, err := r.Render("alice", event(models.PushEvent, models.Payload{Commits: []models.Commit{{Message: "fix"}}}))
	require.NoError(t, err)
	assert.Equal(t, "alice -> alice/relay\n* fix", n.Body)

	n, err = r.Render("alice", event(models.ForkEvent, models.Payload{Forkee: &models.Forkee{FullName: "bob/relay"}}))
	require.NoError(t, err)
	assert.Equal(t, "fork of alice/relay at bob/relay", n.Body)

	n, err = r.Render("alice", event("GollumEvent", models.Payload{}))
	require.NoError(t, err)
	assert.Equal(t, "alice edited the wiki of alice/relay", n.Body)
}

func TestNewRejectsUnknownField(t *testing.T) {
	_, err := New(config.TemplatesConfig{
		Events: map[string]map[string]string{
			"push": {"template": "{{.Nope}}"},
		},
	}, false)
	assert.Error(t, err)

	_, err = New(config.TemplatesConfig{Header: "{{.Username"}, false)
	assert.Error(t, err)
}

func TestRenderCommitCommentTruncatesCommitID(t *testing.T) {
	r := newRenderer(t, config.TemplatesConfig{})

	n, err := r.Render("alice", event(models.CommitCommentEvent, models.Payload{
		Comment: &models.Comment{Body: "nice", CommitID: "0123456789abcdef"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "alice commented on commit 0123456 in alice/relay: nice", n.Body)
}

func TestRenderMemberDefaultsTarget(t *testing.T) {
	r := newRenderer(t, config.TemplatesConfig{})

	n, err := r.Render("alice", event(models.MemberEvent, models.Payload{Action: "added"}))
	require.NoError(t, err)
	assert.Equal(t, "alice added someone to alice/relay", n.Body)
}

func TestSampleEventRenders(t *testing.T) {
	r := newRenderer(t, config.TemplatesConfig{})
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	n, err := r.Render("alice", SampleEvent("alice", now))
	require.NoError(t, err)
	assert.Equal(t, "alice pushed 1 commit(s) to alice/github-activity-relay\n- Test notification", n.Body)
	assert.Equal(t, now, n.CreatedAt)
}
