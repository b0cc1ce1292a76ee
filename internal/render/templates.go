package render

import (
	"strings"

	"github-activity-relay/internal/models"
)

// Template keys inside an event type's table. Any other key names an
// action variant (opened, closed, ...).
const (
	KeyTemplate      = "template"
	KeyCommitMessage = "commit_message"
	KeyMoreCommits   = "more_commits"
)

// maxListedCommits is how many commits a push notification lists.
const maxListedCommits = 3

// defaultTemplates is the built-in table, keyed by event type then key.
var defaultTemplates = map[string]map[string]string{
	models.PushEvent: {
		KeyTemplate:      "{{.Username}} pushed {{.CommitCount}} commit(s) to {{.Repo}}",
		KeyCommitMessage: "- {{.Message}}",
		KeyMoreCommits:   "...and more commits",
	},
	models.CreateEvent: {
		KeyTemplate: "{{.Username}} created {{.RefType}} {{.Ref}} in {{.Repo}}",
	},
	models.DeleteEvent: {
		KeyTemplate: "{{.Username}} deleted {{.RefType}} {{.Ref}} in {{.Repo}}",
	},
	models.IssuesEvent: {
		KeyTemplate: "{{.Username}} {{.Action}} issue #{{.Number}} \"{{.Title}}\" in {{.Repo}}",
		"opened":    "{{.Username}} opened issue #{{.Number}} \"{{.Title}}\" in {{.Repo}}",
		"closed":    "{{.Username}} closed issue #{{.Number}} \"{{.Title}}\" in {{.Repo}}",
		"reopened":  "{{.Username}} reopened issue #{{.Number}} \"{{.Title}}\" in {{.Repo}}",
	},
	models.PullRequestEvent: {
		KeyTemplate: "{{.Username}} {{.Action}} pull request #{{.Number}} \"{{.Title}}\" in {{.Repo}}",
		"opened":    "{{.Username}} opened pull request #{{.Number}} \"{{.Title}}\" in {{.Repo}}",
		"closed":    "{{.Username}} closed pull request #{{.Number}} \"{{.Title}}\" in {{.Repo}}",
		"merged":    "{{.Username}} merged pull request #{{.Number}} \"{{.Title}}\" in {{.Repo}}",
	},
	models.IssueCommentEvent: {
		KeyTemplate: "{{.Username}} commented on #{{.Number}} in {{.Repo}}: {{.Comment}}",
	},
	models.CommitCommentEvent: {
		KeyTemplate: "{{.Username}} commented on commit {{.CommitID}} in {{.Repo}}: {{.Comment}}",
	},
	models.MemberEvent: {
		KeyTemplate: "{{.Username}} added {{.Target}} to {{.Repo}}",
	},
	models.WatchEvent: {
		KeyTemplate: "{{.Username}} starred {{.Repo}}",
	},
	models.ForkEvent: {
		KeyTemplate: "{{.Username}} forked {{.Repo}} to {{.Forkee}}",
	},
	models.PublicEvent: {
		KeyTemplate: "{{.Username}} made {{.Repo}} public",
	},
	models.ReleaseEvent: {
		KeyTemplate: "{{.Username}} {{.Action}} release {{.Tag}} in {{.Repo}}",
		"published": "{{.Username}} published release {{.Tag}} in {{.Repo}}",
	},
}

// shortNames maps the short configuration names to event types.
var shortNames = map[string]string{
	"push":           models.PushEvent,
	"create":         models.CreateEvent,
	"delete":         models.DeleteEvent,
	"issues":         models.IssuesEvent,
	"issue_comment":  models.IssueCommentEvent,
	"pull_request":   models.PullRequestEvent,
	"commit_comment": models.CommitCommentEvent,
	"member":         models.MemberEvent,
	"star":           models.WatchEvent,
	"watch":          models.WatchEvent,
	"fork":           models.ForkEvent,
	"public":         models.PublicEvent,
	"release":        models.ReleaseEvent,
}

// canonicalType resolves a configured event type name. Configuration keys
// arrive lower-cased, so "pushevent", "PushEvent" and "push" are the same.
// Types without a built-in template are keyed lower-cased.
func canonicalType(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if t, ok := shortNames[lower]; ok {
		return t
	}
	for t := range defaultTemplates {
		if strings.ToLower(t) == lower {
			return t
		}
	}
	return lower
}

// fields is the substitution data every event template can reference.
type fields struct {
	Username    string
	Repo        string
	Action      string
	CommitCount int
	Message     string
	Ref         string
	RefType     string
	Number      int
	Title       string
	Comment     string
	CommitID    string
	Target      string
	Forkee      string
	Tag         string
}

// eventFields extracts the substitution data of an event.
func eventFields(event models.Event) fields {
	p := event.Payload
	f := fields{
		Username: event.Actor.Login,
		Repo:     event.Repo.Name,
		Action:   p.Action,
		Ref:      p.Ref,
		RefType:  p.RefType,
	}

	switch event.Type {
	case models.PushEvent:
		f.CommitCount = len(p.Commits)
		if p.Size > f.CommitCount {
			f.CommitCount = p.Size
		}
	case models.IssuesEvent, models.IssueCommentEvent:
		if p.Issue != nil {
			f.Number = p.Issue.Number
			f.Title = p.Issue.Title
		}
	case models.PullRequestEvent:
		if p.PullRequest != nil {
			f.Number = p.PullRequest.Number
			f.Title = p.PullRequest.Title
		}
	case models.MemberEvent:
		f.Target = "someone"
		if p.Member != nil && p.Member.Login != "" {
			f.Target = p.Member.Login
		}
	case models.ForkEvent:
		if p.Forkee != nil {
			f.Forkee = p.Forkee.FullName
		}
	case models.ReleaseEvent:
		if p.Release != nil {
			f.Tag = p.Release.TagName
		}
	}

	if p.Comment != nil {
		f.Comment = p.Comment.Body
		f.CommitID = p.Comment.CommitID
		if len(f.CommitID) > 7 {
			f.CommitID = f.CommitID[:7]
		}
	}

	return f
}
