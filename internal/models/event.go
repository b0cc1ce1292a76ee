package models

import (
	"fmt"
	"time"
)

// EventTimeLayout is the timestamp layout used by the GitHub events API.
const EventTimeLayout = "2006-01-02T15:04:05Z"

// GitHub event type tags handled by the relay.
const (
	PushEvent          = "PushEvent"
	CreateEvent        = "CreateEvent"
	DeleteEvent        = "DeleteEvent"
	IssuesEvent        = "IssuesEvent"
	IssueCommentEvent  = "IssueCommentEvent"
	PullRequestEvent   = "PullRequestEvent"
	CommitCommentEvent = "CommitCommentEvent"
	MemberEvent        = "MemberEvent"
	WatchEvent         = "WatchEvent"
	ForkEvent          = "ForkEvent"
	PublicEvent        = "PublicEvent"
	ReleaseEvent       = "ReleaseEvent"
)

// Event is one immutable entry of an account's public activity feed.
// It is built once by a feed client and never re-parsed downstream.
type Event struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Actor     Actor   `json:"actor"`
	Repo      Repo    `json:"repo"`
	Payload   Payload `json:"payload"`
	Public    bool    `json:"public"`
	CreatedAt string  `json:"created_at"`
}

// Actor is the account that produced an event.
type Actor struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatar_url"`
}

// Repo is the repository an event belongs to.
type Repo struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Payload carries the type-specific fields the relay renders.
type Payload struct {
	Action      string   `json:"action,omitempty"`
	Ref         string   `json:"ref,omitempty"`
	RefType     string   `json:"ref_type,omitempty"`
	Size        int      `json:"size,omitempty"`
	Commits     []Commit `json:"commits,omitempty"`
	Issue       *Titled  `json:"issue,omitempty"`
	PullRequest *Titled  `json:"pull_request,omitempty"`
	Release     *Release `json:"release,omitempty"`
	Comment     *Comment `json:"comment,omitempty"`
	Member      *Member  `json:"member,omitempty"`
	Forkee      *Forkee  `json:"forkee,omitempty"`
}

// Commit is a single pushed commit.
type Commit struct {
	SHA     string `json:"sha"`
	Message string `json:"message"`
}

// Titled is the subset of an issue or pull request the templates use.
type Titled struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
}

// Release is the subset of a release the templates use.
type Release struct {
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
}

// Comment is a commit or issue comment.
type Comment struct {
	Body     string `json:"body"`
	CommitID string `json:"commit_id"`
}

// Member is the user added to a repository.
type Member struct {
	Login string `json:"login"`
}

// Forkee is the repository created by a fork.
type Forkee struct {
	FullName string `json:"full_name"`
}

// Created parses the event creation timestamp as UTC with second precision.
func (e Event) Created() (time.Time, error) {
	t, err := time.Parse(EventTimeLayout, e.CreatedAt)
	if err != nil {
		t, err = time.Parse(time.RFC3339, e.CreatedAt)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid created_at %q for event %s: %w", e.CreatedAt, e.ID, err)
		}
	}
	return t.UTC().Truncate(time.Second), nil
}
