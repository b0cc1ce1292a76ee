package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github-activity-relay/internal/config"
	"github-activity-relay/internal/render"
)

const gmailSendAttempts = 3

// GmailSender e-mails notifications through the Gmail API. The destination
// id is the recipient address.
type GmailSender struct {
	service   *gmail.Service
	userEmail string
	sleep     func(context.Context, time.Duration) bool
}

// NewGmailSender creates a Gmail sender authorized by a refresh token.
func NewGmailSender(ctx context.Context, cfg config.GmailConfig) (*GmailSender, error) {
	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Scopes:       []string{gmail.GmailSendScope},
		Endpoint:     google.Endpoint,
	}
	tokenSource := oauth2Config.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return NewGmailSenderWithService(service, cfg.UserEmail), nil
}

// NewGmailSenderWithService wraps an existing Gmail service.
func NewGmailSenderWithService(service *gmail.Service, userEmail string) *GmailSender {
	return &GmailSender{service: service, userEmail: userEmail, sleep: sleep}
}

// Send composes a plain-text message and sends it, retrying when Gmail
// reports rate limiting.
func (s *GmailSender) Send(ctx context.Context, dest Destination, n *render.Notification) error {
	raw, err := s.compose(dest.ID, n)
	if err != nil {
		return fmt.Errorf("failed to compose email: %w", err)
	}
	message := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(raw)}

	userID := s.userEmail
	if userID == "" {
		userID = "me"
	}

	var lastErr error
	for attempt := 1; attempt <= gmailSendAttempts; attempt++ {
		_, err := s.service.Users.Messages.Send(userID, message).Context(ctx).Do()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isGmailRateLimited(err) {
			break
		}
		wait := time.Duration(attempt*attempt) * time.Second
		logrus.WithField("destination", dest.String()).Warnf("Gmail rate limited, waiting %v (attempt %d/%d)", wait, attempt, gmailSendAttempts)
		if !s.sleep(ctx, wait) {
			return ctx.Err()
		}
	}

	return fmt.Errorf("failed to send email to %s: %w", dest.ID, lastErr)
}

func (s *GmailSender) compose(to string, n *render.Notification) ([]byte, error) {
	subject := n.Header
	if subject == "" {
		subject = fmt.Sprintf("New GitHub activity from %s", n.Account)
	}

	var h mail.Header
	h.SetDate(time.Now())
	if s.userEmail != "" {
		h.SetAddressList("From", []*mail.Address{{Address: s.userEmail}})
	}
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(subject)
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	h.Set(HeaderEvent, n.EventType)

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	if _, err := io.WriteString(w, n.Text()); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isGmailRateLimited(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Code == http.StatusTooManyRequests {
		return true
	}
	for _, item := range apiErr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return false
}
