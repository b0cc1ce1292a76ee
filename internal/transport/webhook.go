package transport

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github-activity-relay/internal/config"
	"github-activity-relay/internal/render"
)

// Webhook request headers.
const (
	HeaderSignature = "X-Relay-Signature"
	HeaderDelivery  = "X-Relay-Delivery"
	HeaderEvent     = "X-Relay-Event"
)

// WebhookSender posts notifications as JSON. The destination id names an
// entry of the webhooks configuration.
type WebhookSender struct {
	hooks  map[string]config.WebhookConfig
	client *http.Client
}

// NewWebhookSender creates a webhook sender.
func NewWebhookSender(hooks map[string]config.WebhookConfig, client *http.Client) *WebhookSender {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	normalized := make(map[string]config.WebhookConfig, len(hooks))
	for name, hook := range hooks {
		normalized[strings.ToLower(name)] = hook
	}
	return &WebhookSender{hooks: normalized, client: client}
}

// WebhookPayload is the JSON body of a webhook delivery.
type WebhookPayload struct {
	DeliveryID string    `json:"delivery_id"`
	Account    string    `json:"account"`
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	Repo       string    `json:"repo"`
	Header     string    `json:"header,omitempty"`
	Body       string    `json:"body"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"created_at"`
}

// Send posts the notification. Any non-2xx response is an error.
func (s *WebhookSender) Send(ctx context.Context, dest Destination, n *render.Notification) error {
	hook, ok := s.hooks[strings.ToLower(dest.ID)]
	if !ok || hook.URL == "" {
		return fmt.Errorf("webhook %q is not configured", dest.ID)
	}

	payload := WebhookPayload{
		DeliveryID: uuid.NewString(),
		Account:    n.Account,
		EventID:    n.EventID,
		EventType:  n.EventType,
		Repo:       n.Repo,
		Header:     n.Header,
		Body:       n.Body,
		Text:       n.Text(),
		CreatedAt:  n.CreatedAt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderDelivery, payload.DeliveryID)
	req.Header.Set(HeaderEvent, n.EventType)
	if hook.Secret != "" {
		req.Header.Set(HeaderSignature, Sign(body, hook.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook %s returned %d: %s", dest.ID, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// Sign returns the HMAC-SHA256 signature of payload as sha256=<hex>.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
