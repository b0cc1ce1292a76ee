package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github-activity-relay/internal/config"
	"github-activity-relay/internal/render"
)

const (
	telegramMessageLimit = 4096
	telegramRetryLimit   = 5
)

// TelegramSender sends messages through the Telegram Bot API. The
// destination id is the chat id.
type TelegramSender struct {
	token   string
	apiURL  string
	client  *http.Client
	sleep   func(context.Context, time.Duration) bool
	maxWait time.Duration
}

// NewTelegramSender creates a Telegram sender.
func NewTelegramSender(cfg config.TelegramConfig, client *http.Client) *TelegramSender {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &TelegramSender{
		token:   cfg.Token,
		apiURL:  strings.TrimRight(cfg.APIURL, "/"),
		client:  client,
		sleep:   sleep,
		maxWait: time.Minute,
	}
}

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
	Parameters  struct {
		RetryAfter int `json:"retry_after"`
	} `json:"parameters"`
}

// Send sends the notification text, split into chunks Telegram accepts,
// waiting out rate limits.
func (s *TelegramSender) Send(ctx context.Context, dest Destination, n *render.Notification) error {
	if s.token == "" {
		return fmt.Errorf("telegram token is not configured")
	}

	for _, chunk := range splitMessage(n.Text(), telegramMessageLimit) {
		msg := telegramMessage{ChatID: dest.ID, Text: chunk, DisableWebPagePreview: true}

		var err error
		for attempt := 1; attempt <= telegramRetryLimit; attempt++ {
			var wait time.Duration
			wait, err = s.sendMessage(ctx, msg)
			if err == nil || wait == 0 {
				break
			}
			if wait > s.maxWait {
				wait = s.maxWait
			}

			logrus.WithField("destination", dest.String()).Warnf("Telegram rate limited, waiting %v (attempt %d/%d)", wait, attempt, telegramRetryLimit)
			if !s.sleep(ctx, wait) {
				return ctx.Err()
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// sendMessage returns a non-zero wait when the request was rate limited.
func (s *TelegramSender) sendMessage(ctx context.Context, msg telegramMessage) (time.Duration, error) {
	body, err := json.Marshal(msg)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal telegram message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/bot"+s.token+"/sendMessage", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		// The URL carries the token.
		return 0, fmt.Errorf("telegram request failed: %s", strings.ReplaceAll(err.Error(), s.token, "[REDACTED]"))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return 0, fmt.Errorf("failed to read telegram response: %w", err)
	}

	var tgResp telegramResponse
	_ = json.Unmarshal(raw, &tgResp)

	if resp.StatusCode == http.StatusTooManyRequests {
		wait := time.Duration(tgResp.Parameters.RetryAfter) * time.Second
		if wait <= 0 {
			wait = time.Second
		}
		return wait, fmt.Errorf("telegram rate limited: %s", tgResp.Description)
	}
	if resp.StatusCode != http.StatusOK || !tgResp.OK {
		return 0, fmt.Errorf("telegram API error %d: %s", resp.StatusCode, tgResp.Description)
	}
	return 0, nil
}

// splitMessage splits text into chunks of at most limit runes, preferring
// to break at newlines.
func splitMessage(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var chunks []string
	for utf8.RuneCountInString(text) > limit {
		cut, runes := len(text), 0
		lastNewline := -1
		for i, r := range text {
			if runes == limit {
				cut = i
				break
			}
			runes++
			if r == '\n' {
				lastNewline = i
			}
		}
		if lastNewline > 0 {
			cut = lastNewline
		}
		if chunk := strings.TrimSpace(text[:cut]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
