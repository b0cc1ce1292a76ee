package transport

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github-activity-relay/internal/config"
	"github-activity-relay/internal/render"
)

func notification() *render.Notification {
	return &render.Notification{
		Account:   "alice",
		EventID:   "42",
		EventType: "WatchEvent",
		Repo:      "alice/relay",
		Header:    "alice has new activity!",
		Body:      "alice starred alice/relay",
		Format:    render.FormatText,
		CreatedAt: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestParseDestination(t *testing.T) {
	d, err := ParseDestination("Telegram:group:-100123")
	require.NoError(t, err)
	assert.Equal(t, Destination{Platform: "telegram", Kind: "group", ID: "-100123"}, d)
	assert.Equal(t, "telegram:group:-100123", d.String())

	for _, s := range []string{"", "telegram", "telegram:group", "telegram::1", "a:b:c:d", "aiocqhttp:GroupMessage:1"} {
		_, err := ParseDestination(s)
		assert.ErrorIs(t, err, ErrInvalidDestination, s)
	}
}

func TestParseDestinationsSkipsInvalid(t *testing.T) {
	got := ParseDestinations([]string{"telegram:private:1", "bogus", "matrix:room:1", "webhook:json:ops"})
	require.Len(t, got, 2)
	assert.Equal(t, "telegram:private:1", got[0].String())
	assert.Equal(t, "webhook:json:ops", got[1].String())
}

type fakeSender struct {
	mu    sync.Mutex
	calls []string
	err   error
	panic bool
}

func (f *fakeSender) Send(ctx context.Context, dest Destination, n *render.Notification) error {
	f.mu.Lock()
	f.calls = append(f.calls, dest.ID)
	f.mu.Unlock()
	if f.panic {
		panic("boom")
	}
	return f.err
}

func TestDispatcherAttemptsEveryDestination(t *testing.T) {
	failing := &fakeSender{err: errors.New("chat not found")}
	panicking := &fakeSender{panic: true}
	ok := &fakeSender{}

	dests := ParseDestinations([]string{
		"telegram:group:1",
		"webhook:json:ops",
		"email:gmail:bob@example.com",
		"telegram:group:2",
	})
	d := NewDispatcher(append(dests, Destination{Platform: "matrix", Kind: "room", ID: "3"}))
	d.Register(PlatformTelegram, failing)
	d.Register(PlatformWebhook, panicking)
	d.Register(PlatformEmail, ok)

	results := d.Deliver(context.Background(), notification())
	require.Len(t, results, 5)

	assert.Error(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
	assert.Error(t, results[3].Err)
	assert.Error(t, results[4].Err, "unregistered platform")

	assert.Equal(t, []string{"1", "2"}, failing.calls)
	assert.Equal(t, []string{"bob@example.com"}, ok.calls)
}

func TestTelegramSend(t *testing.T) {
	var (
		mu       sync.Mutex
		requests []telegramMessage
		calls    int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)

		var msg telegramMessage
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))

		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			io.WriteString(w, `{"ok":false,"error_code":429,"description":"Too Many Requests","parameters":{"retry_after":3}}`)
			return
		}
		requests = append(requests, msg)
		io.WriteString(w, `{"ok":true}`)
	}))
	defer srv.Close()

	s := NewTelegramSender(config.TelegramConfig{Token: "TOKEN", APIURL: srv.URL}, srv.Client())
	var waited []time.Duration
	s.sleep = func(ctx context.Context, d time.Duration) bool {
		waited = append(waited, d)
		return true
	}

	err := s.Send(context.Background(), Destination{Platform: PlatformTelegram, Kind: "private", ID: "123"}, notification())
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{3 * time.Second}, waited)
	require.Len(t, requests, 1)
	assert.Equal(t, "123", requests[0].ChatID)
	assert.Equal(t, "alice has new activity!\n\nalice starred alice/relay", requests[0].Text)
}

func TestTelegramSendAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`)
	}))
	defer srv.Close()

	s := NewTelegramSender(config.TelegramConfig{Token: "TOKEN", APIURL: srv.URL}, srv.Client())
	err := s.Send(context.Background(), Destination{Platform: PlatformTelegram, Kind: "group", ID: "1"}, notification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestTelegramSendWithoutToken(t *testing.T) {
	s := NewTelegramSender(config.TelegramConfig{APIURL: "http://127.0.0.1:0"}, nil)
	assert.Error(t, s.Send(context.Background(), Destination{Platform: PlatformTelegram, Kind: "group", ID: "1"}, notification()))
}

func TestSplitMessage(t *testing.T) {
	assert.Nil(t, splitMessage("   ", 10))
	assert.Equal(t, []string{"short"}, splitMessage("short", 10))
	assert.Equal(t, []string{"line one", "line two"}, splitMessage("line one\nline two", 10))
	assert.Equal(t, []string{"abcdefghij", "klm"}, splitMessage("abcdefghijklm", 10))
	assert.Equal(t, []string{"ééééé", "éé"}, splitMessage("ééééééé", 5))
}

func TestWebhookSend(t *testing.T) {
	var (
		gotBody   []byte
		gotHeader http.Header
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Clone()
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(map[string]config.WebhookConfig{
		"Ops": {URL: srv.URL, Secret: "s3cret"},
	}, srv.Client())

	err := s.Send(context.Background(), Destination{Platform: PlatformWebhook, Kind: "json", ID: "ops"}, notification())
	require.NoError(t, err)

	assert.Equal(t, Sign(gotBody, "s3cret"), gotHeader.Get(HeaderSignature))
	assert.True(t, strings.HasPrefix(gotHeader.Get(HeaderSignature), "sha256="))
	assert.Equal(t, "WatchEvent", gotHeader.Get(HeaderEvent))

	var payload WebhookPayload
	require.NoError(t, json.Unmarshal(gotBody, &payload))
	assert.Equal(t, gotHeader.Get(HeaderDelivery), payload.DeliveryID)
	assert.Equal(t, "alice", payload.Account)
	assert.Equal(t, "42", payload.EventID)
	assert.Equal(t, "alice starred alice/relay", payload.Body)
}

func TestWebhookSendErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(HeaderSignature), "no secret, no signature")
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewWebhookSender(map[string]config.WebhookConfig{"ops": {URL: srv.URL}}, srv.Client())

	err := s.Send(context.Background(), Destination{Platform: PlatformWebhook, Kind: "json", ID: "ops"}, notification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")

	err = s.Send(context.Background(), Destination{Platform: PlatformWebhook, Kind: "json", ID: "missing"}, notification())
	assert.Error(t, err)
}

func TestSign(t *testing.T) {
	// Reference value from `printf 'hello' | openssl dgst -sha256 -hmac key`.
	assert.Equal(t, "sha256=9307b3b915efb5171ff14d8cb55fbcc798c6c0ef1456d66ded1a6aa723a58b7b", Sign([]byte("hello"), "key"))
}

func TestGmailSend(t *testing.T) {
	var raw string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/users/relay@example.com/messages/send"), r.URL.Path)

		var msg struct {
			Raw string `json:"raw"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		raw = msg.Raw

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"m1"}`)
	}))
	defer srv.Close()

	service, err := gmail.NewService(context.Background(),
		option.WithHTTPClient(srv.Client()),
		option.WithEndpoint(srv.URL+"/"),
	)
	require.NoError(t, err)

	s := NewGmailSenderWithService(service, "relay@example.com")
	err = s.Send(context.Background(), Destination{Platform: PlatformEmail, Kind: "gmail", ID: "bob@example.com"}, notification())
	require.NoError(t, err)

	decoded, err := base64.URLEncoding.DecodeString(raw)
	require.NoError(t, err)
	text := string(decoded)
	assert.Contains(t, text, "Subject: alice has new activity!")
	assert.Contains(t, text, "bob@example.com")
	assert.Contains(t, text, "relay@example.com")
	assert.Contains(t, text, "alice starred alice/relay")
}
