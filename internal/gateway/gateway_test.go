// ABOUTME: Tests for gateway HTTP handlers and webhook routing
// ABOUTME: Uses httptest against a gateway wired to the mock provider

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/relaydesk/internal/broadcast"
	"github.com/2389/relaydesk/internal/config"
	"github.com/2389/relaydesk/internal/provider"
)

const testFromNumber = "+15550000000"

// eventRecorder captures everything published through the registry.
type eventRecorder struct {
	mu     sync.Mutex
	events []any
}

func (e *eventRecorder) record(payload any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, payload)
}

func (e *eventRecorder) all() []any {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]any(nil), e.events...)
}

func testConfig() *config.Config {
	return &config.Config{
		Twilio: config.TwilioConfig{PhoneNumber: testFromNumber},
		Cache:  config.CacheConfig{TTL: time.Minute, MaxConcurrentFetches: 2},
		Dedupe: config.DedupeConfig{Window: time.Minute, MaxEntries: 100},
		Logging: config.LoggingConfig{
			Level:  "debug",
			Format: "text",
		},
		TestMode: true,
	}
}

func newTestGateway(t *testing.T) (*Gateway, *provider.MockProvider, *eventRecorder) {
	t.Helper()

	mock := provider.NewMockProvider()
	gw, err := NewWithProvider(testConfig(), mock, nil)
	require.NoError(t, err)

	rec := &eventRecorder{}
	gw.registry.Set(rec.record)
	return gw, mock, rec
}

func seedConversation(mock *provider.MockProvider, sid, name, phone, attrs string) {
	mock.AddConversation(provider.Conversation{SID: sid, FriendlyName: name, Attributes: attrs})
	mock.AddParticipant(sid, provider.Participant{SID: "MB" + sid, Address: phone, ProxyAddress: testFromNumber})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func postForm(t *testing.T, h http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandleHealth(t *testing.T) {
	gw, _, _ := newTestGateway(t)

	w := doJSON(t, gw.Handler(), http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "OK", w.Body.String())
}

func TestHandleReady(t *testing.T) {
	gw, mock, _ := newTestGateway(t)
	seedConversation(mock, "CH1", "Alice", "+15551112222", `{}`)
	h := gw.Handler()

	w := doJSON(t, h, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	require.NoError(t, gw.cache.UpdateCache(t.Context()))

	w = doJSON(t, h, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "1 conversations")
}

func TestListConversations(t *testing.T) {
	gw, mock, _ := newTestGateway(t)
	seedConversation(mock, "CH1", "Alice", "+15551112222", `{"email":"alice@example.com","name":"Alice A"}`)
	seedConversation(mock, "CH2", "Bob", "+15553334444", ``)

	w := doJSON(t, gw.Handler(), http.MethodGet, "/api/conversations", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "CH1", got[0]["sid"])
	assert.Equal(t, "+15551112222", got[0]["phoneNumber"])
	assert.Equal(t, "alice@example.com", got[0]["email"])
	assert.Equal(t, "", got[1]["email"])
	assert.Nil(t, got[1]["lastMessageTime"])
}

func TestListConversationsEmpty(t *testing.T) {
	gw, _, _ := newTestGateway(t)

	w := doJSON(t, gw.Handler(), http.MethodGet, "/api/conversations", nil)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestSearchConversations(t *testing.T) {
	gw, mock, _ := newTestGateway(t)
	seedConversation(mock, "CH1", "Alice", "+15551112222", `{"email":"alice@example.com"}`)
	seedConversation(mock, "CH2", "Bob", "+15553334444", `{"name":"Robert"}`)
	h := gw.Handler()

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"empty query returns all", "", []string{"CH1", "CH2"}},
		{"matches email case-insensitively", "ALICE@", []string{"CH1"}},
		{"matches phone", "3334", []string{"CH2"}},
		{"matches name", "robert", []string{"CH2"}},
		{"no match", "zzz", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, h, http.MethodGet, "/api/conversations/search?q="+url.QueryEscape(tt.query), nil)
			require.Equal(t, http.StatusOK, w.Code)

			var got []struct {
				SID string `json:"sid"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))

			sids := make([]string, 0, len(got))
			for _, s := range got {
				sids = append(sids, s.SID)
			}
			assert.Equal(t, tt.want, sids)
		})
	}
}

func TestSearchConversationsProviderError(t *testing.T) {
	gw, mock, _ := newTestGateway(t)
	mock.ListConversationsErr = &provider.Error{Op: "list conversations", Status: 500, Message: "boom"}

	w := doJSON(t, gw.Handler(), http.MethodGet, "/api/conversations/search?q=a", nil)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.JSONEq(t, `{"error":"failed to refresh conversations"}`, w.Body.String())
}

func TestSendConversationMessage(t *testing.T) {
	gw, mock, rec := newTestGateway(t)
	seedConversation(mock, "CH1", "Alice", "+15551112222", `{}`)
	h := gw.Handler()
	req := SendMessageRequest{To: "+15551112222", Body: "hello"}

	w := doJSON(t, h, http.MethodPost, "/api/conversations/CH1/messages", req)
	require.Equal(t, http.StatusOK, w.Code)

	var result map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, true, result["success"])
	assert.NotEmpty(t, result["messageSid"])

	events := rec.all()
	require.Len(t, events, 2)
	msg, ok := events[0].(broadcast.NewMessage)
	require.True(t, ok)
	assert.Equal(t, "CH1", msg.ConversationSID)
	assert.Equal(t, testFromNumber, msg.Author)
	update, ok := events[1].(broadcast.UpdateConversation)
	require.True(t, ok)
	assert.Equal(t, "hello", update.LastMessage)

	t.Run("duplicate within window", func(t *testing.T) {
		w := doJSON(t, h, http.MethodPost, "/api/conversations/CH1/messages", req)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"success":false,"duplicate":true}`, w.Body.String())
		assert.Equal(t, 1, mock.Calls("CreateMessage"))
	})
}

func TestSendConversationMessageValidation(t *testing.T) {
	gw, mock, _ := newTestGateway(t)
	h := gw.Handler()

	w := doJSON(t, h, http.MethodPost, "/api/conversations/CH1/messages", SendMessageRequest{Body: "hi"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/conversations/CH1/messages", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.JSONEq(t, `{"error":"invalid JSON body"}`, rr.Body.String())

	assert.Equal(t, 0, mock.Calls("CreateMessage"))
}

func TestSendConversationMessageProviderError(t *testing.T) {
	gw, mock, rec := newTestGateway(t)
	mock.CreateMessageErr = &provider.Error{Op: "create message", Status: 400, Code: 21211, Message: "invalid number"}

	w := doJSON(t, gw.Handler(), http.MethodPost, "/api/conversations/CH1/messages", SendMessageRequest{To: "+1", Body: "x"})

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Empty(t, rec.all())
}

func TestSendDirectSMS(t *testing.T) {
	gw, mock, rec := newTestGateway(t)

	w := doJSON(t, gw.Handler(), http.MethodPost, "/api/sms", SendSMSRequest{To: "+15559998888", Body: "ping"})
	require.Equal(t, http.StatusOK, w.Code)

	direct := mock.DirectMessages()
	require.Len(t, direct, 1)
	assert.Equal(t, testFromNumber, direct[0].Author)

	events := rec.all()
	require.Len(t, events, 1)
	msg, ok := events[0].(broadcast.NewMessage)
	require.True(t, ok)
	assert.Empty(t, msg.ConversationSID)
	assert.Equal(t, "ping", msg.Body)
}

func TestStartConversation(t *testing.T) {
	gw, mock, rec := newTestGateway(t)
	h := gw.Handler()

	w := doJSON(t, h, http.MethodPost, "/api/conversations", StartConversationRequest{
		To:    "+15551234567",
		Body:  "Welcome!",
		Email: "carol@example.com",
		Name:  "Carol",
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var resp StartConversationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ConversationSID)
	assert.NotEmpty(t, resp.MessageSID)

	participants, err := mock.ListParticipants(t.Context(), resp.ConversationSID)
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, "+15551234567", participants[0].Address)
	assert.Equal(t, testFromNumber, participants[0].ProxyAddress)

	assert.NotEmpty(t, rec.all())

	w = doJSON(t, h, http.MethodGet, "/api/conversations/search?q=carol", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var found []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &found))
	require.Len(t, found, 1)
	assert.Equal(t, "+15551234567", found[0]["friendlyName"])
	assert.Equal(t, "Welcome!", found[0]["lastMessage"])
}

func TestStartConversationParticipantFailureDeletesConversation(t *testing.T) {
	gw, mock, rec := newTestGateway(t)
	mock.AddParticipantErr = &provider.Error{Op: "add participant", Status: 400, Code: 50416, Message: "binding exists"}

	w := doJSON(t, gw.Handler(), http.MethodPost, "/api/conversations", StartConversationRequest{
		To:   "+15551234567",
		Body: "Welcome!",
	})
	require.Equal(t, http.StatusBadGateway, w.Code)

	assert.Equal(t, 1, mock.Calls("DeleteConversation"))
	remaining, err := mock.ListConversations(t.Context())
	require.NoError(t, err)
	assert.Empty(t, remaining, "half-created conversation is removed")
	assert.Equal(t, 0, mock.Calls("CreateMessage"))
	assert.Empty(t, rec.all())
}

func TestStartConversationDuplicateSkipsCreate(t *testing.T) {
	gw, mock, _ := newTestGateway(t)
	h := gw.Handler()
	req := StartConversationRequest{To: "+15551234567", Body: "Welcome!"}

	w := doJSON(t, h, http.MethodPost, "/api/conversations", req)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/conversations", req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success":false,"duplicate":true}`, w.Body.String())
	assert.Equal(t, 1, mock.Calls("CreateConversation"))
}

func TestStartConversationRequiresFields(t *testing.T) {
	gw, mock, _ := newTestGateway(t)

	w := doJSON(t, gw.Handler(), http.MethodPost, "/api/conversations", StartConversationRequest{To: "  "})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, mock.Calls("CreateConversation"))
}

func TestDeleteConversation(t *testing.T) {
	gw, mock, rec := newTestGateway(t)
	seedConversation(mock, "CH1", "Alice", "+15551112222", `{}`)
	h := gw.Handler()
	require.NoError(t, gw.cache.UpdateCache(t.Context()))

	w := doJSON(t, h, http.MethodDelete, "/api/conversations/CH1", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	assert.True(t, gw.cache.LastUpdate().IsZero(), "delete should invalidate the cache")
	events := rec.all()
	require.Len(t, events, 1)
	assert.Equal(t, broadcast.NewDeleteConversation("CH1"), events[0])

	w = doJSON(t, h, http.MethodDelete, "/api/conversations/CH1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestConversationWebhook(t *testing.T) {
	t.Run("message added", func(t *testing.T) {
		gw, mock, rec := newTestGateway(t)
		seedConversation(mock, "CH1", "Alice", "+15551112222", `{"name":"Alice"}`)
		require.NoError(t, gw.cache.UpdateCache(t.Context()))

		w := postForm(t, gw.Handler(), "/webhooks/conversations", url.Values{
			"EventType":       {"onMessageAdded"},
			"ConversationSid": {"CH1"},
			"MessageSid":      {"IM9"},
			"Author":          {"+15551112222"},
			"Body":            {"hi there"},
			"DateCreated":     {"2026-01-02T03:04:05Z"},
		})
		require.Equal(t, http.StatusOK, w.Code)

		events := rec.all()
		require.Len(t, events, 2)
		msg, ok := events[0].(broadcast.NewMessage)
		require.True(t, ok)
		assert.Equal(t, "IM9", msg.MessageSID)
		assert.Equal(t, "hi there", msg.Body)
		require.NotNil(t, msg.DateCreated)
		assert.Equal(t, 2026, msg.DateCreated.Year())

		update, ok := events[1].(broadcast.UpdateConversation)
		require.True(t, ok)
		assert.Equal(t, "Alice", update.FriendlyName)
		assert.JSONEq(t, `{"name":"Alice"}`, string(update.Attributes))

		assert.True(t, gw.cache.LastUpdate().IsZero())
	})

	t.Run("conversation updated with bad attributes", func(t *testing.T) {
		gw, _, rec := newTestGateway(t)

		w := postForm(t, gw.Handler(), "/webhooks/conversations", url.Values{
			"EventType":       {"onConversationUpdated"},
			"ConversationSid": {"CH1"},
			"FriendlyName":    {"Renamed"},
			"Attributes":      {"{broken"},
		})
		require.Equal(t, http.StatusOK, w.Code)

		events := rec.all()
		require.Len(t, events, 1)
		update := events[0].(broadcast.UpdateConversation)
		assert.Equal(t, "Renamed", update.FriendlyName)
		assert.JSONEq(t, `{}`, string(update.Attributes))
	})

	t.Run("conversation updated keeps last message preview", func(t *testing.T) {
		gw, mock, rec := newTestGateway(t)
		seedConversation(mock, "CH1", "Alice", "+15551112222", `{}`)
		sentAt := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
		mock.AddMessage("CH1", provider.Message{SID: "IM1", Body: "older"})
		mock.AddMessage("CH1", provider.Message{SID: "IM2", Body: "see you tomorrow", DateCreated: &sentAt})

		w := postForm(t, gw.Handler(), "/webhooks/conversations", url.Values{
			"EventType":       {"onConversationUpdated"},
			"ConversationSid": {"CH1"},
			"FriendlyName":    {"Alice"},
			"Attributes":      {`{"email":"alice@example.com"}`},
		})
		require.Equal(t, http.StatusOK, w.Code)

		events := rec.all()
		require.Len(t, events, 1)
		update := events[0].(broadcast.UpdateConversation)
		assert.Equal(t, "see you tomorrow", update.LastMessage)
		require.NotNil(t, update.LastMessageTime)
		assert.True(t, sentAt.Equal(*update.LastMessageTime))
		assert.JSONEq(t, `{"email":"alice@example.com"}`, string(update.Attributes))
	})

	t.Run("conversation updated when message lookup fails", func(t *testing.T) {
		gw, mock, rec := newTestGateway(t)
		mock.ListMessagesErr = errors.New("rate limited")

		w := postForm(t, gw.Handler(), "/webhooks/conversations", url.Values{
			"EventType":       {"onConversationUpdated"},
			"ConversationSid": {"CH1"},
			"FriendlyName":    {"Alice"},
		})
		require.Equal(t, http.StatusOK, w.Code)

		events := rec.all()
		require.Len(t, events, 1)
		update := events[0].(broadcast.UpdateConversation)
		assert.Equal(t, "", update.LastMessage)
		assert.Nil(t, update.LastMessageTime)
	})

	t.Run("conversation removed", func(t *testing.T) {
		gw, _, rec := newTestGateway(t)

		w := postForm(t, gw.Handler(), "/webhooks/conversations", url.Values{
			"EventType":       {"onConversationRemoved"},
			"ConversationSid": {"CH7"},
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []any{broadcast.NewDeleteConversation("CH7")}, rec.all())
	})

	t.Run("unknown event is ignored", func(t *testing.T) {
		gw, _, rec := newTestGateway(t)

		w := postForm(t, gw.Handler(), "/webhooks/conversations", url.Values{
			"EventType":       {"onParticipantAdded"},
			"ConversationSid": {"CH1"},
		})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, rec.all())
	})

	t.Run("missing conversation sid", func(t *testing.T) {
		gw, _, _ := newTestGateway(t)

		w := postForm(t, gw.Handler(), "/webhooks/conversations", url.Values{"EventType": {"onMessageAdded"}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestInboundSMSWebhook(t *testing.T) {
	gw, _, rec := newTestGateway(t)

	w := postForm(t, gw.Handler(), "/webhooks/sms", url.Values{
		"MessageSid": {"SM1"},
		"From":       {"+15557770000"},
		"To":         {testFromNumber},
		"Body":       {"STOP"},
	})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/xml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "<Response>")

	events := rec.all()
	require.Len(t, events, 1)
	msg := events[0].(broadcast.NewMessage)
	assert.Equal(t, "", msg.ConversationSID)
	assert.Equal(t, "+15557770000", msg.Author)
}

func TestWebSocketDisabledInTestMode(t *testing.T) {
	gw, _, _ := newTestGateway(t)

	w := doJSON(t, gw.Handler(), http.MethodGet, "/ws", nil)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHubInstalledIntoRegistry(t *testing.T) {
	mock := provider.NewMockProvider()
	gw, err := NewWithProvider(testConfig(), mock, nil)
	require.NoError(t, err)

	assert.NotNil(t, gw.registry.Get())
	assert.True(t, gw.registry.Publish(broadcast.NewDeleteConversation("CH1")))
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Run("configured key wins", func(t *testing.T) {
		t.Setenv("TS_AUTHKEY", "env-key")
		key, err := resolveTailscaleAuthKey("cfg-key")
		require.NoError(t, err)
		assert.Equal(t, "cfg-key", key)
	})

	t.Run("falls back to env", func(t *testing.T) {
		t.Setenv("TS_AUTHKEY", "env-key")
		key, err := resolveTailscaleAuthKey("")
		require.NoError(t, err)
		assert.Equal(t, "env-key", key)
	})

	t.Run("missing", func(t *testing.T) {
		t.Setenv("TS_AUTHKEY", "")
		_, err := resolveTailscaleAuthKey("")
		assert.Error(t, err)
	})
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/tmp/ts")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ts", dir)

	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(dir, "relaydesk/tailscale"))
}

func TestNewTestModeWithoutCredentials(t *testing.T) {
	gw, err := New(testConfig(), nil)
	require.NoError(t, err)

	_, ok := gw.provider.(*provider.MockProvider)
	assert.True(t, ok, "test mode without credentials should use the mock provider")
}

func TestNewRequiresCredentials(t *testing.T) {
	cfg := testConfig()
	cfg.TestMode = false

	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	cfg := testConfig()
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	gw, err := NewWithProvider(cfg, provider.NewMockProvider(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	errCh := make(chan error, 1)
	go func() { errCh <- gw.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, gw.cache.Running())
}
