package helpdesk

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"
)

const testUpdateJSON = `{"update_id":77,"message":{"message_id":1,"text":"hi","chat":{"id":42,"type":"private"},"from":{"id":42}}}`

func postUpdate(h http.Handler, path, secret, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(secretTokenHeader, secret)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestWebhookServer_Handle(t *testing.T) {
	var got []tele.Update
	submitErr := error(nil)
	submit := func(upd tele.Update) error {
		if submitErr != nil {
			return submitErr
		}
		got = append(got, upd)
		return nil
	}

	ws := NewWebhookServer(WebhookConfig{Secret: "s3cret", path: "/bot/hook"}, submit, nil, nil)
	h := ws.Handler()

	t.Run("missing secret", func(t *testing.T) {
		rec := postUpdate(h, "/bot/hook", "", testUpdateJSON)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("wrong secret", func(t *testing.T) {
		rec := postUpdate(h, "/bot/hook", "nope", testUpdateJSON)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("bad body", func(t *testing.T) {
		rec := postUpdate(h, "/bot/hook", "s3cret", "{")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("accepted", func(t *testing.T) {
		rec := postUpdate(h, "/bot/hook", "s3cret", testUpdateJSON)
		assert.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, got, 1)
		assert.Equal(t, 77, got[0].ID)
		require.NotNil(t, got[0].Message)
		assert.Equal(t, "hi", got[0].Message.Text)
	})

	t.Run("overloaded asks for redelivery", func(t *testing.T) {
		submitErr = ErrOverloaded
		defer func() { submitErr = nil }()
		rec := postUpdate(h, "/bot/hook", "s3cret", testUpdateJSON)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("submit failure", func(t *testing.T) {
		submitErr = errors.New("boom")
		defer func() { submitErr = nil }()
		rec := postUpdate(h, "/bot/hook", "s3cret", testUpdateJSON)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})

	t.Run("other paths", func(t *testing.T) {
		rec := postUpdate(h, "/", "s3cret", testUpdateJSON)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestWebhookServer_HealthAndMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	ws := NewWebhookServer(WebhookConfig{}, func(tele.Update) error { return nil }, registry, nil)
	ws.metrics = newMetrics(MetricsConfig{Registry: registry})
	h := ws.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())

	assert.Equal(t, http.StatusOK, postUpdate(h, "/", "", testUpdateJSON).Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "helpdesk_webhook_requests_total")
}

func TestWebhookConfig_Path(t *testing.T) {
	cfg := Config{
		Token:         "t",
		SupportChatID: testSupportChatID,
		Webhook:       WebhookConfig{URL: "https://example.com/tg/hook"},
	}
	require.NoError(t, cfg.prepareAndValidate())
	assert.Equal(t, "/tg/hook", cfg.Webhook.Path())

	assert.Equal(t, "/", WebhookConfig{}.Path())
}

type fakeRawCaller struct {
	method  string
	payload map[string]any
	resp    []byte
	err     error
}

func (f *fakeRawCaller) Raw(method string, payload any) ([]byte, error) {
	f.method = method
	f.payload, _ = payload.(map[string]any)
	return f.resp, f.err
}

func TestSetWebhook(t *testing.T) {
	bot := &fakeRawCaller{}

	assert.Error(t, SetWebhook(bot, WebhookConfig{}))

	require.NoError(t, SetWebhook(bot, WebhookConfig{URL: "https://example.com/hook", Secret: "s"}))
	assert.Equal(t, "setWebhook", bot.method)
	assert.Equal(t, "https://example.com/hook", bot.payload["url"])
	assert.Equal(t, 40, bot.payload["max_connections"])
	assert.Equal(t, "s", bot.payload["secret_token"])
	assert.Equal(t, allowedUpdates, bot.payload["allowed_updates"])

	require.NoError(t, SetWebhook(bot, WebhookConfig{URL: "https://example.com/hook", MaxConnections: 10}))
	assert.Equal(t, 10, bot.payload["max_connections"])
	_, hasSecret := bot.payload["secret_token"]
	assert.False(t, hasSecret)

	bot.err = errors.New("telegram: Unauthorized (401)")
	assert.Error(t, SetWebhook(bot, WebhookConfig{URL: "https://example.com/hook"}))
}

func TestDeleteWebhook(t *testing.T) {
	bot := &fakeRawCaller{}
	require.NoError(t, DeleteWebhook(bot, true))
	assert.Equal(t, "deleteWebhook", bot.method)
	assert.Equal(t, true, bot.payload["drop_pending_updates"])
}

func TestGetWebhookInfo(t *testing.T) {
	info := WebhookInfo{URL: "https://example.com/hook", PendingUpdateCount: 3, LastErrorDate: 1_700_000_000, LastErrorMessage: "timeout"}
	raw, err := json.Marshal(map[string]any{"ok": true, "result": info})
	require.NoError(t, err)

	got, err := GetWebhookInfo(&fakeRawCaller{resp: raw})
	require.NoError(t, err)
	assert.Equal(t, info, got)
	assert.Equal(t, int64(1_700_000_000), got.LastError().Unix())
	assert.True(t, WebhookInfo{}.LastError().IsZero())

	_, err = GetWebhookInfo(&fakeRawCaller{resp: []byte(`{"ok":false}`)})
	assert.Error(t, err)

	_, err = GetWebhookInfo(&fakeRawCaller{resp: []byte(`{`)})
	assert.Error(t, err)
}
