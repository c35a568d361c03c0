package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twitch-ai-cohost-go/internal/config"
)

type capturedRequest struct {
	contentType string
	body        string
}

func webhookSink(calls *int64, captured *capturedRequest) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(calls, 1)
		body, _ := io.ReadAll(r.Body)
		captured.contentType = r.Header.Get("Content-Type")
		captured.body = string(body)
	}))
}

func testResult() *TurnResult {
	return &TurnResult{
		Prompt:       "viewer1 asks: hi",
		ContextBody:  "system context",
		RequestJSON:  `{"model":"m"}`,
		ResponseJSON: `{"choices":[]}`,
		Response:     "hello viewer",
	}
}

func newWebhook(url, mode string) *ResultWebhook {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return NewResultWebhook(&config.WebhookConfig{URL: url, Mode: mode}, log)
}

func TestDeliverDisabledMakesNoCall(t *testing.T) {
	var calls int64
	var captured capturedRequest
	server := webhookSink(&calls, &captured)
	defer server.Close()

	w := newWebhook(server.URL, WebhookDisabled)
	require.NoError(t, w.Deliver(context.Background(), testResult()))
	assert.Zero(t, atomic.LoadInt64(&calls))
}

func TestDeliverEmptyURLMakesNoCall(t *testing.T) {
	w := newWebhook("", WebhookFull)
	require.NoError(t, w.Deliver(context.Background(), testResult()))
}

func TestDeliverCleanSendsRawResponse(t *testing.T) {
	var calls int64
	var captured capturedRequest
	server := webhookSink(&calls, &captured)
	defer server.Close()

	w := newWebhook(server.URL, WebhookClean)
	require.NoError(t, w.Deliver(context.Background(), testResult()))

	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
	assert.Equal(t, "text/plain", captured.contentType)
	assert.Equal(t, "hello viewer", captured.body)
}

func TestDeliverFullSendsTurnResultWithoutResponseField(t *testing.T) {
	var calls int64
	var captured capturedRequest
	server := webhookSink(&calls, &captured)
	defer server.Close()

	w := newWebhook(server.URL, WebhookFull)
	require.NoError(t, w.Deliver(context.Background(), testResult()))

	assert.Equal(t, "application/json", captured.contentType)

	var payload map[string]string
	require.NoError(t, json.Unmarshal([]byte(captured.body), &payload))
	assert.Equal(t, "viewer1 asks: hi", payload["prompt"])
	assert.Equal(t, "system context", payload["contextBody"])
	assert.Equal(t, `{"model":"m"}`, payload["requestJSON"])
	assert.Equal(t, `{"choices":[]}`, payload["responseJSON"])

	// the raw response travels only in clean and default modes
	_, hasResponse := payload["response"]
	assert.False(t, hasResponse)
}

func TestDeliverDefaultSendsResponseEnvelope(t *testing.T) {
	var calls int64
	var captured capturedRequest
	server := webhookSink(&calls, &captured)
	defer server.Close()

	w := newWebhook(server.URL, "anything-else")
	require.NoError(t, w.Deliver(context.Background(), testResult()))

	assert.Equal(t, "application/json", captured.contentType)
	assert.JSONEq(t, `{"response": "hello viewer"}`, captured.body)
}
