package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twitch-ai-cohost-go/internal/config"
	"github.com/twitch-ai-cohost-go/internal/models"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func newTestClient(endpoint string) (*Client, *[]time.Duration) {
	client := NewClient(&config.CompletionConfig{
		Model:            "test-model",
		Endpoint:         endpoint,
		APIKey:           "test-key",
		MaxResponseChars: 500,
		Timeout:          5 * time.Second,
	}, testLogger())

	var sleeps []time.Duration
	client.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	return client, &sleeps
}

func TestBuildMessagesSequence(t *testing.T) {
	client, _ := newTestClient("http://unused")

	chatLog := []models.ChatMessage{
		{Role: models.RoleUser, Content: "viewer1: hi"},
		{Role: models.RoleUser, Content: "viewer2: hello"},
	}
	exchanges := []models.ChatMessage{
		{Role: models.RoleUser, Content: "old question"},
		{Role: models.RoleAssistant, Content: "old answer"},
	}

	messages := client.BuildMessages("context here", chatLog, exchanges, "someone asks: new question")

	require.Len(t, messages, 1+2+4+2+2+1)

	assert.Equal(t, models.RoleSystem, messages[0].Role)
	assert.Equal(t, "context here", messages[0].Content)

	// priming exchange
	assert.Equal(t, models.RoleUser, messages[1].Role)
	assert.Equal(t, ackReply, messages[2].Content)

	// chat replay with forced acknowledgments
	assert.Equal(t, "viewer1: hi", messages[3].Content)
	assert.Equal(t, ackReply, messages[4].Content)
	assert.Equal(t, "viewer2: hello", messages[5].Content)
	assert.Equal(t, ackReply, messages[6].Content)

	// end-of-replay sentinel pair
	assert.Equal(t, replayDone, messages[7].Content)
	assert.Equal(t, ackReply, messages[8].Content)

	// prompt/response pairs carry no acknowledgments
	assert.Equal(t, "old question", messages[9].Content)
	assert.Equal(t, "old answer", messages[10].Content)

	last := messages[len(messages)-1]
	assert.Equal(t, models.RoleUser, last.Role)
	assert.Contains(t, last.Content, "someone asks: new question")
	assert.Contains(t, last.Content, "500 characters")
}

func TestBuildMessagesEmptyChatLogSkipsReplayFraming(t *testing.T) {
	client, _ := newTestClient("http://unused")

	messages := client.BuildMessages("ctx", nil, nil, "q")
	require.Len(t, messages, 2)
	assert.Equal(t, models.RoleSystem, messages[0].Role)
	assert.Equal(t, models.RoleUser, messages[1].Role)
}

func TestCompleteRetriesThreeTimes(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, sleeps := newTestClient(server.URL)

	_, err := client.Complete(context.Background(), "ctx", nil, nil, "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTransport)

	assert.Equal(t, 3, requests, "exactly three attempts")
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *sleeps, "no sleep after the final attempt")

	var apiErr *models.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "unavailable")
}

func TestCompleteConnectionFailureIsTransportKind(t *testing.T) {
	// nothing listens on port 1, so every dial fails without a status
	client, sleeps := newTestClient("http://127.0.0.1:1")

	_, err := client.Complete(context.Background(), "ctx", nil, nil, "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTransport)

	var apiErr *models.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Zero(t, apiErr.StatusCode)

	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *sleeps)
}

func TestCompleteSuccessParsesTextAndUsage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model    string               `json:"model"`
			Messages []models.ChatMessage `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		fmt.Fprint(w, `{
			"choices": [{"message": {"role": "assistant", "content": "hello viewer"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`)
	}))
	defer server.Close()

	client, sleeps := newTestClient(server.URL)

	completion, err := client.Complete(context.Background(), "ctx", nil, nil, "q")
	require.NoError(t, err)
	assert.Empty(t, *sleeps)

	assert.Equal(t, "hello viewer", completion.Text)
	assert.Equal(t, 12, completion.Usage.PromptTokens)
	assert.Equal(t, 7, completion.Usage.CompletionTokens)
	assert.Equal(t, 19, completion.Usage.TotalTokens)
	assert.Equal(t, "test-model", completion.Usage.Model)
	assert.NotEmpty(t, completion.RequestJSON)
	assert.NotEmpty(t, completion.ResponseJSON)
}

func TestCompleteEmptyContentIsNotRetried(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		fmt.Fprint(w, `{"choices": [{"message": {"role": "assistant", "content": ""}}]}`)
	}))
	defer server.Close()

	client, sleeps := newTestClient(server.URL)

	_, err := client.Complete(context.Background(), "ctx", nil, nil, "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrEmptyResponse)
	assert.NotErrorIs(t, err, models.ErrTransport)
	assert.Equal(t, 1, requests)
	assert.Empty(t, *sleeps)
}
