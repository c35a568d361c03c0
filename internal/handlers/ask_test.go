package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twitch-ai-cohost-go/internal/config"
	"github.com/twitch-ai-cohost-go/internal/i18n"
	"github.com/twitch-ai-cohost-go/internal/middleware"
	"github.com/twitch-ai-cohost-go/internal/models"
	"github.com/twitch-ai-cohost-go/internal/services/ai"
	"github.com/twitch-ai-cohost-go/internal/services/enrichment"
	"github.com/twitch-ai-cohost-go/internal/services/history"
	"github.com/twitch-ai-cohost-go/internal/services/moderation"
	"github.com/twitch-ai-cohost-go/internal/services/notify"
	"github.com/twitch-ai-cohost-go/internal/services/settings"
	"github.com/twitch-ai-cohost-go/internal/services/storage"
	"github.com/twitch-ai-cohost-go/internal/services/twitch"
	"github.com/twitch-ai-cohost-go/internal/services/usage"
)

// recordingChatSender captures outgoing chat lines; emits happen on
// goroutines so reads go through waitForSend.
type recordingChatSender struct {
	mu    sync.Mutex
	sent  []string
	notch chan struct{}
}

func newRecordingChatSender() *recordingChatSender {
	return &recordingChatSender{notch: make(chan struct{}, 16)}
}

func (s *recordingChatSender) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	s.sent = append(s.sent, text)
	s.mu.Unlock()
	s.notch <- struct{}{}
	return nil
}

func (s *recordingChatSender) waitForSend(t *testing.T) string {
	select {
	case <-s.notch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a chat send")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[len(s.sent)-1]
}

type denyAllLimiter struct{}

func (denyAllLimiter) Allow(userName string) bool { return false }
func (denyAllLimiter) Reset(userName string)      {}

type askFixture struct {
	handler  *AskHandler
	chat     *recordingChatSender
	session  *history.Session
	store    *storage.Manager
	settings *settings.Service
}

func newAskFixture(t *testing.T, cfg *config.Config, limiter middleware.RateLimiter) *askFixture {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)

	store, err := storage.NewManager(cfg, log)
	require.NoError(t, err)

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	require.NoError(t, err)

	session := history.NewSession(cfg.History.MaxChatHistory, cfg.History.MaxPromptHistory)
	chat := newRecordingChatSender()
	settingsService := settings.NewService(store, "test-passphrase", log)

	if limiter == nil {
		limiter = middleware.NewRateLimiter(cfg, log)
	}

	handler := NewAskHandler(
		cfg,
		session,
		enrichment.NewAssembler(store, cfg.Bot.Persona, log),
		moderation.NewGate(&cfg.Moderation, cfg.Completion.APIKey, log),
		ai.NewClient(&cfg.Completion, log),
		usage.NewAccountant(store, &cfg.Usage, log),
		twitch.NewClient(&cfg.Twitch, log),
		chat,
		notify.NoopSpeaker{},
		notify.NewDiscordNotifier("", log),
		notify.NewResultWebhook(&cfg.Output.Webhook, log),
		limiter,
		localizer,
		settingsService,
		middleware.NewMetrics(),
		log,
	)

	return &askFixture{handler: handler, chat: chat, session: session, store: store, settings: settingsService}
}

func baseConfig(completionURL string) *config.Config {
	return &config.Config{
		Bot: config.BotConfig{Persona: "You are a co-host."},
		Completion: config.CompletionConfig{
			Model:    "test-model",
			Endpoint: completionURL,
			APIKey:   "test-key",
			Timeout:  5 * time.Second,
		},
		History: config.HistoryConfig{MaxChatHistory: 20, MaxPromptHistory: 10},
		Output: config.OutputConfig{
			PostToChat: true,
			CleanMode:  "off",
			Webhook:    config.WebhookConfig{Mode: "disabled"},
		},
		Usage:   config.UsageConfig{WindowDays: 30},
		Twitch:  config.TwitchConfig{Broadcaster: "Streamer"},
		Storage: config.StorageConfig{Type: "memory"},
		I18n:    config.I18nConfig{DefaultLanguage: "en"},
	}
}

func completionStub(t *testing.T, content string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{
			"choices": [{"message": {"role": "assistant", "content": %q}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`, content)
	}))
}

func TestHandleRejectsBlankPrompt(t *testing.T) {
	f := newAskFixture(t, baseConfig("http://unused"), nil)

	_, err := f.handler.Handle(context.Background(), AskRequest{UserName: "viewer1", Prompt: "   "})
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Equal(t, i18n.MsgMissingPrompt, f.chat.waitForSend(t), "asker is told nothing was asked")

	_, err = f.handler.Handle(context.Background(), AskRequest{UserName: "", Prompt: "hi"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestHandleRateLimitedEmitsNotice(t *testing.T) {
	f := newAskFixture(t, baseConfig("http://unused"), denyAllLimiter{})

	reply, err := f.handler.Handle(context.Background(), AskRequest{UserName: "viewer1", Prompt: "hi"})
	require.NoError(t, err)
	assert.Empty(t, reply)

	assert.Equal(t, i18n.MsgRateLimitExceeded, f.chat.waitForSend(t))
}

func TestHandleModerationBlockEmitsRebuke(t *testing.T) {
	classifier := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results": [{"categories": {}, "category_scores": {"hate": 0.95}}]}`)
	}))
	defer classifier.Close()

	cfg := baseConfig("http://unused")
	cfg.Moderation = config.ModerationConfig{
		Enabled:       true,
		RebukeEnabled: true,
		Endpoint:      classifier.URL,
	}
	f := newAskFixture(t, cfg, nil)

	_, err := f.handler.Handle(context.Background(), AskRequest{UserName: "viewer1", Prompt: "something vile"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrModerationBlocked)

	var modErr *models.ModerationError
	require.ErrorAs(t, err, &modErr)
	assert.Equal(t, []string{"hate"}, modErr.Flagged)

	assert.Equal(t, i18n.MsgRebuke, f.chat.waitForSend(t))
	assert.Empty(t, f.session.Exchanges(), "blocked turns leave no history")
}

func TestHandleSuccessRecordsHistoryAndUsage(t *testing.T) {
	server := completionStub(t, "**hello** viewer")
	defer server.Close()

	f := newAskFixture(t, baseConfig(server.URL), nil)
	ctx := context.Background()

	reply, err := f.handler.Handle(ctx, AskRequest{UserName: "viewer1", Prompt: "say hi", Source: "chat"})
	require.NoError(t, err)
	assert.Equal(t, "hello viewer", reply, "markdown is flattened before delivery")

	exchanges := f.session.Exchanges()
	require.Len(t, exchanges, 2)
	assert.Equal(t, "viewer1 asks: say hi", exchanges[0].Content)
	assert.Equal(t, "**hello** viewer", exchanges[1].Content, "history keeps the raw reply")

	chatLog := f.session.ChatLog()
	require.Len(t, chatLog, 1)
	assert.Equal(t, "viewer1: say hi", chatLog[0].Content)

	records, err := f.store.GetUsageRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 19, records[0].TotalTokens)

	assert.Equal(t, "hello viewer", f.chat.waitForSend(t))
}

func TestHandleCleanModeFollowsSettingsOverride(t *testing.T) {
	server := completionStub(t, "great 😀 stream")
	defer server.Close()

	f := newAskFixture(t, baseConfig(server.URL), nil)
	ctx := context.Background()

	reply, err := f.handler.Handle(ctx, AskRequest{UserName: "viewer1", Prompt: "how is it going"})
	require.NoError(t, err)
	assert.Equal(t, "great 😀 stream", reply, "configured mode off leaves the emoji")

	f.settings.Set(settings.KeyCleanMode, "strip_emojis")

	reply, err = f.handler.Handle(ctx, AskRequest{UserName: "viewer1", Prompt: "and now"})
	require.NoError(t, err)
	assert.Equal(t, "great stream", reply, "override applies without a restart")
}

func TestHandleCompletionFailureEmitsFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": [{"message": {"role": "assistant", "content": ""}}]}`)
	}))
	defer server.Close()

	f := newAskFixture(t, baseConfig(server.URL), nil)

	_, err := f.handler.Handle(context.Background(), AskRequest{UserName: "viewer1", Prompt: "say hi"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrEmptyResponse)

	assert.Equal(t, i18n.MsgEmptyReply, f.chat.waitForSend(t))
	assert.Empty(t, f.session.Exchanges(), "failed turns leave no history")
}
