package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
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
	"github.com/twitch-ai-cohost-go/internal/services/twitch"
	"github.com/twitch-ai-cohost-go/internal/services/usage"
	"github.com/twitch-ai-cohost-go/pkg/logger"
	"github.com/twitch-ai-cohost-go/pkg/markdown"
	"github.com/twitch-ai-cohost-go/pkg/sanitize"
)

// AskRequest parametrizes one conversation turn. Source and WithVoice are
// the two knobs that used to distinguish the duplicated ask flows.
type AskRequest struct {
	UserName  string
	Prompt    string
	Source    string
	WithVoice bool
}

// AskHandler runs the full decision-and-assembly pipeline for one turn:
// moderation gate, context enrichment, completion, sanitization, history
// and usage bookkeeping, then outbound fan-out.
type AskHandler struct {
	cfg         *config.Config
	session     *history.Session
	assembler   *enrichment.Assembler
	gate        *moderation.Gate
	client      *ai.Client
	accountant  *usage.Accountant
	twitch      *twitch.Client
	chat        notify.ChatSender
	speaker     notify.Speaker
	discord     *notify.DiscordNotifier
	webhook     *notify.ResultWebhook
	rateLimiter middleware.RateLimiter
	localizer   *i18n.Localizer
	settings    *settings.Service
	metrics     *middleware.Metrics
	logger      *logrus.Logger
	lang        string
}

// NewAskHandler creates the unified ask pipeline handler
func NewAskHandler(
	cfg *config.Config,
	session *history.Session,
	assembler *enrichment.Assembler,
	gate *moderation.Gate,
	client *ai.Client,
	accountant *usage.Accountant,
	twitchClient *twitch.Client,
	chat notify.ChatSender,
	speaker notify.Speaker,
	discord *notify.DiscordNotifier,
	webhook *notify.ResultWebhook,
	rateLimiter middleware.RateLimiter,
	localizer *i18n.Localizer,
	settingsService *settings.Service,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *AskHandler {
	return &AskHandler{
		cfg:         cfg,
		session:     session,
		assembler:   assembler,
		gate:        gate,
		client:      client,
		accountant:  accountant,
		twitch:      twitchClient,
		chat:        chat,
		speaker:     speaker,
		discord:     discord,
		webhook:     webhook,
		rateLimiter: rateLimiter,
		localizer:   localizer,
		settings:    settingsService,
		metrics:     metrics,
		logger:      logger,
		lang:        cfg.I18n.DefaultLanguage,
	}
}

// ObserveChat records a chat-log message from any user. The chat log
// feeds history replay without triggering a reply.
func (h *AskHandler) ObserveChat(userName, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	h.session.RecordChatMessage(userName, text)
}

// Handle runs one conversation turn and returns the user-facing reply
// text. On a terminal failure the single localized fallback message is
// the only user-visible output; diagnostics stay in the log.
func (h *AskHandler) Handle(ctx context.Context, req AskRequest) (string, error) {
	log := logger.WithTurn(h.logger, req.UserName, req.Source)

	h.metrics.RecordPromptReceived(req.Source)

	if strings.TrimSpace(req.Prompt) == "" {
		h.metrics.RecordTurnProcessed("validation_error")
		h.emit(req, h.localizer.Get(h.lang, i18n.MsgMissingPrompt, nil))
		return "", fmt.Errorf("%w: prompt text is required", models.ErrValidation)
	}
	if strings.TrimSpace(req.UserName) == "" {
		h.metrics.RecordTurnProcessed("validation_error")
		return "", fmt.Errorf("%w: user name is required", models.ErrValidation)
	}

	if !h.rateLimiter.Allow(req.UserName) {
		h.metrics.RecordRateLimitExceeded(req.UserName)
		h.emit(req, h.localizer.Get(h.lang, i18n.MsgRateLimitExceeded, nil))
		return "", nil
	}

	// Moderation gate: thresholds decide, classifier failure blocks
	modResult, err := h.gate.Evaluate(ctx, req.Prompt)
	if err != nil {
		log.WithError(err).Error("Moderation classifier failed")
		h.metrics.RecordModerationDecision("error")
		h.metrics.RecordTurnProcessed("moderation_error")
		h.emit(req, h.localizer.Get(h.lang, i18n.MsgFallbackError, nil))
		return "", err
	}

	if !modResult.Passed() {
		h.metrics.RecordModerationDecision("blocked")
		h.metrics.RecordTurnProcessed("blocked")
		h.handleRebuke(req, modResult)
		return "", &models.ModerationError{Flagged: modResult.FlaggedCategories}
	}
	h.metrics.RecordModerationDecision("passed")

	stream := h.twitch.StreamInfo(ctx)

	assembled, err := h.assembler.Assemble(ctx, req.UserName, req.Prompt, stream)
	if err != nil {
		log.WithError(err).Error("Context assembly failed")
		h.metrics.RecordTurnProcessed("persistence_error")
		h.emit(req, h.localizer.Get(h.lang, i18n.MsgFallbackError, nil))
		return "", err
	}

	chatLog := h.session.ChatLog()
	exchanges := h.session.Exchanges()

	started := time.Now()
	completion, err := h.client.Complete(ctx, assembled.SystemContext, chatLog, exchanges, assembled.UserPrompt)
	if err != nil {
		status := "transport_error"
		msgID := i18n.MsgFallbackError
		if errors.Is(err, models.ErrEmptyResponse) {
			status = "empty_response"
			msgID = i18n.MsgEmptyReply
		}
		h.metrics.RecordCompletion(h.cfg.Completion.Model, status, time.Since(started))
		h.metrics.RecordTurnProcessed(status)
		log.WithError(err).Error("Completion failed")
		h.emit(req, h.localizer.Get(h.lang, msgID, nil))
		return "", err
	}
	h.metrics.RecordCompletion(h.cfg.Completion.Model, "success", time.Since(started))
	h.metrics.RecordTokens(completion.Usage.Model, completion.Usage.PromptTokens, completion.Usage.CompletionTokens)

	cleanText := sanitize.Clean(markdown.ToPlainText(completion.Text), sanitize.ParseMode(h.cleanMode()))

	// History and usage mutations happen only after a successful call
	h.session.RecordExchange(assembled.UserPrompt, completion.Text)
	h.session.RecordChatMessage(req.UserName, req.Prompt)

	if err := h.accountant.Record(ctx, completion.Usage); err != nil {
		// Usage bookkeeping never rolls back the exchange
		log.WithError(err).Error("Failed to record token usage")
	}

	h.fanOut(req, assembled, completion, cleanText)

	h.metrics.RecordTurnProcessed("success")
	return cleanText, nil
}

// cleanMode resolves the output clean mode per turn so a settings
// reload takes effect without a restart.
func (h *AskHandler) cleanMode() string {
	if override, ok := h.settings.Get(settings.KeyCleanMode); ok && override != "" {
		return override
	}
	return h.cfg.Output.CleanMode
}

// handleRebuke emits the moderation rebuke when both the rebuke and
// post-output toggles allow it. Voicing it additionally requires the
// voice toggle and a configured voice identity.
func (h *AskHandler) handleRebuke(req AskRequest, result *models.ModerationResult) {
	if !h.cfg.Moderation.RebukeEnabled || !h.cfg.Output.PostToChat {
		return
	}

	rebuke := h.localizer.Get(h.lang, i18n.MsgRebuke, map[string]interface{}{
		"User":       req.UserName,
		"Categories": strings.Join(result.FlaggedCategories, ", "),
	})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := h.chat.Send(ctx, rebuke); err != nil {
			h.logger.WithError(err).Warn("Failed to post rebuke")
		}
		if req.WithVoice && h.cfg.Voice.Enabled && h.cfg.Voice.VoiceID != "" {
			if err := h.speaker.Speak(ctx, h.cfg.Voice.VoiceID, rebuke); err != nil {
				h.logger.WithError(err).Warn("Failed to voice rebuke")
			}
		}
	}()
}

// emit delivers a single user-facing message through the enabled output
// channels. Used for fallback messaging on terminal failures.
func (h *AskHandler) emit(req AskRequest, text string) {
	if text == "" {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if h.cfg.Output.PostToChat {
			if err := h.chat.Send(ctx, text); err != nil {
				h.logger.WithError(err).Warn("Failed to post message")
			}
		}
		if req.WithVoice && h.cfg.Voice.Enabled && h.cfg.Voice.VoiceID != "" {
			if err := h.speaker.Speak(ctx, h.cfg.Voice.VoiceID, text); err != nil {
				h.logger.WithError(err).Warn("Failed to voice message")
			}
		}
	}()
}

// fanOut delivers the reply to every outbound channel. Each delivery is
// fire-and-forget; failures are logged and never affect the turn result.
func (h *AskHandler) fanOut(req AskRequest, assembled *enrichment.Result, completion *ai.Completion, cleanText string) {
	h.emit(req, cleanText)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if h.cfg.Output.Discord.Enabled {
			h.discord.Post(ctx, fmt.Sprintf("**%s**: %s\n%s", req.UserName, req.Prompt, cleanText))
		}

		result := &notify.TurnResult{
			Prompt:       req.Prompt,
			ContextBody:  assembled.SystemContext,
			RequestJSON:  completion.RequestJSON,
			ResponseJSON: completion.ResponseJSON,
			Response:     cleanText,
		}
		if err := h.webhook.Deliver(ctx, result); err != nil {
			h.logger.WithError(err).Warn("Result webhook delivery failed")
		}
	}()
}
