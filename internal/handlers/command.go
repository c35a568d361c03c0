package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/twitch-ai-cohost-go/internal/config"
	"github.com/twitch-ai-cohost-go/internal/i18n"
	"github.com/twitch-ai-cohost-go/internal/models"
	"github.com/twitch-ai-cohost-go/internal/services/history"
	"github.com/twitch-ai-cohost-go/internal/services/settings"
	"github.com/twitch-ai-cohost-go/internal/services/storage"
	"github.com/twitch-ai-cohost-go/internal/services/usage"
)

// CommandHandler implements the explicit memory, keyword, settings and
// housekeeping operations the host exposes as chat commands. Every method
// returns the localized user-facing confirmation line.
type CommandHandler struct {
	cfg        *config.Config
	store      *storage.Manager
	session    *history.Session
	settings   *settings.Service
	accountant *usage.Accountant
	localizer  *i18n.Localizer
	logger     *logrus.Logger
	lang       string
}

// NewCommandHandler creates a command handler
func NewCommandHandler(
	cfg *config.Config,
	store *storage.Manager,
	session *history.Session,
	settingsService *settings.Service,
	accountant *usage.Accountant,
	localizer *i18n.Localizer,
	logger *logrus.Logger,
) *CommandHandler {
	return &CommandHandler{
		cfg:        cfg,
		store:      store,
		session:    session,
		settings:   settingsService,
		accountant: accountant,
		localizer:  localizer,
		logger:     logger,
		lang:       cfg.I18n.DefaultLanguage,
	}
}

// RememberKeyword creates or updates a keyword definition
func (h *CommandHandler) RememberKeyword(ctx context.Context, word, definition string) (string, error) {
	if strings.TrimSpace(word) == "" || strings.TrimSpace(definition) == "" {
		return "", fmt.Errorf("%w: keyword and definition are required", models.ErrValidation)
	}

	if err := h.store.RememberKeyword(ctx, word, definition); err != nil {
		return "", err
	}

	h.logger.WithField("keyword", word).Info("Keyword remembered")
	return h.localizer.Get(h.lang, i18n.MsgKeywordSaved, map[string]interface{}{"Word": word}), nil
}

// ForgetKeyword deletes a keyword definition
func (h *CommandHandler) ForgetKeyword(ctx context.Context, word string) (string, error) {
	if strings.TrimSpace(word) == "" {
		return "", fmt.Errorf("%w: keyword is required", models.ErrValidation)
	}

	existing, err := h.store.GetKeyword(ctx, word)
	if err != nil {
		return "", err
	}
	if existing == nil {
		return h.localizer.Get(h.lang, i18n.MsgKeywordUnknown, map[string]interface{}{"Word": word}), nil
	}

	if err := h.store.ForgetKeyword(ctx, word); err != nil {
		return "", err
	}

	h.logger.WithField("keyword", word).Info("Keyword forgotten")
	return h.localizer.Get(h.lang, i18n.MsgKeywordForgotten, map[string]interface{}{"Word": word}), nil
}

// SetPreferredName updates how the bot addresses a user
func (h *CommandHandler) SetPreferredName(ctx context.Context, userName, preferredName string) (string, error) {
	if strings.TrimSpace(preferredName) == "" {
		return "", fmt.Errorf("%w: preferred name is required", models.ErrValidation)
	}

	if err := h.store.SetPreferredName(ctx, userName, preferredName); err != nil {
		return "", err
	}
	return h.localizer.Get(h.lang, i18n.MsgProfileUpdated, map[string]interface{}{"User": preferredName}), nil
}

// SetPronouns updates a user's stored pronouns
func (h *CommandHandler) SetPronouns(ctx context.Context, userName, pronouns string) (string, error) {
	if strings.TrimSpace(pronouns) == "" {
		return "", fmt.Errorf("%w: pronouns are required", models.ErrValidation)
	}

	if err := h.store.SetPronouns(ctx, userName, pronouns); err != nil {
		return "", err
	}
	return h.localizer.Get(h.lang, i18n.MsgProfileUpdated, map[string]interface{}{"User": userName}), nil
}

// AddMemory appends a free-text fact to a user's knowledge list
func (h *CommandHandler) AddMemory(ctx context.Context, userName, fact string) (string, error) {
	if strings.TrimSpace(fact) == "" {
		return "", fmt.Errorf("%w: memory text is required", models.ErrValidation)
	}

	if err := h.store.AddKnowledge(ctx, userName, fact); err != nil {
		return "", err
	}
	return h.localizer.Get(h.lang, i18n.MsgProfileUpdated, map[string]interface{}{"User": userName}), nil
}

// ResetProfile reverts a profile to its defaults. Profiles are reset,
// never deleted.
func (h *CommandHandler) ResetProfile(ctx context.Context, userName string) (string, error) {
	if err := h.store.ResetProfile(ctx, userName); err != nil {
		return "", err
	}
	return h.localizer.Get(h.lang, i18n.MsgProfileReset, map[string]interface{}{"User": userName}), nil
}

// ClearHistory empties both history queues. Clearing queues that held
// nothing reports that there was nothing to clear.
func (h *CommandHandler) ClearHistory(ctx context.Context) (string, error) {
	clearedChat := h.session.ClearChatLog()
	clearedPrompts := h.session.ClearExchanges()

	if !clearedChat && !clearedPrompts {
		return h.localizer.Get(h.lang, i18n.MsgNothingToClear, nil), nil
	}

	h.logger.Info("Conversation history cleared")
	return h.localizer.Get(h.lang, i18n.MsgHistoryCleared, nil), nil
}

// UsageReport returns the rolling token totals and cost estimate
func (h *CommandHandler) UsageReport(ctx context.Context) (string, error) {
	totals, err := h.accountant.RollingTotals(ctx)
	if err != nil {
		return "", err
	}

	return h.localizer.Get(h.lang, i18n.MsgUsageReport, map[string]interface{}{
		"PromptTokens":     totals.PromptTokens,
		"CompletionTokens": totals.CompletionTokens,
		"TotalTokens":      totals.TotalTokens,
		"Cost":             fmt.Sprintf("%.4f", totals.EstimatedCost),
	}), nil
}

// SaveSettings persists the current runtime settings
func (h *CommandHandler) SaveSettings(ctx context.Context) error {
	return h.settings.Save(ctx)
}

// LoadSettings reloads runtime settings from the store
func (h *CommandHandler) LoadSettings(ctx context.Context) error {
	return h.settings.Load(ctx)
}
