package i18n

import (
	"encoding/json"
	"fmt"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/twitch-ai-cohost-go/internal/config"
	"golang.org/x/text/language"
)

// Localizer manages the user-facing strings. Everything a viewer can see
// goes through here; raw errors never do.
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	for _, lang := range cfg.Languages {
		if _, err := bundle.LoadMessageFile(fmt.Sprintf("configs/i18n/%s.json", lang)); err != nil {
			return nil, fmt.Errorf("failed to load language file %s: %w", lang, err)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range cfg.Languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		localizers:      localizers,
	}, nil
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}
	if localizer == nil {
		return messageID
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// Message IDs
const (
	MsgFallbackError     = "fallback_error"
	MsgEmptyReply        = "empty_reply"
	MsgRebuke            = "rebuke"
	MsgMissingPrompt     = "missing_prompt"
	MsgRateLimitExceeded = "rate_limit_exceeded"
	MsgNothingToClear    = "nothing_to_clear"
	MsgHistoryCleared    = "history_cleared"
	MsgKeywordSaved      = "keyword_saved"
	MsgKeywordForgotten  = "keyword_forgotten"
	MsgKeywordUnknown    = "keyword_unknown"
	MsgProfileUpdated    = "profile_updated"
	MsgProfileReset      = "profile_reset"
	MsgUsageReport       = "usage_report"
)
