package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twitch-ai-cohost-go/internal/config"
)

// Webhook delivery modes.
const (
	WebhookDisabled = "disabled"
	WebhookClean    = "clean"
	WebhookFull     = "full"
	WebhookDefault  = "default"
)

// TurnResult carries everything the full webhook mode exposes about a
// completed turn.
type TurnResult struct {
	Prompt       string `json:"prompt"`
	ContextBody  string `json:"contextBody"`
	RequestJSON  string `json:"requestJSON"`
	ResponseJSON string `json:"responseJSON"`
	Response     string `json:"-"`
}

// ResultWebhook delivers the turn result to an external consumer in one
// of three body shapes, or not at all.
type ResultWebhook struct {
	cfg        *config.WebhookConfig
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewResultWebhook creates a result webhook sender
func NewResultWebhook(cfg *config.WebhookConfig, logger *logrus.Logger) *ResultWebhook {
	return &ResultWebhook{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		logger: logger,
	}
}

// Deliver sends the result according to the configured mode. Delivery is
// fire-and-forget from the pipeline's perspective; errors are returned
// only for logging.
func (w *ResultWebhook) Deliver(ctx context.Context, result *TurnResult) error {
	mode := strings.ToLower(w.cfg.Mode)
	if mode == WebhookDisabled || w.cfg.URL == "" {
		return nil
	}

	var (
		body        []byte
		contentType string
		err         error
	)

	switch mode {
	case WebhookClean:
		body = []byte(result.Response)
		contentType = "text/plain"
	case WebhookFull:
		body, err = json.Marshal(result)
		contentType = "application/json"
	default:
		body, err = json.Marshal(map[string]string{"response": result.Response})
		contentType = "application/json"
	}
	if err != nil {
		return err
	}

	return postWithRetry(ctx, w.httpClient, w.logger, w.cfg.URL, contentType, body)
}
