package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twitch-ai-cohost-go/internal/models"
)

// ChatSender posts a reply to the chat channel. The real transport lives
// in the host; the core only needs this boundary.
type ChatSender interface {
	Send(ctx context.Context, text string) error
}

// Speaker voices a reply through the TTS channel.
type Speaker interface {
	Speak(ctx context.Context, voiceID, text string) error
}

// LogChatSender writes outgoing chat lines to the log. Used when no chat
// transport is wired in.
type LogChatSender struct {
	Logger *logrus.Logger
}

func (s *LogChatSender) Send(ctx context.Context, text string) error {
	s.Logger.WithField("text", text).Info("Chat send")
	return nil
}

// NoopSpeaker discards TTS requests.
type NoopSpeaker struct{}

func (NoopSpeaker) Speak(ctx context.Context, voiceID, text string) error {
	return nil
}

// DiscordNotifier mirrors replies and diagnostics to a Discord webhook.
type DiscordNotifier struct {
	webhookURL string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewDiscordNotifier creates a Discord webhook notifier
func NewDiscordNotifier(webhookURL string, logger *logrus.Logger) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: webhookURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Post sends a message to the configured webhook. Failures are logged,
// never surfaced: Discord mirroring must not affect the turn outcome.
func (d *DiscordNotifier) Post(ctx context.Context, content string) {
	if d.webhookURL == "" {
		return
	}

	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		d.logger.WithError(err).Error("Failed to marshal Discord payload")
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewBuffer(payload))
	if err != nil {
		d.logger.WithError(err).Error("Failed to create Discord request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.WithError(err).Warn("Discord webhook delivery failed")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		d.logger.WithField("status", resp.StatusCode).Warn("Discord webhook rejected message")
	}
}

// postWithRetry delivers a request body up to three times with 1s and 2s
// waits between failures, matching the completion retry schedule.
func postWithRetry(ctx context.Context, client *http.Client, logger *logrus.Logger, url, contentType string, body []byte) error {
	backoff := []time.Duration{1 * time.Second, 2 * time.Second}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := client.Do(req)
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			status := resp.StatusCode
			resp.Body.Close()
			if status < 300 {
				return nil
			}
			lastErr = &models.APIError{StatusCode: status}
		} else {
			lastErr = &models.APIError{Err: err}
		}

		logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"url":     url,
			"error":   lastErr.Error(),
		}).Warn("Webhook delivery failed")

		if attempt < len(backoff) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff[attempt]):
			}
		}
	}

	return fmt.Errorf("webhook delivery failed after 3 attempts: %w", lastErr)
}
