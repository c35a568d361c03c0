package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twitch-ai-cohost-go/internal/config"
	"github.com/twitch-ai-cohost-go/internal/models"
)

const maxAttempts = 3

// backoffSchedule holds the wait before each retry; no wait follows the
// final attempt.
var backoffSchedule = []time.Duration{1 * time.Second, 2 * time.Second}

// Priming exchange and replay sentinels. The model is told to acknowledge
// replayed chat so history does not leak into the visible reply.
const (
	primingPrompt = "I am going to replay the recent chat log so you have context. Reply OK to each message and wait for the question."
	ackReply      = "OK"
	replayDone    = "FINISHED"
)

// Completion is the result of one successful completion call.
type Completion struct {
	Text         string
	Usage        models.UsageRecord
	RequestJSON  string
	ResponseJSON string
}

// Client calls the chat-completions endpoint with bounded retries and
// exponential backoff.
type Client struct {
	cfg        *config.CompletionConfig
	httpClient *http.Client
	logger     *logrus.Logger
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewClient creates a completion client
func NewClient(cfg *config.CompletionConfig, logger *logrus.Logger) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
		sleep:  sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// BuildMessages constructs the wire message sequence: system context,
// priming exchange, chat-log replay with forced acknowledgments, the
// replay-done sentinel pair, prior prompt/response pairs, and finally the
// new prompt with an explicit length cap.
func (c *Client) BuildMessages(systemContext string, chatLog, exchanges []models.ChatMessage, userPrompt string) []models.ChatMessage {
	messages := make([]models.ChatMessage, 0, len(chatLog)*2+len(exchanges)+6)

	messages = append(messages, models.ChatMessage{Role: models.RoleSystem, Content: systemContext})

	if len(chatLog) > 0 {
		messages = append(messages,
			models.ChatMessage{Role: models.RoleUser, Content: primingPrompt},
			models.ChatMessage{Role: models.RoleAssistant, Content: ackReply},
		)
		for _, msg := range chatLog {
			messages = append(messages,
				models.ChatMessage{Role: models.RoleUser, Content: msg.Content},
				models.ChatMessage{Role: models.RoleAssistant, Content: ackReply},
			)
		}
		messages = append(messages,
			models.ChatMessage{Role: models.RoleUser, Content: replayDone},
			models.ChatMessage{Role: models.RoleAssistant, Content: ackReply},
		)
	}

	// Prompt/response pairs already alternate user/assistant
	messages = append(messages, exchanges...)

	prompt := fmt.Sprintf("%s Limit your response to %d characters.", userPrompt, c.cfg.MaxResponseChars)
	messages = append(messages, models.ChatMessage{Role: models.RoleUser, Content: prompt})

	return messages
}

// Complete sends the assembled sequence, retrying transport and non-2xx
// failures up to three attempts with 1s and 2s waits between them.
// Exhausting the attempts is a terminal failure for the current turn.
func (c *Client) Complete(ctx context.Context, systemContext string, chatLog, exchanges []models.ChatMessage, userPrompt string) (*Completion, error) {
	messages := c.BuildMessages(systemContext, chatLog, exchanges, userPrompt)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		completion, err := c.attempt(ctx, messages, attempt)
		if err == nil {
			return completion, nil
		}

		// Empty content is a final outcome, not a transport fault
		if errors.Is(err, models.ErrEmptyResponse) {
			return nil, err
		}

		lastErr = err
		c.logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"error":   err.Error(),
			"model":   c.cfg.Model,
		}).Warn("Completion request failed")

		if attempt < len(backoffSchedule) {
			if err := c.sleep(ctx, backoffSchedule[attempt]); err != nil {
				return nil, err
			}
		}
	}

	return nil, fmt.Errorf("all %d completion attempts failed: %w", maxAttempts, lastErr)
}

func (c *Client) attempt(ctx context.Context, messages []models.ChatMessage, attempt int) (*Completion, error) {
	reqBody := map[string]interface{}{
		"model":    c.cfg.Model,
		"messages": messages,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	c.logger.WithFields(logrus.Fields{
		"model":    c.cfg.Model,
		"messages": len(messages),
		"attempt":  attempt + 1,
	}).Debug("Sending completion request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &models.APIError{Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.APIError{Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &models.APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var result struct {
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &models.APIError{Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	if len(result.Choices) == 0 || result.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("%w: completion yielded no text", models.ErrEmptyResponse)
	}

	return &Completion{
		Text: result.Choices[0].Message.Content,
		Usage: models.UsageRecord{
			Model:            c.cfg.Model,
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
		RequestJSON:  string(jsonData),
		ResponseJSON: string(body),
	}, nil
}
