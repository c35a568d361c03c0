package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/twitch-ai-cohost-go/internal/config"
	"github.com/twitch-ai-cohost-go/internal/models"
)

// Per-category threshold defaults. Self-harm-related categories gate
// earlier than the rest.
const (
	DefaultThreshold         = 0.5
	DefaultSelfHarmThreshold = 0.4
)

// Gate classifies prompts against per-category thresholds before they
// reach the completion model. Thresholds are the sole authority; the
// classifier's own boolean verdict is ignored.
type Gate struct {
	cfg        *config.ModerationConfig
	apiKey     string
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewGate creates a moderation gate
func NewGate(cfg *config.ModerationConfig, apiKey string, logger *logrus.Logger) *Gate {
	return &Gate{
		cfg:    cfg,
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger,
	}
}

// Enabled reports whether the gate will call the classifier at all.
func (g *Gate) Enabled() bool {
	return g.cfg.Enabled
}

// Evaluate classifies the prompt. When moderation is disabled the prompt
// passes through with no classifier call. A classifier failure blocks the
// turn; it is never silently treated as a pass.
func (g *Gate) Evaluate(ctx context.Context, prompt string) (*models.ModerationResult, error) {
	if !g.cfg.Enabled {
		return &models.ModerationResult{}, nil
	}

	scores, err := g.classify(ctx, prompt)
	if err != nil {
		return nil, err
	}

	result := &models.ModerationResult{CategoryScores: scores}
	for category, score := range scores {
		if score >= g.ResolveThreshold(category) {
			result.FlaggedCategories = append(result.FlaggedCategories, category)
		}
	}
	sort.Strings(result.FlaggedCategories)

	if !result.Passed() {
		g.logger.WithField("flagged", result.FlaggedCategories).Info("Prompt blocked by moderation")
	}

	return result, nil
}

// ResolveThreshold returns the configured threshold for a category,
// clamped to [0,1]. Unparsable or missing values fall back to the
// per-category default.
func (g *Gate) ResolveThreshold(category string) float64 {
	fallback := DefaultThreshold
	if strings.Contains(strings.ToLower(category), "self-harm") {
		fallback = DefaultSelfHarmThreshold
	}

	raw, ok := g.cfg.Thresholds[category]
	if !ok {
		return fallback
	}

	threshold, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		g.logger.WithFields(logrus.Fields{
			"category": category,
			"value":    raw,
		}).Warn("Unparsable moderation threshold, using default")
		return fallback
	}

	if threshold < 0 {
		return 0
	}
	if threshold > 1 {
		return 1
	}
	return threshold
}

func (g *Gate) classify(ctx context.Context, prompt string) (map[string]float64, error) {
	reqBody := map[string]string{
		"model": g.cfg.Model,
		"input": prompt,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal moderation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create moderation request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, &models.APIError{Err: fmt.Errorf("moderation request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &models.APIError{Err: fmt.Errorf("failed to read moderation response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &models.APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	// The boolean per-category flags in the response are ignored;
	// gating is driven by category_scores alone.
	var result struct {
		Results []struct {
			CategoryScores map[string]float64 `json:"category_scores"`
		} `json:"results"`
	}

	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &models.APIError{Err: fmt.Errorf("failed to parse moderation response: %w", err)}
	}

	if len(result.Results) == 0 {
		return nil, &models.APIError{Err: fmt.Errorf("moderation response contained no results")}
	}

	return result.Results[0].CategoryScores, nil
}
