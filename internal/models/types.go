package models

import (
	"time"
)

// Chat message roles as used on the completion wire.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage represents a single message in a completion exchange
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserProfile represents what the bot knows about a chatter
type UserProfile struct {
	UserName      string   `json:"user_name"`
	PreferredName string   `json:"preferred_name"`
	Pronouns      string   `json:"pronouns"`
	Knowledge     []string `json:"knowledge"`
}

// DisplayName returns the preferred name, falling back to the user name
func (p *UserProfile) DisplayName() string {
	if p.PreferredName != "" {
		return p.PreferredName
	}
	return p.UserName
}

// Keyword represents a remembered keyword fact
type Keyword struct {
	Word        string    `json:"word"`
	Definition  string    `json:"definition"`
	LastUpdated time.Time `json:"last_updated"`
}

// ModerationResult holds per-category classifier scores and the categories
// flagged by threshold gating. Derived per call, never persisted.
type ModerationResult struct {
	CategoryScores    map[string]float64
	FlaggedCategories []string
}

// Passed reports whether no category crossed its threshold
func (r *ModerationResult) Passed() bool {
	return len(r.FlaggedCategories) == 0
}

// UsageRecord represents token usage for one completion call
type UsageRecord struct {
	Timestamp        time.Time `json:"timestamp"`
	Model            string    `json:"model"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
}

// UsageTotals is the rolling aggregate recomputed from stored records
type UsageTotals struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	EstimatedCost    float64
}

// StreamInfo represents live stream metadata from Twitch.
// Missing fields are empty strings, not errors.
type StreamInfo struct {
	Broadcaster string
	Title       string
	Game        string
}
