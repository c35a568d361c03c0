package enrichment

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/twitch-ai-cohost-go/internal/models"
	"github.com/twitch-ai-cohost-go/internal/services/storage"
)

// Assembler merges persona text, stream metadata, pronoun facts, keyword
// matches and per-user knowledge into the system context for one prompt.
type Assembler struct {
	store   *storage.Manager
	persona string
	logger  *logrus.Logger
}

// Result is the assembled context for a single turn.
type Result struct {
	SystemContext string
	UserPrompt    string
}

// NewAssembler creates a context assembler backed by the given store
func NewAssembler(store *storage.Manager, persona string, logger *logrus.Logger) *Assembler {
	return &Assembler{
		store:   store,
		persona: persona,
		logger:  logger,
	}
}

// Assemble builds the system context and the user-facing prompt line for
// the given prompt. Output is deterministic for identical inputs; the only
// time-dependent content is the injected stream metadata.
func (a *Assembler) Assemble(ctx context.Context, userName, prompt string, stream models.StreamInfo) (*Result, error) {
	candidates := candidateTokens(prompt)
	mentioned := a.mentionedUsers(userName, prompt, stream.Broadcaster)

	profiles := make(map[string]*models.UserProfile, len(mentioned))
	asker, err := a.store.GetOrCreateProfile(ctx, userName)
	if err != nil {
		return nil, err
	}
	profiles[strings.ToLower(userName)] = asker

	for _, name := range mentioned {
		key := strings.ToLower(name)
		if _, ok := profiles[key]; ok {
			continue
		}
		profile, err := a.store.GetProfile(ctx, name)
		if err != nil {
			return nil, err
		}
		profiles[key] = profile
	}

	keywords, err := a.store.ListKeywords(ctx)
	if err != nil {
		return nil, err
	}
	// Store listing order is backend dependent
	sort.Slice(keywords, func(i, j int) bool { return keywords[i].Word < keywords[j].Word })

	var parts []string

	if block := a.pronounBlock(mentioned, profiles); block != "" {
		parts = append(parts, block)
	}

	parts = append(parts, a.personaBlock(stream))

	for _, name := range mentioned {
		profile := profiles[strings.ToLower(name)]
		if profile == nil {
			continue
		}
		line := "User: " + profile.DisplayName()
		if profile.Pronouns != "" {
			line += " (" + profile.Pronouns + ")"
		}
		parts = append(parts, line)
		if len(profile.Knowledge) > 0 {
			parts = append(parts, fmt.Sprintf("Memories about %s: %s", profile.DisplayName(), strings.Join(profile.Knowledge, "; ")))
		}
	}

	parts = append(parts, a.keywordSubstringPass(prompt, mentioned, keywords)...)

	tokenLines, err := a.exactTokenPass(ctx, candidates, keywords)
	if err != nil {
		return nil, err
	}
	parts = append(parts, tokenLines...)

	userPrompt := fmt.Sprintf("%s asks: %s", displayNameWithPronouns(asker), prompt)

	return &Result{
		SystemContext: strings.Join(parts, "\n"),
		UserPrompt:    userPrompt,
	}, nil
}

// candidateTokens splits the prompt into whitespace-separated words,
// strips a leading @, lowercases and de-duplicates, preserving first
// appearance order.
func candidateTokens(prompt string) []string {
	seen := make(map[string]bool)
	var tokens []string
	for _, field := range strings.Fields(prompt) {
		word := strings.ToLower(strings.TrimPrefix(field, "@"))
		if word == "" || seen[word] {
			continue
		}
		seen[word] = true
		tokens = append(tokens, word)
	}
	return tokens
}

// mentionedUsers orders the asker first, then the broadcaster when named
// in the prompt, then @-mentions in order of appearance, de-duplicated
// case-insensitively.
func (a *Assembler) mentionedUsers(userName, prompt, broadcaster string) []string {
	seen := map[string]bool{strings.ToLower(userName): true}
	mentioned := []string{userName}

	if broadcaster != "" {
		lowerPrompt := strings.ToLower(prompt)
		lowerBroadcaster := strings.ToLower(broadcaster)
		if strings.Contains(lowerPrompt, lowerBroadcaster) || strings.Contains(lowerPrompt, "@"+lowerBroadcaster) {
			if !seen[lowerBroadcaster] {
				seen[lowerBroadcaster] = true
				mentioned = append(mentioned, broadcaster)
			}
		}
	}

	for _, field := range strings.Fields(prompt) {
		if !strings.HasPrefix(field, "@") || len(field) < 2 {
			continue
		}
		name := field[1:]
		key := strings.ToLower(name)
		if seen[key] {
			continue
		}
		seen[key] = true
		mentioned = append(mentioned, name)
	}

	return mentioned
}

func (a *Assembler) pronounBlock(mentioned []string, profiles map[string]*models.UserProfile) string {
	var lines []string
	for _, name := range mentioned {
		profile := profiles[strings.ToLower(name)]
		if profile == nil || profile.Pronouns == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s uses pronouns %s.", profile.DisplayName(), profile.Pronouns))
	}
	return strings.Join(lines, "\n")
}

func (a *Assembler) personaBlock(stream models.StreamInfo) string {
	line := fmt.Sprintf("%s is currently streaming %q playing %s.", stream.Broadcaster, stream.Title, stream.Game)
	if a.persona == "" {
		return line
	}
	return a.persona + "\n" + line
}

// keywordSubstringPass adds a line for every keyword whose word appears as
// a substring of the prompt, and independently for every keyword matching
// a mentioned-user name. A keyword matching both checks adds two lines;
// that duplication is long-standing behavior the downstream prompt relies
// on for emphasis.
func (a *Assembler) keywordSubstringPass(prompt string, mentioned []string, keywords []models.Keyword) []string {
	lowerPrompt := strings.ToLower(prompt)

	mentionedSet := make(map[string]bool, len(mentioned))
	for _, name := range mentioned {
		mentionedSet[strings.ToLower(name)] = true
	}

	var lines []string
	for _, kw := range keywords {
		word := strings.ToLower(kw.Word)
		if strings.Contains(lowerPrompt, word) {
			lines = append(lines, fmt.Sprintf("Something you know about %s: %s", kw.Word, kw.Definition))
		}
		if mentionedSet[word] {
			lines = append(lines, fmt.Sprintf("Something you know about %s: %s", kw.Word, kw.Definition))
		}
	}
	return lines
}

// exactTokenPass is the second, independent enrichment pass: exact-token
// matches of candidate words against the keyword and profile stores.
func (a *Assembler) exactTokenPass(ctx context.Context, candidates []string, keywords []models.Keyword) ([]string, error) {
	byWord := make(map[string]models.Keyword, len(keywords))
	for _, kw := range keywords {
		byWord[strings.ToLower(kw.Word)] = kw
	}

	var lines []string
	for _, word := range candidates {
		if kw, ok := byWord[word]; ok {
			lines = append(lines, fmt.Sprintf("Something you remember about %s is %s.", word, kw.Definition))
		}

		profile, err := a.store.GetProfile(ctx, word)
		if err != nil {
			return nil, err
		}
		if profile != nil && len(profile.Knowledge) > 0 {
			lines = append(lines, fmt.Sprintf("Something I remember about %s is %s.", word, strings.Join(profile.Knowledge, "; ")))
		}
	}
	return lines, nil
}

func displayNameWithPronouns(profile *models.UserProfile) string {
	if profile.Pronouns != "" {
		return fmt.Sprintf("%s (%s)", profile.DisplayName(), profile.Pronouns)
	}
	return profile.DisplayName()
}
