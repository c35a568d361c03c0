package sanitize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Mode selects the cleaning policy applied to model output.
type Mode string

const (
	ModeOff           Mode = "off"
	ModeStripEmojis   Mode = "strip_emojis"
	ModeHumanFriendly Mode = "human_friendly"
	ModeStrict        Mode = "strict"
)

// ParseMode maps a config string to a Mode. Unrecognized values behave
// as ModeOff rather than erroring.
func ParseMode(s string) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeStripEmojis:
		return ModeStripEmojis
	case ModeHumanFriendly:
		return ModeHumanFriendly
	case ModeStrict:
		return ModeStrict
	default:
		return ModeOff
	}
}

var (
	whitespaceRE = regexp.MustCompile(`\s+`)

	// Citation fragments: a parenthesized markdown link, bare URL, or
	// "source"-style annotation appended by some models.
	citationRE = regexp.MustCompile(`(?i)\(\s*(?:\[[^\]]*\]\([^)]*\)|https?://[^)]*|sources?\b[^)]*)\s*\)`)

	smartPunct = strings.NewReplacer(
		"‘", "'", "’", "'",
		"“", `"`, "”", `"`,
		"–", "-", "—", "-",
		"…", "...",
	)
)

// Clean applies the given cleaning policy and normalizes whitespace.
// Cleaning is best effort: an internal failure yields the best text
// computed so far instead of an error.
func Clean(text string, mode Mode) (out string) {
	out = text
	defer func() {
		if r := recover(); r != nil {
			out = collapseWhitespace(out)
		}
	}()

	switch mode {
	case ModeStripEmojis:
		out = stripEmojis(out)
	case ModeHumanFriendly:
		out = humanFriendly(out)
	case ModeStrict:
		out = strict(out)
	}

	out = collapseWhitespace(out)
	return out
}

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRE.ReplaceAllString(s, " "))
}

// stripEmojis drops symbol, surrogate and combining-mark code points.
func stripEmojis(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsSymbol(r) || unicode.Is(unicode.Cs, r) || unicode.Is(unicode.M, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func humanFriendly(s string) string {
	s = citationRE.ReplaceAllString(s, "")
	s = norm.NFD.String(s)
	s = smartPunct.Replace(s)
	s = keepAllowed(s, `.,!?;:'"()-/`)
	s = collapseWhitespace(s)
	// A stranded dash reads badly once its neighbors are gone.
	s = strings.ReplaceAll(s, " - ", " ")
	return collapseWhitespace(s)
}

func strict(s string) string {
	s = citationRE.ReplaceAllString(s, "")
	return keepAllowed(s, ` .!?,;:'()"`)
}

// keepAllowed retains letters, digits, whitespace and the given punctuation.
func keepAllowed(s, punct string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || strings.ContainsRune(punct, r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
