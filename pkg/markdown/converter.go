package markdown

import (
	"regexp"
	"strings"

	"github.com/russross/blackfriday/v2"
)

var (
	tagRE     = regexp.MustCompile(`</?[a-zA-Z]+(?:\s[^>]*)?>`)
	linkRE    = regexp.MustCompile(`<a\s+href="[^"]*"[^>]*>(.*?)</a>`)
	newlineRE = regexp.MustCompile(`\n{3,}`)
)

// ToPlainText renders model markdown down to plain text. Twitch chat and
// the TTS surface render no markup, so formatting is dropped and link
// labels are kept over their targets.
func ToPlainText(md string) string {
	if md == "" {
		return ""
	}

	html := string(blackfriday.Run([]byte(md), blackfriday.WithExtensions(blackfriday.CommonExtensions)))

	// Keep link labels, drop targets
	html = linkRE.ReplaceAllString(html, "$1")

	// List items read better with a separator in a single chat line
	html = strings.ReplaceAll(html, "<li>", "- ")
	html = strings.ReplaceAll(html, "</li>", "\n")

	// Drop every remaining tag, keep the content
	html = tagRE.ReplaceAllString(html, "")

	html = strings.ReplaceAll(html, "&amp;", "&")
	html = strings.ReplaceAll(html, "&lt;", "<")
	html = strings.ReplaceAll(html, "&gt;", ">")
	html = strings.ReplaceAll(html, "&quot;", `"`)
	html = strings.ReplaceAll(html, "&#39;", "'")

	html = newlineRE.ReplaceAllString(html, "\n\n")

	return strings.TrimSpace(html)
}
