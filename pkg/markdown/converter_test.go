package markdown

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToPlainText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"plain", "just words", "just words"},
		{"bold and italic", "**bold** and _italic_ text", "bold and italic text"},
		{"link keeps label", "see [the docs](https://example.com) here", "see the docs here"},
		{"inline code", "run `go version` first", "run go version first"},
		{"heading", "# Title\n\nbody", "Title\n\nbody"},
		{"entities", "a &amp; b", "a & b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ToPlainText(tt.input))
		})
	}
}

func TestToPlainTextListItems(t *testing.T) {
	got := ToPlainText("- first\n- second")
	assert.Contains(t, got, "- first")
	assert.Contains(t, got, "- second")
	assert.NotContains(t, got, "<")
}
