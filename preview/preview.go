// Package preview renders message text as the single plain line shown in a
// contact list row.
package preview

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"
)

const ellipsis = "…"

var (
	markdownLinkRegex = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	whitespaceRegex   = regexp.MustCompile(`\s+`)
	strict            = bluemonday.StrictPolicy()
)

// Plain renders markdown text, strips every tag, keeps link labels and
// collapses whitespace. Results longer than limit runes are cut and end with
// an ellipsis; limit <= 0 disables truncation.
func Plain(text string, limit int) string {
	text = markdownLinkRegex.ReplaceAllString(text, "$1")
	rendered := blackfriday.Run([]byte(text), blackfriday.WithExtensions(blackfriday.CommonExtensions|blackfriday.HardLineBreak))
	stripped := strict.SanitizeBytes(rendered)
	plain := html.UnescapeString(string(stripped))
	plain = strings.TrimSpace(whitespaceRegex.ReplaceAllString(plain, " "))
	return truncate(plain, limit)
}

func truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit <= 1 {
		return ellipsis
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:limit-1]), " ") + ellipsis
}
