// Package content turns cached article bodies into terminal-ready text.
package content

import (
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/charmbracelet/glamour"
)

var htmlTagPattern = regexp.MustCompile(`<\s*(p|div|span|a|br|img|h[1-6]|ul|ol|li|table|tr|td|th|strong|em|b|i|code|pre|blockquote|article|section)[^>]*>`)

// IsHTML reports whether body looks like HTML.
func IsHTML(body string) bool {
	if strings.Contains(body, "<!DOCTYPE") || strings.Contains(body, "<html") {
		return true
	}
	return htmlTagPattern.MatchString(body)
}

// ToMarkdown converts HTML to Markdown. Anything that is not HTML, or fails
// to convert, is returned unchanged.
func ToMarkdown(body string) string {
	if body == "" || !IsHTML(body) {
		return body
	}
	md, err := htmltomarkdown.ConvertString(body)
	if err != nil {
		return body
	}
	return strings.TrimSpace(md)
}

// Markdown normalizes a cached body of the given content type to Markdown.
func Markdown(contentType, body string) string {
	switch {
	case strings.HasPrefix(contentType, "text/markdown"), strings.HasPrefix(contentType, "text/plain"):
		return body
	default:
		return ToMarkdown(body)
	}
}

// Render styles Markdown for a dark terminal. ok is false when rendering
// failed and md is returned as is.
func Render(md string) (out string, ok bool) {
	rendered, err := glamour.Render(md, "dark")
	if err != nil {
		return md, false
	}
	return rendered, true
}
