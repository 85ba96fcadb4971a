package content

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsHTML(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{name: "plain text", body: "Just words.", want: false},
		{name: "paragraph", body: "<p>Hello</p>", want: true},
		{name: "doctype", body: "<!DOCTYPE html><html><body>x</body></html>", want: true},
		{name: "math is not html", body: "a < b and c > d", want: false},
		{name: "article", body: "<article>Body</article>", want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsHTML(tt.body))
		})
	}
}

func TestToMarkdown(t *testing.T) {
	md := ToMarkdown("<h1>Title</h1><p>Some <strong>bold</strong> text.</p>")
	assert.Contains(t, md, "# Title")
	assert.Contains(t, md, "**bold**")

	assert.Equal(t, "plain", ToMarkdown("plain"))
	assert.Equal(t, "", ToMarkdown(""))
}

func TestMarkdown_RespectsContentType(t *testing.T) {
	raw := "<p>kept</p>"
	assert.Equal(t, raw, Markdown("text/plain; charset=utf-8", raw))
	assert.Equal(t, "kept", Markdown("text/html", raw))
}

func TestRender(t *testing.T) {
	out, ok := Render("# Heading\n\nbody text")
	assert.True(t, ok)
	assert.True(t, strings.Contains(out, "Heading"))
}
