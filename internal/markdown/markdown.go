// Package markdown turns post bodies into the sanitized HTML stored next to
// them.
//
// Rendering is two steps: goldmark converts Markdown to HTML, then a
// bluemonday allow-list strips every tag and attribute a post may not carry.
// Raw HTML in the source passes through goldmark untouched, so the sanitizer
// is what keeps <script> and inline handlers out.
package markdown

import (
	"bytes"
	"fmt"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// AllowedTags is every element that survives sanitizing.
var AllowedTags = []string{
	"a", "abbr", "acronym", "b", "blockquote", "code",
	"em", "i", "li", "ol", "pre", "strong", "ul",
	"h1", "h2", "h3", "p", "del",
}

// Renderer is safe for concurrent use.
type Renderer struct {
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

// NewRenderer builds a Renderer with GitHub-flavoured autolinking.
func NewRenderer() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(extension.Linkify, extension.Strikethrough),
		goldmark.WithRendererOptions(html.WithUnsafe()),
	)

	p := bluemonday.NewPolicy()
	p.AllowElements(AllowedTags...)
	p.AllowAttrs("href", "title").OnElements("a")
	p.AllowAttrs("title").OnElements("abbr", "acronym")
	p.AllowStandardURLs()
	p.RequireNoFollowOnLinks(true)

	return &Renderer{md: md, policy: p}
}

// Render converts body to sanitized HTML.
func (r *Renderer) Render(body string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(body), &buf); err != nil {
		return "", fmt.Errorf("markdown: converting body: %w", err)
	}
	return r.policy.Sanitize(buf.String()), nil
}
