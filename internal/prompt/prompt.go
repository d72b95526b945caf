// Package prompt loads, caches, and watches the prompt files that drive
// loop iterations. A loaded Prompt carries parsed frontmatter metadata,
// its include-resolved body, and a content hash used for cache
// invalidation.
package prompt

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// includeRe matches include directives of the form {{include:<path>}}.
var includeRe = regexp.MustCompile(`\{\{include:([^{}]+)\}\}`)

// Prompt is one loaded prompt file.
type Prompt struct {
	SourcePath   string
	Metadata     *Metadata
	Content      string
	Includes     []IncludedContent
	LastModified time.Time
	ContentHash  string
}

// IncludedContent records one include directive found in the prompt body,
// in scan order. Content is fully expanded: directives inside the included
// file are resolved before the parent records it.
type IncludedContent struct {
	DirectivePath string
	ResolvedPath  string
	Content       string
	Position      int
}

// Render returns the prompt body with every include directive replaced by
// its resolved content. Each directive occurrence is substituted exactly
// once.
func (p *Prompt) Render() string {
	if len(p.Includes) == 0 {
		return p.Content
	}
	return renderIncludes(p.Content, p.Includes)
}

// renderIncludes splices resolved include content into body. The includes
// must be in the same order the directives appear in body.
func renderIncludes(body string, includes []IncludedContent) string {
	matches := includeRe.FindAllStringIndex(body, -1)

	var b strings.Builder
	last := 0
	for i, m := range matches {
		if i >= len(includes) {
			break
		}
		b.WriteString(body[last:m[0]])
		b.WriteString(includes[i].Content)
		last = m[1]
	}
	b.WriteString(body[last:])
	return b.String()
}

// Validate checks the prompt against its declared contract: the rendered
// content must be non-empty after trimming, and every required variable
// must appear as a {{name}} placeholder.
func (p *Prompt) Validate() error {
	rendered := p.Render()
	if strings.TrimSpace(rendered) == "" {
		return fmt.Errorf("prompt content is empty")
	}
	if p.Metadata == nil {
		return nil
	}
	for _, name := range p.Metadata.RequiredVars {
		placeholder := "{{" + name + "}}"
		if !strings.Contains(rendered, placeholder) {
			return fmt.Errorf("required variable %q missing its %s placeholder", name, placeholder)
		}
	}
	return nil
}
