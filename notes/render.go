// Package notes renders problem exports into Markdown notes and saves them
// without ever overwriting an existing note.
package notes

import (
	"context"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/pevans/cpexport/assets"
	"github.com/pevans/cpexport/problem"
)

// Content formats for the problem statement embedded in a note.
const (
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
)

// Note is a rendered note ready to be stored.
type Note struct {
	// Unsanitized name, "<questionId> <title>"
	Name    string
	Content string
}

// Renderer turns exports into notes.
type Renderer struct {
	extractor *assets.Extractor
	format    string
	converter *md.Converter
}

// NewRenderer creates a renderer that rewrites images with extractor and
// embeds content in format. Unknown formats fall back to FormatHTML.
func NewRenderer(extractor *assets.Extractor, format string) *Renderer {
	if format != FormatMarkdown {
		format = FormatHTML
	}

	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	return &Renderer{
		extractor: extractor,
		format:    format,
		converter: converter,
	}
}

// Format returns the content format in use.
func (r *Renderer) Format() string {
	return r.format
}

// Render builds the note for p and returns the image tasks its content
// now depends on. It reads no clock and touches no disk.
func (r *Renderer) Render(ctx context.Context, p *problem.Export) (*Note, []assets.Task) {
	content, tasks := r.content(ctx, p)

	var b strings.Builder
	writeFrontmatter(&b, p)

	if content != "" {
		b.WriteString(content)
		b.WriteString("\n\n")
	}
	writeExamples(&b, p.Tests)

	b.WriteString("# Solution 1\n")
	b.WriteString("## Approach\n\n\n")
	b.WriteString("## Analysis\n")
	b.WriteString("Time: \n")
	b.WriteString("Space: \n\n")
	b.WriteString("## Code\n")
	fmt.Fprintf(&b, "```%s\n%s\n```\n", p.Language, p.CurrentCode)

	return &Note{Name: p.NoteName(), Content: b.String()}, tasks
}

// content strips raw newlines, rewrites image references and, in markdown
// format, converts the result.
func (r *Renderer) content(ctx context.Context, p *problem.Export) (string, []assets.Task) {
	if p.Content == "" {
		return "", nil
	}

	fragment := strings.ReplaceAll(p.Content, "\n", "")
	fragment, tasks := r.extractor.Extract(ctx, fragment, p.DisplayTitle(), p.ProblemLink)

	if r.format == FormatMarkdown {
		// Keep the HTML when conversion fails
		if converted, err := r.converter.ConvertString(fragment); err == nil {
			fragment = strings.TrimSpace(converted)
		}
	}
	return fragment, tasks
}

func writeFrontmatter(b *strings.Builder, p *problem.Export) {
	b.WriteString("---\n")
	fmt.Fprintf(b, "link: %s\n", p.ProblemLink)
	fmt.Fprintf(b, "platform: %s\n", p.Platform)
	fmt.Fprintf(b, "difficulty: %s\n", p.Difficulty)

	if len(p.Tags) == 0 {
		b.WriteString("p_tags: []\n")
	} else {
		b.WriteString("p_tags:\n")
		for _, tag := range p.Tags {
			fmt.Fprintf(b, "  - %s\n", tag)
		}
	}

	timeTaken := p.TimeTaken.String()
	if timeTaken == "" {
		timeTaken = "-1"
	}
	fmt.Fprintf(b, "time_taken: %s\n", timeTaken)
	b.WriteString("score: 0\n")

	if p.Timestamp != "" {
		fmt.Fprintf(b, "exported_at: %s\n", p.Timestamp)
	}
	if p.TimeLimit != "" {
		fmt.Fprintf(b, "time_limit: %s\n", p.TimeLimit)
	}
	if p.MemoryLimit != "" {
		fmt.Fprintf(b, "memory_limit: %s\n", p.MemoryLimit)
	}
	if p.Interactive != nil {
		fmt.Fprintf(b, "interactive: %t\n", *p.Interactive)
	}

	b.WriteString("tags: \n")
	b.WriteString("---\n")
}

func writeExamples(b *strings.Builder, tests []problem.TestCase) {
	if len(tests) == 0 {
		return
	}

	b.WriteString("## Examples\n")
	for i, tc := range tests {
		fmt.Fprintf(b, "### Example %d\n", i+1)
		fmt.Fprintf(b, "Input:\n```\n%s\n```\n", strings.TrimRight(tc.Input, "\n"))
		fmt.Fprintf(b, "Output:\n```\n%s\n```\n", strings.TrimRight(tc.Output, "\n"))
	}
	b.WriteString("\n")
}
