package parser

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// MarkdownParser turns Markdown (and plain text, parsed markdown-lax) into
// structure-preserving plain text: headings keep their # markers followed
// by a newline, paragraphs end with a blank line, and inline formatting
// markers are stripped.
type MarkdownParser struct{}

func NewMarkdownParser() *MarkdownParser { return &MarkdownParser{} }

func (p *MarkdownParser) SupportedTypes() []string {
	return []string{"md", "markdown", "txt"}
}

var (
	atxHeadingRe = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
	listItemRe   = regexp.MustCompile(`^(\s*)([-*+]|\d+[.)])\s+(.*)$`)
	fenceRe      = regexp.MustCompile("^\\s*(```|~~~)")

	// Inline markers, applied innermost-first.
	inlineImageRe  = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	inlineLinkRe   = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	inlineCodeRe   = regexp.MustCompile("`([^`]*)`")
	inlineStrongRe = regexp.MustCompile(`(\*\*|__)([^*_]+)(\*\*|__)`)
	inlineEmRe     = regexp.MustCompile(`(\*|_)([^*_]+)(\*|_)`)
)

// Extract reads the UTF-8 file at path and returns canonical text.
func (p *MarkdownParser) Extract(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	return ExtractMarkdown(string(data)), nil
}

// ExtractMarkdown converts markdown source to structure-preserving plain
// text. It walks the document line-wise: heading lines are emitted with
// their markers and a trailing newline, consecutive non-blank lines form a
// paragraph terminated by a blank line, fenced code blocks pass through
// verbatim.
func ExtractMarkdown(src string) string {
	lines := strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n")

	var out strings.Builder
	var para []string
	inFence := false

	flush := func() {
		if len(para) == 0 {
			return
		}
		out.WriteString(strings.Join(para, "\n"))
		out.WriteString("\n\n")
		para = para[:0]
	}

	for _, line := range lines {
		if fenceRe.MatchString(line) {
			inFence = !inFence
			flush()
			continue
		}
		if inFence {
			para = append(para, line)
			continue
		}

		trimmed := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmed) == "" {
			flush()
			continue
		}

		if m := atxHeadingRe.FindStringSubmatch(trimmed); m != nil {
			flush()
			out.WriteString(m[1])
			out.WriteString(" ")
			out.WriteString(stripInline(m[2]))
			out.WriteString("\n")
			continue
		}

		if m := listItemRe.FindStringSubmatch(trimmed); m != nil {
			// Each list item stands on its own line within the paragraph.
			para = append(para, "- "+stripInline(m[3]))
			continue
		}

		// Hard break: trailing double space forces a line break, which the
		// paragraph join already produces.
		para = append(para, stripInline(strings.TrimSpace(trimmed)))
	}
	flush()

	return strings.TrimSpace(out.String()) + "\n"
}

// stripInline removes inline formatting markers while keeping their text.
func stripInline(s string) string {
	s = inlineImageRe.ReplaceAllString(s, "$1")
	s = inlineLinkRe.ReplaceAllString(s, "$1")
	s = inlineCodeRe.ReplaceAllString(s, "$1")
	s = inlineStrongRe.ReplaceAllString(s, "$2")
	s = inlineEmRe.ReplaceAllString(s, "$2")
	return s
}
