package parser

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts position-sorted text from PDF files and rebuilds
// lightweight structure: numbered and chapter-style lines become Markdown
// headings, bullet glyphs become list markers, and bare page numbers are
// dropped.
type PDFParser struct{}

func (p *PDFParser) SupportedTypes() []string { return []string{"pdf"} }

var (
	// Bare page number lines such as "12", "- 12 -".
	pageNumberRe = regexp.MustCompile(`^-?\s*\d+\s*-?$`)

	// Level-1 headings: "1. Overview", "第一章 概述", "三、 安装".
	headingL1Re = regexp.MustCompile(`^(\d+\.\s+.+|第[一二三四五六七八九十百]+[章节条款]\s*.+|[一二三四五六七八九十]+[、.]\s*.+)$`)

	// Level-2/3 headings: "1.2 Volume", "1.2.3 Gain".
	headingL2Re = regexp.MustCompile(`^(\d+\.\d+\.?\s+.+|\d+\.\d+\.\d+\.?\s+.+)$`)

	bulletPrefixes = []string{"●", "•", "-", "○"}
)

// Extract reads the PDF at path and returns canonical Markdown-flavoured
// text. Pages that fail glyph extraction are skipped; a document where no
// page yields text is an error.
func (p *PDFParser) Extract(ctx context.Context, path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	var lines []string
	totalPages := reader.NumPage()
	for i := 1; i <= totalPages; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		lines = append(lines, pageLines(page)...)
	}

	text := strings.TrimSpace(restructure(lines))
	if text == "" {
		return "", fmt.Errorf("no extractable text in PDF (%d pages)", totalPages)
	}
	return text, nil
}

// pageLines returns the page's text as lines with glyphs sorted by
// position: rows top-to-bottom, words left-to-right within a row.
func pageLines(page pdf.Page) []string {
	rows, err := page.GetTextByRow()
	if err != nil {
		// Fall back to the plain extractor for malformed content streams.
		text, perr := page.GetPlainText(nil)
		if perr != nil {
			return nil
		}
		return strings.Split(text, "\n")
	}

	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		var sb strings.Builder
		for _, word := range row.Content {
			sb.WriteString(word.S)
		}
		lines = append(lines, sb.String())
	}
	return lines
}

// restructure applies the line-level transforms that turn raw extracted
// lines into Markdown-flavoured canonical text.
func restructure(lines []string) string {
	var sb strings.Builder
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			sb.WriteString("\n")
			continue
		}
		if pageNumberRe.MatchString(trimmed) {
			continue
		}

		// Level-2 first: its numbering is a superset of the level-1 form.
		switch {
		case headingL2Re.MatchString(trimmed):
			sb.WriteString("\n### ")
			sb.WriteString(trimmed)
			sb.WriteString("\n\n")
		case headingL1Re.MatchString(trimmed):
			sb.WriteString("\n## ")
			sb.WriteString(trimmed)
			sb.WriteString("\n\n")
		case isBullet(trimmed):
			sb.WriteString("- ")
			sb.WriteString(strings.TrimSpace(trimmed[bulletLen(trimmed):]))
			sb.WriteString("\n")
		default:
			sb.WriteString(trimmed)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func isBullet(line string) bool {
	for _, p := range bulletPrefixes {
		if strings.HasPrefix(line, p) && len(line) > len(p) {
			return true
		}
	}
	return false
}

func bulletLen(line string) int {
	for _, p := range bulletPrefixes {
		if strings.HasPrefix(line, p) {
			return len(p)
		}
	}
	return 0
}
