// Package chunker splits canonical document text into bounded, retrieval-
// ready chunks tagged with their heading and ancestor-heading hierarchy.
package chunker

import (
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/brunobiangulo/askdoc/store"
	"github.com/brunobiangulo/askdoc/token"
)

// Config controls the splitting behaviour. All sizes are in characters.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
	MinChunkSize int
}

// Chunker converts canonical text into store-ready chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker with the given configuration.
// Zero-value fields are replaced with sensible defaults.
func New(cfg Config) *Chunker {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 500
	}
	if cfg.ChunkOverlap == 0 {
		cfg.ChunkOverlap = 50
	}
	if cfg.MinChunkSize == 0 {
		cfg.MinChunkSize = 100
	}
	return &Chunker{cfg: cfg}
}

// headingRe matches section headings: Markdown ATX, numeric numbering, and
// Chinese chapter/section markers.
var headingRe = regexp.MustCompile(`(?m)^(#{1,6}\s+.+|\d+\.\d*\s+.+|第[一二三四五六七八九十百]+[章节条款]\s*.*)$`)

// TextSection is a heading-delimited slice of the document with its
// ancestor-heading path.
type TextSection struct {
	Heading   string // own section title, "" before the first heading
	Hierarchy string // " > "-joined ancestor path including Heading
	Content   string
}

// Chunk splits text into ordered chunks for documentID. Chunk indices are
// dense from zero; each chunk carries the heading and hierarchy of the
// section it came from and an estimated token count.
func (c *Chunker) Chunk(text, documentID string) []store.Chunk {
	var chunks []store.Chunk
	if strings.TrimSpace(text) == "" {
		return chunks
	}

	index := 0
	for _, sec := range SplitByHeadings(text) {
		for _, content := range c.splitRecursive(sec.Content) {
			chunks = append(chunks, store.Chunk{
				ID:         uuid.New().String(),
				DocumentID: documentID,
				ChunkIndex: index,
				Content:    content,
				Heading:    sec.Heading,
				Hierarchy:  sec.Hierarchy,
				TokenCount: token.Estimate(content),
			})
			index++
		}
	}
	return chunks
}

// SplitByHeadings partitions text at heading lines, tracking the ancestor
// stack: a new heading of level L pops entries while the stack depth is at
// least L, then pushes itself.
func SplitByHeadings(text string) []TextSection {
	var sections []TextSection
	var stack []string

	matches := headingRe.FindAllStringIndex(text, -1)
	lastEnd := 0
	currentHeading := ""

	emit := func(content string) {
		content = strings.TrimSpace(content)
		if content == "" {
			return
		}
		sections = append(sections, TextSection{
			Heading:   currentHeading,
			Hierarchy: strings.Join(stack, " > "),
			Content:   content,
		})
	}

	for _, m := range matches {
		emit(text[lastEnd:m[0]])

		heading := strings.TrimSpace(text[m[0]:m[1]])
		level := headingLevel(heading)
		for len(stack) >= level {
			stack = stack[:len(stack)-1]
		}
		currentHeading = headingText(heading)
		stack = append(stack, currentHeading)
		lastEnd = m[1]
	}
	emit(text[lastEnd:])

	if len(sections) == 0 {
		sections = append(sections, TextSection{Content: strings.TrimSpace(text)})
	}
	return sections
}

// headingLevel derives the nesting level: the number of leading # marks
// for ATX headings, 1 + the dot count for numeric numbering, else 1.
func headingLevel(heading string) int {
	if strings.HasPrefix(heading, "#") {
		level := 0
		for level < len(heading) && heading[level] == '#' {
			level++
		}
		return level
	}
	if heading != "" && heading[0] >= '0' && heading[0] <= '9' {
		return strings.Count(heading, ".") + 1
	}
	return 1
}

// headingText strips ATX markers; other heading forms keep their full line.
func headingText(heading string) string {
	return strings.TrimSpace(strings.TrimLeft(heading, "#"))
}

// separators are tried in order; the first one present in the text drives
// the greedy packing pass.
var separators = []string{"\n\n", "\n", "。", "！", "？", ".", "!", "?", "；", ";", "，", ",", " "}

// splitRecursive breaks a section body into chunks of about ChunkSize
// characters, preferring paragraph, then sentence, then clause boundaries,
// with fixed-width slicing as the last resort. A chunk seeded with the
// previous chunk's overlap can exceed ChunkSize, and a single segment longer
// than ChunkSize is kept whole rather than split further.
func (c *Chunker) splitRecursive(text string) []string {
	if runeLen(text) <= c.cfg.ChunkSize {
		if runeLen(text) >= c.cfg.MinChunkSize {
			return []string{text}
		}
		return nil
	}

	for _, sep := range separators {
		if !strings.Contains(text, sep) {
			continue
		}
		if chunks := c.splitBySeparator(text, sep); len(chunks) > 0 {
			return chunks
		}
	}

	return c.sliceFixed(text)
}

// splitBySeparator greedily packs separator-delimited segments into chunks,
// seeding each successor with the tail of its predecessor for continuity.
func (c *Chunker) splitBySeparator(text, sep string) []string {
	var chunks []string
	var current strings.Builder
	currentLen := 0

	sepLen := runeLen(sep)
	for _, part := range strings.Split(text, sep) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		partLen := runeLen(part)

		if currentLen+partLen+sepLen <= c.cfg.ChunkSize {
			if currentLen > 0 {
				current.WriteString(sep)
				currentLen += sepLen
			}
			current.WriteString(part)
			currentLen += partLen
			continue
		}

		if currentLen >= c.cfg.MinChunkSize {
			chunks = append(chunks, current.String())
		}

		if c.cfg.ChunkOverlap > 0 && currentLen > c.cfg.ChunkOverlap {
			overlap := lastRunes(current.String(), c.cfg.ChunkOverlap)
			current.Reset()
			current.WriteString(overlap)
			current.WriteString(sep)
			current.WriteString(part)
			currentLen = runeLen(overlap) + sepLen + partLen
		} else {
			current.Reset()
			current.WriteString(part)
			currentLen = partLen
		}
	}

	if currentLen >= c.cfg.MinChunkSize {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// sliceFixed cuts the text into ChunkSize windows advancing by
// ChunkSize−ChunkOverlap.
func (c *Chunker) sliceFixed(text string) []string {
	runes := []rune(text)
	var chunks []string

	start := 0
	for start < len(runes) {
		end := start + c.cfg.ChunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if runeLen(chunk) >= c.cfg.MinChunkSize {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
		start = end - c.cfg.ChunkOverlap
	}
	return chunks
}

func runeLen(s string) int {
	return len([]rune(s))
}

// lastRunes returns the trailing n runes of s.
func lastRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
