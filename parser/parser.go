// Package parser extracts canonical plain text from uploaded documents.
// Each parser produces Markdown-flavoured text: headings keep (or gain)
// leading # markers so the chunker can recover the section hierarchy.
package parser

import (
	"context"
	"fmt"
)

// Parser extracts canonical text from a document file on disk.
type Parser interface {
	// Extract parses the file at path and returns its canonical text.
	Extract(ctx context.Context, path string) (string, error)

	// SupportedTypes lists the lowercase file extensions this parser handles.
	SupportedTypes() []string
}

// Registry maps file types to parsers.
type Registry struct {
	byType map[string]Parser
}

// NewRegistry returns a registry with the built-in parsers registered.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Parser)}
	r.Register(&PDFParser{})
	r.Register(NewMarkdownParser())
	r.Register(&XLSXParser{})
	return r
}

// Register adds a parser for each of its supported types, replacing any
// previous registration.
func (r *Registry) Register(p Parser) {
	for _, t := range p.SupportedTypes() {
		r.byType[t] = p
	}
}

// Get returns the parser for the given file type.
func (r *Registry) Get(fileType string) (Parser, error) {
	p, ok := r.byType[fileType]
	if !ok {
		return nil, fmt.Errorf("no parser registered for type %q", fileType)
	}
	return p, nil
}
