package parser

import (
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXParser extracts workbook text: each sheet becomes a heading section
// and each row a pipe-joined line, so spreadsheet documents flow through
// the same chunking and indexing pipeline as prose.
type XLSXParser struct{}

func (p *XLSXParser) SupportedTypes() []string { return []string{"xlsx"} }

func (p *XLSXParser) Extract(ctx context.Context, path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("reading sheet %q: %w", sheet, err)
		}

		sb.WriteString("## ")
		sb.WriteString(sheet)
		sb.WriteString("\n\n")
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, cell := range row {
				if c := strings.TrimSpace(cell); c != "" {
					cells = append(cells, c)
				}
			}
			if len(cells) == 0 {
				continue
			}
			sb.WriteString(strings.Join(cells, " | "))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("workbook contains no cell text")
	}
	return text + "\n", nil
}
