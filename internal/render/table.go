// Package render formats aggregated and correlated data into chat sized text blocks.
package render

import (
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/pkg/errors"
)

const (
	// DefaultChunkLimit leaves headroom under the chat platform 3000 character cap.
	DefaultChunkLimit = 2800

	fence = "```"
)

var (
	ErrChunkLimit = errors.New("chunk limit too small")

	cellStyle = lipgloss.NewStyle().Padding(0, 1)
)

// Table renders the rows as a fixed-width ASCII table with a header row.
func Table(headers []string, rows [][]string) string {
	t := table.New().
		Border(lipgloss.ASCIIBorder()).
		BorderRow(false).
		StyleFunc(func(_, _ int) lipgloss.Style { return cellStyle }).
		Headers(headers...).
		Rows(rows...)

	return t.String()
}

// Fence wraps text in a code fence so the chat client keeps it fixed-width.
func Fence(text string) string {
	return fence + text + fence
}

// Length returns the length of text in characters as counted by the chat platform.
func Length(text string) int {
	return utf8.RuneCountInString(text)
}

// Titled returns the table prefixed with a title line, an empty title returns the table.
func Titled(title, tbl string) string {
	if title == "" {
		return tbl
	}

	return title + "\n" + tbl
}

// Chunk renders the rows into fenced table chunks, each under limit characters.
//
// Rows are split into the fewest contiguous ranges in order, every chunk repeats the
// title and header since chunks are delivered as independent messages. A single row
// that cannot fit under the limit along with the header is emitted in a chunk of its
// own, over the limit.
func Chunk(title string, headers []string, rows [][]string, limit int) ([]string, error) {
	renderRows := func(rows [][]string) string {
		return Fence(Titled(title, Table(headers, rows)))
	}

	if limit <= Length(renderRows(nil)) {
		return nil, errors.Wrapf(ErrChunkLimit, "limit %d does not fit the table header", limit)
	}

	if len(rows) == 0 {
		return []string{renderRows(nil)}, nil
	}

	chunks := []string{}
	current := [][]string{}
	rendered := ""

	for _, row := range rows {
		candidate := append(current[:len(current):len(current)], row)
		text := renderRows(candidate)

		if Length(text) < limit || len(current) == 0 {
			current, rendered = candidate, text
			continue
		}

		chunks = append(chunks, rendered)
		current = [][]string{row}
		rendered = renderRows(current)
	}

	return append(chunks, rendered), nil
}

// AlertBanner returns a plain text block without tabular data.
func AlertBanner(text string) string {
	return strings.TrimSpace(text)
}
