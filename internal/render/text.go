package render

import (
	"strings"
)

// FencedChunks splits text on line boundaries into fenced blocks, each under limit
// characters. A line too long for a block on its own is split at the limit.
func FencedChunks(text string, limit int) []string {
	room := limit - 2*Length(fence) - 1
	if room < 1 {
		room = 1
	}

	chunks := []string{}

	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, Fence(current.String()))
			current.Reset()
		}
	}

	for _, line := range strings.Split(text, "\n") {
		for _, part := range splitRunes(line, room) {
			switch {
			case current.Len() == 0:
				current.WriteString(part)
			case Length(current.String())+1+Length(part) <= room:
				current.WriteString("\n" + part)
			default:
				flush()
				current.WriteString(part)
			}
		}
	}

	flush()

	return chunks
}

func splitRunes(s string, n int) []string {
	runes := []rune(s)
	if len(runes) <= n {
		return []string{s}
	}

	parts := []string{}
	for len(runes) > n {
		parts = append(parts, string(runes[:n]))
		runes = runes[n:]
	}

	return append(parts, string(runes))
}
