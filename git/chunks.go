package git

import (
	"strings"
	"unicode"
)

// JoinChunks joins diff chunks with a single newline between them. Chunks are
// trimmed at the end, and chunks that are empty or whitespace-only are dropped.
func JoinChunks(chunks ...string) string {
	var b strings.Builder
	for _, chunk := range chunks {
		if strings.TrimSpace(chunk) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strings.TrimRightFunc(chunk, unicode.IsSpace))
	}
	return b.String()
}
