// Package chunk splits note text into paragraph-sized retrieval units.
package chunk

import "strings"

const separator = "\n\n"

// Split splits text on blank-line boundaries, trims every segment and drops the empty ones.
// The result is empty when the text contains only whitespace.
func Split(text string) []string {
	var chunks []string
	for _, segment := range strings.Split(text, separator) {
		if trimmed := strings.TrimSpace(segment); trimmed != "" {
			chunks = append(chunks, trimmed)
		}
	}
	return chunks
}
