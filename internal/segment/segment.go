// Package segment splits long replies into transport-sized chunks.
package segment

import (
	"strings"
	"unicode/utf8"

	"oralgrader/internal/model"
)

// Len is the length the transport limit is measured in.
func Len(s string) int {
	return utf8.RuneCountInString(s)
}

// Split returns text as ordered chunks of at most limit runes each, cut only at
// line boundaries. Line endings stay with their line, so concatenating the chunks
// reproduces text. A single line longer than limit becomes its own oversized chunk.
func Split(text string, limit int) []model.DeliveryChunk {
	if Len(text) <= limit {
		return []model.DeliveryChunk{{Text: text, Index: 0}}
	}

	var chunks []model.DeliveryChunk
	var current strings.Builder
	currentLen := 0

	flush := func() {
		if currentLen == 0 {
			return
		}
		chunks = append(chunks, model.DeliveryChunk{Text: current.String(), Index: len(chunks)})
		current.Reset()
		currentLen = 0
	}

	for _, line := range strings.SplitAfter(text, "\n") {
		if line == "" {
			continue
		}
		n := Len(line)
		if currentLen+n > limit {
			flush()
		}
		current.WriteString(line)
		currentLen += n
	}
	flush()
	return chunks
}

// Join concatenates chunk texts in order.
func Join(chunks []model.DeliveryChunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Text)
	}
	return b.String()
}
