// Package chunk splits extracted document text into model-sized pieces for
// embedding. Overlapping is grounded on the original file_processor.py's
// chunk_text (window size 1000, overlap 200, separator-preferred
// boundaries); BySentence is grounded on
// engine/ingest/transform.go:chunkSentences/splitSentences, adapted from
// token-counting to char-counting per spec's max_chars.
package chunk

import (
	"strings"
	"unicode"
)

// Chunk is one piece of chunked text plus its 1-indexed position.
type Chunk struct {
	Content string
	Index   int
}

// separators are tried in priority order when picking where an overlapping
// window should end, to avoid mid-token splits.
var separators = []string{". ", ".\n", "\n\n", "\n", " "}

// Overlapping splits text into windows of size chars with the given
// char overlap, preferring to end a window at the last occurrence of a
// separator within the second half of the window.
func Overlapping(text string, size, overlap int) []Chunk {
	if len(text) <= size {
		return []Chunk{{Content: text, Index: 1}}
	}

	var chunks []Chunk
	start := 0
	idx := 0

	for start < len(text) {
		end := start + size
		if end > len(text) {
			end = len(text)
		}

		if end < len(text) {
			window := text[start:end]
			for _, sep := range separators {
				last := strings.LastIndex(window, sep)
				if last > size/2 {
					end = start + last + len(sep)
					break
				}
			}
		}

		content := strings.TrimSpace(text[start:end])
		if content != "" {
			idx++
			chunks = append(chunks, Chunk{Content: content, Index: idx})
		}

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
		if start >= len(text) {
			break
		}
	}
	return chunks
}

// splitSentences splits text on .!? followed by whitespace, or a newline.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if r == '\n' || i == len(runes)-1 || unicode.IsSpace(runes[i+1]) {
				s := strings.TrimSpace(current.String())
				if s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// BySentence greedily accumulates sentences into chunks bounded by maxChars.
// A single sentence longer than maxChars is split on whitespace into
// word-bounded sub-chunks.
func BySentence(text string, maxChars int) []Chunk {
	if maxChars <= 0 {
		maxChars = 1000
	}
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []Chunk
	var buf strings.Builder
	idx := 0

	flush := func() {
		s := strings.TrimSpace(buf.String())
		if s != "" {
			idx++
			chunks = append(chunks, Chunk{Content: s, Index: idx})
		}
		buf.Reset()
	}

	for _, sentence := range sentences {
		if len(sentence) > maxChars {
			flush()
			chunks = append(chunks, splitByWords(sentence, maxChars, &idx)...)
			continue
		}
		if buf.Len() > 0 && buf.Len()+1+len(sentence) > maxChars {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(sentence)
	}
	flush()
	return chunks
}

func splitByWords(sentence string, maxChars int, idx *int) []Chunk {
	words := strings.Fields(sentence)
	var chunks []Chunk
	var buf strings.Builder
	for _, w := range words {
		if buf.Len() > 0 && buf.Len()+1+len(w) > maxChars {
			*idx++
			chunks = append(chunks, Chunk{Content: buf.String(), Index: *idx})
			buf.Reset()
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(w)
	}
	if buf.Len() > 0 {
		*idx++
		chunks = append(chunks, Chunk{Content: buf.String(), Index: *idx})
	}
	return chunks
}
