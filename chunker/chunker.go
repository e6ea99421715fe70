// Package chunker splits document text into bounded, overlapping chunks
// for retrieval indexing. Split boundaries are tried from coarsest to
// finest: paragraph break, line break, sentence-ending punctuation
// (Western and CJK), space, and finally single characters.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/inception881/knowledgeGPT/core"
)

// DefaultSeparators is the boundary preference order.
var DefaultSeparators = []string{"\n\n", "\n", "。", "！", "？", ".", "!", "?", " ", ""}

// Splitter is a recursive character splitter.
type Splitter struct {
	chunkSize    int
	chunkOverlap int
	separators   []string
}

// New creates a splitter producing chunks of at most chunkSize runes with
// chunkOverlap runes of overlap between consecutive chunks.
func New(chunkSize, chunkOverlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 500
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = chunkSize / 10
	}
	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		separators:   DefaultSeparators,
	}
}

// Chunk splits text into ordered document chunks carrying the source
// document's identity. Empty or whitespace-only input yields no chunks.
func (s *Splitter) Chunk(text, sourceID string, fileType core.FileType) []core.DocumentChunk {
	var chunks []core.DocumentChunk
	for _, piece := range s.SplitText(text) {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		chunks = append(chunks, core.DocumentChunk{
			Content:  piece,
			SourceID: sourceID,
			FileType: fileType,
			Sequence: len(chunks),
		})
	}
	return chunks
}

// SplitText splits raw text into pieces of at most chunkSize runes.
func (s *Splitter) SplitText(text string) []string {
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	if utf8.RuneCountInString(text) <= s.chunkSize {
		if text == "" {
			return nil
		}
		return []string{text}
	}

	// Pick the coarsest separator that actually occurs.
	separator := ""
	rest := separators
	for i, sep := range separators {
		if sep == "" {
			separator = ""
			rest = nil
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			rest = separators[i+1:]
			break
		}
	}

	splits := splitKeepSeparator(text, separator)

	// Recurse into oversized pieces, then merge small ones with overlap.
	var pieces []string
	for _, piece := range splits {
		if utf8.RuneCountInString(piece) > s.chunkSize {
			pieces = append(pieces, s.split(piece, rest)...)
		} else if piece != "" {
			pieces = append(pieces, piece)
		}
	}
	return s.merge(pieces)
}

// splitKeepSeparator splits text by sep, keeping the separator attached to
// the preceding piece so sentence punctuation survives. An empty separator
// splits into individual runes.
func splitKeepSeparator(text, sep string) []string {
	if sep == "" {
		runes := []rune(text)
		out := make([]string, len(runes))
		for i, r := range runes {
			out[i] = string(r)
		}
		return out
	}
	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	for i, part := range parts {
		if i < len(parts)-1 {
			part += sep
		}
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// merge greedily combines pieces into chunks of at most chunkSize runes,
// carrying chunkOverlap runes of trailing context into the next chunk.
func (s *Splitter) merge(pieces []string) []string {
	var out []string
	var window []string
	total := 0

	flush := func() {
		if len(window) == 0 {
			return
		}
		joined := strings.TrimSpace(strings.Join(window, ""))
		if joined != "" {
			out = append(out, joined)
		}
	}

	for _, piece := range pieces {
		n := utf8.RuneCountInString(piece)
		if total+n > s.chunkSize && len(window) > 0 {
			flush()
			// Retain a suffix of the window as overlap.
			for total > s.chunkOverlap || (total+n > s.chunkSize && total > 0) {
				total -= utf8.RuneCountInString(window[0])
				window = window[1:]
			}
		}
		window = append(window, piece)
		total += n
	}
	flush()
	return out
}
