// Package chunker splits extracted text into bounded, ordered segments,
// the unit the embedding and retrieval layers work with.
package chunker

import (
	"strings"

	"github.com/docuflow/doc-chat-api/internal/extractor"
)

type Config struct {
	ChunkSize    int
	ChunkOverlap int
}

type Chunker struct {
	config Config
}

func New(config Config) Chunker {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = 0
	}

	return Chunker{config: config}
}

// Segment is one chunk of text with its position metadata. Index is the
// ordinal within the file. PageNumber is 0 when the source format has no
// pages. CharStart/CharEnd are byte offsets into the page text.
type Segment struct {
	Text       string
	Index      int
	PageNumber int
	CharStart  int
	CharEnd    int
}

// Split produces a deterministic, order-preserving segmentation of the
// extracted pages. Segments never exceed ChunkSize bytes; consecutive
// segments on a page share up to ChunkOverlap bytes of trailing context.
// Empty input yields zero segments.
func (c *Chunker) Split(pages []extractor.Page) []Segment {
	var segments []Segment
	index := 0

	maxSpan := c.config.ChunkSize
	if maxSpan > 512 {
		maxSpan = 512
	}

	for _, page := range pages {
		spans := sentenceSpans(page.Text, maxSpan)

		var current []span
		currentLen := 0

		flush := func() {
			if len(current) == 0 {
				return
			}
			start := current[0].start
			end := current[len(current)-1].end
			text := strings.TrimSpace(page.Text[start:end])
			if text != "" {
				segments = append(segments, Segment{
					Text:       text,
					Index:      index,
					PageNumber: page.Number,
					CharStart:  start,
					CharEnd:    end,
				})
				index++
			}
		}

		for _, s := range spans {
			sLen := s.end - s.start

			if currentLen > 0 && currentLen+sLen > c.config.ChunkSize {
				flush()
				current, currentLen = c.overlapTail(current)
			}

			current = append(current, s)
			currentLen += sLen
		}
		flush()
	}

	return segments
}

// overlapTail keeps the trailing spans of the previous chunk, up to
// ChunkOverlap bytes, so adjacent chunks share context.
func (c *Chunker) overlapTail(spans []span) ([]span, int) {
	if c.config.ChunkOverlap == 0 {
		return nil, 0
	}

	total := 0
	i := len(spans)
	for i > 0 {
		width := spans[i-1].end - spans[i-1].start
		if total+width > c.config.ChunkOverlap {
			break
		}
		total += width
		i--
	}

	tail := make([]span, len(spans)-i)
	copy(tail, spans[i:])
	return tail, total
}

type span struct {
	start int
	end   int
}

// sentenceSpans cuts text at sentence-ending punctuation and newlines,
// hard-splitting any run longer than maxSpan so no single span can exceed
// a chunk on its own.
func sentenceSpans(text string, maxSpan int) []span {
	var spans []span
	start := 0

	for i := 0; i < len(text); i++ {
		ch := text[i]
		boundary := ch == '\n' || ch == '.' || ch == '!' || ch == '?'
		if boundary || i-start+1 >= maxSpan {
			end := i + 1
			if end > start {
				spans = append(spans, span{start: start, end: end})
			}
			start = end
		}
	}

	if start < len(text) {
		spans = append(spans, span{start: start, end: len(text)})
	}

	return spans
}
