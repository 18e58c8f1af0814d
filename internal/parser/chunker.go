package parser

import (
	"fmt"
	"iter"
	"strings"

	"regulation-rag/internal/models"
)

// Chunker cuts text into fixed-size windows that overlap by a fixed number
// of characters. Sizes are counted in runes.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker validates 0 <= overlap < size
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, models.NewConfigError("chunk_size", "must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, models.NewConfigError("chunk_overlap", "must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Windows yields the trimmed, non-empty windows of text from left to right.
// The sequence can be ranged over any number of times.
func (c *Chunker) Windows(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		runes := []rune(text)
		step := c.size - c.overlap
		for start := 0; start < len(runes); start += step {
			end := min(start+c.size, len(runes))
			window := strings.TrimSpace(string(runes[start:end]))
			if window == "" {
				continue
			}
			if !yield(window) {
				return
			}
		}
	}
}

// ChunkText collects Windows into a slice
func (c *Chunker) ChunkText(text string) []string {
	var out []string
	for w := range c.Windows(text) {
		out = append(out, w)
	}
	return out
}

// Chunks builds numbered chunks for one source document. Sequence numbers
// start at 1 and the header names the source and the sequence number.
func (c *Chunker) Chunks(source, text string) []models.Chunk {
	var chunks []models.Chunk
	i := 0
	for w := range c.Windows(text) {
		i++
		chunks = append(chunks, models.Chunk{
			Source:   source,
			Sequence: i,
			Header:   Header(source, i),
			Text:     w,
		})
	}
	return chunks
}

// Header formats the display header of a chunk
func Header(source string, sequence int) string {
	return fmt.Sprintf(models.HeaderFormat, source, sequence)
}
