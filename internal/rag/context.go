package rag

import (
	"fmt"
	"strings"

	"regulation-rag/internal/models"
)

// IsInDomain passes when the best hit reaches minScore. hits must be sorted
// best first.
func IsInDomain(hits []models.Hit, minScore float32) bool {
	return len(hits) > 0 && hits[0].Score >= minScore
}

// AssembleContext numbers the hits from 1 and joins them with blank lines
func AssembleContext(hits []models.Hit) string {
	blocks := make([]string, 0, len(hits))
	for i, h := range hits {
		text := strings.TrimSpace(h.Text)
		if h.Header != "" {
			blocks = append(blocks, fmt.Sprintf("%d) %s\n%s", i+1, h.Header, text))
		} else {
			blocks = append(blocks, fmt.Sprintf("%d) %s", i+1, text))
		}
	}
	return strings.Join(blocks, models.ContextSeparator)
}
