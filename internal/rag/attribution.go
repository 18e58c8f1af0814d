package rag

import (
	"path/filepath"
	"strings"

	"regulation-rag/internal/helper"
	"regulation-rag/internal/models"
)

// SourceAttributor turns hits into citations that link to the served
// document root.
type SourceAttributor struct {
	root      string
	urlPrefix string
}

func NewSourceAttributor(root, urlPrefix string) *SourceAttributor {
	return &SourceAttributor{root: root, urlPrefix: strings.TrimRight(urlPrefix, "/")}
}

// Attribute returns one citation per distinct file name, in hit order. The
// url is empty when the file is not present under the document root.
func (a *SourceAttributor) Attribute(hits []models.Hit) []models.Citation {
	seen := make(map[string]struct{}, len(hits))
	citations := make([]models.Citation, 0, len(hits))
	for _, h := range hits {
		if h.Source == "" {
			continue
		}
		name := filepath.Base(h.Source)
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}

		url := ""
		if a.root != "" && helper.FileExists(filepath.Join(a.root, name)) {
			url = a.urlPrefix + "/" + name
		}
		citations = append(citations, models.Citation{Name: name, URL: url})
	}
	return citations
}
