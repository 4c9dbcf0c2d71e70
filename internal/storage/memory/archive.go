// Package memory keeps archived Markdown in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/JakeFAU/pdfmarkd/internal/converter"
)

// Archive holds documents by key and returns memory:// URIs.
type Archive struct {
	mu   sync.RWMutex
	docs map[string]converter.Document
}

// New creates an empty Archive.
func New() *Archive {
	return &Archive{docs: make(map[string]converter.Document)}
}

// Store implements converter.Archive. A later Store for the same key replaces the document.
func (a *Archive) Store(_ context.Context, key string, doc converter.Document) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("archive key is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.docs[key] = doc
	return "memory://" + key, nil
}

// Get returns the document stored under key.
func (a *Archive) Get(key string) (converter.Document, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	doc, ok := a.docs[key]
	return doc, ok
}

// Len returns the number of stored documents.
func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.docs)
}
