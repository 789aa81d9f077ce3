// Package knowledge resolves the reference documents an agent is grounded on.
package knowledge

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("document not found")

// Source returns the plain-text content of a document.
type Source interface {
	DocumentContent(ctx context.Context, id string) (string, error)
}

// Document is a fetched knowledge document.
type Document struct {
	ID      string
	Content string
}

// Load fetches ids in order. Failed or empty documents are logged and
// skipped so one bad document does not block the call.
func Load(ctx context.Context, src Source, ids []string, log *slog.Logger) []Document {
	if src == nil || len(ids) == 0 {
		return nil
	}
	out := make([]Document, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		content, err := src.DocumentContent(ctx, id)
		if err != nil {
			if log != nil {
				log.Warn("knowledge document skipped", "document_id", id, "error", err)
			}
			continue
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		out = append(out, Document{ID: id, Content: content})
	}
	return out
}

// InMemorySource serves documents from a map, for local agents and tests.
type InMemorySource struct {
	mu   sync.RWMutex
	docs map[string]string
}

func NewInMemorySource(docs map[string]string) *InMemorySource {
	s := &InMemorySource{docs: make(map[string]string, len(docs))}
	for k, v := range docs {
		s.docs[k] = v
	}
	return s
}

func (s *InMemorySource) Put(id, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = content
}

func (s *InMemorySource) DocumentContent(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	content, ok := s.docs[id]
	if !ok {
		return "", ErrNotFound
	}
	return content, nil
}

// Chain tries each source in order and returns the first hit. A miss
// (ErrNotFound) falls through; any other error stops the lookup.
type Chain []Source

func (c Chain) DocumentContent(ctx context.Context, id string) (string, error) {
	for _, src := range c {
		if src == nil {
			continue
		}
		content, err := src.DocumentContent(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return content, err
	}
	return "", ErrNotFound
}
