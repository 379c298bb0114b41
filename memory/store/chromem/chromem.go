// Package chromem implements memory.Store on chromem-go, a pure Go
// embedded vector database. It needs no external services, which makes
// it the default backend for local development and tests.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/recall/memory"
)

// ChromemStore wraps chromem-go for vector storage.
//
// chromem-go has no scan or count API, so the store keeps a side index
// of ids in insertion order plus the raw payloads, guarded by the same
// mutex as the collection map. Scroll and Count read the side index;
// Query goes through chromem's vector search.
type ChromemStore struct {
	db          *chromem.DB
	mu          sync.RWMutex
	collections map[string]*chromem.Collection
	order       map[string][]string
	payloads    map[string]map[string]map[string]interface{}
}

// New creates a new chromem-based store.
func New() (*ChromemStore, error) {
	return &ChromemStore{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		order:       make(map[string][]string),
		payloads:    make(map[string]map[string]map[string]interface{}),
	}, nil
}

// EnsureCollection creates the collection if it does not exist.
// Dimensions and metric are accepted for interface compatibility;
// chromem infers the vector size from the first document and always
// uses cosine similarity.
func (s *ChromemStore) EnsureCollection(ctx context.Context, name string, dimensions int, metric string) error {
	_, err := s.getOrCreateCollection(name)
	return err
}

func (s *ChromemStore) getOrCreateCollection(name string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[name]
	s.mu.RUnlock()

	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := s.collections[name]; exists {
		return col, nil
	}

	col, err := s.db.CreateCollection(
		name,
		nil, // No custom embedding func (we provide embeddings)
		nil, // No custom distance func (use default cosine)
	)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	s.collections[name] = col
	s.order[name] = nil
	s.payloads[name] = make(map[string]map[string]interface{})
	return col, nil
}

// Upsert saves a point with its embedding and payload.
func (s *ChromemStore) Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]interface{}) error {
	col, err := s.getOrCreateCollection(collection)
	if err != nil {
		return err
	}

	content, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	doc := chromem.Document{
		ID:        id,
		Content:   string(content),
		Embedding: vector,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}

	s.mu.Lock()
	if _, exists := s.payloads[collection][id]; !exists {
		s.order[collection] = append(s.order[collection], id)
	}
	s.payloads[collection][id] = payload
	s.mu.Unlock()

	return nil
}

// Query retrieves the closest points by vector similarity.
func (s *ChromemStore) Query(ctx context.Context, collection string, vector []float32, limit int) ([]memory.Hit, error) {
	col, err := s.getOrCreateCollection(collection)
	if err != nil {
		return nil, err
	}

	// chromem-go requires nResults <= collection size.
	// Retry with smaller limits if necessary.
	var results []chromem.Result
	for currentLimit := limit; currentLimit >= 1; currentLimit-- {
		var err error
		results, err = col.QueryEmbedding(ctx, vector, currentLimit, nil, nil)
		if err == nil {
			break
		}

		if isInsufficientDocsError(err) {
			if currentLimit == 1 {
				return nil, nil
			}
			continue
		}

		return nil, fmt.Errorf("chromem query: %w", err)
	}

	hits := make([]memory.Hit, 0, len(results))
	for _, result := range results {
		hits = append(hits, memory.Hit{
			ID:      result.ID,
			Score:   result.Similarity,
			Payload: s.payloadFor(collection, result.ID, result.Content),
		})
	}
	return hits, nil
}

// Scroll pages through points in insertion order. The cursor is the
// numeric offset of the next page; an empty returned cursor means the
// scan is complete.
func (s *ChromemStore) Scroll(ctx context.Context, collection string, limit int, cursor string) ([]memory.Hit, string, error) {
	if _, err := s.getOrCreateCollection(collection); err != nil {
		return nil, "", err
	}

	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, "", fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		offset = n
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.order[collection]
	if offset >= len(ids) {
		return nil, "", nil
	}

	end := offset + limit
	if limit <= 0 || end > len(ids) {
		end = len(ids)
	}

	hits := make([]memory.Hit, 0, end-offset)
	for _, id := range ids[offset:end] {
		hits = append(hits, memory.Hit{
			ID:      id,
			Payload: s.payloads[collection][id],
		})
	}

	next := ""
	if end < len(ids) {
		next = strconv.Itoa(end)
	}
	return hits, next, nil
}

// Count returns the number of points in a collection.
func (s *ChromemStore) Count(ctx context.Context, collection string) (int64, error) {
	if _, err := s.getOrCreateCollection(collection); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.order[collection])), nil
}

// Close releases resources. chromem keeps everything in memory, so
// there is nothing to flush.
func (s *ChromemStore) Close() error {
	return nil
}

// payloadFor prefers the side index and falls back to decoding the
// document content.
func (s *ChromemStore) payloadFor(collection, id, content string) map[string]interface{} {
	s.mu.RLock()
	payload, ok := s.payloads[collection][id]
	s.mu.RUnlock()
	if ok {
		return payload
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		log.Printf("[CHROMEM] Failed to decode payload for %s: %v", id, err)
		return nil
	}
	return decoded
}

// isInsufficientDocsError checks if error is due to insufficient documents.
func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "nResults must be") || strings.Contains(errStr, "number of documents")
}
