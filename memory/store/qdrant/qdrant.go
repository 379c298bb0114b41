// Package qdrant implements memory.Store against a Qdrant server over
// its REST API. It is the production backend; the chromem store covers
// local development.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/becomeliminal/recall/memory"
)

// Config configures the Qdrant client.
type Config struct {
	// URL is the base URL of the Qdrant server, e.g. "http://localhost:6333".
	URL string

	// APIKey is sent as the api-key header when non-empty.
	APIKey string

	// Timeout bounds each HTTP request. Default: 30s.
	Timeout time.Duration
}

// QdrantStore talks to Qdrant over HTTP.
type QdrantStore struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// New creates a Qdrant-backed store.
func New(cfg Config) (*QdrantStore, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("qdrant URL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &QdrantStore{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// EnsureCollection creates the collection if it does not exist.
func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dimensions int, metric string) error {
	status, _, err := s.do(ctx, http.MethodGet, "/collections/"+name, nil)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", name, err)
	}
	if status == http.StatusOK {
		return nil
	}

	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     dimensions,
			"distance": metric,
		},
	}
	status, respBody, err := s.do(ctx, http.MethodPut, "/collections/"+name, body)
	if err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("create collection %s: status %d: %s", name, status, respBody)
	}

	log.Printf("[QDRANT] Created collection %s (dim=%d, metric=%s)", name, dimensions, metric)
	return nil
}

// Upsert writes a point with its vector and payload.
func (s *QdrantStore) Upsert(ctx context.Context, collection, id string, vector []float32, payload map[string]interface{}) error {
	body := map[string]interface{}{
		"points": []map[string]interface{}{
			{
				"id":      id,
				"vector":  vector,
				"payload": payload,
			},
		},
	}
	status, respBody, err := s.do(ctx, http.MethodPut, "/collections/"+collection+"/points", body)
	if err != nil {
		return fmt.Errorf("upsert point: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("upsert point: status %d: %s", status, respBody)
	}
	return nil
}

// Query runs a vector similarity search.
func (s *QdrantStore) Query(ctx context.Context, collection string, vector []float32, limit int) ([]memory.Hit, error) {
	body := map[string]interface{}{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	status, respBody, err := s.do(ctx, http.MethodPost, "/collections/"+collection+"/points/search", body)
	if err != nil {
		return nil, fmt.Errorf("search points: %w", err)
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("search points: status %d: %s", status, respBody)
	}

	var resp struct {
		Result []scoredPoint `json:"result"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]memory.Hit, 0, len(resp.Result))
	for _, p := range resp.Result {
		hits = append(hits, memory.Hit{
			ID:      pointID(p.ID),
			Score:   p.Score,
			Payload: p.Payload,
		})
	}
	return hits, nil
}

// Scroll pages through points. The cursor round-trips Qdrant's
// next_page_offset; an empty returned cursor means the scan is done.
func (s *QdrantStore) Scroll(ctx context.Context, collection string, limit int, cursor string) ([]memory.Hit, string, error) {
	body := map[string]interface{}{
		"limit":        limit,
		"with_payload": true,
	}
	if cursor != "" {
		// Numeric offsets must go back as numbers, point ids as strings.
		if n, err := strconv.ParseUint(cursor, 10, 64); err == nil {
			body["offset"] = n
		} else {
			body["offset"] = cursor
		}
	}

	status, respBody, err := s.do(ctx, http.MethodPost, "/collections/"+collection+"/points/scroll", body)
	if err != nil {
		return nil, "", fmt.Errorf("scroll points: %w", err)
	}
	if status != http.StatusOK {
		return nil, "", fmt.Errorf("scroll points: status %d: %s", status, respBody)
	}

	var resp struct {
		Result struct {
			Points         []scoredPoint `json:"points"`
			NextPageOffset interface{}   `json:"next_page_offset"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, "", fmt.Errorf("decode scroll response: %w", err)
	}

	hits := make([]memory.Hit, 0, len(resp.Result.Points))
	for _, p := range resp.Result.Points {
		hits = append(hits, memory.Hit{
			ID:      pointID(p.ID),
			Payload: p.Payload,
		})
	}

	next := ""
	if resp.Result.NextPageOffset != nil {
		next = pointID(resp.Result.NextPageOffset)
	}
	return hits, next, nil
}

// Count returns the exact number of points in a collection.
func (s *QdrantStore) Count(ctx context.Context, collection string) (int64, error) {
	body := map[string]interface{}{"exact": true}
	status, respBody, err := s.do(ctx, http.MethodPost, "/collections/"+collection+"/points/count", body)
	if err != nil {
		return 0, fmt.Errorf("count points: %w", err)
	}
	if status != http.StatusOK {
		return 0, fmt.Errorf("count points: status %d: %s", status, respBody)
	}

	var resp struct {
		Result struct {
			Count int64 `json:"count"`
		} `json:"result"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, fmt.Errorf("decode count response: %w", err)
	}
	return resp.Result.Count, nil
}

// Close is a no-op; the HTTP client holds no persistent resources.
func (s *QdrantStore) Close() error {
	return nil
}

type scoredPoint struct {
	ID      interface{}            `json:"id"`
	Score   float32                `json:"score"`
	Payload map[string]interface{} `json:"payload"`
}

// pointID normalizes Qdrant ids, which may be strings or numbers.
func pointID(v interface{}) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatUint(uint64(id), 10)
	default:
		return fmt.Sprintf("%v", id)
	}
}

func (s *QdrantStore) do(ctx context.Context, method, path string, body interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, respBody, nil
}
