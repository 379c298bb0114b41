// Package semantic distills batches of episodes into typed,
// confidence-scored generalizations about the user.
package semantic

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/becomeliminal/recall/core"
	"github.com/becomeliminal/recall/llm"
	"github.com/becomeliminal/recall/memory"
)

// Extraction outcome statuses. InsufficientData is a normal outcome,
// not an error: distilling from too few episodes produces unreliable
// generalizations.
const (
	StatusSuccess          = "success"
	StatusInsufficientData = "insufficient_data"
	StatusExtractionFailed = "extraction_failed"
)

// Result is the outcome of one extraction run. Items holds only what
// was actually stored.
type Result struct {
	Status string                   `json:"status"`
	Items  []*memory.SemanticMemory `json:"items"`
}

// Config holds distiller configuration.
type Config struct {
	// Collection is the semantic collection name.
	// Default: memory.SemanticCollection.
	Collection string

	// EpisodicCollection is scanned for source episodes.
	// Default: memory.EpisodicCollection.
	EpisodicCollection string

	// DigestCap bounds how many episode summaries go into the
	// extraction prompt. Default: 50.
	DigestCap int

	// ScanCapMultiplier bounds the episode scroll at
	// ScanCapMultiplier * minEpisodes records. Default: 5.
	ScanCapMultiplier int
}

// DefaultConfig returns sensible defaults.
var DefaultConfig = &Config{
	Collection:         memory.SemanticCollection,
	EpisodicCollection: memory.EpisodicCollection,
	DigestCap:          50,
	ScanCapMultiplier:  5,
}

// Distiller runs semantic extraction and retrieval.
type Distiller struct {
	store     memory.Store
	embedder  memory.Embedder
	generator llm.Generator
	config    *Config
}

// NewDistiller creates a semantic distiller.
func NewDistiller(store memory.Store, embedder memory.Embedder, generator llm.Generator, config *Config) *Distiller {
	if config == nil {
		config = DefaultConfig
	}
	if config.Collection == "" {
		config.Collection = memory.SemanticCollection
	}
	if config.EpisodicCollection == "" {
		config.EpisodicCollection = memory.EpisodicCollection
	}
	if config.DigestCap <= 0 {
		config.DigestCap = 50
	}
	if config.ScanCapMultiplier <= 0 {
		config.ScanCapMultiplier = 5
	}
	return &Distiller{
		store:     store,
		embedder:  embedder,
		generator: generator,
		config:    config,
	}
}

const extractionPromptFormat = `Analyze these recent conversations and extract semantic memories about the user.

RECENT CONVERSATIONS:
%s

Extract semantic memories in these categories:
1. TRAITS: Personality characteristics
2. PREFERENCES: Likes/dislikes, values, priorities
3. FACTS: Stable facts (job, location, relationships)
4. PATTERNS: Behavioral patterns or tendencies
5. RELATIONSHIPS: Important people and relationships

For each semantic memory, provide:
- type: one of [trait, preference, fact, pattern, relationship]
- content: A clear, concise statement (1 sentence)
- confidence: 0.0-1.0 based on evidence strength
- tags: 2-3 relevant tags

Return a JSON array of 5-15 semantic memories.
Focus on RECURRING themes and IMPORTANT information.

Return ONLY valid JSON array, no markdown.`

// RunExtraction distills episodes from the last lookbackDays into
// semantic memories. Fewer than minEpisodes qualifying episodes yields
// StatusInsufficientData and no extraction call at all. Failures in
// the extraction call or its output yield StatusExtractionFailed.
// Individual item failures (bad type, store error) are skipped, never
// fatal to the batch.
func (d *Distiller) RunExtraction(ctx context.Context, minEpisodes, lookbackDays int) *Result {
	episodes, err := d.recentEpisodes(ctx, lookbackDays, d.config.ScanCapMultiplier*minEpisodes)
	if err != nil {
		log.Printf("[SEMANTIC] Failed to scan episodes: %v", err)
		return &Result{Status: StatusExtractionFailed}
	}

	if len(episodes) < minEpisodes {
		log.Printf("[SEMANTIC] Not enough episodes for extraction (%d < %d)", len(episodes), minEpisodes)
		return &Result{Status: StatusInsufficientData}
	}

	digest := episodes
	if len(digest) > d.config.DigestCap {
		digest = digest[:d.config.DigestCap]
	}
	var lines []string
	for _, ep := range digest {
		line := "- " + ep.Story
		if ep.Emotion != "" {
			line += fmt.Sprintf(" [%s]", ep.Emotion)
		}
		lines = append(lines, line)
	}
	prompt := fmt.Sprintf(extractionPromptFormat, strings.Join(lines, "\n"))

	reply, err := d.generator.Generate(ctx, []core.Message{core.UserMessage(prompt)}, 0.2)
	if err != nil {
		log.Printf("[SEMANTIC] Extraction call failed: %v", err)
		return &Result{Status: StatusExtractionFailed}
	}

	var raw []map[string]interface{}
	if err := json.Unmarshal([]byte(llm.StripFences(reply)), &raw); err != nil {
		log.Printf("[SEMANTIC] Failed to parse extraction reply: %v", err)
		return &Result{Status: StatusExtractionFailed}
	}

	sourceIDs := make([]string, 0, memory.MaxSourceEpisodes)
	for _, ep := range episodes {
		if len(sourceIDs) == memory.MaxSourceEpisodes {
			break
		}
		sourceIDs = append(sourceIDs, ep.ID)
	}

	now := time.Now()
	var stored []*memory.SemanticMemory
	for i, item := range raw {
		mem, err := coerceItem(item)
		if err != nil {
			log.Printf("[SEMANTIC] Skipping item #%d: %v", i+1, err)
			continue
		}
		mem.SourceEpisodes = sourceIDs
		mem.FirstObserved = now
		mem.LastUpdated = now
		mem.OccurrenceCount = len(episodes)

		if err := d.storeItem(ctx, mem); err != nil {
			log.Printf("[SEMANTIC] Failed to store item #%d: %v", i+1, err)
			continue
		}
		stored = append(stored, mem)
	}

	log.Printf("[SEMANTIC] Extraction stored %d of %d items from %d episodes", len(stored), len(raw), len(episodes))
	return &Result{Status: StatusSuccess, Items: stored}
}

// Search retrieves semantic memories by similarity to query, dropping
// any whose confidence falls below minConfidence. An empty query skips
// similarity and returns the filtered set in insertion order.
func (d *Distiller) Search(ctx context.Context, query string, limit int, minConfidence float64) ([]*memory.SemanticMemory, error) {
	if strings.TrimSpace(query) == "" {
		return d.scanMemories(ctx, limit, minConfidence)
	}

	vector, err := d.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := d.store.Query(ctx, d.config.Collection, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("query semantic memories: %w", err)
	}

	var memories []*memory.SemanticMemory
	for _, hit := range hits {
		mem := memory.SemanticFromPayload(hit.ID, hit.Payload)
		if mem.Confidence < minConfidence {
			continue
		}
		memories = append(memories, mem)
	}
	return memories, nil
}

var contextTypeLabels = []struct {
	t     memory.SemanticType
	label string
}{
	{memory.SemanticTrait, "Personality Traits"},
	{memory.SemanticPreference, "Preferences & Values"},
	{memory.SemanticFact, "Key Facts"},
	{memory.SemanticPattern, "Behavioral Patterns"},
	{memory.SemanticRelationship, "Important Relationships"},
}

// Context renders up to limit semantic memories as a text block for
// injection into a system prompt, grouped by type with at most five
// lines per type. Returns "" when nothing is stored or retrieval
// fails; callers treat the context as best-effort.
func (d *Distiller) Context(ctx context.Context, limit int) string {
	hits, _, err := d.store.Scroll(ctx, d.config.Collection, limit, "")
	if err != nil {
		log.Printf("[SEMANTIC] Failed to load context: %v", err)
		return ""
	}
	if len(hits) == 0 {
		return ""
	}

	byType := make(map[memory.SemanticType][]string)
	for _, hit := range hits {
		mem := memory.SemanticFromPayload(hit.ID, hit.Payload)
		line := fmt.Sprintf("- %s (confidence: %d%%)", mem.Content, int(mem.Confidence*100))
		byType[mem.Type] = append(byType[mem.Type], line)
	}

	var parts []string
	for _, group := range contextTypeLabels {
		lines := byType[group.t]
		if len(lines) == 0 {
			continue
		}
		if len(lines) > 5 {
			lines = lines[:5]
		}
		parts = append(parts, "\n"+group.label+":")
		parts = append(parts, lines...)
	}
	return strings.Join(parts, "\n")
}

// Count returns the number of stored semantic memories.
func (d *Distiller) Count(ctx context.Context) (int64, error) {
	return d.store.Count(ctx, d.config.Collection)
}

func (d *Distiller) storeItem(ctx context.Context, mem *memory.SemanticMemory) error {
	vector, err := d.embedder.Embed(ctx, mem.Content)
	if err != nil {
		return fmt.Errorf("embed content: %w", err)
	}
	if err := d.store.Upsert(ctx, d.config.Collection, mem.ID, vector, mem.Payload()); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

// coerceItem validates one raw extraction item. A missing type falls
// back to fact; an unrecognized type or non-numeric confidence rejects
// the item.
func coerceItem(item map[string]interface{}) (*memory.SemanticMemory, error) {
	content, _ := item["content"].(string)
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty content")
	}

	semType := memory.SemanticFact
	if rawType, ok := item["type"].(string); ok && rawType != "" {
		parsed, valid := memory.ParseSemanticType(rawType)
		if !valid {
			return nil, fmt.Errorf("invalid type %q", rawType)
		}
		semType = parsed
	}

	confidence := 0.7
	if rawConf, present := item["confidence"]; present {
		f, ok := rawConf.(float64)
		if !ok {
			return nil, fmt.Errorf("non-numeric confidence %v", rawConf)
		}
		confidence = memory.ClampImportance(f)
	}

	var tags []string
	if rawTags, ok := item["tags"].([]interface{}); ok {
		for _, t := range rawTags {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
	}

	return &memory.SemanticMemory{
		ID:         uuid.NewString(),
		Type:       semType,
		Content:    content,
		Confidence: confidence,
		Tags:       tags,
	}, nil
}

// recentEpisodes scans the episodic collection for episodes within the
// lookback window, stopping once scanCap records pass the filter.
func (d *Distiller) recentEpisodes(ctx context.Context, lookbackDays, scanCap int) ([]*memory.Episode, error) {
	threshold := time.Now().AddDate(0, 0, -lookbackDays)

	var episodes []*memory.Episode
	cursor := ""
	for {
		hits, next, err := d.store.Scroll(ctx, d.config.EpisodicCollection, 100, cursor)
		if err != nil {
			return nil, err
		}
		for _, hit := range hits {
			ep := memory.EpisodeFromPayload(hit.ID, hit.Payload)
			if ep.Timestamp.Before(threshold) {
				continue
			}
			episodes = append(episodes, ep)
			if scanCap > 0 && len(episodes) >= scanCap {
				return episodes, nil
			}
		}
		if next == "" {
			return episodes, nil
		}
		cursor = next
	}
}

// scanMemories pages through the collection in insertion order,
// keeping memories at or above minConfidence.
func (d *Distiller) scanMemories(ctx context.Context, limit int, minConfidence float64) ([]*memory.SemanticMemory, error) {
	var memories []*memory.SemanticMemory
	cursor := ""
	for {
		hits, next, err := d.store.Scroll(ctx, d.config.Collection, 100, cursor)
		if err != nil {
			return nil, fmt.Errorf("scroll semantic memories: %w", err)
		}
		for _, hit := range hits {
			mem := memory.SemanticFromPayload(hit.ID, hit.Payload)
			if mem.Confidence < minConfidence {
				continue
			}
			memories = append(memories, mem)
			if limit > 0 && len(memories) >= limit {
				return memories, nil
			}
		}
		if next == "" {
			return memories, nil
		}
		cursor = next
	}
}
