// Package episodic converts finished conversation sessions into stored
// episodes and owns the journal-label resolution protocol.
package episodic

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/becomeliminal/recall/core"
	"github.com/becomeliminal/recall/llm"
	"github.com/becomeliminal/recall/memory"
)

// Config holds episodic manager configuration.
type Config struct {
	// Collection is the episodic collection name.
	// Default: memory.EpisodicCollection.
	Collection string

	// LabelScanLimit bounds how many records are scanned when
	// collecting the existing journal labels. Default: 100.
	LabelScanLimit int

	// LabelExcerptLimit bounds the conversation excerpt shown to the
	// label arbitration prompt. Default: 1500.
	LabelExcerptLimit int

	// FallbackLabel is used when label resolution fails.
	// Default: "General Journal".
	FallbackLabel string

	// ScanCap bounds full-collection scrolls (empty-query search,
	// recency filters). Default: 1000.
	ScanCap int
}

// DefaultConfig returns sensible defaults.
var DefaultConfig = &Config{
	Collection:        memory.EpisodicCollection,
	LabelScanLimit:    100,
	LabelExcerptLimit: 1500,
	FallbackLabel:     "General Journal",
	ScanCap:           1000,
}

// Manager creates and retrieves episodes.
type Manager struct {
	store     memory.Store
	embedder  memory.Embedder
	generator llm.Generator
	config    *Config
}

// NewManager creates an episodic memory manager.
func NewManager(store memory.Store, embedder memory.Embedder, generator llm.Generator, config *Config) *Manager {
	if config == nil {
		config = DefaultConfig
	}
	if config.Collection == "" {
		config.Collection = memory.EpisodicCollection
	}
	if config.LabelScanLimit <= 0 {
		config.LabelScanLimit = 100
	}
	if config.LabelExcerptLimit <= 0 {
		config.LabelExcerptLimit = 1500
	}
	if config.FallbackLabel == "" {
		config.FallbackLabel = "General Journal"
	}
	if config.ScanCap <= 0 {
		config.ScanCap = 1000
	}
	return &Manager{
		store:     store,
		embedder:  embedder,
		generator: generator,
		config:    config,
	}
}

const labelPromptFormat = `You are organizing a personal journal. Analyze this conversation and determine the ONE journal label it belongs to.

EXISTING JOURNAL LABELS:
%s

CONVERSATION:
%s

RULES:
1. If this conversation fits an EXISTING label, use that EXACT label (copy it exactly)
2. If it doesn't fit any existing label, create a NEW descriptive label
3. Label should be specific and descriptive (e.g., "Gifts to colleagues", "Networking with director")
4. Use title case
5. Keep it 2-5 words

Return ONLY the label text, nothing else.`

const extractionPromptFormat = `Analyze this conversation and extract episodic memory details.

CONVERSATION:
%s

Return a JSON object with:
- "story": A 2-3 sentence narrative summary (from user's perspective)
- "emotion": Primary emotion (happy, sad, anxious, excited, frustrated, neutral, confused, proud)
- "key_entities": List of important people, projects, or things mentioned
- "user_intent": What the user wanted to accomplish (1 sentence)
- "importance": Float 0-1, how personally meaningful this is

Return ONLY valid JSON, no markdown.`

// CreateEpisode converts one finished session's text into a stored
// episode. It never fails outright: when label resolution, extraction,
// or storage breaks, the caller gets a minimal fallback episode built
// from the raw text instead.
func (m *Manager) CreateEpisode(ctx context.Context, conversationText string) *memory.Episode {
	label := m.ResolveLabel(ctx, conversationText)

	episode, err := m.extractEpisode(ctx, conversationText, label)
	if err == nil {
		err = m.storeEpisode(ctx, episode)
	}
	if err != nil {
		log.Printf("[EPISODIC] Falling back to minimal episode: %v", err)
		return fallbackEpisode(conversationText)
	}

	log.Printf("[EPISODIC] Stored episode %s - journal: %s", episode.ID, label)
	return episode
}

// ResolveLabel picks the one journal label for a conversation. It
// collects the distinct labels already stored, then asks the model to
// either reuse one verbatim or coin a new 2-5 word title-case label.
// Any failure yields the fixed fallback label.
func (m *Manager) ResolveLabel(ctx context.Context, conversationText string) string {
	labels, err := m.existingLabels(ctx)
	if err != nil {
		log.Printf("[EPISODIC] Failed to collect existing labels: %v", err)
	}

	labelList := "No existing labels yet"
	if len(labels) > 0 {
		var lines []string
		for _, label := range labels {
			lines = append(lines, "- "+label)
		}
		labelList = strings.Join(lines, "\n")
	}

	excerpt := memory.Truncate(conversationText, m.config.LabelExcerptLimit)
	prompt := fmt.Sprintf(labelPromptFormat, labelList, excerpt)

	reply, err := m.generator.Generate(ctx, []core.Message{core.UserMessage(prompt)}, 0.2)
	if err != nil {
		log.Printf("[EPISODIC] Label resolution failed: %v", err)
		return m.config.FallbackLabel
	}

	label := llm.StripQuotes(reply)
	if label == "" {
		return m.config.FallbackLabel
	}
	return label
}

// Search retrieves episodes by similarity to query, dropping any whose
// importance falls below minImportance. The filter applies on top of
// the store's top-K result, so fewer than limit episodes may come back.
// An empty query skips similarity entirely and returns the filtered set
// in insertion order.
func (m *Manager) Search(ctx context.Context, query string, limit int, minImportance float64) ([]*memory.Episode, error) {
	if strings.TrimSpace(query) == "" {
		return m.scanEpisodes(ctx, limit, func(ep *memory.Episode) bool {
			return ep.Importance >= minImportance
		})
	}

	vector, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hits, err := m.store.Query(ctx, m.config.Collection, vector, limit)
	if err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}

	var episodes []*memory.Episode
	for _, hit := range hits {
		ep := memory.EpisodeFromPayload(hit.ID, hit.Payload)
		if ep.Importance < minImportance {
			continue
		}
		episodes = append(episodes, ep)
	}
	return episodes, nil
}

// Recent returns episodes whose timestamp falls within the last
// lookbackDays, newest first, capped at limit (0 = no cap).
func (m *Manager) Recent(ctx context.Context, lookbackDays int, limit int) ([]*memory.Episode, error) {
	threshold := time.Now().AddDate(0, 0, -lookbackDays)

	episodes, err := m.scanEpisodes(ctx, 0, func(ep *memory.Episode) bool {
		return !ep.Timestamp.Before(threshold)
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(episodes, func(i, j int) bool {
		return episodes[i].Timestamp.After(episodes[j].Timestamp)
	})
	if limit > 0 && len(episodes) > limit {
		episodes = episodes[:limit]
	}
	return episodes, nil
}

// All returns every stored episode up to the scan cap, in insertion
// order.
func (m *Manager) All(ctx context.Context) ([]*memory.Episode, error) {
	return m.scanEpisodes(ctx, 0, nil)
}

// Count returns the number of stored episodes.
func (m *Manager) Count(ctx context.Context) (int64, error) {
	return m.store.Count(ctx, m.config.Collection)
}

func (m *Manager) extractEpisode(ctx context.Context, conversationText, label string) (*memory.Episode, error) {
	prompt := fmt.Sprintf(extractionPromptFormat, conversationText)

	reply, err := m.generator.Generate(ctx, []core.Message{core.UserMessage(prompt)}, 0.3)
	if err != nil {
		return nil, fmt.Errorf("extraction call: %w", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(llm.StripFences(reply)), &fields); err != nil {
		return nil, fmt.Errorf("parse extraction reply: %w", err)
	}

	episode := &memory.Episode{
		ID:           uuid.NewString(),
		Timestamp:    time.Now(),
		Story:        stringField(fields, "story"),
		KeyEntities:  stringsField(fields, "key_entities"),
		UserIntent:   stringField(fields, "user_intent"),
		Importance:   memory.ClampImportance(floatField(fields, "importance", memory.DefaultImportance)),
		Tags:         []string{label},
		JournalLabel: label,
		RawContext:   memory.Truncate(conversationText, memory.RawContextLimit),
	}
	if episode.Story == "" {
		return nil, fmt.Errorf("extraction returned empty story")
	}
	if emotion, ok := memory.ParseEmotion(stringField(fields, "emotion")); ok {
		episode.Emotion = emotion
	}
	return episode, nil
}

func (m *Manager) storeEpisode(ctx context.Context, episode *memory.Episode) error {
	vector, err := m.embedder.Embed(ctx, episode.Story)
	if err != nil {
		return fmt.Errorf("embed story: %w", err)
	}
	if err := m.store.Upsert(ctx, m.config.Collection, episode.ID, vector, episode.Payload()); err != nil {
		return fmt.Errorf("store episode: %w", err)
	}
	return nil
}

// fallbackEpisode builds the degraded episode returned when the
// extraction pipeline fails. It is not persisted.
func fallbackEpisode(conversationText string) *memory.Episode {
	story := conversationText
	if len(story) > 200 {
		story = story[:200] + "…"
	}
	return &memory.Episode{
		ID:         uuid.NewString(),
		Timestamp:  time.Now(),
		Story:      story,
		Importance: 0.3,
		Tags:       []string{"auto-generated"},
		RawContext: memory.Truncate(conversationText, memory.RawContextLimit),
	}
}

// existingLabels scans one bounded page of episodes and returns the
// distinct journal labels, in first-seen order.
func (m *Manager) existingLabels(ctx context.Context) ([]string, error) {
	hits, _, err := m.store.Scroll(ctx, m.config.Collection, m.config.LabelScanLimit, "")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var labels []string
	for _, hit := range hits {
		label, _ := hit.Payload["journal_label"].(string)
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		labels = append(labels, label)
	}
	return labels, nil
}

// scanEpisodes pages through the collection in insertion order,
// keeping episodes that pass the filter, up to limit (0 = no limit)
// and bounded by the scan cap.
func (m *Manager) scanEpisodes(ctx context.Context, limit int, keep func(*memory.Episode) bool) ([]*memory.Episode, error) {
	var episodes []*memory.Episode
	cursor := ""
	scanned := 0

	for {
		hits, next, err := m.store.Scroll(ctx, m.config.Collection, 100, cursor)
		if err != nil {
			return nil, fmt.Errorf("scroll episodes: %w", err)
		}
		for _, hit := range hits {
			scanned++
			ep := memory.EpisodeFromPayload(hit.ID, hit.Payload)
			if keep != nil && !keep(ep) {
				continue
			}
			episodes = append(episodes, ep)
			if limit > 0 && len(episodes) >= limit {
				return episodes, nil
			}
		}
		if next == "" || scanned >= m.config.ScanCap {
			return episodes, nil
		}
		cursor = next
	}
}

// field readers tolerant of the loosely typed JSON the extraction
// model returns.

func stringField(fields map[string]interface{}, key string) string {
	if v, ok := fields[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func floatField(fields map[string]interface{}, key string, fallback float64) float64 {
	if v, ok := fields[key].(float64); ok {
		return v
	}
	return fallback
}

func stringsField(fields map[string]interface{}, key string) []string {
	items, ok := fields[key].([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
