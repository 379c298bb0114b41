package memory

import (
	"time"
)

// SemanticType classifies a distilled generalization.
type SemanticType string

const (
	SemanticTrait        SemanticType = "trait"        // personality characteristics
	SemanticPreference   SemanticType = "preference"   // likes/dislikes, values
	SemanticFact         SemanticType = "fact"         // stable facts (job, location)
	SemanticPattern      SemanticType = "pattern"      // behavioral tendencies
	SemanticRelationship SemanticType = "relationship" // important people
)

var semanticTypes = map[SemanticType]bool{
	SemanticTrait:        true,
	SemanticPreference:   true,
	SemanticFact:         true,
	SemanticPattern:      true,
	SemanticRelationship: true,
}

// ParseSemanticType validates a free-text type against the fixed set.
func ParseSemanticType(s string) (SemanticType, bool) {
	t := SemanticType(s)
	return t, semanticTypes[t]
}

// MaxSourceEpisodes caps how many supporting episode ids a semantic
// item records.
const MaxSourceEpisodes = 10

// SemanticMemory is a distilled, confidence-scored generalization
// about the user, derived from a batch of episodes. Each extraction
// run inserts new items; nothing merges into previously stored ones.
type SemanticMemory struct {
	ID              string       `json:"id"`
	Type            SemanticType `json:"type"`
	Content         string       `json:"content"`
	Confidence      float64      `json:"confidence"`
	SourceEpisodes  []string     `json:"source_episodes,omitempty"`
	FirstObserved   time.Time    `json:"first_observed"`
	LastUpdated     time.Time    `json:"last_updated"`
	OccurrenceCount int          `json:"occurrence_count"`
	Tags            []string     `json:"tags,omitempty"`
}

// Payload flattens the item for storage: enum as its string value,
// instants as numeric epoch seconds.
func (m *SemanticMemory) Payload() map[string]interface{} {
	return map[string]interface{}{
		"type":             string(m.Type),
		"content":          m.Content,
		"confidence":       m.Confidence,
		"source_episodes":  m.SourceEpisodes,
		"first_observed":   float64(m.FirstObserved.Unix()),
		"last_updated":     float64(m.LastUpdated.Unix()),
		"occurrence_count": float64(m.OccurrenceCount),
		"tags":             m.Tags,
	}
}

// SemanticFromPayload rebuilds a semantic item from a stored payload,
// tolerating missing or oddly typed fields.
func SemanticFromPayload(id string, p map[string]interface{}) *SemanticMemory {
	m := &SemanticMemory{
		ID:              id,
		Content:         payloadString(p, "content"),
		Confidence:      payloadFloat(p, "confidence", 0),
		SourceEpisodes:  payloadStrings(p, "source_episodes"),
		OccurrenceCount: int(payloadFloat(p, "occurrence_count", 1)),
		Tags:            payloadStrings(p, "tags"),
	}
	if t, ok := ParseSemanticType(payloadString(p, "type")); ok {
		m.Type = t
	} else {
		m.Type = SemanticFact
	}
	if ts := payloadFloat(p, "first_observed", 0); ts > 0 {
		m.FirstObserved = time.Unix(int64(ts), 0)
	}
	if ts := payloadFloat(p, "last_updated", 0); ts > 0 {
		m.LastUpdated = time.Unix(int64(ts), 0)
	}
	return m
}
