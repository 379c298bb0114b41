package memory

import (
	"time"
)

// Emotion is the primary emotion detected in an episode.
type Emotion string

// The fixed emotion vocabulary. Extraction output outside this set is
// dropped rather than stored.
const (
	EmotionHappy      Emotion = "happy"
	EmotionSad        Emotion = "sad"
	EmotionAnxious    Emotion = "anxious"
	EmotionExcited    Emotion = "excited"
	EmotionFrustrated Emotion = "frustrated"
	EmotionNeutral    Emotion = "neutral"
	EmotionConfused   Emotion = "confused"
	EmotionProud      Emotion = "proud"
)

var emotions = map[Emotion]bool{
	EmotionHappy:      true,
	EmotionSad:        true,
	EmotionAnxious:    true,
	EmotionExcited:    true,
	EmotionFrustrated: true,
	EmotionNeutral:    true,
	EmotionConfused:   true,
	EmotionProud:      true,
}

// ParseEmotion validates a free-text emotion against the fixed set.
// Returns false for anything outside the vocabulary, including "".
func ParseEmotion(s string) (Emotion, bool) {
	e := Emotion(s)
	return e, emotions[e]
}

// DefaultImportance is assigned when extraction omits or mangles the
// importance score.
const DefaultImportance = 0.5

// RawContextLimit caps the stored conversation snippet. The snippet is
// kept for traceability only and is never re-derived from.
const RawContextLimit = 500

// Episode is one structured record summarizing a finished conversation
// session. Every stored episode carries exactly one journal label,
// embedded in Tags. Episodes are immutable once stored.
type Episode struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	Story        string    `json:"story"`
	Emotion      Emotion   `json:"emotion,omitempty"` // empty = not detected
	KeyEntities  []string  `json:"key_entities,omitempty"`
	UserIntent   string    `json:"user_intent,omitempty"`
	Importance   float64   `json:"importance"`
	Tags         []string  `json:"tags"`
	JournalLabel string    `json:"journal_label,omitempty"`
	RawContext   string    `json:"raw_context,omitempty"`
}

// Payload flattens the episode for storage: enum as its string value,
// timestamp as numeric epoch seconds.
func (e *Episode) Payload() map[string]interface{} {
	return map[string]interface{}{
		"story":         e.Story,
		"emotion":       string(e.Emotion),
		"key_entities":  e.KeyEntities,
		"user_intent":   e.UserIntent,
		"importance":    e.Importance,
		"tags":          e.Tags,
		"journal_label": e.JournalLabel,
		"timestamp":     float64(e.Timestamp.Unix()),
		"raw_context":   e.RawContext,
	}
}

// EpisodeFromPayload rebuilds an episode from a stored payload.
// Parsing is tolerant: missing or oddly typed fields fall back to
// zero values so one malformed record never poisons a retrieval.
func EpisodeFromPayload(id string, p map[string]interface{}) *Episode {
	ep := &Episode{
		ID:           id,
		Story:        payloadString(p, "story"),
		KeyEntities:  payloadStrings(p, "key_entities"),
		UserIntent:   payloadString(p, "user_intent"),
		Importance:   payloadFloat(p, "importance", DefaultImportance),
		Tags:         payloadStrings(p, "tags"),
		JournalLabel: payloadString(p, "journal_label"),
		RawContext:   payloadString(p, "raw_context"),
	}
	if emo, ok := ParseEmotion(payloadString(p, "emotion")); ok {
		ep.Emotion = emo
	}
	if ts := payloadFloat(p, "timestamp", 0); ts > 0 {
		ep.Timestamp = time.Unix(int64(ts), 0)
	}
	return ep
}

// ClampImportance coerces an extracted importance score into [0,1].
func ClampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Truncate shortens s to at most max bytes.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// payload readers shared by the episodic and semantic codecs. Stored
// payloads round-trip through JSON in some stores, so numbers arrive
// as float64 and lists as []interface{}.

func payloadString(p map[string]interface{}, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func payloadFloat(p map[string]interface{}, key string, fallback float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return fallback
}

func payloadStrings(p map[string]interface{}, key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
