package memory

import (
	"fmt"
	"strings"
)

// WorkingMemory is the ephemeral context blend assembled for one
// conversational turn: the top episodic and semantic hits for a query,
// each with a rank-derived relevance score. It exists only for the
// duration of one assembly call and is never persisted.
type WorkingMemory struct {
	Episodes        []*Episode         `json:"episodic_memories"`
	Facts           []*SemanticMemory  `json:"semantic_facts"`
	RelevanceScores map[string]float64 `json:"relevance_scores"`
}

// ContextString renders the working memory into the text block
// injected into a conversation prompt. Episodes are listed in rank
// order, not re-sorted by time.
func (w *WorkingMemory) ContextString() string {
	var parts []string

	if len(w.Facts) > 0 {
		parts = append(parts, "=== WHAT I KNOW ABOUT YOU ===")
		for _, fact := range w.Facts {
			parts = append(parts, fmt.Sprintf("• %s", fact.Content))
		}
	}

	if len(w.Episodes) > 0 {
		parts = append(parts, "\n=== RELEVANT PAST CONVERSATIONS ===")
		for _, ep := range w.Episodes {
			date := ep.Timestamp.Format("Jan 02, 2006")
			emotion := ""
			if ep.Emotion != "" {
				emotion = fmt.Sprintf(" [%s]", ep.Emotion)
			}
			parts = append(parts, fmt.Sprintf("• %s%s: %s", date, emotion, ep.Story))
		}
	}

	return strings.Join(parts, "\n")
}
