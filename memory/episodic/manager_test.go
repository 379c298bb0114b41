package episodic_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/becomeliminal/recall/core"
	"github.com/becomeliminal/recall/llm"
	"github.com/becomeliminal/recall/memory"
	"github.com/becomeliminal/recall/memory/embedder/mock"
	"github.com/becomeliminal/recall/memory/episodic"
	"github.com/becomeliminal/recall/memory/store/chromem"
)

// scriptedGenerator returns canned replies in order, tracking prompts.
type scriptedGenerator struct {
	mu      sync.Mutex
	replies []string
	prompts []string
}

func (g *scriptedGenerator) Generate(ctx context.Context, messages []core.Message, temperature float32) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, messages[len(messages)-1].Content)
	if len(g.replies) == 0 {
		return "", fmt.Errorf("no scripted reply left")
	}
	reply := g.replies[0]
	g.replies = g.replies[1:]
	return reply, nil
}

func (g *scriptedGenerator) lastPrompt() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return ""
	}
	return g.prompts[len(g.prompts)-1]
}

func newManager(t *testing.T, gen llm.Generator) (*episodic.Manager, memory.Store) {
	t.Helper()
	store, err := chromem.New()
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	embedder := mock.NewWithDimensions(64)
	return episodic.NewManager(store, embedder, gen, nil), store
}

func TestCreateEpisode(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGenerator{replies: []string{
		`"Career Growth"`,
		`{"story": "The user landed a new role and felt thrilled about it.", "emotion": "excited", "key_entities": ["new role"], "user_intent": "Share the news", "importance": 0.9}`,
	}}
	manager, store := newManager(t, gen)

	conversation := "user: I got the offer!\nassistant: Congratulations!\n"
	episode := manager.CreateEpisode(ctx, conversation)

	if episode.Story == "" {
		t.Fatal("episode has empty story")
	}
	if episode.JournalLabel != "Career Growth" {
		t.Errorf("JournalLabel = %q, want %q", episode.JournalLabel, "Career Growth")
	}
	if len(episode.Tags) != 1 || episode.Tags[0] != "Career Growth" {
		t.Errorf("Tags = %v, want the journal label embedded", episode.Tags)
	}
	if episode.Emotion != memory.EmotionExcited {
		t.Errorf("Emotion = %q, want excited", episode.Emotion)
	}
	if episode.Importance != 0.9 {
		t.Errorf("Importance = %v, want 0.9", episode.Importance)
	}
	if episode.RawContext != conversation {
		t.Errorf("RawContext = %q", episode.RawContext)
	}

	count, err := store.Count(ctx, memory.EpisodicCollection)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("stored count = %d, want 1", count)
	}
}

func TestCreateEpisodeFallback(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGenerator{replies: []string{
		"Career Growth",
		"this is not json at all",
	}}
	manager, store := newManager(t, gen)

	conversation := strings.Repeat("user: something happened today. ", 20)
	episode := manager.CreateEpisode(ctx, conversation)

	if episode.Story == "" {
		t.Fatal("fallback episode has empty story")
	}
	if len(episode.Story) > 210 {
		t.Errorf("fallback story too long: %d chars", len(episode.Story))
	}
	if episode.Importance != 0.3 {
		t.Errorf("Importance = %v, want 0.3", episode.Importance)
	}
	if len(episode.Tags) != 1 || episode.Tags[0] != "auto-generated" {
		t.Errorf("Tags = %v, want [auto-generated]", episode.Tags)
	}
	if episode.JournalLabel != "" {
		t.Errorf("JournalLabel = %q, want empty on fallback", episode.JournalLabel)
	}
	if episode.Importance < 0 || episode.Importance > 1 {
		t.Errorf("Importance %v out of range", episode.Importance)
	}

	count, _ := store.Count(ctx, memory.EpisodicCollection)
	if count != 0 {
		t.Errorf("fallback episode must not be stored, count = %d", count)
	}
}

func TestCreateEpisodeClampsImportance(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGenerator{replies: []string{
		"General Journal",
		`{"story": "A quiet check-in about the week.", "emotion": "neutral", "importance": 3.5}`,
	}}
	manager, _ := newManager(t, gen)

	episode := manager.CreateEpisode(ctx, "user: just checking in\n")
	if episode.Importance != 1.0 {
		t.Errorf("Importance = %v, want clamped to 1.0", episode.Importance)
	}
}

func TestResolveLabelPresentsExistingLabels(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGenerator{replies: []string{
		"Career Growth",
		`{"story": "The user talked about a promotion discussion.", "emotion": "proud", "importance": 0.7}`,
		// Second resolution: the model reuses the existing label.
		"Career Growth",
	}}
	manager, _ := newManager(t, gen)

	manager.CreateEpisode(ctx, "user: my manager hinted at a promotion\n")

	label := manager.ResolveLabel(ctx, "user: more promotion talk today\n")
	if label != "Career Growth" {
		t.Errorf("label = %q, want reused %q", label, "Career Growth")
	}
	if !strings.Contains(gen.lastPrompt(), "- Career Growth") {
		t.Error("existing label was not presented to the arbitration prompt")
	}
}

func TestResolveLabelFallback(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGenerator{} // no replies: every call errors
	manager, _ := newManager(t, gen)

	label := manager.ResolveLabel(ctx, "user: hello\n")
	if label != "General Journal" {
		t.Errorf("label = %q, want fallback", label)
	}
}

func TestSearchImportanceFilterMonotonic(t *testing.T) {
	ctx := context.Background()
	manager, store := newManager(t, &scriptedGenerator{})
	embedder := mock.NewWithDimensions(64)

	importances := []float64{0.1, 0.4, 0.6, 0.9}
	for i, imp := range importances {
		ep := &memory.Episode{
			ID:         fmt.Sprintf("ep-%d", i),
			Story:      fmt.Sprintf("Episode number %d about daily life.", i),
			Importance: imp,
			Tags:       []string{"General Journal"},
		}
		vec, _ := embedder.Embed(ctx, ep.Story)
		if err := store.Upsert(ctx, memory.EpisodicCollection, ep.ID, vec, ep.Payload()); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	prev := -1
	for _, floor := range []float64{0.0, 0.3, 0.5, 0.8, 1.0} {
		results, err := manager.Search(ctx, "daily life", 10, floor)
		if err != nil {
			t.Fatalf("Search(minImportance=%v): %v", floor, err)
		}
		for _, ep := range results {
			if ep.Importance < floor {
				t.Errorf("episode %s importance %v below floor %v", ep.ID, ep.Importance, floor)
			}
		}
		if prev >= 0 && len(results) > prev {
			t.Errorf("raising the floor to %v grew the result set: %d > %d", floor, len(results), prev)
		}
		prev = len(results)
	}
}

func TestSearchEmptyQueryScansByImportance(t *testing.T) {
	ctx := context.Background()
	manager, store := newManager(t, &scriptedGenerator{})
	embedder := mock.NewWithDimensions(64)

	for i, imp := range []float64{0.9, 0.2, 0.85} {
		ep := &memory.Episode{
			ID:         fmt.Sprintf("ep-%d", i),
			Story:      fmt.Sprintf("Story %d", i),
			Importance: imp,
		}
		vec, _ := embedder.Embed(ctx, ep.Story)
		if err := store.Upsert(ctx, memory.EpisodicCollection, ep.ID, vec, ep.Payload()); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	results, err := manager.Search(ctx, "", 10, 0.8)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d episodes, want 2 high-importance ones", len(results))
	}
	// Empty-query results come back in insertion order.
	if results[0].ID != "ep-0" || results[1].ID != "ep-2" {
		t.Errorf("order = %s, %s", results[0].ID, results[1].ID)
	}
}

func TestRoundTripTopHit(t *testing.T) {
	ctx := context.Background()
	gen := &scriptedGenerator{replies: []string{
		"Pet Stories",
		`{"story": "The user adopted a cat named Miso and could not stop talking about it.", "emotion": "happy", "importance": 0.8}`,
	}}
	manager, _ := newManager(t, gen)

	episode := manager.CreateEpisode(ctx, "user: I adopted a cat!\n")

	// Searching with the stored story text embeds to the identical
	// vector, so the episode must come back as the top hit.
	results, err := manager.Search(ctx, episode.Story, 5, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no results")
	}
	if results[0].ID != episode.ID {
		t.Errorf("top hit = %s, want %s", results[0].ID, episode.ID)
	}
}
