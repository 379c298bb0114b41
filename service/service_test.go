package service_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/becomeliminal/recall/core"
	"github.com/becomeliminal/recall/memory"
	"github.com/becomeliminal/recall/memory/embedder/mock"
	"github.com/becomeliminal/recall/memory/store/chromem"
	"github.com/becomeliminal/recall/service"
)

// stubGenerator routes replies by prompt kind and records the last
// message list it saw.
type stubGenerator struct {
	mu   sync.Mutex
	last []core.Message
}

func (g *stubGenerator) Generate(ctx context.Context, messages []core.Message, temperature float32) (string, error) {
	g.mu.Lock()
	g.last = messages
	g.mu.Unlock()

	prompt := messages[len(messages)-1].Content
	switch {
	case strings.Contains(prompt, "journal label"):
		return "Life Updates", nil
	case strings.Contains(prompt, "episodic memory details"):
		return `{"story": "The user shared a happy life update.", "emotion": "happy", "importance": 0.6}`, nil
	case strings.Contains(prompt, "extract semantic memories"):
		return `[{"type": "fact", "content": "The user enjoys sharing updates.", "confidence": 0.8, "tags": ["habits"]}]`, nil
	default:
		return "Sounds great!", nil
	}
}

func (g *stubGenerator) lastMessages() []core.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last
}

func newService(t *testing.T) (*service.Service, memory.Store, *stubGenerator) {
	t.Helper()
	store, err := chromem.New()
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	gen := &stubGenerator{}
	svc := service.New(store, mock.NewWithDimensions(64), gen, nil)
	if err := svc.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return svc, store, gen
}

func seedEpisode(t *testing.T, store memory.Store, ep *memory.Episode) {
	t.Helper()
	vec, err := mock.NewWithDimensions(64).Embed(context.Background(), ep.Story)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if err := store.Upsert(context.Background(), memory.EpisodicCollection, ep.ID, vec, ep.Payload()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
}

func TestChatRepliesAndBuffersTurns(t *testing.T) {
	svc, _, _ := newService(t)

	result, err := svc.Chat(context.Background(), "user1", "I got a puppy!", nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if result.Reply != "Sounds great!" {
		t.Errorf("Reply = %q", result.Reply)
	}
	if result.EpisodeID != "" {
		t.Errorf("EpisodeID = %q, want empty until idle flush", result.EpisodeID)
	}
	if n := svc.Sessions().BufferedTurns("user1"); n != 2 {
		t.Errorf("buffered turns = %d, want user + assistant", n)
	}
}

func TestChatRejectsEmptyMessage(t *testing.T) {
	svc, _, _ := newService(t)
	if _, err := svc.Chat(context.Background(), "user1", "   ", nil); err == nil {
		t.Error("expected error for empty message")
	}
}

func TestChatInjectsSemanticContext(t *testing.T) {
	svc, store, gen := newService(t)
	ctx := context.Background()

	mem := &memory.SemanticMemory{
		ID:         "sm-1",
		Type:       memory.SemanticFact,
		Content:    "The user is training for a marathon.",
		Confidence: 0.9,
	}
	vec, _ := mock.NewWithDimensions(64).Embed(ctx, mem.Content)
	if err := store.Upsert(ctx, memory.SemanticCollection, mem.ID, vec, mem.Payload()); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	if _, err := svc.Chat(ctx, "user1", "how should I plan my week?", nil); err != nil {
		t.Fatalf("Chat: %v", err)
	}

	messages := gen.lastMessages()
	if len(messages) == 0 || messages[0].Role != core.RoleSystem {
		t.Fatal("first message is not the system prompt")
	}
	if !strings.Contains(messages[0].Content, "training for a marathon") {
		t.Error("semantic context not injected into system prompt")
	}
	if !strings.Contains(messages[0].Content, "Use these facts naturally") {
		t.Error("missing usage instruction after semantic context")
	}
}

func TestStoreEpisodeAndSearch(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	result, err := svc.StoreEpisode(ctx, "I got a promotion today!", "Congratulations!", nil)
	if err != nil {
		t.Fatalf("StoreEpisode: %v", err)
	}
	if result.Status != "success" {
		t.Errorf("Status = %q, want success", result.Status)
	}
	if result.EpisodeID == "" {
		t.Error("empty episode id")
	}
	if result.Story == "" {
		t.Error("empty story")
	}
	if result.Emotion != "happy" {
		t.Errorf("Emotion = %q", result.Emotion)
	}

	episodes, err := svc.SearchEpisodes(ctx, result.Story, 5, 0)
	if err != nil {
		t.Fatalf("SearchEpisodes: %v", err)
	}
	if len(episodes) == 0 || episodes[0].ID != result.EpisodeID {
		t.Errorf("stored episode not found as top hit: %v", episodes)
	}
}

func TestExtractSemanticEndToEnd(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seedEpisode(t, store, &memory.Episode{
			ID:        fmt.Sprintf("ep-%d", i),
			Timestamp: time.Now(),
			Story:     fmt.Sprintf("The user shared update %d.", i),
		})
	}

	result := svc.ExtractSemantic(ctx, 3, 7)
	if result.Status != "success" {
		t.Fatalf("Status = %q, want success", result.Status)
	}
	if result.ExtractedCount != 1 {
		t.Errorf("ExtractedCount = %d, want 1", result.ExtractedCount)
	}

	memories, err := svc.SearchSemantic(ctx, "sharing updates", 5, 0.5)
	if err != nil {
		t.Fatalf("SearchSemantic: %v", err)
	}
	if len(memories) != 1 {
		t.Errorf("got %d semantic memories, want 1", len(memories))
	}
}

func TestExtractSemanticInsufficientData(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		seedEpisode(t, store, &memory.Episode{
			ID:        fmt.Sprintf("ep-%d", i),
			Timestamp: time.Now(),
			Story:     fmt.Sprintf("Entry %d", i),
		})
	}

	result := svc.ExtractSemantic(ctx, 10, 30)
	if result.Status != "insufficient_data" {
		t.Errorf("Status = %q, want insufficient_data", result.Status)
	}
	if result.ExtractedCount != 0 {
		t.Errorf("ExtractedCount = %d, want 0", result.ExtractedCount)
	}
}

func TestAssembleWorkingMemory(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	seedEpisode(t, store, &memory.Episode{
		ID:         "ep-1",
		Timestamp:  time.Now(),
		Story:      "The user finished a big project at work.",
		Importance: 0.7,
	})

	result, err := svc.AssembleWorkingMemory(ctx, "big project", 5, 5)
	if err != nil {
		t.Fatalf("AssembleWorkingMemory: %v", err)
	}
	if result.EpisodicCount != 1 {
		t.Errorf("EpisodicCount = %d, want 1", result.EpisodicCount)
	}
	if !strings.Contains(result.Context, "RELEVANT PAST CONVERSATIONS") {
		t.Errorf("Context = %q", result.Context)
	}
}

func TestStats(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	seedEpisode(t, store, &memory.Episode{
		ID: "ep-old", Timestamp: time.Now().AddDate(0, 0, -60),
		Story: "An old memory.", Importance: 0.9,
	})
	seedEpisode(t, store, &memory.Episode{
		ID: "ep-new", Timestamp: time.Now(),
		Story: "A fresh memory.", Importance: 0.5,
	})

	stats, err := svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalEpisodes != 2 {
		t.Errorf("TotalEpisodes = %d, want 2", stats.TotalEpisodes)
	}
	if stats.RecentEpisodes30d != 1 {
		t.Errorf("RecentEpisodes30d = %d, want 1", stats.RecentEpisodes30d)
	}
	if stats.HighImportanceEpisodes != 1 {
		t.Errorf("HighImportanceEpisodes = %d, want 1", stats.HighImportanceEpisodes)
	}
}

func TestJournalsGrouping(t *testing.T) {
	svc, store, _ := newService(t)
	ctx := context.Background()

	seedEpisode(t, store, &memory.Episode{
		ID: "ep-1", Timestamp: time.Now().Add(-2 * time.Hour),
		Story: "First career chat.", JournalLabel: "Career Growth",
	})
	seedEpisode(t, store, &memory.Episode{
		ID: "ep-2", Timestamp: time.Now(),
		Story: "Second career chat.", JournalLabel: "Career Growth",
	})
	seedEpisode(t, store, &memory.Episode{
		ID: "ep-3", Timestamp: time.Now(),
		Story: "A chat about cooking.", JournalLabel: "Cooking Adventures",
	})

	result, err := svc.Journals(ctx)
	if err != nil {
		t.Fatalf("Journals: %v", err)
	}
	if result.TotalJournals != 2 {
		t.Fatalf("TotalJournals = %d, want 2", result.TotalJournals)
	}
	// Biggest journal first.
	if result.Journals[0].Label != "Career Growth" || result.Journals[0].EntryCount != 2 {
		t.Errorf("first journal = %+v", result.Journals[0])
	}
	// Entries newest first within a journal.
	if result.Journals[0].Entries[0].ID != "ep-2" {
		t.Errorf("first entry = %s, want ep-2", result.Journals[0].Entries[0].ID)
	}
}

func TestReflectAgentRouting(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	cases := []struct {
		query string
		want  string
	}{
		{"help me write resume bullet points for this role", service.AgentResume},
		{"talking points for my year-end review with my manager", service.AgentMeeting},
		{"how have I grown over the last few months?", service.AgentPersonal},
	}
	for _, c := range cases {
		result, err := svc.Reflect(ctx, c.query)
		if err != nil {
			t.Fatalf("Reflect(%q): %v", c.query, err)
		}
		if result.AgentType != c.want {
			t.Errorf("Reflect(%q) agent = %q, want %q", c.query, result.AgentType, c.want)
		}
		if result.Response == "" {
			t.Errorf("Reflect(%q) empty response", c.query)
		}
	}
}
