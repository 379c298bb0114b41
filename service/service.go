// Package service exposes the memory lifecycle operations consumed by
// the HTTP layer: chat with memory-backed context, manual episode
// storage and search, semantic extraction, working memory assembly,
// journals, reflection, and stats.
package service

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/becomeliminal/recall/core"
	"github.com/becomeliminal/recall/llm"
	"github.com/becomeliminal/recall/memory"
	"github.com/becomeliminal/recall/memory/episodic"
	"github.com/becomeliminal/recall/memory/semantic"
	"github.com/becomeliminal/recall/memory/session"
	"github.com/becomeliminal/recall/memory/working"
)

// DefaultSystemPrompt is the conversational persona used when the
// config does not supply one.
const DefaultSystemPrompt = `You are a warm, attentive companion who listens closely and remembers what matters to the user. Encourage them to share more, respond to the emotion behind their words, and keep replies short and conversational.`

// Config holds service configuration.
type Config struct {
	// SystemPrompt is the base chat persona. Default: DefaultSystemPrompt.
	SystemPrompt string

	// SemanticContextLimit caps semantic memories injected into the
	// chat system prompt. Default: 10.
	SemanticContextLimit int

	// Episodic, Semantic, Working, and Session override the
	// sub-component configs; nil uses their defaults.
	Episodic *episodic.Config
	Semantic *semantic.Config
	Working  *working.Config
	Session  *session.Config
}

// Service wires the memory managers behind one operation surface.
type Service struct {
	store     memory.Store
	embedder  memory.Embedder
	generator llm.Generator

	episodes  *episodic.Manager
	distiller *semantic.Distiller
	assembler *working.Assembler
	sessions  *session.Coordinator

	config *Config
}

// New creates the service and its managers.
func New(store memory.Store, embedder memory.Embedder, generator llm.Generator, config *Config) *Service {
	if config == nil {
		config = &Config{}
	}
	if config.SystemPrompt == "" {
		config.SystemPrompt = DefaultSystemPrompt
	}
	if config.SemanticContextLimit <= 0 {
		config.SemanticContextLimit = 10
	}

	episodes := episodic.NewManager(store, embedder, generator, config.Episodic)
	distiller := semantic.NewDistiller(store, embedder, generator, config.Semantic)

	return &Service{
		store:     store,
		embedder:  embedder,
		generator: generator,
		episodes:  episodes,
		distiller: distiller,
		assembler: working.NewAssembler(episodes, distiller, config.Working),
		sessions:  session.NewCoordinator(episodes, distiller, config.Session),
		config:    config,
	}
}

// Init ensures both collections exist. Safe to call on every startup.
func (s *Service) Init(ctx context.Context) error {
	dims := s.embedder.Dimensions()
	if err := s.store.EnsureCollection(ctx, memory.EpisodicCollection, dims, memory.MetricCosine); err != nil {
		return fmt.Errorf("ensure episodic collection: %w", err)
	}
	if err := s.store.EnsureCollection(ctx, memory.SemanticCollection, dims, memory.MetricCosine); err != nil {
		return fmt.Errorf("ensure semantic collection: %w", err)
	}
	return nil
}

// Start runs the session eviction loop.
func (s *Service) Start() {
	s.sessions.Start()
}

// Stop flushes pending sessions and halts background work.
func (s *Service) Stop() {
	s.sessions.Stop()
}

// Sessions exposes the coordinator for transports that feed turns
// directly.
func (s *Service) Sessions() *session.Coordinator {
	return s.sessions
}

// ChatResult is the reply for one conversational turn.
type ChatResult struct {
	Reply string `json:"reply"`
	// EpisodeID stays empty; the episode is created later, when the
	// user goes idle.
	EpisodeID string `json:"episode_id,omitempty"`
}

// Chat produces a reply for one user turn. Semantic context is blended
// into the system prompt when available, and the turn is buffered for
// eventual episodic storage. Memory failures degrade silently: the
// reply is never blocked by the memory subsystem.
func (s *Service) Chat(ctx context.Context, userID, message string, history []core.Message) (*ChatResult, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, fmt.Errorf("empty message")
	}

	systemPrompt := s.config.SystemPrompt
	if semanticContext := s.distiller.Context(ctx, s.config.SemanticContextLimit); semanticContext != "" {
		systemPrompt += "\n\n" + semanticContext + "\n\nUse these facts naturally in your responses when relevant."
	}

	messages := make([]core.Message, 0, len(history)+2)
	messages = append(messages, core.SystemMessage(systemPrompt))
	messages = append(messages, history...)
	messages = append(messages, core.UserMessage(message))

	reply, err := s.generator.Generate(ctx, messages, 0.7)
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}
	reply = strings.TrimSpace(reply)

	s.sessions.OnMessage(userID, core.RoleUser, message)
	s.sessions.OnMessage(userID, core.RoleAssistant, reply)

	return &ChatResult{Reply: reply}, nil
}

// StoreEpisodeResult reports a manual episode store.
type StoreEpisodeResult struct {
	Status     string  `json:"status"`
	EpisodeID  string  `json:"episode_id"`
	Story      string  `json:"story"`
	Importance float64 `json:"importance"`
	Emotion    string  `json:"emotion,omitempty"`
}

// StoreEpisode stores one interaction as an episode immediately,
// bypassing the idle timer. The status is "fallback" when the
// extraction pipeline degraded to a minimal episode.
func (s *Service) StoreEpisode(ctx context.Context, userMessage, assistantResponse string, history []core.Message) (*StoreEpisodeResult, error) {
	if strings.TrimSpace(userMessage) == "" {
		return nil, fmt.Errorf("empty user message")
	}

	var b strings.Builder
	for _, msg := range history {
		fmt.Fprintf(&b, "%s: %s\n", msg.Role, msg.Content)
	}
	fmt.Fprintf(&b, "%s: %s\n", core.RoleUser, userMessage)
	if assistantResponse != "" {
		fmt.Fprintf(&b, "%s: %s\n", core.RoleAssistant, assistantResponse)
	}

	episode := s.episodes.CreateEpisode(ctx, b.String())

	status := "success"
	for _, tag := range episode.Tags {
		if tag == "auto-generated" {
			status = "fallback"
		}
	}

	return &StoreEpisodeResult{
		Status:     status,
		EpisodeID:  episode.ID,
		Story:      episode.Story,
		Importance: episode.Importance,
		Emotion:    string(episode.Emotion),
	}, nil
}

// SearchEpisodes retrieves episodes by similarity with an importance
// floor.
func (s *Service) SearchEpisodes(ctx context.Context, query string, limit int, minImportance float64) ([]*memory.Episode, error) {
	if limit <= 0 {
		limit = 5
	}
	return s.episodes.Search(ctx, query, limit, minImportance)
}

// ExtractSemanticResult reports an extraction run.
type ExtractSemanticResult struct {
	Status         string                   `json:"status"`
	ExtractedCount int                      `json:"extracted_count"`
	Items          []*memory.SemanticMemory `json:"items"`
}

// ExtractSemantic triggers a semantic extraction run.
func (s *Service) ExtractSemantic(ctx context.Context, minEpisodes, lookbackDays int) *ExtractSemanticResult {
	if minEpisodes <= 0 {
		minEpisodes = 3
	}
	if lookbackDays <= 0 {
		lookbackDays = 30
	}
	result := s.distiller.RunExtraction(ctx, minEpisodes, lookbackDays)
	return &ExtractSemanticResult{
		Status:         result.Status,
		ExtractedCount: len(result.Items),
		Items:          result.Items,
	}
}

// SearchSemantic retrieves semantic memories by similarity with a
// confidence floor.
func (s *Service) SearchSemantic(ctx context.Context, query string, limit int, minConfidence float64) ([]*memory.SemanticMemory, error) {
	if limit <= 0 {
		limit = 5
	}
	return s.distiller.Search(ctx, query, limit, minConfidence)
}

// WorkingMemoryResult shows what context would be injected for a query.
type WorkingMemoryResult struct {
	EpisodicCount int                      `json:"episodic_count"`
	SemanticCount int                      `json:"semantic_count"`
	Context       string                   `json:"context"`
	Episodes      []*memory.Episode        `json:"episodic_memories"`
	Facts         []*memory.SemanticMemory `json:"semantic_facts"`
}

// AssembleWorkingMemory builds the ranked context blend for a query.
func (s *Service) AssembleWorkingMemory(ctx context.Context, query string, episodicLimit, semanticLimit int) (*WorkingMemoryResult, error) {
	wm, err := s.assembler.Assemble(ctx, query, episodicLimit, semanticLimit)
	if err != nil {
		return nil, err
	}
	return &WorkingMemoryResult{
		EpisodicCount: len(wm.Episodes),
		SemanticCount: len(wm.Facts),
		Context:       wm.ContextString(),
		Episodes:      wm.Episodes,
		Facts:         wm.Facts,
	}, nil
}

// StatsResult summarizes stored memory.
type StatsResult struct {
	TotalEpisodes          int64 `json:"total_episodes"`
	TotalSemantic          int64 `json:"total_semantic"`
	RecentEpisodes30d      int   `json:"recent_episodes_30d"`
	HighImportanceEpisodes int   `json:"high_importance_episodes"`
}

// Stats returns collection counts plus two derived views: episodes
// from the last 30 days and episodes with importance >= 0.8.
func (s *Service) Stats(ctx context.Context) (*StatsResult, error) {
	totalEpisodes, err := s.episodes.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count episodes: %w", err)
	}
	totalSemantic, err := s.distiller.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count semantic memories: %w", err)
	}

	recent, err := s.episodes.Recent(ctx, 30, 0)
	if err != nil {
		return nil, fmt.Errorf("recent episodes: %w", err)
	}
	highImportance, err := s.episodes.Search(ctx, "", 100, 0.8)
	if err != nil {
		return nil, fmt.Errorf("high-importance episodes: %w", err)
	}

	return &StatsResult{
		TotalEpisodes:          totalEpisodes,
		TotalSemantic:          totalSemantic,
		RecentEpisodes30d:      len(recent),
		HighImportanceEpisodes: len(highImportance),
	}, nil
}

// JournalEntry is one episode as shown inside a journal.
type JournalEntry struct {
	ID         string  `json:"id"`
	Story      string  `json:"story"`
	Emotion    string  `json:"emotion,omitempty"`
	Timestamp  float64 `json:"timestamp"`
	Importance float64 `json:"importance"`
}

// Journal groups episodes under one label.
type Journal struct {
	Label      string         `json:"label"`
	Entries    []JournalEntry `json:"entries"`
	EntryCount int            `json:"entry_count"`
}

// JournalsResult lists all journals.
type JournalsResult struct {
	Journals      []Journal `json:"journals"`
	TotalJournals int       `json:"total_journals"`
}

// Journals groups every stored episode by journal label. Entries are
// newest first within a journal; journals are ordered by entry count.
func (s *Service) Journals(ctx context.Context) (*JournalsResult, error) {
	episodes, err := s.episodes.All(ctx)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]JournalEntry)
	for _, ep := range episodes {
		label := ep.JournalLabel
		if label == "" {
			label = "Uncategorized"
		}
		grouped[label] = append(grouped[label], JournalEntry{
			ID:         ep.ID,
			Story:      ep.Story,
			Emotion:    string(ep.Emotion),
			Timestamp:  float64(ep.Timestamp.Unix()),
			Importance: ep.Importance,
		})
	}

	journals := make([]Journal, 0, len(grouped))
	for label, entries := range grouped {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].Timestamp > entries[j].Timestamp
		})
		journals = append(journals, Journal{
			Label:      label,
			Entries:    entries,
			EntryCount: len(entries),
		})
	}
	sort.Slice(journals, func(i, j int) bool {
		if journals[i].EntryCount != journals[j].EntryCount {
			return journals[i].EntryCount > journals[j].EntryCount
		}
		return journals[i].Label < journals[j].Label
	})

	return &JournalsResult{Journals: journals, TotalJournals: len(journals)}, nil
}

// ReflectResult is the output of one reflection request.
type ReflectResult struct {
	Response  string `json:"response"`
	AgentType string `json:"agent_type"`
}

// Reflection agent types.
const (
	AgentPersonal = "personal"
	AgentMeeting  = "meeting"
	AgentResume   = "resume"
)

var resumeKeywords = []string{"resume", "bullet", "job", "application", "cv", "skills required", "position", "role requiring"}
var meetingKeywords = []string{"meeting", "manager", "year-end", "review", "talking points", "1:1", "performance", "update"}

// detectAgentType routes a reflection query to one of the specialized
// agents by keyword.
func detectAgentType(query string) string {
	lower := strings.ToLower(query)
	for _, kw := range resumeKeywords {
		if strings.Contains(lower, kw) {
			return AgentResume
		}
	}
	for _, kw := range meetingKeywords {
		if strings.Contains(lower, kw) {
			return AgentMeeting
		}
	}
	return AgentPersonal
}

const personalReflectFormat = `You are a personal reflection coach. Analyze the user's journey and provide deep, meaningful insights.

User's Question: %s

Relevant Conversations:
%s

Provide a thoughtful, empathetic reflection that:
- Identifies patterns in their journey
- Highlights growth and progress
- Addresses their specific question
- Offers perspective on alignment with goals
- Uses a warm, supportive tone

Format as flowing paragraphs, not bullet points.`

const meetingReflectFormat = `You are a professional career advisor preparing talking points for a work meeting.

User's Request: %s

Relevant Work Context:
%s

Generate professional talking points that:
- Highlight key achievements and contributions
- Show measurable impact where possible
- Are concise and meeting-appropriate
- Focus on value delivered
- Use professional language

Format as clear bullet points with strong action verbs.`

const resumeReflectFormat = `You are an expert resume writer. Create compelling, ATS-friendly bullet points.

User's Request: %s

Relevant Experience:
%s

Generate 5-7 resume bullet points that:
- Start with strong action verbs
- Include measurable results/impact
- Align with the skills/role mentioned
- Are ATS-optimized
- Follow this format: "Action verb + what you did + measurable result/impact"

Format as bullet points only, ready to copy-paste.`

// Reflect answers a reflection query grounded in the user's stored
// episodes, routed to a personal, meeting, or resume agent.
func (s *Service) Reflect(ctx context.Context, query string) (*ReflectResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("empty query")
	}

	agentType := detectAgentType(query)

	episodes, err := s.episodes.Search(ctx, query, 20, 0)
	if err != nil {
		log.Printf("[SERVICE] Reflection retrieval failed: %v", err)
	}

	contextText := "No previous conversations found. This is a fresh start!"
	if len(episodes) > 0 {
		var lines []string
		for _, ep := range episodes {
			line := "- " + ep.Story
			if ep.Emotion != "" {
				line += fmt.Sprintf(" [%s]", ep.Emotion)
			}
			line += fmt.Sprintf(" [Tags: %s]", strings.Join(ep.Tags, ", "))
			lines = append(lines, line)
		}
		contextText = strings.Join(lines, "\n")
	}

	var prompt string
	switch agentType {
	case AgentResume:
		prompt = fmt.Sprintf(resumeReflectFormat, query, contextText)
	case AgentMeeting:
		prompt = fmt.Sprintf(meetingReflectFormat, query, contextText)
	default:
		prompt = fmt.Sprintf(personalReflectFormat, query, contextText)
	}

	response, err := s.generator.Generate(ctx, []core.Message{core.UserMessage(prompt)}, 0.7)
	if err != nil {
		return nil, fmt.Errorf("reflection call: %w", err)
	}

	return &ReflectResult{
		Response:  strings.TrimSpace(response),
		AgentType: agentType,
	}, nil
}
