// Package working assembles the ephemeral context blend injected into
// a conversation turn: top episodic and semantic hits for a query,
// merged under one rank-based relevance scoring.
package working

import (
	"context"
	"fmt"

	"github.com/becomeliminal/recall/memory"
	"github.com/becomeliminal/recall/memory/episodic"
	"github.com/becomeliminal/recall/memory/semantic"
)

// Config holds assembler configuration.
type Config struct {
	// EpisodicLimit caps retrieved episodes per assembly. Default: 5.
	EpisodicLimit int

	// SemanticLimit caps retrieved semantic facts. Default: 5.
	SemanticLimit int

	// MinImportance filters episodes below this importance. Default: 0.3.
	MinImportance float64

	// MinConfidence filters semantic facts below this confidence.
	// Default: 0.6.
	MinConfidence float64
}

// DefaultConfig returns sensible defaults.
var DefaultConfig = &Config{
	EpisodicLimit: 5,
	SemanticLimit: 5,
	MinImportance: 0.3,
	MinConfidence: 0.6,
}

// Assembler builds working memory from the two retrieval tiers.
type Assembler struct {
	episodes *episodic.Manager
	facts    *semantic.Distiller
	config   *Config
}

// NewAssembler creates a working memory assembler.
func NewAssembler(episodes *episodic.Manager, facts *semantic.Distiller, config *Config) *Assembler {
	if config == nil {
		config = DefaultConfig
	}
	if config.EpisodicLimit <= 0 {
		config.EpisodicLimit = 5
	}
	if config.SemanticLimit <= 0 {
		config.SemanticLimit = 5
	}
	return &Assembler{
		episodes: episodes,
		facts:    facts,
		config:   config,
	}
}

// Assemble retrieves the top episodic and semantic records for a query
// and scores them by rank position: the item at rank i in a list of
// length N gets 1.0 - i/max(N,1), so the best hit scores exactly 1.0
// and scores decay linearly toward the tail. The score is a
// presentation heuristic, not the raw similarity.
func (a *Assembler) Assemble(ctx context.Context, query string, episodicLimit, semanticLimit int) (*memory.WorkingMemory, error) {
	if episodicLimit <= 0 {
		episodicLimit = a.config.EpisodicLimit
	}
	if semanticLimit <= 0 {
		semanticLimit = a.config.SemanticLimit
	}

	episodes, err := a.episodes.Search(ctx, query, episodicLimit, a.config.MinImportance)
	if err != nil {
		return nil, fmt.Errorf("retrieve episodes: %w", err)
	}

	facts, err := a.facts.Search(ctx, query, semanticLimit, a.config.MinConfidence)
	if err != nil {
		return nil, fmt.Errorf("retrieve semantic facts: %w", err)
	}

	scores := make(map[string]float64)
	for i, ep := range episodes {
		scores[ep.ID] = rankScore(i, len(episodes))
	}
	for i, fact := range facts {
		scores[fact.ID] = rankScore(i, len(facts))
	}

	return &memory.WorkingMemory{
		Episodes:        episodes,
		Facts:           facts,
		RelevanceScores: scores,
	}, nil
}

// AssembleDetailed augments the base assembly with up to three
// high-importance episodes retrieved regardless of query relevance.
// Augmented episodes that were not already present get a flat 0.9
// relevance score.
func (a *Assembler) AssembleDetailed(ctx context.Context, query string) (*memory.WorkingMemory, error) {
	wm, err := a.Assemble(ctx, query, 0, 0)
	if err != nil {
		return nil, err
	}

	highImportance, err := a.episodes.Search(ctx, "", 3, 0.8)
	if err != nil {
		return nil, fmt.Errorf("retrieve high-importance episodes: %w", err)
	}

	present := make(map[string]bool, len(wm.Episodes))
	for _, ep := range wm.Episodes {
		present[ep.ID] = true
	}
	for _, ep := range highImportance {
		if present[ep.ID] {
			continue
		}
		wm.Episodes = append(wm.Episodes, ep)
		wm.RelevanceScores[ep.ID] = 0.9
	}

	return wm, nil
}

func rankScore(rank, total int) float64 {
	if total < 1 {
		total = 1
	}
	return 1.0 - float64(rank)/float64(total)
}
