// Package memory defines the two memory tiers of the lifecycle engine
// and the capability interfaces they are built on.
//
// Episodic memories are narrative records of finished conversation
// sessions, each filed under exactly one journal label. Semantic
// memories are confidence-scored generalizations distilled from many
// episodes. Working memory is the ephemeral ranked blend of both tiers
// assembled for a single conversational turn.
//
// Architecture:
//   - Store: vector storage backend (Qdrant for production, chromem-go embedded)
//   - Embedder: text-to-vector conversion (OpenAI for production, mock for tests)
//   - episodic.Manager: converts finished sessions into episodes
//   - semantic.Distiller: batch-distills episodes into semantic items
//   - working.Assembler: builds the per-turn context blend
//   - session.Coordinator: per-user buffers with a debounced idle trigger
//
// Records are insert-only: episodes are immutable once stored and the
// distiller appends new semantic items rather than merging into old
// ones.
package memory
