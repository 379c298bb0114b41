package memory

import (
	"context"
)

// Distance metrics for vector collections. Values follow the Qdrant
// naming; adapters for stores without configurable metrics ignore it.
const (
	MetricCosine = "Cosine"
)

// Default collection names for the two memory tiers.
const (
	EpisodicCollection = "episodic_memory"
	SemanticCollection = "semantic_memory"
)

// Dimensions is the embedding vector size the default stack produces
// (OpenAI text-embedding-3-small). Collections are created with
// whatever the configured Embedder reports, so alternative embedders
// work unchanged.
const Dimensions = 1536

// Hit is a single record returned from a store, either ranked by
// similarity (Query) or in insertion order (Scroll).
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]interface{}
}

// Store is the vector storage backend interface.
// Implementations: QdrantStore (production), ChromemStore (embedded, tests).
//
// Payloads are flat maps with string/float64/[]string values per the
// flattening rules in episode.go and semantic.go. Records are
// insert-only from this subsystem's point of view: nothing here
// updates or deletes a stored memory.
type Store interface {
	// EnsureCollection creates the collection if it does not exist.
	// Safe to call repeatedly at startup.
	EnsureCollection(ctx context.Context, name string, dimensions int, metric string) error

	// Upsert saves one record with its embedding and flattened payload.
	Upsert(ctx context.Context, collection string, id string, vector []float32, payload map[string]interface{}) error

	// Query retrieves up to limit records by vector similarity,
	// highest similarity first.
	Query(ctx context.Context, collection string, vector []float32, limit int) ([]Hit, error)

	// Scroll pages through records in insertion order. An empty cursor
	// starts from the beginning; the returned cursor is empty when the
	// collection is exhausted.
	Scroll(ctx context.Context, collection string, limit int, cursor string) ([]Hit, string, error)

	// Count returns the number of records in a collection.
	Count(ctx context.Context, collection string) (int64, error)

	// Close releases resources.
	Close() error
}

// Embedder converts text to vector embeddings.
// Implementations: OpenAIEmbedder (production), MockEmbedder (testing),
// ONNXEmbedder (offline, behind the onnx build tag).
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns embedding vector size.
	Dimensions() int
}
