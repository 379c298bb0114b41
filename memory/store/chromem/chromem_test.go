package chromem_test

import (
	"context"
	"testing"

	"github.com/becomeliminal/recall/memory"
	"github.com/becomeliminal/recall/memory/embedder/mock"
	"github.com/becomeliminal/recall/memory/store/chromem"
)

func newStore(t *testing.T) memory.Store {
	t.Helper()
	store, err := chromem.New()
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return store
}

func TestQueryTopHit(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	embedder := mock.NewWithDimensions(64)

	stories := []string{
		"The user started a new job at a robotics company.",
		"The user adopted a cat named Miso.",
		"The user ran their first half marathon.",
	}
	for i, story := range stories {
		vec, err := embedder.Embed(ctx, story)
		if err != nil {
			t.Fatalf("Embed: %v", err)
		}
		err = store.Upsert(ctx, "episodes", ids(i), vec, map[string]interface{}{"story": story})
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	// Querying with a story's own embedding must return it as the top hit.
	vec, _ := embedder.Embed(ctx, stories[1])
	hits, err := store.Query(ctx, "episodes", vec, 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("Query returned no hits")
	}
	if hits[0].ID != ids(1) {
		t.Errorf("top hit = %s, want %s", hits[0].ID, ids(1))
	}
	if hits[0].Payload["story"] != stories[1] {
		t.Errorf("top hit payload = %v", hits[0].Payload)
	}
}

func TestQueryLimitAboveCollectionSize(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	embedder := mock.NewWithDimensions(64)

	vec, _ := embedder.Embed(ctx, "only record")
	if err := store.Upsert(ctx, "episodes", "e-0", vec, map[string]interface{}{"story": "only record"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// chromem rejects nResults above the collection size; the store
	// must retry downward instead of failing.
	hits, err := store.Query(ctx, "episodes", vec, 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("got %d hits, want 1", len(hits))
	}
}

func TestQueryEmptyCollection(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	embedder := mock.NewWithDimensions(64)

	if err := store.EnsureCollection(ctx, "episodes", 64, memory.MetricCosine); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}

	vec, _ := embedder.Embed(ctx, "anything")
	hits, err := store.Query(ctx, "episodes", vec, 5)
	if err != nil {
		t.Fatalf("Query on empty collection: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("got %d hits, want 0", len(hits))
	}
}

func TestScrollInsertionOrderAndCursor(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	embedder := mock.NewWithDimensions(64)

	for i := 0; i < 5; i++ {
		vec, _ := embedder.Embed(ctx, ids(i))
		if err := store.Upsert(ctx, "episodes", ids(i), vec, map[string]interface{}{"n": float64(i)}); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	hits, cursor, err := store.Scroll(ctx, "episodes", 3, "")
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("first page = %d hits, want 3", len(hits))
	}
	for i, hit := range hits {
		if hit.ID != ids(i) {
			t.Errorf("hit %d = %s, want %s (insertion order)", i, hit.ID, ids(i))
		}
	}
	if cursor == "" {
		t.Fatal("expected continuation cursor")
	}

	hits, cursor, err = store.Scroll(ctx, "episodes", 3, cursor)
	if err != nil {
		t.Fatalf("Scroll page 2: %v", err)
	}
	if len(hits) != 2 {
		t.Errorf("second page = %d hits, want 2", len(hits))
	}
	if cursor != "" {
		t.Errorf("cursor = %q, want empty at end of scan", cursor)
	}
}

func TestCountAndUpsertOverwrite(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	embedder := mock.NewWithDimensions(64)

	vec, _ := embedder.Embed(ctx, "v1")
	if err := store.Upsert(ctx, "episodes", "e-0", vec, map[string]interface{}{"v": "one"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := store.Upsert(ctx, "episodes", "e-0", vec, map[string]interface{}{"v": "two"}); err != nil {
		t.Fatalf("Upsert overwrite: %v", err)
	}

	count, err := store.Count(ctx, "episodes")
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 1 {
		t.Errorf("Count = %d, want 1 after overwrite", count)
	}

	hits, _, err := store.Scroll(ctx, "episodes", 10, "")
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	if hits[0].Payload["v"] != "two" {
		t.Errorf("payload = %v, want overwritten value", hits[0].Payload)
	}
}

func ids(i int) string {
	return string(rune('a'+i)) + "-id"
}
