package chromem

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/avadhan/memory"
)

// ChromemStore wraps chromem-go as a gist index.
// chromem-go is a pure Go, embedded vector database.
type ChromemStore struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection // Per project+tier collections
	mu          sync.RWMutex
}

// New creates a new chromem-based gist index.
func New() (*ChromemStore, error) {
	db := chromem.NewDB()

	return &ChromemStore{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func collectionName(projectID string, tier memory.Tier) string {
	return fmt.Sprintf("project_%s_%s", projectID, tier)
}

// getOrCreateCollection returns the collection for a project tier.
// Each project+tier pair gets its own collection for namespace isolation.
func (s *ChromemStore) getOrCreateCollection(projectID string, tier memory.Tier) (*chromem.Collection, error) {
	name := collectionName(projectID, tier)

	s.mu.RLock()
	col, exists := s.collections[name]
	s.mu.RUnlock()

	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if col, exists := s.collections[name]; exists {
		return col, nil
	}

	col, err := s.db.CreateCollection(
		name,
		nil, // No collection metadata
		nil, // No embedding func (vectors come from the engine encoder)
	)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	s.collections[name] = col
	return col, nil
}

// Add indexes a gist record.
func (s *ChromemStore) Add(ctx context.Context, rec memory.Record) error {
	embedding, ok := toFloat32(rec.Vector)
	if !ok {
		return fmt.Errorf("gist %s has a zero vector", rec.GistID)
	}

	col, err := s.getOrCreateCollection(rec.ProjectID, rec.Tier)
	if err != nil {
		return err
	}

	log.Printf("[CHROMEM] Indexing gist: id=%s, project=%s, tier=%s", rec.GistID, rec.ProjectID, rec.Tier)

	content := rec.Text
	if content == "" {
		content = rec.GistID
	}

	doc := chromem.Document{
		ID:        rec.GistID,
		Content:   content,
		Embedding: embedding,
		Metadata: map[string]string{
			"project_id": rec.ProjectID,
			"tier":       string(rec.Tier),
			"slot_id":    rec.SlotID,
			"thread_id":  rec.ThreadID,
			"excerpt":    rec.Excerpt,
			"text":       rec.Text,
		},
	}

	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Query retrieves gists of one tier by vector similarity.
func (s *ChromemStore) Query(ctx context.Context, projectID string, tier memory.Tier, vector []float64, limit int) ([]memory.Hit, error) {
	embedding, ok := toFloat32(vector)
	if !ok || limit <= 0 {
		return nil, nil
	}

	col, err := s.getOrCreateCollection(projectID, tier)
	if err != nil {
		return nil, err
	}

	// chromem-go requires nResults <= collection size
	n := limit
	if count := col.Count(); count < n {
		n = count
	}
	if n == 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	hits := make([]memory.Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, memory.Hit{
			Gist: memory.Record{
				ProjectID: r.Metadata["project_id"],
				Tier:      memory.Tier(r.Metadata["tier"]),
				GistID:    r.ID,
				Text:      r.Metadata["text"],
				SlotID:    r.Metadata["slot_id"],
				ThreadID:  r.Metadata["thread_id"],
				Excerpt:   r.Metadata["excerpt"],
				Vector:    toFloat64(r.Embedding),
			},
			Similarity: float64(r.Similarity),
		})
	}

	log.Printf("[CHROMEM] Query project=%s tier=%s returned %d results", projectID, tier, len(hits))
	return hits, nil
}

// Delete removes a gist from a tier. Missing ids are not an error.
func (s *ChromemStore) Delete(ctx context.Context, projectID string, tier memory.Tier, gistID string) error {
	col, err := s.getOrCreateCollection(projectID, tier)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, gistID); err != nil && !isMissingDocError(err) {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Close releases resources.
func (s *ChromemStore) Close() error {
	// chromem-go keeps everything in memory, nothing to close
	return nil
}

func toFloat32(v []float64) ([]float32, bool) {
	out := make([]float32, len(v))
	nonZero := false
	for i, x := range v {
		out[i] = float32(x)
		if out[i] != 0 {
			nonZero = true
		}
	}
	return out, nonZero
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func isMissingDocError(err error) bool {
	return strings.Contains(err.Error(), "not found")
}
