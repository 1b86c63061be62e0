package memory

import (
	"context"
)

// Tier names a level of the hierarchy.
type Tier string

const (
	TierWorking  Tier = "working"
	TierEpisodic Tier = "episodic"
	TierSemantic Tier = "semantic"
)

// Hit is a gist returned by an index query with its similarity to the query.
type Hit struct {
	Gist       Record
	Similarity float64
}

// Record is the indexed form of a gist.
type Record struct {
	ProjectID string
	Tier      Tier
	GistID    string
	Text      string
	SlotID    string
	ThreadID  string
	Excerpt   string
	Vector    []float64
}

// GistIndex is a vector index over stored gists, namespaced by project.
// Implementations: chromem (store/chromem).
type GistIndex interface {
	// Add indexes a gist. The record's vector must be set.
	Add(ctx context.Context, rec Record) error

	// Query returns up to limit records of one tier, most similar first.
	Query(ctx context.Context, projectID string, tier Tier, vector []float64, limit int) ([]Hit, error)

	// Delete removes a gist from a tier.
	Delete(ctx context.Context, projectID string, tier Tier, gistID string) error

	// Close releases resources.
	Close() error
}

// Encoder converts query text into the index's vector space.
type Encoder interface {
	Encode(text string) []float64
	Dimensions() int
}
