package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/becomeliminal/avadhan/core"
)

// Recaller answers free-text queries against a GistIndex.
//
// Features:
//   - Query embedding through the engine's encoder
//   - Similarity floor and result cap
//   - Episodic and semantic tiers searched together
//   - Formatted output for dashboards or prompt injection
type Recaller struct {
	index   GistIndex
	encoder Encoder
	config  *Config
}

// NewRecaller creates a Recaller.
func NewRecaller(index GistIndex, encoder Encoder, config *Config) *Recaller {
	if config == nil {
		config = DefaultConfig
	}
	return &Recaller{
		index:   index,
		encoder: encoder,
		config:  config,
	}
}

// Record indexes gists of one tier for a project.
func (r *Recaller) Record(ctx context.Context, projectID string, tier Tier, gists []core.Gist) error {
	if !r.config.Enabled {
		return nil
	}
	for i, g := range gists {
		if err := r.index.Add(ctx, RecordFor(projectID, tier, g)); err != nil {
			log.Printf("[MEMORY] Failed to index gist #%d (%s): %v", i+1, g.ID, err)
			continue
		}
	}
	return nil
}

// Move re-files a gist under another tier, e.g. after promotion.
func (r *Recaller) Move(ctx context.Context, projectID string, from, to Tier, g core.Gist) error {
	if !r.config.Enabled {
		return nil
	}
	if err := r.index.Delete(ctx, projectID, from, g.ID); err != nil {
		return fmt.Errorf("delete from %s: %w", from, err)
	}
	if err := r.index.Add(ctx, RecordFor(projectID, to, g)); err != nil {
		return fmt.Errorf("add to %s: %w", to, err)
	}
	return nil
}

// Forget removes gists from the index.
func (r *Recaller) Forget(ctx context.Context, projectID string, tier Tier, gistIDs []string) error {
	if !r.config.Enabled {
		return nil
	}
	for _, id := range gistIDs {
		if err := r.index.Delete(ctx, projectID, tier, id); err != nil {
			return fmt.Errorf("delete gist %s: %w", id, err)
		}
	}
	return nil
}

// Search returns hits from the episodic and semantic tiers above the similarity floor.
func (r *Recaller) Search(ctx context.Context, projectID string, query string, limit int) ([]Hit, error) {
	if !r.config.Enabled {
		return nil, nil
	}
	if limit <= 0 {
		limit = r.config.MaxResults
	}

	vector := r.encoder.Encode(query)

	var hits []Hit
	for _, tier := range []Tier{TierEpisodic, TierSemantic} {
		found, err := r.index.Query(ctx, projectID, tier, vector, limit)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", tier, err)
		}
		for _, h := range found {
			if h.Similarity >= r.config.MinSimilarity {
				hits = append(hits, h)
			}
		}
	}

	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}

	log.Printf("[MEMORY] Recalled %d gists for query: %q", len(hits), truncate(query, 50))
	return hits, nil
}

// Recall searches and formats the result. It returns "" when nothing matches.
func (r *Recaller) Recall(ctx context.Context, projectID string, query string) (string, error) {
	hits, err := r.Search(ctx, projectID, query, r.config.MaxResults)
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "", nil
	}
	return formatHits(hits, query), nil
}

// formatHits formats recalled gists into a numbered block.
func formatHits(hits []Hit, query string) string {
	var parts []string
	parts = append(parts, "=== RECALLED GISTS ===\n")

	// Calculate max length per gist
	maxLength := 2000 / len(hits)
	if maxLength < 100 {
		maxLength = 100
	}

	for i, h := range hits {
		formatted := h.Format(FormatContext{
			Query:     query,
			MaxLength: maxLength,
		})
		parts = append(parts, fmt.Sprintf("%d. %s\n", i+1, formatted))
	}

	return strings.Join(parts, "\n")
}

func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
}

// Config holds Recaller configuration.
type Config struct {
	// Enabled toggles indexing and recall.
	// Default: true.
	Enabled bool

	// MinSimilarity is the minimum cosine similarity for a hit [-1.0, 1.0].
	// Default: 0.2. The featurizer is lexical, so paraphrases score low.
	MinSimilarity float64

	// MaxResults caps the number of hits returned.
	// Default: 10.
	MaxResults int
}

// DefaultConfig returns defaults suitable for a single-process service.
var DefaultConfig = &Config{
	Enabled:       true,
	MinSimilarity: 0.2,
	MaxResults:    10,
}
