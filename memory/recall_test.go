package memory_test

import (
	"context"
	"strings"
	"testing"

	"github.com/becomeliminal/avadhan/core"
	"github.com/becomeliminal/avadhan/encoder"
	"github.com/becomeliminal/avadhan/memory"
	"github.com/becomeliminal/avadhan/memory/store/chromem"
)

func newRecaller(t *testing.T, config *memory.Config) (*memory.Recaller, *encoder.Encoder) {
	t.Helper()
	store, err := chromem.New()
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	enc := encoder.New(128, encoder.WithSeed(7))
	return memory.NewRecaller(store, enc, config), enc
}

func gistFor(enc *encoder.Encoder, id, text string) core.Gist {
	g := memory.ConsolidateSlotToGist(slotWith(id, 0.4, enc.Encode(text)...), "Evicted: "+id, now)
	g.Provenance.Excerpt = text
	return g
}

func TestRecaller_RecordAndRecall(t *testing.T) {
	ctx := context.Background()
	recaller, enc := newRecaller(t, &memory.Config{Enabled: true, MinSimilarity: -1, MaxResults: 5})

	gists := []core.Gist{
		gistFor(enc, "budget", "quarterly budget review for the finance team"),
		gistFor(enc, "garden", "planting tomatoes in the spring garden"),
	}
	if err := recaller.Record(ctx, "proj", memory.TierEpisodic, gists); err != nil {
		t.Fatalf("Failed to record gists: %v", err)
	}

	hits, err := recaller.Search(ctx, "proj", "quarterly budget review for the finance team", 1)
	if err != nil {
		t.Fatalf("Failed to search: %v", err)
	}
	if len(hits) != 1 || hits[0].Gist.ThreadID != "thread-budget" {
		t.Fatalf("expected the budget gist first, got %+v", hits)
	}

	formatted, err := recaller.Recall(ctx, "proj", "budget")
	if err != nil {
		t.Fatalf("Failed to recall: %v", err)
	}
	if !strings.Contains(formatted, "RECALLED GISTS") {
		t.Errorf("Expected formatted output to contain header, got %q", formatted)
	}
}

func TestRecaller_ProjectNamespacing(t *testing.T) {
	ctx := context.Background()
	recaller, enc := newRecaller(t, &memory.Config{Enabled: true, MinSimilarity: -1, MaxResults: 5})

	if err := recaller.Record(ctx, "p1", memory.TierEpisodic, []core.Gist{gistFor(enc, "one", "alpha")}); err != nil {
		t.Fatal(err)
	}
	if err := recaller.Record(ctx, "p2", memory.TierEpisodic, []core.Gist{gistFor(enc, "two", "alpha")}); err != nil {
		t.Fatal(err)
	}

	hits, err := recaller.Search(ctx, "p1", "alpha", 10)
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range hits {
		if h.Gist.ProjectID != "p1" {
			t.Errorf("p1 should not see %s's gists", h.Gist.ProjectID)
		}
	}
}

func TestRecaller_MoveAcrossTiers(t *testing.T) {
	ctx := context.Background()
	recaller, enc := newRecaller(t, &memory.Config{Enabled: true, MinSimilarity: -1, MaxResults: 5})
	g := gistFor(enc, "move", "promotion candidate")

	if err := recaller.Record(ctx, "p", memory.TierEpisodic, []core.Gist{g}); err != nil {
		t.Fatal(err)
	}
	if err := recaller.Move(ctx, "p", memory.TierEpisodic, memory.TierSemantic, g); err != nil {
		t.Fatalf("Failed to move gist: %v", err)
	}

	hits, err := recaller.Search(ctx, "p", "promotion candidate", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Gist.Tier != memory.TierSemantic {
		t.Fatalf("expected one semantic hit, got %+v", hits)
	}
}

func TestRecaller_DisabledConfig(t *testing.T) {
	ctx := context.Background()
	recaller, enc := newRecaller(t, &memory.Config{Enabled: false})

	if err := recaller.Record(ctx, "p", memory.TierEpisodic, []core.Gist{gistFor(enc, "x", "text")}); err != nil {
		t.Fatalf("Record should not error when disabled: %v", err)
	}
	formatted, err := recaller.Recall(ctx, "p", "text")
	if err != nil {
		t.Fatalf("Recall should not error when disabled: %v", err)
	}
	if formatted != "" {
		t.Error("Expected empty result when recall is disabled")
	}
}
