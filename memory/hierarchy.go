package memory

import (
	"sort"
	"time"

	"github.com/becomeliminal/avadhan/core"
	"github.com/becomeliminal/avadhan/encoder"
	"github.com/google/uuid"
)

// Hierarchy holds the three tiers.
type Hierarchy struct {
	Working  []core.Slot `json:"working"`
	Episodic []core.Gist `json:"episodic"`
	Semantic []core.Gist `json:"semantic"`
}

// New returns an empty hierarchy.
func New() Hierarchy {
	return Hierarchy{
		Working:  []core.Slot{},
		Episodic: []core.Gist{},
		Semantic: []core.Gist{},
	}
}

func cloneGists(gists []core.Gist) []core.Gist {
	out := make([]core.Gist, len(gists))
	for i, g := range gists {
		out[i] = g.Clone()
	}
	return out
}

// Clone deep-copies every tier.
func (h Hierarchy) Clone() Hierarchy {
	working := core.CloneSlots(h.Working)
	if working == nil {
		working = []core.Slot{}
	}
	return Hierarchy{
		Working:  working,
		Episodic: cloneGists(h.Episodic),
		Semantic: cloneGists(h.Semantic),
	}
}

// AddToWorking appends a slot to the working tier.
func AddToWorking(h Hierarchy, slot core.Slot) Hierarchy {
	next := h.Clone()
	next.Working = append(next.Working, slot.Clone())
	return next
}

// StoreInEpisodic appends a gist to the episodic tier.
func StoreInEpisodic(h Hierarchy, gist core.Gist) Hierarchy {
	next := h.Clone()
	next.Episodic = append(next.Episodic, gist.Clone())
	return next
}

// PromoteToSemantic moves a gist from episodic to semantic. It reports false
// and returns h unchanged when the gist is not in the episodic tier.
func PromoteToSemantic(h Hierarchy, gistID string) (Hierarchy, bool) {
	i := indexOf(h.Episodic, gistID)
	if i < 0 {
		return h, false
	}
	next := h.Clone()
	gist := next.Episodic[i]
	next.Episodic = append(next.Episodic[:i], next.Episodic[i+1:]...)
	next.Semantic = append(next.Semantic, gist)
	return next, true
}

func indexOf(gists []core.Gist, id string) int {
	for i, g := range gists {
		if g.ID == id {
			return i
		}
	}
	return -1
}

// Find looks a gist up, episodic tier first.
func Find(h Hierarchy, gistID string) (core.Gist, Tier, bool) {
	if i := indexOf(h.Episodic, gistID); i >= 0 {
		return h.Episodic[i].Clone(), TierEpisodic, true
	}
	if i := indexOf(h.Semantic, gistID); i >= 0 {
		return h.Semantic[i].Clone(), TierSemantic, true
	}
	return core.Gist{}, "", false
}

// Relabel replaces a gist's text in whichever tier holds it.
func Relabel(h Hierarchy, gistID, text string) (Hierarchy, bool) {
	next := h.Clone()
	if i := indexOf(next.Episodic, gistID); i >= 0 {
		next.Episodic[i].Text = text
		return next, true
	}
	if i := indexOf(next.Semantic, gistID); i >= 0 {
		next.Semantic[i].Text = text
		return next, true
	}
	return h, false
}

// SearchEpisodic returns the top-k episodic gists by descending cosine similarity.
func SearchEpisodic(h Hierarchy, query []float64, k int) []core.Gist {
	return search(h.Episodic, query, k)
}

// SearchSemantic returns the top-k semantic gists by descending cosine similarity.
func SearchSemantic(h Hierarchy, query []float64, k int) []core.Gist {
	return search(h.Semantic, query, k)
}

func search(gists []core.Gist, query []float64, k int) []core.Gist {
	if k <= 0 || len(gists) == 0 {
		return []core.Gist{}
	}
	type scored struct {
		gist core.Gist
		sim  float64
	}
	all := make([]scored, len(gists))
	for i, g := range gists {
		all[i] = scored{gist: g, sim: encoder.CosineSimilarity(query, g.Vector)}
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].sim > all[j].sim
	})
	if k > len(all) {
		k = len(all)
	}
	out := make([]core.Gist, k)
	for i := range out {
		out[i] = all[i].gist.Clone()
	}
	return out
}

// RetrieveToWorking materializes a stored gist as a fresh slot in the working
// tier. The slot takes the gist's vector and confidence as priority.
func RetrieveToWorking(h Hierarchy, gistID string, slotIndex int, now time.Time) (Hierarchy, core.Slot, bool) {
	gist, _, ok := Find(h, gistID)
	if !ok {
		return h, core.Slot{}, false
	}
	slot := core.Slot{
		ID:           uuid.NewString(),
		Index:        slotIndex,
		StateVector:  gist.Vector,
		Priority:     gist.Confidence,
		LastActiveAt: now,
		Metadata: core.SlotMetadata{
			Origin:  core.OriginSystem,
			Tags:    []string{"retrieved", gist.ID},
			Excerpt: gist.Provenance.Excerpt,
		},
	}
	return AddToWorking(h, slot), slot, true
}

// ExpireGists drops episodic gists older than their TTL. Gists without a TTL never expire.
func ExpireGists(h Hierarchy, now time.Time) Hierarchy {
	next := h.Clone()
	kept := next.Episodic[:0]
	for _, g := range next.Episodic {
		if g.TTL > 0 && now.Sub(g.Provenance.CreatedAt) >= g.TTL {
			continue
		}
		kept = append(kept, g)
	}
	next.Episodic = kept
	return next
}

// Stats counts the entries of each tier.
type Stats struct {
	WorkingCount  int `json:"workingCount"`
	EpisodicCount int `json:"episodicCount"`
	SemanticCount int `json:"semanticCount"`
	TotalVectors  int `json:"totalVectors"`
}

// GetMemoryStats returns tier counts and their total.
func GetMemoryStats(h Hierarchy) Stats {
	return Stats{
		WorkingCount:  len(h.Working),
		EpisodicCount: len(h.Episodic),
		SemanticCount: len(h.Semantic),
		TotalVectors:  len(h.Working) + len(h.Episodic) + len(h.Semantic),
	}
}

// GistSummary is a gist without its vector.
type GistSummary struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Export is the redacted view of a hierarchy.
type Export struct {
	Working  []string      `json:"working"`
	Episodic []GistSummary `json:"episodic"`
	Semantic []GistSummary `json:"semantic"`
}

// ExportMemory lists working slot ids and gist summaries.
func ExportMemory(h Hierarchy) Export {
	out := Export{
		Working:  make([]string, len(h.Working)),
		Episodic: summarize(h.Episodic),
		Semantic: summarize(h.Semantic),
	}
	for i, s := range h.Working {
		out.Working[i] = s.ID
	}
	return out
}

func summarize(gists []core.Gist) []GistSummary {
	out := make([]GistSummary, len(gists))
	for i, g := range gists {
		out[i] = GistSummary{ID: g.ID, Text: g.Text, Confidence: g.Confidence, CreatedAt: g.Provenance.CreatedAt}
	}
	return out
}
