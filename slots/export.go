package slots

import (
	"time"

	"github.com/becomeliminal/avadhan/core"
)

// SlotSummary is a slot without its raw vector.
type SlotSummary struct {
	ID           string            `json:"id"`
	Index        int               `json:"index"`
	Priority     float64           `json:"priority"`
	LastActiveAt time.Time         `json:"lastActiveAt"`
	VectorDim    int               `json:"vectorDim"`
	Metadata     core.SlotMetadata `json:"metadata"`
}

// Snapshot is the redacted view of a State used for polling.
type Snapshot struct {
	Slots     []SlotSummary `json:"slots"`
	MaxSlots  int           `json:"maxSlots"`
	NextIndex int           `json:"nextIndex"`
}

// ExportSlots returns a snapshot carrying only dimensions and metadata.
func ExportSlots(state State) Snapshot {
	out := Snapshot{
		Slots:     make([]SlotSummary, len(state.Slots)),
		MaxSlots:  state.MaxSlots,
		NextIndex: state.NextIndex,
	}
	for i, s := range state.Slots {
		md := s.Metadata
		md.Tags = append([]string(nil), md.Tags...)
		out.Slots[i] = SlotSummary{
			ID:           s.ID,
			Index:        s.Index,
			Priority:     s.Priority,
			LastActiveAt: s.LastActiveAt,
			VectorDim:    len(s.StateVector),
			Metadata:     md,
		}
	}
	return out
}
