// Package slots manages the capacity-bounded set of working-memory slots.
//
// Every function takes a State by value and returns a new State; the input
// is never modified. Callers serialize writes per project.
package slots

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/becomeliminal/avadhan/core"
	"github.com/becomeliminal/avadhan/encoder"
	"github.com/becomeliminal/avadhan/orthogonal"
)

// State is the slot manager's value-typed state.
type State struct {
	Slots               []core.Slot       `json:"slots"`
	MaxSlots            int               `json:"maxSlots"`
	NextIndex           int               `json:"nextIndex"`
	OrthogonalityMatrix [][]float64       `json:"orthogonalityMatrix"`
	Threads             map[string]string `json:"threads"` // threadID -> slotID
}

// Result is the outcome of an ingestion.
type Result struct {
	State   State
	SlotID  string
	Created bool

	// Evicted is set when capacity forced the lowest-priority slot out.
	Evicted *core.Slot
}

// New returns an empty manager sized by cfg.NumSlots.
func New(cfg core.Config) State {
	return State{
		Slots:               []core.Slot{},
		MaxSlots:            cfg.NumSlots,
		OrthogonalityMatrix: [][]float64{},
		Threads:             map[string]string{},
	}
}

// clone deep-copies the mutable parts of s.
func (s State) clone() State {
	out := s
	out.Slots = core.CloneSlots(s.Slots)
	if out.Slots == nil {
		out.Slots = []core.Slot{}
	}
	out.Threads = make(map[string]string, len(s.Threads))
	for k, v := range s.Threads {
		out.Threads[k] = v
	}
	out.OrthogonalityMatrix = copyMatrix(s.OrthogonalityMatrix)
	return out
}

func copyMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i := range m {
		out[i] = append([]float64(nil), m[i]...)
	}
	return out
}

func (s State) indexOf(slotID string) int {
	for i, slot := range s.Slots {
		if slot.ID == slotID {
			return i
		}
	}
	return -1
}

// Ingest routes vector to the slot tracking threadID, creating one (and
// evicting the lowest-priority slot at capacity) when none exists.
func Ingest(state State, vector []float64, threadID string, cfg core.Config, now time.Time) (Result, error) {
	if cfg.EncoderDim > 0 && len(vector) != cfg.EncoderDim {
		return Result{State: state}, fmt.Errorf("ingest thread %q: %w (got %d, want %d)",
			threadID, core.ErrDimensionMismatch, len(vector), cfg.EncoderDim)
	}

	next := state.clone()

	if slotID, ok := next.Threads[threadID]; ok {
		if i := next.indexOf(slotID); i >= 0 {
			slot := &next.Slots[i]
			blended, err := encoder.ComposeVectors(slot.StateVector, vector, cfg.BlendAlpha)
			if err != nil {
				return Result{State: state}, fmt.Errorf("ingest thread %q: %w", threadID, err)
			}
			slot.StateVector = blended
			slot.Priority = min(slot.Priority+cfg.PriorityBump, 1.0)
			slot.LastActiveAt = now
			return Result{State: next.reorthogonalize(), SlotID: slotID}, nil
		}
		// Stale index entry; fall through and create a fresh slot.
		delete(next.Threads, threadID)
	}

	var evicted *core.Slot
	if next.MaxSlots > 0 && len(next.Slots) >= next.MaxSlots {
		victim := lowestPriority(next.Slots)
		ev := next.Slots[victim].Clone()
		evicted = &ev
		next.Slots = append(next.Slots[:victim], next.Slots[victim+1:]...)
		if ev.Metadata.ThreadID != "" {
			delete(next.Threads, ev.Metadata.ThreadID)
		}
	}

	slot := NewSlot(next.NextIndex, vector, core.SlotMetadata{
		Origin:   core.OriginUser,
		Tags:     []string{threadID},
		ThreadID: threadID,
	}, now)
	next.Slots = append(next.Slots, slot)
	next.Threads[threadID] = slot.ID
	next.NextIndex++

	return Result{State: next.reorthogonalize(), SlotID: slot.ID, Created: true, Evicted: evicted}, nil
}

// NewSlot builds a slot with the initial priority 1/(index+1).
func NewSlot(index int, vector []float64, metadata core.SlotMetadata, now time.Time) core.Slot {
	return core.Slot{
		ID:           uuid.NewString(),
		Index:        index,
		StateVector:  append([]float64(nil), vector...),
		Priority:     1.0 / float64(index+1),
		LastActiveAt: now,
		Metadata:     metadata,
	}
}

// lowestPriority returns the position of the minimum-priority slot,
// breaking ties by earliest insertion.
func lowestPriority(slots []core.Slot) int {
	victim := 0
	for i := 1; i < len(slots); i++ {
		s, v := slots[i], slots[victim]
		if s.Priority < v.Priority || (s.Priority == v.Priority && s.Index < v.Index) {
			victim = i
		}
	}
	return victim
}

func (s State) reorthogonalize() State {
	s.Slots = orthogonal.Orthogonalize(s.Slots)
	s.OrthogonalityMatrix = orthogonal.ComputeOrthogonalityMatrix(s.Slots)
	return s
}

// WithSlots replaces the slot list, keeping the thread index for surviving
// slots, and recomputes the orthogonality matrix.
func WithSlots(state State, slots []core.Slot) State {
	next := state.clone()
	next.Slots = core.CloneSlots(slots)
	if next.Slots == nil {
		next.Slots = []core.Slot{}
	}
	live := make(map[string]bool, len(next.Slots))
	for _, s := range next.Slots {
		live[s.ID] = true
	}
	for thread, id := range next.Threads {
		if !live[id] {
			delete(next.Threads, thread)
		}
	}
	next.OrthogonalityMatrix = orthogonal.ComputeOrthogonalityMatrix(next.Slots)
	return next
}

// Reorthogonalize re-separates every slot and recomputes the matrix.
func Reorthogonalize(state State) State {
	return state.clone().reorthogonalize()
}

// Annotate stores a short excerpt of the latest text on a slot.
func Annotate(state State, slotID, excerpt string) State {
	next := state.clone()
	if i := next.indexOf(slotID); i >= 0 {
		next.Slots[i].Metadata.Excerpt = excerpt
	}
	return next
}

// Get looks a slot up by id.
func Get(state State, slotID string) (core.Slot, bool) {
	if i := state.indexOf(slotID); i >= 0 {
		return state.Slots[i].Clone(), true
	}
	return core.Slot{}, false
}

// SlotForThread returns the slot currently tracking threadID.
func SlotForThread(state State, threadID string) (core.Slot, bool) {
	id, ok := state.Threads[threadID]
	if !ok {
		return core.Slot{}, false
	}
	return Get(state, id)
}

// GetSlotsByPriority returns copies of the slots sorted by descending priority.
func GetSlotsByPriority(state State) []core.Slot {
	out := core.CloneSlots(state.Slots)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})
	return out
}

// ComputeEnergyUsage sums the priorities. It is 1 after a constrained update.
func ComputeEnergyUsage(slots []core.Slot) float64 {
	var total float64
	for _, s := range slots {
		total += s.Priority
	}
	return total
}

// ResetPriorities assigns every slot the uniform priority 1/n.
func ResetPriorities(slots []core.Slot) []core.Slot {
	out := core.CloneSlots(slots)
	if len(out) == 0 {
		return out
	}
	uniform := 1.0 / float64(len(out))
	for i := range out {
		out[i].Priority = uniform
	}
	return out
}
