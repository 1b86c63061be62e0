// Package core holds the data shapes shared by every Avadhan component.
package core

import (
	"time"
)

// Origin identifies who produced a slot's content.
type Origin string

const (
	OriginUser   Origin = "user"
	OriginModel  Origin = "model"
	OriginSystem Origin = "system"
)

// SlotMetadata describes where a slot came from.
type SlotMetadata struct {
	Origin   Origin   `json:"origin"`
	Tags     []string `json:"tags"`
	Language string   `json:"language,omitempty"`

	// ThreadID is the logical thread the slot tracks. Empty for retrieved slots.
	ThreadID string `json:"threadId,omitempty"`

	// Excerpt is a short prefix of the most recent text ingested into the slot.
	Excerpt string `json:"excerpt,omitempty"`
}

// Slot is a fixed-size attention thread in working memory.
type Slot struct {
	ID           string       `json:"id"`
	Index        int          `json:"index"`
	StateVector  []float64    `json:"stateVector"`
	Priority     float64      `json:"priority"`
	LastActiveAt time.Time    `json:"lastActiveAt"`
	Metadata     SlotMetadata `json:"metadata"`
}

// Clone returns a deep copy so transitions never share backing arrays.
func (s Slot) Clone() Slot {
	out := s
	out.StateVector = append([]float64(nil), s.StateVector...)
	out.Metadata.Tags = append([]string(nil), s.Metadata.Tags...)
	return out
}

// CloneSlots deep-copies a slot list.
func CloneSlots(slots []Slot) []Slot {
	if slots == nil {
		return nil
	}
	out := make([]Slot, len(slots))
	for i, s := range slots {
		out[i] = s.Clone()
	}
	return out
}

// Provenance records which slot a gist was derived from.
type Provenance struct {
	SlotID    string    `json:"slotId"`
	CreatedAt time.Time `json:"createdAt"`
	ThreadID  string    `json:"threadId,omitempty"`
	Excerpt   string    `json:"excerpt,omitempty"`
}

// Gist is a compressed, slot-derived record kept in episodic or semantic memory.
type Gist struct {
	ID         string     `json:"id"`
	Text       string     `json:"text"`
	Vector     []float64  `json:"vector"`
	Provenance Provenance `json:"provenance"`
	Confidence float64    `json:"confidence"`

	// TTL of zero means the gist never expires.
	TTL time.Duration `json:"ttl,omitempty"`
}

// Clone returns a deep copy of the gist.
func (g Gist) Clone() Gist {
	out := g
	out.Vector = append([]float64(nil), g.Vector...)
	return out
}

// ActionType is a controller lifecycle action.
type ActionType string

const (
	ActionFocus       ActionType = "focus"
	ActionEvict       ActionType = "evict"
	ActionConsolidate ActionType = "consolidate"
	ActionPrefetch    ActionType = "prefetch"
	ActionSuspend     ActionType = "suspend"
)

// ActionTypes lists every action type in display order.
var ActionTypes = []ActionType{ActionFocus, ActionEvict, ActionConsolidate, ActionPrefetch, ActionSuspend}

// ControllerAction is one entry of the controller's append-only log.
type ControllerAction struct {
	Type      ActionType `json:"type"`
	SlotID    string     `json:"slotId"`
	Timestamp time.Time  `json:"timestamp"`
	Reason    string     `json:"reason"`
}

// TrainingMetrics is the per-epoch metric record.
type TrainingMetrics struct {
	Epoch             int     `json:"epoch"`
	Loss              float64 `json:"loss"`
	GenerationLoss    float64 `json:"generationLoss"`
	ContrastiveLoss   float64 `json:"contrastiveLoss"`
	OrthogonalityLoss float64 `json:"orthogonalityLoss"`
	VerifierLoss      float64 `json:"verifierLoss"`
	RecallAccuracy    float64 `json:"recallAccuracy"`
	ThreadPurity      float64 `json:"threadPurity"`
	InterferenceRate  float64 `json:"interferenceRate"`
	HallucinationRate float64 `json:"hallucinationRate"`
	ComputeCost       float64 `json:"computeCost"`
}

// Status is the engine lifecycle state.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusInitializing Status = "initializing"
	StatusTraining     Status = "training"
	StatusPaused       Status = "paused"
	StatusCompleted    Status = "completed"
)

// EventType classifies a TrainingEvent.
type EventType string

const (
	EventSlotUpdate       EventType = "slot_update"
	EventMetricUpdate     EventType = "metric_update"
	EventControllerAction EventType = "controller_action"
	EventConsolidation    EventType = "consolidation"
	EventError            EventType = "error"
)

// TrainingEvent is emitted to listeners for dashboards.
type TrainingEvent struct {
	Type      EventType   `json:"type"`
	ProjectID string      `json:"projectId"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// SlotUpdate is the payload of a slot_update event.
type SlotUpdate struct {
	ThreadID  string `json:"threadId"`
	SlotID    string `json:"slotId"`
	SlotCount int    `json:"slotCount"`
	Created   bool   `json:"created"`
}

// Consolidation is the payload of a consolidation event.
type Consolidation struct {
	SlotID   string `json:"slotId"`
	GistID   string `json:"gistId"`
	ThreadID string `json:"threadId,omitempty"`
}

// ErrorEvent is the payload of an error event.
type ErrorEvent struct {
	Op      string `json:"op"`
	Message string `json:"message"`
}

// InputItem is one (text, thread) pair of a training batch.
type InputItem struct {
	Text     string `json:"text"`
	ThreadID string `json:"threadId"`
}
