package engine

import (
	"fmt"
	"maps"

	"github.com/becomeliminal/avadhan/controller"
	"github.com/becomeliminal/avadhan/core"
	"github.com/becomeliminal/avadhan/memory"
	"github.com/becomeliminal/avadhan/slots"
)

// State is the redacted view of an engine for polling. It carries no raw vectors.
type State struct {
	ProjectID      string                 `json:"projectId"`
	Status         core.Status            `json:"status"`
	CurrentEpoch   int                    `json:"currentEpoch"`
	Config         core.Config            `json:"config"`
	Slots          slots.Snapshot         `json:"slots"`
	Memory         memory.Stats           `json:"memory"`
	Controller     controller.Stats       `json:"controller"`
	LatestMetrics  *core.TrainingMetrics  `json:"latestMetrics"`
	MetricsHistory []core.TrainingMetrics `json:"metricsHistory"`
}

// GetEngineState returns the redacted view, keeping the last
// Config.MetricsHistoryLimit epochs of metrics.
func (e Engine) GetEngineState() State {
	history := e.Metrics
	if limit := e.Config.MetricsHistoryLimit; limit > 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}
	st := State{
		ProjectID:      e.ProjectID,
		Status:         e.Status,
		CurrentEpoch:   e.Epoch,
		Config:         e.Config,
		Slots:          slots.ExportSlots(e.SlotManager),
		Memory:         memory.GetMemoryStats(e.Memory),
		Controller:     controller.ComputeStats(e.Controller),
		MetricsHistory: append([]core.TrainingMetrics{}, history...),
	}
	if n := len(e.Metrics); n > 0 {
		latest := e.Metrics[n-1]
		st.LatestMetrics = &latest
	}
	return st
}

// Snapshot is the full, resumable form of an engine.
type Snapshot struct {
	ProjectID    string                 `json:"projectId"`
	Config       core.Config            `json:"config"`
	Status       core.Status            `json:"status"`
	CurrentEpoch int                    `json:"currentEpoch"`
	Slots        []core.Slot            `json:"slots"`
	NextIndex    int                    `json:"nextIndex"`
	Threads      map[string]string      `json:"threads"`
	Controller   controller.State       `json:"controller"`
	Memory       memory.Hierarchy       `json:"memory"`
	Metrics      []core.TrainingMetrics `json:"metrics"`
}

// Export returns a deep copy of everything needed to resume the engine.
func (e Engine) Export() Snapshot {
	ctrl := e.Controller
	ctrl.ActionHistory = append([]core.ControllerAction{}, e.Controller.ActionHistory...)
	return Snapshot{
		ProjectID:    e.ProjectID,
		Config:       e.Config,
		Status:       e.Status,
		CurrentEpoch: e.Epoch,
		Slots:        core.CloneSlots(e.SlotManager.Slots),
		NextIndex:    e.SlotManager.NextIndex,
		Threads:      maps.Clone(e.SlotManager.Threads),
		Controller:   ctrl,
		Memory:       e.Memory.Clone(),
		Metrics:      append([]core.TrainingMetrics{}, e.Metrics...),
	}
}

// Import rebuilds an engine from a snapshot. Listeners are not part of a
// snapshot and must be registered again.
func Import(snap Snapshot, opts ...Option) (Engine, error) {
	e, err := New(snap.ProjectID, snap.Config, opts...)
	if err != nil {
		return Engine{}, fmt.Errorf("import: %w", err)
	}
	if len(snap.Slots) > e.Config.NumSlots {
		return Engine{}, fmt.Errorf("import %s: %w: %d slots exceed capacity %d",
			snap.ProjectID, core.ErrInvalidConfig, len(snap.Slots), e.Config.NumSlots)
	}
	for _, s := range snap.Slots {
		if len(s.StateVector) != e.Config.EncoderDim {
			return Engine{}, fmt.Errorf("import %s: slot %s: %w (got %d, want %d)",
				snap.ProjectID, s.ID, core.ErrDimensionMismatch, len(s.StateVector), e.Config.EncoderDim)
		}
	}

	state := e.SlotManager
	state.NextIndex = snap.NextIndex
	state.Threads = maps.Clone(snap.Threads)
	if state.Threads == nil {
		state.Threads = make(map[string]string, len(snap.Slots))
	}
	for _, s := range snap.Slots {
		if _, ok := state.Threads[s.Metadata.ThreadID]; !ok && s.Metadata.ThreadID != "" {
			state.Threads[s.Metadata.ThreadID] = s.ID
		}
		if s.Index >= state.NextIndex {
			state.NextIndex = s.Index + 1
		}
	}

	e.SlotManager = slots.WithSlots(state, snap.Slots)
	e.Status = snap.Status
	if e.Status == "" {
		e.Status = core.StatusIdle
	}
	e.Epoch = snap.CurrentEpoch
	e.Controller = snap.Controller
	e.Controller.ActionHistory = append([]core.ControllerAction{}, snap.Controller.ActionHistory...)
	if e.Controller.TotalEnergy == 0 {
		e.Controller.TotalEnergy = 1
	}
	e.Memory = snap.Memory.Clone()
	e.Metrics = append([]core.TrainingMetrics{}, snap.Metrics...)
	return e, nil
}
