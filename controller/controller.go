// Package controller implements Buddhi, the meta-policy that decides which
// slot to focus, which to evict, and which to consolidate.
package controller

import (
	"time"

	"github.com/becomeliminal/avadhan/core"
)

// State is the controller's value-typed state. ActionHistory is append-only.
type State struct {
	ActionHistory []core.ControllerAction `json:"actionHistory"`
	Reward        float64                 `json:"reward"`
	EnergyUsed    float64                 `json:"energyUsed"`
	TotalEnergy   float64                 `json:"totalEnergy"`

	// LearningRate records the rate passed to the last Update. The EMA does not use it yet.
	LearningRate float64 `json:"learningRate"`
}

// New returns a controller with a normalized energy budget of 1.
func New() State {
	return State{
		ActionHistory: []core.ControllerAction{},
		TotalEnergy:   1.0,
	}
}

func ageMinutes(slot core.Slot, now time.Time) float64 {
	return now.Sub(slot.LastActiveAt).Minutes()
}

// DecideFocus picks the slot maximizing priority + 0.2/(1+ageMinutes).
func DecideFocus(slots []core.Slot, now time.Time) (string, bool) {
	if len(slots) == 0 {
		return "", false
	}
	best, bestScore := "", 0.0
	for i, s := range slots {
		score := s.Priority + 0.2*(1/(1+ageMinutes(s, now)))
		if i == 0 || score > bestScore {
			best, bestScore = s.ID, score
		}
	}
	return best, true
}

// DecideEvict picks the slot minimizing priority/(1+0.1·ageMinutes).
// It is advisory; capacity eviction in the slot manager is authoritative.
func DecideEvict(slots []core.Slot, now time.Time) (string, bool) {
	if len(slots) == 0 {
		return "", false
	}
	worst, worstScore := "", 0.0
	for i, s := range slots {
		score := s.Priority / (1 + 0.1*ageMinutes(s, now))
		if i == 0 || score < worstScore {
			worst, worstScore = s.ID, score
		}
	}
	return worst, true
}

// DecideConsolidate returns every slot with priority below threshold.
func DecideConsolidate(slots []core.Slot, threshold float64) []string {
	var ids []string
	for _, s := range slots {
		if s.Priority < threshold {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// NewAction builds an action record.
func NewAction(t core.ActionType, slotID, reason string, now time.Time) core.ControllerAction {
	return core.ControllerAction{Type: t, SlotID: slotID, Timestamp: now, Reason: reason}
}

// ExecuteAction appends an action to the history.
func ExecuteAction(state State, action core.ControllerAction) State {
	next := state
	next.ActionHistory = make([]core.ControllerAction, len(state.ActionHistory), len(state.ActionHistory)+1)
	copy(next.ActionHistory, state.ActionHistory)
	next.ActionHistory = append(next.ActionHistory, action)
	return next
}

// Step emits consolidate actions for low-priority slots, then one focus action
// for the top-scoring slot, and records them all.
func Step(state State, slots []core.Slot, cfg core.Config, now time.Time) (State, []core.ControllerAction) {
	var actions []core.ControllerAction
	for _, id := range DecideConsolidate(slots, cfg.ConsolidateThreshold) {
		actions = append(actions, NewAction(core.ActionConsolidate, id, "Priority below threshold", now))
	}
	if id, ok := DecideFocus(slots, now); ok {
		actions = append(actions, NewAction(core.ActionFocus, id, "Highest priority slot", now))
	}

	next := state
	next.ActionHistory = make([]core.ControllerAction, 0, len(state.ActionHistory)+len(actions))
	next.ActionHistory = append(next.ActionHistory, state.ActionHistory...)
	next.ActionHistory = append(next.ActionHistory, actions...)

	var energy float64
	for _, s := range slots {
		energy += s.Priority
	}
	next.EnergyUsed = energy
	return next, actions
}

// Update folds a reward into the EMA: reward' = 0.9·reward + 0.1·newReward.
// learningRate is recorded but not applied.
func Update(state State, reward, learningRate float64) State {
	next := state
	next.Reward = 0.9*state.Reward + 0.1*reward
	next.LearningRate = learningRate
	return next
}

// Objective returns Σ priority_i·reward_i − λ·‖B‖². Diagnostic only.
func Objective(slots []core.Slot, rewards []float64, controllerNorm, lambda float64) float64 {
	var weighted float64
	for i, s := range slots {
		if i < len(rewards) {
			weighted += s.Priority * rewards[i]
		}
	}
	return weighted - lambda*controllerNorm*controllerNorm
}

// RecentActions returns up to limit actions, newest first.
func RecentActions(state State, limit int) []core.ControllerAction {
	h := state.ActionHistory
	if limit > len(h) || limit < 0 {
		limit = len(h)
	}
	out := make([]core.ControllerAction, 0, limit)
	for i := len(h) - 1; i >= len(h)-limit; i-- {
		out = append(out, h[i])
	}
	return out
}

// Stats summarizes the action history.
type Stats struct {
	TotalActions int                     `json:"totalActions"`
	ActionCounts map[core.ActionType]int `json:"actionCounts"`
	AvgReward    float64                 `json:"avgReward"`
}

// ComputeStats counts actions by type.
func ComputeStats(state State) Stats {
	counts := make(map[core.ActionType]int, len(core.ActionTypes))
	for _, t := range core.ActionTypes {
		counts[t] = 0
	}
	for _, a := range state.ActionHistory {
		counts[a.Type]++
	}
	return Stats{
		TotalActions: len(state.ActionHistory),
		ActionCounts: counts,
		AvgReward:    state.Reward,
	}
}

