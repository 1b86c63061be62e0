package slots

import (
	"math"
	"time"

	"github.com/becomeliminal/avadhan/core"
)

// UpdateAttentionWeights recomputes priorities as a Boltzmann distribution
// over utility_i = reward_i − fatigue_i, where fatigue grows linearly with the
// minutes since the slot was last active. The result sums to 1.
// Missing rewards count as 0.
func UpdateAttentionWeights(slots []core.Slot, rewards []float64, beta, fatigueDecay float64, now time.Time) []core.Slot {
	return attention(slots, rewards, beta, fatigueDecay, now, true)
}

// UpdateAttentionScores is UpdateAttentionWeights without the final
// normalization: the best slot scores 1 and the total is unconstrained.
func UpdateAttentionScores(slots []core.Slot, rewards []float64, beta, fatigueDecay float64, now time.Time) []core.Slot {
	return attention(slots, rewards, beta, fatigueDecay, now, false)
}

func attention(slots []core.Slot, rewards []float64, beta, fatigueDecay float64, now time.Time, normalize bool) []core.Slot {
	out := core.CloneSlots(slots)
	if len(out) == 0 {
		return out
	}

	utilities := make([]float64, len(out))
	maxUtil := math.Inf(-1)
	for i, s := range out {
		var reward float64
		if i < len(rewards) {
			reward = rewards[i]
		}
		minutes := math.Max(0, now.Sub(s.LastActiveAt).Minutes())
		utilities[i] = reward - minutes*fatigueDecay
		maxUtil = math.Max(maxUtil, utilities[i])
	}

	var sum float64
	for i, u := range utilities {
		utilities[i] = math.Exp(beta * (u - maxUtil))
		sum += utilities[i]
	}
	for i := range out {
		if normalize {
			out[i].Priority = utilities[i] / sum
		} else {
			out[i].Priority = utilities[i]
		}
	}
	return out
}
