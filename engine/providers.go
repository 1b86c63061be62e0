package engine

import (
	"math"
	"math/rand/v2"
	"sync"

	"github.com/becomeliminal/avadhan/core"
	"github.com/becomeliminal/avadhan/orthogonal"
)

// RewardProvider scores each held slot for the attention update.
// The result is aligned with slots; missing entries count as zero.
type RewardProvider interface {
	Rewards(slots []core.Slot) []float64
}

// RandomRewards draws uniform rewards in [0, 1). It stands in for a real
// reward signal and is safe for concurrent use.
type RandomRewards struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomRewards creates a seeded reward source.
func NewRandomRewards(seed uint64) *RandomRewards {
	return &RandomRewards{rng: rand.New(rand.NewPCG(seed, ^seed))}
}

// Rewards implements RewardProvider.
func (r *RandomRewards) Rewards(slots []core.Slot) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]float64, len(slots))
	for i := range out {
		out[i] = r.rng.Float64()
	}
	return out
}

// RewardFunc adapts a function to RewardProvider.
type RewardFunc func(slots []core.Slot) []float64

// Rewards implements RewardProvider.
func (f RewardFunc) Rewards(slots []core.Slot) []float64 {
	return f(slots)
}

// MetricsProvider computes the metrics recorded for one epoch.
type MetricsProvider interface {
	Compute(slots []core.Slot, epoch int, cfg core.Config) core.TrainingMetrics
}

// HeuristicMetrics produces schedule-driven placeholder metrics. Losses decay
// linearly with the epoch while accuracies rise to a ceiling; only the
// orthogonality and interference terms look at the slots.
type HeuristicMetrics struct{}

// Compute implements MetricsProvider.
func (HeuristicMetrics) Compute(slots []core.Slot, epoch int, cfg core.Config) core.TrainingMetrics {
	e := float64(epoch)
	baseLoss := math.Max(0.1, 2.0-0.05*e)
	orthLoss := orthogonal.ComputeOrthogonalityLoss(slots, cfg.OrthogonalityWeight)

	return core.TrainingMetrics{
		Epoch:             epoch,
		Loss:              baseLoss + orthLoss,
		GenerationLoss:    0.6 * baseLoss,
		ContrastiveLoss:   0.2 * baseLoss,
		OrthogonalityLoss: orthLoss,
		VerifierLoss:      0.1 * baseLoss,
		RecallAccuracy:    math.Min(0.95, 0.5+0.02*e),
		ThreadPurity:      math.Min(0.98, 0.6+0.015*e),
		InterferenceRate:  orthogonal.ComputeInterferenceScore(slots),
		HallucinationRate: math.Max(0.01, 0.2-0.01*e),
		ComputeCost:       0.1 * float64(len(slots)),
	}
}

// ContrastiveMetrics replaces the scheduled contrastive loss of Base with the
// InfoNCE diagnostic over the slot vectors at temperature cfg.ContrastiveTemp.
type ContrastiveMetrics struct {
	Base MetricsProvider
}

// Compute implements MetricsProvider.
func (c ContrastiveMetrics) Compute(slots []core.Slot, epoch int, cfg core.Config) core.TrainingMetrics {
	base := c.Base
	if base == nil {
		base = HeuristicMetrics{}
	}
	m := base.Compute(slots, epoch, cfg)
	contrastive := orthogonal.ContrastiveLoss(slots, cfg.ContrastiveTemp)
	m.Loss += contrastive - m.ContrastiveLoss
	m.ContrastiveLoss = contrastive
	return m
}
