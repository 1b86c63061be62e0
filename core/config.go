package core

import (
	"fmt"
)

// Regime selects a slot capacity preset.
type Regime string

const (
	RegimeAshta   Regime = "ashta"
	RegimeShata   Regime = "shata"
	RegimeSahasra Regime = "sahasra"
)

// Slots returns the capacity of the regime, or 0 if unknown.
func (r Regime) Slots() int {
	switch r {
	case RegimeAshta:
		return 8
	case RegimeShata:
		return 100
	case RegimeSahasra:
		return 1000
	}
	return 0
}

// Config is the AvadhanConfig plus the tunables the engine reads.
type Config struct {
	Regime              Regime  `json:"regime" yaml:"regime"`
	NumSlots            int     `json:"numSlots" yaml:"num_slots"`
	EncoderDim          int     `json:"encoderDim" yaml:"encoder_dim"`
	OrthogonalityWeight float64 `json:"orthogonalityWeight" yaml:"orthogonality_weight"`

	// ContrastiveTemp is only consumed by contrastive metric providers.
	ContrastiveTemp float64 `json:"contrastiveTemp" yaml:"contrastive_temp"`

	// ControllerLR is passed to controller updates; the EMA does not apply it yet.
	ControllerLR     float64 `json:"controllerLR" yaml:"controller_lr"`
	EnergyConstraint bool    `json:"energyConstraint" yaml:"energy_constraint"`

	AttentionBeta        float64 `json:"attentionBeta" yaml:"attention_beta"`
	FatigueDecay         float64 `json:"fatigueDecay" yaml:"fatigue_decay"`
	ConsolidateThreshold float64 `json:"consolidateThreshold" yaml:"consolidate_threshold"`
	BlendAlpha           float64 `json:"blendAlpha" yaml:"blend_alpha"`
	PriorityBump         float64 `json:"priorityBump" yaml:"priority_bump"`
	MetricsHistoryLimit  int     `json:"metricsHistoryLimit" yaml:"metrics_history_limit"`
}

// DefaultConfig returns the preset for a regime. Unknown regimes get Ashta.
func DefaultConfig(regime Regime) Config {
	cfg := Config{
		Regime:               RegimeAshta,
		NumSlots:             8,
		EncoderDim:           512,
		OrthogonalityWeight:  0.1,
		ContrastiveTemp:      0.07,
		ControllerLR:         1e-4,
		EnergyConstraint:     true,
		AttentionBeta:        1.0,
		FatigueDecay:         0.1,
		ConsolidateThreshold: 0.1,
		BlendAlpha:           0.7,
		PriorityBump:         0.1,
		MetricsHistoryLimit:  100,
	}
	switch regime {
	case RegimeShata:
		cfg.Regime = RegimeShata
		cfg.NumSlots = 100
	case RegimeSahasra:
		cfg.Regime = RegimeSahasra
		cfg.NumSlots = 1000
		cfg.ControllerLR = 1e-5
	}
	return cfg
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.Regime.Slots() == 0 {
		return fmt.Errorf("%w: unknown regime %q", ErrInvalidConfig, c.Regime)
	}
	if c.NumSlots <= 0 {
		return fmt.Errorf("%w: numSlots must be positive, got %d", ErrInvalidConfig, c.NumSlots)
	}
	if c.EncoderDim < 8 {
		return fmt.Errorf("%w: encoderDim must be at least 8, got %d", ErrInvalidConfig, c.EncoderDim)
	}
	if c.OrthogonalityWeight < 0 {
		return fmt.Errorf("%w: orthogonalityWeight must be non-negative", ErrInvalidConfig)
	}
	if c.ContrastiveTemp <= 0 {
		return fmt.Errorf("%w: contrastiveTemp must be positive", ErrInvalidConfig)
	}
	if c.BlendAlpha < 0 || c.BlendAlpha > 1 {
		return fmt.Errorf("%w: blendAlpha must be in [0,1], got %v", ErrInvalidConfig, c.BlendAlpha)
	}
	return nil
}

// WithRegime switches c to regime, taking the preset's slot count and
// controller learning rate. Other tunables are kept.
func (c Config) WithRegime(regime Regime) Config {
	preset := DefaultConfig(regime)
	c.Regime = regime
	c.NumSlots = preset.NumSlots
	c.ControllerLR = preset.ControllerLR
	return c
}

// WithDefaults fills zero-valued tunables from the regime preset.
func (c Config) WithDefaults() Config {
	d := DefaultConfig(c.Regime)
	if c.Regime == "" {
		c.Regime = d.Regime
	}
	if c.NumSlots == 0 {
		c.NumSlots = d.NumSlots
	}
	if c.EncoderDim == 0 {
		c.EncoderDim = d.EncoderDim
	}
	if c.ContrastiveTemp == 0 {
		c.ContrastiveTemp = d.ContrastiveTemp
	}
	if c.ControllerLR == 0 {
		c.ControllerLR = d.ControllerLR
	}
	if c.AttentionBeta == 0 {
		c.AttentionBeta = d.AttentionBeta
	}
	if c.FatigueDecay == 0 {
		c.FatigueDecay = d.FatigueDecay
	}
	if c.ConsolidateThreshold == 0 {
		c.ConsolidateThreshold = d.ConsolidateThreshold
	}
	if c.BlendAlpha == 0 {
		c.BlendAlpha = d.BlendAlpha
	}
	if c.PriorityBump == 0 {
		c.PriorityBump = d.PriorityBump
	}
	if c.MetricsHistoryLimit == 0 {
		c.MetricsHistoryLimit = d.MetricsHistoryLimit
	}
	return c
}
