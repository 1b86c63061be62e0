package encoder

import (
	"fmt"
	"math"

	"github.com/viterin/vek"
	"gonum.org/v1/gonum/floats"

	"github.com/becomeliminal/avadhan/core"
)

// normEpsilon is the norm below which a vector is treated as zero.
const normEpsilon = 1e-6

// Normalize returns v scaled to unit length, or the zero vector when |v| < 1e-6.
func Normalize(v []float64) []float64 {
	out := make([]float64, len(v))
	if len(v) == 0 {
		return out
	}
	n := floats.Norm(v, 2)
	if n < normEpsilon {
		return out
	}
	floats.ScaleTo(out, 1/n, v)
	return out
}

// CosineSimilarity returns 0 for mismatched or zero-length inputs.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	na := floats.Norm(a, 2)
	nb := floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

// EuclideanDistance returns +Inf for mismatched inputs.
func EuclideanDistance(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	return floats.Distance(a, b, 2)
}

// ComposeVectors blends alpha*existing + (1-alpha)*update and renormalizes.
func ComposeVectors(existing, update []float64, alpha float64) ([]float64, error) {
	if len(existing) != len(update) {
		return nil, fmt.Errorf("compose vectors: %w (%d vs %d)", core.ErrDimensionMismatch, len(existing), len(update))
	}
	if len(existing) == 0 {
		return []float64{}, nil
	}
	blended := vek.MulNumber(existing, alpha)
	vek.Add_Inplace(blended, vek.MulNumber(update, 1-alpha))
	return Normalize(blended), nil
}
