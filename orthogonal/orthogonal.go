// Package orthogonal keeps slot vectors mutually non-interfering.
//
// Orthogonalize runs Gram-Schmidt over the slots in order; the remaining
// functions measure how far a slot set is from being orthogonal.
// Complexity is O(n²·d), which dominates a training step for large regimes.
package orthogonal

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/becomeliminal/avadhan/core"
	"github.com/becomeliminal/avadhan/encoder"
)

// Epsilon guards projections onto near-zero basis vectors.
const Epsilon = 1e-6

// Orthogonalize returns copies of slots whose vectors form an orthonormal set.
// Insertion order determines the resulting basis. A vector that collapses to
// below Epsilon after elimination is left unnormalized.
func Orthogonalize(slots []core.Slot) []core.Slot {
	out := core.CloneSlots(slots)
	basis := make([][]float64, 0, len(out))

	for i := range out {
		v := out[i].StateVector
		for _, u := range basis {
			if len(u) != len(v) {
				continue
			}
			uu := floats.Dot(u, u)
			if uu <= Epsilon {
				continue
			}
			floats.AddScaled(v, -floats.Dot(v, u)/uu, u)
		}
		if n := floats.Norm(v, 2); n > Epsilon {
			floats.Scale(1/n, v)
		}
		basis = append(basis, v)
	}
	return out
}

// unitRows stacks the normalized slot vectors into an n×d matrix.
// Slots whose dimension differs from the first slot contribute a zero row.
func unitRows(slots []core.Slot) *mat.Dense {
	if len(slots) == 0 {
		return nil
	}
	d := len(slots[0].StateVector)
	if d == 0 {
		return nil
	}
	q := mat.NewDense(len(slots), d, nil)
	for i, s := range slots {
		if len(s.StateVector) != d {
			continue
		}
		q.SetRow(i, encoder.Normalize(s.StateVector))
	}
	return q
}

// gram returns Q·Qᵀ for the normalized slot vectors.
func gram(slots []core.Slot) *mat.SymDense {
	q := unitRows(slots)
	if q == nil {
		return nil
	}
	var g mat.SymDense
	g.SymOuterK(1, q)
	return &g
}

// ComputeOrthogonalityMatrix returns the pairwise cosine-similarity matrix.
func ComputeOrthogonalityMatrix(slots []core.Slot) [][]float64 {
	n := len(slots)
	out := make([][]float64, n)
	g := gram(slots)
	for i := range out {
		out[i] = make([]float64, n)
		if g == nil {
			continue
		}
		for j := 0; j < n; j++ {
			out[i][j] = g.At(i, j)
		}
	}
	return out
}

// ComputeInterferenceScore is the mean absolute off-diagonal similarity.
// 0 means perfectly separated; collinear slots approach 1.
func ComputeInterferenceScore(slots []core.Slot) float64 {
	n := len(slots)
	if n < 2 {
		return 0
	}
	g := gram(slots)
	if g == nil {
		return 0
	}
	var total float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				total += math.Abs(g.At(i, j))
			}
		}
	}
	return total / float64(n*(n-1))
}

// ComputeOrthogonalityLoss returns beta·Σ_{i≠j}⟨Ŝi,Ŝj⟩².
func ComputeOrthogonalityLoss(slots []core.Slot, beta float64) float64 {
	n := len(slots)
	g := gram(slots)
	if g == nil {
		return 0
	}
	var loss float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i != j {
				ip := g.At(i, j)
				loss += ip * ip
			}
		}
	}
	return beta * loss
}

// ApplyRepulsion nudges each slot away from the others:
// Si' = normalize(Si − 4·lr·Σ_{j≠i} Qj·Qjᵀ·Si).
func ApplyRepulsion(slots []core.Slot, lr float64) []core.Slot {
	unit := make([][]float64, len(slots))
	for i, s := range slots {
		unit[i] = encoder.Normalize(s.StateVector)
	}

	out := core.CloneSlots(slots)
	for i := range out {
		si := slots[i].StateVector
		force := make([]float64, len(si))
		for j, qj := range unit {
			if i == j || len(qj) != len(si) {
				continue
			}
			floats.AddScaled(force, floats.Dot(qj, si), qj)
		}
		v := append([]float64(nil), si...)
		floats.AddScaled(v, -4*lr, force)
		out[i].StateVector = encoder.Normalize(v)
	}
	return out
}

// ContrastiveLoss is a scaled InfoNCE over the slot similarity matrix with
// temperature tau, using each slot as its own positive. It is a diagnostic;
// the default metrics do not call it.
func ContrastiveLoss(slots []core.Slot, tau float64) float64 {
	n := len(slots)
	if n < 2 || tau <= 0 {
		return 0
	}
	g := gram(slots)
	if g == nil {
		return 0
	}
	row := make([]float64, n)
	var total float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			row[j] = g.At(i, j) / tau
		}
		total += floats.LogSumExp(row) - row[i]
	}
	return 0.1 * total / float64(n)
}
