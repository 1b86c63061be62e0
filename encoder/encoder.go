// Package encoder turns text into fixed-size feature vectors.
//
// The encoder has no learned weights. A vector is laid out in quarters:
// character codes, hashed words, hashed character trigrams, and text
// statistics followed by low-amplitude noise. The first three quarters are
// a pure function of the text; only the noise tail varies between calls.
package encoder

import (
	"hash/fnv"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/viterin/vek"
	"gonum.org/v1/gonum/floats"
)

// noiseAmplitude bounds the random filler to [-0.05, 0.05).
const noiseAmplitude = 0.1

// Encoder is a deterministic featurizer with a seeded noise source.
// It is safe for concurrent use.
type Encoder struct {
	dim   int
	mu    sync.Mutex
	rng   *rand.Rand
	cache *ristretto.Cache
}

// Option configures an Encoder.
type Option func(*Encoder)

// WithSeed makes the noise tail reproducible.
func WithSeed(seed uint64) Option {
	return func(e *Encoder) {
		e.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithCache memoizes the deterministic features of recently seen texts.
func WithCache(cache *ristretto.Cache) Option {
	return func(e *Encoder) {
		e.cache = cache
	}
}

// NewFeatureCache builds a ristretto cache sized for roughly maxVectors vectors of dim floats.
func NewFeatureCache(maxVectors, dim int) (*ristretto.Cache, error) {
	if maxVectors <= 0 {
		maxVectors = 1024
	}
	return ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(maxVectors) * 10,
		MaxCost:     int64(maxVectors) * int64(dim) * 8,
		BufferItems: 64,
	})
}

// New creates an encoder producing dim-sized vectors.
func New(dim int, opts ...Option) *Encoder {
	e := &Encoder{dim: dim}
	for _, opt := range opts {
		opt(e)
	}
	if e.rng == nil {
		seed := uint64(time.Now().UnixNano())
		e.rng = rand.New(rand.NewPCG(seed, seed>>1))
	}
	return e
}

// Dimensions returns the vector size.
func (e *Encoder) Dimensions() int {
	return e.dim
}

// Encode converts text to a unit vector. Empty text yields unnormalized noise.
func (e *Encoder) Encode(text string) []float64 {
	if text == "" {
		return e.noise(make([]float64, e.dim), 0)
	}

	vec := e.features(text)
	filled := 3*(e.dim/4) + 4
	if filled > e.dim {
		filled = e.dim
	}
	e.noise(vec, filled)

	// The noise tail is pinned to its expected norm so the deterministic
	// quarters are divided by the same normalizer on every call.
	tail := vec[filled:]
	tailNorm := noiseAmplitude / 2 / math.Sqrt(3) * math.Sqrt(float64(len(tail)))
	if got := floats.Norm(tail, 2); got > 0 {
		floats.Scale(tailNorm/got, tail)
	} else {
		tailNorm = 0
	}
	headNorm := floats.Norm(vec[:filled], 2)
	total := math.Sqrt(headNorm*headNorm + tailNorm*tailNorm)
	if total < normEpsilon {
		return make([]float64, e.dim)
	}
	floats.Scale(1/total, vec)
	return vec
}

// EncodeTexts averages the encodings of texts and renormalizes.
func (e *Encoder) EncodeTexts(texts []string) []float64 {
	if len(texts) == 0 {
		return e.RandomVector()
	}
	sum := make([]float64, e.dim)
	for _, t := range texts {
		vek.Add_Inplace(sum, e.Encode(t))
	}
	vek.MulNumber_Inplace(sum, 1/float64(len(texts)))
	return Normalize(sum)
}

// RandomVector returns a random unit vector.
func (e *Encoder) RandomVector() []float64 {
	v := make([]float64, e.dim)
	e.mu.Lock()
	for i := range v {
		v[i] = e.rng.Float64()*2 - 1
	}
	e.mu.Unlock()
	return Normalize(v)
}

// Encode is a convenience for one-off encodings without a cache.
func Encode(text string, dim int) []float64 {
	return New(dim).Encode(text)
}

func (e *Encoder) noise(vec []float64, from int) []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := from; i < len(vec); i++ {
		vec[i] = e.rng.Float64()*noiseAmplitude - noiseAmplitude/2
	}
	return vec
}

// features returns the deterministic part of the encoding, consulting the cache.
func (e *Encoder) features(text string) []float64 {
	if e.cache != nil {
		if cached, ok := e.cache.Get(text); ok {
			if v, ok := cached.([]float64); ok && len(v) == e.dim {
				return append([]float64(nil), v...)
			}
		}
	}

	vec := computeFeatures(text, e.dim)
	if e.cache != nil {
		e.cache.Set(text, append([]float64(nil), vec...), int64(e.dim)*8)
	}
	return vec
}

func computeFeatures(text string, dim int) []float64 {
	vec := make([]float64, dim)
	q := dim / 4
	lower := []rune(strings.ToLower(text))

	for i := 0; i < len(lower) && i < q; i++ {
		vec[i] = float64(lower[i]%128)/128 - 0.5
	}

	words := strings.Fields(strings.ToLower(text))
	for i := 0; i < len(words) && i < q; i++ {
		vec[q+i] = hashFeature(words[i])
	}

	grams := trigrams(lower)
	for i := 0; i < len(grams) && i < q; i++ {
		vec[2*q+i] = hashFeature(grams[i])
	}

	runes := []rune(text)
	var sentences, capitals int
	for _, r := range runes {
		switch {
		case r == '.' || r == '!' || r == '?':
			sentences++
		case r >= 'A' && r <= 'Z':
			capitals++
		}
	}
	stats := []float64{
		float64(len(runes)) / 1000,
		float64(len(words)) / 100,
		float64(sentences) / 10,
		float64(capitals) / float64(len(runes)),
	}
	for i, s := range stats {
		if 3*q+i < dim {
			vec[3*q+i] = s
		}
	}
	return vec
}

// hashFeature maps a token to [-0.5, 0.5).
func hashFeature(token string) float64 {
	h := fnv.New32a()
	h.Write([]byte(token))
	return float64(h.Sum32()%1000)/1000 - 0.5
}

func trigrams(runes []rune) []string {
	if len(runes) < 3 {
		return nil
	}
	out := make([]string, 0, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		out = append(out, string(runes[i:i+3]))
	}
	return out
}
