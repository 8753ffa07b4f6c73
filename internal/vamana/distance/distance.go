// Package distance implements the scalar and batched distance kernels
// used by graph construction and beam search.
package distance

import "math"

// Kind is the distance metric tag. Distances are always "smaller is
// closer"; NegDot negates the inner product to preserve that contract.
type Kind uint8

const (
	L2 Kind = iota
	NegDot
)

func (k Kind) String() string {
	switch k {
	case L2:
		return "l2"
	case NegDot:
		return "neg_dot"
	default:
		return "unknown"
	}
}

// Func computes the distance between two equal-length vectors.
type Func func(a, b []float32) float32

// Of returns the scalar kernel for k.
func (k Kind) Of() Func {
	switch k {
	case NegDot:
		return NegDotDistance
	default:
		return L2Distance
	}
}

// L2Distance returns the squared Euclidean distance. Never negative.
func L2Distance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}

// NegDotDistance returns the negated inner product.
func NegDotDistance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return -sum
}

// Batch4 computes query's distance to four candidates at once so the
// four independent memory streams interleave instead of stalling one at
// a time. Implementations without SIMD still group by four to preserve
// the same decision boundaries as a vectorized kernel.
func (k Kind) Batch4(query, a, b, c, d []float32) [4]float32 {
	f := k.Of()
	return [4]float32{f(query, a), f(query, b), f(query, c), f(query, d)}
}

// IsUninitialized reports the NaN sentinel callers use for "distance not
// yet computed" entries (see robustPrune's candidate-merge step).
func IsUninitialized(d float32) bool {
	return math.IsNaN(float64(d))
}

// Uninitialized is the NaN sentinel value.
func Uninitialized() float32 {
	return float32(math.NaN())
}
