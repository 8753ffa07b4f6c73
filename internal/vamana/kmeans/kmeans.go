// Package kmeans implements the k-means driver shared by PQ codebook
// fitting and partition-centroid selection. It is deliberately
// parameterized over distance.Kind rather than hardwired to one metric,
// since both callers need to share a single implementation.
package kmeans

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/therealutkarshpriyadarshi/vamana/internal/vamana/distance"
)

const (
	defaultMaxIterations = 50
	convergenceEpsilon   = 1e-6
)

// Result holds the fitted centroids and the cluster assignment of every
// input vector, ties broken by lower centroid index.
type Result struct {
	Centroids   [][]float32
	Assignments []int
}

// Fit runs k-means++ seeding followed by Lloyd iteration to convergence
// or a bounded number of iterations.
func Fit(vectors [][]float32, k int, kind distance.Kind, rng *rand.Rand) (*Result, error) {
	if len(vectors) < k {
		return nil, fmt.Errorf("not enough vectors (%d) for %d clusters", len(vectors), k)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("empty vectors")
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	dist := kind.Of()
	dim := len(vectors[0])
	centroids := make([][]float32, k)

	firstIdx := rng.Intn(len(vectors))
	centroids[0] = cloneVector(vectors[firstIdx])

	for c := 1; c < k; c++ {
		weights := make([]float32, len(vectors))
		var total float32
		for i, v := range vectors {
			min := nearestCentroidDistance(dist, v, centroids[:c])
			weights[i] = min * min
			total += weights[i]
		}
		if total > 0 {
			target := rng.Float32() * total
			var cumulative float32
			chosen := len(vectors) - 1
			for i, w := range weights {
				cumulative += w
				if cumulative >= target {
					chosen = i
					break
				}
			}
			centroids[c] = cloneVector(vectors[chosen])
		} else {
			centroids[c] = cloneVector(vectors[rng.Intn(len(vectors))])
		}
	}

	assignments := make([]int, len(vectors))
	for iter := 0; iter < defaultMaxIterations; iter++ {
		members := make([][]int, k)
		for i, v := range vectors {
			best := nearestCentroidIndex(dist, v, centroids)
			assignments[i] = best
			members[best] = append(members[best], i)
		}

		converged := true
		for c := range centroids {
			if len(members[c]) == 0 {
				continue // keep stale centroid rather than re-seed, matching the driver's own behavior
			}
			updated := make([]float32, dim)
			for _, idx := range members[c] {
				v := vectors[idx]
				for d := 0; d < dim; d++ {
					updated[d] += v[d]
				}
			}
			for d := 0; d < dim; d++ {
				updated[d] /= float32(len(members[c]))
			}
			if euclideanMove(centroids[c], updated) > convergenceEpsilon {
				converged = false
			}
			centroids[c] = updated
		}

		if converged {
			break
		}
	}

	return &Result{Centroids: centroids, Assignments: assignments}, nil
}

func nearestCentroidDistance(dist distance.Func, v []float32, centroids [][]float32) float32 {
	min := float32(math.MaxFloat32)
	for _, c := range centroids {
		if d := dist(v, c); d < min {
			min = d
		}
	}
	return min
}

// nearestCentroidIndex ties broken by lower centroid index, per the
// codebook-fit tie-break rule.
func nearestCentroidIndex(dist distance.Func, v []float32, centroids [][]float32) int {
	best := 0
	min := float32(math.MaxFloat32)
	for i, c := range centroids {
		if d := dist(v, c); d < min {
			min = d
			best = i
		}
	}
	return best
}

func euclideanMove(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

func cloneVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
