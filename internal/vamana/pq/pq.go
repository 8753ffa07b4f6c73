// Package pq implements the product-quantization codebook fit, encode,
// lookup-table, and distance-estimation layer used by the orchestrator
// and by DiskGraph's beam search.
package pq

import (
	"fmt"
	"math/rand"

	"github.com/therealutkarshpriyadarshi/vamana/internal/vamana/distance"
	"github.com/therealutkarshpriyadarshi/vamana/internal/vamana/kmeans"
)

// CentroidsPerSubspace is the fixed codebook cardinality C.
const CentroidsPerSubspace = 256

// Codebooks holds Q per-subspace codebooks of C centroids each, S floats
// wide. codebooks[q][c] is the centroid slice for quantizer q, code c.
type Codebooks struct {
	Q         int
	S         int
	D         int
	DistKind  distance.Kind
	codebooks [][][]float32
}

// Fit runs k-means over each S-wide column slice of the training vectors,
// producing Q codebooks of 256 centroids each.
func Fit(vectors [][]float32, q, s int, distKind distance.Kind, rng *rand.Rand) (*Codebooks, error) {
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no training data provided")
	}
	d := len(vectors[0])
	if d%s != 0 {
		return nil, fmt.Errorf("dimensions (%d) must be divisible by subvector length (%d)", d, s)
	}
	if d/s != q {
		return nil, fmt.Errorf("quantizer count mismatch: D/S=%d, got Q=%d", d/s, q)
	}

	cb := &Codebooks{Q: q, S: s, D: d, DistKind: distKind, codebooks: make([][][]float32, q)}

	for quantizer := 0; quantizer < q; quantizer++ {
		start := quantizer * s
		end := start + s
		sub := make([][]float32, len(vectors))
		for i, v := range vectors {
			slice := make([]float32, s)
			copy(slice, v[start:end])
			sub[i] = slice
		}
		k := CentroidsPerSubspace
		if k > len(sub) {
			k = len(sub)
		}
		res, err := kmeans.Fit(sub, k, distKind, rng)
		if err != nil {
			return nil, fmt.Errorf("k-means failed for subvector %d: %w", quantizer, err)
		}
		centroids := res.Centroids
		// Pad to CentroidsPerSubspace so every code byte [0,256) is valid,
		// even when the training set is smaller than C (degenerate/tiny N).
		for len(centroids) < CentroidsPerSubspace {
			centroids = append(centroids, centroids[len(centroids)%len(res.Centroids)])
		}
		cb.codebooks[quantizer] = centroids
	}

	return cb, nil
}

// Encode picks, for each quantizer, the code whose centroid minimizes the
// sub-distance to the corresponding slice of vector.
func (cb *Codebooks) Encode(vector []float32) []byte {
	dist := cb.DistKind.Of()
	codes := make([]byte, cb.Q)
	for quantizer := 0; quantizer < cb.Q; quantizer++ {
		start := quantizer * cb.S
		end := start + cb.S
		sub := vector[start:end]
		best := 0
		var bestDist float32
		for code, centroid := range cb.codebooks[quantizer] {
			d := dist(sub, centroid)
			if code == 0 || d < bestDist {
				bestDist = d
				best = code
			}
		}
		codes[quantizer] = byte(best)
	}
	return codes
}

// Decode concatenates codebooks[q][code[q]] back into a D-wide vector.
func (cb *Codebooks) Decode(code []byte) []float32 {
	out := make([]float32, cb.D)
	for quantizer := 0; quantizer < cb.Q; quantizer++ {
		centroid := cb.codebooks[quantizer][code[quantizer]]
		copy(out[quantizer*cb.S:(quantizer+1)*cb.S], centroid)
	}
	return out
}

// LookupTable is a per-query, per-(quantizer,code) additive sub-distance
// table: table[q*256+c].
type LookupTable []float32

// BuildLookupTable precomputes the sub-distance between query's sub-slice
// and every centroid in each codebook.
func (cb *Codebooks) BuildLookupTable(query []float32) LookupTable {
	dist := cb.DistKind.Of()
	table := make(LookupTable, cb.Q*CentroidsPerSubspace)
	for quantizer := 0; quantizer < cb.Q; quantizer++ {
		start := quantizer * cb.S
		end := start + cb.S
		sub := query[start:end]
		for code, centroid := range cb.codebooks[quantizer] {
			table[quantizer*CentroidsPerSubspace+code] = dist(sub, centroid)
		}
	}
	return table
}

// Estimate sums Q table lookups to approximate the distance between the
// query that built table and the vector that produced code.
func Estimate(code []byte, table LookupTable) float32 {
	var sum float32
	for quantizer, c := range code {
		sum += table[quantizer*CentroidsPerSubspace+int(c)]
	}
	return sum
}

// DistanceTables returns all pairwise sub-centroid distances, Q tables of
// C x C, used by PartitionAssign.
func (cb *Codebooks) DistanceTables() [][][]float32 {
	dist := cb.DistKind.Of()
	tables := make([][][]float32, cb.Q)
	for quantizer := 0; quantizer < cb.Q; quantizer++ {
		centroids := cb.codebooks[quantizer]
		table := make([][]float32, len(centroids))
		for i, a := range centroids {
			table[i] = make([]float32, len(centroids))
			for j, b := range centroids {
				table[i][j] = dist(a, b)
			}
		}
		tables[quantizer] = table
	}
	return tables
}

// codeDistance sums per-quantizer sub-centroid distances between two
// codes using precomputed distance tables.
func codeDistance(tables [][][]float32, a, b []byte) float32 {
	var sum float32
	for quantizer := range a {
		sum += tables[quantizer][a[quantizer]][b[quantizer]]
	}
	return sum
}

// PartitionAssign returns the two partition codes closest to code under
// PQ distance. If there is only a single partition candidate (N == 1
// dataset collapsed to one partition), p1 == p2 is permitted; otherwise
// the two returned indices must differ.
func PartitionAssign(tables [][][]float32, code []byte, partitionCentroidCodes [][]byte) (p1, p2 int, err error) {
	if len(partitionCentroidCodes) == 0 {
		return 0, 0, fmt.Errorf("no partition centroids supplied")
	}
	if len(partitionCentroidCodes) == 1 {
		return 0, 0, nil
	}

	bestDist := [2]float32{0, 0}
	best := [2]int{-1, -1}
	for i, centroidCode := range partitionCentroidCodes {
		d := codeDistance(tables, code, centroidCode)
		if best[0] == -1 || d < bestDist[0] {
			best[1], bestDist[1] = best[0], bestDist[0]
			best[0], bestDist[0] = i, d
		} else if best[1] == -1 || d < bestDist[1] {
			best[1], bestDist[1] = i, d
		}
	}
	if best[0] == best[1] {
		return 0, 0, fmt.Errorf("partition assignment collapsed to a single centroid for N > 1")
	}
	return best[0], best[1], nil
}
