package pq

import (
	"math/rand"
	"testing"

	"github.com/therealutkarshpriyadarshi/vamana/internal/vamana/distance"
)

func trainingVectors(n, d int, rng *rand.Rand) [][]float32 {
	vectors := make([][]float32, n)
	for i := range vectors {
		v := make([]float32, d)
		for j := range v {
			v[j] = rng.Float32()
		}
		vectors[i] = v
	}
	return vectors
}

func TestFitEncodeDecodeRoundTripIsClose(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	d, s, q := 8, 2, 4
	vectors := trainingVectors(300, d, rng)

	cb, err := Fit(vectors, q, s, distance.L2, rng)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	target := vectors[0]
	code := cb.Encode(target)
	if len(code) != q {
		t.Fatalf("code length = %d, want %d", len(code), q)
	}
	decoded := cb.Decode(code)
	if len(decoded) != d {
		t.Fatalf("decoded length = %d, want %d", len(decoded), d)
	}

	distFunc := distance.L2.Of()
	if got := distFunc(target, decoded); got > 1.0 {
		t.Fatalf("decoded vector is too far from the original: %v", got)
	}
}

func TestFitRejectsBadDivisibility(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	vectors := trainingVectors(10, 9, rng)
	if _, err := Fit(vectors, 3, 4, distance.L2, rng); err == nil {
		t.Fatalf("expected Fit to reject a subvector length that doesn't divide D")
	}
}

func TestEstimateApproximatesPreciseDistance(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	d, s, q := 8, 2, 4
	vectors := trainingVectors(300, d, rng)

	cb, err := Fit(vectors, q, s, distance.L2, rng)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}

	query := vectors[5]
	table := cb.BuildLookupTable(query)
	code := cb.Encode(vectors[10])
	estimate := Estimate(code, table)

	distFunc := distance.L2.Of()
	precise := distFunc(query, vectors[10])

	diff := estimate - precise
	if diff < 0 {
		diff = -diff
	}
	if diff > precise+1.0 {
		t.Fatalf("PQ estimate %v is wildly off from precise distance %v", estimate, precise)
	}
}

func TestPartitionAssignSingleCentroidCollapses(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	d, s, q := 4, 2, 2
	vectors := trainingVectors(50, d, rng)
	cb, err := Fit(vectors, q, s, distance.L2, rng)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	tables := cb.DistanceTables()
	code := cb.Encode(vectors[0])
	partitionCodes := [][]byte{cb.Encode(vectors[1])}

	p1, p2, err := PartitionAssign(tables, code, partitionCodes)
	if err != nil {
		t.Fatalf("PartitionAssign: %v", err)
	}
	if p1 != 0 || p2 != 0 {
		t.Fatalf("single-centroid PartitionAssign = (%d,%d), want (0,0)", p1, p2)
	}
}

func TestPartitionAssignReturnsDistinctCentroids(t *testing.T) {
	rng := rand.New(rand.NewSource(14))
	d, s, q := 4, 2, 2
	vectors := trainingVectors(80, d, rng)
	cb, err := Fit(vectors, q, s, distance.L2, rng)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	tables := cb.DistanceTables()
	code := cb.Encode(vectors[0])

	partitionCodes := [][]byte{cb.Encode(vectors[1]), cb.Encode(vectors[40]), cb.Encode(vectors[79])}
	p1, p2, err := PartitionAssign(tables, code, partitionCodes)
	if err != nil {
		t.Fatalf("PartitionAssign: %v", err)
	}
	if p1 == p2 {
		t.Fatalf("PartitionAssign returned the same centroid twice for N > 1: %d", p1)
	}
	if p1 < 0 || p1 >= len(partitionCodes) || p2 < 0 || p2 >= len(partitionCodes) {
		t.Fatalf("PartitionAssign returned out-of-range indices (%d, %d)", p1, p2)
	}
}
