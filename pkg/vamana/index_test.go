package vamana

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/therealutkarshpriyadarshi/vamana/internal/vamana/distance"
)

func TestIndexBuildAndNearestFindsExactMatch(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	d := 8
	n := 60
	vectors := randomVectors(n, d, rng)

	reader, err := NewSliceReader(vectors, nil)
	if err != nil {
		t.Fatalf("NewSliceReader: %v", err)
	}

	dir := t.TempDir()
	idx, err := New("test-index", filepath.Join(dir, "index.graph"), d, distance.L2, 1.2, 6, 20, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer idx.Close()

	if err := idx.BuildIndex(4, reader); err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}

	target := 7
	out := make([]uint32, 3)
	got, err := idx.Nearest(vectors[target], out, 3)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if len(got) == 0 {
		t.Fatalf("expected at least one result")
	}
	if got[0] != uint32(target) {
		t.Fatalf("nearest to vectors[%d] = vertex %d, want %d", target, got[0], target)
	}
}

func TestIndexBuildEmptyReaderIsNoop(t *testing.T) {
	reader, err := NewSliceReader(nil, nil)
	if err != nil {
		t.Fatalf("NewSliceReader: %v", err)
	}

	dir := t.TempDir()
	idx, err := New("empty", filepath.Join(dir, "index.graph"), 8, distance.L2, 1.2, 6, 20, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer idx.Close()

	if err := idx.BuildIndex(4, reader); err != nil {
		t.Fatalf("BuildIndex on an empty reader should return cleanly, got: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "index.graph")); !os.IsNotExist(err) {
		t.Fatalf("BuildIndex on an empty reader should not create a file, stat err = %v", err)
	}

	out := make([]uint32, 3)
	_, err = idx.Nearest(make([]float32, 8), out, 3)
	if _, ok := err.(*NotFound); !ok {
		t.Fatalf("expected Nearest on an unbuilt index to return *NotFound, got %T: %v", err, err)
	}
}

func TestIndexBuildSingleVector(t *testing.T) {
	rng := rand.New(rand.NewSource(22))
	d := 4
	vectors := randomVectors(1, d, rng)

	reader, err := NewSliceReader(vectors, nil)
	if err != nil {
		t.Fatalf("NewSliceReader: %v", err)
	}

	dir := t.TempDir()
	idx, err := New("single", filepath.Join(dir, "index.graph"), d, distance.L2, 1.2, 4, 8, 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer idx.Close()

	if err := idx.BuildIndex(4, reader); err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}

	out := make([]uint32, 5)
	got, err := idx.Nearest(vectors[0], out, 5)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if len(got) != 1 || got[0] != 0 {
		t.Fatalf("Nearest on a single-vector index = %v, want [0]", got)
	}
}

func TestIndexNearestBeforeBuildReturnsNotFound(t *testing.T) {
	dir := t.TempDir()
	idx, err := New("unbuilt", filepath.Join(dir, "index.graph"), 8, distance.L2, 1.2, 6, 20, 16)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out := make([]uint32, 3)
	_, err = idx.Nearest(make([]float32, 8), out, 3)
	if err == nil {
		t.Fatalf("expected an error before BuildIndex has run")
	}
	if _, ok := err.(*NotFound); !ok {
		t.Fatalf("expected *NotFound, got %T: %v", err, err)
	}
}

func TestIndexNearestKExceedsN(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	d := 6
	n := 5
	vectors := randomVectors(n, d, rng)

	reader, err := NewSliceReader(vectors, nil)
	if err != nil {
		t.Fatalf("NewSliceReader: %v", err)
	}

	dir := t.TempDir()
	idx, err := New("small", filepath.Join(dir, "index.graph"), d, distance.L2, 1.2, 4, 8, 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer idx.Close()

	if err := idx.BuildIndex(2, reader); err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}

	out := make([]uint32, 50)
	got, err := idx.Nearest(vectors[0], out, 50)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if len(got) > n {
		t.Fatalf("Nearest returned %d results, more than N=%d vertices", len(got), n)
	}
}

func TestNewRejectsInvalidCompression(t *testing.T) {
	dir := t.TempDir()
	if _, err := New("bad", filepath.Join(dir, "index.graph"), 10, distance.L2, 1.2, 6, 20, 3); err == nil {
		t.Fatalf("expected New to reject a compression ratio that doesn't divide D*4 evenly")
	}
}

func TestNewRejectsLLessThanM(t *testing.T) {
	dir := t.TempDir()
	if _, err := New("bad", filepath.Join(dir, "index.graph"), 8, distance.L2, 1.2, 20, 6, 16); err == nil {
		t.Fatalf("expected New to reject L < M")
	}
}

func TestNearestRejectsWhenThrottled(t *testing.T) {
	rng := rand.New(rand.NewSource(24))
	d := 6
	vectors := randomVectors(20, d, rng)

	reader, err := NewSliceReader(vectors, nil)
	if err != nil {
		t.Fatalf("NewSliceReader: %v", err)
	}

	dir := t.TempDir()
	idx, err := New("throttled", filepath.Join(dir, "index.graph"), d, distance.L2, 1.2, 4, 8, 8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer idx.Close()

	if err := idx.BuildIndex(2, reader); err != nil {
		t.Fatalf("BuildIndex: %v", err)
	}

	idx.SetQueryThrottle(NewQueryThrottle(0, 1))

	out := make([]uint32, 3)
	if _, err := idx.Nearest(vectors[0], out, 3); err != nil {
		t.Fatalf("first Nearest should consume the single burst slot, got error: %v", err)
	}
	_, err = idx.Nearest(vectors[0], out, 3)
	if err == nil {
		t.Fatalf("expected the second Nearest to be throttled")
	}
	if _, ok := err.(*Throttled); !ok {
		t.Fatalf("expected *Throttled, got %T: %v", err, err)
	}
}
