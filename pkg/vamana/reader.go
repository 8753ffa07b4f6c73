package vamana

import "fmt"

// VectorReader is the consumed source-of-truth for vectors being
// indexed: count, dimension, random access to vectors and external ids.
type VectorReader interface {
	Size() int
	Dimensions() int
	Read(i int) []float32
	ID(i int) (uint32, error)
	Close() error
}

// SliceReader is an in-memory VectorReader over a dense slice of
// vectors, generalized from the build-queue staging arrays the teacher
// keeps inline on its Index type (buildVectors/buildIDs) into a
// standalone reader so BuildIndex depends on an interface instead of an
// internal field.
type SliceReader struct {
	vectors [][]float32
	ids     []uint32
	dim     int
}

// NewSliceReader wraps vectors (all of equal length) with optional
// external ids; when ids is nil, ID(i) returns i itself.
func NewSliceReader(vectors [][]float32, ids []uint32) (*SliceReader, error) {
	if len(vectors) > 0 {
		dim := len(vectors[0])
		for i, v := range vectors {
			if len(v) != dim {
				return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), dim)
			}
		}
		if ids != nil && len(ids) != len(vectors) {
			return nil, fmt.Errorf("ids length %d does not match vectors length %d", len(ids), len(vectors))
		}
		return &SliceReader{vectors: vectors, ids: ids, dim: dim}, nil
	}
	return &SliceReader{vectors: vectors, ids: ids}, nil
}

func (r *SliceReader) Size() int       { return len(r.vectors) }
func (r *SliceReader) Dimensions() int { return r.dim }
func (r *SliceReader) Read(i int) []float32 { return r.vectors[i] }

func (r *SliceReader) ID(i int) (uint32, error) {
	if r.ids == nil {
		return uint32(i), nil
	}
	return r.ids[i], nil
}

func (r *SliceReader) Close() error { return nil }
