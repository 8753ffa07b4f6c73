// Package vamana implements a DiskANN/Vamana-family approximate nearest
// neighbor index: partitioned parallel graph construction, product
// quantization for in-memory distance estimation, and a paged
// memory-mapped on-disk layout served by beam search.
package vamana

import (
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"

	"github.com/therealutkarshpriyadarshi/vamana/internal/vamana/distance"
	"github.com/therealutkarshpriyadarshi/vamana/internal/vamana/kmeans"
	"github.com/therealutkarshpriyadarshi/vamana/internal/vamana/pagefile"
	"github.com/therealutkarshpriyadarshi/vamana/internal/vamana/pq"
	"github.com/therealutkarshpriyadarshi/vamana/pkg/observability"
)

// Index is the orchestrator that drives PQ fit -> dual partition
// assignment -> per-partition build -> merge -> DiskGraph handoff, and
// then serves queries against the result. Grounded structurally on
// pkg/diskann/index.go's Index/IndexConfig/New/Close shape and
// pkg/diskann/build.go's Build() pipeline, generalized from a single
// in-process graph into the partitioned pipeline this module requires.
type Index struct {
	name        string
	path        string
	d           int
	m           int
	l           int
	alpha       float64
	compression int
	distKind    distance.Kind

	logger  *observability.Logger
	metrics *observability.Metrics

	mu       sync.RWMutex
	built    bool
	graph    *DiskGraph
	scratchP sync.Pool
	throttle *QueryThrottle
}

// New validates construction parameters and returns an unbuilt Index.
// No file is created until BuildIndex runs.
func New(name, path string, d int, distKind distance.Kind, alpha float64, m, l, compression int) (*Index, error) {
	if d <= 0 {
		return nil, configErrorf("New", "dimension must be positive, got %d", d)
	}
	if m < 2 {
		return nil, configErrorf("New", "M must be >= 2, got %d", m)
	}
	if l < m {
		return nil, configErrorf("New", "L must be >= M=%d, got %d", m, l)
	}
	if alpha < 1.0 {
		return nil, configErrorf("New", "alpha must be >= 1.0, got %v", alpha)
	}
	if compression <= 0 || d*4%compression != 0 {
		return nil, configErrorf("New", "compression %d must divide D*4=%d evenly", compression, d*4)
	}
	q := d * 4 / compression
	if q <= 0 || q > d {
		return nil, configErrorf("New", "compression %d yields invalid quantizer count for D=%d", compression, d)
	}
	if d%(d/q) != 0 {
		return nil, configErrorf("New", "D=%d not evenly divisible into Q=%d subspaces", d, q)
	}

	idx := &Index{
		name:        name,
		path:        path,
		d:           d,
		m:           m,
		l:           l,
		alpha:       alpha,
		compression: compression,
		distKind:    distKind,
		logger:      observability.NewDefaultLogger().WithField("index", name),
	}
	idx.scratchP.New = func() interface{} { return NewSearchScratch(l) }
	return idx, nil
}

// SetMetrics attaches a Metrics instance the orchestrator reports build
// and query telemetry through. Optional; nil-safe if never called.
func (idx *Index) SetMetrics(m *observability.Metrics) {
	idx.metrics = m
}

// SetQueryThrottle bounds the rate of concurrent Nearest calls served
// against the shared mmap handle. Optional; nil-safe if never called.
func (idx *Index) SetQueryThrottle(t *QueryThrottle) {
	idx.throttle = t
}

// BuildIndex runs the full construction pipeline over reader, splitting
// the dataset into p partitions.
func (idx *Index) BuildIndex(p int, reader VectorReader) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n := reader.Size()
	idx.logger.Info("starting build", map[string]interface{}{"n": n, "partitions": p})

	if n == 0 {
		idx.logger.Info("build skipped: reader is empty")
		return nil
	}
	if reader.Dimensions() != idx.d {
		return configErrorf("BuildIndex", "reader dimension %d does not match index dimension %d", reader.Dimensions(), idx.d)
	}
	if p < 1 {
		return configErrorf("BuildIndex", "partitions must be >= 1, got %d", p)
	}

	rng := rand.New(rand.NewSource(1))

	vectors := make([][]float32, n)
	for i := 0; i < n; i++ {
		vectors[i] = reader.Read(i)
	}

	s := idx.d / (idx.d * 4 / idx.compression)
	q := idx.d / s
	codebook, err := pq.Fit(vectors, q, s, idx.distKind, rng)
	if err != nil {
		return configErrorf("BuildIndex", "pq fit: %v", err)
	}

	codes := make([][]byte, n)
	for i, v := range vectors {
		codes[i] = codebook.Encode(v)
	}

	effectiveP := p
	if effectiveP > n {
		effectiveP = n
	}
	centroidResult, err := kmeans.Fit(vectors, effectiveP, idx.distKind, rng)
	if err != nil {
		return configErrorf("BuildIndex", "partition centroid fit: %v", err)
	}
	partitionCodes := make([][]byte, len(centroidResult.Centroids))
	for i, c := range centroidResult.Centroids {
		partitionCodes[i] = codebook.Encode(c)
	}
	tables := codebook.DistanceTables()

	members := make([][]int, len(partitionCodes))
	for i := 0; i < n; i++ {
		p1, p2, err := pq.PartitionAssign(tables, codes[i], partitionCodes)
		if err != nil {
			return invariantErrorf("BuildIndex", "partition assignment for vertex %d: %v", i, err)
		}
		members[p1] = append(members[p1], i)
		if p2 != p1 {
			members[p2] = append(members[p2], i)
		}
	}

	layout := pagefile.NewLayout(idx.d, idx.m, 4096)
	pf, err := pagefile.Create(idx.path, n, layout)
	if err != nil {
		return ioErrorf("BuildIndex", "create paged file: %v", err)
	}

	partitions := make([]*PartitionGraph, 0, len(members))
	for pi, ids := range members {
		if len(ids) == 0 {
			continue
		}
		globalIDs := make([]uint32, len(ids))
		partVectors := make([][]float32, len(ids))
		for i, local := range ids {
			gid, err := reader.ID(local)
			if err != nil {
				return ioErrorf("BuildIndex", "reader id %d: %v", local, err)
			}
			globalIDs[i] = gid
			partVectors[i] = vectors[local]
		}

		idx.logger.Debug("building partition", map[string]interface{}{"partition": pi, "size": len(ids)})
		pg := NewPartitionGraph(globalIDs, partVectors, idx.d, idx.m, idx.l, idx.alpha, idx.distKind, rng)
		pg.Build()
		if err := pg.SaveVectorsToDisk(pf); err != nil {
			return err
		}
		pg.ConvertLocalEdgesToGlobal()
		pg.SortEdgesByGlobalIndex()
		partitions = append(partitions, pg)
	}

	if err := MergePartitions(pf, partitions, n, idx.m, rng); err != nil {
		return err
	}

	globalMedoid := meanVectorMedoid(vectors, idx.distKind.Of())
	medoidGID, err := reader.ID(globalMedoid)
	if err != nil {
		return ioErrorf("BuildIndex", "reader id for medoid: %v", err)
	}

	idx.graph = NewDiskGraph(pf, codebook, medoidGID, idx.distKind)
	idx.built = true

	if idx.metrics != nil {
		for g := uint32(0); g < uint32(n); g++ {
			_, _, degree := pf.ReadRecord(g)
			idx.metrics.RecordVertexDegree(int(degree))
		}
	}

	idx.logger.Info("build complete", map[string]interface{}{"n": n})
	return nil
}

func meanVectorMedoid(vectors [][]float32, distFunc distance.Func) int {
	d := len(vectors[0])
	mean := make([]float32, d)
	for _, v := range vectors {
		for i, x := range v {
			mean[i] += x
		}
	}
	for i := range mean {
		mean[i] /= float32(len(vectors))
	}
	best := 0
	bestDist := distFunc(vectors[0], mean)
	for i := 1; i < len(vectors); i++ {
		dist := distFunc(vectors[i], mean)
		if dist < bestDist {
			bestDist = dist
			best = i
		}
	}
	return best
}

// Nearest runs beam search for the k nearest neighbors of query, writing
// results into out (reused across calls) and returning the filled
// prefix.
func (idx *Index) Nearest(query []float32, out []uint32, k int) ([]uint32, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.built {
		return nil, notFoundErrorf("Nearest", "index has not been built")
	}
	if len(query) != idx.d {
		return nil, notFoundErrorf("Nearest", "query dimension %d does not match index dimension %d", len(query), idx.d)
	}
	if k <= 0 {
		return nil, configErrorf("Nearest", "k must be positive, got %d", k)
	}
	if idx.throttle != nil && !idx.throttle.Allow() {
		return nil, throttledErrorf("Nearest", "query rate exceeded")
	}

	scratch := idx.scratchP.Get().(*SearchScratch)
	scratch.Reset()
	defer idx.scratchP.Put(scratch)

	result := idx.graph.GreedySearchNearest(scratch, query, k, out)

	if idx.metrics != nil {
		idx.metrics.UpdatePQErrorAvg(idx.graph.GetPQErrorAvg())
	}
	return result, nil
}

// GetPQErrorAvg returns the mean absolute PQ estimation error since the
// last ResetPQErrorStat.
func (idx *Index) GetPQErrorAvg() float32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.graph == nil {
		return 0
	}
	return idx.graph.GetPQErrorAvg()
}

// ResetPQErrorStat zeroes the accumulated PQ error diagnostics.
func (idx *Index) ResetPQErrorStat() {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.graph != nil {
		idx.graph.ResetPQErrorStat()
	}
}

// Close unmaps and closes the underlying paged file, if built.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if idx.graph == nil {
		return nil
	}
	if err := idx.graph.Close(); err != nil {
		return fmt.Errorf("failed to close disk graph: %w", err)
	}
	return nil
}

// DataDir returns the directory containing the index's paged file, for
// callers that need to locate scratch/companion files.
func (idx *Index) DataDir() string {
	return filepath.Dir(idx.path)
}
