package vamana

import (
	"sync/atomic"

	"github.com/therealutkarshpriyadarshi/vamana/internal/vamana/distance"
	"github.com/therealutkarshpriyadarshi/vamana/internal/vamana/pagefile"
	"github.com/therealutkarshpriyadarshi/vamana/internal/vamana/pq"
	"github.com/therealutkarshpriyadarshi/vamana/internal/vamana/queue"
)

// DiskGraph serves beam search over a memory-mapped paged graph file,
// scoring candidates with cheap PQ estimates and promoting the
// best-looking ones to precise on-demand re-scoring. Grounded on
// pkg/diskann/search.go's four-phase Search (searchMemoryGraph ->
// beamSearchDisk -> rerank -> convert), generalized from per-node
// os.File reads to pagefile-addressed mmap reads, and collapsed from
// four phases into one since there is no separate in-memory entry-point
// graph here -- the medoid is the single entry point.
type DiskGraph struct {
	pf       *pagefile.File
	codebook *pq.Codebooks
	medoid   uint32
	distKind distance.Kind

	pqReCalculated        uint64
	pqReCalculationErrSum uint64 // fixed-point sum of |estimate - precise| scaled by 1e6, see GetPQErrorAvg
}

// NewDiskGraph wraps an already-populated paged file for querying.
func NewDiskGraph(pf *pagefile.File, codebook *pq.Codebooks, medoid uint32, kind distance.Kind) *DiskGraph {
	return &DiskGraph{pf: pf, codebook: codebook, medoid: medoid, distKind: kind}
}

// SearchScratch is the thread-local context a caller reuses across
// queries: visited set, PQ lookup table, candidate queue, and result
// buffer, created once and Reset between queries rather than allocated
// per call.
type SearchScratch struct {
	visited map[uint32]bool
	queue   *queue.Queue
	results [4]queue.Candidate
}

// NewSearchScratch allocates a scratch context bounded to beam width l.
func NewSearchScratch(l int) *SearchScratch {
	return &SearchScratch{visited: make(map[uint32]bool, l*4), queue: queue.New(l)}
}

// Reset clears the scratch context for reuse on the next query.
func (s *SearchScratch) Reset() {
	for k := range s.visited {
		delete(s.visited, k)
	}
	s.queue.Reset()
}

// GreedySearchNearest runs beam search from the stored medoid for the
// k nearest neighbors of query, writing results (ascending by distance)
// into out and returning the slice actually filled (len(out) may exceed
// the number of vertices in the graph).
//
// A candidate pulled off the frontier is expanded (its neighbors read
// and inserted) only once it carries a precise distance. A PQ-estimate
// candidate is instead promoted: gathered into a batch of up to four
// with its closest PQ-estimate neighbors, re-scored in one call to the
// batched 1x4 kernel, and re-inserted at its corrected position, where
// it becomes eligible for NextUnchecked again on a later pass.
func (g *DiskGraph) GreedySearchNearest(scratch *SearchScratch, query []float32, k int, out []uint32) []uint32 {
	table := g.codebook.BuildLookupTable(query)

	start := g.medoid
	startPQ := g.estimate(start, table)
	scratch.queue.Insert(start, startPQ, true)
	scratch.visited[start] = true

	for {
		cand, idx, ok := scratch.queue.NextUnchecked()
		if !ok {
			break
		}

		if cand.IsPQ {
			g.promoteBatch(scratch, query, idx)
			continue
		}

		_, edges, degree := g.pf.ReadRecord(cand.VertexID)
		for i := 0; i < int(degree); i++ {
			n := uint32(edges[i])
			if scratch.visited[n] {
				continue
			}
			scratch.visited[n] = true
			d := g.estimate(n, table)
			scratch.queue.Insert(n, d, true)
		}
	}

	held := scratch.queue.All()
	n := k
	if n > len(held) {
		n = len(held)
	}
	if n > len(out) {
		n = len(out)
	}
	for i := 0; i < n; i++ {
		out[i] = held[i].VertexID
	}
	return out[:n]
}

// promoteBatch gathers firstIdx and up to three more not-yet-checked
// PQ-estimate candidates closest to it in the frontier, precisely
// re-scores all of them with one Batch4 call, and re-inserts each via
// Resort. Short batches pad the kernel's unused lanes with query itself;
// the corresponding result lanes are discarded. The scan cursor is then
// moved back to the lowest position any re-keyed candidate landed at.
func (g *DiskGraph) promoteBatch(scratch *SearchScratch, query []float32, firstIdx int) {
	q := scratch.queue
	batch := scratch.results[:0:4]
	batch = append(batch, q.Peek(firstIdx))

	for scan := firstIdx + 1; scan < q.Len() && len(batch) < 4; scan++ {
		peeked := q.Peek(scan)
		if peeked.Checked() || !peeked.IsPQ {
			continue
		}
		batch = append(batch, peeked)
	}

	var vecs [4][]float32
	for i := 0; i < 4; i++ {
		if i < len(batch) {
			vecs[i], _, _ = g.pf.ReadRecord(batch[i].VertexID)
		} else {
			vecs[i] = query
		}
	}
	precise := g.distKind.Batch4(query, vecs[0], vecs[1], vecs[2], vecs[3])

	cursor := firstIdx
	for i, b := range batch {
		g.recordPQError(b.Distance, precise[i])
		curIdx := q.IndexOf(b.VertexID)
		if newIdx := q.Resort(curIdx, precise[i], false); newIdx < cursor {
			cursor = newIdx
		}
	}
	q.SetCursor(cursor)
}

func (g *DiskGraph) estimate(gid uint32, table pq.LookupTable) float32 {
	return pq.Estimate(g.codeOf(gid), table)
}

// codeOf re-derives a vertex's PQ code from its stored vector. The paged
// layout does not carry codes directly (§3 keeps PQ codes in a separate
// N*Q byte array in the data model, owned by the orchestrator); DiskGraph
// only holds the codebook, so it encodes on demand from the full vector
// it already has mapped.
func (g *DiskGraph) codeOf(gid uint32) []byte {
	vec, _, _ := g.pf.ReadRecord(gid)
	return g.codebook.Encode(vec)
}

// recordPQError accumulates |estimate - precise| for GetPQErrorAvg
// diagnostics.
func (g *DiskGraph) recordPQError(estimate, precise float32) {
	diff := estimate - precise
	if diff < 0 {
		diff = -diff
	}
	atomic.AddUint64(&g.pqReCalculated, 1)
	atomic.AddUint64(&g.pqReCalculationErrSum, uint64(diff*1e6)) // fixed-point accumulator, six decimal digits of precision
}

// GetPQErrorAvg returns the mean absolute PQ estimation error observed
// since the last ResetPQErrorStat.
func (g *DiskGraph) GetPQErrorAvg() float32 {
	n := atomic.LoadUint64(&g.pqReCalculated)
	if n == 0 {
		return 0
	}
	sum := atomic.LoadUint64(&g.pqReCalculationErrSum)
	return float32(sum) / 1e6 / float32(n)
}

// ResetPQErrorStat zeroes the accumulated PQ error diagnostics.
func (g *DiskGraph) ResetPQErrorStat() {
	atomic.StoreUint64(&g.pqReCalculated, 0)
	atomic.StoreUint64(&g.pqReCalculationErrSum, 0)
}

// Close unmaps and closes the underlying paged file.
func (g *DiskGraph) Close() error {
	return g.pf.Close()
}
