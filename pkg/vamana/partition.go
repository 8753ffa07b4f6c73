package vamana

import (
	"bytes"
	"math/rand"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/therealutkarshpriyadarshi/vamana/internal/vamana/distance"
	"github.com/therealutkarshpriyadarshi/vamana/internal/vamana/pagefile"
	"github.com/therealutkarshpriyadarshi/vamana/internal/vamana/queue"
)

// goroutineID extracts the calling goroutine's id from its own stack
// trace header ("goroutine 123 [running]: ..."). Used only by acquire's
// re-entrancy guard below, never on a hot path that doesn't already
// expect to block.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := bytes.TrimPrefix(buf[:n], []byte("goroutine "))
	if i := bytes.IndexByte(b, ' '); i >= 0 {
		b = b[:i]
	}
	id, _ := strconv.ParseUint(string(b), 10, 64)
	return id
}

// candEntry is a (vertex, distance) pair used while pruning; dist may be
// the NaN "uninitialized" sentinel until filled in by a precise
// distance pass.
type candEntry struct {
	id   int32
	dist float32
}

// PartitionGraph is the per-partition in-memory mutable graph
// (MutablePartitionGraph in the data model): a directed graph where
// every vertex holds at most M out-edges, built by the Vamana
// construction loop below.
type PartitionGraph struct {
	Size          int
	LocalToGlobal []uint32
	Vectors       []float32 // size*D; released after SaveVectorsToDisk
	D             int
	M             int
	L             int // maxAmountOfCandidates beam width for harvesting
	Alpha         float64
	DistKind      distance.Kind

	edges       []int32 // size*(M+1): slot 0 is degree, 1..M are neighbor ids
	edgeVersion []uint64
	lockHolder  []uint64 // goroutine id holding v's lock; valid only while edgeVersion[v] is odd

	medoidLocal int
	medoidSet   bool

	distFunc distance.Func
	rng      *rand.Rand
}

// NewPartitionGraph builds a partition over the given global ids and
// their full-precision vectors.
func NewPartitionGraph(globalIDs []uint32, vectors [][]float32, d, m, l int, alpha float64, kind distance.Kind, rng *rand.Rand) *PartitionGraph {
	size := len(globalIDs)
	pg := &PartitionGraph{
		Size:          size,
		LocalToGlobal: append([]uint32(nil), globalIDs...),
		Vectors:       make([]float32, size*d),
		D:             d,
		M:             m,
		L:             l,
		Alpha:         alpha,
		DistKind:      kind,
		edges:         make([]int32, size*(m+1)),
		edgeVersion:   make([]uint64, size),
		lockHolder:    make([]uint64, size),
		distFunc:      kind.Of(),
		rng:           rng,
	}
	for i, v := range vectors {
		copy(pg.Vectors[i*d:(i+1)*d], v)
	}
	return pg
}

func (pg *PartitionGraph) vectorOf(local int) []float32 {
	return pg.Vectors[local*pg.D : (local+1)*pg.D]
}

// generateRandomEdges seeds each vertex with min(size-1, M) random
// distinct neighbors drawn from a shuffled permutation, reusing the
// shuffle and refreshing it once exhausted.
func (pg *PartitionGraph) generateRandomEdges() {
	if pg.Size <= 1 {
		return
	}

	perm := pg.rng.Perm(pg.Size)
	cursor := 0
	next := func() int {
		if cursor >= len(perm) {
			perm = pg.rng.Perm(pg.Size)
			cursor = 0
		}
		v := perm[cursor]
		cursor++
		return v
	}

	need := pg.Size - 1
	if need > pg.M {
		need = pg.M
	}

	for v := 0; v < pg.Size; v++ {
		neighbors := make([]int32, 0, need)
		seen := make(map[int]bool, need)
		for len(neighbors) < need {
			c := next()
			if c == v || seen[c] {
				continue
			}
			seen[c] = true
			neighbors = append(neighbors, int32(c))
		}
		base := v * (pg.M + 1)
		pg.edges[base] = int32(len(neighbors))
		copy(pg.edges[base+1:base+1+len(neighbors)], neighbors)
	}
}

// --- per-vertex seqlock -----------------------------------------------

// acquire implements the even->odd CAS exclusive-lock half of the
// versioned seqlock. No code path in this package ever nests an acquire
// of the same vertex, but a re-entrant acquire from the same goroutine
// would otherwise spin forever waiting on a version it can never see
// flip back to even, so it fails fast as an InvariantViolation instead
// (§5).
func (pg *PartitionGraph) acquire(v int) {
	self := goroutineID()
	for {
		old := atomic.LoadUint64(&pg.edgeVersion[v])
		if old%2 == 1 {
			if atomic.LoadUint64(&pg.lockHolder[v]) == self {
				panic(invariantErrorf("acquire", "vertex %d re-acquired by its own holder goroutine", v))
			}
			runtime.Gosched()
			continue
		}
		if atomic.CompareAndSwapUint64(&pg.edgeVersion[v], old, old+1) {
			atomic.StoreUint64(&pg.lockHolder[v], self)
			return
		}
	}
}

func (pg *PartitionGraph) release(v int) {
	old := atomic.LoadUint64(&pg.edgeVersion[v])
	atomic.StoreUint64(&pg.edgeVersion[v], old+1)
}

// fetchNeighbours is the seqlock reader: read version, read the
// adjacency, read version again, retry on mismatch or if the version
// was odd on entry.
func (pg *PartitionGraph) fetchNeighbours(v int) []int32 {
	base := v * (pg.M + 1)
	for {
		v1 := atomic.LoadUint64(&pg.edgeVersion[v])
		if v1%2 == 1 {
			runtime.Gosched()
			continue
		}
		degree := int(pg.edges[base])
		out := make([]int32, degree)
		copy(out, pg.edges[base+1:base+1+degree])
		v2 := atomic.LoadUint64(&pg.edgeVersion[v])
		if v1 != v2 {
			continue
		}
		return out
	}
}

// readNeighboursLocked reads the adjacency directly, bypassing the
// seqlock retry -- only safe while the caller already holds v's lock
// (the version is odd and would spin forever under fetchNeighbours).
func (pg *PartitionGraph) readNeighboursLocked(v int) []int32 {
	base := v * (pg.M + 1)
	degree := int(pg.edges[base])
	out := make([]int32, degree)
	copy(out, pg.edges[base+1:base+1+degree])
	return out
}

func (pg *PartitionGraph) writeNeighboursLocked(v int, neighbors []int32) {
	if len(neighbors) > pg.M {
		neighbors = neighbors[:pg.M]
	}
	base := v * (pg.M + 1)
	pg.edges[base] = int32(len(neighbors))
	copy(pg.edges[base+1:base+1+len(neighbors)], neighbors)
}

// --- robust prune / greedy search --------------------------------------

// fillPreciseBatched fills every NaN-sentinel distance in entries with
// the precise distance from v, computed in groups of four to keep the
// batched kernel's lanes full.
func (pg *PartitionGraph) fillPreciseBatched(v []float32, entries []candEntry) {
	pending := make([]int, 0, 4)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		idxs := [4]int{pending[0], pending[0], pending[0], pending[0]}
		for i, p := range pending {
			idxs[i] = p
		}
		res := pg.DistKind.Batch4(v,
			pg.vectorOf(int(entries[idxs[0]].id)),
			pg.vectorOf(int(entries[idxs[1]].id)),
			pg.vectorOf(int(entries[idxs[2]].id)),
			pg.vectorOf(int(entries[idxs[3]].id)))
		for i, p := range pending {
			entries[p].dist = res[i]
		}
		pending = pending[:0]
	}
	for i := range entries {
		if distance.IsUninitialized(entries[i].dist) {
			pending = append(pending, i)
			if len(pending) == 4 {
				flush()
			}
		}
	}
	flush()
}

// robustPrune selects a capped, diversity-preserving neighbor set for v
// from candidates plus v's current neighbors.
func (pg *PartitionGraph) robustPrune(v int, candidates []candEntry, alpha float64) {
	pg.acquire(v)
	defer pg.release(v)

	existing := pg.readNeighboursLocked(v)

	merged := make([]candEntry, 0, len(candidates)+len(existing))
	seen := make(map[int32]bool, len(candidates)+len(existing))
	for _, c := range candidates {
		if int(c.id) == v || seen[c.id] {
			continue
		}
		seen[c.id] = true
		merged = append(merged, c)
	}
	for _, e := range existing {
		if int(e) == v || seen[e] {
			continue
		}
		seen[e] = true
		merged = append(merged, candEntry{id: e, dist: distance.Uninitialized()})
	}

	pg.fillPreciseBatched(pg.vectorOf(v), merged)

	sort.Slice(merged, func(i, j int) bool { return merged[i].dist < merged[j].dist })

	remaining := merged
	keep := make([]candEntry, 0, pg.M)
	currentAlpha := 1.0

	for {
		var removedThisRound []candEntry
		for len(remaining) > 0 && len(keep) < pg.M {
			cStar := remaining[0]
			remaining = remaining[1:]
			keep = append(keep, cStar)
			if len(keep) >= pg.M {
				break
			}
			kept := remaining[:0:0]
			for _, c := range remaining {
				d := pg.distFunc(pg.vectorOf(int(cStar.id)), pg.vectorOf(int(c.id)))
				if float64(d)*currentAlpha <= float64(c.dist) {
					removedThisRound = append(removedThisRound, c)
				} else {
					kept = append(kept, c)
				}
			}
			remaining = kept
		}

		if len(keep) >= pg.M || currentAlpha > alpha {
			break
		}

		remaining = append(remaining, removedThisRound...)
		sort.Slice(remaining, func(i, j int) bool { return remaining[i].dist < remaining[j].dist })
		currentAlpha *= 1.2
	}

	for i, j := 0, len(keep)-1; i < j; i, j = i+1, j-1 {
		keep[i], keep[j] = keep[j], keep[i]
	}

	ids := make([]int32, len(keep))
	for i, c := range keep {
		ids[i] = c.id
	}
	pg.writeNeighboursLocked(v, ids)
}

// greedySearchPrune runs a greedy best-first walk from the partition
// medoid with beam size L using precise in-memory distances, recording
// every admitted (vertexId, distance) pair.
func (pg *PartitionGraph) greedySearchPrune(v int) []candEntry {
	q := queue.New(pg.L)
	visited := make(map[int]bool)
	vVec := pg.vectorOf(v)

	start := pg.computeMedoid()
	startDist := pg.distFunc(vVec, pg.vectorOf(start))
	checked := make([]candEntry, 0, pg.L)

	if q.Insert(uint32(start), startDist, false) >= 0 {
		checked = append(checked, candEntry{id: int32(start), dist: startDist})
	}
	visited[start] = true

	for {
		cand, _, ok := q.NextUnchecked()
		if !ok {
			break
		}
		neighbors := pg.fetchNeighbours(int(cand.VertexID))
		for _, n := range neighbors {
			ni := int(n)
			if visited[ni] {
				continue
			}
			visited[ni] = true
			d := pg.distFunc(vVec, pg.vectorOf(ni))
			if q.Insert(uint32(ni), d, false) >= 0 {
				checked = append(checked, candEntry{id: int32(ni), dist: d})
			}
		}
	}
	return checked
}

// computeMedoid returns the local id minimizing distance to the
// partition's mean vector, computed lazily once.
func (pg *PartitionGraph) computeMedoid() int {
	if pg.medoidSet {
		return pg.medoidLocal
	}

	mean := make([]float32, pg.D)
	for i := 0; i < pg.Size; i++ {
		v := pg.vectorOf(i)
		for d := 0; d < pg.D; d++ {
			mean[d] += v[d]
		}
	}
	for d := range mean {
		mean[d] /= float32(pg.Size)
	}

	best := 0
	bestDist := pg.distFunc(pg.vectorOf(0), mean)
	for i := 1; i < pg.Size; i++ {
		d := pg.distFunc(pg.vectorOf(i), mean)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	pg.medoidLocal = best
	pg.medoidSet = true
	return best
}

// MedoidGlobalID returns the global id of the lazily-computed medoid.
func (pg *PartitionGraph) MedoidGlobalID() uint32 {
	return pg.LocalToGlobal[pg.computeMedoid()]
}

// --- parallel build loop ------------------------------------------------

type backEdgeReq struct {
	u int32
	v int32
}

// Build runs the partitioned parallel Vamana construction: random
// initialization, then one pass per vertex of greedy-search harvest +
// robust prune, fanning back-edge requests out to the mutator that
// deterministically owns the target vertex (u mod T) rather than
// contending on a shared queue.
func (pg *PartitionGraph) Build() {
	pg.generateRandomEdges()
	pg.computeMedoid()

	t := runtime.NumCPU()
	if t > pg.Size {
		t = pg.Size
	}
	if t < 1 {
		t = 1
	}

	perm := pg.rng.Perm(pg.Size)
	workerVertices := make([][]int, t)
	for _, v := range perm {
		w := v % t
		workerVertices[w] = append(workerVertices[w], v)
	}

	// Capacity bound: each vertex posts at most M back-edge requests
	// during its own processing pass, so size*M covers the worst case
	// and every send below is guaranteed non-blocking.
	capacity := pg.Size*pg.M + 1
	channels := make([]chan backEdgeReq, t)
	for i := range channels {
		channels[i] = make(chan backEdgeReq, capacity)
	}

	var barrier sync.WaitGroup
	barrier.Add(t)

	var wg sync.WaitGroup
	wg.Add(t)
	for w := 0; w < t; w++ {
		go func(workerID int) {
			defer wg.Done()

			for _, v := range workerVertices[workerID] {
				checked := pg.greedySearchPrune(v)
				pg.robustPrune(v, checked, pg.Alpha)
				for _, n := range pg.fetchNeighbours(v) {
					target := int(n) % t
					channels[target] <- backEdgeReq{u: n, v: int32(v)}
				}
			}

			// Barrier: by the time every worker reaches here, every
			// back-edge send above has already happened, so draining
			// this worker's inbound channel below sees no further
			// producers.
			barrier.Done()
			barrier.Wait()

			ch := channels[workerID]
			pending := len(ch)
			for i := 0; i < pending; i++ {
				req := <-ch
				pg.handleBackEdge(req.u, req.v)
			}
		}(w)
	}
	wg.Wait()
}

// handleBackEdge applies the back-edge rule at the mutator owning u.
func (pg *PartitionGraph) handleBackEdge(u, v int32) {
	ui := int(u)
	pg.acquire(ui)
	cur := pg.readNeighboursLocked(ui)
	for _, n := range cur {
		if n == v {
			pg.release(ui)
			return
		}
	}
	if len(cur) < pg.M {
		cur = append(cur, v)
		pg.writeNeighboursLocked(ui, cur)
		pg.release(ui)
		return
	}
	pg.release(ui)
	pg.robustPrune(ui, []candEntry{{id: v, dist: distance.Uninitialized()}}, pg.Alpha)
}

// --- post-build -----------------------------------------------------

// SaveVectorsToDisk copies each vertex's vector into its final paged
// slot, skipping writes when the destination already holds the same
// value (a vertex may be a member of up to two partitions, and both may
// attempt to write the same global slot). Frees Vectors afterward.
func (pg *PartitionGraph) SaveVectorsToDisk(pf *pagefile.File) error {
	for i := 0; i < pg.Size; i++ {
		gid := pg.LocalToGlobal[i]
		vec := pg.vectorOf(i)

		existing, _, _ := pf.ReadRecord(gid)
		same := len(existing) == len(vec)
		if same {
			for d := range vec {
				if existing[d] != vec[d] {
					same = false
					break
				}
			}
		}
		if same {
			continue
		}
		if err := pf.WriteRecord(gid, vec, nil, 0); err != nil {
			return ioErrorf("SaveVectorsToDisk", "vertex %d: %w", gid, err)
		}
	}
	pg.Vectors = nil
	return nil
}

// ConvertLocalEdgesToGlobal rewrites every edge id from local to global,
// via localToGlobal[e].
func (pg *PartitionGraph) ConvertLocalEdgesToGlobal() {
	for v := 0; v < pg.Size; v++ {
		base := v * (pg.M + 1)
		degree := int(pg.edges[base])
		for i := 0; i < degree; i++ {
			local := pg.edges[base+1+i]
			pg.edges[base+1+i] = int32(pg.LocalToGlobal[local])
		}
	}
}

// SortEdgesByGlobalIndex permutes vertex storage slots so local order
// matches ascending global id order, letting PartitionMerger walk every
// partition with a simple advancing cursor.
func (pg *PartitionGraph) SortEdgesByGlobalIndex() {
	order := make([]int, pg.Size)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(i, j int) bool {
		return pg.LocalToGlobal[order[i]] < pg.LocalToGlobal[order[j]]
	})

	newLocalToGlobal := make([]uint32, pg.Size)
	newEdges := make([]int32, len(pg.edges))
	for newIdx, oldIdx := range order {
		newLocalToGlobal[newIdx] = pg.LocalToGlobal[oldIdx]

		oldBase := oldIdx * (pg.M + 1)
		newBase := newIdx * (pg.M + 1)
		degree := pg.edges[oldBase]
		newEdges[newBase] = degree
		// Edge values are already global ids (ConvertLocalEdgesToGlobal
		// ran first), so only the vertex's storage slot moves here.
		copy(newEdges[newBase+1:newBase+1+int(degree)], pg.edges[oldBase+1:oldBase+1+int(degree)])
	}

	pg.LocalToGlobal = newLocalToGlobal
	pg.edges = newEdges
}

// GlobalEdges returns the (already-converted, already-sorted) neighbor
// ids for the local vertex at position i, for PartitionMerger.
func (pg *PartitionGraph) GlobalEdges(i int) []int32 {
	return pg.readNeighboursLocked(i)
}
