package vamana

import (
	"container/heap"
	"math/rand"
	"sort"

	"github.com/therealutkarshpriyadarshi/vamana/internal/vamana/pagefile"
)

// mergeItem is one frontier entry in the N-way merge: the next
// not-yet-consumed local position of a partition, keyed by the global
// id it currently points at.
type mergeItem struct {
	globalID  uint32
	partition int
	localIdx  int
}

// mergeHeap is a container/heap min-heap over mergeItem, grounded on
// pkg/diskann/search.go's MinHeap shape (ascending Less, slice Push/Pop),
// repurposed to key on global id with partition index as a tie-break
// instead of candidate distance.
type mergeHeap []mergeItem

func (h mergeHeap) Len() int { return len(h) }
func (h mergeHeap) Less(i, j int) bool {
	if h[i].globalID != h[j].globalID {
		return h[i].globalID < h[j].globalID
	}
	return h[i].partition < h[j].partition
}
func (h mergeHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *mergeHeap) Push(x interface{}) { *h = append(*h, x.(mergeItem)) }

func (h *mergeHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// MergePartitions performs an N-way merge of finalized partition graphs
// (each already converted to global edge ids via
// ConvertLocalEdgesToGlobal and sorted ascending by global id via
// SortEdgesByGlobalIndex) into the final paged file. A vertex owned by
// two partitions has its neighbor sets unioned and, if oversized,
// Fisher-Yates subsampled down to m. Vectors are expected to already be
// present in pf (written by each partition's SaveVectorsToDisk before
// merge runs).
func MergePartitions(pf *pagefile.File, partitions []*PartitionGraph, n, m int, rng *rand.Rand) error {
	h := &mergeHeap{}
	heap.Init(h)
	for pi, p := range partitions {
		if p.Size > 0 {
			heap.Push(h, mergeItem{globalID: p.LocalToGlobal[0], partition: pi, localIdx: 0})
		}
	}

	expected := uint32(0)
	for h.Len() > 0 {
		g := (*h)[0].globalID

		edgeUnion := make(map[int32]struct{})
		for h.Len() > 0 && (*h)[0].globalID == g {
			item := heap.Pop(h).(mergeItem)
			p := partitions[item.partition]

			for _, e := range p.GlobalEdges(item.localIdx) {
				edgeUnion[e] = struct{}{}
			}

			if item.localIdx+1 < p.Size {
				heap.Push(h, mergeItem{
					globalID:  p.LocalToGlobal[item.localIdx+1],
					partition: item.partition,
					localIdx:  item.localIdx + 1,
				})
			}
		}

		if g != expected {
			return invariantErrorf("MergePartitions", "global id gap: expected %d, got %d", expected, g)
		}

		// Go map iteration order is randomized; materialize the union in a
		// fixed (ascending) order first so both the direct-copy path below
		// and the oversize subsample are a deterministic function of the
		// partition state and the seeded rng, not of map iteration.
		edges := make([]int32, 0, len(edgeUnion))
		for e := range edgeUnion {
			edges = append(edges, e)
		}
		sort.Slice(edges, func(i, j int) bool { return edges[i] < edges[j] })
		if len(edges) > m {
			rng.Shuffle(len(edges), func(i, j int) { edges[i], edges[j] = edges[j], edges[i] })
			edges = edges[:m]
		}

		vec, _, _ := pf.ReadRecord(g)
		if err := pf.WriteRecord(g, vec, edges, uint8(len(edges))); err != nil {
			return ioErrorf("MergePartitions", "vertex %d: %w", g, err)
		}

		expected++
	}

	if expected != uint32(n) {
		return invariantErrorf("MergePartitions", "merged %d vertices, expected %d", expected, n)
	}

	return pf.Sync()
}
