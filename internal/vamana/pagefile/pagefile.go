// Package pagefile implements the paged, memory-mapped on-disk graph
// layout: fixed-size pages whose first word stores the global vertex
// count N, followed by fixed-size { vector[D], edges[M], degree:u8 }
// records.
package pagefile

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync"
	"syscall"
	"unsafe"
)

const headerSize = 4 // u32 vertex count, stored on every page

// RecordSize computes R = align(D*4 + M*4 + 1), aligned to the larger of
// the vector-element alignment (4, for f32) and the edge-element
// alignment (4, for i32) -- both 4 here, so alignment is simply to a
// 4-byte boundary.
func RecordSize(d, m int) int {
	raw := d*4 + m*4 + 1
	const align = 4
	return (raw + align - 1) / align * align
}

// VerticesPerPage returns floor((pageSize - 4) / R).
func VerticesPerPage(pageSize, recordSize int) int {
	return (pageSize - headerSize) / recordSize
}

// PageCount returns the ceiling division of n vertices into
// verticesPerPage-sized pages. This is the corrected ceiling-division
// form; see the Open Questions resolution in DESIGN.md for the
// operator-precedence bug this deliberately avoids.
func PageCount(n, verticesPerPage int) int {
	if verticesPerPage <= 0 {
		return 0
	}
	return (n + verticesPerPage - 1) / verticesPerPage
}

// Layout precomputes the addressing constants for a given D, M, and
// page size.
type Layout struct {
	D               int
	M               int
	PageSize        int
	RecordSize      int
	VerticesPerPage int
}

// NewLayout derives a Layout for dimension d, max degree m, and page
// size.
func NewLayout(d, m, pageSize int) Layout {
	r := RecordSize(d, m)
	return Layout{D: d, M: m, PageSize: pageSize, RecordSize: r, VerticesPerPage: VerticesPerPage(pageSize, r)}
}

// Offset returns the byte offset of vertex gid's record within the file.
func (l Layout) Offset(gid uint32) int64 {
	page := int64(gid) / int64(l.VerticesPerPage)
	record := int64(gid) % int64(l.VerticesPerPage)
	return page*int64(l.PageSize) + headerSize + record*int64(l.RecordSize)
}

// PageStart returns the byte offset of the page containing gid.
func (l Layout) PageStart(gid uint32) int64 {
	page := int64(gid) / int64(l.VerticesPerPage)
	return page * int64(l.PageSize)
}

// File is a memory-mapped paged graph file. Adapted from the raw
// syscall.Mmap/Munmap + SYS_MSYNC lifecycle used elsewhere in the pack
// for byte-addressable shared mappings, layered with the record
// addressing math above.
type File struct {
	mu       sync.RWMutex
	f        *os.File
	data     []byte
	size     int64
	readOnly bool
	Layout   Layout
}

// Create allocates a new paged file sized for n vertices and stamps N
// into every page header.
func Create(path string, n int, layout Layout) (*File, error) {
	pages := PageCount(n, layout.VerticesPerPage)
	if pages == 0 {
		pages = 1
	}
	size := int64(pages) * int64(layout.PageSize)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create page file: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to truncate page file: %w", err)
	}

	pf, err := mapOpen(f, size, false, layout)
	if err != nil {
		return nil, err
	}

	for p := 0; p < pages; p++ {
		binary.LittleEndian.PutUint32(pf.data[int64(p)*int64(layout.PageSize):], uint32(n))
	}

	return pf, nil
}

// Open maps an existing paged file. readOnly controls the mmap
// protection flags.
func Open(path string, layout Layout, readOnly bool) (*File, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open page file: %w", err)
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat page file: %w", err)
	}
	return mapOpen(f, stat.Size(), readOnly, layout)
}

func mapOpen(f *os.File, size int64, readOnly bool, layout Layout) (*File, error) {
	prot := syscall.PROT_READ
	if !readOnly {
		prot |= syscall.PROT_WRITE
	}
	data, err := syscall.Mmap(int(f.Fd()), 0, int(size), prot, syscall.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to mmap page file: %w", err)
	}
	return &File{f: f, data: data, size: size, readOnly: readOnly, Layout: layout}, nil
}

// VertexCount reads N from page 0.
func (pf *File) VertexCount() uint32 {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	return binary.LittleEndian.Uint32(pf.data[0:4])
}

// WriteRecord writes vector, edges (global ids, degree-many significant,
// remainder unspecified), and degree for vertex gid.
func (pf *File) WriteRecord(gid uint32, vector []float32, edges []int32, degree uint8) error {
	if pf.readOnly {
		return fmt.Errorf("page file is mapped read-only")
	}
	pf.mu.Lock()
	defer pf.mu.Unlock()

	off := pf.Layout.Offset(gid)
	rec := pf.data[off : off+int64(pf.Layout.RecordSize)]

	for i := 0; i < pf.Layout.D; i++ {
		v := float32(0)
		if i < len(vector) {
			v = vector[i]
		}
		binary.LittleEndian.PutUint32(rec[i*4:], math.Float32bits(v))
	}
	edgeBase := pf.Layout.D * 4
	for i := 0; i < pf.Layout.M; i++ {
		e := int32(0)
		if i < len(edges) {
			e = edges[i]
		}
		binary.LittleEndian.PutUint32(rec[edgeBase+i*4:], uint32(e))
	}
	rec[edgeBase+pf.Layout.M*4] = degree

	return nil
}

// ReadRecord reads vector, edges (degree-many significant), and degree
// for vertex gid.
func (pf *File) ReadRecord(gid uint32) (vector []float32, edges []int32, degree uint8) {
	pf.mu.RLock()
	defer pf.mu.RUnlock()

	off := pf.Layout.Offset(gid)
	rec := pf.data[off : off+int64(pf.Layout.RecordSize)]

	vector = make([]float32, pf.Layout.D)
	for i := 0; i < pf.Layout.D; i++ {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(rec[i*4:]))
	}
	edgeBase := pf.Layout.D * 4
	degree = rec[edgeBase+pf.Layout.M*4]
	edges = make([]int32, degree)
	for i := 0; i < int(degree); i++ {
		edges[i] = int32(binary.LittleEndian.Uint32(rec[edgeBase+i*4:]))
	}
	return vector, edges, degree
}

// VectorBytes returns the raw bytes backing vertex gid's vector, for
// batched distance kernels that read directly from the mapped region
// without copying into a []float32 first.
func (pf *File) VectorBytes(gid uint32) []byte {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	off := pf.Layout.Offset(gid)
	return pf.data[off : off+int64(pf.Layout.D*4)]
}

// VectorAt reinterprets the raw mapped bytes for gid's vector as
// []float32 without copying, in the machine's native byte order.
// WriteRecord stores vectors little-endian, so the values match
// ReadRecord's only on little-endian hosts.
func (pf *File) VectorAt(gid uint32) []float32 {
	b := pf.VectorBytes(gid)
	return unsafe.Slice((*float32)(unsafe.Pointer(&b[0])), pf.Layout.D)
}

// Sync flushes changes to disk via msync.
func (pf *File) Sync() error {
	pf.mu.RLock()
	defer pf.mu.RUnlock()
	if pf.readOnly || len(pf.data) == 0 {
		return nil
	}
	_, _, errno := syscall.Syscall(syscall.SYS_MSYNC,
		uintptr(unsafe.Pointer(&pf.data[0])), uintptr(pf.size), syscall.MS_SYNC)
	if errno != 0 {
		return fmt.Errorf("msync failed: %v", errno)
	}
	return nil
}

// Close unmaps and closes the underlying file.
func (pf *File) Close() error {
	pf.mu.Lock()
	defer pf.mu.Unlock()

	var err error
	if pf.data != nil {
		if uerr := syscall.Munmap(pf.data); uerr != nil {
			err = fmt.Errorf("failed to unmap page file: %w", uerr)
		}
		pf.data = nil
	}
	if pf.f != nil {
		if cerr := pf.f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close page file: %w", cerr)
		}
		pf.f = nil
	}
	return err
}
