package heap

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"

	"basejit/pkg/value"
)

const (
	DefaultHeapSize = 256 << 20
	MaxStructures   = 1 << 16
	blockSize       = 16 << 10
)

// RootVisitor enumerates every live value held outside the heap. The visit
// callback may rewrite the slot.
type RootVisitor func(visit func(slot *value.Value))

// Collector is the external garbage collector. Safepoint is called at every
// generic runtime call; it may trace from the supplied roots.
type Collector interface {
	Safepoint(h *Heap, roots RootVisitor)
}

// Options configures a heap.
type Options struct {
	Size      int
	Collector Collector
}

// Heap is the cell arena. Cells live outside the Go heap at stable addresses
// so generated code can embed and dereference them directly.
type Heap struct {
	mem  []byte
	base uintptr
	low  bool

	mu  sync.Mutex
	top int // bump offset for blocks and large cells

	allocators [numSizeClasses]Allocator

	structures structureRegistry

	barrierMu  sync.Mutex
	remembered map[uintptr]struct{}

	collector  Collector
	safepoints atomic.Uint64
}

// New maps the arena and reserves the raw structure table at its start.
func New(opts Options) (*Heap, error) {
	size := opts.Size
	if size <= 0 {
		size = DefaultHeapSize
	}
	tableBytes := MaxStructures * StructureEntrySize
	if size < tableBytes+blockSize {
		return nil, fmt.Errorf("heap size %d too small", size)
	}
	mem, low, err := mapArena(size)
	if err != nil {
		return nil, err
	}
	h := &Heap{
		mem:        mem,
		base:       uintptr(unsafe.Pointer(&mem[0])),
		low:        low,
		top:        tableBytes,
		remembered: make(map[uintptr]struct{}),
		collector:  opts.Collector,
	}
	h.structures.init()
	for i := range h.allocators {
		h.allocators[i].CellSize = uint64((i + 1) * sizeClassStep)
	}
	return h, nil
}

// Close unmaps the arena. No cell may be used afterwards.
func (h *Heap) Close() error {
	if h.mem == nil {
		return nil
	}
	err := unmapArena(h.mem)
	h.mem = nil
	return err
}

// LowAddresses reports whether every cell address fits in 32 bits.
func (h *Heap) LowAddresses() bool { return h.low }

func (h *Heap) Contains(addr uintptr) bool {
	return addr >= h.base && addr < h.base+uintptr(len(h.mem))
}

func (h *Heap) off(addr uintptr, n int) int {
	o := int(addr - h.base)
	if addr < h.base || o+n > len(h.mem) {
		panic(fmt.Sprintf("heap: address %#x outside arena", addr))
	}
	return o
}

func (h *Heap) Load64(addr uintptr) uint64 {
	return binary.LittleEndian.Uint64(h.mem[h.off(addr, 8):])
}

func (h *Heap) Store64(addr uintptr, v uint64) {
	binary.LittleEndian.PutUint64(h.mem[h.off(addr, 8):], v)
}

func (h *Heap) Load32(addr uintptr) uint32 {
	return binary.LittleEndian.Uint32(h.mem[h.off(addr, 4):])
}

func (h *Heap) Store32(addr uintptr, v uint32) {
	binary.LittleEndian.PutUint32(h.mem[h.off(addr, 4):], v)
}

func (h *Heap) Load8(addr uintptr) uint8 {
	return h.mem[h.off(addr, 1)]
}

func (h *Heap) Store8(addr uintptr, v uint8) {
	h.mem[h.off(addr, 1)] = v
}

func (h *Heap) LoadValue(addr uintptr) value.Value {
	return value.Value(h.Load64(addr))
}

func (h *Heap) bytes(addr uintptr, n int) []byte {
	o := h.off(addr, n)
	return h.mem[o : o+n]
}

// allocRaw bump-allocates 16-byte aligned, zeroed memory.
func (h *Heap) allocRaw(size int) (uintptr, error) {
	size = (size + 15) &^ 15
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.top+size > len(h.mem) {
		return 0, fmt.Errorf("heap exhausted: need %d bytes, %d left", size, len(h.mem)-h.top)
	}
	addr := h.base + uintptr(h.top)
	h.top += size
	return addr, nil
}

// Used returns the number of arena bytes handed out.
func (h *Heap) Used() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.top
}

// Header accessors.

func (h *Heap) StructureID(cell uintptr) uint32 { return h.Load32(cell + CellStructureIDOffset) }

func (h *Heap) Type(cell uintptr) CellType { return CellType(h.Load8(cell + CellTypeOffset)) }

func (h *Heap) Flags(cell uintptr) TypeInfoFlags {
	return TypeInfoFlags(h.Load8(cell + CellFlagsOffset))
}

func (h *Heap) Indexing(cell uintptr) IndexingType {
	return IndexingType(h.Load8(cell + CellIndexingTypeOffset))
}

func (h *Heap) setIndexing(cell uintptr, i IndexingType) {
	h.Store8(cell+CellIndexingTypeOffset, uint8(i))
}

func (h *Heap) writeHeader(cell uintptr, s *Structure, indexing IndexingType) {
	var id uint32
	var typ CellType
	var flags TypeInfoFlags
	if s != nil {
		id, typ, flags = s.ID, s.Type, s.Flags
	}
	h.Store64(cell, HeaderWord(id, indexing, typ, flags))
}

func (h *Heap) writeRawHeader(cell uintptr, typ CellType) {
	h.Store64(cell, HeaderWord(0, 0, typ, 0))
}

// TypeOf returns the cell type of v, or false when v is not a cell in this heap.
func (h *Heap) TypeOf(v value.Value) (CellType, bool) {
	if !v.IsCell() || !h.Contains(v.AsCell()) {
		return 0, false
	}
	return h.Type(v.AsCell()), true
}

// IsObject reports whether v is a cell whose type is an object type.
func (h *Heap) IsObject(v value.Value) bool {
	t, ok := h.TypeOf(v)
	return ok && t.IsObject()
}

// WriteBarrier must be called after a cell reference is stored into another
// cell. It remembers the owner for the next collection.
func (h *Heap) WriteBarrier(owner uintptr, stored value.Value) {
	if !stored.IsCell() {
		return
	}
	h.barrierMu.Lock()
	h.remembered[owner] = struct{}{}
	h.barrierMu.Unlock()
}

// Remembered drains the remembered set.
func (h *Heap) Remembered() []uintptr {
	h.barrierMu.Lock()
	defer h.barrierMu.Unlock()
	out := make([]uintptr, 0, len(h.remembered))
	for c := range h.remembered {
		out = append(out, c)
	}
	clear(h.remembered)
	return out
}

// Safepoint hands control to the collector, if any.
func (h *Heap) Safepoint(roots RootVisitor) {
	h.safepoints.Add(1)
	if h.collector != nil {
		h.collector.Safepoint(h, roots)
	}
}

// Safepoints counts Safepoint calls.
func (h *Heap) Safepoints() uint64 { return h.safepoints.Load() }

// SetCollector installs the external collector.
func (h *Heap) SetCollector(c Collector) { h.collector = c }
