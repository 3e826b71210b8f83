package heap

import "unsafe"

const (
	sizeClassStep     = 16
	numSizeClasses    = 32
	MaxSizeClassBytes = sizeClassStep * numSizeClasses
)

// Allocator is a bump allocator for one size class. Generated code reads and
// advances Cursor directly; when Cursor+CellSize exceeds Limit it falls back
// to a generic allocation, which refills the allocator.
type Allocator struct {
	Cursor   uint64
	Limit    uint64
	CellSize uint64
}

// Address is the stable address generated code embeds.
func (a *Allocator) Address() uintptr {
	return uintptr(unsafe.Pointer(a))
}

// AllocatorFor returns the size-class allocator serving size bytes, or nil
// when cells of that size are never allocated inline.
func (h *Heap) AllocatorFor(size int) *Allocator {
	if size <= 0 || size > MaxSizeClassBytes {
		return nil
	}
	return &h.allocators[(size+sizeClassStep-1)/sizeClassStep-1]
}

// AllocatorAt maps an address taken from Allocator.Address back to its allocator.
func (h *Heap) AllocatorAt(addr uintptr) *Allocator {
	for i := range h.allocators {
		if h.allocators[i].Address() == addr {
			return &h.allocators[i]
		}
	}
	return nil
}

// allocate returns zeroed memory for a cell of size bytes.
func (h *Heap) allocate(size int) (uintptr, error) {
	a := h.AllocatorFor(size)
	if a == nil {
		return h.allocRaw(size)
	}
	if a.Cursor+a.CellSize > a.Limit {
		if err := h.refill(a); err != nil {
			return 0, err
		}
	}
	addr := uintptr(a.Cursor)
	a.Cursor += a.CellSize
	clear(h.bytes(addr, int(a.CellSize)))
	return addr, nil
}

func (h *Heap) refill(a *Allocator) error {
	block, err := h.allocRaw(blockSize)
	if err != nil {
		return err
	}
	n := uint64(blockSize) / a.CellSize
	a.Cursor = uint64(block)
	a.Limit = uint64(block) + n*a.CellSize
	return nil
}
