//go:build linux && amd64

package jit

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

const codeAlignment = 16

// ExecutableMemory manages mmap'd memory with execute permissions for JIT code
type ExecutableMemory struct {
	buffer []byte
	used   int
	mu     sync.Mutex
}

// NewExecutableMemory allocates executable memory via mmap
func NewExecutableMemory(size int) (*ExecutableMemory, error) {
	if size <= 0 {
		size = DefaultCodeSize
	}

	// Allocate memory with RWX permissions so IC stubs can be added and
	// patchable jumps retargeted while code runs.
	buffer, err := unix.Mmap(
		-1, 0,
		size,
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to mmap executable memory")
	}

	return &ExecutableMemory{
		buffer: buffer,
		used:   0,
	}, nil
}

// Allocate reserves a 16-byte aligned chunk of executable memory and returns the pointer
func (em *ExecutableMemory) Allocate(size int) (uintptr, []byte, error) {
	em.mu.Lock()
	defer em.mu.Unlock()

	start := (em.used + codeAlignment - 1) &^ (codeAlignment - 1)
	if start+size > len(em.buffer) {
		return 0, nil, errors.Newf("out of executable memory: need %d, have %d", size, len(em.buffer)-start)
	}

	slice := em.buffer[start : start+size]
	addr := uintptr(start) + em.BaseAddress()
	em.used = start + size

	return addr, slice, nil
}

// Install copies code into freshly allocated executable memory.
func (em *ExecutableMemory) Install(code []byte) (uintptr, error) {
	addr, buf, err := em.Allocate(len(code))
	if err != nil {
		return 0, err
	}
	copy(buf, code)
	return addr, nil
}

// Repatch32 atomically rewrites the 4-byte aligned word at addr.
func (em *ExecutableMemory) Repatch32(addr uintptr, v int32) error {
	start, end := em.Bounds()
	if addr < start || addr+4 > end || addr%4 != 0 {
		return errors.AssertionFailedf("repatch address %#x is not an aligned word of [%#x, %#x)", addr, start, end)
	}
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&em.buffer[addr-start])), uint32(v))
	return nil
}

// BaseAddress returns the base address of the executable memory region
func (em *ExecutableMemory) BaseAddress() uintptr {
	if len(em.buffer) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&em.buffer[0]))
}

// Free releases the executable memory
func (em *ExecutableMemory) Free() error {
	em.mu.Lock()
	defer em.mu.Unlock()

	if em.buffer == nil {
		return nil
	}

	err := unix.Munmap(em.buffer)
	em.buffer = nil
	em.used = 0
	return err
}

// Used returns the amount of memory currently in use
func (em *ExecutableMemory) Used() int {
	em.mu.Lock()
	defer em.mu.Unlock()
	return em.used
}

// Capacity is the size of the region in bytes.
func (em *ExecutableMemory) Capacity() int {
	return len(em.buffer)
}

// Bounds returns the half-open address range of the region.
func (em *ExecutableMemory) Bounds() (start, end uintptr) {
	if len(em.buffer) == 0 {
		return 0, 0
	}
	start = em.BaseAddress()
	end = start + uintptr(len(em.buffer))
	return
}

// Read copies size installed bytes starting at addr, including any jumps
// repatched since installation. It returns nil outside the region.
func (em *ExecutableMemory) Read(addr uintptr, size int) []byte {
	start, end := em.Bounds()
	if size < 0 || addr < start || addr+uintptr(size) > end {
		return nil
	}
	out := make([]byte, size)
	copy(out, em.buffer[addr-start:])
	return out
}
