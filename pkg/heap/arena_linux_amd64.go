//go:build linux && amd64

package heap

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapArena maps the cell arena in the low 2GiB when the kernel allows it, so
// every cell address also fits the 32-bit payload of the pair encoding.
func mapArena(size int) (mem []byte, low bool, err error) {
	mem, err = unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS|unix.MAP_32BIT)
	if err == nil {
		return mem, true, nil
	}
	mem, err = unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, false, fmt.Errorf("failed to mmap heap arena: %w", err)
	}
	return mem, false, nil
}

func unmapArena(mem []byte) error {
	return unix.Munmap(mem)
}
