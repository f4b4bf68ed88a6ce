package dma

import "golang.org/x/sys/unix"

// alloc maps anonymous memory so the arena base is page-aligned, matching
// what the controller would require of a real physically-contiguous region.
func alloc(size int) ([]byte, error) {
	size = (size + PageSize - 1) &^ (PageSize - 1)
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
}
