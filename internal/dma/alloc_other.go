//go:build !linux

package dma

func alloc(size int) ([]byte, error) {
	size = (size + PageSize - 1) &^ (PageSize - 1)
	return make([]byte, size), nil
}
