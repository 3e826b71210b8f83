//go:build !(linux && amd64)

package heap

// Without native code the arena only has to be stable and outside the
// collector's view of pointers; a byte slice is both.
func mapArena(size int) ([]byte, bool, error) {
	return make([]byte, size), false, nil
}

func unmapArena(mem []byte) error {
	return nil
}
