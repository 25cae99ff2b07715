//go:build !windows && (amd64 || 386)

package unpack

// x86 keeps instruction and data caches coherent.
func flushInstructionCache(uintptr, int) error {
	return nil
}
