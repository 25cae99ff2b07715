//go:build !windows && !amd64 && !386

package unpack

func flushInstructionCache(uintptr, int) error {
	return ErrFlushUnsupported
}
