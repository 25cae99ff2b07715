//go:build !linux && !windows

package unpack

import "os"

// queryless protectors have no portable way to read back the current
// protection, so Unprotect always fails and the writer's fallback applies.
type queryless struct{}

func newPlatformProtector() Protector {
	return queryless{}
}

func (queryless) PageSize() int {
	return os.Getpagesize()
}

func (queryless) Unprotect(uintptr, int) (func() error, error) {
	return nil, ErrProtectUnsupported
}

func (queryless) FlushInstructionCache(addr uintptr, size int) error {
	return flushInstructionCache(addr, size)
}
