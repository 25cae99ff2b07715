package unpack

import (
	"errors"
)

var (
	// ErrProtectUnsupported is returned by protectors that cannot query
	// the current protection of a page range.
	ErrProtectUnsupported = errors.New("page protection query not supported on this platform")
	// ErrFlushUnsupported is returned when the instruction cache cannot be
	// synchronised on this platform. It is logged, never fatal.
	ErrFlushUnsupported = errors.New("instruction cache flush not supported on this platform")
)

// Protector changes and restores page protection around a write.
type Protector interface {
	PageSize() int
	// Unprotect makes [addr, addr+size) readable and writable. addr and
	// size are page aligned. restore puts back the exact protection each
	// page had before the call.
	Unprotect(addr uintptr, size int) (restore func() error, err error)
	// FlushInstructionCache synchronises the instruction cache with
	// memory just written at [addr, addr+size).
	FlushInstructionCache(addr uintptr, size int) error
}

// DefaultProtector returns the protector for the running platform.
func DefaultProtector() Protector {
	return newPlatformProtector()
}

// NopProtector is for images backed by ordinary Go memory, which is always
// writable and never executed.
type NopProtector struct{}

func (NopProtector) PageSize() int { return 4096 }

func (NopProtector) Unprotect(uintptr, int) (func() error, error) {
	return func() error { return nil }, nil
}

func (NopProtector) FlushInstructionCache(uintptr, int) error { return nil }

// pageRange rounds [addr, addr+size) outward to whole pages.
func pageRange(addr uintptr, size, pageSize int) (uintptr, int) {
	ps := uintptr(pageSize)
	start := addr - addr%ps
	end := addr + uintptr(size)
	end = (end + ps - 1) / ps * ps
	return start, int(end - start)
}
