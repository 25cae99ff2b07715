//go:build linux

package unpack

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/procfs"
	"golang.org/x/sys/unix"
)

type mprotectProtector struct {
	pageSize int
}

func newPlatformProtector() Protector {
	return &mprotectProtector{pageSize: unix.Getpagesize()}
}

func (p *mprotectProtector) PageSize() int {
	return p.pageSize
}

// mapping is the part of one /proc/self/maps entry that overlaps a range.
type mapping struct {
	start, end uintptr
	prot       int
}

func (p *mprotectProtector) Unprotect(addr uintptr, size int) (func() error, error) {
	mappings, err := currentProtection(addr, size)
	if err != nil {
		return nil, err
	}
	if err := mprotect(addr, size, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return nil, fmt.Errorf("mprotect 0x%X+%d: %w", addr, size, err)
	}

	restore := func() error {
		var result error
		for _, m := range mappings {
			if err := mprotect(m.start, int(m.end-m.start), m.prot); err != nil {
				result = multierror.Append(result, fmt.Errorf("restore 0x%X-0x%X: %w", m.start, m.end, err))
			}
		}
		return result
	}
	return restore, nil
}

func (p *mprotectProtector) FlushInstructionCache(addr uintptr, size int) error {
	return flushInstructionCache(addr, size)
}

// currentProtection reads the protection of every page in [addr, addr+size)
// from /proc/self/maps. The whole range must be mapped.
func currentProtection(addr uintptr, size int) ([]mapping, error) {
	self, err := procfs.Self()
	if err != nil {
		return nil, fmt.Errorf("failed to open /proc/self: %w", err)
	}
	maps, err := self.ProcMaps()
	if err != nil {
		return nil, fmt.Errorf("failed to read process mappings: %w", err)
	}

	end := addr + uintptr(size)
	cursor := addr
	var out []mapping
	for _, m := range maps {
		if m.EndAddr <= cursor || m.StartAddr >= end {
			continue
		}
		if m.StartAddr > cursor {
			break
		}
		segEnd := min(m.EndAddr, end)
		out = append(out, mapping{start: cursor, end: segEnd, prot: protFromPerms(m.Perms)})
		cursor = segEnd
		if cursor >= end {
			break
		}
	}
	if cursor < end {
		return nil, fmt.Errorf("address 0x%X is not mapped", cursor)
	}
	return out, nil
}

func protFromPerms(perms *procfs.ProcMapPermissions) int {
	prot := unix.PROT_NONE
	if perms == nil {
		return prot
	}
	if perms.Read {
		prot |= unix.PROT_READ
	}
	if perms.Write {
		prot |= unix.PROT_WRITE
	}
	if perms.Execute {
		prot |= unix.PROT_EXEC
	}
	return prot
}

// mprotect takes a raw address because the page-rounded range usually
// extends past the slice it was derived from.
func mprotect(addr uintptr, size int, prot int) error {
	if _, _, errno := unix.Syscall(unix.SYS_MPROTECT, addr, uintptr(size), uintptr(prot)); errno != 0 {
		return errno
	}
	return nil
}
