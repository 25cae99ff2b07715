//go:build windows

package unpack

import (
	"fmt"
	"os"
	"unsafe"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sys/windows"
)

var (
	kernel32                  = windows.NewLazySystemDLL("kernel32.dll")
	procFlushInstructionCache = kernel32.NewProc("FlushInstructionCache")
)

type virtualProtector struct {
	pageSize int
}

func newPlatformProtector() Protector {
	return &virtualProtector{pageSize: os.Getpagesize()}
}

func (p *virtualProtector) PageSize() int {
	return p.pageSize
}

type region struct {
	addr, size uintptr
	protect    uint32
}

func (p *virtualProtector) Unprotect(addr uintptr, size int) (func() error, error) {
	regions, err := queryRegions(addr, uintptr(size))
	if err != nil {
		return nil, err
	}

	var old uint32
	if err := windows.VirtualProtect(addr, uintptr(size), windows.PAGE_READWRITE, &old); err != nil {
		return nil, fmt.Errorf("VirtualProtect 0x%X+%d: %w", addr, size, err)
	}

	restore := func() error {
		var result error
		for _, r := range regions {
			var tmp uint32
			if err := windows.VirtualProtect(r.addr, r.size, r.protect, &tmp); err != nil {
				result = multierror.Append(result, fmt.Errorf("restore 0x%X+%d: %w", r.addr, r.size, err))
			}
		}
		return result
	}
	return restore, nil
}

// queryRegions splits [addr, addr+size) by current protection.
func queryRegions(addr, size uintptr) ([]region, error) {
	end := addr + size
	var out []region
	for cursor := addr; cursor < end; {
		var mbi windows.MemoryBasicInformation
		if err := windows.VirtualQuery(cursor, &mbi, unsafe.Sizeof(mbi)); err != nil {
			return nil, fmt.Errorf("VirtualQuery 0x%X: %w", cursor, err)
		}
		if mbi.State != windows.MEM_COMMIT {
			return nil, fmt.Errorf("address 0x%X is not committed", cursor)
		}
		regionEnd := min(mbi.BaseAddress+mbi.RegionSize, end)
		out = append(out, region{addr: cursor, size: regionEnd - cursor, protect: mbi.Protect})
		cursor = regionEnd
	}
	return out, nil
}

func (p *virtualProtector) FlushInstructionCache(addr uintptr, size int) error {
	ret, _, err := procFlushInstructionCache.Call(uintptr(windows.CurrentProcess()), addr, uintptr(size))
	if ret == 0 {
		return fmt.Errorf("FlushInstructionCache: %w", err)
	}
	return nil
}
