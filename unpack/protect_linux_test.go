//go:build linux

package unpack

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func mmapImage(t *testing.T, size int) []byte {
	t.Helper()
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Munmap(mem)
	})
	return mem
}

func protections(t *testing.T, mem []byte) []mapping {
	t.Helper()
	m, err := currentProtection(uintptr(unsafe.Pointer(&mem[0])), len(mem))
	require.NoError(t, err)
	return m
}

func TestUnpackIntoReadOnlyMapping(t *testing.T) {
	if unix.Getpagesize() != 4096 {
		t.Skip("layout assumes 4 KiB pages")
	}
	packed, layout := packStandard(t, true)
	mapped := mapImage(t, packed).Bytes()

	mem := mmapImage(t, len(mapped))
	copy(mem, mapped)
	require.NoError(t, unix.Mprotect(mem, unix.PROT_READ))
	text := mem[layout.RVAs[0] : layout.RVAs[0]+4096]
	require.NoError(t, unix.Mprotect(text, unix.PROT_READ|unix.PROT_EXEC))

	img, err := ImageAt(unsafe.Pointer(&mem[0]), len(mem))
	require.NoError(t, err)

	report, err := Unpack(packed, img, WithObfuscation(testKey), WithProtector(DefaultProtector()), WithStrictProtection())
	require.NoError(t, err)
	assert.Len(t, report.Unpacked, 3)
	assertRestored(t, img, layout, ".text", ".rdata", ".data")

	for _, m := range protections(t, mem) {
		textStart := uintptr(unsafe.Pointer(&text[0]))
		want := unix.PROT_READ
		if m.start >= textStart && m.end <= textStart+4096 {
			want = unix.PROT_READ | unix.PROT_EXEC
		}
		assert.Equal(t, want, m.prot, "mapping 0x%X-0x%X", m.start, m.end)
	}
}

func TestCurrentProtectionSplitsMappings(t *testing.T) {
	page := unix.Getpagesize()
	mem := mmapImage(t, 3*page)
	require.NoError(t, unix.Mprotect(mem[page:2*page], unix.PROT_READ))

	m := protections(t, mem)
	require.Len(t, m, 3)
	assert.Equal(t, unix.PROT_READ|unix.PROT_WRITE, m[0].prot)
	assert.Equal(t, unix.PROT_READ, m[1].prot)
	assert.Equal(t, unix.PROT_READ|unix.PROT_WRITE, m[2].prot)
}

func TestCurrentProtectionRejectsUnmappedRange(t *testing.T) {
	page := unix.Getpagesize()
	mem, err := unix.Mmap(-1, 0, 2*page, unix.PROT_READ, unix.MAP_PRIVATE|unix.MAP_ANON)
	require.NoError(t, err)
	defer func() {
		_ = unix.MunmapPtr(unsafe.Pointer(&mem[0]), uintptr(page))
	}()
	require.NoError(t, unix.MunmapPtr(unsafe.Pointer(&mem[page]), uintptr(page)))

	_, err = currentProtection(uintptr(unsafe.Pointer(&mem[0])), 2*page)
	assert.Error(t, err)
}

func TestMprotectProtectorRestoresExactProtection(t *testing.T) {
	page := unix.Getpagesize()
	mem := mmapImage(t, 2*page)
	require.NoError(t, unix.Mprotect(mem[:page], unix.PROT_READ))
	require.NoError(t, unix.Mprotect(mem[page:], unix.PROT_READ|unix.PROT_EXEC))

	p := DefaultProtector()
	restore, err := p.Unprotect(uintptr(unsafe.Pointer(&mem[0])), 2*page)
	require.NoError(t, err)
	for _, m := range protections(t, mem) {
		assert.Equal(t, unix.PROT_READ|unix.PROT_WRITE, m.prot)
	}
	mem[0], mem[page] = 1, 2

	require.NoError(t, restore())
	m := protections(t, mem)
	require.Len(t, m, 2)
	assert.Equal(t, unix.PROT_READ, m[0].prot)
	assert.Equal(t, unix.PROT_READ|unix.PROT_EXEC, m[1].prot)
	assert.Equal(t, byte(1), mem[0])
	assert.Equal(t, byte(2), mem[page])
}
