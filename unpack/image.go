package unpack

import (
	"fmt"
	"unsafe"
)

// Image is the destination memory image records are written into. It is
// a bounds-checked view over memory the caller owns; the package never
// frees it and only changes its protection for the duration of a write.
type Image struct {
	mem []byte
}

// NewImage wraps an existing byte slice, typically the output of a flat
// mapper or a test buffer.
func NewImage(mem []byte) (*Image, error) {
	if len(mem) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrInvalidInput)
	}
	return &Image{mem: mem}, nil
}

// ImageAt wraps size bytes of mapped memory starting at base, such as a
// module mapped by a loader.
func ImageAt(base unsafe.Pointer, size int) (*Image, error) {
	if base == nil || size <= 0 {
		return nil, fmt.Errorf("%w: image base %p size %d", ErrInvalidInput, base, size)
	}
	return &Image{mem: unsafe.Slice((*byte)(base), size)}, nil
}

// Base returns the address of the first byte of the image.
func (i *Image) Base() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(i.mem)))
}

func (i *Image) Size() int {
	return len(i.mem)
}

// Bytes exposes the underlying memory.
func (i *Image) Bytes() []byte {
	return i.mem
}

// region returns the n bytes at rva, or an error if they leave the image.
func (i *Image) region(rva uint32, n int) ([]byte, error) {
	end := uint64(rva) + uint64(n)
	if n < 0 || end > uint64(len(i.mem)) {
		return nil, fmt.Errorf("range [0x%X, 0x%X) exceeds image of %d bytes", rva, end, len(i.mem))
	}
	return i.mem[rva:end], nil
}
