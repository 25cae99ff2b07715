package perw

import "errors"

// ErrInvalidPE reports a structural problem with the input image. Packing
// aborts on it and no output is produced.
var ErrInvalidPE = errors.New("invalid PE structure")

type Section struct {
	Name           string
	Offset         int64 // PointerToRawData
	Size           int64 // SizeOfRawData
	VirtualAddress uint32
	VirtualSize    uint32
	Flags          uint32
	HeaderOffset   int64 // file offset of the 40-byte section header
}

// HasRawData reports whether the section has bytes on disk.
func (s Section) HasRawData() bool {
	return s.Offset > 0 && s.Size > 0
}

type PEFile struct {
	FileName string
	RawData  []byte
	Is64Bit  bool
	Sections []Section
	Machine  string

	imageBase        uint64
	entryPoint       uint32
	sizeOfImage      uint32
	sizeOfHeaders    uint32
	sectionAlignment uint32
	fileAlignment    uint32

	offsets *PEOffsets
}
