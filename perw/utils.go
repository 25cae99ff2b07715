package perw

import (
	"debug/pe"
	"encoding/binary"
	"fmt"
	"math"
)

func CalculateEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0.0
	}
	freq := make([]int, 256)
	for _, b := range data {
		freq[b]++
	}
	entropy := 0.0
	length := float64(len(data))
	for _, count := range freq {
		if count > 0 {
			p := float64(count) / length
			entropy -= p * math.Log2(p)
		}
	}
	return entropy
}

// decodeSectionFlags returns short permission flags, e.g. "R-X".
func decodeSectionFlags(flags uint32) string {
	perm := []byte("---")
	if flags&pe.IMAGE_SCN_MEM_READ != 0 {
		perm[0] = 'R'
	}
	if flags&pe.IMAGE_SCN_MEM_WRITE != 0 {
		perm[1] = 'W'
	}
	if flags&pe.IMAGE_SCN_MEM_EXECUTE != 0 {
		perm[2] = 'X'
	}
	return string(perm)
}

type PEOffsets struct {
	ELfanew          int64
	OptionalHeader   int64
	FirstSectionHdr  int64
	NumberOfSections int
	OptionalHdrSize  int
}

func (p *PEFile) calculateOffsets() (*PEOffsets, error) {
	if len(p.RawData) < dosHeaderSize {
		return nil, fmt.Errorf("%w: file too small for DOS header", ErrInvalidPE)
	}

	offsets := &PEOffsets{
		ELfanew: int64(binary.LittleEndian.Uint32(p.RawData[0x3C:0x40])),
	}

	coffHeaderOffset := offsets.ELfanew + peSignatureSize
	offsets.OptionalHeader = coffHeaderOffset + coffHeaderSize

	// Validate we can read COFF header fields
	if offsets.OptionalHeader > int64(len(p.RawData)) {
		return nil, fmt.Errorf("%w: file too small for COFF header", ErrInvalidPE)
	}
	if string(p.RawData[offsets.ELfanew:offsets.ELfanew+peSignatureSize]) != "PE\x00\x00" {
		return nil, fmt.Errorf("%w: invalid PE signature", ErrInvalidPE)
	}

	offsets.NumberOfSections = int(binary.LittleEndian.Uint16(p.RawData[coffHeaderOffset+2 : coffHeaderOffset+4]))
	offsets.OptionalHdrSize = int(binary.LittleEndian.Uint16(p.RawData[coffHeaderOffset+16 : coffHeaderOffset+18]))
	offsets.FirstSectionHdr = offsets.OptionalHeader + int64(offsets.OptionalHdrSize)

	return offsets, nil
}

func (p *PEFile) validateOffset(offset int64, size int64) error {
	if offset < 0 || size < 0 || offset+size > int64(len(p.RawData)) {
		return fmt.Errorf("offset %d + size %d exceeds file size %d", offset, size, len(p.RawData))
	}
	return nil
}
