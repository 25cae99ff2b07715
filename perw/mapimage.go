package perw

import (
	"fmt"
)

// MapImage lays rawData out as the loader would: SizeOfImage bytes, headers
// at 0 and each section's raw data at its VirtualAddress. Imports and
// relocations are not processed. Sections whose raw size is zero (packed
// sections among them) stay zero-filled.
func MapImage(rawData []byte) ([]byte, error) {
	pf, err := ParsePE(rawData)
	if err != nil {
		return nil, err
	}
	return pf.MapImage()
}

func (p *PEFile) MapImage() ([]byte, error) {
	size := uint64(p.sizeOfImage)
	if size == 0 {
		size = p.computeImageSize()
	}
	if size == 0 || size > 1<<31 {
		return nil, fmt.Errorf("%w: unreasonable image size %d", ErrInvalidPE, size)
	}

	image := make([]byte, size)
	headers := min(uint64(p.sizeOfHeaders), uint64(len(p.RawData)), size)
	copy(image, p.RawData[:headers])

	for _, s := range p.Sections {
		if !s.HasRawData() {
			continue
		}
		if err := p.validateOffset(s.Offset, s.Size); err != nil {
			return nil, fmt.Errorf("%w: section %s: %v", ErrInvalidPE, s.Name, err)
		}
		if uint64(s.VirtualAddress) >= size {
			return nil, fmt.Errorf("%w: section %s at RVA 0x%X outside image of %d bytes", ErrInvalidPE, s.Name, s.VirtualAddress, size)
		}

		n := uint64(s.Size)
		if s.VirtualSize > 0 && uint64(s.VirtualSize) < n {
			n = uint64(s.VirtualSize)
		}
		n = min(n, size-uint64(s.VirtualAddress))
		copy(image[s.VirtualAddress:uint64(s.VirtualAddress)+n], p.RawData[s.Offset:s.Offset+int64(n)])
	}
	return image, nil
}

func (p *PEFile) computeImageSize() uint64 {
	align := uint64(p.sectionAlignment)
	if align == 0 {
		align = 0x1000
	}
	end := uint64(p.sizeOfHeaders)
	for _, s := range p.Sections {
		extent := max(uint64(s.VirtualSize), uint64(s.Size))
		end = max(end, uint64(s.VirtualAddress)+extent)
	}
	return (end + align - 1) &^ (align - 1)
}
