package perw

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
	"fmt"
	"sectpack/common"
	"strings"

	"github.com/spf13/afero"
)

const (
	dosHeaderSize     = 0x40
	peSignatureSize   = 4
	coffHeaderSize    = 20
	sectionHeaderSize = 40
)

// ReadPE loads and parses a PE image from fs.
func ReadPE(fs afero.Fs, path string) (*PEFile, error) {
	rawData, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	pf, err := ParsePE(rawData)
	if err != nil {
		return nil, err
	}
	pf.FileName = path
	return pf, nil
}

// ParsePE parses the headers and section table of rawData. The buffer is
// referenced, not copied.
func ParsePE(rawData []byte) (*PEFile, error) {
	if err := common.RequirePE(rawData); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPE, err)
	}
	if err := validateDOSHeader(rawData); err != nil {
		return nil, err
	}

	pf := &PEFile{RawData: rawData}
	offsets, err := pf.calculateOffsets()
	if err != nil {
		return nil, err
	}
	pf.offsets = offsets

	if err := pf.parseHeaders(); err != nil {
		return nil, err
	}
	if err := pf.parseSections(); err != nil {
		return nil, err
	}
	return pf, nil
}

func validateDOSHeader(data []byte) error {
	if len(data) < dosHeaderSize {
		return fmt.Errorf("%w: file too small to be a valid PE file", ErrInvalidPE)
	}
	if data[0] != 'M' || data[1] != 'Z' {
		return fmt.Errorf("%w: invalid DOS header signature", ErrInvalidPE)
	}
	return nil
}

func (p *PEFile) parseHeaders() error {
	var fh pe.FileHeader
	coff := p.offsets.ELfanew + peSignatureSize
	if err := binary.Read(bytes.NewReader(p.RawData[coff:coff+coffHeaderSize]), binary.LittleEndian, &fh); err != nil {
		return fmt.Errorf("%w: COFF header: %v", ErrInvalidPE, err)
	}
	p.Machine = machineName(fh.Machine)

	opt := p.offsets.OptionalHeader
	if p.offsets.OptionalHdrSize < 2 || int(opt)+2 > len(p.RawData) {
		return fmt.Errorf("%w: optional header missing", ErrInvalidPE)
	}

	magic := binary.LittleEndian.Uint16(p.RawData[opt : opt+2])
	switch magic {
	case 0x10b:
		var oh pe.OptionalHeader32
		if err := p.readOptional(&oh, binary.Size(oh)-16*8); err != nil {
			return err
		}
		p.imageBase = uint64(oh.ImageBase)
		p.entryPoint = oh.AddressOfEntryPoint
		p.sizeOfImage = oh.SizeOfImage
		p.sizeOfHeaders = oh.SizeOfHeaders
		p.sectionAlignment = oh.SectionAlignment
		p.fileAlignment = oh.FileAlignment
	case 0x20b:
		var oh pe.OptionalHeader64
		if err := p.readOptional(&oh, binary.Size(oh)-16*8); err != nil {
			return err
		}
		p.Is64Bit = true
		p.imageBase = oh.ImageBase
		p.entryPoint = oh.AddressOfEntryPoint
		p.sizeOfImage = oh.SizeOfImage
		p.sizeOfHeaders = oh.SizeOfHeaders
		p.sectionAlignment = oh.SectionAlignment
		p.fileAlignment = oh.FileAlignment
	default:
		return fmt.Errorf("%w: unknown optional header magic 0x%x", ErrInvalidPE, magic)
	}
	return nil
}

// readOptional decodes the optional header. Only the fixed part (without
// data directories) has to be present; missing directories read as zero.
func (p *PEFile) readOptional(dst any, fixedSize int) error {
	opt := int(p.offsets.OptionalHeader)
	if p.offsets.OptionalHdrSize < fixedSize || opt+fixedSize > len(p.RawData) {
		return fmt.Errorf("%w: optional header truncated", ErrInvalidPE)
	}
	full := binary.Size(dst)
	buf := make([]byte, full)
	copy(buf, p.RawData[opt:min(opt+full, opt+p.offsets.OptionalHdrSize, len(p.RawData))])
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, dst); err != nil {
		return fmt.Errorf("%w: optional header: %v", ErrInvalidPE, err)
	}
	return nil
}

func (p *PEFile) parseSections() error {
	table := p.offsets.FirstSectionHdr
	count := p.offsets.NumberOfSections
	if table < 0 || table+int64(count*sectionHeaderSize) > int64(len(p.RawData)) {
		return fmt.Errorf("%w: section headers extend beyond file", ErrInvalidPE)
	}

	p.Sections = make([]Section, 0, count)
	for i := 0; i < count; i++ {
		offset := table + int64(i*sectionHeaderSize)
		var sh pe.SectionHeader32
		if err := binary.Read(bytes.NewReader(p.RawData[offset:offset+sectionHeaderSize]), binary.LittleEndian, &sh); err != nil {
			return fmt.Errorf("%w: section header %d: %v", ErrInvalidPE, i, err)
		}

		p.Sections = append(p.Sections, Section{
			Name:           strings.TrimRight(string(sh.Name[:]), "\x00"),
			Offset:         int64(sh.PointerToRawData),
			Size:           int64(sh.SizeOfRawData),
			VirtualAddress: sh.VirtualAddress,
			VirtualSize:    sh.VirtualSize,
			Flags:          sh.Characteristics,
			HeaderOffset:   offset,
		})
	}
	return nil
}

func machineName(machine uint16) string {
	switch machine {
	case pe.IMAGE_FILE_MACHINE_I386:
		return "i386"
	case pe.IMAGE_FILE_MACHINE_AMD64:
		return "amd64"
	case pe.IMAGE_FILE_MACHINE_ARM:
		return "arm"
	case pe.IMAGE_FILE_MACHINE_ARM64:
		return "arm64"
	default:
		return fmt.Sprintf("unknown(0x%x)", machine)
	}
}

func (p *PEFile) ImageBase() uint64 {
	return p.imageBase
}

func (p *PEFile) EntryPoint() uint32 {
	return p.entryPoint
}

func (p *PEFile) SizeOfImage() uint32 {
	return p.sizeOfImage
}

func (p *PEFile) SizeOfHeaders() uint32 {
	return p.sizeOfHeaders
}

func (p *PEFile) SectionAlignment() uint32 {
	return p.sectionAlignment
}

func (p *PEFile) FileAlignment() uint32 {
	return p.fileAlignment
}
