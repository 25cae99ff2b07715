package common

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/yalue/elf_reader"
)

// FileFormat identifies the container format of an input buffer.
type FileFormat int

const (
	FormatUnknown FileFormat = iota
	FormatPE
	FormatELF
)

var ErrUnsupportedFormat = errors.New("unsupported executable format")

func (f FileFormat) String() string {
	switch f {
	case FormatPE:
		return "PE"
	case FormatELF:
		return "ELF"
	default:
		return "unknown"
	}
}

// DetectFormat sniffs the magic bytes of data. ELF images are parsed so the
// caller gets a precise rejection message instead of a generic PE error.
func DetectFormat(data []byte) (FileFormat, string) {
	switch {
	case len(data) >= 2 && data[0] == 'M' && data[1] == 'Z':
		return FormatPE, "PE image"
	case len(data) >= 4 && bytes.Equal(data[:4], []byte{0x7f, 'E', 'L', 'F'}):
		elfFile, err := elf_reader.ParseELFFile(data)
		if err != nil {
			return FormatELF, fmt.Sprintf("malformed ELF (%v)", err)
		}
		return FormatELF, fmt.Sprintf("ELF type %d, %d sections, %d segments",
			elfFile.GetFileType(), elfFile.GetSectionCount(), elfFile.GetSegmentCount())
	default:
		return FormatUnknown, "no known magic"
	}
}

// RequirePE returns ErrUnsupportedFormat unless data looks like a PE image.
func RequirePE(data []byte) error {
	format, desc := DetectFormat(data)
	if format != FormatPE {
		return fmt.Errorf("%w: %s input (%s), only PE sections can be packed", ErrUnsupportedFormat, format, desc)
	}
	return nil
}
