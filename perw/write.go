package perw

import (
	"encoding/binary"
	"fmt"

	"github.com/spf13/afero"
)

// WriteAtOffset writes a little-endian uint32 to rawData at offset.
func WriteAtOffset(rawData []byte, offset int64, value uint32) error {
	if offset < 0 || offset+4 > int64(len(rawData)) {
		return fmt.Errorf("offset out of range: %d", offset)
	}
	binary.LittleEndian.PutUint32(rawData[offset:offset+4], value)
	return nil
}

// fillZero clears [offset, offset+size) of rawData.
func fillZero(rawData []byte, offset, size int64) error {
	if offset < 0 || size < 0 || offset+size > int64(len(rawData)) {
		return fmt.Errorf("invalid region: offset %d, size %d, total %d", offset, size, len(rawData))
	}
	clear(rawData[offset : offset+size])
	return nil
}

// saveFile writes data to path, replacing any previous content.
func saveFile(fs afero.Fs, path string, data []byte) error {
	if path == "" {
		return fmt.Errorf("empty output path")
	}
	if len(data) == 0 {
		return fmt.Errorf("refusing to write empty output to %s", path)
	}
	if err := afero.WriteFile(fs, path, data, 0o755); err != nil {
		return fmt.Errorf("failed to write changes to disk: %w", err)
	}
	return nil
}
