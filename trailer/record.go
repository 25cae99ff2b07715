// Package trailer implements the packed-section trailer: a run of fixed
// 24-byte records followed by a signature, appended to the end of a file.
// The trailer carries no record count; readers locate the signature by
// scanning backwards and rebuild the record run with plausibility checks.
package trailer

import (
	"encoding/binary"
	"fmt"

	"sectpack/common"
)

// RecordSize is the on-disk size of a Record.
const RecordSize = 24

// Record describes one packed section.
type Record struct {
	Name         [8]byte
	OriginalSize uint32 // decompressed length
	PackedSize   uint32 // stored (compressed, possibly obfuscated) length
	OriginalRVA  uint32 // destination offset within the mapped image
	PackedOffset uint32 // offset of the stored blob within the file
}

// NewRecord builds a record, truncating name to 8 bytes.
func NewRecord(name string, originalSize, packedSize, rva, offset uint32) Record {
	r := Record{
		OriginalSize: originalSize,
		PackedSize:   packedSize,
		OriginalRVA:  rva,
		PackedOffset: offset,
	}
	copy(r.Name[:], name)
	return r
}

// SectionName returns the name up to the first NUL.
func (r Record) SectionName() string {
	return common.SectionName(r.Name)
}

// PackedEnd is the file offset one past the stored blob.
func (r Record) PackedEnd() uint64 {
	return uint64(r.PackedOffset) + uint64(r.PackedSize)
}

func (r Record) String() string {
	return fmt.Sprintf("%s rva=0x%X size=%d packed=%d@0x%X",
		r.SectionName(), r.OriginalRVA, r.OriginalSize, r.PackedSize, r.PackedOffset)
}

// PutRecord encodes r into b, which must hold at least RecordSize bytes.
func PutRecord(b []byte, r Record) {
	_ = b[RecordSize-1]
	copy(b[0:8], r.Name[:])
	binary.LittleEndian.PutUint32(b[8:12], r.OriginalSize)
	binary.LittleEndian.PutUint32(b[12:16], r.PackedSize)
	binary.LittleEndian.PutUint32(b[16:20], r.OriginalRVA)
	binary.LittleEndian.PutUint32(b[20:24], r.PackedOffset)
}

// ReadRecord decodes a record from the first RecordSize bytes of b.
func ReadRecord(b []byte) Record {
	_ = b[RecordSize-1]
	var r Record
	copy(r.Name[:], b[0:8])
	r.OriginalSize = binary.LittleEndian.Uint32(b[8:12])
	r.PackedSize = binary.LittleEndian.Uint32(b[12:16])
	r.OriginalRVA = binary.LittleEndian.Uint32(b[16:20])
	r.PackedOffset = binary.LittleEndian.Uint32(b[20:24])
	return r
}
