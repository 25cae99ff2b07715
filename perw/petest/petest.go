// Package petest builds small synthetic PE images for tests.
package petest

import (
	"encoding/binary"
)

const (
	dosHeaderSize        = 64
	peSignatureSize      = 4
	coffFileHeaderSize   = 20
	optionalHeader64Size = 240
	optionalHeader32Size = 224
	sectionPeHeaderSize  = 40

	imageFileMachineAMD64 = 0x8664
	imageFileMachineI386  = 0x14c
	pe32Magic             = 0x10b
	pe32PlusMagic         = 0x20b

	FileAlignment    = 0x200
	SectionAlignment = 0x1000

	CharacteristicsCode  = 0x60000020 // code, execute, read
	CharacteristicsRData = 0x40000040 // initialized data, read
	CharacteristicsData  = 0xC0000040 // initialized data, read, write
)

// Section describes one section of a synthetic image.
type Section struct {
	Name            string
	Data            []byte
	Characteristics uint32
}

// Layout records where Build placed each section.
type Layout struct {
	SizeOfHeaders uint32
	SizeOfImage   uint32
	RVAs          []uint32
	FileOffsets   []uint32
	RawSizes      []uint32
	HeaderOffsets []int
}

// Build64 returns a PE32+ (amd64) image holding sections in order.
func Build64(sections ...Section) ([]byte, Layout) {
	return build(true, sections)
}

// Build32 returns a PE32 (i386) image holding sections in order.
func Build32(sections ...Section) ([]byte, Layout) {
	return build(false, sections)
}

func align(v, a uint32) uint32 {
	return (v + a - 1) / a * a
}

func build(is64 bool, sections []Section) ([]byte, Layout) {
	optSize := optionalHeader32Size
	if is64 {
		optSize = optionalHeader64Size
	}
	coff := dosHeaderSize + peSignatureSize
	opt := coff + coffFileHeaderSize
	table := opt + optSize

	var layout Layout
	layout.SizeOfHeaders = align(uint32(table+len(sections)*sectionPeHeaderSize), FileAlignment)

	fileEnd := layout.SizeOfHeaders
	va := uint32(SectionAlignment)
	for _, s := range sections {
		raw := align(uint32(len(s.Data)), FileAlignment)
		layout.RVAs = append(layout.RVAs, va)
		layout.FileOffsets = append(layout.FileOffsets, fileEnd)
		layout.RawSizes = append(layout.RawSizes, raw)
		fileEnd += raw
		va += align(max(uint32(len(s.Data)), 1), SectionAlignment)
	}
	layout.SizeOfImage = va

	rawData := make([]byte, fileEnd)

	// DOS header
	rawData[0], rawData[1] = 'M', 'Z'
	binary.LittleEndian.PutUint32(rawData[0x3C:], dosHeaderSize)

	// PE signature
	copy(rawData[dosHeaderSize:], []byte{'P', 'E', 0, 0})

	// COFF header
	machine := uint16(imageFileMachineI386)
	if is64 {
		machine = imageFileMachineAMD64
	}
	binary.LittleEndian.PutUint16(rawData[coff:], machine)
	binary.LittleEndian.PutUint16(rawData[coff+2:], uint16(len(sections)))
	binary.LittleEndian.PutUint16(rawData[coff+16:], uint16(optSize))

	// Optional header
	if is64 {
		binary.LittleEndian.PutUint16(rawData[opt:], pe32PlusMagic)
		binary.LittleEndian.PutUint64(rawData[opt+24:], 0x140000000)
		binary.LittleEndian.PutUint32(rawData[opt+108:], 16)
	} else {
		binary.LittleEndian.PutUint16(rawData[opt:], pe32Magic)
		binary.LittleEndian.PutUint32(rawData[opt+28:], 0x400000)
		binary.LittleEndian.PutUint32(rawData[opt+92:], 16)
	}
	if len(sections) > 0 {
		binary.LittleEndian.PutUint32(rawData[opt+16:], layout.RVAs[0])
	}
	binary.LittleEndian.PutUint32(rawData[opt+32:], SectionAlignment)
	binary.LittleEndian.PutUint32(rawData[opt+36:], FileAlignment)
	binary.LittleEndian.PutUint32(rawData[opt+56:], layout.SizeOfImage)
	binary.LittleEndian.PutUint32(rawData[opt+60:], layout.SizeOfHeaders)

	// Section headers and data
	for i, s := range sections {
		hdr := table + i*sectionPeHeaderSize
		layout.HeaderOffsets = append(layout.HeaderOffsets, hdr)

		var name [8]byte
		copy(name[:], s.Name)
		copy(rawData[hdr:], name[:])
		binary.LittleEndian.PutUint32(rawData[hdr+8:], uint32(len(s.Data)))
		binary.LittleEndian.PutUint32(rawData[hdr+12:], layout.RVAs[i])
		binary.LittleEndian.PutUint32(rawData[hdr+16:], layout.RawSizes[i])
		binary.LittleEndian.PutUint32(rawData[hdr+20:], layout.FileOffsets[i])
		binary.LittleEndian.PutUint32(rawData[hdr+36:], s.Characteristics)

		copy(rawData[layout.FileOffsets[i]:], s.Data)
	}
	return rawData, layout
}

// Filled returns n copies of b.
func Filled(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

// Standard returns the three-section image used across tests: .text of
// 4096 0xAA bytes, .rdata of 1024 0x55 bytes and .data of 512 zero bytes.
func Standard() ([]byte, Layout) {
	return Build64(
		Section{Name: ".text", Data: Filled(0xAA, 4096), Characteristics: CharacteristicsCode},
		Section{Name: ".rdata", Data: Filled(0x55, 1024), Characteristics: CharacteristicsRData},
		Section{Name: ".data", Data: make([]byte, 512), Characteristics: CharacteristicsData},
	)
}
