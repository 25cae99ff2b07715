package perw

import (
	"fmt"
	"math"
	"sectpack/common"
	"sectpack/trailer"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/samber/lo"
)

// sizeOfRawDataOffset is the offset of SizeOfRawData inside a section header.
const sizeOfRawDataOffset = 16

// PackOptions selects the sections to hide and how to store them.
type PackOptions struct {
	Sections        []string // exact names; defaults to common.DefaultSections
	SectionPrefixes []string
	Obfuscate       bool
	Key             uint64 // only the low byte is used
	Level           int    // zlib level; 0 means best compression
	Codec           common.Codec
	Logger          log.Logger
}

func (o *PackOptions) applyDefaults() {
	if len(o.Sections) == 0 && len(o.SectionPrefixes) == 0 {
		o.Sections = common.DefaultSections
	}
	if o.Codec == nil {
		o.Codec = common.ZlibCodec{Level: o.Level}
	}
	if o.Logger == nil {
		o.Logger = log.NewNopLogger()
	}
}

// PackResult is the packed image plus what went into its trailer.
type PackResult struct {
	Output  []byte
	Records []trailer.Record
	Skipped []string
}

type packedBlob struct {
	section Section
	name    [8]byte
	data    []byte
}

// Pack parses raw and packs the selected sections. raw is not modified.
func Pack(raw []byte, opts PackOptions) (*PackResult, error) {
	pf, err := ParsePE(raw)
	if err != nil {
		return nil, err
	}
	return pf.Pack(opts)
}

// Pack compresses the selected sections and returns a new image with the
// originals zeroed, their SizeOfRawData cleared and a trailer appended.
//
// Every blob is produced before the output is allocated, so the output is
// sized once and offsets recorded in the trailer never move.
func (p *PEFile) Pack(opts PackOptions) (*PackResult, error) {
	opts.applyDefaults()
	logger := opts.Logger

	blobs, skipped, err := p.compressSections(opts)
	if err != nil {
		return nil, err
	}

	if len(blobs) == 0 {
		level.Info(logger).Log("msg", "no sections packed, output is unchanged")
		out := make([]byte, len(p.RawData))
		copy(out, p.RawData)
		return &PackResult{Output: out, Skipped: skipped}, nil
	}

	payloadSize := lo.SumBy(blobs, func(b packedBlob) int { return len(b.data) })
	total := len(p.RawData) + payloadSize + trailer.Size(len(blobs))
	if uint64(total) > math.MaxUint32 {
		return nil, fmt.Errorf("packed image of %d bytes exceeds 32-bit trailer offsets", total)
	}

	out := make([]byte, total)
	copy(out, p.RawData)

	records := make([]trailer.Record, 0, len(blobs))
	cursor := len(p.RawData)
	for _, b := range blobs {
		s := b.section
		if err := fillZero(out, s.Offset, s.Size); err != nil {
			return nil, fmt.Errorf("failed to clear section %s: %w", s.Name, err)
		}
		if err := WriteAtOffset(out, s.HeaderOffset+sizeOfRawDataOffset, uint32(0)); err != nil {
			return nil, fmt.Errorf("failed to update header of %s: %w", s.Name, err)
		}
		copy(out[cursor:], b.data)

		records = append(records, trailer.Record{
			Name:         b.name,
			OriginalSize: uint32(s.Size),
			PackedSize:   uint32(len(b.data)),
			OriginalRVA:  s.VirtualAddress,
			PackedOffset: uint32(cursor),
		})
		cursor += len(b.data)
	}
	trailer.Put(out[cursor:], records)

	level.Info(logger).Log("msg", "packed sections", "count", len(records), "size", len(out))
	return &PackResult{Output: out, Records: records, Skipped: skipped}, nil
}

func (p *PEFile) selectSections(opts PackOptions) []Section {
	return lo.Filter(p.Sections, func(s Section, _ int) bool {
		return common.MatchesPattern(s.Name, opts.Sections, opts.SectionPrefixes)
	})
}

// compressSections is the first packing phase: every selected section with
// raw data is compressed (and obfuscated) into its own blob.
func (p *PEFile) compressSections(opts PackOptions) ([]packedBlob, []string, error) {
	logger := opts.Logger
	var (
		blobs   []packedBlob
		skipped []string
	)

	for _, s := range p.selectSections(opts) {
		if s.Size == 0 {
			level.Debug(logger).Log("msg", "section has no raw data, already packed or empty", "section", s.Name)
			skipped = append(skipped, s.Name)
			continue
		}
		if s.Offset <= 0 || p.validateOffset(s.Offset, s.Size) != nil {
			level.Warn(logger).Log("msg", "section raw data out of bounds, skipping", "section", s.Name,
				"offset", s.Offset, "size", s.Size, "file_size", len(p.RawData))
			skipped = append(skipped, s.Name)
			continue
		}

		data, err := opts.Codec.Compress(p.RawData[s.Offset : s.Offset+s.Size])
		if err != nil {
			return nil, nil, fmt.Errorf("failed to compress section %s: %w", s.Name, err)
		}
		if opts.Obfuscate {
			level.Debug(logger).Log("msg", "obfuscating packed section", "section", s.Name, "key", fmt.Sprintf("0x%02X", byte(opts.Key)))
			common.XORInPlace(data, opts.Key)
		}

		var name [8]byte
		copy(name[:], p.RawData[s.HeaderOffset:s.HeaderOffset+8])
		blobs = append(blobs, packedBlob{section: s, name: name, data: data})

		level.Debug(logger).Log("msg", "compressed section", "section", s.Name,
			"original", common.FormatSize(uint64(s.Size)), "packed", common.FormatSize(uint64(len(data))))
	}
	return blobs, skipped, nil
}
