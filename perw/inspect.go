package perw

import (
	"bytes"
	"fmt"
	"io"
	"sectpack/common"
	"sectpack/trailer"

	vpe "github.com/Velocidex/go-pe"
	"github.com/cespare/xxhash/v2"
	"github.com/olekukonko/tablewriter"
)

// SectionView is one row of the on-disk section table.
type SectionView struct {
	Name       string
	Perm       string
	FileOffset string
	RVA        string
	Size       string
}

// RecordView is one recovered trailer record and a digest of its blob.
type RecordView struct {
	Record  trailer.Record
	Digest  uint64
	Entropy float64
}

// InspectReport describes a (possibly packed) PE image.
type InspectReport struct {
	Machine         string
	Is64Bit         bool
	ImageBase       uint64
	EntryPoint      uint32
	SizeOfImage     uint32
	Sections        []SectionView
	SectionSource   string
	SignatureOffset int
	Records         []RecordView

	OverlayOffset  int64
	OverlaySize    int64
	OverlayEntropy float64
}

// Packed reports whether a trailer with at least one record was found.
func (r *InspectReport) Packed() bool {
	return len(r.Records) > 0
}

// Inspect parses rawData and recovers its trailer, if any.
func Inspect(rawData []byte, window int) (*InspectReport, error) {
	pf, err := ParsePE(rawData)
	if err != nil {
		return nil, err
	}

	report := &InspectReport{
		Machine:     pf.Machine,
		Is64Bit:     pf.Is64Bit,
		ImageBase:   pf.ImageBase(),
		EntryPoint:  pf.EntryPoint(),
		SizeOfImage: pf.SizeOfImage(),
	}
	report.Sections, report.SectionSource = sectionViews(pf)
	if present, offset, size, entropy := pf.Overlay(); present {
		report.OverlayOffset, report.OverlaySize, report.OverlayEntropy = offset, size, entropy
	}

	records, sigOffset := trailer.Find(rawData, window, int(pf.SizeOfImage()))
	report.SignatureOffset = sigOffset
	for _, r := range records {
		blob := rawData[r.PackedOffset:r.PackedEnd()]
		report.Records = append(report.Records, RecordView{
			Record:  r,
			Digest:  xxhash.Sum64(blob),
			Entropy: CalculateEntropy(blob),
		})
	}
	return report, nil
}

// sectionViews prefers the go-pe view of the section table and falls back
// to our own parse when go-pe rejects the image.
func sectionViews(pf *PEFile) ([]SectionView, string) {
	if vf, err := vpe.NewPEFile(bytes.NewReader(pf.RawData)); err == nil && len(vf.Sections) > 0 {
		views := make([]SectionView, 0, len(vf.Sections))
		for _, s := range vf.Sections {
			views = append(views, SectionView{
				Name:       s.Name,
				Perm:       s.Perm,
				FileOffset: fmt.Sprintf("0x%X", s.FileOffset),
				RVA:        fmt.Sprintf("0x%X", s.VMA),
				Size:       common.FormatSize(uint64(s.Size)),
			})
		}
		return views, "go-pe"
	}

	views := make([]SectionView, 0, len(pf.Sections))
	for _, s := range pf.Sections {
		views = append(views, SectionView{
			Name:       s.Name,
			Perm:       decodeSectionFlags(s.Flags),
			FileOffset: fmt.Sprintf("0x%X", s.Offset),
			RVA:        fmt.Sprintf("0x%X", s.VirtualAddress),
			Size:       common.FormatSize(uint64(s.Size)),
		})
	}
	return views, "raw"
}

// Render prints the report as two tables.
func (r *InspectReport) Render(w io.Writer) {
	fmt.Fprintf(w, "Machine: %s  ImageBase: 0x%X  EntryPoint: 0x%X  SizeOfImage: %s\n",
		r.Machine, r.ImageBase, r.EntryPoint, common.FormatSize(uint64(r.SizeOfImage)))

	fmt.Fprintf(w, "\n📦 SECTIONS (%s)\n", r.SectionSource)
	sections := tablewriter.NewWriter(w)
	sections.SetHeader([]string{"Name", "Perm", "File offset", "RVA", "Raw size"})
	for _, s := range r.Sections {
		sections.Append([]string{s.Name, s.Perm, s.FileOffset, s.RVA, s.Size})
	}
	sections.Render()

	if r.OverlaySize > 0 {
		fmt.Fprintf(w, "%s Overlay at 0x%X: %s, entropy %.2f\n", common.SymbolWarn, r.OverlayOffset,
			common.FormatSize(uint64(r.OverlaySize)), r.OverlayEntropy)
	}

	if !r.Packed() {
		if r.SignatureOffset >= 0 {
			fmt.Fprintf(w, "\n%s Signature at 0x%X but no plausible records\n", common.SymbolWarn, r.SignatureOffset)
		} else {
			fmt.Fprintf(w, "\n%s No packed-section trailer found\n", common.SymbolInfo)
		}
		return
	}

	fmt.Fprintf(w, "\n🔍 PACKED RECORDS (signature at 0x%X)\n", r.SignatureOffset)
	records := tablewriter.NewWriter(w)
	records.SetHeader([]string{"Name", "RVA", "Original", "Packed", "Ratio", "Offset", "Entropy", "xxhash64"})
	for _, v := range r.Records {
		rec := v.Record
		records.Append([]string{
			rec.SectionName(),
			fmt.Sprintf("0x%X", rec.OriginalRVA),
			common.FormatSize(uint64(rec.OriginalSize)),
			common.FormatSize(uint64(rec.PackedSize)),
			common.FormatRatio(uint64(rec.OriginalSize), uint64(rec.PackedSize)),
			fmt.Sprintf("0x%X", rec.PackedOffset),
			fmt.Sprintf("%.2f", v.Entropy),
			fmt.Sprintf("%016x", v.Digest),
		})
	}
	records.Render()
}
