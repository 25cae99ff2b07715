package perw

import (
	"fmt"
	"io"
	"sectpack/common"

	"github.com/spf13/afero"
)

// Wrapper functions provide the file level API: read the input, run the
// operation, write the output and report what happened.

// PackFile packs the selected sections of in and writes the result to out.
// Nothing is written when packing fails.
func PackFile(fs afero.Fs, in, out string, opts PackOptions) (*common.OperationResult, error) {
	peFile, err := ReadPE(fs, in)
	if err != nil {
		return nil, err
	}

	res, err := peFile.Pack(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", in, err)
	}

	if err := saveFile(fs, out, res.Output); err != nil {
		return nil, err
	}

	if len(res.Records) == 0 {
		return common.NewSkipped("no matching sections with raw data, output copied unchanged"), nil
	}

	details := make([]common.OperationDetail, 0, len(res.Records)+len(res.Skipped))
	for _, r := range res.Records {
		details = append(details, common.OperationDetail{
			Message: fmt.Sprintf("packed section %s: %s -> %s (%s)", r.SectionName(),
				common.FormatSize(uint64(r.OriginalSize)), common.FormatSize(uint64(r.PackedSize)),
				common.FormatRatio(uint64(r.OriginalSize), uint64(r.PackedSize))),
			Count: 1,
		})
	}
	for _, name := range res.Skipped {
		details = append(details, common.OperationDetail{
			Message: fmt.Sprintf("section %s skipped", name),
			IsRisky: true,
		})
	}

	msg := fmt.Sprintf("packed %d sections into %s", len(res.Records), common.FormatSize(uint64(len(res.Output))))
	return common.NewApplied(msg, len(res.Records)).WithDetails(details), nil
}

// MapFile reads a PE file and returns its flat-mapped memory image along
// with the raw file bytes.
func MapFile(fs afero.Fs, path string) (image, raw []byte, err error) {
	peFile, err := ReadPE(fs, path)
	if err != nil {
		return nil, nil, err
	}
	image, err = peFile.MapImage()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to map %s: %w", path, err)
	}
	return image, peFile.RawData, nil
}

// InspectFile prints the section table and trailer of path to w.
func InspectFile(fs afero.Fs, path string, window int, w io.Writer) (*InspectReport, error) {
	raw, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	report, err := Inspect(raw, window)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	fmt.Fprintf(w, "=== %s ===\n", path)
	report.Render(w)
	return report, nil
}

// SaveImage writes a mapped image dump to path.
func SaveImage(fs afero.Fs, path string, image []byte) error {
	return saveFile(fs, path, image)
}
