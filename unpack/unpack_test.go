package unpack

import (
	"bytes"
	"errors"
	"sectpack/perw"
	"sectpack/perw/petest"
	"sectpack/trailer"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = 0x80

var standardData = map[string][]byte{
	".text":  petest.Filled(0xAA, 4096),
	".rdata": petest.Filled(0x55, 1024),
	".data":  make([]byte, 512),
}

func packStandard(t *testing.T, obfuscate bool) ([]byte, petest.Layout) {
	t.Helper()
	raw, layout := petest.Standard()
	res, err := perw.Pack(raw, perw.PackOptions{Obfuscate: obfuscate, Key: testKey})
	require.NoError(t, err)
	require.Len(t, res.Records, 3)
	return res.Output, layout
}

func mapImage(t *testing.T, packed []byte) *Image {
	t.Helper()
	mem, err := perw.MapImage(packed)
	require.NoError(t, err)
	img, err := NewImage(mem)
	require.NoError(t, err)
	return img
}

func assertRestored(t *testing.T, img *Image, layout petest.Layout, names ...string) {
	t.Helper()
	rvas := map[string]uint32{".text": layout.RVAs[0], ".rdata": layout.RVAs[1], ".data": layout.RVAs[2]}
	for _, name := range names {
		data := standardData[name]
		rva := rvas[name]
		assert.Equal(t, data, img.Bytes()[rva:rva+uint32(len(data))], "section %s", name)
	}
}

func TestUnpackEndToEnd(t *testing.T) {
	packed, layout := packStandard(t, true)
	pristine := bytes.Clone(packed)
	img := mapImage(t, packed)

	report, err := Unpack(packed, img, WithObfuscation(testKey), WithProtector(NopProtector{}))
	require.NoError(t, err)
	assert.Equal(t, []string{".text", ".rdata", ".data"}, report.Unpacked)
	assert.Empty(t, report.Skipped)
	assert.NoError(t, report.Err)
	assert.Equal(t, len(packed)-len(trailer.Signature), report.SignatureOffset)
	assert.Equal(t, pristine, packed, "source must not be modified")

	assertRestored(t, img, layout, ".text", ".rdata", ".data")
}

func TestUnpackWithoutObfuscation(t *testing.T) {
	packed, layout := packStandard(t, false)
	img := mapImage(t, packed)

	report, err := Unpack(packed, img, WithProtector(NopProtector{}))
	require.NoError(t, err)
	assert.Len(t, report.Unpacked, 3)
	assertRestored(t, img, layout, ".text", ".rdata", ".data")
}

func TestUnpackKeyUsesLowByteOnly(t *testing.T) {
	packed, layout := packStandard(t, true)
	img := mapImage(t, packed)

	report, err := Unpack(packed, img, WithObfuscation(0xFF80), WithProtector(NopProtector{}))
	require.NoError(t, err)
	assert.Len(t, report.Unpacked, 3)
	assertRestored(t, img, layout, ".text", ".rdata", ".data")
}

func TestUnpackWrongKey(t *testing.T) {
	packed, _ := packStandard(t, true)
	img := mapImage(t, packed)

	report, err := Unpack(packed, img, WithObfuscation(testKey+1), WithProtector(NopProtector{}))
	require.ErrorIs(t, err, ErrNothingUnpacked)
	require.NotNil(t, report)
	assert.Empty(t, report.Unpacked)
	assert.Len(t, report.Skipped, 3)
	assert.ErrorIs(t, err, ErrDecompress)
}

func TestUnpackInvalidInput(t *testing.T) {
	packed, _ := packStandard(t, true)
	img := mapImage(t, packed)

	for _, tc := range []struct {
		name string
		src  []byte
		img  *Image
	}{
		{"empty source", nil, img},
		{"short source", make([]byte, minSourceSize-1), img},
		{"nil image", packed, nil},
		{"empty image", packed, &Image{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			report, err := Unpack(tc.src, tc.img)
			assert.ErrorIs(t, err, ErrInvalidInput)
			assert.Nil(t, report)
		})
	}

	_, err := NewImage(nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = ImageAt(nil, 4096)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUnpackNoTrailer(t *testing.T) {
	raw, _ := petest.Standard()
	img := mapImage(t, raw)

	_, err := Unpack(raw, img, WithProtector(NopProtector{}))
	assert.ErrorIs(t, err, ErrNoTrailer)
}

func TestUnpackSignatureOutsideWindow(t *testing.T) {
	packed, _ := packStandard(t, true)
	img := mapImage(t, packed)

	_, err := Unpack(packed, img, WithObfuscation(testKey), WithSearchWindow(len(trailer.SignatureMatch)-1))
	assert.ErrorIs(t, err, ErrNoTrailer)
}

func TestUnpackNoPlausibleRecords(t *testing.T) {
	src := append(make([]byte, 256), trailer.Signature...)
	img, err := NewImage(make([]byte, 0x1000))
	require.NoError(t, err)

	report, err := Unpack(src, img)
	assert.ErrorIs(t, err, ErrNoRecords)
	require.NotNil(t, report)
	assert.Equal(t, 256, report.SignatureOffset)
}

func TestUnpackCorruptBlobIsSkipped(t *testing.T) {
	packed, layout := packStandard(t, true)
	records, _ := trailer.Find(packed, trailer.DefaultSearchWindow, int(layout.SizeOfImage))
	require.Len(t, records, 3)

	rdata := records[1]
	for i := rdata.PackedOffset; i < uint32(rdata.PackedEnd()); i++ {
		packed[i] = 0xFF
	}
	img := mapImage(t, packed)

	report, err := Unpack(packed, img, WithObfuscation(testKey), WithProtector(NopProtector{}))
	require.NoError(t, err)
	assert.Equal(t, []string{".text", ".data"}, report.Unpacked)
	assert.Equal(t, []string{".rdata"}, report.Skipped)
	assert.ErrorIs(t, report.Err, ErrDecompress)
	assertRestored(t, img, layout, ".text", ".data")

	rva := layout.RVAs[1]
	assert.Equal(t, make([]byte, 1024), img.Bytes()[rva:rva+1024])
}

func TestUnpackRejectsRecordPastImageEnd(t *testing.T) {
	packed, layout := packStandard(t, true)
	mem, err := perw.MapImage(packed)
	require.NoError(t, err)

	// .rdata starts inside the image but does not fit; .data starts past
	// the end and is not even recovered.
	img, err := NewImage(mem[:layout.RVAs[1]+0x200])
	require.NoError(t, err)

	report, err := Unpack(packed, img, WithObfuscation(testKey), WithProtector(NopProtector{}))
	require.NoError(t, err)
	assert.Len(t, report.Records, 2)
	assert.Equal(t, []string{".text"}, report.Unpacked)
	assert.Equal(t, []string{".rdata"}, report.Skipped)
	assert.ErrorIs(t, report.Err, ErrRecordBounds)
	assertRestored(t, img, layout, ".text")
}

func TestWriterRejectsBlobOutsideSource(t *testing.T) {
	packed, _ := packStandard(t, false)
	img := mapImage(t, packed)
	w := NewWriter(img, WithProtector(NopProtector{}))

	r := trailer.NewRecord(".text", 4096, 64, 0x1000, uint32(len(packed)-32))
	assert.ErrorIs(t, w.Write(packed, r), ErrRecordBounds)

	r = trailer.NewRecord(".text", 4096, 64, uint32(img.Size()), 0)
	assert.ErrorIs(t, w.Write(packed, r), ErrRecordBounds)
}

type recordingProtector struct {
	pageSize   int
	unprotect  error
	flush      error
	calls      []uintptr
	sizes      []int
	restores   int
	flushSizes []int
}

func (p *recordingProtector) PageSize() int { return p.pageSize }

func (p *recordingProtector) Unprotect(addr uintptr, size int) (func() error, error) {
	p.calls = append(p.calls, addr)
	p.sizes = append(p.sizes, size)
	if p.unprotect != nil {
		return nil, p.unprotect
	}
	return func() error {
		p.restores++
		return nil
	}, nil
}

func (p *recordingProtector) FlushInstructionCache(_ uintptr, size int) error {
	p.flushSizes = append(p.flushSizes, size)
	return p.flush
}

func TestUnpackProtectsWholePages(t *testing.T) {
	packed, _ := packStandard(t, true)
	img := mapImage(t, packed)
	p := &recordingProtector{pageSize: 4096, flush: ErrFlushUnsupported}

	report, err := Unpack(packed, img, WithObfuscation(testKey), WithProtector(p))
	require.NoError(t, err)
	assert.Len(t, report.Unpacked, 3)

	require.Len(t, p.calls, 3)
	for i, addr := range p.calls {
		assert.Zero(t, addr%4096, "call %d not page aligned", i)
		assert.Zero(t, p.sizes[i]%4096, "call %d size not whole pages", i)
	}
	assert.Equal(t, 3, p.restores)
	assert.Equal(t, []int{4096, 1024, 512}, p.flushSizes)
}

func TestUnpackProtectionFailureFallsBack(t *testing.T) {
	packed, layout := packStandard(t, true)
	img := mapImage(t, packed)
	p := &recordingProtector{pageSize: 4096, unprotect: errors.New("denied")}

	report, err := Unpack(packed, img, WithObfuscation(testKey), WithProtector(p))
	require.NoError(t, err)
	assert.Len(t, report.Unpacked, 3)
	assert.Zero(t, p.restores)
	assertRestored(t, img, layout, ".text", ".rdata", ".data")
}

func TestUnpackStrictProtectionSkips(t *testing.T) {
	packed, _ := packStandard(t, true)
	img := mapImage(t, packed)
	p := &recordingProtector{pageSize: 4096, unprotect: errors.New("denied")}

	report, err := Unpack(packed, img, WithObfuscation(testKey), WithProtector(p), WithStrictProtection())
	require.ErrorIs(t, err, ErrNothingUnpacked)
	assert.ErrorIs(t, err, ErrProtectFailed)
	assert.Len(t, report.Skipped, 3)
	assert.Equal(t, make([]byte, 4096), img.Bytes()[0x1000:0x2000])
}

func TestPageRange(t *testing.T) {
	for _, tc := range []struct {
		addr      uintptr
		size      int
		wantStart uintptr
		wantLen   int
	}{
		{0x1000, 0x1000, 0x1000, 0x1000},
		{0x1004, 0x10, 0x1000, 0x1000},
		{0x1FFF, 2, 0x1000, 0x2000},
		{0x1000, 0x1001, 0x1000, 0x2000},
	} {
		start, n := pageRange(tc.addr, tc.size, 0x1000)
		assert.Equal(t, tc.wantStart, start, "addr 0x%X", tc.addr)
		assert.Equal(t, tc.wantLen, n, "addr 0x%X", tc.addr)
	}
}
