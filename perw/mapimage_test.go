package perw

import (
	"encoding/binary"
	"sectpack/perw/petest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapImagePlacesSections(t *testing.T) {
	raw, layout := petest.Standard()

	image, err := MapImage(raw)
	require.NoError(t, err)
	require.Len(t, image, int(layout.SizeOfImage))

	assert.Equal(t, raw[:layout.SizeOfHeaders], image[:layout.SizeOfHeaders])
	for i, data := range standardData {
		rva := layout.RVAs[i]
		assert.Equal(t, data, image[rva:rva+uint32(len(data))])
	}
}

func TestMapImageLeavesPackedSectionsZero(t *testing.T) {
	raw, layout := petest.Standard()
	res, err := Pack(raw, PackOptions{Sections: []string{".text"}})
	require.NoError(t, err)

	image, err := MapImage(res.Output)
	require.NoError(t, err)

	rva := layout.RVAs[0]
	assert.Equal(t, make([]byte, 4096), image[rva:rva+4096])
	assert.Equal(t, standardData[1], image[layout.RVAs[1]:layout.RVAs[1]+1024])
}

func TestMapImageRejectsUnreasonableSize(t *testing.T) {
	raw, _ := petest.Standard()
	// SizeOfImage lives at optional header + 56.
	binary.LittleEndian.PutUint32(raw[0x40+4+20+56:], 0xFFFFFFFF)

	_, err := MapImage(raw)
	assert.ErrorIs(t, err, ErrInvalidPE)
}

func TestMapImageRejectsSectionOutsideImage(t *testing.T) {
	raw, layout := petest.Standard()
	binary.LittleEndian.PutUint32(raw[layout.HeaderOffsets[2]+12:], layout.SizeOfImage)

	_, err := MapImage(raw)
	assert.ErrorIs(t, err, ErrInvalidPE)
}
