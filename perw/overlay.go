package perw

// OverlayInfo reports the bytes stored past the end of the last section's
// raw data. A packed file carries its blobs and trailer there.
func OverlayInfo(rawEnd int64, data []byte) (present bool, offset int64, size int64, entropy float64) {
	fileSize := int64(len(data))
	if rawEnd < 0 || rawEnd >= fileSize {
		return false, 0, 0, 0
	}
	overlayData := data[rawEnd:]
	return true, rawEnd, int64(len(overlayData)), CalculateEntropy(overlayData)
}

// rawDataEnd is the file offset right after the headers and every section
// with raw data.
func (p *PEFile) rawDataEnd() int64 {
	end := int64(p.sizeOfHeaders)
	for _, s := range p.Sections {
		if s.HasRawData() {
			end = max(end, s.Offset+s.Size)
		}
	}
	return end
}

// Overlay returns the overlay of the file, see OverlayInfo.
func (p *PEFile) Overlay() (present bool, offset int64, size int64, entropy float64) {
	return OverlayInfo(p.rawDataEnd(), p.RawData)
}
