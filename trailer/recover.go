package trailer

// Recover rebuilds the record run that ends at sigOffset. It walks backwards
// one slot at a time, at most MaxRecords slots. A slot failing the
// plausibility test is skipped while nothing has been accepted yet (padding
// right before the signature) and ends the walk otherwise. imageSize bounds
// OriginalRVA when positive. The result is in packing order; an empty
// result means nothing plausible was found.
func Recover(buf []byte, sigOffset int, imageSize int) []Record {
	if sigOffset < RecordSize || sigOffset > len(buf) {
		return nil
	}

	var records []Record
	for i := 1; i <= MaxRecords; i++ {
		start := sigOffset - i*RecordSize
		if start < 0 {
			break
		}

		r := ReadRecord(buf[start : start+RecordSize])
		if !plausible(r, len(buf), sigOffset, imageSize) {
			if len(records) > 0 {
				break
			}
			continue
		}

		records = append([]Record{r}, records...)
	}
	return records
}

func plausible(r Record, bufLen, sigOffset, imageSize int) bool {
	if !hasPrintable(r.Name) {
		return false
	}
	if r.OriginalSize == 0 || r.PackedSize == 0 {
		return false
	}
	// The blob must sit inside the buffer and before the trailer.
	if r.PackedEnd() > uint64(bufLen) || r.PackedEnd() > uint64(sigOffset) {
		return false
	}
	if imageSize > 0 && uint64(r.OriginalRVA) >= uint64(imageSize) {
		return false
	}
	return true
}

func hasPrintable(name [8]byte) bool {
	for _, c := range name {
		if c >= 0x20 && c <= 0x7E {
			return true
		}
	}
	return false
}

// Find locates the trailer within the last window bytes of buf and recovers
// its records. A buffer without a trailer yields (nil, -1); that is the
// normal outcome for a file packed with zero sections.
func Find(buf []byte, window int, imageSize int) ([]Record, int) {
	sigOffset := LocateSignature(buf, window)
	if sigOffset < 0 {
		return nil, -1
	}
	return Recover(buf, sigOffset, imageSize), sigOffset
}
