package trailer

import "bytes"

// Locate scans the last window bytes of buf backwards for sig and returns
// the offset of the right-most occurrence, or -1. Earlier occurrences inside
// section content are never preferred over the appended trailer.
func Locate(buf, sig []byte, window int) int {
	if len(sig) == 0 || len(buf) < len(sig) || window <= 0 {
		return -1
	}

	searchLen := min(len(buf), window)
	minPos := len(buf) - searchLen
	for pos := len(buf) - len(sig); pos >= minPos; pos-- {
		if bytes.Equal(buf[pos:pos+len(sig)], sig) {
			return pos
		}
	}
	return -1
}

// LocateSignature is Locate for the trailer signature.
func LocateSignature(buf []byte, window int) int {
	return Locate(buf, []byte(SignatureMatch), window)
}
