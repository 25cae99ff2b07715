package common

// XORInPlace applies the single-byte XOR transform to data in place.
// Only the low 8 bits of key participate, so there are 256 distinct
// transforms. This is obfuscation, not encryption.
func XORInPlace(data []byte, key uint64) {
	k := byte(key & 0xFF)
	for i := range data {
		data[i] ^= k
	}
}

// XORBytes returns a transformed copy of data and leaves data untouched.
// XORBytes(XORBytes(x, k), k) == x for every x and k.
func XORBytes(data []byte, key uint64) []byte {
	if data == nil {
		return nil
	}
	out := make([]byte, len(data))
	copy(out, data)
	XORInPlace(out, key)
	return out
}
