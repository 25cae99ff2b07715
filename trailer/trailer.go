package trailer

import "sectpack/common"

const (
	// Signature terminates every trailer. Only the printable part is
	// compared while scanning; the NUL is written for C readers.
	Signature = "MICROSOFT\x00"
	// SignatureMatch is the part of Signature LocateSignature looks for.
	SignatureMatch = "MICROSOFT"
)

const (
	// DefaultSearchWindow bounds the backward scan to the file tail.
	DefaultSearchWindow = common.DefaultSearchWindow
	// MaxRecords caps the backward walk. It is a sanity ceiling, not a
	// format limit.
	MaxRecords = 128
)

// Size returns the number of bytes a trailer with n records occupies.
func Size(n int) int {
	if n == 0 {
		return 0
	}
	return n*RecordSize + len(Signature)
}

// Put writes records followed by the signature into dst, which must be
// exactly Size(len(records)) bytes. Nothing is written for zero records.
func Put(dst []byte, records []Record) int {
	if len(records) == 0 {
		return 0
	}
	_ = dst[Size(len(records))-1]
	off := 0
	for _, r := range records {
		PutRecord(dst[off:], r)
		off += RecordSize
	}
	off += copy(dst[off:], Signature)
	return off
}

// Encode returns a freshly allocated trailer for records.
func Encode(records []Record) []byte {
	out := make([]byte, Size(len(records)))
	Put(out, records)
	return out
}
