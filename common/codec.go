package common

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

var (
	ErrEmptyInput       = errors.New("empty input")
	ErrEmptyDecompress  = errors.New("decompression produced no data")
	ErrInvalidExpected  = errors.New("expected size must be positive")
	ErrCorruptedPayload = errors.New("corrupted compressed payload")
)

// Codec compresses section payloads. Implementations must be stateless.
type Codec interface {
	Compress(data []byte) ([]byte, error)
	// Decompress returns at most expected bytes. A shorter result is
	// accepted, a longer stream is truncated to expected.
	Decompress(data []byte, expected int) ([]byte, error)
}

// ZlibCodec stores payloads as zlib streams, the format produced by
// zlib's compress2 and read back by uncompress.
type ZlibCodec struct {
	// Level is a zlib level; the zero value selects best compression.
	Level int
}

// NewZlibCodec returns a codec using best compression.
func NewZlibCodec() ZlibCodec {
	return ZlibCodec{Level: zlib.BestCompression}
}

func (c ZlibCodec) level() int {
	if c.Level == 0 || c.Level < zlib.HuffmanOnly || c.Level > zlib.BestCompression {
		return zlib.BestCompression
	}
	return c.Level
}

func (c ZlibCodec) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, c.level())
	if err != nil {
		return nil, fmt.Errorf("failed to create zlib writer: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to compress %d bytes: %w", len(data), err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to flush zlib stream: %w", err)
	}
	return buf.Bytes(), nil
}

func (c ZlibCodec) Decompress(data []byte, expected int) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}
	if expected <= 0 {
		return nil, ErrInvalidExpected
	}
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedPayload, err)
	}
	defer func() {
		_ = r.Close()
	}()

	out, err := io.ReadAll(io.LimitReader(r, int64(expected)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptedPayload, err)
	}
	if len(out) == expected {
		// Read past the limit so the adler32 trailer is verified when the
		// stream ends exactly here. Surplus output is dropped.
		var probe [1]byte
		if _, perr := r.Read(probe[:]); perr != nil && perr != io.EOF {
			return nil, fmt.Errorf("%w: %v", ErrCorruptedPayload, perr)
		}
	}

	if len(out) == 0 {
		return nil, ErrEmptyDecompress
	}
	return out, nil
}
