package unpack

import (
	"errors"
	"fmt"
	"sectpack/common"
	"sectpack/trailer"
	"unsafe"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Per-record failures. A record failing with any of these is skipped and
// the remaining records are still written.
var (
	ErrRecordBounds  = errors.New("record out of bounds")
	ErrDecompress    = errors.New("failed to decompress record")
	ErrProtectFailed = errors.New("failed to change page protection")
)

// Writer decompresses trailer records into an Image.
type Writer struct {
	img  *Image
	opts options
}

// NewWriter returns a Writer for img. Options are the same as Unpack's;
// the search window is ignored.
func NewWriter(img *Image, opts ...Option) *Writer {
	return &Writer{img: img, opts: buildOptions(opts)}
}

// Write restores one record: its blob is read from src, de-obfuscated on
// a private copy, decompressed and copied to OriginalRVA in the image with
// the covering pages temporarily made writable. src is never modified.
func (w *Writer) Write(src []byte, r trailer.Record) error {
	logger := log.With(w.opts.logger, "section", r.SectionName())

	if r.PackedEnd() > uint64(len(src)) {
		return fmt.Errorf("%w: packed range [0x%X, 0x%X) outside source of %d bytes",
			ErrRecordBounds, r.PackedOffset, r.PackedEnd(), len(src))
	}
	if int64(r.OriginalRVA) >= int64(w.img.Size()) {
		return fmt.Errorf("%w: RVA 0x%X outside image of %d bytes", ErrRecordBounds, r.OriginalRVA, w.img.Size())
	}

	blob := src[r.PackedOffset:r.PackedEnd()]
	if w.opts.obfuscate {
		blob = common.XORBytes(blob, w.opts.key)
	}

	data, err := w.opts.codec.Decompress(blob, int(r.OriginalSize))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrDecompress, err)
	}
	if len(data) > int(r.OriginalSize) {
		data = data[:r.OriginalSize]
	}
	if len(data) < int(r.OriginalSize) {
		level.Debug(logger).Log("msg", "decompressed fewer bytes than recorded", "got", len(data), "want", r.OriginalSize)
	}

	dst, err := w.img.region(r.OriginalRVA, len(data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRecordBounds, err)
	}

	addr := uintptr(unsafe.Pointer(unsafe.SliceData(dst)))
	pageStart, pageLen := pageRange(addr, len(dst), w.opts.protector.PageSize())

	restore, err := w.opts.protector.Unprotect(pageStart, pageLen)
	if err != nil {
		if w.opts.strict {
			return fmt.Errorf("%w: %w", ErrProtectFailed, err)
		}
		level.Warn(logger).Log("msg", "failed to make pages writable, writing anyway", "addr", fmt.Sprintf("0x%X", pageStart), "size", pageLen, "err", err)
		restore = nil
	}

	copy(dst, data)

	if restore != nil {
		if err := restore(); err != nil {
			level.Warn(logger).Log("msg", "failed to restore page protection", "err", err)
		}
	}

	if err := w.opts.protector.FlushInstructionCache(addr, len(dst)); err != nil {
		if errors.Is(err, ErrFlushUnsupported) {
			level.Debug(logger).Log("msg", "instruction cache not flushed", "err", err)
		} else {
			level.Warn(logger).Log("msg", "failed to flush instruction cache", "err", err)
		}
	}

	level.Debug(logger).Log("msg", "record written", "rva", fmt.Sprintf("0x%X", r.OriginalRVA), "size", len(dst))
	return nil
}
