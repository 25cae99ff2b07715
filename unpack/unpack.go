// Package unpack restores packed sections into a memory image. It locates
// the trailer in the packed file bytes, recovers its records and writes
// each one to its original RVA.
package unpack

import (
	"errors"
	"fmt"
	"sectpack/common"
	"sectpack/trailer"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-multierror"
)

// minSourceSize is the smallest source considered at all.
const minSourceSize = 16

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNoTrailer       = errors.New("no packed-section trailer found")
	ErrNoRecords       = errors.New("trailer holds no plausible records")
	ErrNothingUnpacked = errors.New("no record could be unpacked")
)

type options struct {
	obfuscate bool
	key       uint64
	window    int
	protector Protector
	strict    bool
	logger    log.Logger
	codec     common.Codec
}

// Option configures Unpack and NewWriter.
type Option func(*options)

// WithObfuscation de-obfuscates blobs with the low byte of key.
func WithObfuscation(key uint64) Option {
	return func(o *options) {
		o.obfuscate = true
		o.key = key
	}
}

// WithSearchWindow bounds how far from the end the signature is searched.
func WithSearchWindow(n int) Option {
	return func(o *options) { o.window = n }
}

func WithProtector(p Protector) Option {
	return func(o *options) { o.protector = p }
}

// WithStrictProtection skips a record when its pages cannot be made
// writable instead of writing anyway.
func WithStrictProtection() Option {
	return func(o *options) { o.strict = true }
}

func WithLogger(l log.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithCodec(c common.Codec) Option {
	return func(o *options) { o.codec = c }
}

func buildOptions(opts []Option) options {
	o := options{
		window:    trailer.DefaultSearchWindow,
		protector: DefaultProtector(),
		logger:    log.NewNopLogger(),
		codec:     common.NewZlibCodec(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Report describes the outcome of an Unpack call.
type Report struct {
	SignatureOffset int
	Records         []trailer.Record
	Unpacked        []string
	Skipped         []string
	// Err aggregates the per-record failures, nil when every record was
	// written.
	Err error
}

// Unpack locates the trailer in src and writes every plausible record into
// img. It succeeds when at least one record was written; records that fail
// are skipped and reported in Report.Err.
func Unpack(src []byte, img *Image, opts ...Option) (*Report, error) {
	switch {
	case len(src) == 0:
		return nil, fmt.Errorf("%w: empty source", ErrInvalidInput)
	case len(src) < minSourceSize:
		return nil, fmt.Errorf("%w: source of %d bytes is too small", ErrInvalidInput, len(src))
	case img == nil || img.Size() == 0:
		return nil, fmt.Errorf("%w: no destination image", ErrInvalidInput)
	}

	o := buildOptions(opts)
	logger := o.logger

	sigOffset := trailer.LocateSignature(src, o.window)
	if sigOffset < 0 {
		level.Info(logger).Log("msg", "signature not found", "window", o.window, "size", len(src))
		return nil, ErrNoTrailer
	}
	level.Debug(logger).Log("msg", "signature found", "offset", sigOffset)

	report := &Report{SignatureOffset: sigOffset}
	report.Records = trailer.Recover(src, sigOffset, img.Size())
	if len(report.Records) == 0 {
		return report, ErrNoRecords
	}
	level.Debug(logger).Log("msg", "records recovered", "count", len(report.Records))

	w := &Writer{img: img, opts: o}
	for _, r := range report.Records {
		name := r.SectionName()
		if err := w.Write(src, r); err != nil {
			level.Warn(logger).Log("msg", "skipping record", "section", name, "err", err)
			report.Skipped = append(report.Skipped, name)
			report.Err = multierror.Append(report.Err, fmt.Errorf("%s: %w", name, err))
			continue
		}
		report.Unpacked = append(report.Unpacked, name)
	}

	if len(report.Unpacked) == 0 {
		return report, fmt.Errorf("%w: %w", ErrNothingUnpacked, report.Err)
	}
	level.Info(logger).Log("msg", "unpacked sections", "count", len(report.Unpacked), "skipped", len(report.Skipped))
	return report, nil
}
