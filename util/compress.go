package util

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects the stream compression applied to exported objects.
type Codec string

const (
	CodecNone Codec = "none"
	CodecZstd Codec = "zstd"
	CodecLZ4  Codec = "lz4"
)

// ParseCodec validates a codec name. An empty name selects zstd.
func ParseCodec(name string) (Codec, error) {
	switch Codec(strings.ToLower(name)) {
	case "", CodecZstd:
		return CodecZstd, nil
	case CodecLZ4:
		return CodecLZ4, nil
	case CodecNone:
		return CodecNone, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCodec, name)
}

// CodecFromPath guesses the codec from a file extension, falling back to none.
func CodecFromPath(path string) Codec {
	switch filepath.Ext(path) {
	case ".zst", ".zstd":
		return CodecZstd
	case ".lz4":
		return CodecLZ4
	}
	return CodecNone
}

// Ext returns the conventional file extension for the codec.
func (c Codec) Ext() string {
	switch c {
	case CodecZstd:
		return ".zst"
	case CodecLZ4:
		return ".lz4"
	}
	return ""
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// NewCompressWriter wraps w so that everything written is compressed with
// c. Close flushes the compressor but does not close w.
func NewCompressWriter(c Codec, w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CodecZstd:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return enc, nil
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	case CodecNone:
		return nopWriteCloser{w}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, c)
}

// NewDecompressReader is the inverse of NewCompressWriter.
func NewDecompressReader(c Codec, r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CodecZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return dec.IOReadCloser(), nil
	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	case CodecNone:
		return io.NopCloser(r), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, c)
}
