package util

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestParseCodec(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Codec
		wantErr bool
	}{
		{name: "default", in: "", want: CodecZstd},
		{name: "zstd", in: "zstd", want: CodecZstd},
		{name: "upper case lz4", in: "LZ4", want: CodecLZ4},
		{name: "none", in: "none", want: CodecNone},
		{name: "gzip rejected", in: "gzip", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCodec(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownCodec) {
					t.Errorf("ParseCodec(%q) error = %v, want ErrUnknownCodec", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseCodec(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseCodec(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestCodecFromPath(t *testing.T) {
	tests := map[string]Codec{
		"object.zst":  CodecZstd,
		"object.zstd": CodecZstd,
		"object.lz4":  CodecLZ4,
		"object.bin":  CodecNone,
		"object":      CodecNone,
	}
	for path, want := range tests {
		if got := CodecFromPath(path); got != want {
			t.Errorf("CodecFromPath(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestCompressRoundTrip(t *testing.T) {
	// Repetitive content, like zero padded blocks, compresses well.
	payload := bytes.Repeat([]byte("AAAA\x00\x00\x00\x00"), 4096)

	for _, codec := range []Codec{CodecZstd, CodecLZ4, CodecNone} {
		t.Run(string(codec), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := NewCompressWriter(codec, &buf)
			if err != nil {
				t.Fatalf("NewCompressWriter() error = %v", err)
			}
			if _, err := w.Write(payload); err != nil {
				t.Fatalf("Write() error = %v", err)
			}
			if err := w.Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			if codec != CodecNone && buf.Len() >= len(payload) {
				t.Errorf("%s output %d bytes, expected smaller than %d", codec, buf.Len(), len(payload))
			}

			r, err := NewDecompressReader(codec, &buf)
			if err != nil {
				t.Fatalf("NewDecompressReader() error = %v", err)
			}
			defer r.Close()
			got, err := io.ReadAll(r)
			if err != nil {
				t.Fatalf("ReadAll() error = %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(payload))
			}
		})
	}
}
