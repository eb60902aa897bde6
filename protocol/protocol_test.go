package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/dendrascience/dendra-blockstore/store"
)

func TestPacketFraming(t *testing.T) {
	var buf bytes.Buffer
	want := Packet{Op: OpCommit, Payload: []byte("payload")}
	if err := WritePacket(&buf, want); err != nil {
		t.Fatalf("WritePacket() error = %v", err)
	}

	raw := buf.Bytes()
	if got := binary.LittleEndian.Uint32(raw[0:4]); got != uint32(OpCommit) {
		t.Errorf("header op = %d, want %d", got, OpCommit)
	}
	if got := binary.LittleEndian.Uint32(raw[4:8]); got != 7 {
		t.Errorf("header length = %d, want 7", got)
	}

	got, err := ReadPacket(&buf, DefaultMaxPayload)
	if err != nil {
		t.Fatalf("ReadPacket() error = %v", err)
	}
	if got.Op != want.Op || !bytes.Equal(got.Payload, want.Payload) {
		t.Errorf("ReadPacket() = %+v, want %+v", got, want)
	}
}

func TestReadPacketLimits(t *testing.T) {
	var buf bytes.Buffer
	WritePacket(&buf, Packet{Op: OpWrite, Payload: make([]byte, 100)})
	if _, err := ReadPacket(&buf, 99); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("ReadPacket() error = %v, want ErrPayloadTooLarge", err)
	}

	buf.Reset()
	WritePacket(&buf, Packet{Op: OpWrite, Payload: make([]byte, 10)})
	short := bytes.NewReader(buf.Bytes()[:12])
	if _, err := ReadPacket(short, DefaultMaxPayload); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("ReadPacket(truncated) error = %v, want ErrUnexpectedEOF", err)
	}

	if _, err := ReadPacket(bytes.NewReader(nil), DefaultMaxPayload); !errors.Is(err, io.EOF) {
		t.Errorf("ReadPacket(empty) error = %v, want EOF", err)
	}
}

func TestMessageEncoding(t *testing.T) {
	target := Target{Job: 7, File: "file", Tag: "tag"}
	tests := []Message{
		&Handshake{Worker: "worker-1"},
		&HandshakeResponse{BlockSize: 4096},
		&Create{Target: target},
		&Truncate{Target: target, Size: 8192},
		&Write{Target: target, Base: 3, Content: []byte("AAAA")},
		&Read{Target: target, Block: 1, Size: 4096},
		&Tag{Target: target, DstFile: "other", DstTag: "v2"},
		&Commit{Target: target},
		&Delete{Target: target},
		&OK{},
		&Error{Code: CodeNotFound, Message: "object not found"},
		&ReadResponse{Data: []byte{0, 1, 2, 3}},
	}

	for _, msg := range tests {
		t.Run(msg.Op().String(), func(t *testing.T) {
			p := Encode(msg)
			if p.Op != msg.Op() {
				t.Fatalf("Encode() op = %s, want %s", p.Op, msg.Op())
			}
			got, err := Decode(p)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if fmt.Sprintf("%#v", got) != fmt.Sprintf("%#v", msg) {
				t.Errorf("Decode() = %#v, want %#v", got, msg)
			}
		})
	}
}

func TestTruncatePayloadLayout(t *testing.T) {
	p := Encode(&Truncate{Target: Target{Job: 1, File: "f", Tag: "t"}, Size: 2})
	want := []byte{
		1, 0, 0, 0, 0, 0, 0, 0, // job
		1, 0, 0, 0, 'f', // file
		1, 0, 0, 0, 't', // tag
		2, 0, 0, 0, 0, 0, 0, 0, // size
	}
	if !bytes.Equal(p.Payload, want) {
		t.Errorf("payload = %v, want %v", p.Payload, want)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	if _, err := Decode(Packet{Op: 55}); !errors.Is(err, ErrUnknownOp) {
		t.Errorf("Decode(op 55) error = %v, want ErrUnknownOp", err)
	}

	p := Encode(&Create{Target: Target{Job: 1, File: "f", Tag: "t"}})
	if _, err := Decode(Packet{Op: OpCreate, Payload: p.Payload[:len(p.Payload)-1]}); !errors.Is(err, ErrShortPayload) {
		t.Errorf("Decode(short) error = %v, want ErrShortPayload", err)
	}
	if _, err := Decode(Packet{Op: OpCreate, Payload: append(p.Payload, 0)}); !errors.Is(err, ErrTrailingBytes) {
		t.Errorf("Decode(long) error = %v, want ErrTrailingBytes", err)
	}
}

func TestErrorCodesRoundTrip(t *testing.T) {
	sentinels := []error{
		store.ErrAlreadyExists, store.ErrNotFound, store.ErrForbidden, store.ErrBadSize,
		store.ErrOutOfBounds, store.ErrInsufficientSpace, store.ErrInvalidBlock, store.ErrInvalidName,
	}
	for _, sentinel := range sentinels {
		wrapped := fmt.Errorf("handler: %w", sentinel)
		remote := NewError(wrapped).Err()
		if !errors.Is(remote, sentinel) {
			t.Errorf("remote error %v does not match %v", remote, sentinel)
		}
	}

	internal := NewError(errors.New("disk on fire"))
	if internal.Code != CodeInternal {
		t.Errorf("unclassified error code = %d, want %d", internal.Code, CodeInternal)
	}
	if !errors.Is(internal.Err(), ErrInternal) {
		t.Errorf("internal remote error should match ErrInternal")
	}
}
