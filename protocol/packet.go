package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Op is a packet operation code.
type Op uint32

const (
	OpHandshake Op = 1
	OpCreate    Op = 2
	OpTruncate  Op = 3
	OpWrite     Op = 4
	OpRead      Op = 5
	OpTag       Op = 6
	OpCommit    Op = 7
	OpDelete    Op = 8

	OpOK                Op = 100
	OpError             Op = 101
	OpReadResponse      Op = 102
	OpHandshakeResponse Op = 103
)

var opNames = map[Op]string{
	OpHandshake:         "handshake",
	OpCreate:            "create",
	OpTruncate:          "truncate",
	OpWrite:             "write",
	OpRead:              "read",
	OpTag:               "tag",
	OpCommit:            "commit",
	OpDelete:            "delete",
	OpOK:                "ok",
	OpError:             "error",
	OpReadResponse:      "read_response",
	OpHandshakeResponse: "handshake_response",
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint32(o))
}

// IsRequest reports whether o is sent by workers after the handshake.
func (o Op) IsRequest() bool {
	return o >= OpCreate && o <= OpDelete
}

// RequestOps lists the storage operations in code order.
var RequestOps = []Op{OpCreate, OpTruncate, OpWrite, OpRead, OpTag, OpCommit, OpDelete}

// HeaderSize is the fixed size of a packet header.
const HeaderSize = 8

// DefaultMaxPayload bounds payloads when no limit is configured.
const DefaultMaxPayload = 64 << 20

var (
	ErrPayloadTooLarge = errors.New("payload exceeds limit")
	ErrUnknownOp       = errors.New("unknown operation code")
	ErrShortPayload    = errors.New("payload truncated")
	ErrTrailingBytes   = errors.New("unexpected bytes after payload")
)

// Packet is one framed message.
type Packet struct {
	Op      Op
	Payload []byte
}

// ReadPacket reads one packet. Payloads longer than max are rejected
// before any of the payload is read.
func ReadPacket(r io.Reader, max uint32) (Packet, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Packet{}, err
	}
	p := Packet{Op: Op(binary.LittleEndian.Uint32(hdr[0:4]))}
	n := binary.LittleEndian.Uint32(hdr[4:8])
	if n > max {
		return p, fmt.Errorf("%w: %s with %d bytes, limit %d", ErrPayloadTooLarge, p.Op, n, max)
	}
	p.Payload = make([]byte, n)
	if _, err := io.ReadFull(r, p.Payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return p, err
	}
	return p, nil
}

// WritePacket writes header and payload with a single Write call.
func WritePacket(w io.Writer, p Packet) error {
	buf := make([]byte, HeaderSize+len(p.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.Op))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(p.Payload)))
	copy(buf[HeaderSize:], p.Payload)
	_, err := w.Write(buf)
	return err
}
