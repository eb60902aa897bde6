package protocol

import "fmt"

// Message is any typed packet body.
type Message interface {
	Op() Op
	appendPayload(e *encoder)
	decodePayload(d *decoder)
}

// Handshake is the first packet a worker sends.
type Handshake struct {
	Worker string
}

// HandshakeResponse tells the worker how large a block is.
type HandshakeResponse struct {
	BlockSize uint64
}

// Target names the File:Tag of create, commit and delete.
type Target struct {
	Job  uint64
	File string
	Tag  string
}

type Create struct{ Target }
type Commit struct{ Target }
type Delete struct{ Target }

type Truncate struct {
	Target
	Size uint64
}

type Write struct {
	Target
	Base    uint64
	Content []byte
}

type Read struct {
	Target
	Block uint64
	Size  uint64
}

type Tag struct {
	Target
	DstFile string
	DstTag  string
}

type OK struct{}

// Error carries a failure code and message back to the worker.
type Error struct {
	Code    Code
	Message string
}

// ReadResponse is one full block of data.
type ReadResponse struct {
	Data []byte
}

func (Handshake) Op() Op         { return OpHandshake }
func (HandshakeResponse) Op() Op { return OpHandshakeResponse }
func (Create) Op() Op            { return OpCreate }
func (Commit) Op() Op            { return OpCommit }
func (Delete) Op() Op            { return OpDelete }
func (Truncate) Op() Op          { return OpTruncate }
func (Write) Op() Op             { return OpWrite }
func (Read) Op() Op              { return OpRead }
func (Tag) Op() Op               { return OpTag }
func (OK) Op() Op                { return OpOK }
func (Error) Op() Op             { return OpError }
func (ReadResponse) Op() Op      { return OpReadResponse }

func (t *Target) appendTarget(e *encoder) {
	e.u64(t.Job)
	e.str(t.File)
	e.str(t.Tag)
}

func (t *Target) decodeTarget(d *decoder) {
	t.Job = d.u64("job")
	t.File = d.str("file")
	t.Tag = d.str("tag")
}

func (m *Handshake) appendPayload(e *encoder) { e.str(m.Worker) }
func (m *Handshake) decodePayload(d *decoder) { m.Worker = d.str("worker") }

func (m *HandshakeResponse) appendPayload(e *encoder) { e.u64(m.BlockSize) }
func (m *HandshakeResponse) decodePayload(d *decoder) { m.BlockSize = d.u64("block size") }

func (m *Create) appendPayload(e *encoder) { m.appendTarget(e) }
func (m *Create) decodePayload(d *decoder) { m.decodeTarget(d) }
func (m *Commit) appendPayload(e *encoder) { m.appendTarget(e) }
func (m *Commit) decodePayload(d *decoder) { m.decodeTarget(d) }
func (m *Delete) appendPayload(e *encoder) { m.appendTarget(e) }
func (m *Delete) decodePayload(d *decoder) { m.decodeTarget(d) }

func (m *Truncate) appendPayload(e *encoder) {
	m.appendTarget(e)
	e.u64(m.Size)
}

func (m *Truncate) decodePayload(d *decoder) {
	m.decodeTarget(d)
	m.Size = d.u64("size")
}

func (m *Write) appendPayload(e *encoder) {
	m.appendTarget(e)
	e.u64(m.Base)
	e.bytes(m.Content)
}

func (m *Write) decodePayload(d *decoder) {
	m.decodeTarget(d)
	m.Base = d.u64("base")
	m.Content = d.bytes("content")
}

func (m *Read) appendPayload(e *encoder) {
	m.appendTarget(e)
	e.u64(m.Block)
	e.u64(m.Size)
}

func (m *Read) decodePayload(d *decoder) {
	m.decodeTarget(d)
	m.Block = d.u64("block")
	m.Size = d.u64("size")
}

func (m *Tag) appendPayload(e *encoder) {
	m.appendTarget(e)
	e.str(m.DstFile)
	e.str(m.DstTag)
}

func (m *Tag) decodePayload(d *decoder) {
	m.decodeTarget(d)
	m.DstFile = d.str("destination file")
	m.DstTag = d.str("destination tag")
}

func (m *OK) appendPayload(*encoder) {}
func (m *OK) decodePayload(*decoder) {}

func (m *Error) appendPayload(e *encoder) {
	e.u32(uint32(m.Code))
	e.str(m.Message)
}

func (m *Error) decodePayload(d *decoder) {
	m.Code = Code(d.u32("code"))
	m.Message = d.str("message")
}

// The read response is the raw block with no length prefix; the packet
// length already carries it.
func (m *ReadResponse) appendPayload(e *encoder) { e.buf = append(e.buf, m.Data...) }
func (m *ReadResponse) decodePayload(d *decoder) {
	m.Data = make([]byte, len(d.buf))
	copy(m.Data, d.buf)
	d.buf = nil
}

// Encode frames m as a packet.
func Encode(m Message) Packet {
	e := &encoder{}
	m.appendPayload(e)
	return Packet{Op: m.Op(), Payload: e.buf}
}

// Decode parses p into its typed message. The returned value is always a
// pointer, e.g. *Write for OpWrite.
func Decode(p Packet) (Message, error) {
	var m Message
	switch p.Op {
	case OpHandshake:
		m = &Handshake{}
	case OpHandshakeResponse:
		m = &HandshakeResponse{}
	case OpCreate:
		m = &Create{}
	case OpTruncate:
		m = &Truncate{}
	case OpWrite:
		m = &Write{}
	case OpRead:
		m = &Read{}
	case OpTag:
		m = &Tag{}
	case OpCommit:
		m = &Commit{}
	case OpDelete:
		m = &Delete{}
	case OpOK:
		m = &OK{}
	case OpError:
		m = &Error{}
	case OpReadResponse:
		m = &ReadResponse{}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownOp, uint32(p.Op))
	}
	d := &decoder{buf: p.Payload}
	m.decodePayload(d)
	if err := d.finish(); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", p.Op, err)
	}
	return m, nil
}
