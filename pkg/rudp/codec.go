package rudp

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// DefaultMagicHeader prefixes every outbound datagram. Receivers reject
// datagrams whose leading bytes do not match.
var DefaultMagicHeader = []byte{0xDE, 0xAD, 0xBE, 0xEF}

// ErrBadMagic is returned by Decode when a datagram lacks the expected
// magic prefix.
var ErrBadMagic = errors.New("rudp: magic header mismatch")

// ErrTruncated is the cause, wrapped with context, of the error Decode
// returns when a datagram is shorter than its own declared field
// lengths; use errors.Cause to compare against it.
var ErrTruncated = errors.New("rudp: truncated packet body")

// Codec frames packet bodies with a magic prefix and a compact
// length-tagged binary encoding. It never serializes Src, Dst,
// ReceivedAt or Confirmed.
type Codec struct {
	magic []byte
}

// NewCodec returns a Codec using magic as its frame prefix. A nil or
// empty magic falls back to DefaultMagicHeader.
func NewCodec(magic []byte) *Codec {
	if len(magic) == 0 {
		magic = DefaultMagicHeader
	}
	return &Codec{magic: append([]byte(nil), magic...)}
}

// Encode serializes p's wire fields behind the codec's magic header.
func (c *Codec) Encode(p Packet) []byte {
	buf := make([]byte, 0, len(c.magic)+16+4*len(p.Ack)+len(p.Data))
	buf = append(buf, c.magic...)

	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], p.Seq)
	buf = append(buf, tmp[:]...)
	binary.BigEndian.PutUint32(tmp[:], p.ID)
	buf = append(buf, tmp[:]...)

	var tmp2 [2]byte
	binary.BigEndian.PutUint16(tmp2[:], p.Qty)
	buf = append(buf, tmp2[:]...)

	buf = append(buf, byte(p.Type), byte(p.Flags))

	binary.BigEndian.PutUint16(tmp2[:], uint16(len(p.Ack)))
	buf = append(buf, tmp2[:]...)
	for _, seq := range p.Ack {
		binary.BigEndian.PutUint32(tmp[:], seq)
		buf = append(buf, tmp[:]...)
	}

	binary.BigEndian.PutUint32(tmp[:], uint32(len(p.Data)))
	buf = append(buf, tmp[:]...)
	buf = append(buf, p.Data...)

	return buf
}

// Decode parses a datagram into a Packet. Src, Dst, ReceivedAt and
// Confirmed are left zero-valued; the caller stamps them.
func (c *Codec) Decode(b []byte) (Packet, error) {
	if len(b) < len(c.magic) || !bytes.Equal(b[:len(c.magic)], c.magic) {
		return Packet{}, ErrBadMagic
	}
	r := &reader{buf: b[len(c.magic):]}

	var p Packet
	var err error
	if p.Seq, err = r.uint32(); err != nil {
		return Packet{}, err
	}
	if p.ID, err = r.uint32(); err != nil {
		return Packet{}, err
	}
	if p.Qty, err = r.uint16(); err != nil {
		return Packet{}, err
	}
	typ, err := r.byte()
	if err != nil {
		return Packet{}, err
	}
	p.Type = PacketType(typ)
	flags, err := r.byte()
	if err != nil {
		return Packet{}, err
	}
	p.Flags = Flag(flags)

	ackCount, err := r.uint16()
	if err != nil {
		return Packet{}, err
	}
	if ackCount > 0 {
		p.Ack = make([]uint32, ackCount)
		for i := range p.Ack {
			if p.Ack[i], err = r.uint32(); err != nil {
				return Packet{}, err
			}
		}
	}

	dataLen, err := r.uint32()
	if err != nil {
		return Packet{}, err
	}
	if p.Data, err = r.bytes(int(dataLen)); err != nil {
		return Packet{}, err
	}

	return p, nil
}

// reader is a small cursor over a byte slice, mirroring the
// read-one-field-at-a-time style of a length-tagged wire decoder.
type reader struct {
	buf    []byte
	offset int
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.offset+n > len(r.buf) {
		return nil, errors.Wrap(ErrTruncated, "reading byte slice")
	}
	out := r.buf[r.offset : r.offset+n]
	r.offset += n
	return out, nil
}

func (r *reader) byte() (byte, error) {
	b, err := r.bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *reader) uint16() (uint16, error) {
	b, err := r.bytes(2)
	if err != nil {
		return 0, errors.Wrap(err, "reading uint16")
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *reader) uint32() (uint32, error) {
	b, err := r.bytes(4)
	if err != nil {
		return 0, errors.Wrap(err, "reading uint32")
	}
	return binary.BigEndian.Uint32(b), nil
}
