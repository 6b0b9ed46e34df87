package rudp

import (
	"bytes"
	"net"
	"testing"
)

func TestCodecEncodeDecodeRoundTrip(t *testing.T) {
	c := NewCodec(nil)
	p := Packet{
		Seq:   42,
		ID:    7,
		Qty:   3,
		Type:  PacketDAT,
		Flags: FlagACK,
		Data:  []byte("hello world"),
		Ack:   []uint32{1, 2, 3},
	}

	encoded := c.Encode(p)
	decoded, err := c.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}

	if decoded.Seq != p.Seq {
		t.Errorf("Seq: expected %d, got %d", p.Seq, decoded.Seq)
	}
	if decoded.ID != p.ID {
		t.Errorf("ID: expected %d, got %d", p.ID, decoded.ID)
	}
	if decoded.Qty != p.Qty {
		t.Errorf("Qty: expected %d, got %d", p.Qty, decoded.Qty)
	}
	if decoded.Type != p.Type {
		t.Errorf("Type: expected %v, got %v", p.Type, decoded.Type)
	}
	if decoded.Flags != p.Flags {
		t.Errorf("Flags: expected %v, got %v", p.Flags, decoded.Flags)
	}
	if !bytes.Equal(decoded.Data, p.Data) {
		t.Errorf("Data: expected %q, got %q", p.Data, decoded.Data)
	}
	if len(decoded.Ack) != len(p.Ack) {
		t.Fatalf("Ack length: expected %d, got %d", len(p.Ack), len(decoded.Ack))
	}
	for i := range p.Ack {
		if decoded.Ack[i] != p.Ack[i] {
			t.Errorf("Ack[%d]: expected %d, got %d", i, p.Ack[i], decoded.Ack[i])
		}
	}
}

func TestCodecRejectsBadMagic(t *testing.T) {
	c := NewCodec(nil)
	_, err := c.Decode([]byte{0x00, 0x00, 0x00, 0x00, 1, 2, 3})
	if err != ErrBadMagic {
		t.Errorf("expected ErrBadMagic, got %v", err)
	}
}

func TestCodecRejectsTruncatedBody(t *testing.T) {
	c := NewCodec(nil)
	encoded := c.Encode(Packet{Seq: 1, Type: PacketDAT, Data: []byte("abc")})
	_, err := c.Decode(encoded[:len(encoded)-2])
	if err == nil {
		t.Error("expected an error decoding a truncated body")
	}
}

func TestCodecCustomMagic(t *testing.T) {
	magic := []byte{0x01, 0x02}
	c := NewCodec(magic)
	encoded := c.Encode(Packet{Type: PacketNUL})

	other := NewCodec(nil)
	if _, err := other.Decode(encoded); err != ErrBadMagic {
		t.Error("expected the default codec to reject a custom-magic datagram")
	}

	decoded, err := c.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if decoded.Type != PacketNUL {
		t.Errorf("expected PacketNUL, got %v", decoded.Type)
	}
}

func TestEndpointEqual(t *testing.T) {
	a := Endpoint{IP: net.ParseIP("10.0.0.1"), Port: 1234}
	b := Endpoint{IP: net.ParseIP("10.0.0.1"), Port: 1234}
	c := Endpoint{IP: net.ParseIP("10.0.0.2"), Port: 1234}

	if !a.Equal(b) {
		t.Error("expected equal endpoints to compare equal")
	}
	if a.Equal(c) {
		t.Error("expected different IPs to compare unequal")
	}
}
