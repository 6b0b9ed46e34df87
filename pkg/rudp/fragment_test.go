package rudp

import (
	"bytes"
	"testing"
)

func TestFragmentizeSmallPayloadIsUnfragmented(t *testing.T) {
	opts := DefaultOptions()
	c := newConnection(RoleClient, opts, nil, Handlers{})
	peer := testPeer(1)

	pkts := c.fragmentize(peer, PacketDAT, []byte("small"))
	if len(pkts) != 1 {
		t.Fatalf("expected 1 packet, got %d", len(pkts))
	}
	if pkts[0].Qty != 0 {
		t.Errorf("expected Qty=0 for an unfragmented payload, got %d", pkts[0].Qty)
	}
}

func TestFragmentizeSplitsLargePayload(t *testing.T) {
	opts := DefaultOptions()
	opts.MTU = 100
	c := newConnection(RoleClient, opts, nil, Handlers{})
	peer := testPeer(1)

	payload := bytes.Repeat([]byte("x"), 250)
	pkts := c.fragmentize(peer, PacketDAT, payload)

	if len(pkts) < 2 {
		t.Fatalf("expected multiple fragments, got %d", len(pkts))
	}
	for _, p := range pkts {
		if p.Qty != uint16(len(pkts)) {
			t.Errorf("expected Qty=%d, got %d", len(pkts), p.Qty)
		}
		if p.ID != pkts[0].ID {
			t.Error("expected every fragment to share the same message ID")
		}
	}

	var reassembled []byte
	for _, p := range pkts {
		reassembled = append(reassembled, p.Data...)
	}
	if !bytes.Equal(reassembled, payload) {
		t.Error("concatenating fragments in order did not reproduce the original payload")
	}
}

func TestBufferFragmentWithholdsUntilComplete(t *testing.T) {
	c := newConnection(RoleServer, DefaultOptions(), nil, Handlers{})
	peer := testPeer(1)

	p1 := Packet{Src: peer, ID: 9, Qty: 3, Type: PacketDAT, Data: []byte("AAA")}
	p2 := Packet{Src: peer, ID: 9, Qty: 3, Type: PacketDAT, Data: []byte("BBB")}
	p3 := Packet{Src: peer, ID: 9, Qty: 3, Type: PacketDAT, Data: []byte("CCC")}

	if complete, _ := c.bufferFragment(peer, p1); complete {
		t.Error("should not be complete after 1 of 3 parts")
	}
	if complete, _ := c.bufferFragment(peer, p2); complete {
		t.Error("should not be complete after 2 of 3 parts")
	}
	complete, out := c.bufferFragment(peer, p3)
	if !complete {
		t.Fatal("should be complete after 3 of 3 parts")
	}
	if !bytes.Equal(out.Data, []byte("AAABBBCCC")) {
		t.Errorf("expected reassembled data AAABBBCCC, got %q", out.Data)
	}
	if out.Qty != 3 {
		t.Errorf("expected reassembled packet to preserve Qty=3, got %d", out.Qty)
	}
}

func TestBufferFragmentIsolatesPeersAndIDs(t *testing.T) {
	c := newConnection(RoleServer, DefaultOptions(), nil, Handlers{})
	peerA := testPeer(1)
	peerB := testPeer(2)

	c.bufferFragment(peerA, Packet{Src: peerA, ID: 1, Qty: 2, Data: []byte("a1")})
	c.bufferFragment(peerB, Packet{Src: peerB, ID: 1, Qty: 2, Data: []byte("b1")})
	c.bufferFragment(peerA, Packet{Src: peerA, ID: 2, Qty: 2, Data: []byte("c1")})

	completeA, outA := c.bufferFragment(peerA, Packet{Src: peerA, ID: 1, Qty: 2, Data: []byte("a2")})
	if !completeA {
		t.Fatal("expected peer A's ID 1 group to complete independently of peer B's and of its own ID 2 group")
	}
	if !bytes.Equal(outA.Data, []byte("a1a2")) {
		t.Errorf("expected a1a2, got %q", outA.Data)
	}
}
