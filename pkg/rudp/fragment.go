package rudp

// fragBuffer accumulates the parts of one fragmented message (one ID)
// from one peer until every part has arrived. Per the chosen design
// (spec.md §9's source-ambiguity #3), a partial group is retained
// indefinitely across recv-loop ticks and never dispatched early; this
// trades a small amount of memory for never delivering a truncated
// reassembly.
type fragBuffer struct {
	id     uint32
	qty    uint16
	parts  map[uint16][]byte
	srcTyp PacketType
}

// fragmentize splits data into one or more packets no larger than
// MaxMTU, stamping each with a shared message ID and the total part
// count (Qty). A payload that already fits in one packet gets Qty=0:
// it is ordinary, unfragmented data.
func (c *Connection) fragmentize(peer Endpoint, typ PacketType, data []byte) []Packet {
	sq, _ := c.ensureSequence(peer)
	c.seqMu.Lock()
	id := sq.PacketID
	sq.PacketID = (sq.PacketID + 1) % c.opts.PacketIDLimit
	c.seqMu.Unlock()

	if len(data) <= c.opts.MaxMTU {
		return []Packet{{Dst: peer, Type: typ, ID: id, Data: data}}
	}

	chunks := chunk(data, c.opts.MaxMTU)
	out := make([]Packet, len(chunks))
	for i, part := range chunks {
		out[i] = Packet{
			Dst:  peer,
			Type: typ,
			ID:   id,
			Qty:  uint16(len(chunks)),
			Data: part,
		}
	}
	return out
}

func chunk(data []byte, size int) [][]byte {
	var out [][]byte
	for len(data) > 0 {
		n := size
		if n > len(data) {
			n = len(data)
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}

// bufferFragment folds one arrived fragment into peer's buffer for
// p.ID. It returns (true, reassembled) once every part for that ID has
// arrived, at which point the buffer is discarded; otherwise it
// returns (false, Packet{}) and the caller confirms this packet without
// dispatching it. Parts only get here after passing the ordinary
// sequence gate, i.e. in ascending Seq order, which is the order they
// were split in, so each part's index is its arrival position and
// reassembly concatenates in that order.
func (c *Connection) bufferFragment(peer Endpoint, p Packet) (bool, Packet) {
	c.fragMu.Lock()
	defer c.fragMu.Unlock()

	k := peer.Key()
	peerBufs, ok := c.fragments[k]
	if !ok {
		peerBufs = make(map[uint32]*fragBuffer)
		c.fragments[k] = peerBufs
	}

	fb, ok := peerBufs[p.ID]
	if !ok {
		fb = &fragBuffer{id: p.ID, qty: p.Qty, srcTyp: p.Type, parts: make(map[uint16][]byte)}
		peerBufs[p.ID] = fb
	}

	// The part index within the group is implicit in arrival order
	// against the sequence gate that already delivered p in order, so
	// we key parts by how many have been seen so far for this ID.
	idx := uint16(len(fb.parts))
	fb.parts[idx] = append([]byte(nil), p.Data...)

	if uint16(len(fb.parts)) < fb.qty {
		return false, Packet{}
	}

	delete(peerBufs, p.ID)
	if len(peerBufs) == 0 {
		delete(c.fragments, k)
	}

	total := 0
	for _, part := range fb.parts {
		total += len(part)
	}
	merged := make([]byte, 0, total)
	for i := uint16(0); i < fb.qty; i++ {
		merged = append(merged, fb.parts[i]...)
	}

	out := p
	out.Data = merged
	return true, out
}
