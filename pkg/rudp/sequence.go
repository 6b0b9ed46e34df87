package rudp

// SequenceRecord tracks one peer's position in the protocol's sequence
// space: our next outbound seq (Local), the next inbound seq we'll
// accept (Remote), and the next user-message id for fragmentation
// (PacketID).
//
// spec.md's data model also names a per-record "skipped" set of
// sequence numbers already consumed by reassembly, guarding against
// reprocessing a fragment's seq after its message has already been
// delivered. This record has no such field: fragments are buffered
// across recv-loop ticks and consumed through the ordinary out-of-order
// gate (see fragment.go and DESIGN.md's Open Question decisions), so a
// fragment's seq is never revisited once accepted and there is nothing
// for a skip-set to guard against.
//
// A record is created lazily on first send to or receive from a peer
// (see Connection.ensureSequence), and destroyed on RST — emitted or
// received — to be recreated on the next interaction.
type SequenceRecord struct {
	Local    uint32
	Remote   uint32
	PacketID uint32
}

// ensureSequence returns the sequence record for peer, creating one
// with role-appropriate start values if none exists yet. The second
// return value reports whether a new record was created.
func (c *Connection) ensureSequence(peer Endpoint) (*SequenceRecord, bool) {
	k := peer.Key()

	c.seqMu.Lock()
	defer c.seqMu.Unlock()

	if sq, ok := c.sequences[k]; ok {
		return sq, false
	}

	sq := &SequenceRecord{}
	if c.role == RoleServer {
		sq.Local = c.opts.ServerStartSequence
		sq.Remote = c.opts.ClientStartSequence
	} else {
		sq.Local = c.opts.ClientStartSequence
		sq.Remote = c.opts.ServerStartSequence
	}
	c.sequences[k] = sq
	return sq, true
}

// deleteSequence discards peer's sequence record, e.g. after a RST is
// sent or received.
func (c *Connection) deleteSequence(peer Endpoint) {
	c.seqMu.Lock()
	delete(c.sequences, peer.Key())
	c.seqMu.Unlock()
}
