package rudp

import "time"

// raiseResetFlag is invoked by a client on receipt of an unsolicited
// RST from its server. Per spec.md §4.7 the client does not tear down
// immediately: it waits ResetDelay, then self-heals by reinitializing
// its sequence state and sending a fresh SYN followed by whatever was
// still unconfirmed. A second RST arriving while a self-heal is
// already scheduled is ignored.
func (c *Connection) raiseResetFlag() {
	c.resetMu.Lock()
	if c.clientResetting {
		c.resetMu.Unlock()
		return
	}
	c.clientResetting = true
	c.resetMu.Unlock()

	c.loggerFor(c.remote).Warn().Str("peer", c.remote.String()).Msg("received reset; scheduling self-heal")
	if c.handlers.OnReset != nil {
		c.handlers.OnReset(c.remote)
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		select {
		case <-time.After(c.opts.ResetDelay):
		case <-c.stopCh:
			c.resetMu.Lock()
			c.clientResetting = false
			c.resetMu.Unlock()
			return
		}
		c.runClientReset()
	}()
}

// runClientReset performs the actual self-heal: snapshot and clear the
// unconfirmed list, drop the stale sequence record, then resend SYN
// followed by every packet that was still unconfirmed, each through
// the normal send queue so it gets a fresh sequence number under the
// new record.
func (c *Connection) runClientReset() {
	pending := c.unconfirmedSnapshot(c.remote)
	c.deleteSequence(c.remote)
	c.setState(StateOpening)

	c.resetMu.Lock()
	c.clientResetting = false
	c.resetMu.Unlock()

	c.ensureSequence(c.remote)
	_ = c.Send(c.remote, PacketSYN, nil)
	for _, p := range pending {
		_ = c.sendFlagged(c.remote, p.Type, p.Data, p.Flags)
	}
}
