package rudp

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestRaiseResetFlagIgnoresSecondCallWhilePending(t *testing.T) {
	opts := DefaultOptions()
	opts.ResetDelay = 50 * time.Millisecond

	var heals int32
	c := newConnection(RoleClient, opts, newFakeAdapter(testPeer(1)), Handlers{
		OnReset: func(Endpoint) { atomic.AddInt32(&heals, 1) },
	})
	c.remote = testPeer(2)
	c.stopCh = make(chan struct{})
	atomic.StoreInt32(&c.alive, 1)

	c.ensureSequence(c.remote)

	orig := c.stopCh
	_ = orig

	c.raiseResetFlag()
	if !c.clientResetting {
		t.Fatal("expected clientResetting to be set immediately")
	}
	c.raiseResetFlag() // should be a no-op while the first is pending
	if n := atomic.LoadInt32(&heals); n != 1 {
		t.Errorf("expected exactly 1 scheduled self-heal, got %d", n)
	}

	time.Sleep(150 * time.Millisecond)

	if c.clientResetting {
		t.Error("expected clientResetting to clear once the self-heal ran")
	}
}

func TestMarkAndClearPendingReset(t *testing.T) {
	c := newConnection(RoleServer, DefaultOptions(), nil, Handlers{})
	peer := testPeer(1)

	if c.isPendingReset(peer) {
		t.Fatal("expected no pending reset initially")
	}
	c.markPendingReset(peer)
	if !c.isPendingReset(peer) {
		t.Fatal("expected pending reset after marking")
	}
	c.clearPendingReset(peer)
	if c.isPendingReset(peer) {
		t.Error("expected pending reset to clear")
	}
}

func TestRunClientResetReplaysUnconfirmed(t *testing.T) {
	opts := DefaultOptions()
	io := newFakeAdapter(testPeer(1))
	c := newConnection(RoleClient, opts, io, Handlers{})
	c.remote = testPeer(2)
	c.stopCh = make(chan struct{})

	c.ensureSequence(c.remote)
	c.appendUnconfirmed(c.remote, Packet{Dst: c.remote, Type: PacketDAT, Data: []byte("pending-1")})
	c.appendUnconfirmed(c.remote, Packet{Dst: c.remote, Type: PacketDAT, Data: []byte("pending-2")})

	c.runClientReset()

	c.sendMu.Lock()
	queued := append([]Packet(nil), c.sendQueue[c.remote.Key()]...)
	c.sendMu.Unlock()

	if len(queued) != 3 { // fresh SYN + 2 replayed packets
		t.Fatalf("expected 3 queued packets (SYN + 2 replays), got %d", len(queued))
	}
	if queued[0].Type != PacketSYN {
		t.Errorf("expected the first queued packet to be a fresh SYN, got %v", queued[0].Type)
	}

	remaining := c.unconfirmedSnapshot(c.remote)
	if len(remaining) != 0 {
		t.Error("expected the unconfirmed list to be cleared by the reset")
	}
}
