package rudp

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog"
)

// Role distinguishes which side of the handshake a Connection plays.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

// State is the connection-level FSM position (spec.md §4.7).
type State int32

const (
	StateClosed State = iota
	StateOpening
	StateListening
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateListening:
		return "listening"
	case StateOpen:
		return "open"
	default:
		return "closed"
	}
}

// Adapter is the datagram I/O collaborator the core requires: send a
// datagram to a peer, and run a blocking receive loop invoking
// onReceive for every datagram until the adapter is closed. The core
// never binds a socket itself.
type Adapter interface {
	SendTo(peer Endpoint, b []byte) error
	Listen(onReceive func(peer Endpoint, b []byte)) error
	Close() error
}

// Handlers are the user-facing event callbacks, invoked synchronously.
// Most fire on the recv loop's goroutine; OnReset fires on the adapter's
// receive callback (client) or the send loop (server), and
// OnClientDisconnect also fires on the goroutine that calls
// CleanupStaleSessions or RequestConnectionReset.
type Handlers struct {
	OnClientConnect    func(Endpoint)
	OnClientDisconnect func(Endpoint)
	OnConnected        func(Endpoint)
	OnPacketReceived   func(Packet)
	OnReset            func(Endpoint) // fired on client self-heal or server sequence-limit RST tagging
}

// Connection is one side of a RUDP conversation: a client pinned to a
// single remote, or a server multiplexing many peers over one socket.
// All shared state is guarded by one mutex per logical resource: the
// six named in spec.md §5 plus seenMu, fragMu and stateMu.
type Connection struct {
	role     Role
	opts     Options
	codec    *Codec
	io       Adapter
	handlers Handlers
	log      zerolog.Logger

	remote Endpoint // client only: the single pinned peer

	seqMu     sync.Mutex
	sequences map[string]*SequenceRecord

	clientMu sync.RWMutex
	clients  map[string]Endpoint
	guids    map[string]uuid.UUID // local correlation ids, never on the wire

	seenMu   sync.Mutex
	lastSeen map[string]time.Time

	resetMu         sync.RWMutex
	pendingReset    map[string]struct{}
	clientResetting bool

	sendMu    sync.Mutex
	sendQueue map[string][]Packet

	recvMu    sync.Mutex
	recvQueue []Packet

	ackMu        sync.Mutex
	confirmedSet map[string][]uint32
	unconfirmed  map[string][]Packet

	fragMu    sync.Mutex
	fragments map[string]map[uint32]*fragBuffer

	stateMu sync.RWMutex
	state   State

	alive  int32
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newConnection(role Role, opts Options, io Adapter, h Handlers) *Connection {
	return &Connection{
		role:         role,
		opts:         opts.normalized(),
		codec:        NewCodec(opts.MagicHeader),
		io:           io,
		handlers:     h,
		log:          zerolog.Nop(),
		sequences:    make(map[string]*SequenceRecord),
		clients:      make(map[string]Endpoint),
		guids:        make(map[string]uuid.UUID),
		lastSeen:     make(map[string]time.Time),
		pendingReset: make(map[string]struct{}),
		sendQueue:    make(map[string][]Packet),
		confirmedSet: make(map[string][]uint32),
		unconfirmed:  make(map[string][]Packet),
		fragments:    make(map[string]map[uint32]*fragBuffer),
	}
}

// NewServer builds a Connection that multiplexes many peers over io.
func NewServer(io Adapter, opts Options, h Handlers) *Connection {
	return newConnection(RoleServer, opts, io, h)
}

// NewClient builds a Connection pinned to a single remote peer.
func NewClient(io Adapter, remote Endpoint, opts Options, h Handlers) *Connection {
	c := newConnection(RoleClient, opts, io, h)
	c.remote = remote
	return c
}

// SetLogger attaches a logger; the zero value logs nothing.
func (c *Connection) SetLogger(l zerolog.Logger) { c.log = l }

// State reports the current connection-level FSM state.
func (c *Connection) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

func (c *Connection) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

// Clients returns a snapshot of known peers (server only).
func (c *Connection) Clients() []Endpoint {
	c.clientMu.RLock()
	defer c.clientMu.RUnlock()
	out := make([]Endpoint, 0, len(c.clients))
	for _, e := range c.clients {
		out = append(out, e)
	}
	return out
}

func (c *Connection) startLoops() {
	c.stopCh = make(chan struct{})
	atomic.StoreInt32(&c.alive, 1)
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.sendLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.recvLoop()
	}()
}

// Connect transitions a client Connection to Opening, starts its
// loops and its adapter's receive loop, and sends the initial SYN.
func (c *Connection) Connect() error {
	invariant(c.role == RoleClient, "Connect called on a server Connection")
	c.setState(StateOpening)
	c.startLoops()
	go func() {
		if err := c.io.Listen(c.onReceive); err != nil {
			c.log.Error().Err(err).Msg("adapter listen loop exited")
		}
	}()
	c.ensureSequence(c.remote)
	c.ensureGUID(c.remote)
	return c.Send(c.remote, PacketSYN, nil)
}

// Listen transitions a server Connection to Listening, starts its
// loops, and blocks running the adapter's receive loop. Callers
// typically invoke this in its own goroutine.
func (c *Connection) Listen() error {
	invariant(c.role == RoleServer, "Listen called on a client Connection")
	c.setState(StateListening)
	c.startLoops()
	return c.io.Listen(c.onReceive)
}

// Disconnect clears the alive flag, joins both loops and closes the
// adapter. Pending unconfirmed packets are simply dropped with the
// connection; they are only carried across a client-side reset.
func (c *Connection) Disconnect() error {
	if !atomic.CompareAndSwapInt32(&c.alive, 1, 0) {
		return nil
	}
	close(c.stopCh)
	c.wg.Wait()
	c.setState(StateClosed)
	return c.io.Close()
}

// SendKeepAlive sends a NUL packet to every known client (server only).
func (c *Connection) SendKeepAlive() {
	for _, peer := range c.Clients() {
		_ = c.Send(peer, PacketNUL, nil)
	}
}

// CleanupStaleSessions drops any known client that has produced no
// traffic within SessionTimeout, via the same reset path a desync
// would trigger.
func (c *Connection) CleanupStaleSessions() {
	cutoff := time.Now().Add(-c.opts.SessionTimeout)
	for _, peer := range c.Clients() {
		c.seenMu.Lock()
		last, ok := c.lastSeen[peer.Key()]
		c.seenMu.Unlock()
		if !ok || last.Before(cutoff) {
			c.log.Info().Str("peer", peer.String()).Msg("dropping stale session")
			c.RequestConnectionReset(peer)
		}
	}
}

// RequestConnectionReset removes peer from the known-clients map, sends
// it a RST, and fires OnClientDisconnect.
func (c *Connection) RequestConnectionReset(peer Endpoint) {
	log := c.loggerFor(peer)
	c.removeClient(peer)
	_ = c.Send(peer, PacketRST, nil)
	c.fireOnClientDisconnect(peer, log)
}

// AcceptSYN emits the SYN|ACK handshake-completion reply a server
// application sends once it has accepted a client's SYN (spec.md §9.4:
// the core dispatches the inbound SYN via OnPacketReceived and leaves
// the reply to the caller).
func (c *Connection) AcceptSYN(peer Endpoint) error {
	return c.sendFlagged(peer, PacketSYN, nil, FlagACK)
}

// ensureGUID returns peer's log-correlation id, generating one on first
// use. Server connections call this from addClient when a client's SYN
// is accepted; a client connection calls it once for its own remote so
// its logged events carry a correlation id too. Each side generates its
// own id; the two are unrelated.
func (c *Connection) ensureGUID(peer Endpoint) uuid.UUID {
	c.clientMu.Lock()
	defer c.clientMu.Unlock()
	if id, ok := c.guids[peer.Key()]; ok {
		return id
	}
	id, err := uuid.NewV4()
	if err != nil {
		return uuid.Nil
	}
	c.guids[peer.Key()] = id
	return id
}

// loggerFor returns a logger scoped with peer's correlation guid, or the
// connection's base logger if peer has none yet.
func (c *Connection) loggerFor(peer Endpoint) zerolog.Logger {
	c.clientMu.RLock()
	id, ok := c.guids[peer.Key()]
	c.clientMu.RUnlock()
	if !ok {
		return c.log
	}
	return c.log.With().Str("guid", id.String()).Logger()
}

func (c *Connection) addClient(peer Endpoint) {
	c.ensureGUID(peer)
	c.clientMu.Lock()
	c.clients[peer.Key()] = peer
	c.clientMu.Unlock()
}

func (c *Connection) removeClient(peer Endpoint) {
	c.clientMu.Lock()
	delete(c.clients, peer.Key())
	delete(c.guids, peer.Key())
	c.clientMu.Unlock()
}

func (c *Connection) isKnownClient(peer Endpoint) bool {
	c.clientMu.RLock()
	_, ok := c.clients[peer.Key()]
	c.clientMu.RUnlock()
	return ok
}

func (c *Connection) fireOnClientConnect(peer Endpoint) {
	c.loggerFor(peer).Info().Str("peer", peer.String()).Msg("client connected")
	if c.handlers.OnClientConnect != nil {
		c.handlers.OnClientConnect(peer)
	}
}

// fireOnClientDisconnect logs via log, which the caller must capture
// with loggerFor before tearing down peer's guid bookkeeping.
func (c *Connection) fireOnClientDisconnect(peer Endpoint, log zerolog.Logger) {
	log.Info().Str("peer", peer.String()).Msg("client disconnected")
	if c.handlers.OnClientDisconnect != nil {
		c.handlers.OnClientDisconnect(peer)
	}
}

func (c *Connection) dispatch(p Packet) {
	c.loggerFor(p.Src).Debug().Str("peer", p.Src.String()).Str("type", p.Type.String()).Msg("dispatching packet")
	if c.handlers.OnPacketReceived != nil {
		c.handlers.OnPacketReceived(p)
	}
}

func (c *Connection) transitionOpen(peer Endpoint) {
	c.setState(StateOpen)
	c.loggerFor(peer).Info().Str("peer", peer.String()).Msg("connection open")
	if c.handlers.OnConnected != nil {
		c.handlers.OnConnected(peer)
	}
}

// --- pending-reset bookkeeping (reset-lock) ---

func (c *Connection) markPendingReset(peer Endpoint) {
	c.resetMu.Lock()
	c.pendingReset[peer.Key()] = struct{}{}
	c.resetMu.Unlock()
}

func (c *Connection) isPendingReset(peer Endpoint) bool {
	c.resetMu.RLock()
	_, ok := c.pendingReset[peer.Key()]
	c.resetMu.RUnlock()
	return ok
}

func (c *Connection) clearPendingReset(peer Endpoint) {
	c.resetMu.Lock()
	delete(c.pendingReset, peer.Key())
	c.resetMu.Unlock()
}

// --- send path (spec.md §4.4) ---

// Send enqueues data for delivery to peer as the given packet type,
// fragmenting it first if necessary. The send loop assigns the actual
// wire sequence number on its next tick.
func (c *Connection) Send(peer Endpoint, typ PacketType, data []byte) error {
	return c.sendFlagged(peer, typ, data, FlagNone)
}

func (c *Connection) sendFlagged(peer Endpoint, typ PacketType, data []byte, flags Flag) error {
	c.ensureSequence(peer)
	pkts := c.fragmentize(peer, typ, data)
	for i := range pkts {
		pkts[i].Flags = flags
	}
	c.sendMu.Lock()
	c.sendQueue[peer.Key()] = append(c.sendQueue[peer.Key()], pkts...)
	c.sendMu.Unlock()
	return nil
}

func (c *Connection) sendLoop() {
	t := time.NewTicker(c.opts.SendFrequency)
	defer t.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			c.drainSendQueue()
		}
	}
}

func (c *Connection) drainSendQueue() {
	c.sendMu.Lock()
	queue := c.sendQueue
	c.sendQueue = make(map[string][]Packet)
	c.sendMu.Unlock()

	for _, pkts := range queue {
		for _, p := range pkts {
			c.transmit(p)
		}
	}
}

func (c *Connection) transmit(p Packet) {
	sq, _ := c.ensureSequence(p.Dst)

	c.seqMu.Lock()
	p.Seq = sq.Local
	sq.Local++
	c.seqMu.Unlock()

	p.Ack = c.drainConfirmed(p.Dst)

	if c.role == RoleServer && c.isPendingReset(p.Dst) {
		p.Flags |= FlagRST
		c.deleteSequence(p.Dst)
		c.clearPendingReset(p.Dst)
		if c.handlers.OnReset != nil {
			c.handlers.OnReset(p.Dst)
		}
	}

	c.appendUnconfirmed(p.Dst, p.Clone())

	if p.Type == PacketRST {
		c.deleteSequence(p.Dst)
	}

	encoded := c.codec.Encode(p)
	if err := c.io.SendTo(p.Dst, encoded); err != nil {
		c.loggerFor(p.Dst).Error().Err(err).Str("peer", p.Dst.String()).Msg("send failed; packet stays unconfirmed")
	}
}

// --- receive path (spec.md §4.5) ---

// onReceive is the callback the Adapter invokes for every inbound
// datagram. It decodes, stamps bookkeeping fields, and either raises
// the client-side reset flag or enqueues the packet for the recv loop.
func (c *Connection) onReceive(peer Endpoint, b []byte) {
	p, err := c.codec.Decode(b)
	if err != nil {
		c.log.Debug().Err(err).Str("peer", peer.String()).Msg("dropping undecodable datagram")
		return
	}
	if c.role == RoleClient {
		peer = c.remote
	}
	p.Src = peer
	p.ReceivedAt = time.Now()

	c.seenMu.Lock()
	c.lastSeen[peer.Key()] = p.ReceivedAt
	c.seenMu.Unlock()

	if p.Type == PacketRST && c.role == RoleClient {
		c.raiseResetFlag()
		return
	}

	c.recvMu.Lock()
	c.recvQueue = append(c.recvQueue, p)
	c.recvMu.Unlock()
}

func (c *Connection) recvLoop() {
	t := time.NewTicker(c.opts.RecvFrequency)
	defer t.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			c.processRecvTick()
		}
	}
}

func (c *Connection) processRecvTick() {
	c.recvMu.Lock()
	n := len(c.recvQueue)
	if n > 50 {
		n = 50
	}
	batch := append([]Packet(nil), c.recvQueue[:n]...)
	c.recvQueue = c.recvQueue[n:]
	c.recvMu.Unlock()

	if len(batch) == 0 {
		return
	}

	order := make([]string, 0, 4)
	groups := make(map[string][]Packet, 4)
	for _, p := range batch {
		k := p.Src.Key()
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], p)
	}

	for _, k := range order {
		g := groups[k]
		sort.Slice(g, func(i, j int) bool { return g[i].Seq < g[j].Seq })
		c.processGroup(g)
	}
}

// requeueRemaining puts packets back on the recv queue for a later
// pass, e.g. while waiting for a missing predecessor sequence.
func (c *Connection) requeueRemaining(pkts []Packet) {
	c.recvMu.Lock()
	c.recvQueue = append(c.recvQueue, pkts...)
	c.recvMu.Unlock()
}

// clearStaleQueued discards any packets still queued for peer, used
// when a SYN arrives from a peer we don't yet recognize as a client:
// whatever it sent before is from a stale prior conversation.
func (c *Connection) clearStaleQueued(peer Endpoint) {
	c.recvMu.Lock()
	kept := c.recvQueue[:0]
	for _, p := range c.recvQueue {
		if !p.Src.Equal(peer) {
			kept = append(kept, p)
		}
	}
	c.recvQueue = kept
	c.recvMu.Unlock()
}

// processGroup processes one peer's batch of packets, already sorted
// ascending by Seq, per spec.md §4.5.
func (c *Connection) processGroup(group []Packet) {
	if len(group) == 0 {
		return
	}
	peer := group[0].Src
	sq, isNew := c.ensureSequence(peer)
	if !isNew && c.isPendingReset(peer) {
		return
	}

	var sawNonAckNul bool
	var lastSeq uint32

	for i := 0; i < len(group); i++ {
		p := group[i]

		if p.Seq != sq.Remote {
			if isNew {
				c.deleteSequence(peer)
				c.RequestConnectionReset(peer)
			} else {
				c.requeueRemaining(group[i:])
			}
			return
		}

		if isNew && c.role == RoleServer && p.Type != PacketSYN {
			// First packet from an unknown client must be SYN; the
			// transient record created above is discarded.
			c.deleteSequence(peer)
			return
		}

		sq.Remote++
		lastSeq = p.Seq
		if p.Type != PacketACK && p.Type != PacketNUL {
			sawNonAckNul = true
		}

		if p.Type == PacketSYN && c.role == RoleServer && !c.isKnownClient(peer) {
			c.clearStaleQueued(peer)
			c.addClient(peer)
			c.fireOnClientConnect(peer)
		}

		if p.Qty > 0 && p.Type == PacketDAT {
			complete, synthetic := c.bufferFragment(peer, p)
			c.confirmPacket(p)
			if complete {
				synthetic.Confirmed = true
				c.dispatch(synthetic)
			}
		} else {
			c.confirmPacket(p)
			p.Confirmed = true
			c.dispatch(p)
		}

		if c.role == RoleClient && p.Type == PacketSYN && p.Flags&FlagACK != 0 {
			c.transitionOpen(peer)
		}
		if c.role == RoleClient && p.Flags&FlagRST != 0 {
			return
		}

		isNew = false
	}

	if sawNonAckNul {
		_ = c.Send(peer, PacketACK, nil)
	}
	if c.role == RoleServer && lastSeq > c.opts.SequenceLimit {
		c.markPendingReset(peer)
	}
}

// --- confirmation (spec.md §4.6) ---

func (c *Connection) drainConfirmed(peer Endpoint) []uint32 {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	k := peer.Key()
	acks := c.confirmedSet[k]
	c.confirmedSet[k] = nil
	return acks
}

func (c *Connection) appendUnconfirmed(peer Endpoint, p Packet) {
	c.ackMu.Lock()
	k := peer.Key()
	c.unconfirmed[k] = append(c.unconfirmed[k], p)
	c.ackMu.Unlock()
}

// confirmPacket confirms a just-received packet p: its Seq is recorded
// to be piggy-backed on our next outbound Ack to p.Src, and every
// packet in our unconfirmed retention list whose Seq is listed in
// p.Ack (set by the remote) is dropped from retention.
func (c *Connection) confirmPacket(p Packet) {
	k := p.Src.Key()
	c.ackMu.Lock()
	defer c.ackMu.Unlock()

	c.confirmedSet[k] = append(c.confirmedSet[k], p.Seq)

	if len(p.Ack) == 0 {
		return
	}
	acked := make(map[uint32]struct{}, len(p.Ack))
	for _, seq := range p.Ack {
		acked[seq] = struct{}{}
	}
	kept := c.unconfirmed[k][:0]
	for _, up := range c.unconfirmed[k] {
		if _, ok := acked[up.Seq]; ok {
			continue
		}
		kept = append(kept, up)
	}
	c.unconfirmed[k] = kept
}

// unconfirmedSnapshot returns a copy of peer's unconfirmed packets and
// clears the retention list, used by the client-side reset self-heal.
func (c *Connection) unconfirmedSnapshot(peer Endpoint) []Packet {
	c.ackMu.Lock()
	defer c.ackMu.Unlock()
	k := peer.Key()
	pending := append([]Packet(nil), c.unconfirmed[k]...)
	c.unconfirmed[k] = nil
	return pending
}
