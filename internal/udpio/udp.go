// Package udpio implements rudp.Adapter over a real net.UDPConn. It is
// kept separate from pkg/rudp so the core transport never opens a socket
// itself (it uses package net only for address types), matching the
// interface boundary the core declares for its datagram collaborator.
package udpio

import (
	"net"

	"github.com/pkg/errors"

	"github.com/ventosilenzioso/go-rudp/pkg/rudp"
)

// bufSize is the per-read scratch buffer; it must be at least as large
// as the largest MTU any Options the caller intends to use will permit.
const bufSize = 65536

// Adapter binds a single UDP socket and adapts it to rudp.Adapter.
// A server Adapter is bound with no fixed remote; a client Adapter is
// additionally "connected" to its single peer via net.DialUDP so the
// kernel filters out-of-conversation datagrams for free.
type Adapter struct {
	conn    *net.UDPConn
	fixed   *net.UDPAddr // client only: the single peer we're dialed to
	running chan struct{}
}

var _ rudp.Adapter = (*Adapter)(nil)

// NewServerAdapter binds a UDP socket at host:port for a multi-peer server.
func NewServerAdapter(host string, port int) (*Adapter, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, errors.Wrap(err, "binding server udp socket")
	}
	return &Adapter{conn: conn, running: make(chan struct{})}, nil
}

// NewClientAdapter dials remote, returning an Adapter pinned to that
// single peer for a client Connection.
func NewClientAdapter(remote rudp.Endpoint) (*Adapter, error) {
	raddr := &net.UDPAddr{IP: remote.IP, Port: remote.Port}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, errors.Wrap(err, "dialing client udp socket")
	}
	return &Adapter{conn: conn, fixed: raddr, running: make(chan struct{})}, nil
}

// SendTo writes b to peer. For a client adapter peer is expected to be
// the same endpoint the adapter was dialed to; the connected socket
// ignores the destination address on the wire level regardless.
func (a *Adapter) SendTo(peer rudp.Endpoint, b []byte) error {
	if a.fixed != nil {
		_, err := a.conn.Write(b)
		return errors.Wrap(err, "udp write")
	}
	_, err := a.conn.WriteToUDP(b, &net.UDPAddr{IP: peer.IP, Port: peer.Port})
	return errors.Wrap(err, "udp write-to")
}

// Listen reads datagrams until Close is called, invoking onReceive for
// each with its own copy of the datagram body (the read buffer is
// reused across iterations, so the copy is what makes b safe to retain).
func (a *Adapter) Listen(onReceive func(peer rudp.Endpoint, b []byte)) error {
	buf := make([]byte, bufSize)
	for {
		select {
		case <-a.running:
			return nil
		default:
		}

		n, raddr, err := a.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-a.running:
				return nil
			default:
			}
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		onReceive(rudp.Endpoint{IP: raddr.IP, Port: raddr.Port}, data)
	}
}

// Close unblocks Listen and releases the socket.
func (a *Adapter) Close() error {
	close(a.running)
	return a.conn.Close()
}
