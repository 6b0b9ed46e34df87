// Package events provides a small typed pub-sub bus for connection
// lifecycle notifications, adapted from the teacher's game-event
// manager to RUDP's own event set.
package events

import (
	"sync"
	"time"

	"github.com/ventosilenzioso/go-rudp/pkg/rudp"
)

// Type identifies a connection-lifecycle event.
type Type int

const (
	TypeClientConnect Type = iota
	TypeClientDisconnect
	TypeConnected
	TypePacketReceived
	TypeReset
)

// Event carries one lifecycle occurrence.
type Event struct {
	Type      Type
	Peer      rudp.Endpoint
	Packet    *rudp.Packet
	Timestamp time.Time
}

// Handler reacts to an Event.
type Handler func(Event)

// Manager fans one Event out to every Handler registered for its Type.
type Manager struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
}

// NewManager returns an empty Manager.
func NewManager() *Manager {
	return &Manager{handlers: make(map[Type][]Handler)}
}

// Register adds handler to the list invoked for events of typ.
func (m *Manager) Register(typ Type, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[typ] = append(m.handlers[typ], handler)
}

// Trigger invokes every handler registered for ev.Type, in registration
// order, on the calling goroutine.
func (m *Manager) Trigger(ev Event) {
	m.mu.RLock()
	handlers := append([]Handler(nil), m.handlers[ev.Type]...)
	m.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

// Bind wires a Manager into a Connection's Handlers, translating each
// core callback into a Trigger call so application code can subscribe
// to connection events through one bus instead of five separate
// callback fields.
func Bind(m *Manager) rudp.Handlers {
	return rudp.Handlers{
		OnClientConnect: func(peer rudp.Endpoint) {
			m.Trigger(Event{Type: TypeClientConnect, Peer: peer, Timestamp: time.Now()})
		},
		OnClientDisconnect: func(peer rudp.Endpoint) {
			m.Trigger(Event{Type: TypeClientDisconnect, Peer: peer, Timestamp: time.Now()})
		},
		OnConnected: func(peer rudp.Endpoint) {
			m.Trigger(Event{Type: TypeConnected, Peer: peer, Timestamp: time.Now()})
		},
		OnPacketReceived: func(p rudp.Packet) {
			m.Trigger(Event{Type: TypePacketReceived, Peer: p.Src, Packet: &p, Timestamp: time.Now()})
		},
		OnReset: func(peer rudp.Endpoint) {
			m.Trigger(Event{Type: TypeReset, Peer: peer, Timestamp: time.Now()})
		},
	}
}
