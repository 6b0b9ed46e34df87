package rudp

import (
	"math"
	"time"
)

// Options configures a Connection. Zero-valued fields are filled with
// defaults by normalized(); callers typically start from
// DefaultOptions() and override only what they need.
type Options struct {
	MTU   int // base transport unit
	MaxMTU int // fragmentation threshold; derived as 0.80*MTU when zero

	SendFrequency time.Duration // send-loop tick
	RecvFrequency time.Duration // recv-loop tick

	PacketIDLimit uint32 // wrap point for the fragmentation message id
	SequenceLimit uint32 // server-side forced reset point

	ClientStartSequence uint32
	ServerStartSequence uint32

	MagicHeader []byte

	KeepAliveInterval time.Duration // server: SendKeepAlive ticker cadence
	SessionTimeout    time.Duration // server: CleanupStaleSessions threshold
	ResetDelay        time.Duration // client: delay before self-heal after a peer RST
}

// DefaultOptions returns the spec-mandated defaults.
func DefaultOptions() Options {
	return Options{
		MTU:                  1500,
		SendFrequency:        10 * time.Millisecond,
		RecvFrequency:        10 * time.Millisecond,
		PacketIDLimit:        uint32(math.MaxInt32 / 2),
		SequenceLimit:        uint32(math.MaxInt32 / 2),
		ClientStartSequence:  100,
		ServerStartSequence:  200,
		MagicHeader:          DefaultMagicHeader,
		KeepAliveInterval:    5 * time.Second,
		SessionTimeout:       30 * time.Second,
		ResetDelay:           time.Second,
	}
}

// normalized fills any zero-valued field with its default, deriving
// MaxMTU from MTU when the caller didn't set one explicitly.
func (o Options) normalized() Options {
	d := DefaultOptions()
	if o.MTU <= 0 {
		o.MTU = d.MTU
	}
	if o.MaxMTU <= 0 {
		o.MaxMTU = int(float64(o.MTU) * 0.80)
	}
	if o.SendFrequency <= 0 {
		o.SendFrequency = d.SendFrequency
	}
	if o.RecvFrequency <= 0 {
		o.RecvFrequency = d.RecvFrequency
	}
	if o.PacketIDLimit == 0 {
		o.PacketIDLimit = d.PacketIDLimit
	}
	if o.SequenceLimit == 0 {
		o.SequenceLimit = d.SequenceLimit
	}
	if o.ClientStartSequence == 0 {
		o.ClientStartSequence = d.ClientStartSequence
	}
	if o.ServerStartSequence == 0 {
		o.ServerStartSequence = d.ServerStartSequence
	}
	if len(o.MagicHeader) == 0 {
		o.MagicHeader = d.MagicHeader
	}
	if o.KeepAliveInterval <= 0 {
		o.KeepAliveInterval = d.KeepAliveInterval
	}
	if o.SessionTimeout <= 0 {
		o.SessionTimeout = d.SessionTimeout
	}
	if o.ResetDelay <= 0 {
		o.ResetDelay = d.ResetDelay
	}
	return o
}
