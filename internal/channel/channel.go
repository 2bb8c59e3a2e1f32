// Package channel turns a lossy datagram link into an ordered, acknowledged
// stream for reliable payloads. Unreliable payloads never pass through it.
//
// Time is expressed as accumulated session time (time.Duration) supplied by
// the caller, so the channel has no clock of its own.
package channel

import (
	"sync"
	"time"

	"github.com/1ureka/nodetunnel/internal/protocol"
)

// Defaults.
const (
	DefaultRetransmitInterval = 100 * time.Millisecond
	DefaultMaxWindow          = 4096
	DefaultInitialSeq         = 1
)

// Config tunes a Channel. Both ends of a connection must agree on InitialSeq.
type Config struct {
	RetransmitInterval time.Duration
	MaxWindow          uint32 // receive sequences further ahead than this are dropped unacked
	InitialSeq         uint32
}

// DefaultConfig returns the retransmit interval and window used by clients
// and the relay.
func DefaultConfig() Config {
	return Config{
		RetransmitInterval: DefaultRetransmitInterval,
		MaxWindow:          DefaultMaxWindow,
		InitialSeq:         DefaultInitialSeq,
	}
}

// PendingSend is a reliable frame awaiting acknowledgment.
type PendingSend struct {
	Seq       uint32
	Frame     []byte
	FirstSent time.Duration
	LastSent  time.Duration
	Resent    int
}

// Channel holds the reliable-stream state for one connection: outgoing
// sequence numbers, the retransmit set, and the receive window.
//
// All methods are safe for concurrent use. No lock is held while calling out.
type Channel struct {
	cfg Config

	mu      sync.Mutex
	seq     *SeqGen
	pending []*PendingSend // submission order
	reasm   *Reassembler
}

// New creates a Channel. Zero fields in cfg fall back to DefaultConfig.
func New(cfg Config) *Channel {
	def := DefaultConfig()
	if cfg.RetransmitInterval <= 0 {
		cfg.RetransmitInterval = def.RetransmitInterval
	}
	if cfg.MaxWindow == 0 {
		cfg.MaxWindow = def.MaxWindow
	}
	if cfg.InitialSeq == 0 {
		cfg.InitialSeq = def.InitialSeq
	}

	return &Channel{
		cfg:   cfg,
		seq:   NewSeqGen(cfg.InitialSeq),
		reasm: NewReassembler(cfg.InitialSeq),
	}
}

// Submit assigns the next sequence number to payload and records it for
// retransmission. It returns the sequence and the frame to put on the wire.
func (c *Channel) Submit(payload []byte, now time.Duration) (uint32, []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seq := c.seq.Next()
	frame := protocol.EncodeReliable(seq, payload)
	c.pending = append(c.pending, &PendingSend{
		Seq:       seq,
		Frame:     frame,
		FirstSent: now,
		LastSent:  now,
	})
	return seq, frame
}

// Resends returns the frames whose last transmission is at least one
// retransmit interval old, in submission order, and marks them as sent now.
// There is no backoff and no retry limit.
func (c *Channel) Resends(now time.Duration) [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out [][]byte
	for _, p := range c.pending {
		if now-p.LastSent < c.cfg.RetransmitInterval {
			continue
		}
		p.LastSent = now
		p.Resent++
		out = append(out, p.Frame)
	}
	return out
}

// Ack removes seq from the retransmit set. Unknown or already acknowledged
// sequences are ignored and report false.
func (c *Channel) Ack(seq uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, p := range c.pending {
		if p.Seq != seq {
			continue
		}
		copy(c.pending[i:], c.pending[i+1:])
		c.pending[len(c.pending)-1] = nil
		c.pending = c.pending[:len(c.pending)-1]
		return true
	}
	return false
}

// Receive handles an inbound reliable payload. It returns the payloads now
// deliverable in sequence order and the sequences to acknowledge.
//
// Duplicates are acknowledged again but never delivered twice. Sequences too
// far ahead of the receive window are dropped without acknowledgment so the
// sender retries them later.
func (c *Channel) Receive(seq uint32, payload []byte) (deliver [][]byte, acks []uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.reasm.Seen(seq) {
		return nil, []uint32{seq}
	}
	if Distance(c.reasm.Expected(), seq) >= c.cfg.MaxWindow {
		return nil, nil
	}

	buf := make([]byte, len(payload))
	copy(buf, payload)
	return c.reasm.Feed(seq, buf), []uint32{seq}
}

// Pending returns the number of unacknowledged reliable frames.
func (c *Channel) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// PendingSends returns a snapshot of the retransmit set.
func (c *Channel) PendingSends() []PendingSend {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]PendingSend, len(c.pending))
	for i, p := range c.pending {
		out[i] = *p
	}
	return out
}

// Expected returns the next reliable sequence the receive side will deliver.
func (c *Channel) Expected() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reasm.Expected()
}

// Reset discards all in-flight state and restarts both directions at the
// initial sequence.
func (c *Channel) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = nil
	c.seq = NewSeqGen(c.cfg.InitialSeq)
	c.reasm = NewReassembler(c.cfg.InitialSeq)
}
