// Package transport carries frames between a client and the relay over an
// unreliable datagram link. It retransmits reliable payloads until they are
// acknowledged, sends keepalives, and notices when the remote end goes quiet.
//
// A Transport has no clock and no goroutine of its own: the owner calls Poll
// with the time elapsed since the previous call.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pnet "github.com/pion/transport/v3"

	"github.com/1ureka/nodetunnel/internal/channel"
	"github.com/1ureka/nodetunnel/internal/config"
	"github.com/1ureka/nodetunnel/internal/protocol"
	"github.com/1ureka/nodetunnel/internal/util"
)

// Quality selects the delivery guarantee of a payload.
type Quality uint8

const (
	// Reliable payloads are delivered exactly once and in order.
	Reliable Quality = iota
	// Unreliable payloads are delivered at most once, in any order.
	Unreliable
)

func (q Quality) String() string {
	switch q {
	case Reliable:
		return "reliable"
	case Unreliable:
		return "unreliable"
	default:
		return fmt.Sprintf("Quality(%d)", uint8(q))
	}
}

// Packet is a payload delivered by Poll.
type Packet struct {
	Payload []byte
	Quality Quality
}

// Error reports a failure to set up a transport.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return "transport: " + e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Transport sends and receives payloads over a Link.
type Transport struct {
	cfg  config.Transport
	link Link
	ch   *channel.Channel

	mu            sync.Mutex
	queue         [][]byte // frames the link refused, oldest first
	now           time.Duration
	lastResend    time.Duration
	lastKeepalive time.Duration
	lastRecv      time.Duration
	err           error // sticky ErrLinkClosed
}

// New wraps link. Zero fields of cfg fall back to config.DefaultTransport.
func New(link Link, cfg config.Transport) *Transport {
	cfg = withDefaults(cfg)
	return &Transport{
		cfg:  cfg,
		link: link,
		ch: channel.New(channel.Config{
			RetransmitInterval: cfg.RetransmitInterval,
			MaxWindow:          cfg.MaxWindow,
		}),
	}
}

// Dial opens a link of the given network to relayAddr and wraps it. For
// NetworkWebSocket relayAddr is the relay's HTTP address and the /ws path is
// used. n selects the UDP network stack; nil means the host's.
func Dial(ctx context.Context, network config.Network, relayAddr string, cfg config.Transport, n pnet.Net) (*Transport, error) {
	cfg = withDefaults(cfg)

	var (
		link Link
		err  error
	)
	switch network {
	case config.NetworkUDP, "":
		link, err = DialUDP(n, "", relayAddr, cfg)
	case config.NetworkWebSocket:
		link, err = DialWebSocket(ctx, "ws://"+relayAddr+"/ws", cfg)
	default:
		err = &Error{Op: "dial", Err: fmt.Errorf("unsupported network %q", network)}
	}
	if err != nil {
		return nil, err
	}
	return New(link, cfg), nil
}

func withDefaults(cfg config.Transport) config.Transport {
	def := config.DefaultTransport()
	if cfg.ResendCadence <= 0 {
		cfg.ResendCadence = def.ResendCadence
	}
	if cfg.RetransmitInterval <= 0 {
		cfg.RetransmitInterval = def.RetransmitInterval
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = def.KeepaliveInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = def.WriteWait
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = def.InboxSize
	}
	if cfg.MaxDatagram <= 0 {
		cfg.MaxDatagram = def.MaxDatagram
	}
	if cfg.MaxWindow == 0 {
		cfg.MaxWindow = def.MaxWindow
	}
	return cfg
}

// ---------------------------------------------------------------------------
// Sending
// ---------------------------------------------------------------------------

// Send frames payload and hands it to the link. Frames the link cannot take
// right now are queued and retried, in order, on later calls.
//
// Only ErrLinkClosed is returned; every other link failure counts as loss.
func (t *Transport) Send(payload []byte, q Quality) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err != nil {
		return t.err
	}

	var frame []byte
	switch q {
	case Reliable:
		_, frame = t.ch.Submit(payload, t.now)
	default:
		frame = protocol.EncodeUnreliable(payload)
	}
	return t.write(frame)
}

// write sends frame unless older frames are still queued. Caller holds mu.
func (t *Transport) write(frame []byte) error {
	if t.err != nil {
		return t.err
	}
	if len(t.queue) > 0 {
		if err := t.flush(); err != nil {
			return err
		}
		if len(t.queue) > 0 {
			t.queue = append(t.queue, frame)
			return nil
		}
	}

	switch err := t.link.Send(frame); {
	case err == nil:
		traceFrame("sent", frame)
		util.Stats.AddSent(len(frame))
	case errors.Is(err, ErrWouldBlock):
		util.Stats.AddWouldBlock()
		t.queue = append(t.queue, frame)
	case errors.Is(err, ErrLinkClosed):
		t.err = ErrLinkClosed
		return t.err
	default:
		util.LogDebug("dropped %d byte frame: %v", len(frame), err)
	}
	return nil
}

// flush sends queued frames until the link refuses one. Caller holds mu.
func (t *Transport) flush() error {
	if t.err != nil {
		return t.err
	}
	for len(t.queue) > 0 {
		frame := t.queue[0]
		err := t.link.Send(frame)
		switch {
		case err == nil:
			traceFrame("sent", frame)
			util.Stats.AddSent(len(frame))
		case errors.Is(err, ErrWouldBlock):
			return nil
		case errors.Is(err, ErrLinkClosed):
			t.err = ErrLinkClosed
			return t.err
		default:
			util.LogDebug("dropped %d byte frame: %v", len(frame), err)
		}
		t.queue[0] = nil
		t.queue = t.queue[1:]
	}
	t.queue = nil
	return nil
}

// ---------------------------------------------------------------------------
// Polling
// ---------------------------------------------------------------------------

// Poll advances the transport by delta. It retries queued frames,
// retransmits unacknowledged reliable frames, sends a keepalive when one is
// due, and drains everything the link has received.
//
// Delivered packets are returned even when err is non-nil. err is
// ErrTimedOut when nothing arrived for the configured timeout, or
// ErrLinkClosed when the link is gone. Both are permanent.
func (t *Transport) Poll(delta time.Duration) ([]Packet, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.err != nil {
		return nil, t.err
	}

	// Write failures are sticky in t.err; frames already received are still
	// delivered below.
	t.now += delta
	_ = t.flush()

	if t.now-t.lastResend >= t.cfg.ResendCadence {
		t.lastResend = t.now
		// A congested link already holds frames; resending would only grow the queue.
		if len(t.queue) == 0 {
			for _, frame := range t.ch.Resends(t.now) {
				util.Stats.AddResend()
				_ = t.write(frame)
			}
		}
	}

	if t.now-t.lastKeepalive >= t.cfg.KeepaliveInterval {
		t.lastKeepalive = t.now
		_ = t.write(protocol.KeepaliveFrame())
	}

	packets := t.drain()
	if t.err != nil {
		return packets, t.err
	}

	if t.now-t.lastRecv >= t.cfg.Timeout {
		t.err = ErrTimedOut
		return packets, t.err
	}
	return packets, nil
}

// drain reads every waiting frame. Caller holds mu.
func (t *Transport) drain() []Packet {
	var packets []Packet
	for {
		data, err := t.link.Recv()
		if errors.Is(err, ErrWouldBlock) {
			return packets
		}
		if err != nil {
			t.err = ErrLinkClosed
			return packets
		}

		t.lastRecv = t.now
		traceFrame("received", data)
		util.Stats.AddRecv(len(data))

		f, err := protocol.DecodeFrame(data)
		if err != nil {
			util.Stats.AddParseFault()
			util.LogDebug("discarded frame: %v", err)
			continue
		}

		switch f.Kind {
		case protocol.FrameAck:
			t.ch.Ack(f.Seq)

		case protocol.FrameUnreliable:
			if f.IsKeepalive() {
				continue
			}
			packets = append(packets, Packet{Payload: f.Payload, Quality: Unreliable})

		case protocol.FrameReliable:
			deliver, acks := t.ch.Receive(f.Seq, f.Payload)
			for _, seq := range acks {
				_ = t.write(protocol.EncodeAck(seq))
			}
			for _, payload := range deliver {
				packets = append(packets, Packet{Payload: payload, Quality: Reliable})
			}
		}
	}
}

// traceFrame logs one frame at trace level.
func traceFrame(dir string, frame []byte) {
	if len(frame) == 0 {
		return
	}
	util.LogTrace("%s %s frame, %d bytes", dir, protocol.FrameKind(frame[0]), len(frame))
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Close discards pending and queued frames and closes the link. Later calls
// report ErrLinkClosed.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.queue = nil
	t.ch.Reset()
	if t.err == nil {
		t.err = ErrLinkClosed
	}
	return t.link.Close()
}

// Pending returns the number of unacknowledged reliable frames.
func (t *Transport) Pending() int { return t.ch.Pending() }

// Queued returns the number of frames waiting for the link to accept them.
func (t *Transport) Queued() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Elapsed returns the accumulated session time.
func (t *Transport) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.now
}
