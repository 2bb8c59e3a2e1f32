package transport_test

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/pterm/pterm"

	"github.com/1ureka/nodetunnel/internal/config"
	"github.com/1ureka/nodetunnel/internal/protocol"
	"github.com/1ureka/nodetunnel/internal/transport"
	"github.com/1ureka/nodetunnel/internal/util"
)

const tick = 10 * time.Millisecond

func newPair(t *testing.T, capacity int) (*transport.Transport, *transport.Transport, *transport.PipeEnd, *transport.PipeEnd) {
	t.Helper()
	a, b := transport.Pipe(capacity)
	cfg := config.DefaultTransport()
	ta, tb := transport.New(a, cfg), transport.New(b, cfg)
	t.Cleanup(func() {
		_ = ta.Close()
		_ = tb.Close()
	})
	return ta, tb, a, b
}

// step polls both ends once and returns what each received.
func step(t *testing.T, ta, tb *transport.Transport) (gotA, gotB []transport.Packet) {
	t.Helper()
	gotA, err := ta.Poll(tick)
	if err != nil {
		t.Fatalf("a.Poll: %v", err)
	}
	gotB, err = tb.Poll(tick)
	if err != nil {
		t.Fatalf("b.Poll: %v", err)
	}
	return gotA, gotB
}

// dropFirst returns a filter discarding the first frame of the given kind.
func dropFirst(kind protocol.FrameKind) func([]byte) bool {
	dropped := false
	return func(frame []byte) bool {
		if dropped || len(frame) == 0 || protocol.FrameKind(frame[0]) != kind {
			return false
		}
		dropped = true
		return true
	}
}

func TestReliableSurvivesLostFrameAndLostAck(t *testing.T) {
	ta, tb, a, b := newPair(t, 64)
	a.SetDropFilter(dropFirst(protocol.FrameReliable))
	b.SetDropFilter(dropFirst(protocol.FrameAck))

	payload := []byte("hello relay")
	if err := ta.Send(payload, transport.Reliable); err != nil {
		t.Fatalf("Send: %v", err)
	}

	retransmit := config.DefaultTransport().RetransmitInterval
	var (
		delivered int
		firstAt   time.Duration
	)
	for elapsed := tick; elapsed <= 5*retransmit; elapsed += tick {
		_, got := step(t, ta, tb)
		for _, p := range got {
			if !bytes.Equal(p.Payload, payload) || p.Quality != transport.Reliable {
				t.Fatalf("unexpected packet %+v", p)
			}
			delivered++
			if firstAt == 0 {
				firstAt = elapsed
			}
		}
	}

	if delivered != 1 {
		t.Fatalf("delivered %d times, want exactly once", delivered)
	}
	if firstAt > 2*retransmit {
		t.Errorf("delivered after %s, want within %s", firstAt, 2*retransmit)
	}
	if n := ta.Pending(); n != 0 {
		t.Errorf("sender still has %d pending frames", n)
	}
}

func TestUnreliableIsNotRetransmitted(t *testing.T) {
	ta, tb, a, _ := newPair(t, 64)
	a.SetDropFilter(dropFirst(protocol.FrameUnreliable))

	if err := ta.Send([]byte("lost"), transport.Unreliable); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := ta.Send([]byte("kept"), transport.Unreliable); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var got []string
	for range 50 {
		_, pkts := step(t, ta, tb)
		for _, p := range pkts {
			if p.Quality != transport.Unreliable {
				t.Fatalf("quality = %v, want unreliable", p.Quality)
			}
			got = append(got, string(p.Payload))
		}
	}
	if len(got) != 1 || got[0] != "kept" {
		t.Errorf("received %q, want only \"kept\"", got)
	}
	if ta.Pending() != 0 {
		t.Errorf("unreliable send left %d pending frames", ta.Pending())
	}
}

func TestWouldBlockKeepsSendOrder(t *testing.T) {
	ta, tb, _, _ := newPair(t, 2)

	sends := []struct {
		payload string
		q       transport.Quality
	}{
		{"r1", transport.Reliable},
		{"r2", transport.Reliable},
		{"r3", transport.Reliable},
		{"u1", transport.Unreliable},
		{"r4", transport.Reliable},
	}
	for _, s := range sends {
		if err := ta.Send([]byte(s.payload), s.q); err != nil {
			t.Fatalf("Send(%s): %v", s.payload, err)
		}
	}
	if q := ta.Queued(); q != 3 {
		t.Fatalf("Queued = %d, want 3 with a two-frame pipe", q)
	}

	var got []string
	for range 100 {
		_, pkts := step(t, ta, tb)
		for _, p := range pkts {
			got = append(got, fmt.Sprintf("%s/%s", p.Payload, p.Quality))
		}
	}

	want := []string{"r1/reliable", "r2/reliable", "r3/reliable", "u1/unreliable", "r4/reliable"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("received %v, want %v", got, want)
	}
	if ta.Queued() != 0 || ta.Pending() != 0 {
		t.Errorf("queued=%d pending=%d after drain, want 0/0", ta.Queued(), ta.Pending())
	}
}

func TestKeepaliveAndTimeout(t *testing.T) {
	ta, tb, _, _ := newPair(t, 64)
	cfg := config.DefaultTransport()

	// Both ends polling keep each other alive with keepalives alone.
	for elapsed := time.Duration(0); elapsed < 4*cfg.Timeout; elapsed += time.Second {
		if _, err := ta.Poll(time.Second); err != nil {
			t.Fatalf("a.Poll at %s: %v", elapsed, err)
		}
		pkts, err := tb.Poll(time.Second)
		if err != nil {
			t.Fatalf("b.Poll at %s: %v", elapsed, err)
		}
		if len(pkts) != 0 {
			t.Fatalf("keepalive surfaced as %d packets", len(pkts))
		}
	}

	if got := tb.Elapsed(); got != 4*cfg.Timeout {
		t.Errorf("Elapsed() = %s, want %s", got, 4*cfg.Timeout)
	}

	// a goes silent; b gives up after the timeout.
	var err error
	var waited time.Duration
	for waited = 0; waited <= 2*cfg.Timeout && err == nil; waited += time.Second {
		_, err = tb.Poll(time.Second)
	}
	if !errors.Is(err, transport.ErrTimedOut) {
		t.Fatalf("err = %v, want ErrTimedOut", err)
	}
	if waited > cfg.Timeout+time.Second {
		t.Errorf("timed out after %s, want about %s", waited, cfg.Timeout)
	}

	if _, err := tb.Poll(tick); !errors.Is(err, transport.ErrTimedOut) {
		t.Errorf("second Poll err = %v, want sticky ErrTimedOut", err)
	}
}

func TestTraceLogsFramesBothWays(t *testing.T) {
	var buf bytes.Buffer
	writer, level := pterm.DefaultLogger.Writer, pterm.DefaultLogger.Level
	pterm.DefaultLogger.Writer = &buf
	util.EnableTrace()
	t.Cleanup(func() {
		pterm.DefaultLogger.Writer = writer
		pterm.DefaultLogger.Level = level
	})

	ta, tb, _, _ := newPair(t, 64)
	if err := ta.Send([]byte("traced"), transport.Reliable); err != nil {
		t.Fatalf("Send: %v", err)
	}
	step(t, ta, tb)
	step(t, ta, tb)

	out := buf.String()
	for _, want := range []string{
		"sent reliable frame, 11 bytes",
		"received reliable frame, 11 bytes",
		"sent ack frame, 5 bytes",
		"received ack frame, 5 bytes",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("trace output lacks %q:\n%s", want, out)
		}
	}
}

func TestLinkClosed(t *testing.T) {
	ta, _, _, b := newPair(t, 64)
	_ = b.Close()

	if _, err := ta.Poll(tick); !errors.Is(err, transport.ErrLinkClosed) {
		t.Errorf("Poll err = %v, want ErrLinkClosed", err)
	}
	if err := ta.Send([]byte("x"), transport.Reliable); !errors.Is(err, transport.ErrLinkClosed) {
		t.Errorf("Send err = %v, want ErrLinkClosed", err)
	}
}

func TestDuplicateFrameReackedNotRedelivered(t *testing.T) {
	a, raw := transport.Pipe(64)
	ta := transport.New(a, config.DefaultTransport())
	defer ta.Close()

	frame := protocol.EncodeReliable(1, []byte("once"))
	for range 2 {
		if err := raw.Send(frame); err != nil {
			t.Fatalf("raw send: %v", err)
		}
	}

	pkts, err := ta.Poll(tick)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(pkts) != 1 || string(pkts[0].Payload) != "once" {
		t.Fatalf("delivered %v, want one \"once\"", pkts)
	}

	var acks int
	for {
		data, err := raw.Recv()
		if err != nil {
			break
		}
		f, err := protocol.DecodeFrame(data)
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		if f.Kind == protocol.FrameAck && f.Seq == 1 {
			acks++
		}
	}
	if acks != 2 {
		t.Errorf("acks = %d, want 2", acks)
	}
}

func TestMalformedFrameIsCountedAndSkipped(t *testing.T) {
	a, raw := transport.Pipe(64)
	ta := transport.New(a, config.DefaultTransport())
	defer ta.Close()

	before := util.Stats.ParseFaults.Load()
	_ = raw.Send([]byte{0x07, 0x01})
	_ = raw.Send([]byte{byte(protocol.FrameAck), 0, 0})
	_ = raw.Send(protocol.EncodeUnreliable([]byte("fine")))

	pkts, err := ta.Poll(tick)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(pkts) != 1 || string(pkts[0].Payload) != "fine" {
		t.Errorf("delivered %v, want only \"fine\"", pkts)
	}
	if got := util.Stats.ParseFaults.Load() - before; got < 2 {
		t.Errorf("parse faults grew by %d, want at least 2", got)
	}
}

func TestErrorWrapping(t *testing.T) {
	inner := errors.New("boom")
	err := error(&transport.Error{Op: "listen", Err: inner})

	if !errors.Is(err, inner) {
		t.Error("errors.Is does not reach the wrapped error")
	}
	var te *transport.Error
	if !errors.As(err, &te) {
		t.Fatal("errors.As did not find *transport.Error")
	}
	if te.Op != "listen" {
		t.Errorf("Op = %q, want listen", te.Op)
	}
	if err.Error() != "transport: listen: boom" {
		t.Errorf("Error() = %q", err.Error())
	}
}
