package channel_test

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/1ureka/nodetunnel/internal/channel"
	"github.com/1ureka/nodetunnel/internal/protocol"
)

// decodeReliable unpacks a frame produced by Submit/Resends.
func decodeReliable(t *testing.T, frame []byte) (uint32, []byte) {
	t.Helper()
	f, err := protocol.DecodeFrame(frame)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if f.Kind != protocol.FrameReliable {
		t.Fatalf("frame kind = %d, want reliable", f.Kind)
	}
	return f.Seq, f.Payload
}

func payloadN(i int) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, uint32(i))
	return b
}

func TestSubmitFramesAndSequences(t *testing.T) {
	ch := channel.New(channel.DefaultConfig())

	for i := 1; i <= 3; i++ {
		seq, frame := ch.Submit([]byte{byte(i)}, 0)
		if seq != uint32(i) {
			t.Errorf("submit %d: seq = %d, want %d", i, seq, i)
		}
		gotSeq, payload := decodeReliable(t, frame)
		if gotSeq != seq || !bytes.Equal(payload, []byte{byte(i)}) {
			t.Errorf("submit %d: frame carries seq %d payload %x", i, gotSeq, payload)
		}
	}

	if ch.Pending() != 3 {
		t.Errorf("Pending() = %d, want 3", ch.Pending())
	}
}

func TestResendsAfterInterval(t *testing.T) {
	ch := channel.New(channel.Config{RetransmitInterval: 100 * time.Millisecond})
	ch.Submit([]byte("a"), 0)
	ch.Submit([]byte("b"), 30*time.Millisecond)

	if got := ch.Resends(50 * time.Millisecond); len(got) != 0 {
		t.Fatalf("resent %d frames before the interval elapsed", len(got))
	}

	got := ch.Resends(100 * time.Millisecond)
	if len(got) != 1 {
		t.Fatalf("at 100ms resent %d frames, want 1", len(got))
	}
	if _, p := decodeReliable(t, got[0]); string(p) != "a" {
		t.Errorf("resent payload %q, want a", p)
	}

	// "a" was just resent; "b" is due at 130ms.
	got = ch.Resends(150 * time.Millisecond)
	if len(got) != 1 {
		t.Fatalf("at 150ms resent %d frames, want 1", len(got))
	}
	if _, p := decodeReliable(t, got[0]); string(p) != "b" {
		t.Errorf("resent payload %q, want b", p)
	}

	// No cap on retries.
	for i := 2; i < 50; i++ {
		if got := ch.Resends(time.Duration(i) * time.Second); len(got) != 2 {
			t.Fatalf("round %d resent %d frames, want 2", i, len(got))
		}
	}

	pending := ch.PendingSends()
	if pending[0].FirstSent != 0 || pending[0].Resent != 49 {
		t.Errorf("pending[0] = %+v", pending[0])
	}
}

func TestAckRemovesPending(t *testing.T) {
	ch := channel.New(channel.DefaultConfig())
	seqA, _ := ch.Submit([]byte("a"), 0)
	seqB, _ := ch.Submit([]byte("b"), 0)

	if !ch.Ack(seqA) {
		t.Fatal("Ack of pending seq returned false")
	}
	if ch.Ack(seqA) {
		t.Error("second Ack of the same seq returned true")
	}
	if ch.Ack(999) {
		t.Error("Ack of unknown seq returned true")
	}

	got := ch.Resends(time.Second)
	if len(got) != 1 {
		t.Fatalf("resent %d frames, want 1", len(got))
	}
	if seq, _ := decodeReliable(t, got[0]); seq != seqB {
		t.Errorf("resent seq %d, want %d", seq, seqB)
	}
}

func TestReceiveInOrderAndBuffered(t *testing.T) {
	ch := channel.New(channel.DefaultConfig())

	deliver, acks := ch.Receive(2, []byte("two"))
	if len(deliver) != 0 {
		t.Fatalf("seq 2 delivered before seq 1")
	}
	if len(acks) != 1 || acks[0] != 2 {
		t.Errorf("acks = %v, want [2]", acks)
	}

	deliver, acks = ch.Receive(1, []byte("one"))
	if len(deliver) != 2 || string(deliver[0]) != "one" || string(deliver[1]) != "two" {
		t.Fatalf("deliver = %q, want [one two]", deliver)
	}
	if len(acks) != 1 || acks[0] != 1 {
		t.Errorf("acks = %v, want [1]", acks)
	}
	if ch.Expected() != 3 {
		t.Errorf("Expected() = %d, want 3", ch.Expected())
	}
}

func TestReassemblerHoldsGapsInWrapOrder(t *testing.T) {
	start := uint32(math.MaxUint32 - 1)
	r := channel.NewReassembler(start)

	if got := r.Feed(start+2, []byte("c")); got != nil {
		t.Fatalf("Feed across the wrap delivered %q early", got)
	}
	if got := r.Feed(start+1, []byte("b")); got != nil {
		t.Fatalf("Feed delivered %q before the gap filled", got)
	}
	if r.Buffered() != 2 || !r.Seen(start+2) || r.Seen(start) {
		t.Fatalf("Buffered() = %d, Seen(start+2) = %v, Seen(start) = %v", r.Buffered(), r.Seen(start+2), r.Seen(start))
	}

	got := r.Feed(start, []byte("a"))
	if len(got) != 3 || string(got[0]) != "a" || string(got[2]) != "c" {
		t.Fatalf("Feed = %q, want [a b c]", got)
	}
	if r.Buffered() != 0 || r.Expected() != start+3 {
		t.Errorf("Buffered() = %d, Expected() = %d after the gap filled", r.Buffered(), r.Expected())
	}
}

func TestReceiveDuplicateIsReackedNotRedelivered(t *testing.T) {
	ch := channel.New(channel.DefaultConfig())

	ch.Receive(1, []byte("one"))
	ch.Receive(3, []byte("three"))

	for _, seq := range []uint32{1, 3} {
		deliver, acks := ch.Receive(seq, []byte("dup"))
		if len(deliver) != 0 {
			t.Errorf("duplicate seq %d redelivered %q", seq, deliver)
		}
		if len(acks) != 1 || acks[0] != seq {
			t.Errorf("duplicate seq %d acks = %v", seq, acks)
		}
	}

	deliver, _ := ch.Receive(2, []byte("two"))
	if len(deliver) != 2 || string(deliver[1]) != "three" {
		t.Errorf("deliver = %q, want [two three]", deliver)
	}
}

func TestReceiveBeyondWindowDropped(t *testing.T) {
	ch := channel.New(channel.Config{MaxWindow: 8})

	deliver, acks := ch.Receive(1+8, []byte("far"))
	if deliver != nil || acks != nil {
		t.Errorf("out-of-window seq produced deliver=%v acks=%v", deliver, acks)
	}
	if _, acks := ch.Receive(1+7, []byte("near")); len(acks) != 1 {
		t.Errorf("in-window seq not acked")
	}
}

func TestReceivePayloadIsCopied(t *testing.T) {
	ch := channel.New(channel.DefaultConfig())
	buf := []byte("abc")
	ch.Receive(2, buf)
	buf[0] = 'X'

	deliver, _ := ch.Receive(1, []byte("z"))
	if string(deliver[1]) != "abc" {
		t.Errorf("buffered payload aliased caller memory: %q", deliver[1])
	}
}

// TestOrderingUnderReorderAndDuplication pushes frames through a simulated
// network that delays, duplicates and reorders (but never loses forever).
func TestOrderingUnderReorderAndDuplication(t *testing.T) {
	for _, seed := range []uint64{1, 2, 3, 42, 1337} {
		t.Run(fmt.Sprintf("seed=%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(seed, seed))
			sender := channel.New(channel.DefaultConfig())
			receiver := channel.New(channel.DefaultConfig())

			const n = 200
			var inFlight [][]byte
			for i := 0; i < n; i++ {
				_, frame := sender.Submit(payloadN(i), 0)
				inFlight = append(inFlight, frame)
				if rng.IntN(4) == 0 {
					inFlight = append(inFlight, frame)
				}
			}
			rng.Shuffle(len(inFlight), func(i, j int) { inFlight[i], inFlight[j] = inFlight[j], inFlight[i] })

			var got []uint32
			for _, frame := range inFlight {
				seq, payload := decodeReliable(t, frame)
				deliver, acks := receiver.Receive(seq, payload)
				for _, d := range deliver {
					got = append(got, binary.BigEndian.Uint32(d))
				}
				for _, a := range acks {
					sender.Ack(a)
				}
			}

			if len(got) != n {
				t.Fatalf("delivered %d payloads, want %d", len(got), n)
			}
			for i, v := range got {
				if v != uint32(i) {
					t.Fatalf("delivery %d carried payload %d", i, v)
				}
			}
			if sender.Pending() != 0 {
				t.Errorf("%d sends left unacknowledged", sender.Pending())
			}
		})
	}
}

// TestDroppedAckRetransmitsExactlyOnce loses the first ack; the resend is
// acknowledged again and the application sees the payload once.
func TestDroppedAckRetransmitsExactlyOnce(t *testing.T) {
	sender := channel.New(channel.DefaultConfig())
	receiver := channel.New(channel.DefaultConfig())

	_, frame := sender.Submit([]byte("state"), 0)

	delivered := 0
	seq, payload := decodeReliable(t, frame)
	deliver, _ := receiver.Receive(seq, payload) // ack lost
	delivered += len(deliver)

	resent := sender.Resends(channel.DefaultRetransmitInterval)
	if len(resent) != 1 {
		t.Fatalf("expected one retransmission, got %d", len(resent))
	}
	seq, payload = decodeReliable(t, resent[0])
	deliver, acks := receiver.Receive(seq, payload)
	delivered += len(deliver)
	for _, a := range acks {
		sender.Ack(a)
	}

	if delivered != 1 {
		t.Errorf("payload delivered %d times, want 1", delivered)
	}
	if sender.Pending() != 0 {
		t.Errorf("pending = %d after ack", sender.Pending())
	}
}

func TestSequenceWraparound(t *testing.T) {
	start := uint32(math.MaxUint32 - 2)
	cfg := channel.Config{InitialSeq: start}
	sender := channel.New(cfg)
	receiver := channel.New(cfg)

	var frames [][]byte
	var seqs []uint32
	for i := 0; i < 6; i++ {
		seq, frame := sender.Submit(payloadN(i), 0)
		seqs = append(seqs, seq)
		frames = append(frames, frame)
	}
	wantSeqs := []uint32{math.MaxUint32 - 2, math.MaxUint32 - 1, math.MaxUint32, 0, 1, 2}
	for i := range wantSeqs {
		if seqs[i] != wantSeqs[i] {
			t.Fatalf("seqs = %v, want %v", seqs, wantSeqs)
		}
	}

	// Deliver post-wrap sequences first; they must be held back.
	order := []int{4, 3, 5, 0, 2, 1, 3, 0}
	var got []uint32
	for _, idx := range order {
		seq, payload := decodeReliable(t, frames[idx])
		deliver, _ := receiver.Receive(seq, payload)
		for _, d := range deliver {
			got = append(got, binary.BigEndian.Uint32(d))
		}
	}

	if len(got) != 6 {
		t.Fatalf("delivered %v, want 6 payloads", got)
	}
	for i, v := range got {
		if v != uint32(i) {
			t.Fatalf("delivered %v, want 0..5 in order", got)
		}
	}
	if receiver.Expected() != 3 {
		t.Errorf("Expected() = %d, want 3", receiver.Expected())
	}

	// A pre-wrap duplicate is still recognised after the window moved past zero.
	if deliver, acks := receiver.Receive(math.MaxUint32, []byte("dup")); len(deliver) != 0 || len(acks) != 1 {
		t.Errorf("pre-wrap duplicate: deliver=%v acks=%v", deliver, acks)
	}
}

func TestLess(t *testing.T) {
	testCases := []struct {
		a, b uint32
		want bool
	}{
		{1, 2, true},
		{2, 1, false},
		{5, 5, false},
		{math.MaxUint32, 0, true},
		{0, math.MaxUint32, false},
		{math.MaxUint32 - 10, 10, true},
		{0, 1<<31 - 1, true},
	}
	for _, tc := range testCases {
		if got := channel.Less(tc.a, tc.b); got != tc.want {
			t.Errorf("Less(%d, %d) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestReset(t *testing.T) {
	ch := channel.New(channel.DefaultConfig())
	ch.Submit([]byte("a"), 0)
	ch.Submit([]byte("b"), 0)
	ch.Receive(1, []byte("x"))
	ch.Receive(5, []byte("y"))

	ch.Reset()

	if ch.Pending() != 0 {
		t.Errorf("Pending() = %d after Reset", ch.Pending())
	}
	if seq, _ := ch.Submit(nil, 0); seq != channel.DefaultInitialSeq {
		t.Errorf("first seq after Reset = %d", seq)
	}
	if deliver, _ := ch.Receive(1, []byte("again")); len(deliver) != 1 {
		t.Errorf("seq 1 not delivered after Reset")
	}
}
