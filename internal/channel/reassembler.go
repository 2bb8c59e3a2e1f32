package channel

import "container/heap"

// segment is a payload waiting for its turn.
type segment struct {
	seq     uint32
	payload []byte
}

// Reassembler reorders out-of-order reliable payloads. It is not safe for
// concurrent use; Channel guards it.
type Reassembler struct {
	expected uint32
	buffered map[uint32]struct{}
	heap     segmentHeap
}

// NewReassembler creates a reassembler expecting start as its first sequence.
func NewReassembler(start uint32) *Reassembler {
	return &Reassembler{
		expected: start,
		buffered: make(map[uint32]struct{}),
	}
}

// Expected returns the next sequence number that will be delivered. Every
// sequence before it has already been delivered.
func (r *Reassembler) Expected() uint32 { return r.expected }

// Buffered returns how many payloads are waiting for a gap to fill.
func (r *Reassembler) Buffered() int { return r.heap.Len() }

// Seen reports whether seq was already delivered or is already buffered.
func (r *Reassembler) Seen(seq uint32) bool {
	if Less(seq, r.expected) {
		return true
	}
	_, ok := r.buffered[seq]
	return ok
}

// Feed accepts a payload and returns every payload that can now be delivered
// in order. Callers must filter duplicates with Seen first.
func (r *Reassembler) Feed(seq uint32, payload []byte) [][]byte {
	if seq != r.expected {
		heap.Push(&r.heap, segment{seq: seq, payload: payload})
		r.buffered[seq] = struct{}{}
		return nil
	}

	result := [][]byte{payload}
	r.expected++

	for r.heap.Len() > 0 && r.heap[0].seq == r.expected {
		s := heap.Pop(&r.heap).(segment)
		delete(r.buffered, s.seq)
		result = append(result, s.payload)
		r.expected++
	}

	return result
}

// ---------------------------------------------------------------------------
// segmentHeap is a min-heap in wraparound sequence order.
// ---------------------------------------------------------------------------

type segmentHeap []segment

func (h segmentHeap) Len() int            { return len(h) }
func (h segmentHeap) Less(i, j int) bool  { return Less(h[i].seq, h[j].seq) }
func (h segmentHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *segmentHeap) Push(x interface{}) { *h = append(*h, x.(segment)) }

func (h *segmentHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = segment{} // avoid memory leak
	*h = old[:n-1]
	return item
}
