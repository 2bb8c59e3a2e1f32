package channel

import "sync/atomic"

// SeqGen is an atomic sequence number generator for one stream direction.
// Numbers wrap modulo 2^32.
type SeqGen struct {
	val atomic.Uint32
}

// NewSeqGen creates a generator whose first Next() returns start.
func NewSeqGen(start uint32) *SeqGen {
	s := &SeqGen{}
	s.val.Store(start - 1)
	return s
}

// Next returns the next sequence number.
func (s *SeqGen) Next() uint32 {
	return s.val.Add(1)
}

// Less reports whether a precedes b in wraparound order. The distance
// between the two must stay below 2^31 for the answer to be meaningful.
func Less(a, b uint32) bool {
	return int32(a-b) < 0
}

// Distance returns how far b is ahead of a, modulo 2^32.
func Distance(a, b uint32) uint32 {
	return b - a
}
