package transport

import "sync"

// PipeEnd is one side of an in-memory link created by Pipe.
type PipeEnd struct {
	inbox *Inbox
	peer  *PipeEnd

	mu   sync.Mutex
	drop func(frame []byte) bool
}

// Pipe returns two connected link ends, each buffering up to capacity
// frames. A full buffer makes Send return ErrWouldBlock. Closing either end
// closes both.
func Pipe(capacity int) (*PipeEnd, *PipeEnd) {
	a := &PipeEnd{inbox: NewInbox(capacity)}
	b := &PipeEnd{inbox: NewInbox(capacity)}
	a.peer, b.peer = b, a
	return a, b
}

// SetDropFilter installs fn to decide which frames sent from this end are
// lost in transit. A nil fn delivers everything.
func (p *PipeEnd) SetDropFilter(fn func(frame []byte) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drop = fn
}

// Send delivers a copy of frame to the other end unless the drop filter
// discards it.
func (p *PipeEnd) Send(frame []byte) error {
	select {
	case <-p.inbox.Done():
		return ErrLinkClosed
	default:
	}

	p.mu.Lock()
	drop := p.drop
	p.mu.Unlock()
	if drop != nil && drop(frame) {
		return nil
	}

	buf := make([]byte, len(frame))
	copy(buf, frame)
	return p.peer.inbox.Push(buf)
}

// Recv returns the next frame sent by the other end.
func (p *PipeEnd) Recv() ([]byte, error) { return p.inbox.Recv() }

// Close closes both ends.
func (p *PipeEnd) Close() error {
	p.inbox.Close()
	p.peer.inbox.Close()
	return nil
}
