package transport

import (
	"errors"
	"net"
	"sync"
	"syscall"
)

var (
	// ErrWouldBlock reports that a link cannot accept a frame right now, or
	// that it has no frame to return. It is never fatal.
	ErrWouldBlock = errors.New("transport: would block")

	// ErrLinkClosed reports that the link is gone for good.
	ErrLinkClosed = errors.New("transport: link closed")

	// ErrTimedOut reports that nothing arrived from the remote end for longer
	// than the configured timeout.
	ErrTimedOut = errors.New("transport: timed out")
)

// Link carries whole frames between two endpoints. Every method is
// non-blocking.
type Link interface {
	// Send queues one frame. It returns ErrWouldBlock when the frame cannot
	// be accepted now and ErrLinkClosed once the link is gone. Other errors
	// mean the frame was lost.
	Send(frame []byte) error

	// Recv returns the next received frame, ErrWouldBlock when none is
	// waiting, or ErrLinkClosed once the link is gone and drained.
	Recv() ([]byte, error)

	Close() error
}

// Inbox is a bounded queue of received frames, fed by a reader goroutine and
// drained without blocking.
type Inbox struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

// NewInbox creates an inbox holding up to size frames.
func NewInbox(size int) *Inbox {
	return &Inbox{
		ch:   make(chan []byte, size),
		done: make(chan struct{}),
	}
}

// Push adds a frame. It returns ErrWouldBlock when the inbox is full and
// ErrLinkClosed after Close.
func (in *Inbox) Push(frame []byte) error {
	select {
	case <-in.done:
		return ErrLinkClosed
	default:
	}

	select {
	case in.ch <- frame:
		return nil
	default:
		return ErrWouldBlock
	}
}

// Recv returns the oldest frame. Frames pushed before Close are still
// returned before ErrLinkClosed.
func (in *Inbox) Recv() ([]byte, error) {
	select {
	case frame := <-in.ch:
		return frame, nil
	default:
	}

	select {
	case <-in.done:
		return nil, ErrLinkClosed
	default:
		return nil, ErrWouldBlock
	}
}

// Close marks the inbox closed. It is safe to call more than once.
func (in *Inbox) Close() {
	in.once.Do(func() { close(in.done) })
}

// Done is closed once the inbox is closed.
func (in *Inbox) Done() <-chan struct{} { return in.done }

// classifyWriteErr maps socket write failures onto the Link error contract.
func classifyWriteErr(err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrWouldBlock
	}
	if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ENOBUFS) {
		return ErrWouldBlock
	}
	if errors.Is(err, net.ErrClosed) {
		return ErrLinkClosed
	}
	return err
}
