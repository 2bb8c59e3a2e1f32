package transport

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/nodetunnel/internal/config"
	"github.com/1ureka/nodetunnel/internal/util"
)

const wsWriteWait = 1 * time.Second

// WSLink carries one frame per binary WebSocket message. It is used when UDP
// cannot reach the relay, and by the relay for its /ws endpoint.
//
// Writes go through a bounded outbox drained by a single writer goroutine,
// so Send never waits on the network.
type WSLink struct {
	conn      *websocket.Conn
	inbox     *Inbox
	outbox    chan []byte
	closeOnce sync.Once
}

// DialWebSocket connects to the relay's WebSocket endpoint, e.g.
// "ws://relay.example:8080/ws".
func DialWebSocket(ctx context.Context, url string, cfg config.Transport) (*WSLink, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &Error{Op: "dial " + url, Err: err}
	}
	return NewWSLink(conn, cfg), nil
}

// NewWSLink wraps an established connection and starts its reader and
// writer. Both queues hold up to cfg.InboxSize frames.
func NewWSLink(conn *websocket.Conn, cfg config.Transport) *WSLink {
	conn.SetReadLimit(int64(cfg.MaxDatagram))

	l := &WSLink{
		conn:   conn,
		inbox:  NewInbox(cfg.InboxSize),
		outbox: make(chan []byte, cfg.InboxSize),
	}
	go l.readLoop()
	go l.writeLoop()
	return l
}

func (l *WSLink) readLoop() {
	defer l.inbox.Close()

	for {
		msgType, msg, err := l.conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		if err := l.inbox.Push(msg); err == ErrLinkClosed {
			return
		}
	}
}

// writeLoop is the only goroutine writing data messages. A failed or stalled
// write closes the link.
func (l *WSLink) writeLoop() {
	for {
		select {
		case frame := <-l.outbox:
			_ = l.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := l.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				util.LogDebug("websocket write to %s failed: %v", l.conn.RemoteAddr(), err)
				l.inbox.Close()
				_ = l.conn.Close()
				return
			}
		case <-l.inbox.Done():
			return
		}
	}
}

// Send queues one frame for the writer. It returns ErrWouldBlock while the
// outbox is full and ErrLinkClosed once the connection is gone.
func (l *WSLink) Send(frame []byte) error {
	select {
	case <-l.inbox.Done():
		return ErrLinkClosed
	default:
	}

	select {
	case l.outbox <- append([]byte(nil), frame...):
		return nil
	default:
		return ErrWouldBlock
	}
}

// Recv returns the next received frame.
func (l *WSLink) Recv() ([]byte, error) { return l.inbox.Recv() }

// Done is closed once the connection is gone.
func (l *WSLink) Done() <-chan struct{} { return l.inbox.Done() }

// Close sends a close message and releases the connection. Frames still in
// the outbox are dropped.
func (l *WSLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.inbox.Close()
		_ = l.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
		err = l.conn.Close()
	})
	return err
}
