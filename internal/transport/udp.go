package transport

import (
	"net"
	"sync/atomic"
	"time"

	pnet "github.com/pion/transport/v3"
	"github.com/pion/transport/v3/stdnet"

	"github.com/1ureka/nodetunnel/internal/config"
	"github.com/1ureka/nodetunnel/internal/util"
)

// UDPLink exchanges frames with a single relay address over an unconnected
// UDP socket. Datagrams from any other source are discarded.
type UDPLink struct {
	conn      pnet.UDPConn
	remote    *net.UDPAddr
	writeWait time.Duration
	inbox     *Inbox
	foreign   atomic.Int64
}

// DialUDP binds localAddr (empty means the wildcard address of the relay's
// family, ephemeral port) on n and targets relayAddr. A nil n uses the host
// network stack.
func DialUDP(n pnet.Net, localAddr, relayAddr string, cfg config.Transport) (*UDPLink, error) {
	if n == nil {
		std, err := stdnet.NewNet()
		if err != nil {
			return nil, &Error{Op: "init network", Err: err}
		}
		n = std
	}

	remote, err := n.ResolveUDPAddr("udp", relayAddr)
	if err != nil {
		return nil, &Error{Op: "resolve " + relayAddr, Err: err}
	}

	local := &net.UDPAddr{IP: net.IPv4zero}
	if remote.IP.To4() == nil {
		local.IP = net.IPv6unspecified
	}
	if localAddr != "" {
		if local, err = n.ResolveUDPAddr("udp", localAddr); err != nil {
			return nil, &Error{Op: "resolve " + localAddr, Err: err}
		}
	}

	conn, err := n.ListenUDP("udp", local)
	if err != nil {
		return nil, &Error{Op: "listen", Err: err}
	}

	l := &UDPLink{
		conn:      conn,
		remote:    remote,
		writeWait: cfg.WriteWait,
		inbox:     NewInbox(cfg.InboxSize),
	}
	go l.readLoop(cfg.MaxDatagram)

	util.LogDebug("udp link %s -> %s", conn.LocalAddr(), remote)
	return l, nil
}

func (l *UDPLink) readLoop(maxDatagram int) {
	defer l.inbox.Close()

	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := l.conn.ReadFrom(buf)
		if err != nil {
			return
		}

		if !sameUDPAddr(addr, l.remote) {
			l.foreign.Add(1)
			continue
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])
		if err := l.inbox.Push(frame); err == ErrLinkClosed {
			return
		}
	}
}

// Send writes one datagram to the relay.
func (l *UDPLink) Send(frame []byte) error {
	select {
	case <-l.inbox.Done():
		return ErrLinkClosed
	default:
	}

	_ = l.conn.SetWriteDeadline(time.Now().Add(l.writeWait))
	_, err := l.conn.WriteTo(frame, l.remote)
	return classifyWriteErr(err)
}

// Recv returns the next datagram received from the relay.
func (l *UDPLink) Recv() ([]byte, error) { return l.inbox.Recv() }

// Close releases the socket.
func (l *UDPLink) Close() error {
	l.inbox.Close()
	return l.conn.Close()
}

// LocalAddr returns the bound socket address.
func (l *UDPLink) LocalAddr() net.Addr { return l.conn.LocalAddr() }

// Foreign returns how many datagrams arrived from addresses other than the relay.
func (l *UDPLink) Foreign() int64 { return l.foreign.Load() }

func sameUDPAddr(a net.Addr, b *net.UDPAddr) bool {
	ua, ok := a.(*net.UDPAddr)
	return ok && ua.Port == b.Port && ua.IP.Equal(b.IP)
}

// UDPPeer is the relay's view of one client behind a shared listening
// socket. The relay's read loop hands it datagrams through Deliver.
type UDPPeer struct {
	conn      pnet.UDPConn
	remote    *net.UDPAddr
	writeWait time.Duration
	inbox     *Inbox
}

// NewUDPPeer creates a link to remote that writes through conn.
func NewUDPPeer(conn pnet.UDPConn, remote *net.UDPAddr, cfg config.Transport) *UDPPeer {
	return &UDPPeer{
		conn:      conn,
		remote:    remote,
		writeWait: cfg.WriteWait,
		inbox:     NewInbox(cfg.InboxSize),
	}
}

// Deliver queues a datagram received from the peer. A full inbox drops it.
func (p *UDPPeer) Deliver(frame []byte) error { return p.inbox.Push(frame) }

// Send writes one datagram to the peer.
func (p *UDPPeer) Send(frame []byte) error {
	select {
	case <-p.inbox.Done():
		return ErrLinkClosed
	default:
	}

	_ = p.conn.SetWriteDeadline(time.Now().Add(p.writeWait))
	_, err := p.conn.WriteTo(frame, p.remote)
	if err := classifyWriteErr(err); err != ErrLinkClosed {
		return err
	}
	// The shared socket is gone; so is this peer.
	p.inbox.Close()
	return ErrLinkClosed
}

// Recv returns the next datagram delivered for the peer.
func (p *UDPPeer) Recv() ([]byte, error) { return p.inbox.Recv() }

// Close detaches the peer. The shared socket stays open.
func (p *UDPPeer) Close() error {
	p.inbox.Close()
	return nil
}

// RemoteAddr returns the peer's address.
func (p *UDPPeer) RemoteAddr() *net.UDPAddr { return p.remote }
