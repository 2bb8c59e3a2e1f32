// Package relay implements the rendezvous server. Clients reach it over UDP
// or WebSocket, authenticate with an app id, gather in rooms, and exchange
// game data that the relay forwards between room members.
//
// All protocol state is owned by a single loop that polls every client's
// transport on a fixed tick, mirroring how clients drive their sessions.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	pnet "github.com/pion/transport/v3"
	"github.com/pion/transport/v3/stdnet"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/1ureka/nodetunnel/internal/config"
	"github.com/1ureka/nodetunnel/internal/protocol"
	"github.com/1ureka/nodetunnel/internal/room"
	"github.com/1ureka/nodetunnel/internal/transport"
	"github.com/1ureka/nodetunnel/internal/util"
)

// TickInterval is how often the relay polls its clients.
const TickInterval = 10 * time.Millisecond

// Option customizes a Server.
type Option func(*Server)

// WithNet makes the server listen on n instead of the host network stack.
func WithNet(n pnet.Net) Option {
	return func(s *Server) { s.net = n }
}

// client is one connected endpoint. Fields other than key and tr are only
// touched by the tick loop.
type client struct {
	key  string
	tr   *transport.Transport
	udp  *transport.UDPPeer // nil for WebSocket clients
	addr string

	appID         string
	authenticated bool

	room   *Room
	peerID int32
	ready  bool
}

// Server is the relay.
type Server struct {
	cfg         config.Relay
	constraints *semver.Constraints
	net         pnet.Net

	conn pnet.UDPConn

	mu      sync.Mutex
	clients map[string]*client
	rooms   map[string]*Room
	wsSeq   int

	registry *prometheus.Registry
}

// New validates cfg and creates a server that is not yet listening.
func New(cfg config.Relay, opts ...Option) (*Server, error) {
	if cfg.Transport == (config.Transport{}) {
		cfg.Transport = config.DefaultTransport()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid relay config: %w", err)
	}
	constraints, err := cfg.Constraints()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:         cfg,
		constraints: constraints,
		clients:     make(map[string]*client),
		rooms:       make(map[string]*Room),
		registry:    prometheus.NewRegistry(),
	}
	util.RegisterStats(s.registry)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Listen binds the UDP socket.
func (s *Server) Listen() error {
	if s.net == nil {
		n, err := stdnet.NewNet()
		if err != nil {
			return &transport.Error{Op: "init network", Err: err}
		}
		s.net = n
	}

	addr, err := s.net.ResolveUDPAddr("udp", s.cfg.ListenAddr)
	if err != nil {
		return &transport.Error{Op: "resolve " + s.cfg.ListenAddr, Err: err}
	}
	conn, err := s.net.ListenUDP("udp", addr)
	if err != nil {
		return &transport.Error{Op: "listen", Err: err}
	}
	s.conn = conn
	util.LogInfo("relay listening on udp %s", conn.LocalAddr())
	return nil
}

// Addr returns the bound UDP address.
func (s *Server) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Serve runs the read loop and the tick loop until ctx is cancelled. Listen
// must have succeeded.
func (s *Server) Serve(ctx context.Context) error {
	if s.conn == nil {
		return errors.New("relay: Serve called before Listen")
	}

	go s.readLoop()

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case now := <-ticker.C:
			s.tick(now.Sub(last))
			last = now
		case <-ctx.Done():
			s.shutdown()
			return s.conn.Close()
		}
	}
}

// readLoop hands every datagram to the client it came from, creating clients
// for new addresses.
func (s *Server) readLoop() {
	buf := make([]byte, s.cfg.Transport.MaxDatagram)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				util.LogDebug("relay read loop stopped: %v", err)
			}
			return
		}
		ua, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])

		s.mu.Lock()
		c := s.clients["udp:"+ua.String()]
		if c == nil {
			c = s.addUDPClient(ua)
		}
		s.mu.Unlock()

		if err := c.udp.Deliver(frame); err != nil {
			util.LogDebug("dropped datagram from %s: %v", ua, err)
		}
	}
}

// addUDPClient registers a new UDP endpoint. Caller holds mu.
func (s *Server) addUDPClient(addr *net.UDPAddr) *client {
	peer := transport.NewUDPPeer(s.conn, addr, s.cfg.Transport)
	c := &client{
		key:  "udp:" + addr.String(),
		tr:   transport.New(peer, s.cfg.Transport),
		udp:  peer,
		addr: addr.String(),
	}
	s.clients[c.key] = c
	util.Stats.AddSession()
	util.LogDebug("new client %s", c.addr)
	return c
}

// addLinkClient registers a client reached through an already established
// link, such as a WebSocket.
func (s *Server) addLinkClient(link transport.Link, remote string) *client {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.wsSeq++
	c := &client{
		key:  fmt.Sprintf("ws:%s#%d", remote, s.wsSeq),
		tr:   transport.New(link, s.cfg.Transport),
		addr: remote,
	}
	s.clients[c.key] = c
	util.Stats.AddSession()
	util.LogDebug("new websocket client %s", remote)
	return c
}

// tick polls every client once.
func (s *Server) tick(delta time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.clients {
		if s.clients[c.key] != c {
			continue // removed earlier in this tick
		}
		packets, err := c.tr.Poll(delta)
		for _, p := range packets {
			s.handle(c, p)
			if s.clients[c.key] != c {
				break
			}
		}
		if err != nil && s.clients[c.key] == c {
			s.remove(c, err.Error())
		}
	}
}

// shutdown tells every client the relay is going away.
func (s *Server) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.clients {
		s.send(c, protocol.ForceDisconnect{}, transport.Unreliable)
		s.remove(c, "relay shutting down")
	}
}

// ---------------------------------------------------------------------------
// Message handling (tick loop only, mu held)
// ---------------------------------------------------------------------------

func (s *Server) send(c *client, m protocol.Message, q transport.Quality) {
	if err := c.tr.Send(protocol.Encode(m), q); err != nil {
		util.LogDebug("send %s to %s: %v", m.Tag(), c.addr, err)
	}
}

func (s *Server) reject(c *client, code int32, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	util.LogDebug("rejecting %s: %s", c.addr, msg)
	s.send(c, protocol.Error{Code: code, Message: msg}, transport.Reliable)
}

func (s *Server) handle(c *client, p transport.Packet) {
	msg, err := protocol.Decode(p.Payload)
	if err != nil {
		util.Stats.AddParseFault()
		util.LogDebug("malformed message from %s: %v", c.addr, err)
		return
	}

	if !c.authenticated {
		switch m := msg.(type) {
		case protocol.Authenticate:
			s.authenticate(c, m)
		case protocol.ForceDisconnect:
			s.remove(c, "left")
		default:
			util.Stats.AddProtocolFault()
			s.reject(c, protocol.CodeNotAuthenticated, "not authenticated")
		}
		return
	}

	switch m := msg.(type) {
	case protocol.CreateRoom:
		s.createRoom(c, m)
	case protocol.JoinRoom:
		s.joinRoom(c, m)
	case protocol.PeerReady:
		s.peerReady(c)
	case protocol.UpdateRoom:
		s.updateRoom(c, m)
	case protocol.ListRooms:
		s.send(c, protocol.RoomsInfo{Rooms: s.publicRooms(c.appID)}, transport.Reliable)
	case protocol.GameData:
		s.forward(c, m, p.Quality)
	case protocol.ForceDisconnect:
		s.remove(c, "left")
	default:
		util.Stats.AddProtocolFault()
		s.reject(c, protocol.CodeBadRequest, "unexpected %s", msg.Tag())
	}
}

func (s *Server) authenticate(c *client, m protocol.Authenticate) {
	if m.AppID == "" {
		s.reject(c, protocol.CodeBadRequest, "empty app id")
		return
	}
	if err := s.checkVersion(m.ProtocolVersion); err != nil {
		s.reject(c, protocol.CodeVersionMismatch, "%v", err)
		s.send(c, protocol.ForceDisconnect{}, transport.Reliable)
		return
	}

	c.appID = m.AppID
	c.authenticated = true
	s.send(c, protocol.ClientAuthenticated{}, transport.Reliable)
	util.LogInfo("%s authenticated for %q (protocol %q)", c.addr, m.AppID, m.ProtocolVersion)
}

func (s *Server) checkVersion(v string) error {
	if v == "" {
		if s.cfg.RequireVersion {
			return errors.New("protocol version required")
		}
		return nil
	}
	if s.constraints == nil {
		return nil
	}
	ver, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("invalid protocol version %q", v)
	}
	if !s.constraints.Check(ver) {
		return fmt.Errorf("protocol version %s does not satisfy %s", ver, s.constraints)
	}
	return nil
}

func (s *Server) createRoom(c *client, m protocol.CreateRoom) {
	if c.room != nil {
		s.reject(c, protocol.CodeAlreadyInRoom, "already in room %s", c.room.ID)
		return
	}
	if len(s.rooms) >= s.cfg.MaxRooms {
		s.reject(c, protocol.CodeBadRequest, "room limit reached")
		return
	}

	id := newRoomID()
	for s.rooms[id] != nil {
		id = newRoomID()
	}
	r := newRoom(id, c.appID, m.Public, m.Metadata)
	s.rooms[id] = r
	util.Stats.Rooms.Add(1)

	peerID := r.add(c)
	s.send(c, protocol.ConnectedToRoom{RoomID: id, PeerID: peerID}, transport.Reliable)
	util.LogInfo("%s created room %s (public=%v)", c.addr, id, m.Public)
}

func (s *Server) joinRoom(c *client, m protocol.JoinRoom) {
	if c.room != nil {
		s.reject(c, protocol.CodeAlreadyInRoom, "already in room %s", c.room.ID)
		return
	}
	r := s.rooms[strings.ToUpper(m.RoomID)]
	if r == nil || r.AppID != c.appID {
		s.reject(c, protocol.CodeRoomNotFound, "room %s not found", m.RoomID)
		return
	}
	if len(r.members) >= s.cfg.MaxPeersPerRoom {
		s.reject(c, protocol.CodeRoomFull, "room %s is full", r.ID)
		return
	}

	peerID := r.add(c)
	s.send(c, protocol.ConnectedToRoom{
		RoomID:        r.ID,
		PeerID:        peerID,
		ExistingPeers: r.readyPeers(peerID),
	}, transport.Reliable)
	util.LogInfo("%s joined room %s as peer %d", c.addr, r.ID, peerID)
}

// peerReady announces c to the rest of its room.
func (s *Server) peerReady(c *client) {
	if c.room == nil {
		util.Stats.AddProtocolFault()
		s.reject(c, protocol.CodeBadRequest, "not in a room")
		return
	}
	if c.ready {
		return
	}
	c.ready = true
	for _, m := range c.room.targets(c.peerID, 0) {
		s.send(m, protocol.PeerJoinedRoom{PeerID: c.peerID}, transport.Reliable)
	}
}

func (s *Server) updateRoom(c *client, m protocol.UpdateRoom) {
	switch {
	case c.room == nil || !strings.EqualFold(m.RoomID, c.room.ID):
		s.reject(c, protocol.CodeBadRequest, "not in room %s", m.RoomID)
	case !room.IsAuthority(c.peerID):
		s.reject(c, protocol.CodeNotAuthority, "only the room authority may update room %s", c.room.ID)
	default:
		c.room.Metadata = m.Metadata
		util.LogDebug("room %s metadata updated", c.room.ID)
	}
}

func (s *Server) forward(c *client, m protocol.GameData, q transport.Quality) {
	if c.room == nil || !c.ready {
		util.Stats.AddProtocolFault()
		return
	}
	out := protocol.GameData{PeerID: c.peerID, Payload: m.Payload}
	for _, dst := range c.room.targets(c.peerID, m.PeerID) {
		s.send(dst, out, q)
	}
}

// publicRooms lists the public rooms of an app in id order.
func (s *Server) publicRooms(appID string) []protocol.RoomSummary {
	var out []protocol.RoomSummary
	for _, r := range s.rooms {
		if r.Public && r.AppID == appID {
			out = append(out, protocol.RoomSummary{RoomID: r.ID, Metadata: r.Metadata})
		}
	}
	slices.SortFunc(out, func(a, b protocol.RoomSummary) int { return strings.Compare(a.RoomID, b.RoomID) })
	return out
}

// remove forgets c. When the authority leaves, its room closes and every
// remaining member is disconnected; otherwise the others are told c left.
func (s *Server) remove(c *client, reason string) {
	if r := c.room; r != nil {
		wasAuthority := room.IsAuthority(c.peerID)
		peerID := c.peerID
		r.remove(c)

		if wasAuthority {
			for _, m := range r.members {
				r.remove(m)
				s.send(m, protocol.ForceDisconnect{}, transport.Reliable)
			}
			delete(s.rooms, r.ID)
			util.Stats.Rooms.Add(-1)
			util.LogInfo("room %s closed", r.ID)
		} else {
			for _, m := range r.members {
				s.send(m, protocol.PeerLeftRoom{PeerID: peerID}, transport.Reliable)
			}
		}
	}

	_ = c.tr.Close()
	delete(s.clients, c.key)
	util.Stats.RemoveSession()
	util.LogDebug("client %s removed: %s", c.addr, reason)
}

// ---------------------------------------------------------------------------
// Introspection
// ---------------------------------------------------------------------------

// Rooms returns every open room in id order.
func (s *Server) Rooms() []RoomInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]RoomInfo, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r.info())
	}
	slices.SortFunc(out, func(a, b RoomInfo) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Clients returns the number of connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
