// Package session implements the client side of the relay protocol: it
// authenticates, creates or joins rooms, exchanges game data with other
// peers, and reports everything that happens as a queue of events.
//
// A Client never blocks and runs no goroutines of its own. The host calls
// Poll on every frame with the elapsed time and handles the returned events.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	pnet "github.com/pion/transport/v3"

	"github.com/1ureka/nodetunnel/internal/config"
	"github.com/1ureka/nodetunnel/internal/protocol"
	"github.com/1ureka/nodetunnel/internal/room"
	"github.com/1ureka/nodetunnel/internal/transport"
	"github.com/1ureka/nodetunnel/internal/util"
)

// Option customizes a Client.
type Option func(*Client)

// WithNet makes Connect open UDP sockets on n instead of the host stack.
func WithNet(n pnet.Net) Option {
	return func(c *Client) { c.net = n }
}

// Client is one connection to a relay. It is safe for concurrent use.
type Client struct {
	cfg config.Client
	net pnet.Net

	mu       sync.Mutex
	tr       *transport.Transport
	state    State
	appID    string
	authSent bool
	dir      room.Directory
	events   []Event
}

// New creates a disconnected client.
func New(cfg config.Client, opts ...Option) *Client {
	if cfg.Transport == (config.Transport{}) {
		cfg.Transport = config.DefaultTransport()
	}
	c := &Client{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// Connect opens a transport to relayAddr. Socket setup failures are returned
// as *transport.Error; nothing is retried.
func (c *Client) Connect(ctx context.Context, relayAddr, appID string) error {
	c.mu.Lock()
	if c.state != Disconnected {
		defer c.mu.Unlock()
		return &StateError{Op: "connect", State: c.state}
	}
	c.mu.Unlock()

	tr, err := transport.Dial(ctx, c.cfg.Network, relayAddr, c.cfg.Transport, c.net)
	if err != nil {
		return err
	}
	if err := c.Attach(tr, appID); err != nil {
		_ = tr.Close()
		return err
	}
	util.LogInfo("connecting to relay %s as %q", relayAddr, appID)
	return nil
}

// Attach starts a session over an already established transport.
func (c *Client) Attach(tr *transport.Transport, appID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Disconnected {
		return &StateError{Op: "attach", State: c.state}
	}

	c.tr = tr
	c.appID = appID
	c.authSent = false
	c.dir.Reset()
	c.events = nil
	c.state = Connecting
	util.Stats.AddSession()
	return nil
}

// Disconnect leaves the relay. The relay is told on a best-effort basis and
// all in-flight state is discarded. No event is emitted.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Disconnected {
		return nil
	}

	_ = c.tr.Send(protocol.Encode(protocol.ForceDisconnect{}), transport.Unreliable)
	err := c.close()
	util.LogInfo("disconnected from relay")
	return err
}

// close drops the transport and every per-session record. Caller holds mu.
func (c *Client) close() error {
	var err error
	if c.tr != nil {
		err = c.tr.Close()
	}
	c.state = Disconnected
	c.authSent = false
	c.dir.Reset()
	util.Stats.RemoveSession()
	return err
}

// terminate ends the session on the relay's or the network's behalf. Caller
// holds mu.
func (c *Client) terminate(reason string) {
	if c.state == Disconnected {
		return
	}
	_ = c.close()
	c.emit(ForceDisconnected{Reason: reason})
	util.LogWarning("session ended: %s", reason)
}

// ---------------------------------------------------------------------------
// Polling
// ---------------------------------------------------------------------------

// Poll advances the session by delta and returns the events that occurred
// since the previous call.
func (c *Client) Poll(delta time.Duration) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Connecting {
		c.state = Connected
		c.emit(ConnectedToServer{})
		util.LogDebug("transport ready")
		if c.cfg.AutoAuthenticate {
			if err := c.authenticate(); err != nil {
				util.LogWarning("automatic authentication failed: %v", err)
			}
		}
	}

	if c.state != Disconnected {
		packets, err := c.tr.Poll(delta)
		for _, p := range packets {
			if c.state == Disconnected {
				break
			}
			c.handle(p)
		}
		switch {
		case errors.Is(err, transport.ErrTimedOut):
			c.terminate(ReasonTimeout)
		case err != nil:
			c.terminate(ReasonLinkClosed)
		}
	}

	events := c.events
	c.events = nil
	return events
}

func (c *Client) emit(e Event) { c.events = append(c.events, e) }

// fault records a message that is well formed but not allowed now.
func (c *Client) fault(m protocol.Message) {
	util.Stats.AddProtocolFault()
	util.LogWarning("dropped %s received while %s", m.Tag(), c.state)
}

// handle applies one inbound payload. Caller holds mu.
func (c *Client) handle(p transport.Packet) {
	msg, err := protocol.Decode(p.Payload)
	if err != nil {
		util.Stats.AddParseFault()
		util.LogWarning("dropped malformed message: %v", err)
		return
	}

	switch m := msg.(type) {
	case protocol.ClientAuthenticated:
		if c.state != Connected || !c.authSent {
			c.fault(m)
			return
		}
		c.state = Authenticated
		c.emit(AuthenticatedToServer{})
		util.LogInfo("authenticated as %q", c.appID)

	case protocol.RoomsInfo:
		if !c.state.authenticated() {
			c.fault(m)
			return
		}
		rooms := make([]room.Summary, len(m.Rooms))
		for i, r := range m.Rooms {
			rooms[i] = room.Summary{RoomID: r.RoomID, Metadata: r.Metadata}
		}
		c.dir.SetRooms(rooms)
		c.emit(RoomsListed{Rooms: c.dir.Rooms()})

	case protocol.ConnectedToRoom:
		if c.state != AwaitingRoom {
			c.fault(m)
			return
		}
		c.enterRoom(m)

	case protocol.PeerJoinedRoom:
		if c.state != InRoom {
			c.fault(m)
			return
		}
		if c.dir.Add(m.PeerID) && c.surfaces(m.PeerID) {
			c.emit(PeerJoined{PeerID: m.PeerID})
		}
		util.LogDebug("peer %d joined room %s", m.PeerID, c.dir.RoomID())

	case protocol.PeerLeftRoom:
		if c.state != InRoom {
			c.fault(m)
			return
		}
		if c.dir.Remove(m.PeerID) && c.surfaces(m.PeerID) {
			c.emit(PeerLeft{PeerID: m.PeerID})
		}
		util.LogDebug("peer %d left room %s", m.PeerID, c.dir.RoomID())

	case protocol.GameData:
		if c.state != InRoom {
			c.fault(m)
			return
		}
		c.emit(DataReceived{From: m.PeerID, Payload: m.Payload, Quality: p.Quality})

	case protocol.ForceDisconnect:
		c.terminate(ReasonRelay)

	case protocol.Error:
		c.emit(RelayError{Code: m.Code, Message: m.Message})
		util.LogWarning("relay error %d: %s", m.Code, m.Message)
		if c.state == AwaitingRoom {
			c.state = Authenticated
		}

	default:
		c.fault(m)
	}
}

// enterRoom applies ConnectedToRoom. Existing members are announced before
// RoomJoined, as if each had just arrived. Caller holds mu.
func (c *Client) enterRoom(m protocol.ConnectedToRoom) {
	c.dir.Assign(m.RoomID, m.PeerID)
	for _, id := range m.ExistingPeers {
		if c.dir.Add(id) && c.surfaces(id) {
			c.emit(PeerJoined{PeerID: id})
		}
	}

	c.state = InRoom
	c.emit(RoomJoined{RoomID: m.RoomID, PeerID: m.PeerID, ExistingPeers: c.dir.Peers()})
	util.LogInfo("joined room %s as peer %d", m.RoomID, m.PeerID)

	if err := c.send(protocol.PeerReady{}, transport.Reliable); err != nil {
		util.LogWarning("failed to announce readiness: %v", err)
	}
}

// surfaces reports whether membership changes of peer id are reported to the
// host. The authority hears about everyone, everyone hears about the
// authority, and mesh rooms hear about everyone. Caller holds mu.
func (c *Client) surfaces(id int32) bool {
	return c.cfg.Mesh || c.dir.IsAuthority() || room.IsAuthority(id)
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// send encodes and transmits m. Caller holds mu.
func (c *Client) send(m protocol.Message, q transport.Quality) error {
	err := c.tr.Send(protocol.Encode(m), q)
	if errors.Is(err, transport.ErrLinkClosed) {
		c.terminate(ReasonLinkClosed)
	}
	if err != nil {
		return fmt.Errorf("send %s: %w", m.Tag(), err)
	}
	return nil
}

// Authenticate sends the app id and protocol version. It is only valid once,
// while Connected; with AutoAuthenticate the client does this by itself.
func (c *Client) Authenticate() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticate()
}

func (c *Client) authenticate() error {
	if c.state != Connected || c.authSent {
		return &StateError{Op: "authenticate", State: c.state}
	}
	if err := c.send(protocol.Authenticate{AppID: c.appID, ProtocolVersion: c.cfg.ProtocolVersion}, transport.Reliable); err != nil {
		return err
	}
	c.authSent = true
	return nil
}

// HostRoom asks the relay for a new room with this client as its authority.
func (c *Client) HostRoom(public bool, metadata string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Authenticated {
		return &StateError{Op: "host a room", State: c.state}
	}
	if err := c.send(protocol.CreateRoom{Public: public, Metadata: metadata}, transport.Reliable); err != nil {
		return err
	}
	c.state = AwaitingRoom
	return nil
}

// JoinRoom asks the relay to enter an existing room.
func (c *Client) JoinRoom(roomID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Authenticated {
		return &StateError{Op: "join a room", State: c.state}
	}
	if roomID == "" {
		return ErrEmptyRoomID
	}
	if err := c.send(protocol.JoinRoom{RoomID: roomID}, transport.Reliable); err != nil {
		return err
	}
	c.state = AwaitingRoom
	return nil
}

// ListRooms asks the relay for its public rooms. The answer arrives as a
// RoomsListed event.
func (c *Client) ListRooms() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.authenticated() {
		return &StateError{Op: "list rooms", State: c.state}
	}
	return c.send(protocol.ListRooms{}, transport.Reliable)
}

// UpdateRoom replaces the current room's metadata. Only the authority may.
func (c *Client) UpdateRoom(metadata string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != InRoom {
		return &StateError{Op: "update a room", State: c.state}
	}
	if !c.dir.IsAuthority() {
		return ErrNotAuthority
	}
	return c.send(protocol.UpdateRoom{RoomID: c.dir.RoomID(), Metadata: metadata}, transport.Reliable)
}

// SendGameData sends payload to target through the relay. A positive target
// is one peer, 0 is every other member, and -id is everyone except id.
func (c *Client) SendGameData(target int32, payload []byte, q transport.Quality) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != InRoom {
		return &StateError{Op: "send game data", State: c.state}
	}
	return c.send(protocol.GameData{PeerID: target, Payload: payload}, q)
}

// ---------------------------------------------------------------------------
// Getters
// ---------------------------------------------------------------------------

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PeerID returns the id the relay assigned in the current room, or 0.
func (c *Client) PeerID() int32 { return c.dir.LocalID() }

func (c *Client) RoomID() string { return c.dir.RoomID() }

// Peers returns the other members of the current room.
func (c *Client) Peers() []int32 { return c.dir.Peers() }

// Rooms returns the most recent room listing.
func (c *Client) Rooms() []room.Summary { return c.dir.Rooms() }

func (c *Client) IsAuthority() bool { return c.dir.IsAuthority() }
