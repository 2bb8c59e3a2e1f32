package session

import (
	"github.com/1ureka/nodetunnel/internal/room"
	"github.com/1ureka/nodetunnel/internal/transport"
)

// Event is something the host application should react to. Poll returns
// events in the order they happened.
type Event interface {
	event()
}

// Reasons carried by ForceDisconnected.
const (
	ReasonRelay      = "relay requested"
	ReasonTimeout    = "timeout"
	ReasonLinkClosed = "link closed"
)

type (
	// ConnectedToServer is emitted once the transport is usable.
	ConnectedToServer struct{}

	// AuthenticatedToServer is emitted when the relay accepts the app id.
	AuthenticatedToServer struct{}

	// RoomsListed carries the relay's answer to ListRooms.
	RoomsListed struct {
		Rooms []room.Summary
	}

	// RoomJoined is emitted after entering a room, following a PeerJoined
	// event for every member already present.
	RoomJoined struct {
		RoomID        string
		PeerID        int32
		ExistingPeers []int32
	}

	PeerJoined struct {
		PeerID int32
	}

	PeerLeft struct {
		PeerID int32
	}

	// DataReceived carries game data from another peer.
	DataReceived struct {
		From    int32
		Payload []byte
		Quality transport.Quality
	}

	// ForceDisconnected reports that the session ended without the host
	// asking for it.
	ForceDisconnected struct {
		Reason string
	}

	// RelayError carries an Error message from the relay. The session stays
	// open.
	RelayError struct {
		Code    int32
		Message string
	}
)

func (ConnectedToServer) event()     {}
func (AuthenticatedToServer) event() {}
func (RoomsListed) event()           {}
func (RoomJoined) event()            {}
func (PeerJoined) event()            {}
func (PeerLeft) event()              {}
func (DataReceived) event()          {}
func (ForceDisconnected) event()     {}
func (RelayError) event()            {}
